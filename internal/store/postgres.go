package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const sessionColumns = `id, estado, id_guia_version_actual, tema, owner_label, generacion_iniciada_en, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (ClaseSession, error) {
	var item ClaseSession
	var versionID sql.NullString
	var startedAt sql.NullTime
	err := row.Scan(&item.ID, &item.Estado, &versionID, &item.Tema, &item.Owner, &startedAt, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return ClaseSession{}, err
	}
	if versionID.Valid {
		item.IDGuiaVersionActual = &versionID.String
	}
	if startedAt.Valid {
		at := startedAt.Time
		item.GeneracionIniciadaEn = &at
	}
	return item, nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, id, tema, owner string) (ClaseSession, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO clase_sessions (id, tema, owner_label)
		VALUES ($1, $2, $3)
		RETURNING `+sessionColumns, id, tema, owner)
	item, err := scanSession(row)
	if err != nil {
		return ClaseSession{}, fmt.Errorf("insert clase session: %w", err)
	}
	return item, nil
}

// EnsureSession returns the session with id, creating it in borrador if
// it does not exist. A non-empty tema replaces the stored one.
func (s *PostgresStore) EnsureSession(ctx context.Context, id, tema, owner string) (ClaseSession, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO clase_sessions (id, tema, owner_label)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			tema = CASE WHEN EXCLUDED.tema <> '' THEN EXCLUDED.tema ELSE clase_sessions.tema END
		RETURNING `+sessionColumns, id, tema, owner)
	item, err := scanSession(row)
	if err != nil {
		return ClaseSession{}, fmt.Errorf("ensure clase session: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (ClaseSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM clase_sessions WHERE id=$1`, id)
	item, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ClaseSession{}, ErrNotFound
	}
	if err != nil {
		return ClaseSession{}, fmt.Errorf("read clase session: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, limit int) ([]ClaseSession, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM clase_sessions ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list clase sessions: %w", err)
	}
	defer rows.Close()

	items := make([]ClaseSession, 0)
	for rows.Next() {
		item, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan clase session: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdateSessionState sets estado and, when versionID is non-nil, the
// current version. Entering generando_clase stamps generacion_iniciada_en.
func (s *PostgresStore) UpdateSessionState(ctx context.Context, id string, estado Estado, versionID *string) error {
	if !estado.Valid() {
		return fmt.Errorf("update clase session state: unknown estado %q", estado)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE clase_sessions
		SET estado = $2,
			id_guia_version_actual = CASE WHEN $3::boolean THEN $4 ELSE id_guia_version_actual END,
			generacion_iniciada_en = CASE WHEN $2 = 'generando_clase' THEN NOW() ELSE generacion_iniciada_en END,
			updated_at = NOW()
		WHERE id = $1
	`, id, string(estado), versionID != nil, nullable(versionID))
	if err != nil {
		return fmt.Errorf("update clase session state: %w", err)
	}
	return expectOneRow(result)
}

func (s *PostgresStore) TouchSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE clase_sessions SET updated_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("touch clase session: %w", err)
	}
	return nil
}

const versionColumns = `id, kind, clase_session_id, contenido, objetivos_texto, estructura, revision, commit_hash, created_by, created_at, updated_at`

func scanVersion(row interface{ Scan(...any) error }) (Record, error) {
	var item Record
	var content, outline []byte
	err := row.Scan(&item.ID, &item.Kind, &item.SessionID, &content, &item.ObjetivosTexto, &outline,
		&item.Revision, &item.CommitHash, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	item.Content = json.RawMessage(content)
	item.Estructura = json.RawMessage(outline)
	return item, nil
}

func (s *PostgresStore) InsertVersion(ctx context.Context, item Record) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO guia_versions (id, kind, clase_session_id, contenido, objetivos_texto, estructura, created_by)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6::jsonb, $7)
		RETURNING `+versionColumns,
		item.ID, string(item.Kind), item.SessionID, string(item.Content), item.ObjetivosTexto, string(item.Estructura), item.CreatedBy)
	created, err := scanVersion(row)
	if err != nil {
		return Record{}, fmt.Errorf("insert guia version: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM guia_versions WHERE id=$1`, id)
	item, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("read guia version: %w", err)
	}
	return item, nil
}

// UpdateVersionContent replaces contenido and its derived fields and bumps
// the revision.
func (s *PostgresStore) UpdateVersionContent(ctx context.Context, id string, content json.RawMessage, objetivos string, outline json.RawMessage) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE guia_versions
		SET contenido = $2::jsonb,
			objetivos_texto = $3,
			estructura = $4::jsonb,
			revision = revision + 1,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+versionColumns, id, string(content), objetivos, string(outline))
	item, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("update guia version: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) SetVersionCommit(ctx context.Context, id, hash string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE guia_versions SET commit_hash = $2 WHERE id = $1`, id, hash); err != nil {
		return fmt.Errorf("record guia version commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteVersion(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM guia_versions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete guia version: %w", err)
	}
	return nil
}

// SearchVersions runs the Postgres full-text fallback over titles and
// flattened objectives.
func (s *PostgresStore) SearchVersions(ctx context.Context, text string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.clase_session_id, coalesce(v.contenido->>'titulo', ''),
			ts_headline('spanish', v.objetivos_texto, plainto_tsquery('spanish', $1), 'MaxFragments=1,MaxWords=30')
		FROM guia_versions v
		JOIN clase_sessions s ON s.id_guia_version_actual = v.id
		WHERE v.fts @@ plainto_tsquery('spanish', $1)
		ORDER BY ts_rank(v.fts, plainto_tsquery('spanish', $1)) DESC
		LIMIT $2
	`, text, limit)
	if err != nil {
		return nil, fmt.Errorf("search guia versions: %w", err)
	}
	defer rows.Close()

	hits := make([]SearchHit, 0)
	for rows.Next() {
		var hit SearchHit
		if err := rows.Scan(&hit.VersionID, &hit.SessionID, &hit.Titulo, &hit.Snippet); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// ListCurrentVersions returns the current version of every session, used
// to rebuild the search index.
func (s *PostgresStore) ListCurrentVersions(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixed("v", versionColumns)+`
		FROM guia_versions v
		JOIN clase_sessions s ON s.id_guia_version_actual = v.id
	`)
	if err != nil {
		return nil, fmt.Errorf("list current versions: %w", err)
	}
	defer rows.Close()

	items := make([]Record, 0)
	for rows.Next() {
		item, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan guia version: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

func expectOneRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}
