package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"guias/api/internal/guide"
	"guias/api/internal/platform/logger"
)

// HistoryWriter records every persisted content of a version.
type HistoryWriter interface {
	CommitVersion(versionID string, content []byte, author, message string) (string, error)
}

// WriteHook runs after a non-silent write.
type WriteHook func(ctx context.Context, rec Record)

// DeleteHook runs after a version is deleted.
type DeleteHook func(ctx context.Context, id string)

type versionRows interface {
	InsertVersion(ctx context.Context, item Record) (Record, error)
	GetVersion(ctx context.Context, id string) (Record, error)
	UpdateVersionContent(ctx context.Context, id string, content json.RawMessage, objetivos string, outline json.RawMessage) (Record, error)
	SetVersionCommit(ctx context.Context, id, hash string) error
	DeleteVersion(ctx context.Context, id string) error
	TouchSession(ctx context.Context, id string) error
}

// VersionStore is the versioned document store for guides: rows in
// guia_versions plus a history commit per write.
type VersionStore struct {
	rows    versionRows
	history HistoryWriter
	onWrite WriteHook
	onDel   DeleteHook
	log     *logger.Logger
	newID   func() string
}

func NewVersionStore(rows versionRows, history HistoryWriter, log *logger.Logger) *VersionStore {
	if log == nil {
		log = logger.NewNop()
	}
	return &VersionStore{rows: rows, history: history, log: log, newID: uuid.NewString}
}

// OnWrite registers the hook for non-silent writes.
func (s *VersionStore) OnWrite(hook WriteHook) {
	s.onWrite = hook
}

func (s *VersionStore) OnDelete(hook DeleteHook) {
	s.onDel = hook
}

func (s *VersionStore) Create(ctx context.Context, kind DocumentKind, payload VersionPayload) (string, error) {
	if kind != KindGuiaVersion {
		return "", fmt.Errorf("create document: unsupported kind %q", kind)
	}
	if payload.SessionID == "" {
		return "", fmt.Errorf("create document: session id required")
	}
	content, objetivos, outline, err := derive(payload.Content)
	if err != nil {
		return "", err
	}

	rec, err := s.rows.InsertVersion(ctx, Record{
		ID:             s.newID(),
		Kind:           kind,
		SessionID:      payload.SessionID,
		Content:        content,
		ObjetivosTexto: objetivos,
		Estructura:     outline,
		CreatedBy:      payload.Author,
	})
	if err != nil {
		return "", err
	}
	rec.CommitHash = s.commit(ctx, rec.ID, content, payload.Author, "Crear versión de guía")
	s.afterWrite(ctx, rec)
	return rec.ID, nil
}

func (s *VersionStore) Update(ctx context.Context, id string, payload json.RawMessage, opts UpdateOptions) (Record, error) {
	content, objetivos, outline, err := derive(payload)
	if err != nil {
		return Record{}, err
	}
	rec, err := s.rows.UpdateVersionContent(ctx, id, content, objetivos, outline)
	if err != nil {
		return Record{}, err
	}
	if hash := s.commit(ctx, id, content, opts.Author, fmt.Sprintf("Revisión %d", rec.Revision)); hash != "" {
		rec.CommitHash = hash
	}
	if opts.Silent {
		return rec, nil
	}
	if err := s.rows.TouchSession(ctx, rec.SessionID); err != nil {
		return Record{}, err
	}
	s.afterWrite(ctx, rec)
	return rec, nil
}

func (s *VersionStore) Get(ctx context.Context, id string) (Record, error) {
	return s.rows.GetVersion(ctx, id)
}

func (s *VersionStore) Delete(ctx context.Context, id string) error {
	if err := s.rows.DeleteVersion(ctx, id); err != nil {
		return err
	}
	if s.onDel != nil {
		s.onDel(ctx, id)
	}
	return nil
}

// commit writes history. History is secondary to the row, so a failure
// is logged and the write still succeeds.
func (s *VersionStore) commit(ctx context.Context, id string, content []byte, author, message string) string {
	if s.history == nil {
		return ""
	}
	hash, err := s.history.CommitVersion(id, content, author, message)
	if err != nil {
		s.log.Warn("store: history commit failed", "version_id", id, "error", err)
		return ""
	}
	if hash == "" {
		return ""
	}
	if err := s.rows.SetVersionCommit(ctx, id, hash); err != nil {
		s.log.Warn("store: record commit hash failed", "version_id", id, "error", err)
	}
	return hash
}

func (s *VersionStore) afterWrite(ctx context.Context, rec Record) {
	if s.onWrite != nil {
		s.onWrite(ctx, rec)
	}
}

// derive validates the payload as a guide and computes the summary
// columns kept next to it.
func derive(payload json.RawMessage) (json.RawMessage, string, json.RawMessage, error) {
	doc, err := guide.Decode(payload)
	if err != nil {
		return nil, "", nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, "", nil, err
	}
	content, err := guide.Canonical(doc)
	if err != nil {
		return nil, "", nil, err
	}
	outline, err := json.Marshal(guide.BuildOutline(doc))
	if err != nil {
		return nil, "", nil, fmt.Errorf("marshal outline: %w", err)
	}
	return content, guide.ObjectivesText(doc), outline, nil
}
