package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"guias/api/internal/autosave"
	"guias/api/internal/drafts"
	"guias/api/internal/export"
	"guias/api/internal/gitrepo"
	"guias/api/internal/guide"
	"guias/api/internal/platform/logger"
	"guias/api/internal/search"
	"guias/api/internal/store"
	"guias/api/internal/workflow"
)

type sessionStore interface {
	CreateSession(ctx context.Context, id, tema, owner string) (store.ClaseSession, error)
	GetSession(ctx context.Context, id string) (store.ClaseSession, error)
	ListSessions(ctx context.Context, limit int) ([]store.ClaseSession, error)
	TouchSession(ctx context.Context, id string) error
}

type versionStore interface {
	Get(ctx context.Context, id string) (store.Record, error)
	Update(ctx context.Context, id string, payload json.RawMessage, opts store.UpdateOptions) (store.Record, error)
}

type lifecycle interface {
	Generate(ctx context.Context, sessionID, owner string, req guide.Request) (workflow.Result, error)
	Schedule(ctx context.Context, sessionID string, flusher workflow.Flusher) (store.ClaseSession, error)
	Complete(ctx context.Context, sessionID string) (store.ClaseSession, error)
}

type draftStore interface {
	Save(ctx context.Context, sessionID string, form guide.Request) (drafts.Snapshot, error)
	Get(ctx context.Context, sessionID string) (drafts.Snapshot, error)
	Delete(ctx context.Context, sessionID string) error
}

type historyService interface {
	History(versionID string, limit int) ([]gitrepo.CommitInfo, error)
	ContentAt(versionID, hash string) (json.RawMessage, error)
}

type searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexVersion(rec store.Record)
	RemoveVersion(versionID string)
}

type exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

// Check is one dependency probed by the readiness endpoint.
type Check struct {
	Name     string
	Ping     func(ctx context.Context) error
	Optional bool
}

// Deps are the collaborators of a Service. Drafts, History, Search and
// Export may be nil; the matching endpoints then answer 503.
type Deps struct {
	Sessions sessionStore
	Versions versionStore
	Workflow lifecycle
	Drafts   draftStore
	History  historyService
	Search   searcher
	Export   exporter
	Checks   []Check
	Logger   *logger.Logger
	// AutosaveOptions configure every guide editor the service opens.
	AutosaveOptions []autosave.Option
}

type Service struct {
	sessions sessionStore
	versions versionStore
	workflow lifecycle
	drafts   draftStore
	history  historyService
	search   searcher
	exporter exporter
	checks   []Check
	log      *logger.Logger
	editors  *autosave.Registry
}

func New(deps Deps) *Service {
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	s := &Service{
		sessions: deps.Sessions,
		versions: deps.Versions,
		workflow: deps.Workflow,
		drafts:   deps.Drafts,
		history:  deps.History,
		search:   deps.Search,
		exporter: deps.Export,
		checks:   deps.Checks,
		log:      log,
	}
	opts := append([]autosave.Option{autosave.WithLogger(log)}, deps.AutosaveOptions...)
	s.editors = autosave.NewRegistry(s.loadGuide, autosave.SaverFunc(s.saveGuide), opts...)
	return s
}

// loadGuide opens the stored content of a version for editing.
func (s *Service) loadGuide(ctx context.Context, versionID string) (guide.SessionGuide, error) {
	rec, err := s.versions.Get(ctx, versionID)
	if err != nil {
		return guide.SessionGuide{}, err
	}
	return guide.Decode(rec.Content)
}

// saveGuide is the autosave write. It is silent: the session timestamp
// and the search index catch up on flush and schedule.
func (s *Service) saveGuide(ctx context.Context, versionID string, doc guide.SessionGuide) error {
	content, err := guide.Canonical(doc)
	if err != nil {
		return err
	}
	_, err = s.versions.Update(ctx, versionID, content, store.UpdateOptions{Silent: true, Author: "autosave"})
	return err
}

type SessionView struct {
	ID                   string       `json:"id"`
	Estado               store.Estado `json:"estado"`
	Tema                 string       `json:"tema"`
	Owner                string       `json:"owner,omitempty"`
	IDGuiaVersionActual  *string      `json:"idGuiaVersionActual"`
	GeneracionIniciadaEn *time.Time   `json:"generacionIniciadaEn,omitempty"`
	ReadOnly             bool         `json:"readOnly"`
	CreatedAt            time.Time    `json:"createdAt"`
	UpdatedAt            time.Time    `json:"updatedAt"`
}

func sessionView(item store.ClaseSession) SessionView {
	return SessionView{
		ID:                   item.ID,
		Estado:               item.Estado,
		Tema:                 item.Tema,
		Owner:                item.Owner,
		IDGuiaVersionActual:  item.IDGuiaVersionActual,
		GeneracionIniciadaEn: item.GeneracionIniciadaEn,
		ReadOnly:             item.Estado == store.EstadoCompletada,
		CreatedAt:            item.CreatedAt,
		UpdatedAt:            item.UpdatedAt,
	}
}

type CreateSessionInput struct {
	ID    string `json:"id"`
	Tema  string `json:"tema"`
	Owner string `json:"owner"`
}

func (s *Service) CreateSession(ctx context.Context, input CreateSessionInput) (SessionView, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if len(id) > 64 || strings.ContainsAny(id, "/ ") {
		return SessionView{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "id is not a valid session id", nil)
	}
	item, err := s.sessions.CreateSession(ctx, id, strings.TrimSpace(input.Tema), strings.TrimSpace(input.Owner))
	if err != nil {
		return SessionView{}, err
	}
	return sessionView(item), nil
}

func (s *Service) GetSession(ctx context.Context, id string) (SessionView, error) {
	item, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		return SessionView{}, err
	}
	return sessionView(item), nil
}

// ListSessions returns the most recently updated sessions first.
func (s *Service) ListSessions(ctx context.Context, limit int) ([]SessionView, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	items, err := s.sessions.ListSessions(ctx, limit)
	if err != nil {
		return nil, err
	}
	views := make([]SessionView, 0, len(items))
	for _, item := range items {
		views = append(views, sessionView(item))
	}
	return views, nil
}

func (s *Service) requireDrafts() error {
	if s.drafts == nil {
		return domainError(http.StatusServiceUnavailable, "DRAFTS_UNAVAILABLE", "Draft storage is not configured", nil)
	}
	return nil
}

// SaveDraft keeps the form as it is being filled in. The session does not
// have to exist yet; it is created on first generation.
func (s *Service) SaveDraft(ctx context.Context, sessionID string, form guide.Request) (drafts.Snapshot, error) {
	if err := s.requireDrafts(); err != nil {
		return drafts.Snapshot{}, err
	}
	item, err := s.sessions.GetSession(ctx, sessionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return drafts.Snapshot{}, err
	case item.Estado == store.EstadoCompletada:
		return drafts.Snapshot{}, workflow.ErrReadOnly
	}
	return s.drafts.Save(ctx, sessionID, form)
}

func (s *Service) GetDraft(ctx context.Context, sessionID string) (drafts.Snapshot, error) {
	if err := s.requireDrafts(); err != nil {
		return drafts.Snapshot{}, err
	}
	return s.drafts.Get(ctx, sessionID)
}

func (s *Service) DeleteDraft(ctx context.Context, sessionID string) error {
	if err := s.requireDrafts(); err != nil {
		return err
	}
	return s.drafts.Delete(ctx, sessionID)
}

type GenerateInput struct {
	guide.Request
	Owner string `json:"owner"`
}

type GenerateOutput struct {
	Session   SessionView        `json:"session"`
	VersionID string             `json:"versionId"`
	Guide     guide.SessionGuide `json:"guide"`
	Recovery  string             `json:"recovery"`
	Fallback  bool               `json:"fallback"`
}

// Generate produces a new guide for the session. An empty topic falls
// back to the saved draft. Pending edits of the guide being replaced are
// saved first; if that fails nothing is generated.
func (s *Service) Generate(ctx context.Context, sessionID string, input GenerateInput) (GenerateOutput, error) {
	req := input.Request
	if strings.TrimSpace(req.Tema) == "" && s.drafts != nil {
		if snap, err := s.drafts.Get(ctx, sessionID); err == nil {
			req = snap.Form
		}
	}

	var previousVersion string
	current, err := s.sessions.GetSession(ctx, sessionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return GenerateOutput{}, err
	case current.IDGuiaVersionActual != nil:
		previousVersion = *current.IDGuiaVersionActual
	}
	if previousVersion != "" {
		if editor, ok := s.editors.Peek(previousVersion); ok {
			if err := editor.Flush(ctx); err != nil {
				return GenerateOutput{}, fmt.Errorf("%w: %w", workflow.ErrFlushFailed, err)
			}
		}
	}

	result, err := s.workflow.Generate(ctx, sessionID, input.Owner, req)
	if err != nil {
		return GenerateOutput{}, err
	}
	if previousVersion != "" && previousVersion != result.VersionID {
		s.editors.Drop(previousVersion)
		if s.search != nil {
			s.search.RemoveVersion(previousVersion)
		}
	}
	return GenerateOutput{
		Session:   sessionView(result.Session),
		VersionID: result.VersionID,
		Guide:     result.Guide,
		Recovery:  result.Outcome.String(),
		Fallback:  result.Report.Fallback,
	}, nil
}

// currentVersion returns the session and the id of its current guide.
func (s *Service) currentVersion(ctx context.Context, sessionID string) (store.ClaseSession, string, error) {
	item, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return store.ClaseSession{}, "", err
	}
	if item.IDGuiaVersionActual == nil || *item.IDGuiaVersionActual == "" {
		return item, "", errNoGuide
	}
	return item, *item.IDGuiaVersionActual, nil
}

type GuideView struct {
	SessionID string             `json:"sessionId"`
	VersionID string             `json:"versionId"`
	Estado    store.Estado       `json:"estado"`
	ReadOnly  bool               `json:"readOnly"`
	Guide     guide.SessionGuide `json:"guide"`
	Status    autosave.Status    `json:"status"`
}

// GetGuide returns the guide as the editor currently holds it, unsaved
// edits included.
func (s *Service) GetGuide(ctx context.Context, sessionID string) (GuideView, error) {
	item, versionID, err := s.currentVersion(ctx, sessionID)
	if err != nil {
		return GuideView{}, err
	}
	view := GuideView{
		SessionID: item.ID,
		VersionID: versionID,
		Estado:    item.Estado,
		ReadOnly:  item.Estado == store.EstadoCompletada,
		Status:    autosave.Status{State: autosave.StateIdle},
	}
	if editor, ok := s.editors.Peek(versionID); ok {
		view.Guide = editor.Current()
		view.Status = editor.Status()
		return view, nil
	}
	doc, err := s.loadGuide(ctx, versionID)
	if err != nil {
		return GuideView{}, err
	}
	view.Guide = doc
	return view, nil
}

type MutateInput struct {
	Path  guide.FieldPath `json:"path"`
	Value any             `json:"value"`
}

func (s *Service) MutateGuide(ctx context.Context, sessionID string, input MutateInput) (autosave.Status, error) {
	item, versionID, err := s.currentVersion(ctx, sessionID)
	if err != nil {
		return autosave.Status{}, err
	}
	if err := workflow.Editable(item.Estado); err != nil {
		return autosave.Status{}, err
	}
	editor, err := s.editors.Get(ctx, versionID)
	if err != nil {
		return autosave.Status{}, err
	}
	if err := editor.Mutate(input.Path, input.Value); err != nil {
		return autosave.Status{}, err
	}
	return editor.Status(), nil
}

// FlushGuide saves pending edits now and brings the session timestamp
// and the search index up to date.
func (s *Service) FlushGuide(ctx context.Context, sessionID string) (autosave.Status, error) {
	item, versionID, err := s.currentVersion(ctx, sessionID)
	if err != nil {
		return autosave.Status{}, err
	}
	editor, ok := s.editors.Peek(versionID)
	if !ok {
		return autosave.Status{State: autosave.StateIdle}, nil
	}
	if err := editor.Flush(ctx); err != nil {
		return editor.Status(), err
	}
	s.publish(ctx, item.ID, versionID)
	return editor.Status(), nil
}

func (s *Service) GuideStatus(ctx context.Context, sessionID string) (autosave.Status, error) {
	_, versionID, err := s.currentVersion(ctx, sessionID)
	if err != nil {
		return autosave.Status{}, err
	}
	if editor, ok := s.editors.Peek(versionID); ok {
		return editor.Status(), nil
	}
	return autosave.Status{State: autosave.StateIdle}, nil
}

func (s *Service) GuideHistory(ctx context.Context, sessionID string, limit int) ([]gitrepo.CommitInfo, error) {
	if s.history == nil {
		return nil, domainError(http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "Version history is not configured", nil)
	}
	_, versionID, err := s.currentVersion(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.history.History(versionID, limit)
}

type GuideRevision struct {
	SessionID string             `json:"sessionId"`
	VersionID string             `json:"versionId"`
	Commit    string             `json:"commit"`
	Guide     guide.SessionGuide `json:"guide"`
}

// GuideRevision returns the current version's guide as it was stored at
// commit hash.
func (s *Service) GuideRevision(ctx context.Context, sessionID, hash string) (GuideRevision, error) {
	if s.history == nil {
		return GuideRevision{}, domainError(http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "Version history is not configured", nil)
	}
	_, versionID, err := s.currentVersion(ctx, sessionID)
	if err != nil {
		return GuideRevision{}, err
	}
	content, err := s.history.ContentAt(versionID, hash)
	if err != nil {
		return GuideRevision{}, err
	}
	doc, err := guide.Decode(content)
	if err != nil {
		return GuideRevision{}, fmt.Errorf("decode revision %s: %w", hash, err)
	}
	return GuideRevision{SessionID: sessionID, VersionID: versionID, Commit: hash, Guide: doc}, nil
}

// Schedule saves pending edits and moves the session to clase_programada.
// The editor is released afterwards since the guide is no longer editable.
func (s *Service) Schedule(ctx context.Context, sessionID string) (SessionView, error) {
	_, versionID, err := s.currentVersion(ctx, sessionID)
	if err != nil && !errors.Is(err, errNoGuide) {
		return SessionView{}, err
	}
	var flusher workflow.Flusher
	if editor, ok := s.editors.Peek(versionID); ok && versionID != "" {
		flusher = editor
	}
	item, err := s.workflow.Schedule(ctx, sessionID, flusher)
	if err != nil {
		return SessionView{}, err
	}
	if versionID != "" {
		s.editors.Drop(versionID)
		s.publish(ctx, sessionID, versionID)
	}
	return sessionView(item), nil
}

func (s *Service) Complete(ctx context.Context, sessionID string) (SessionView, error) {
	item, err := s.workflow.Complete(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	return sessionView(item), nil
}

// publish runs the side effects autosave skips: touching the session and
// reindexing the version. Failures are logged only.
func (s *Service) publish(ctx context.Context, sessionID, versionID string) {
	if err := s.sessions.TouchSession(ctx, sessionID); err != nil {
		s.log.Warn("app: touch session failed", "session_id", sessionID, "error", err)
	}
	if s.search == nil {
		return
	}
	rec, err := s.versions.Get(ctx, versionID)
	if err != nil {
		s.log.Warn("app: reload version for index failed", "version_id", versionID, "error", err)
		return
	}
	s.search.IndexVersion(rec)
}

// Export renders the current guide. Pending edits are saved first so the
// file matches what the editor shows.
func (s *Service) Export(ctx context.Context, sessionID string, format export.Format, upload bool) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	_, versionID, err := s.currentVersion(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if editor, ok := s.editors.Peek(versionID); ok {
		if err := editor.Flush(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", workflow.ErrFlushFailed, err)
		}
	}
	return s.exporter.Export(ctx, export.Request{VersionID: versionID, Format: format, Upload: upload})
}

func (s *Service) Search(ctx context.Context, q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
	}
	return s.search.Search(ctx, q), nil
}

type CheckResult struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

// Ready probes every dependency concurrently. Only required checks make
// the service not ready.
func (s *Service) Ready(ctx context.Context) (bool, map[string]CheckResult) {
	var mu sync.Mutex
	results := make(map[string]CheckResult, len(s.checks))
	ready := true

	group, groupCtx := errgroup.WithContext(ctx)
	for _, check := range s.checks {
		group.Go(func() error {
			result := CheckResult{Status: "ok", Optional: check.Optional}
			if err := check.Ping(groupCtx); err != nil {
				result.Status = "error"
				result.Error = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			results[check.Name] = result
			if result.Status != "ok" && !check.Optional {
				ready = false
			}
			return nil
		})
	}
	_ = group.Wait()
	return ready, results
}

// Shutdown saves every open editor and releases them.
func (s *Service) Shutdown(ctx context.Context) error {
	err := s.editors.FlushAll(ctx)
	s.editors.Close()
	return err
}
