// Package workflow drives a ClaseSession through its lifecycle:
//
//	borrador -> generando_clase -> editando_guia -> clase_programada -> completada
//
// A failed generation returns the session to the state it left.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"guias/api/internal/generator"
	"guias/api/internal/guide"
	"guias/api/internal/normalize"
	"guias/api/internal/platform/logger"
	"guias/api/internal/recovery"
	"guias/api/internal/store"
)

type Sessions interface {
	EnsureSession(ctx context.Context, id, tema, owner string) (store.ClaseSession, error)
	GetSession(ctx context.Context, id string) (store.ClaseSession, error)
	UpdateSessionState(ctx context.Context, id string, estado store.Estado, versionID *string) error
}

type Documents interface {
	Create(ctx context.Context, kind store.DocumentKind, payload store.VersionPayload) (string, error)
	Delete(ctx context.Context, id string) error
}

// Drafts discards the pre-generation form snapshot of a session.
type Drafts interface {
	Delete(ctx context.Context, sessionID string) error
}

type Flusher interface {
	Flush(ctx context.Context) error
}

var transitions = map[store.Estado][]store.Estado{
	store.EstadoBorrador:        {store.EstadoGenerandoClase},
	store.EstadoGenerandoClase:  {store.EstadoEditandoGuia, store.EstadoBorrador},
	store.EstadoEditandoGuia:    {store.EstadoGenerandoClase, store.EstadoClaseProgramada},
	store.EstadoClaseProgramada: {store.EstadoCompletada},
}

// CanTransition reports whether from -> to is a lifecycle edge.
func CanTransition(from, to store.Estado) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to store.Estado) error {
	if from == store.EstadoCompletada {
		return ErrReadOnly
	}
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

type Machine struct {
	sessions Sessions
	docs     Documents
	gen      generator.Client
	drafts   Drafts
	log      *logger.Logger
	tracer   trace.Tracer

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type Option func(*Machine)

func WithDrafts(d Drafts) Option {
	return func(m *Machine) { m.drafts = d }
}

func WithLogger(l *logger.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.log = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(m *Machine) {
		if t != nil {
			m.tracer = t
		}
	}
}

func New(sessions Sessions, docs Documents, gen generator.Client, opts ...Option) *Machine {
	m := &Machine{
		sessions: sessions,
		docs:     docs,
		gen:      gen,
		log:      logger.NewNop(),
		tracer:   otel.Tracer("guias/api/internal/workflow"),
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) sessionLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}

// Result is a successful generation.
type Result struct {
	Session   store.ClaseSession
	VersionID string
	Guide     guide.SessionGuide
	Outcome   recovery.Outcome
	Report    normalize.Report
}

// StartGeneration creates the session if needed and moves it to
// generando_clase. It returns the session as it was before the move.
func (m *Machine) StartGeneration(ctx context.Context, sessionID, owner string, req guide.Request) (store.ClaseSession, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return m.start(ctx, sessionID, owner, req)
}

func (m *Machine) start(ctx context.Context, sessionID, owner string, req guide.Request) (store.ClaseSession, error) {
	if err := req.Validate(); err != nil {
		return store.ClaseSession{}, err
	}
	session, err := m.sessions.EnsureSession(ctx, sessionID, req.Tema, owner)
	if err != nil {
		return store.ClaseSession{}, fmt.Errorf("ensure session: %w", err)
	}
	if err := checkTransition(session.Estado, store.EstadoGenerandoClase); err != nil {
		return store.ClaseSession{}, err
	}
	if err := m.sessions.UpdateSessionState(ctx, sessionID, store.EstadoGenerandoClase, nil); err != nil {
		return store.ClaseSession{}, fmt.Errorf("start generation: %w", err)
	}
	return session, nil
}

// Generate runs the whole pipeline for one session: model call, recovery,
// normalization, version create and attach. An unusable model reply is
// not an error, it yields the fallback document.
func (m *Machine) Generate(ctx context.Context, sessionID, owner string, req guide.Request) (Result, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	ctx, span := m.tracer.Start(ctx, "workflow.generate", trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("guide.tema", req.Tema),
	))
	defer span.End()

	result, err := m.generate(ctx, sessionID, owner, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	span.SetAttributes(
		attribute.String("guide.version_id", result.VersionID),
		attribute.String("recovery.outcome", result.Outcome.String()),
		attribute.Bool("normalize.fallback", result.Report.Fallback),
		attribute.Int("normalize.placeholders", result.Report.Placeholders),
	)
	return result, nil
}

func (m *Machine) generate(ctx context.Context, sessionID, owner string, req guide.Request) (Result, error) {
	previous, err := m.start(ctx, sessionID, owner, req)
	if err != nil {
		return Result{}, err
	}

	raw, err := m.gen.Generate(ctx, req)
	if err != nil {
		return Result{}, m.rollback(ctx, previous, fmt.Errorf("call generator: %w", err))
	}

	tree, outcome, err := recovery.RecoverWithOutcome(raw)
	if err != nil {
		m.log.Warn("workflow: model reply unrecoverable, using fallback guide",
			"session_id", sessionID, "raw_length", len(raw), "error", err)
		tree = nil
	}
	doc, report := normalize.NormalizeWithReport(tree, req)

	content, err := guide.Canonical(doc)
	if err != nil {
		return Result{}, m.rollback(ctx, previous, err)
	}
	versionID, err := m.docs.Create(ctx, store.KindGuiaVersion, store.VersionPayload{
		SessionID: sessionID,
		Author:    owner,
		Content:   content,
	})
	if err != nil {
		return Result{}, m.rollback(ctx, previous, fmt.Errorf("create guide version: %w", err))
	}
	if err := m.sessions.UpdateSessionState(ctx, sessionID, store.EstadoEditandoGuia, &versionID); err != nil {
		if delErr := m.docs.Delete(context.WithoutCancel(ctx), versionID); delErr != nil {
			m.log.Warn("workflow: remove unattached version failed", "version_id", versionID, "error", delErr)
		}
		return Result{}, m.rollback(ctx, previous, fmt.Errorf("attach guide version: %w", err))
	}

	if m.drafts != nil {
		if err := m.drafts.Delete(ctx, sessionID); err != nil {
			m.log.Warn("workflow: discard draft failed", "session_id", sessionID, "error", err)
		}
	}

	m.log.Info("workflow: guide generated",
		"session_id", sessionID,
		"version_id", versionID,
		"outcome", outcome.String(),
		"fallback", report.Fallback,
		"placeholders", report.Placeholders,
		"dropped_phases", report.DroppedPhases,
	)

	session := previous
	session.Estado = store.EstadoEditandoGuia
	session.IDGuiaVersionActual = &versionID
	return Result{Session: session, VersionID: versionID, Guide: doc, Outcome: outcome, Report: report}, nil
}

// rollback returns the session to the state it had before generation,
// keeping its current version untouched. The write runs even if ctx was
// cancelled.
func (m *Machine) rollback(ctx context.Context, previous store.ClaseSession, cause error) error {
	err := m.sessions.UpdateSessionState(context.WithoutCancel(ctx), previous.ID, previous.Estado, nil)
	if err != nil {
		inconsistent := &InconsistentRollbackError{SessionID: previous.ID, Cause: cause, RollbackErr: err}
		m.log.Error("workflow: rollback failed", "session_id", previous.ID, "cause", cause, "error", err)
		return inconsistent
	}
	m.log.Warn("workflow: generation rolled back", "session_id", previous.ID, "estado", string(previous.Estado), "cause", cause)
	return cause
}

// Schedule persists pending edits through flusher and moves the session
// to clase_programada. Nothing changes if the flush fails.
func (m *Machine) Schedule(ctx context.Context, sessionID string, flusher Flusher) (store.ClaseSession, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return store.ClaseSession{}, err
	}
	if err := checkTransition(session.Estado, store.EstadoClaseProgramada); err != nil {
		return store.ClaseSession{}, err
	}
	if flusher != nil {
		if err := flusher.Flush(ctx); err != nil {
			return store.ClaseSession{}, fmt.Errorf("%w: %w", ErrFlushFailed, err)
		}
	}
	if err := m.sessions.UpdateSessionState(ctx, sessionID, store.EstadoClaseProgramada, nil); err != nil {
		return store.ClaseSession{}, fmt.Errorf("schedule session: %w", err)
	}
	session.Estado = store.EstadoClaseProgramada
	return session, nil
}

// Complete marks a scheduled session as taught. After this the session
// is read-only.
func (m *Machine) Complete(ctx context.Context, sessionID string) (store.ClaseSession, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return store.ClaseSession{}, err
	}
	if err := checkTransition(session.Estado, store.EstadoCompletada); err != nil {
		return store.ClaseSession{}, err
	}
	if err := m.sessions.UpdateSessionState(ctx, sessionID, store.EstadoCompletada, nil); err != nil {
		return store.ClaseSession{}, fmt.Errorf("complete session: %w", err)
	}
	session.Estado = store.EstadoCompletada
	return session, nil
}

// Editable reports whether the guide of a session in estado may be
// changed.
func Editable(estado store.Estado) error {
	switch estado {
	case store.EstadoEditandoGuia:
		return nil
	case store.EstadoCompletada:
		return ErrReadOnly
	default:
		return &TransitionError{From: estado, To: store.EstadoEditandoGuia}
	}
}

// IsRollbackInconsistent reports whether err left a session stuck in
// generando_clase.
func IsRollbackInconsistent(err error) bool {
	var target *InconsistentRollbackError
	return errors.As(err, &target)
}
