package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"guias/api/internal/generator"
	"guias/api/internal/guide"
	"guias/api/internal/normalize"
	"guias/api/internal/recovery"
	"guias/api/internal/store"
)

type transition struct {
	estado    store.Estado
	versionID *string
}

type fakeSessions struct {
	mu       sync.Mutex
	items    map[string]store.ClaseSession
	history  []transition
	updateFn func(id string, estado store.Estado, versionID *string) error
}

func newFakeSessions(items ...store.ClaseSession) *fakeSessions {
	f := &fakeSessions{items: map[string]store.ClaseSession{}}
	for _, item := range items {
		f.items[item.ID] = item
	}
	return f
}

func (f *fakeSessions) EnsureSession(ctx context.Context, id, tema, owner string) (store.ClaseSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		item = store.ClaseSession{ID: id, Estado: store.EstadoBorrador, Tema: tema, Owner: owner}
		f.items[id] = item
	}
	return item, nil
}

func (f *fakeSessions) GetSession(ctx context.Context, id string) (store.ClaseSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return store.ClaseSession{}, store.ErrNotFound
	}
	return item, nil
}

func (f *fakeSessions) UpdateSessionState(ctx context.Context, id string, estado store.Estado, versionID *string) error {
	if f.updateFn != nil {
		if err := f.updateFn(id, estado, versionID); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return store.ErrNotFound
	}
	item.Estado = estado
	if versionID != nil {
		item.IDGuiaVersionActual = versionID
	}
	f.items[id] = item
	f.history = append(f.history, transition{estado: estado, versionID: versionID})
	return nil
}

func (f *fakeSessions) get(id string) store.ClaseSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[id]
}

type fakeDocuments struct {
	created  []store.VersionPayload
	deleted  []string
	createFn func(payload store.VersionPayload) (string, error)
}

func (f *fakeDocuments) Create(ctx context.Context, kind store.DocumentKind, payload store.VersionPayload) (string, error) {
	f.created = append(f.created, payload)
	if f.createFn != nil {
		return f.createFn(payload)
	}
	return "ver-new", nil
}

func (f *fakeDocuments) Delete(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeDrafts struct{ deleted []string }

func (f *fakeDrafts) Delete(ctx context.Context, sessionID string) error {
	f.deleted = append(f.deleted, sessionID)
	return nil
}

type flushFunc func(ctx context.Context) error

func (f flushFunc) Flush(ctx context.Context) error { return f(ctx) }

const validReply = `{"titulo":"Fracciones en la cocina","secuencia_didactica":[
{"fase":"INICIO","duracion":"15 minutos","actividades":"Saludo"},
{"fase":"DESARROLLO","duracion":"60 minutos","actividades":"Trabajo"},
{"fase":"CIERRE","duracion":"15 minutos","actividades":"Metacognición"}]}`

func request() guide.Request {
	return guide.Request{
		Tema:     "Fracciones",
		Duracion: 90,
		Competencias: []guide.Competency{
			{Nombre: "Resuelve problemas de cantidad"},
			{Nombre: "Comunica su comprensión"},
		},
	}
}

func strPtr(s string) *string { return &s }

func TestGenerateAttachesVersionAndDiscardsDraft(t *testing.T) {
	sessions := newFakeSessions()
	docs := &fakeDocuments{}
	drafts := &fakeDrafts{}
	m := New(sessions, docs, generator.Static{Payload: validReply}, WithDrafts(drafts))

	result, err := m.Generate(context.Background(), "ses-1", "docente", request())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.VersionID != "ver-new" || result.Outcome != recovery.OutcomeDirect {
		t.Fatalf("result = %+v", result)
	}
	if result.Guide.Titulo != "Fracciones en la cocina" {
		t.Fatalf("titulo = %q", result.Guide.Titulo)
	}

	got := sessions.get("ses-1")
	if got.Estado != store.EstadoEditandoGuia || got.IDGuiaVersionActual == nil || *got.IDGuiaVersionActual != "ver-new" {
		t.Fatalf("session = %+v", got)
	}
	if len(sessions.history) != 2 || sessions.history[0].estado != store.EstadoGenerandoClase {
		t.Fatalf("transitions = %+v", sessions.history)
	}
	if len(docs.created) != 1 || docs.created[0].SessionID != "ses-1" || docs.created[0].Author != "docente" {
		t.Fatalf("created = %+v", docs.created)
	}
	if len(drafts.deleted) != 1 || drafts.deleted[0] != "ses-1" {
		t.Fatalf("drafts deleted = %v", drafts.deleted)
	}
}

func TestGenerateWithUnrecoverableReplyUsesFallbackGuide(t *testing.T) {
	sessions := newFakeSessions()
	docs := &fakeDocuments{}
	m := New(sessions, docs, generator.Static{Payload: "lo siento, no puedo ayudar"})

	result, err := m.Generate(context.Background(), "ses-1", "", request())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !result.Report.Fallback || result.Outcome != recovery.OutcomeFailed {
		t.Fatalf("report = %+v outcome = %v", result.Report, result.Outcome)
	}
	if len(result.Guide.Propositos) != 2 {
		t.Fatalf("purposes = %d, want one per competency", len(result.Guide.Propositos))
	}
	for _, purpose := range result.Guide.Propositos {
		if len(purpose.CriteriosEvaluacion) == 0 || purpose.CriteriosEvaluacion[0] != normalize.PlaceholderCriterio {
			t.Fatalf("criterios = %v", purpose.CriteriosEvaluacion)
		}
	}
	if err := result.Guide.Validate(); err != nil {
		t.Fatalf("fallback guide invalid: %v", err)
	}
	if sessions.get("ses-1").Estado != store.EstadoEditandoGuia {
		t.Fatal("fallback generation should still attach a version")
	}
}

func TestGenerateTransportFailureRollsBack(t *testing.T) {
	previous := strPtr("ver-old")
	sessions := newFakeSessions()
	docs := &fakeDocuments{}
	transportErr := &generator.TransportError{StatusCode: 503, Body: "overloaded"}
	m := New(sessions, docs, generator.Static{Err: transportErr})

	sessions.items["ses-1"] = store.ClaseSession{ID: "ses-1", Estado: store.EstadoBorrador, IDGuiaVersionActual: previous}

	_, err := m.Generate(context.Background(), "ses-1", "", request())
	var got *generator.TransportError
	if !errors.As(err, &got) || got.StatusCode != 503 {
		t.Fatalf("err = %v, want transport error", err)
	}
	session := sessions.get("ses-1")
	if session.Estado != store.EstadoBorrador {
		t.Fatalf("estado = %s, want borrador", session.Estado)
	}
	if session.IDGuiaVersionActual != previous {
		t.Fatal("previous version pointer changed")
	}
	if len(docs.created) != 0 {
		t.Fatal("version created after transport failure")
	}
	last := sessions.history[len(sessions.history)-1]
	if last.estado != store.EstadoBorrador || last.versionID != nil {
		t.Fatalf("rollback transition = %+v", last)
	}
}

func TestGenerateCreateFailureRollsBack(t *testing.T) {
	sessions := newFakeSessions()
	docs := &fakeDocuments{createFn: func(store.VersionPayload) (string, error) {
		return "", errors.New("db down")
	}}
	m := New(sessions, docs, generator.Static{Payload: validReply})

	if _, err := m.Generate(context.Background(), "ses-1", "", request()); err == nil {
		t.Fatal("expected error")
	}
	if got := sessions.get("ses-1"); got.Estado != store.EstadoBorrador || got.IDGuiaVersionActual != nil {
		t.Fatalf("session = %+v", got)
	}
}

func TestGenerateAttachFailureRemovesVersion(t *testing.T) {
	sessions := newFakeSessions()
	sessions.updateFn = func(id string, estado store.Estado, versionID *string) error {
		if estado == store.EstadoEditandoGuia {
			return errors.New("conflict")
		}
		return nil
	}
	docs := &fakeDocuments{}
	m := New(sessions, docs, generator.Static{Payload: validReply})

	if _, err := m.Generate(context.Background(), "ses-1", "", request()); err == nil {
		t.Fatal("expected error")
	}
	if len(docs.deleted) != 1 || docs.deleted[0] != "ver-new" {
		t.Fatalf("deleted = %v", docs.deleted)
	}
	if got := sessions.get("ses-1"); got.Estado != store.EstadoBorrador || got.IDGuiaVersionActual != nil {
		t.Fatalf("session = %+v", got)
	}
}

func TestRollbackFailureIsInconsistent(t *testing.T) {
	sessions := newFakeSessions()
	rollbackErr := errors.New("connection reset")
	sessions.updateFn = func(id string, estado store.Estado, versionID *string) error {
		if estado == store.EstadoBorrador {
			return rollbackErr
		}
		return nil
	}
	cause := errors.New("model timeout")
	m := New(sessions, &fakeDocuments{}, generator.Static{Err: cause})

	_, err := m.Generate(context.Background(), "ses-1", "", request())
	var inconsistent *InconsistentRollbackError
	if !errors.As(err, &inconsistent) {
		t.Fatalf("err = %v, want *InconsistentRollbackError", err)
	}
	if !errors.Is(err, cause) || !errors.Is(err, rollbackErr) {
		t.Fatalf("err does not wrap both causes: %v", err)
	}
	if !IsRollbackInconsistent(err) {
		t.Fatal("IsRollbackInconsistent = false")
	}
	if got := sessions.get("ses-1"); got.Estado != store.EstadoGenerandoClase {
		t.Fatalf("estado = %s, want generando_clase", got.Estado)
	}
}

func TestRegenerationFailureReturnsToEditing(t *testing.T) {
	sessions := newFakeSessions(store.ClaseSession{ID: "ses-1", Estado: store.EstadoEditandoGuia, IDGuiaVersionActual: strPtr("ver-1")})
	m := New(sessions, &fakeDocuments{}, generator.Static{Err: errors.New("boom")})

	if _, err := m.Generate(context.Background(), "ses-1", "", request()); err == nil {
		t.Fatal("expected error")
	}
	got := sessions.get("ses-1")
	if got.Estado != store.EstadoEditandoGuia || *got.IDGuiaVersionActual != "ver-1" {
		t.Fatalf("session = %+v", got)
	}
}

func TestGenerateRejectsEmptyTopicAndCompletedSession(t *testing.T) {
	sessions := newFakeSessions(store.ClaseSession{ID: "done", Estado: store.EstadoCompletada})
	m := New(sessions, &fakeDocuments{}, generator.Static{Payload: validReply})

	if _, err := m.Generate(context.Background(), "ses-1", "", guide.Request{Tema: "  "}); !errors.Is(err, guide.ErrEmptyTopic) {
		t.Fatalf("err = %v", err)
	}
	if _, ok := sessions.items["ses-1"]; ok {
		t.Fatal("session created for invalid request")
	}
	if _, err := m.Generate(context.Background(), "done", "", request()); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("err = %v, want ErrReadOnly", err)
	}
}

func TestStartGenerationRejectsWhileGenerating(t *testing.T) {
	sessions := newFakeSessions(store.ClaseSession{ID: "ses-1", Estado: store.EstadoGenerandoClase})
	m := New(sessions, &fakeDocuments{}, generator.Static{})

	_, err := m.StartGeneration(context.Background(), "ses-1", "", request())
	var te *TransitionError
	if !errors.As(err, &te) || te.From != store.EstadoGenerandoClase {
		t.Fatalf("err = %v", err)
	}
}

func TestScheduleRefusedWhenFlushFails(t *testing.T) {
	sessions := newFakeSessions(store.ClaseSession{ID: "ses-1", Estado: store.EstadoEditandoGuia})
	m := New(sessions, &fakeDocuments{}, generator.Static{})

	saveErr := errors.New("write failed")
	_, err := m.Schedule(context.Background(), "ses-1", flushFunc(func(context.Context) error { return saveErr }))
	if !errors.Is(err, ErrFlushFailed) || !errors.Is(err, saveErr) {
		t.Fatalf("err = %v", err)
	}
	if got := sessions.get("ses-1"); got.Estado != store.EstadoEditandoGuia {
		t.Fatalf("estado = %s", got.Estado)
	}

	flushed := false
	session, err := m.Schedule(context.Background(), "ses-1", flushFunc(func(context.Context) error {
		flushed = true
		return nil
	}))
	if err != nil || !flushed || session.Estado != store.EstadoClaseProgramada {
		t.Fatalf("Schedule = %+v, %v (flushed %v)", session, err, flushed)
	}
}

func TestScheduleAndCompleteTransitions(t *testing.T) {
	sessions := newFakeSessions(store.ClaseSession{ID: "ses-1", Estado: store.EstadoBorrador})
	m := New(sessions, &fakeDocuments{}, generator.Static{})
	ctx := context.Background()

	var te *TransitionError
	if _, err := m.Schedule(ctx, "ses-1", nil); !errors.As(err, &te) || te.To != store.EstadoClaseProgramada {
		t.Fatalf("Schedule from borrador err = %v", err)
	}
	if _, err := m.Complete(ctx, "ses-1"); !errors.As(err, &te) {
		t.Fatalf("Complete from borrador err = %v", err)
	}

	sessions.items["ses-1"] = store.ClaseSession{ID: "ses-1", Estado: store.EstadoClaseProgramada}
	session, err := m.Complete(ctx, "ses-1")
	if err != nil || session.Estado != store.EstadoCompletada {
		t.Fatalf("Complete = %+v, %v", session, err)
	}
	if _, err := m.Schedule(ctx, "ses-1", nil); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("Schedule on completada err = %v", err)
	}
	if _, err := m.Complete(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Complete missing err = %v", err)
	}
}

func TestEditable(t *testing.T) {
	if err := Editable(store.EstadoEditandoGuia); err != nil {
		t.Fatalf("editando_guia: %v", err)
	}
	if err := Editable(store.EstadoCompletada); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("completada: %v", err)
	}
	var te *TransitionError
	if err := Editable(store.EstadoClaseProgramada); !errors.As(err, &te) {
		t.Fatalf("clase_programada: %v", err)
	}
}

func TestGenerateRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	tracer := tp.Tracer("workflow-test")

	m := New(newFakeSessions(), &fakeDocuments{}, generator.Static{Payload: validReply}, WithTracer(tracer))
	if _, err := m.Generate(context.Background(), "ses-1", "", request()); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	failing := New(newFakeSessions(), &fakeDocuments{}, generator.Static{Err: &generator.TransportError{StatusCode: 502}}, WithTracer(tracer))
	if _, err := failing.Generate(context.Background(), "ses-2", "", request()); err == nil {
		t.Fatal("expected transport error")
	}

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	ok, failed := spans[0], spans[1]
	if ok.Name() != "workflow.generate" || ok.Status().Code == codes.Error {
		t.Fatalf("span = %s status = %+v", ok.Name(), ok.Status())
	}
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range ok.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if attrs["session.id"].AsString() != "ses-1" || attrs["guide.version_id"].AsString() != "ver-new" {
		t.Fatalf("attributes = %v", ok.Attributes())
	}
	if failed.Status().Code != codes.Error || len(failed.Events()) == 0 {
		t.Fatalf("failed span status = %+v events = %d", failed.Status(), len(failed.Events()))
	}
}
