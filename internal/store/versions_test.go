package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"guias/api/internal/guide"
)

type fakeRows struct {
	versions map[string]Record
	touched  []string
	commits  map[string]string
	updateFn func(id string) error
}

func newFakeRows() *fakeRows {
	return &fakeRows{versions: map[string]Record{}, commits: map[string]string{}}
}

func (f *fakeRows) InsertVersion(ctx context.Context, item Record) (Record, error) {
	item.Revision = 1
	f.versions[item.ID] = item
	return item, nil
}

func (f *fakeRows) GetVersion(ctx context.Context, id string) (Record, error) {
	item, ok := f.versions[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return item, nil
}

func (f *fakeRows) UpdateVersionContent(ctx context.Context, id string, content json.RawMessage, objetivos string, outline json.RawMessage) (Record, error) {
	if f.updateFn != nil {
		if err := f.updateFn(id); err != nil {
			return Record{}, err
		}
	}
	item, ok := f.versions[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	item.Content = content
	item.ObjetivosTexto = objetivos
	item.Estructura = outline
	item.Revision++
	f.versions[id] = item
	return item, nil
}

func (f *fakeRows) SetVersionCommit(ctx context.Context, id, hash string) error {
	f.commits[id] = hash
	return nil
}

func (f *fakeRows) DeleteVersion(ctx context.Context, id string) error {
	delete(f.versions, id)
	return nil
}

func (f *fakeRows) TouchSession(ctx context.Context, id string) error {
	f.touched = append(f.touched, id)
	return nil
}

type fakeHistory struct {
	messages []string
	err      error
}

func (f *fakeHistory) CommitVersion(versionID string, content []byte, author, message string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.messages = append(f.messages, message)
	return "abc1234", nil
}

func samplePayload(t *testing.T, title string) json.RawMessage {
	t.Helper()
	payload, err := json.Marshal(guide.SessionGuide{
		Titulo: title,
		Propositos: []guide.LearningPurpose{{
			Competencia:         "Indaga",
			CriteriosEvaluacion: []string{"Formula preguntas"},
		}},
		Fases: []guide.SessionPhase{
			{Fase: guide.PhaseInicio, Duracion: "10 minutos"},
			{Fase: guide.PhaseDesarrollo, Duracion: "30 minutos"},
			{Fase: guide.PhaseCierre, Duracion: "10 minutos"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return payload
}

func TestVersionStoreCreateDerivesSummaries(t *testing.T) {
	rows := newFakeRows()
	history := &fakeHistory{}
	vs := NewVersionStore(rows, history, nil)
	vs.newID = func() string { return "ver-1" }
	var hooked []string
	vs.OnWrite(func(ctx context.Context, rec Record) { hooked = append(hooked, rec.ID) })

	id, err := vs.Create(context.Background(), KindGuiaVersion, VersionPayload{SessionID: "ses-1", Author: "docente", Content: samplePayload(t, "Sesión: agua")})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id != "ver-1" {
		t.Fatalf("id = %s", id)
	}
	rec := rows.versions["ver-1"]
	if rec.ObjetivosTexto != "Indaga: Formula preguntas" {
		t.Fatalf("objetivos = %q", rec.ObjetivosTexto)
	}
	if !strings.Contains(string(rec.Estructura), `"fase":"DESARROLLO"`) {
		t.Fatalf("estructura = %s", rec.Estructura)
	}
	if rows.commits["ver-1"] != "abc1234" {
		t.Fatalf("commit not recorded: %v", rows.commits)
	}
	if len(hooked) != 1 {
		t.Fatalf("hook calls = %d", len(hooked))
	}
}

func TestVersionStoreSilentUpdate(t *testing.T) {
	rows := newFakeRows()
	vs := NewVersionStore(rows, &fakeHistory{}, nil)
	vs.newID = func() string { return "ver-1" }
	hooks := 0
	vs.OnWrite(func(ctx context.Context, rec Record) { hooks++ })

	if _, err := vs.Create(context.Background(), KindGuiaVersion, VersionPayload{SessionID: "ses-1", Content: samplePayload(t, "uno")}); err != nil {
		t.Fatal(err)
	}
	rec, err := vs.Update(context.Background(), "ver-1", samplePayload(t, "dos"), UpdateOptions{Silent: true})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if rec.Revision != 2 {
		t.Fatalf("revision = %d", rec.Revision)
	}
	if len(rows.touched) != 0 || hooks != 1 {
		t.Fatalf("silent update touched=%v hooks=%d", rows.touched, hooks)
	}

	if _, err := vs.Update(context.Background(), "ver-1", samplePayload(t, "tres"), UpdateOptions{}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(rows.touched) != 1 || rows.touched[0] != "ses-1" || hooks != 2 {
		t.Fatalf("loud update touched=%v hooks=%d", rows.touched, hooks)
	}
}

func TestVersionStoreHistoryFailureDoesNotFailWrite(t *testing.T) {
	rows := newFakeRows()
	vs := NewVersionStore(rows, &fakeHistory{err: errors.New("disk full")}, nil)
	if _, err := vs.Create(context.Background(), KindGuiaVersion, VersionPayload{SessionID: "ses-1", Content: samplePayload(t, "uno")}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(rows.versions) != 1 || len(rows.commits) != 0 {
		t.Fatalf("versions=%d commits=%d", len(rows.versions), len(rows.commits))
	}
}

func TestVersionStoreRejectsBadInput(t *testing.T) {
	vs := NewVersionStore(newFakeRows(), nil, nil)
	ctx := context.Background()
	if _, err := vs.Create(ctx, "plan", VersionPayload{SessionID: "s", Content: samplePayload(t, "x")}); err == nil {
		t.Fatal("expected unsupported kind error")
	}
	if _, err := vs.Create(ctx, KindGuiaVersion, VersionPayload{Content: samplePayload(t, "x")}); err == nil {
		t.Fatal("expected missing session error")
	}
	if _, err := vs.Create(ctx, KindGuiaVersion, VersionPayload{SessionID: "s", Content: json.RawMessage(`[1,2]`)}); err == nil {
		t.Fatal("expected decode error")
	}
	if _, err := vs.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get err = %v", err)
	}
}

func TestVersionStoreDeleteRunsHook(t *testing.T) {
	rows := newFakeRows()
	vs := NewVersionStore(rows, nil, nil)
	vs.newID = func() string { return "ver-1" }
	var deleted []string
	vs.OnDelete(func(ctx context.Context, id string) { deleted = append(deleted, id) })

	if _, err := vs.Create(context.Background(), KindGuiaVersion, VersionPayload{SessionID: "ses-1", Content: samplePayload(t, "uno")}); err != nil {
		t.Fatal(err)
	}
	if err := vs.Delete(context.Background(), "ver-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(rows.versions) != 0 || len(deleted) != 1 || deleted[0] != "ver-1" {
		t.Fatalf("versions=%d deleted=%v", len(rows.versions), deleted)
	}
}

func TestVersionStoreRejectsGuidesBreakingInvariants(t *testing.T) {
	rows := newFakeRows()
	vs := NewVersionStore(rows, nil, nil)
	vs.newID = func() string { return "ver-1" }
	ctx := context.Background()

	badPhases := json.RawMessage(`{"titulo":"x","propositos_aprendizaje":[{"competencia":"Indaga","criterios_evaluacion":[]}],"secuencia_didactica":[{"fase":"FOO","duracion":"10 minutos"}]}`)
	if _, err := vs.Create(ctx, KindGuiaVersion, VersionPayload{SessionID: "ses-1", Content: badPhases}); !errors.Is(err, guide.ErrInvalidGuide) {
		t.Fatalf("Create err = %v, want ErrInvalidGuide", err)
	}
	if len(rows.versions) != 0 {
		t.Fatalf("invalid guide persisted: %v", rows.versions)
	}

	if _, err := vs.Create(ctx, KindGuiaVersion, VersionPayload{SessionID: "ses-1", Content: samplePayload(t, "uno")}); err != nil {
		t.Fatal(err)
	}
	doc, err := guide.Decode(samplePayload(t, "dos"))
	if err != nil {
		t.Fatal(err)
	}
	doc.Propositos[0].CriteriosEvaluacion = []string{""}
	blank, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := vs.Update(ctx, "ver-1", blank, UpdateOptions{}); !errors.Is(err, guide.ErrInvalidGuide) {
		t.Fatalf("Update err = %v, want ErrInvalidGuide", err)
	}
	if rows.versions["ver-1"].Revision != 1 {
		t.Fatalf("revision = %d", rows.versions["ver-1"].Revision)
	}
}
