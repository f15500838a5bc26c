package guide

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func sampleGuide() SessionGuide {
	return SessionGuide{
		Titulo:   "Sesión: fracciones",
		Nivel:    "Primaria",
		Grado:    "4to",
		Area:     "Matemática",
		Duracion: "90 minutos",
		Propositos: []LearningPurpose{{
			Competencia:         "Resuelve problemas de cantidad",
			Capacidades:         []string{"Traduce cantidades"},
			CriteriosEvaluacion: []string{"Representa fracciones"},
		}},
		Enfoques: []TransversalApproach{{Nombre: "Inclusivo", Descripcion: "Se valora la diversidad."}},
		Fases: []SessionPhase{
			{Fase: PhaseInicio, Duracion: "18 minutos"},
			{Fase: PhaseDesarrollo, Duracion: "54 minutos", Subfases: []Subphase{{Nombre: "Exploración", Guion: []string{"¿Qué observan?"}}}},
			{Fase: PhaseCierre, Duracion: "18 minutos"},
		},
	}
}

func TestSituationAcceptsTextAndStructuredForms(t *testing.T) {
	var text Situation
	if err := json.Unmarshal([]byte(`"Los estudiantes organizan una feria"`), &text); err != nil {
		t.Fatalf("unmarshal text: %v", err)
	}
	if text.Texto != "Los estudiantes organizan una feria" || text.Structured() {
		t.Fatalf("unexpected situation: %+v", text)
	}

	var structured Situation
	if err := json.Unmarshal([]byte(`{"contexto":"feria","reto":"¿cómo repartir?","producto":"afiche"}`), &structured); err != nil {
		t.Fatalf("unmarshal structured: %v", err)
	}
	if !structured.Structured() || structured.Reto != "¿cómo repartir?" {
		t.Fatalf("unexpected situation: %+v", structured)
	}

	payload, err := json.Marshal(structured)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(payload), `"producto":"afiche"`) {
		t.Fatalf("structured form lost: %s", payload)
	}
	payload, _ = json.Marshal(text)
	if string(payload) != `"Los estudiantes organizan una feria"` {
		t.Fatalf("text form lost: %s", payload)
	}
}

func TestParsePhaseTag(t *testing.T) {
	if tag, err := ParsePhaseTag(" desarrollo "); err != nil || tag != PhaseDesarrollo {
		t.Fatalf("ParsePhaseTag = %q, %v", tag, err)
	}
	for _, raw := range []string{"", "OPENING", "MEDIO", "INICIO_2"} {
		if _, err := ParsePhaseTag(raw); !errors.Is(err, ErrUnknownPhase) {
			t.Fatalf("ParsePhaseTag(%q) err = %v", raw, err)
		}
	}
}

func TestValidate(t *testing.T) {
	g := sampleGuide()
	if err := g.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	broken := sampleGuide()
	broken.Fases[2].Fase = PhaseInicio
	if err := broken.Validate(); !errors.Is(err, ErrInvalidGuide) {
		t.Fatalf("duplicate tag err = %v", err)
	}

	broken = sampleGuide()
	broken.Propositos[0].CriteriosEvaluacion = nil
	if err := broken.Validate(); !errors.Is(err, ErrInvalidGuide) {
		t.Fatalf("empty criteria err = %v", err)
	}

	broken = sampleGuide()
	broken.Propositos[0].CriteriosEvaluacion = []string{"Representa fracciones", " "}
	if err := broken.Validate(); !errors.Is(err, ErrInvalidGuide) {
		t.Fatalf("blank criterion err = %v", err)
	}

	broken = sampleGuide()
	broken.Fases = broken.Fases[:2]
	if err := broken.Validate(); !errors.Is(err, ErrInvalidGuide) {
		t.Fatalf("two phases err = %v", err)
	}
}

func TestApplyReplacesOnlyTargetedField(t *testing.T) {
	g := sampleGuide()
	next, err := Apply(g, FieldPath{Kind: PathFaseActividades, Index: 1}, "Trabajo en equipos")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if next.Fases[1].Actividades != "Trabajo en equipos" {
		t.Fatalf("phase not updated: %+v", next.Fases[1])
	}
	if g.Fases[1].Actividades != "" {
		t.Fatal("original guide was modified")
	}
	if &next.Propositos[0] != &g.Propositos[0] {
		t.Fatal("untouched purposes should be shared")
	}
}

func TestApplySubphaseGuionFromDecodedJSON(t *testing.T) {
	g := sampleGuide()
	var value any
	if err := json.Unmarshal([]byte(`["Pregunta 1","Pregunta 2"]`), &value); err != nil {
		t.Fatal(err)
	}
	next, err := Apply(g, FieldPath{Kind: PathSubfaseGuion, Index: 1, Sub: 0}, value)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := next.Fases[1].Subfases[0].Guion; len(got) != 2 || got[1] != "Pregunta 2" {
		t.Fatalf("guion = %v", got)
	}
	if len(g.Fases[1].Subfases[0].Guion) != 1 {
		t.Fatal("original subphase was modified")
	}
}

func TestApplyRejectsStructuralBreaks(t *testing.T) {
	g := sampleGuide()
	cases := []struct {
		name  string
		path  FieldPath
		value any
		want  error
	}{
		{"empty criteria", FieldPath{Kind: PathPropositoCriterios}, []string{}, ErrInvalidValue},
		{"blank criterion", FieldPath{Kind: PathPropositoCriterios}, []any{"Compara fracciones", ""}, ErrInvalidValue},
		{"blank description", FieldPath{Kind: PathEnfoqueDescripcion}, "  ", ErrInvalidValue},
		{"wrong type", FieldPath{Kind: PathTitulo}, 42, ErrInvalidValue},
		{"mixed list", FieldPath{Kind: PathPreparacionMateriales}, []any{"lápiz", 3}, ErrInvalidValue},
		{"phase out of range", FieldPath{Kind: PathFaseObjetivo, Index: 3}, "x", ErrInvalidPath},
		{"subphase out of range", FieldPath{Kind: PathSubfaseNombre, Index: 0}, "x", ErrInvalidPath},
		{"unknown kind", FieldPath{Kind: "fase"}, "CIERRE", ErrInvalidPath},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Apply(g, tc.path, tc.value)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			var pathErr *PathError
			if !errors.As(err, &pathErr) || pathErr.Path != tc.path {
				t.Fatalf("err = %#v, want *PathError", err)
			}
		})
	}
}

func TestCloneSharesNothing(t *testing.T) {
	g := sampleGuide()
	g.Preparacion.Materiales = []string{"Regletas"}
	g.Fases[0].ActividadesDocente = []string{"Saluda"}
	g.Adaptaciones = &Adaptations{ApoyoAdicional: []string{"Material concreto"}}

	clone := g.Clone()
	clone.Propositos[0].CriteriosEvaluacion[0] = ""
	clone.Propositos[0].Capacidades[0] = ""
	clone.Enfoques[0].Descripcion = ""
	clone.Preparacion.Materiales[0] = ""
	clone.Fases[0].Duracion = "999 minutos"
	clone.Fases[0].ActividadesDocente[0] = ""
	clone.Fases[1].Subfases[0].Guion[0] = ""
	clone.Adaptaciones.ApoyoAdicional[0] = ""

	if err := g.Validate(); err != nil {
		t.Fatalf("original changed through clone: %v", err)
	}
	if g.Fases[0].Duracion != "18 minutos" || g.Fases[0].ActividadesDocente[0] != "Saluda" ||
		g.Fases[1].Subfases[0].Guion[0] != "¿Qué observan?" || g.Preparacion.Materiales[0] != "Regletas" ||
		g.Propositos[0].Capacidades[0] != "Traduce cantidades" || g.Adaptaciones.ApoyoAdicional[0] != "Material concreto" {
		t.Fatalf("original changed through clone: %+v", g)
	}
}

func TestApplyAdaptationsCreatesBlock(t *testing.T) {
	g := sampleGuide()
	next, err := Apply(g, FieldPath{Kind: PathAdaptacionesApoyo}, []string{"Material concreto"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if next.Adaptaciones == nil || next.Adaptaciones.ApoyoAdicional[0] != "Material concreto" {
		t.Fatalf("adaptaciones = %+v", next.Adaptaciones)
	}
	if g.Adaptaciones != nil {
		t.Fatal("original guide was modified")
	}
}

func TestFieldPathWireFormat(t *testing.T) {
	var path FieldPath
	if err := json.Unmarshal([]byte(`{"kind":"fase_actividades","index":1}`), &path); err != nil {
		t.Fatal(err)
	}
	if path.Kind != PathFaseActividades || path.Index != 1 {
		t.Fatalf("path = %+v", path)
	}
	if path.String() != "fase_actividades[1]" {
		t.Fatalf("String() = %s", path.String())
	}
}

func TestSummaries(t *testing.T) {
	g := sampleGuide()
	if got := ObjectivesText(g); got != "Resuelve problemas de cantidad: Representa fracciones" {
		t.Fatalf("ObjectivesText = %q", got)
	}
	outline := BuildOutline(g)
	if len(outline.Fases) != 3 || outline.Fases[1].Subfases[0] != "Exploración" {
		t.Fatalf("outline = %+v", outline)
	}
}
