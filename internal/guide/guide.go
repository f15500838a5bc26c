// Package guide holds the canonical session guide document and the closed
// set of edits the editor may apply to it.
package guide

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

type SessionGuide struct {
	Titulo                 string                `json:"titulo"`
	Nivel                  string                `json:"nivel"`
	Grado                  string                `json:"grado"`
	Area                   string                `json:"area"`
	Duracion               string                `json:"duracion"`
	SituacionSignificativa Situation             `json:"situacion_significativa"`
	Propositos             []LearningPurpose     `json:"propositos_aprendizaje"`
	Enfoques               []TransversalApproach `json:"enfoques_transversales"`
	Preparacion            Preparation           `json:"preparacion"`
	Fases                  []SessionPhase        `json:"secuencia_didactica"`
	Adaptaciones           *Adaptations          `json:"adaptaciones,omitempty"`
}

// Situation is either free text or a structured context/challenge/product
// triple. Both forms round-trip.
type Situation struct {
	Texto    string
	Contexto string
	Reto     string
	Producto string
}

func (s Situation) Structured() bool {
	return s.Contexto != "" || s.Reto != "" || s.Producto != ""
}

type structuredSituation struct {
	Texto    string `json:"texto,omitempty"`
	Contexto string `json:"contexto"`
	Reto     string `json:"reto"`
	Producto string `json:"producto"`
}

func (s Situation) MarshalJSON() ([]byte, error) {
	if !s.Structured() {
		return json.Marshal(s.Texto)
	}
	return json.Marshal(structuredSituation{Texto: s.Texto, Contexto: s.Contexto, Reto: s.Reto, Producto: s.Producto})
}

func (s *Situation) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*s = Situation{}
		return nil
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return fmt.Errorf("decode situacion_significativa: %w", err)
		}
		*s = Situation{Texto: text}
		return nil
	}
	var structured structuredSituation
	if err := json.Unmarshal(trimmed, &structured); err != nil {
		return fmt.Errorf("decode situacion_significativa: %w", err)
	}
	*s = Situation(structured)
	return nil
}

type LearningPurpose struct {
	Competencia         string   `json:"competencia"`
	Capacidades         []string `json:"capacidades"`
	CriteriosEvaluacion []string `json:"criterios_evaluacion"`
	Evidencia           string   `json:"evidencia"`
	Instrumento         string   `json:"instrumento"`
}

type TransversalApproach struct {
	Nombre            string `json:"nombre"`
	Descripcion       string `json:"descripcion"`
	Valor             string `json:"valor,omitempty"`
	ActitudDocente    string `json:"actitud_docente,omitempty"`
	ActitudEstudiante string `json:"actitud_estudiante,omitempty"`
}

type Preparation struct {
	AntesSesion string   `json:"antes_sesion"`
	Materiales  []string `json:"materiales"`
}

type PhaseTag string

const (
	PhaseInicio     PhaseTag = "INICIO"
	PhaseDesarrollo PhaseTag = "DESARROLLO"
	PhaseCierre     PhaseTag = "CIERRE"
)

// PhaseOrder is the order phases appear in a guide.
var PhaseOrder = [3]PhaseTag{PhaseInicio, PhaseDesarrollo, PhaseCierre}

var ErrUnknownPhase = errors.New("unknown phase tag")

// ParsePhaseTag accepts the three tags in any letter case. Anything else
// is rejected.
func ParsePhaseTag(raw string) (PhaseTag, error) {
	switch tag := PhaseTag(strings.ToUpper(strings.TrimSpace(raw))); tag {
	case PhaseInicio, PhaseDesarrollo, PhaseCierre:
		return tag, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPhase, raw)
	}
}

type SessionPhase struct {
	Fase                  PhaseTag   `json:"fase"`
	Duracion              string     `json:"duracion"`
	Actividades           string     `json:"actividades,omitempty"`
	Objetivo              string     `json:"objetivo,omitempty"`
	ActividadesDocente    []string   `json:"actividades_docente,omitempty"`
	ActividadesEstudiante []string   `json:"actividades_estudiante,omitempty"`
	MetodologiaActiva     string     `json:"metodologia_activa,omitempty"`
	Subfases              []Subphase `json:"subfases,omitempty"`
}

type Subphase struct {
	Nombre          string   `json:"nombre"`
	Duracion        string   `json:"duracion"`
	Guion           []string `json:"guion"`
	ProductoParcial string   `json:"producto_parcial"`
}

type Adaptations struct {
	EstrategiaGeneral string   `json:"estrategia_general"`
	ApoyoAdicional    []string `json:"apoyo_adicional,omitempty"`
	ExtensionAvanzada []string `json:"extension_avanzada,omitempty"`
	RecursosApoyo     []string `json:"recursos_apoyo,omitempty"`
}

var ErrInvalidGuide = errors.New("invalid guide")

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid guide: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidGuide
}

// Validate checks the structural invariants every stored guide keeps.
func (g SessionGuide) Validate() error {
	if len(g.Fases) != len(PhaseOrder) {
		return &ValidationError{Field: "secuencia_didactica", Reason: fmt.Sprintf("has %d phases, want %d", len(g.Fases), len(PhaseOrder))}
	}
	seen := make(map[PhaseTag]bool, len(PhaseOrder))
	for i, phase := range g.Fases {
		tag, err := ParsePhaseTag(string(phase.Fase))
		if err != nil || tag != phase.Fase {
			return &ValidationError{Field: fmt.Sprintf("secuencia_didactica[%d].fase", i), Reason: fmt.Sprintf("has unknown tag %q", phase.Fase)}
		}
		if seen[tag] {
			return &ValidationError{Field: fmt.Sprintf("secuencia_didactica[%d].fase", i), Reason: fmt.Sprintf("repeats tag %s", tag)}
		}
		seen[tag] = true
	}
	for i, purpose := range g.Propositos {
		if len(purpose.CriteriosEvaluacion) == 0 {
			return &ValidationError{Field: fmt.Sprintf("propositos_aprendizaje[%d].criterios_evaluacion", i), Reason: "is empty"}
		}
		for j, criterion := range purpose.CriteriosEvaluacion {
			if strings.TrimSpace(criterion) == "" {
				return &ValidationError{Field: fmt.Sprintf("propositos_aprendizaje[%d].criterios_evaluacion[%d]", i, j), Reason: "is blank"}
			}
		}
	}
	for i, approach := range g.Enfoques {
		if strings.TrimSpace(approach.Descripcion) == "" {
			return &ValidationError{Field: fmt.Sprintf("enfoques_transversales[%d].descripcion", i), Reason: "is empty"}
		}
	}
	return nil
}

// Clone returns a copy of g that shares no slices or pointers with it.
func (g SessionGuide) Clone() SessionGuide {
	out := g
	out.Propositos = slices.Clone(g.Propositos)
	for i := range out.Propositos {
		out.Propositos[i].Capacidades = slices.Clone(out.Propositos[i].Capacidades)
		out.Propositos[i].CriteriosEvaluacion = slices.Clone(out.Propositos[i].CriteriosEvaluacion)
	}
	out.Enfoques = slices.Clone(g.Enfoques)
	out.Preparacion.Materiales = slices.Clone(g.Preparacion.Materiales)
	out.Fases = slices.Clone(g.Fases)
	for i := range out.Fases {
		phase := &out.Fases[i]
		phase.ActividadesDocente = slices.Clone(phase.ActividadesDocente)
		phase.ActividadesEstudiante = slices.Clone(phase.ActividadesEstudiante)
		phase.Subfases = slices.Clone(phase.Subfases)
		for j := range phase.Subfases {
			phase.Subfases[j].Guion = slices.Clone(phase.Subfases[j].Guion)
		}
	}
	if g.Adaptaciones != nil {
		adaptations := *g.Adaptaciones
		adaptations.ApoyoAdicional = slices.Clone(adaptations.ApoyoAdicional)
		adaptations.ExtensionAvanzada = slices.Clone(adaptations.ExtensionAvanzada)
		adaptations.RecursosApoyo = slices.Clone(adaptations.RecursosApoyo)
		out.Adaptaciones = &adaptations
	}
	return out
}

// Phase returns the phase with the given tag.
func (g SessionGuide) Phase(tag PhaseTag) (SessionPhase, bool) {
	for _, phase := range g.Fases {
		if phase.Fase == tag {
			return phase, true
		}
	}
	return SessionPhase{}, false
}

// Canonical is the serialized snapshot used to compare document states.
func Canonical(g SessionGuide) ([]byte, error) {
	payload, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("marshal guide: %w", err)
	}
	return payload, nil
}

func Decode(payload []byte) (SessionGuide, error) {
	var g SessionGuide
	if err := json.Unmarshal(payload, &g); err != nil {
		return SessionGuide{}, fmt.Errorf("decode guide: %w", err)
	}
	return g, nil
}
