// Package normalize maps a recovered document tree plus the original
// generation request into a canonical guide.SessionGuide.
//
// Normalization never fails. Each field takes the tree's value when it is
// present and well-typed, otherwise a value derived from the request,
// otherwise one of the bracketed Placeholder constants.
package normalize

import (
	"fmt"
	"strings"

	"guias/api/internal/guide"
)

// Placeholders mark fields nothing could fill. They are bracketed so
// consumers can tell them apart from generated content.
const (
	PlaceholderTitulo       = "[Título por definir]"
	PlaceholderNivel        = "[Nivel por definir]"
	PlaceholderGrado        = "[Grado por definir]"
	PlaceholderArea         = "[Área por definir]"
	PlaceholderDuracion     = "[Duración por definir]"
	PlaceholderSituacion    = "[Situación significativa por definir]"
	PlaceholderCompetencia  = "[Competencia por definir]"
	PlaceholderCapacidad    = "[Capacidad por definir]"
	PlaceholderCriterio     = "[Criterio de evaluación por definir]"
	PlaceholderEvidencia    = "[Evidencia por definir]"
	PlaceholderInstrumento  = "[Instrumento por definir]"
	PlaceholderEnfoque      = "[Enfoque por definir]"
	PlaceholderPreparacion  = "[Preparación por definir]"
	PlaceholderActividades  = "[Actividades por definir]"
	PlaceholderEstrategia   = "[Estrategia por definir]"
	PlaceholderSubfase      = "[Subfase por definir]"
	transversalFallbackText = "Se promueve el enfoque %s durante la sesión."
)

// Report describes what normalization had to fill in or discard.
type Report struct {
	Fallback      bool
	Placeholders  int
	LiftedLists   int
	Synthesized   int
	DroppedPhases []string
}

func Normalize(tree map[string]any, req guide.Request) guide.SessionGuide {
	g, _ := NormalizeWithReport(tree, req)
	return g
}

func NormalizeWithReport(tree map[string]any, req guide.Request) (guide.SessionGuide, Report) {
	n := &normalizer{req: req}
	if tree == nil {
		n.report.Fallback = true
		tree = map[string]any{}
	}

	g := guide.SessionGuide{
		Titulo:   n.pick(str(tree, "titulo", "title"), topicTitle(req.Tema), PlaceholderTitulo),
		Nivel:    n.pick(str(tree, "nivel"), strings.TrimSpace(req.Nivel), PlaceholderNivel),
		Grado:    n.pick(str(tree, "grado"), strings.TrimSpace(req.Grado), PlaceholderGrado),
		Area:     n.pick(str(tree, "area", "área"), strings.TrimSpace(req.Area), PlaceholderArea),
		Duracion: n.pick(str(tree, "duracion", "duración"), minutes(req.Duracion), PlaceholderDuracion),
	}
	g.SituacionSignificativa = n.situation(tree)
	g.Propositos = n.purposes(list(tree, "propositos_aprendizaje", "propositos"))
	g.Enfoques = n.approaches(list(tree, "enfoques_transversales", "enfoques"))
	g.Preparacion = n.preparation(tree)
	g.Fases = n.phases(tree)
	g.Adaptaciones = n.adaptations(tree)
	return g, n.report
}

type normalizer struct {
	req    guide.Request
	report Report
}

// pick returns the first non-empty candidate. The last candidate is the
// placeholder and is counted when used.
func (n *normalizer) pick(values ...string) string {
	for i, value := range values {
		if value == "" {
			continue
		}
		if i == len(values)-1 {
			n.report.Placeholders++
		}
		return value
	}
	return ""
}

func firstList(values ...[]string) []string {
	for _, value := range values {
		if len(value) > 0 {
			return value
		}
	}
	return nil
}

func (n *normalizer) placeholderList(value string) []string {
	n.report.Placeholders++
	return []string{value}
}

func (n *normalizer) situation(tree map[string]any) guide.Situation {
	switch v := tree["situacion_significativa"].(type) {
	case string:
		if text := strings.TrimSpace(v); text != "" {
			return guide.Situation{Texto: text}
		}
	case map[string]any:
		s := guide.Situation{
			Texto:    str(v, "texto", "descripcion"),
			Contexto: str(v, "contexto"),
			Reto:     str(v, "reto", "desafio"),
			Producto: str(v, "producto"),
		}
		if s.Structured() || s.Texto != "" {
			return s
		}
	}
	return guide.Situation{Texto: n.pick(strings.TrimSpace(n.req.Contexto), PlaceholderSituacion)}
}

func (n *normalizer) purposes(items []any) []guide.LearningPurpose {
	count := max(len(items), len(n.req.Competencias), 1)
	out := make([]guide.LearningPurpose, 0, count)
	for i := 0; i < count; i++ {
		var entry map[string]any
		if i < len(items) {
			switch v := items[i].(type) {
			case map[string]any:
				entry = v
			case string:
				entry = map[string]any{"competencia": v}
			}
		}
		var requested guide.Competency
		if i < len(n.req.Competencias) {
			requested = n.req.Competencias[i]
		}

		purpose := guide.LearningPurpose{
			Competencia: n.pick(str(entry, "competencia", "nombre"), strings.TrimSpace(requested.Nombre), PlaceholderCompetencia),
			Evidencia:   n.pick(str(entry, "evidencia", "evidencias"), PlaceholderEvidencia),
			Instrumento: n.pick(str(entry, "instrumento", "instrumento_evaluacion"), PlaceholderInstrumento),
		}
		purpose.Capacidades = firstList(n.stringList(entry, "capacidades"), cleanList(requested.Desempenos))
		if len(purpose.Capacidades) == 0 {
			purpose.Capacidades = n.placeholderList(PlaceholderCapacidad)
		}
		purpose.CriteriosEvaluacion = n.stringList(entry, "criterios_evaluacion", "criterios", "criterio")
		if len(purpose.CriteriosEvaluacion) == 0 {
			purpose.CriteriosEvaluacion = n.placeholderList(PlaceholderCriterio)
		}
		out = append(out, purpose)
	}
	return out
}

func (n *normalizer) approaches(items []any) []guide.TransversalApproach {
	out := make([]guide.TransversalApproach, 0, len(items)+len(n.req.Enfoques))
	seen := make(map[string]bool)
	for _, item := range items {
		var entry map[string]any
		switch v := item.(type) {
		case map[string]any:
			entry = v
		case string:
			entry = map[string]any{"nombre": v}
		default:
			continue
		}
		approach := guide.TransversalApproach{
			Nombre:            n.pick(str(entry, "nombre", "enfoque"), PlaceholderEnfoque),
			Valor:             str(entry, "valor"),
			ActitudDocente:    str(entry, "actitud_docente"),
			ActitudEstudiante: str(entry, "actitud_estudiante"),
		}
		approach.Descripcion = str(entry, "descripcion")
		if approach.Descripcion == "" {
			approach.Descripcion = n.describe(approach)
		}
		seen[strings.ToLower(approach.Nombre)] = true
		out = append(out, approach)
	}
	for _, name := range n.req.Enfoques {
		name = strings.TrimSpace(name)
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		n.report.Synthesized++
		out = append(out, guide.TransversalApproach{Nombre: name, Descripcion: fmt.Sprintf(transversalFallbackText, name)})
	}
	return out
}

// describe builds a description from the richer legacy fields.
func (n *normalizer) describe(approach guide.TransversalApproach) string {
	n.report.Synthesized++
	var parts []string
	if approach.ActitudDocente != "" {
		parts = append(parts, "Docente: "+approach.ActitudDocente)
	}
	if approach.ActitudEstudiante != "" {
		parts = append(parts, "Estudiantes: "+approach.ActitudEstudiante)
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	if approach.Valor != "" {
		return approach.Valor
	}
	return fmt.Sprintf(transversalFallbackText, approach.Nombre)
}

func (n *normalizer) preparation(tree map[string]any) guide.Preparation {
	entry := obj(tree, "preparacion", "preparación")
	before := str(entry, "antes_sesion", "antes_de_la_sesion")
	if before == "" {
		if items := n.stringList(entry, "antes_sesion", "antes_de_la_sesion"); len(items) > 0 {
			before = strings.Join(items, "\n")
		}
	}
	materials := firstList(n.stringList(entry, "materiales", "recursos"), cleanList(n.req.Materiales))
	if materials == nil {
		materials = []string{}
	}
	return guide.Preparation{
		AntesSesion: n.pick(before, PlaceholderPreparacion),
		Materiales:  materials,
	}
}

func (n *normalizer) adaptations(tree map[string]any) *guide.Adaptations {
	entry := obj(tree, "adaptaciones", "adaptaciones_curriculares")
	if entry == nil {
		names := cleanList(n.req.Adaptaciones)
		notes := cleanList(n.req.NotasAdaptacion)
		if len(names) == 0 && len(notes) == 0 {
			return nil
		}
		return &guide.Adaptations{
			EstrategiaGeneral: n.pick(strings.Join(notes, " "), PlaceholderEstrategia),
			ApoyoAdicional:    names,
		}
	}
	return &guide.Adaptations{
		EstrategiaGeneral: n.pick(str(entry, "estrategia_general", "estrategia"), strings.Join(cleanList(n.req.NotasAdaptacion), " "), PlaceholderEstrategia),
		ApoyoAdicional:    n.stringList(entry, "apoyo_adicional"),
		ExtensionAvanzada: n.stringList(entry, "extension_avanzada"),
		RecursosApoyo:     n.stringList(entry, "recursos_apoyo"),
	}
}

// stringList reads a list of strings, lifting a single string into a
// one-element list.
func (n *normalizer) stringList(m map[string]any, keys ...string) []string {
	for _, key := range keys {
		switch v := m[key].(type) {
		case string:
			if text := strings.TrimSpace(v); text != "" {
				n.report.LiftedLists++
				return []string{text}
			}
		case []any:
			if out := stringItems(v); len(out) > 0 {
				return out
			}
		}
	}
	return nil
}

func topicTitle(topic string) string {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return ""
	}
	return "Sesión: " + topic
}

func minutes(total int) string {
	if total <= 0 {
		return ""
	}
	return fmt.Sprintf("%d minutos", total)
}
