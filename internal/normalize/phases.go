package normalize

import (
	"sort"
	"strings"

	"guias/api/internal/guide"
)

type phaseEntry struct {
	label string
	body  map[string]any
}

// phases fills the three fixed slots. Tree entries with a known tag take
// their slot (first one wins); unknown tags are dropped and reported.
func (n *normalizer) phases(tree map[string]any) []guide.SessionPhase {
	slots := make(map[guide.PhaseTag]guide.SessionPhase, len(guide.PhaseOrder))
	for _, entry := range phaseEntries(tree) {
		tag, err := guide.ParsePhaseTag(entry.label)
		if err != nil {
			n.report.DroppedPhases = append(n.report.DroppedPhases, entry.label)
			continue
		}
		if _, taken := slots[tag]; taken {
			n.report.DroppedPhases = append(n.report.DroppedPhases, entry.label)
			continue
		}
		slots[tag] = n.phase(tag, entry.body)
	}

	out := make([]guide.SessionPhase, 0, len(guide.PhaseOrder))
	for _, tag := range guide.PhaseOrder {
		if phase, ok := slots[tag]; ok {
			out = append(out, phase)
			continue
		}
		out = append(out, guide.SessionPhase{
			Fase:        tag,
			Duracion:    n.pick(n.split(tag), PlaceholderDuracion),
			Actividades: n.pick(PlaceholderActividades),
		})
	}
	return out
}

// phaseEntries accepts either a list of tagged objects or an object keyed
// by tag.
func phaseEntries(tree map[string]any) []phaseEntry {
	var raw any
	for _, key := range []string{"secuencia_didactica", "momentos", "fases"} {
		if v, ok := tree[key]; ok && v != nil {
			raw = v
			break
		}
	}

	var entries []phaseEntry
	switch v := raw.(type) {
	case []any:
		for _, item := range v {
			body, ok := item.(map[string]any)
			if !ok {
				continue
			}
			entries = append(entries, phaseEntry{label: str(body, "fase", "momento", "nombre"), body: body})
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			switch body := v[key].(type) {
			case map[string]any:
				entries = append(entries, phaseEntry{label: key, body: body})
			case string:
				entries = append(entries, phaseEntry{label: key, body: map[string]any{"actividades": body}})
			}
		}
	}
	return entries
}

func (n *normalizer) phase(tag guide.PhaseTag, body map[string]any) guide.SessionPhase {
	phase := guide.SessionPhase{
		Fase:                  tag,
		Duracion:              n.pick(str(body, "duracion", "duración", "tiempo"), n.split(tag), PlaceholderDuracion),
		Objetivo:              str(body, "objetivo", "proposito"),
		ActividadesDocente:    n.stringList(body, "actividades_docente", "docente"),
		ActividadesEstudiante: n.stringList(body, "actividades_estudiante", "estudiantes"),
		MetodologiaActiva:     str(body, "metodologia_activa", "metodologia"),
		Subfases:              n.subphases(list(body, "subfases", "subfase")),
	}
	switch v := body["actividades"].(type) {
	case string:
		phase.Actividades = strings.TrimSpace(v)
	case []any:
		phase.Actividades = strings.Join(stringItems(v), "\n")
	}
	if phase.Actividades == "" && phase.Objetivo == "" && len(phase.ActividadesDocente) == 0 &&
		len(phase.ActividadesEstudiante) == 0 && len(phase.Subfases) == 0 {
		phase.Actividades = n.pick(PlaceholderActividades)
	}
	return phase
}

func (n *normalizer) subphases(items []any) []guide.Subphase {
	var out []guide.Subphase
	for _, item := range items {
		body, ok := item.(map[string]any)
		if !ok {
			continue
		}
		guion := n.stringList(body, "guion", "preguntas")
		if guion == nil {
			guion = []string{}
		}
		out = append(out, guide.Subphase{
			Nombre:          n.pick(str(body, "nombre", "titulo"), PlaceholderSubfase),
			Duracion:        n.pick(str(body, "duracion", "duración", "tiempo"), PlaceholderDuracion),
			Guion:           guion,
			ProductoParcial: str(body, "producto_parcial", "producto"),
		})
	}
	return out
}

// split returns the request-derived duration of a phase: 20% opening,
// 20% closing, the rest development.
func (n *normalizer) split(tag guide.PhaseTag) string {
	total := n.req.Duracion
	if total <= 0 {
		return ""
	}
	edge := total * 20 / 100
	if tag == guide.PhaseDesarrollo {
		return minutes(total - 2*edge)
	}
	return minutes(edge)
}
