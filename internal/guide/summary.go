package guide

import "strings"

// ObjectivesText flattens the learning purposes into one line per
// competency, used for listing and search.
func ObjectivesText(g SessionGuide) string {
	lines := make([]string, 0, len(g.Propositos))
	for _, purpose := range g.Propositos {
		line := strings.TrimSpace(purpose.Competencia)
		if len(purpose.CriteriosEvaluacion) > 0 {
			line += ": " + strings.Join(purpose.CriteriosEvaluacion, "; ")
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

type Outline struct {
	Titulo string         `json:"titulo"`
	Fases  []OutlinePhase `json:"fases"`
}

type OutlinePhase struct {
	Fase     PhaseTag `json:"fase"`
	Duracion string   `json:"duracion"`
	Subfases []string `json:"subfases"`
}

func BuildOutline(g SessionGuide) Outline {
	out := Outline{Titulo: g.Titulo, Fases: make([]OutlinePhase, 0, len(g.Fases))}
	for _, phase := range g.Fases {
		names := make([]string, 0, len(phase.Subfases))
		for _, sub := range phase.Subfases {
			names = append(names, sub.Nombre)
		}
		out.Fases = append(out.Fases, OutlinePhase{Fase: phase.Fase, Duracion: phase.Duracion, Subfases: names})
	}
	return out
}
