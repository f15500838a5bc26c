package generator

import (
	"fmt"
	"strings"

	"guias/api/internal/guide"
)

const systemPrompt = "Eres un especialista en planificación curricular de educación básica. Responde ÚNICAMENTE con un objeto JSON válido, sin texto adicional."

const schemaHint = `{
  "titulo": "...", "nivel": "...", "grado": "...", "area": "...", "duracion": "...",
  "situacion_significativa": {"contexto": "...", "reto": "...", "producto": "..."},
  "propositos_aprendizaje": [{"competencia": "...", "capacidades": ["..."], "criterios_evaluacion": ["..."], "evidencia": "...", "instrumento": "..."}],
  "enfoques_transversales": [{"nombre": "...", "descripcion": "...", "actitud_docente": "...", "actitud_estudiante": "..."}],
  "preparacion": {"antes_sesion": "...", "materiales": ["..."]},
  "secuencia_didactica": [
    {"fase": "INICIO", "duracion": "...", "objetivo": "...", "actividades_docente": ["..."], "actividades_estudiante": ["..."]},
    {"fase": "DESARROLLO", "duracion": "...", "objetivo": "...", "metodologia_activa": "...",
     "subfases": [{"nombre": "...", "duracion": "...", "guion": ["..."], "producto_parcial": "..."}]},
    {"fase": "CIERRE", "duracion": "...", "objetivo": "...", "actividades_docente": ["..."], "actividades_estudiante": ["..."]}
  ],
  "adaptaciones": {"estrategia_general": "...", "apoyo_adicional": ["..."], "extension_avanzada": ["..."], "recursos_apoyo": ["..."]}
}`

// RenderPrompt builds the user message for a generation request.
func RenderPrompt(req guide.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Elabora una sesión de aprendizaje sobre \"%s\".\n", strings.TrimSpace(req.Tema))
	line(&b, "Nivel", req.Nivel)
	line(&b, "Grado", req.Grado)
	line(&b, "Área", req.Area)
	if req.Duracion > 0 {
		fmt.Fprintf(&b, "Duración: %d minutos (INICIO 20%%, DESARROLLO 60%%, CIERRE 20%%)\n", req.Duracion)
	}
	line(&b, "Contexto", req.Contexto)
	list(&b, "Materiales disponibles", req.Materiales)

	if len(req.Competencias) > 0 {
		b.WriteString("Competencias:\n")
		for _, c := range req.Competencias {
			fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(c.Nombre))
			for _, d := range c.Desempenos {
				fmt.Fprintf(&b, "  * desempeño: %s\n", strings.TrimSpace(d))
			}
		}
	}
	list(&b, "Enfoques transversales", req.Enfoques)
	list(&b, "Adaptaciones requeridas", req.Adaptaciones)
	list(&b, "Notas de adaptación", req.NotasAdaptacion)

	b.WriteString("\nIncluye un propósito de aprendizaje por cada competencia, en el mismo orden.\n")
	b.WriteString("Usa exactamente las fases INICIO, DESARROLLO y CIERRE.\n")
	b.WriteString("Estructura esperada:\n")
	b.WriteString(schemaHint)
	return b.String()
}

func line(b *strings.Builder, label, value string) {
	if value = strings.TrimSpace(value); value != "" {
		fmt.Fprintf(b, "%s: %s\n", label, value)
	}
}

func list(b *strings.Builder, label string, values []string) {
	var kept []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, strings.Join(kept, ", "))
}
