package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"

	"guias/api/internal/guide"
)

//go:embed templates/*.html
var templateFS embed.FS

var guideTemplate = template.Must(template.New("guide.html").Funcs(template.FuncMap{
	"lines":     splitLines,
	"phaseName": phaseName,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).ParseFS(templateFS, "templates/guide.html"))

// TemplateData holds data for guide template rendering.
type TemplateData struct {
	Guide       guide.SessionGuide
	Revision    int
	GeneratedAt time.Time
}

// RenderGuideHTML renders the guide template with provided data.
func RenderGuideHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := guideTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func splitLines(text string) []string {
	out := make([]string, 0)
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func phaseName(tag guide.PhaseTag) string {
	switch tag {
	case guide.PhaseInicio:
		return "Inicio"
	case guide.PhaseDesarrollo:
		return "Desarrollo"
	case guide.PhaseCierre:
		return "Cierre"
	default:
		return string(tag)
	}
}
