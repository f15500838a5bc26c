package guide

import (
	"errors"
	"strings"
)

// Request is the form filled in before asking for a guide.
type Request struct {
	Tema            string       `json:"tema"`
	Contexto        string       `json:"contexto"`
	Materiales      []string     `json:"materiales"`
	Nivel           string       `json:"nivel"`
	Grado           string       `json:"grado"`
	Area            string       `json:"area"`
	Duracion        int          `json:"duracion"`
	Competencias    []Competency `json:"competencias"`
	Enfoques        []string     `json:"enfoques"`
	Adaptaciones    []string     `json:"adaptaciones"`
	NotasAdaptacion []string     `json:"notas_adaptacion"`
}

type Competency struct {
	Nombre     string   `json:"nombre"`
	Desempenos []string `json:"desempenos"`
}

var ErrEmptyTopic = errors.New("topic is required")

func (r Request) Validate() error {
	if strings.TrimSpace(r.Tema) == "" {
		return ErrEmptyTopic
	}
	return nil
}
