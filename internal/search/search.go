// Package search indexes the current guide version of every session and
// answers text queries over them.
package search

import (
	"context"
	"strings"

	"guias/api/internal/guide"
	"guias/api/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	VersionID string `json:"versionId"`
	SessionID string `json:"sessionId"`
	Titulo    string `json:"titulo"`
	Snippet   string `json:"snippet"`
	Area      string `json:"area,omitempty"`
	Nivel     string `json:"nivel,omitempty"`
	Grado     string `json:"grado,omitempty"`
}

// Query describes a search request. Area and Nivel filter exact values.
type Query struct {
	Text   string
	Area   string
	Nivel  string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// Index is a search engine holding GuideRecords.
type Index interface {
	Healthy() bool
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Upsert(records []GuideRecord) error
	Delete(versionID string) error
}

// Fallback searches the primary store directly.
type Fallback interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	LoadAll(ctx context.Context) ([]GuideRecord, error)
}

// GuideRecord is what gets indexed for one guide version.
type GuideRecord struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	Titulo    string `json:"titulo"`
	Area      string `json:"area"`
	Nivel     string `json:"nivel"`
	Grado     string `json:"grado"`
	Objetivos string `json:"objetivos"`
	Situacion string `json:"situacion"`
}

func RecordFromVersion(rec store.Record) (GuideRecord, error) {
	doc, err := guide.Decode(rec.Content)
	if err != nil {
		return GuideRecord{}, err
	}
	return GuideRecord{
		ID:        rec.ID,
		SessionID: rec.SessionID,
		Titulo:    doc.Titulo,
		Area:      doc.Area,
		Nivel:     doc.Nivel,
		Grado:     doc.Grado,
		Objetivos: rec.ObjetivosTexto,
		Situacion: situationText(doc.SituacionSignificativa),
	}, nil
}

func situationText(s guide.Situation) string {
	parts := make([]string, 0, 4)
	for _, part := range []string{s.Texto, s.Contexto, s.Reto, s.Producto} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, " ")
}
