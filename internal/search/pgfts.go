package search

import (
	"context"
	"fmt"
	"strings"

	"guias/api/internal/store"
)

type versionSource interface {
	SearchVersions(ctx context.Context, text string, limit int) ([]store.SearchHit, error)
	ListCurrentVersions(ctx context.Context) ([]store.Record, error)
}

// PgFTS implements Fallback over the guia_versions full-text column.
// Area and Nivel filters are not applied here.
type PgFTS struct {
	source versionSource
}

func NewPgFTS(source versionSource) *PgFTS {
	return &PgFTS{source: source}
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	hits, err := p.source.SearchVersions(ctx, q.Text, limit+offset)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts search: %w", err)
	}
	total := len(hits)
	if offset >= len(hits) {
		return nil, total, nil
	}
	results := make([]Result, 0, len(hits)-offset)
	for _, hit := range hits[offset:] {
		results = append(results, Result{
			VersionID: hit.VersionID,
			SessionID: hit.SessionID,
			Titulo:    hit.Titulo,
			Snippet:   hit.Snippet,
		})
	}
	return results, total, nil
}

// LoadAll returns a record for every current guide version. Versions
// whose content no longer decodes are skipped.
func (p *PgFTS) LoadAll(ctx context.Context) ([]GuideRecord, error) {
	versions, err := p.source.ListCurrentVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load guide versions: %w", err)
	}
	records := make([]GuideRecord, 0, len(versions))
	for _, version := range versions {
		record, err := RecordFromVersion(version)
		if err != nil {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}
