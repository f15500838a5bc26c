package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"guias/api/internal/platform/logger"
)

const idxGuides = "guias_versions"

// Meili implements Index via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	log     *logger.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the index. An
// unreachable server is not an error: the health loop keeps probing and
// the service falls back to Postgres meanwhile.
func NewMeili(url, apiKey string, log *logger.Logger) *Meili {
	if log == nil {
		log = logger.NewNop()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		log:    log,
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		log.Warn("search: meilisearch unavailable", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idxGuides, PrimaryKey: "id"}); err != nil {
		m.log.Debug("search: create index (may already exist)", "index", idxGuides, "error", err)
	}
	index := m.client.Index(idxGuides)

	filterable := []interface{}{"sessionId", "area", "nivel", "grado"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.Warn("search: update filterable attributes", "index", idxGuides, "error", err)
	}
	searchable := []string{"titulo", "objetivos", "situacion"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.Warn("search: update searchable attributes", "index", idxGuides, "error", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}
	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{buildRequest(q)},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func buildRequest(q Query) *meili.SearchRequest {
	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 20
	}
	sr := &meili.SearchRequest{
		IndexUID:              idxGuides,
		Query:                 q.Text,
		Limit:                 limit,
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"titulo", "objetivos"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	var filters []string
	if q.Area != "" {
		filters = append(filters, fmt.Sprintf("area = %q", q.Area))
	}
	if q.Nivel != "" {
		filters = append(filters, fmt.Sprintf("nivel = %q", q.Nivel))
	}
	if len(filters) > 0 {
		sr.Filter = filters
	}
	return sr
}

func hitToResult(hit meili.Hit) Result {
	return Result{
		VersionID: decodeString(hit, "id"),
		SessionID: decodeString(hit, "sessionId"),
		Titulo:    firstNonBlank(decodeFormattedString(hit, "titulo"), decodeString(hit, "titulo")),
		Snippet:   firstNonBlank(decodeFormattedString(hit, "objetivos"), decodeString(hit, "objetivos")),
		Area:      decodeString(hit, "area"),
		Nivel:     decodeString(hit, "nivel"),
		Grado:     decodeString(hit, "grado"),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	value, _ := formatted[key].(string)
	return strings.TrimSpace(value)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func (m *Meili) Upsert(records []GuideRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxGuides).AddDocuments(records, nil)
	return err
}

func (m *Meili) Delete(versionID string) error {
	_, err := m.client.Index(idxGuides).DeleteDocument(versionID, nil)
	return err
}
