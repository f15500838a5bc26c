package search

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"guias/api/internal/platform/logger"
	"guias/api/internal/store"
)

const reindexBatch = 200

// Service is the facade that tries the index first and falls back to
// Postgres full-text search.
type Service struct {
	index    Index
	fallback Fallback
	log      *logger.Logger
	pending  sync.WaitGroup
}

// NewService creates a search service. index may be nil if Meilisearch is
// not configured.
func NewService(index Index, fallback Fallback, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{index: index, fallback: fallback, log: log}
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.indexReady() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "meilisearch"}
		}
		s.log.Warn("search: index error, falling back to postgres", "error", err)
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text, Engine: "none"}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error("search: postgres fallback error", "error", err)
		return Response{Results: []Result{}, Query: q.Text, Engine: "postgres"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "postgres"}
}

// IndexVersion pushes a guide version to the index in the background.
func (s *Service) IndexVersion(rec store.Record) {
	if !s.indexReady() {
		return
	}
	record, err := RecordFromVersion(rec)
	if err != nil {
		s.log.Warn("search: skip undecodable version", "version_id", rec.ID, "error", err)
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.index.Upsert([]GuideRecord{record}); err != nil {
			s.log.Warn("search: index version failed", "version_id", rec.ID, "error", err)
		}
	}()
}

// RemoveVersion drops a version from the index in the background.
func (s *Service) RemoveVersion(versionID string) {
	if !s.indexReady() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.index.Delete(versionID); err != nil {
			s.log.Warn("search: remove version failed", "version_id", versionID, "error", err)
		}
	}()
}

// Reindex loads every current version from Postgres and pushes them to
// the index in batches.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	if !s.indexReady() || s.fallback == nil {
		return 0, nil
	}
	records, err := s.fallback.LoadAll(ctx)
	if err != nil {
		return 0, err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for start := 0; start < len(records); start += reindexBatch {
		batch := records[start:min(start+reindexBatch, len(records))]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return s.index.Upsert(batch)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	s.log.Info("search: reindexed guide versions", "count", len(records))
	return len(records), nil
}

// Wait blocks until background index writes finish.
func (s *Service) Wait() {
	s.pending.Wait()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
