package search

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Service is the facade that tries the engine first and falls back to PG FTS.
type Service struct {
	engine   Engine
	fallback Searcher
	log      *zap.Logger
	// async runs index writes; they are fire-and-forget.
	async func(func())
}

// NewService creates a search service. engine may be nil when Meilisearch is
// not configured.
func NewService(engine Engine, fallback Searcher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		engine:   engine,
		fallback: fallback,
		log:      log.Named("search"),
		async:    func(f func()) { go f() },
	}
}

// Writable reports whether index writes currently reach the engine.
func (s *Service) Writable() bool {
	return s.engine != nil && s.engine.Healthy()
}

// Search tries the engine if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.Writable() {
		results, total, err := s.engine.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn("engine search failed, falling back to pgfts", zap.Error(err))
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error("pgfts search failed", zap.String("board_id", q.BoardID), zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// Index upserts one record.
func (s *Service) Index(r Record) {
	if !s.Writable() {
		return
	}
	s.async(func() {
		if err := s.engine.IndexRecords([]Record{r}); err != nil {
			s.log.Warn("index record", zap.String("id", r.ID), zap.String("type", string(r.Type)), zap.Error(err))
		}
	})
}

// Delete removes one record.
func (s *Service) Delete(id string) {
	if !s.Writable() {
		return
	}
	s.async(func() {
		if err := s.engine.DeleteRecord(id); err != nil {
			s.log.Warn("delete record", zap.String("id", id), zap.Error(err))
		}
	})
}

// Reindex pushes every record the loader returns into the engine and
// reports how many were sent.
func (s *Service) Reindex(ctx context.Context, loader RecordLoader) (int, error) {
	if !s.Writable() {
		return 0, fmt.Errorf("search engine unavailable")
	}
	records, err := loader.LoadAllRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("reindex load: %w", err)
	}
	if err := s.engine.IndexRecords(records); err != nil {
		return 0, fmt.Errorf("reindex push: %w", err)
	}
	s.log.Info("search index rebuilt", zap.Int("records", len(records)))
	return len(records), nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
