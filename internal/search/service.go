package search

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// ErrUnavailable means no backend could answer the query.
var ErrUnavailable = errors.New("search unavailable")

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
// Either backend may be nil.
type Service struct {
	meili  *Meili
	pgfts  *PgFTS
	logger zerolog.Logger
}

func NewService(meili *Meili, pgfts *PgFTS, logger zerolog.Logger) *Service {
	return &Service{meili: meili, pgfts: pgfts, logger: logger.With().Str("component", "search").Logger()}
}

func (s *Service) Search(ctx context.Context, q Query) (Response, error) {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}, nil
		}
		s.logger.Warn().Err(err).Msg("meilisearch error, falling back to pgfts")
	}

	if s.pgfts == nil {
		return Response{}, ErrUnavailable
	}
	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		s.logger.Error().Err(err).Msg("pgfts error")
		return Response{}, ErrUnavailable
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}, nil
}

// IndexContent indexes a content item (fire-and-forget to Meilisearch).
func (s *Service) IndexContent(record ContentRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexContent(record); err != nil {
			s.logger.Warn().Err(err).Str("content_id", record.ID).Msg("index content")
		}
	}()
}

// DeleteContent removes a content item from the index (fire-and-forget).
func (s *Service) DeleteContent(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteContent(id); err != nil {
			s.logger.Warn().Err(err).Str("content_id", id).Msg("delete content from index")
		}
	}()
}

// ReindexAllFromPG pushes every content row into Meilisearch. Called at
// startup when both backends are available.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	records, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("reindex load failed")
		return
	}
	if err := s.meili.IndexContent(records...); err != nil {
		s.logger.Warn().Err(err).Msg("reindex content")
	}
}

// Close stops background work.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
