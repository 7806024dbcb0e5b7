package search

import (
	"context"

	"github.com/rs/zerolog"

	"morningpulse/api/internal/comments"
)

// Fallback scans an article's comments when Meilisearch cannot answer.
type Fallback interface {
	SearchComments(ctx context.Context, articleID, term string) ([]comments.Comment, error)
}

// Service is the facade that tries Meilisearch first and falls back to a
// repository scan for article-scoped queries.
type Service struct {
	meili    *Meili
	fallback Fallback
	log      zerolog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback Fallback, logger zerolog.Logger) *Service {
	return &Service{
		meili:    meili,
		fallback: fallback,
		log:      logger.With().Str("component", "search").Logger(),
	}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: results, Total: total, Query: q.Text, Source: "meilisearch"}
		}
		s.log.Warn().Err(err).Msg("meilisearch error, falling back to repository scan")
	}

	empty := Response{Results: []Result{}, Query: q.Text, Source: "scan"}
	if s.fallback == nil || q.ArticleID == "" {
		return empty
	}

	found, err := s.fallback.SearchComments(ctx, q.ArticleID, q.Text)
	if err != nil {
		s.log.Error().Err(err).Str("articleId", q.ArticleID).Msg("repository search failed")
		return empty
	}

	results := make([]Result, 0, len(found))
	for _, c := range found {
		results = append(results, resultFromComment(c))
	}
	total := len(results)
	results = page(results, q.Offset, q.Limit)
	return Response{Results: results, Total: total, Query: q.Text, Source: "scan"}
}

// IndexComment indexes a comment (fire-and-forget to Meilisearch). Deleted
// comments are removed instead.
func (s *Service) IndexComment(c comments.Comment) {
	if c.Status == comments.StatusDeleted {
		s.RemoveComment(c.ID)
		return
	}
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexComment(RecordFromComment(c)); err != nil {
			s.log.Warn().Err(err).Str("commentId", c.ID).Msg("index comment")
		}
	}()
}

// RemoveComment removes a comment from the search index (fire-and-forget).
func (s *Service) RemoveComment(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteComment(id); err != nil {
			s.log.Warn().Err(err).Str("commentId", id).Msg("delete comment from index")
		}
	}()
}

// Reindex pushes an article's visible comments to Meilisearch.
func (s *Service) Reindex(items []comments.Comment) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	records := make([]CommentRecord, 0, len(items))
	for _, c := range items {
		records = append(records, RecordFromComment(c))
	}
	if err := s.meili.IndexComments(records); err != nil {
		s.log.Warn().Err(err).Int("count", len(records)).Msg("reindex comments")
	}
}

func page(results []Result, offset, limit int) []Result {
	if offset >= len(results) {
		return []Result{}
	}
	if offset > 0 {
		results = results[offset:]
	}
	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}
	return results
}
