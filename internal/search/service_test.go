package search

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"morningpulse/api/internal/comments"
)

type fakeFallback struct {
	searchFn func(ctx context.Context, articleID, term string) ([]comments.Comment, error)
	calls    int
}

func (f *fakeFallback) SearchComments(ctx context.Context, articleID, term string) ([]comments.Comment, error) {
	f.calls++
	return f.searchFn(ctx, articleID, term)
}

func TestSearchFallsBackToRepositoryScan(t *testing.T) {
	fallback := &fakeFallback{searchFn: func(_ context.Context, articleID, term string) ([]comments.Comment, error) {
		assert.Equal(t, "a1", articleID)
		assert.Equal(t, "climate", term)
		return []comments.Comment{
			{ID: "c1", ArticleID: "a1", AuthorName: "Wendy", Content: "climate data", Status: comments.StatusActive},
			{ID: "c2", ArticleID: "a1", AuthorName: "Ed", Content: "more climate", Status: comments.StatusResolved,
				Selection: comments.Selection{Text: "warming"}},
		}, nil
	}}
	svc := NewService(nil, fallback, zerolog.Nop())

	resp := svc.Search(context.Background(), Query{Text: "climate", ArticleID: "a1"})
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, "scan", resp.Source)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, Result{ID: "c2", ArticleID: "a1", AuthorName: "Ed", Snippet: "more climate", Selection: "warming", Status: "resolved"}, resp.Results[1])

	paged := svc.Search(context.Background(), Query{Text: "climate", ArticleID: "a1", Offset: 1, Limit: 5})
	assert.Equal(t, 2, paged.Total)
	require.Len(t, paged.Results, 1)
	assert.Equal(t, "c2", paged.Results[0].ID)
}

func TestSearchWithoutArticleNeedsIndex(t *testing.T) {
	fallback := &fakeFallback{}
	svc := NewService(nil, fallback, zerolog.Nop())

	resp := svc.Search(context.Background(), Query{Text: "anything"})
	assert.Empty(t, resp.Results)
	assert.NotNil(t, resp.Results)
	assert.Zero(t, fallback.calls)
}

func TestSearchSwallowsFallbackErrors(t *testing.T) {
	fallback := &fakeFallback{searchFn: func(context.Context, string, string) ([]comments.Comment, error) {
		return nil, errors.New("store down")
	}}
	svc := NewService(nil, fallback, zerolog.Nop())

	resp := svc.Search(context.Background(), Query{Text: "x", ArticleID: "a1"})
	assert.Empty(t, resp.Results)
	assert.Equal(t, "x", resp.Query)
}

func TestIndexingWithoutMeiliIsNoop(t *testing.T) {
	svc := NewService(nil, nil, zerolog.Nop())
	svc.IndexComment(comments.Comment{ID: "c1"})
	svc.IndexComment(comments.Comment{ID: "c2", Status: comments.StatusDeleted})
	svc.RemoveComment("c1")
	svc.Reindex([]comments.Comment{{ID: "c1"}})
}

func TestRecordFromComment(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	rec := RecordFromComment(comments.Comment{
		ID: "c1", ArticleID: "a1", AuthorID: "w1", AuthorName: "Wendy", Content: "hello",
		Selection: comments.Selection{Text: "foo"}, Status: comments.StatusActive, CreatedAt: created,
	})
	assert.Equal(t, CommentRecord{
		ID: "c1", ArticleID: "a1", AuthorID: "w1", AuthorName: "Wendy", Content: "hello",
		SelectionText: "foo", Status: "active", CreatedAt: created.Unix(),
	}, rec)
}

func TestHitToResultPrefersHighlight(t *testing.T) {
	hit := meili.Hit{
		"id":            json.RawMessage(`"c1"`),
		"articleId":     json.RawMessage(`"a1"`),
		"authorName":    json.RawMessage(`"Wendy"`),
		"content":       json.RawMessage(`"climate data"`),
		"selectionText": json.RawMessage(`"foo"`),
		"status":        json.RawMessage(`"active"`),
		"_formatted":    json.RawMessage(`{"content":"<mark>climate</mark> data","createdAt":1709283600}`),
	}

	assert.Equal(t, Result{
		ID: "c1", ArticleID: "a1", AuthorName: "Wendy", Snippet: "<mark>climate</mark> data", Selection: "foo", Status: "active",
	}, hitToResult(hit))
}

func TestPage(t *testing.T) {
	items := []Result{{ID: "1"}, {ID: "2"}, {ID: "3"}}
	assert.Len(t, page(items, 0, 0), 3)
	assert.Equal(t, []Result{{ID: "2"}}, page(items, 1, 1))
	assert.Empty(t, page(items, 5, 1))
}
