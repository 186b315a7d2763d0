package search

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHitToResultPrefersHighlightedTitle(t *testing.T) {
	hit := meili.Hit{
		"id":         json.RawMessage(`"cnt_1"`),
		"title":      json.RawMessage(`"Intro to Go"`),
		"type":       json.RawMessage(`"lesson"`),
		"_formatted": json.RawMessage(`{"title":"<mark>Intro</mark> to Go","visible":true}`),
	}

	got := hitToResult(hit)
	assert.Equal(t, "cnt_1", got.ID)
	assert.Equal(t, "Intro to Go", got.Title)
	assert.Equal(t, "lesson", got.Type)
	assert.Equal(t, "<mark>Intro</mark> to Go", got.Snippet)
}

func TestHitToResultWithoutHighlight(t *testing.T) {
	hit := meili.Hit{
		"id":    json.RawMessage(`"cnt_2"`),
		"title": json.RawMessage(`"Quiz"`),
	}
	got := hitToResult(hit)
	assert.Equal(t, "Quiz", got.Snippet)
	assert.Empty(t, got.Type)
}

func TestServiceWithoutBackendsIsUnavailable(t *testing.T) {
	svc := NewService(nil, nil, zerolog.Nop())
	_, err := svc.Search(context.Background(), Query{Text: "intro"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))

	assert.NotPanics(t, func() {
		svc.IndexContent(ContentRecord{ID: "cnt_1"})
		svc.DeleteContent("cnt_1")
		svc.ReindexAllFromPG(context.Background())
		svc.Close()
	})
}

func TestPgFTSBlankQueryReturnsNothing(t *testing.T) {
	p := NewPgFTS(nil)
	results, total, err := p.Search(context.Background(), Query{Text: "   "})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, total)
}
