package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/core"
	"github.com/relaydesk/relaydesk/internal/models"
)

func TestFuseDeduplicatesByDocID(t *testing.T) {
	vec := []core.SourceHit{
		{DocID: "a", Score: 0.9, Snippet: "vector snippet"},
		{DocID: "b", Score: 0.5, Snippet: "vector b"},
	}
	text := []core.SourceHit{
		{DocID: "a", Score: 12.0, Snippet: "text snippet"},
	}

	out := Fuse(vec, text, nil, DefaultWeights(), 5)

	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].DocID, "doc hit by both sources outranks single-source hits")
	// a: vector-normalized 1.0 * 0.5 + text-normalized 1.0 * 0.3.
	assert.InDelta(t, 0.8, out[0].Score, 1e-9)
	assert.Equal(t, "b", out[1].DocID)
}

func TestFuseTruncatesToK(t *testing.T) {
	var vec []core.SourceHit
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		vec = append(vec, core.SourceHit{DocID: id, Score: float64(len(id))})
	}
	out := Fuse(vec, nil, nil, DefaultWeights(), 5)
	assert.Len(t, out, 5)
}

func TestFuseOrderingDeterministic(t *testing.T) {
	vec := []core.SourceHit{
		{DocID: "b", Score: 1.0},
		{DocID: "a", Score: 1.0},
	}
	out := Fuse(vec, nil, nil, DefaultWeights(), 5)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].DocID, "equal scores break ties by DocID")
	assert.Equal(t, "b", out[1].DocID)
}

func TestFuseEmptySources(t *testing.T) {
	assert.Empty(t, Fuse(nil, nil, nil, DefaultWeights(), 5))
}

func TestNormalizeFlatScores(t *testing.T) {
	hits := []core.SourceHit{
		{DocID: "a", Score: 0.3},
		{DocID: "b", Score: 0.3},
	}
	out := normalize(hits)
	for _, h := range out {
		assert.Equal(t, 1.0, h.Score)
	}
	assert.Equal(t, 0.3, hits[0].Score, "normalize must not mutate its input")
}

func TestNormalizeMinMax(t *testing.T) {
	hits := []core.SourceHit{
		{DocID: "a", Score: 10},
		{DocID: "b", Score: 5},
		{DocID: "c", Score: 0},
	}
	out := normalize(hits)
	assert.Equal(t, 1.0, out[0].Score)
	assert.Equal(t, 0.5, out[1].Score)
	assert.Equal(t, 0.0, out[2].Score)
}

type stubEmbedder struct{ err error }

func (s stubEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

type stubVector struct {
	hits []core.SourceHit
	err  error
}

func (s stubVector) SearchVector(context.Context, []float32, int, core.RetrievalFilters) ([]core.SourceHit, error) {
	return s.hits, s.err
}

type stubFullText struct {
	hits []core.SourceHit
	err  error
}

func (s stubFullText) SearchText(context.Context, string, int, core.RetrievalFilters) ([]core.SourceHit, error) {
	return s.hits, s.err
}

type stubGraph struct {
	hits  []core.SourceHit
	err   error
	seeds []string
}

func (s *stubGraph) Related(_ context.Context, entityValues []string, _, _ int, _ core.RetrievalFilters) ([]core.SourceHit, error) {
	s.seeds = entityValues
	return s.hits, s.err
}

func TestRetrieveDegradesOnSourceFailure(t *testing.T) {
	f := NewFuser(
		stubEmbedder{},
		stubVector{err: errors.New("pgvector down")},
		stubFullText{hits: []core.SourceHit{{DocID: "t1", Score: 3.0, Snippet: "from fulltext"}}},
		nil,
		Config{K: 5, SourceTimeout: 100 * time.Millisecond},
		zerolog.Nop(),
	)

	out := f.Retrieve(context.Background(), Query{Text: "reset password"})

	require.Len(t, out, 1, "a dead source contributes nothing, never an error")
	assert.Equal(t, "t1", out[0].DocID)
	assert.Equal(t, models.SourceFullText, out[0].Source)
}

func TestRetrieveGraphNeedsSeeds(t *testing.T) {
	g := &stubGraph{hits: []core.SourceHit{{DocID: "g1", Score: 1.0}}}
	f := NewFuser(stubEmbedder{}, stubVector{}, stubFullText{}, g, Config{K: 5}, zerolog.Nop())

	out := f.Retrieve(context.Background(), Query{Text: "anything"})
	assert.Empty(t, out)
	assert.Nil(t, g.seeds, "graph source is skipped without entity seeds")

	out = f.Retrieve(context.Background(), Query{Text: "anything", EntityValues: []string{"#12345"}})
	require.Len(t, out, 1)
	assert.Equal(t, "g1", out[0].DocID)
	assert.Equal(t, []string{"#12345"}, g.seeds)
}

func TestRetrieveEmbedderFailureDegradesVector(t *testing.T) {
	f := NewFuser(
		stubEmbedder{err: errors.New("quota exceeded")},
		stubVector{hits: []core.SourceHit{{DocID: "v1", Score: 1.0}}},
		stubFullText{hits: []core.SourceHit{{DocID: "t1", Score: 1.0}}},
		nil,
		Config{K: 5},
		zerolog.Nop(),
	)

	out := f.Retrieve(context.Background(), Query{Text: "reset password"})
	require.Len(t, out, 1)
	assert.Equal(t, "t1", out[0].DocID)
}
