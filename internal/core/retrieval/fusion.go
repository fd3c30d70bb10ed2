package retrieval

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/relaydesk/relaydesk/internal/core"
	"github.com/relaydesk/relaydesk/internal/models"
)

// Weights are the per-source fusion weights applied after min-max
// normalization of each source's raw scores.
type Weights struct {
	Vector   float64
	FullText float64
	Graph    float64
}

// DefaultWeights mirror the stock policy: vector-heavy, graph as tiebreak.
func DefaultWeights() Weights {
	return Weights{Vector: 0.5, FullText: 0.3, Graph: 0.2}
}

// Config tunes one fuser instance.
type Config struct {
	Weights       Weights
	TopM          int           // per-source fetch size
	K             int           // fused result cap
	SourceTimeout time.Duration // deadline applied to each source call
	GraphDepth    int
}

// Fuser merges vector, full-text and graph retrieval into one ranked,
// deduplicated citation list. Each source is independently optional and
// absorb-on-failure: a dead source contributes nothing, never an error.
type Fuser struct {
	embedder core.EmbeddingProvider
	vector   core.VectorSource
	fulltext core.FullTextSource
	graph    core.GraphSource
	cfg      Config
	log      zerolog.Logger
}

func NewFuser(emb core.EmbeddingProvider, v core.VectorSource, ft core.FullTextSource, g core.GraphSource, cfg Config, log zerolog.Logger) *Fuser {
	if cfg.TopM <= 0 {
		cfg.TopM = 10
	}
	if cfg.K <= 0 {
		cfg.K = 5
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = 600 * time.Millisecond
	}
	if cfg.GraphDepth <= 0 {
		cfg.GraphDepth = 2
	}
	return &Fuser{embedder: emb, vector: v, fulltext: ft, graph: g, cfg: cfg, log: log}
}

// Query bundles retrieval inputs. EntityValues seed the graph source.
type Query struct {
	Text         string
	EntityValues []string
	Filters      core.RetrievalFilters
}

// Retrieve fans out to every configured source in parallel and fuses the
// results. It returns within the ctx deadline; sources that fail or time
// out are logged and skipped. The returned list has no duplicate DocIDs
// and at most K entries.
func (f *Fuser) Retrieve(ctx context.Context, q Query) []models.KnowledgeCitation {
	var (
		vecHits, textHits, graphHits []core.SourceHit
	)

	g, gctx := errgroup.WithContext(ctx)

	if f.vector != nil && f.embedder != nil {
		g.Go(func() error {
			hits, err := f.vectorSearch(gctx, q)
			if err != nil {
				f.log.Warn().Err(err).Msg("vector source degraded")
				return nil
			}
			vecHits = hits
			return nil
		})
	}
	if f.fulltext != nil {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, f.cfg.SourceTimeout)
			defer cancel()
			hits, err := f.fulltext.SearchText(sctx, q.Text, f.cfg.TopM, q.Filters)
			if err != nil {
				f.log.Warn().Err(err).Msg("fulltext source degraded")
				return nil
			}
			textHits = hits
			return nil
		})
	}
	if f.graph != nil && len(q.EntityValues) > 0 {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, f.cfg.SourceTimeout)
			defer cancel()
			hits, err := f.graph.Related(sctx, q.EntityValues, f.cfg.GraphDepth, f.cfg.TopM, q.Filters)
			if err != nil {
				f.log.Warn().Err(err).Msg("graph source degraded")
				return nil
			}
			graphHits = hits
			return nil
		})
	}

	// Goroutines only return nil; Wait is just the join point.
	_ = g.Wait()

	return Fuse(vecHits, textHits, graphHits, f.cfg.Weights, f.cfg.K)
}

// vectorSearch embeds the query then searches, both under one source deadline.
func (f *Fuser) vectorSearch(ctx context.Context, q Query) ([]core.SourceHit, error) {
	sctx, cancel := context.WithTimeout(ctx, f.cfg.SourceTimeout)
	defer cancel()

	vecs, err := f.embedder.EmbedTexts(sctx, []string{q.Text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	return f.vector.SearchVector(sctx, vecs[0], f.cfg.TopM, q.Filters)
}

// Fuse normalizes each source's scores to [0,1] independently, combines
// them via weighted sum, deduplicates by DocID keeping the highest combined
// score, and truncates to k. Pure; exported for direct testing.
func Fuse(vec, text, graph []core.SourceHit, w Weights, k int) []models.KnowledgeCitation {
	type fused struct {
		cite  models.KnowledgeCitation
		score float64
	}
	byDoc := map[string]*fused{}

	merge := func(hits []core.SourceHit, weight float64, src models.SourceType) {
		for _, h := range normalize(hits) {
			contribution := weight * h.Score
			if cur, ok := byDoc[h.DocID]; ok {
				cur.score += contribution
				if h.Score > cur.cite.Score {
					// Prefer the higher-scoring source's snippet.
					cur.cite.Snippet = h.Snippet
					cur.cite.Source = src
					cur.cite.Score = h.Score
				}
				continue
			}
			byDoc[h.DocID] = &fused{
				cite: models.KnowledgeCitation{
					DocID:   h.DocID,
					Source:  src,
					Score:   h.Score,
					Snippet: h.Snippet,
					Title:   h.Title,
					Version: h.Version,
				},
				score: contribution,
			}
		}
	}

	merge(vec, w.Vector, models.SourceVector)
	merge(text, w.FullText, models.SourceFullText)
	merge(graph, w.Graph, models.SourceGraph)

	out := make([]fused, 0, len(byDoc))
	for _, f := range byDoc {
		f.cite.Score = f.score
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].cite.DocID < out[j].cite.DocID
	})

	if k > 0 && len(out) > k {
		out = out[:k]
	}
	cites := make([]models.KnowledgeCitation, len(out))
	for i, f := range out {
		cites[i] = f.cite
	}
	return cites
}

// normalize min-max scales hit scores to [0,1] within one source. A single
// hit normalizes to 1; a flat list normalizes to 1 across the board.
func normalize(hits []core.SourceHit) []core.SourceHit {
	if len(hits) == 0 {
		return hits
	}
	lo, hi := hits[0].Score, hits[0].Score
	for _, h := range hits[1:] {
		if h.Score < lo {
			lo = h.Score
		}
		if h.Score > hi {
			hi = h.Score
		}
	}
	out := make([]core.SourceHit, len(hits))
	copy(out, hits)
	if hi == lo {
		for i := range out {
			out[i].Score = 1
		}
		return out
	}
	for i := range out {
		out[i].Score = (out[i].Score - lo) / (hi - lo)
	}
	return out
}
