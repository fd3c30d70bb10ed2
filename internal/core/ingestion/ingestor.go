package ingestion

import (
	"github.com/rs/zerolog"

	"github.com/relaydesk/relaydesk/internal/core"
)

// Config tunes the streaming pipeline.
//
// TargetTokens:  approximate tokens per chunk.
// OverlapTokens: tokens retained from the end of the previous chunk as the
// seed of the next, so answers spanning a boundary stay retrievable.
// BatchSize:     chunks embedded and written per batch.
type Config struct {
	TargetTokens  int
	OverlapTokens int
	BatchSize     int
}

// chunk is the internal unit passed between pipeline stages.
type chunk struct {
	Pos      int
	Text     string
	TokenCnt int
}

// ArticleIngestor runs the background knowledge ingestion pipeline:
// fetch raw article from object storage, extract text, chunk, embed,
// persist into the retrieval corpus. Jobs flow through a bounded
// in-memory queue consumed by worker goroutines.
type ArticleIngestor struct {
	store     core.Store
	obj       core.ObjectClient
	embedder  core.EmbeddingProvider
	extractor core.ArticleExtractor
	cfg       Config
	jobs      chan string
	log       zerolog.Logger
}

func NewArticleIngestor(store core.Store, obj core.ObjectClient, emb core.EmbeddingProvider, ex core.ArticleExtractor, cfg Config, log zerolog.Logger) *ArticleIngestor {
	if cfg.TargetTokens <= 0 {
		cfg.TargetTokens = 300
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	return &ArticleIngestor{
		store: store, obj: obj, embedder: emb, extractor: ex, cfg: cfg,
		jobs: make(chan string, 64),
		log:  log,
	}
}
