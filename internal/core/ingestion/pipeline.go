package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/relaydesk/relaydesk/internal/models"
)

// Start launches numWorkers goroutines consuming the job queue until the
// context ends.
func (i *ArticleIngestor) Start(ctx context.Context, numWorkers int) {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	for w := 1; w <= numWorkers; w++ {
		go func(w int) {
			for {
				select {
				case <-ctx.Done():
					i.log.Debug().Int("worker", w).Msg("ingestion worker shutting down")
					return
				case articleID := <-i.jobs:
					if err := i.ProcessOne(ctx, articleID); err != nil {
						i.log.Error().Err(err).Str("article", articleID).Msg("ingestion failed")
					}
				}
			}
		}(w)
	}
}

// Enqueue schedules an article for ingestion. Blocks when the queue is full.
func (i *ArticleIngestor) Enqueue(articleID string) {
	i.jobs <- articleID
}

// ProcessOne fetches, extracts, chunks, embeds and persists one article.
func (i *ArticleIngestor) ProcessOne(ctx context.Context, articleID string) error {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
	defer cancel()

	article, err := i.store.GetArticleByID(pctx, articleID)
	if err != nil || article == nil {
		return fmt.Errorf("article not found: %w", err)
	}
	_ = i.store.UpdateArticleStatus(pctx, articleID, "processing")

	bucket, key := parseS3URL(article.StorageURL)
	raw, err := i.obj.GetFile(pctx, bucket, key)
	if err != nil {
		_ = i.store.UpdateArticleStatus(pctx, articleID, "failed")
		return fmt.Errorf("fetch article payload: %w", err)
	}

	g, gctx := errgroup.WithContext(pctx)

	fragCh, err := i.extractor.ExtractText(gctx, g, raw, article.ContentType)
	if err != nil {
		_ = i.store.UpdateArticleStatus(pctx, articleID, "failed")
		return fmt.Errorf("extract text: %w", err)
	}

	chunkCh := i.streamChunk(gctx, g, fragCh)

	g.Go(func() error {
		return i.embedAndPersist(gctx, articleID, chunkCh)
	})

	if err := g.Wait(); err != nil {
		_ = i.store.UpdateArticleStatus(pctx, articleID, "failed")
		return err
	}
	return i.store.UpdateArticleStatus(pctx, articleID, "ready")
}

// embedAndPersist drains chunks in batches, embeds each batch and writes
// the rows.
func (i *ArticleIngestor) embedAndPersist(ctx context.Context, articleID string, chunks <-chan chunk) error {
	batch := make([]chunk, 0, i.cfg.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		texts := make([]string, len(batch))
		for j, c := range batch {
			texts[j] = c.Text
		}
		vecs, err := i.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch: %w", err)
		}
		if len(vecs) != len(batch) {
			return fmt.Errorf("embed batch: got %d vectors for %d chunks", len(vecs), len(batch))
		}
		rows := make([]models.KnowledgeChunk, len(batch))
		for j, c := range batch {
			rows[j] = models.KnowledgeChunk{
				ID:         uuid.NewString(),
				ArticleID:  articleID,
				Position:   c.Pos,
				Text:       c.Text,
				TokenCount: c.TokenCnt,
				Embedding:  vecs[j],
			}
		}
		if err := i.store.InsertKnowledgeChunks(ctx, rows); err != nil {
			return fmt.Errorf("persist chunks: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	for c := range chunks {
		batch = append(batch, c)
		if len(batch) >= i.cfg.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// parseS3URL extracts bucket and key from a virtual-hosted-style S3 URL,
// e.g. https://my-bucket.s3.us-east-2.amazonaws.com/path/to/file.pdf.
func parseS3URL(u string) (bucket, key string) {
	hostPath := strings.SplitN(strings.TrimPrefix(u, "https://"), "/", 2)
	host := hostPath[0]
	if len(hostPath) == 2 {
		key = hostPath[1]
	}
	parts := strings.Split(host, ".")
	if len(parts) > 0 {
		bucket = parts[0]
	}
	return bucket, key
}
