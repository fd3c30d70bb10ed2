package ingestion

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"code.sajari.com/docconv"
	"golang.org/x/sync/errgroup"

	"github.com/relaydesk/relaydesk/internal/core"
)

// DocconvExtractor implements core.ArticleExtractor via sajari/docconv,
// covering PDF, DOCX, HTML and plain text.
type DocconvExtractor struct {
	useReadability bool
}

var _ core.ArticleExtractor = (*DocconvExtractor)(nil)

func NewDocconvExtractor(useReadability bool) *DocconvExtractor {
	return &DocconvExtractor{useReadability: useReadability}
}

// ExtractText converts the payload and streams non-empty lines as
// fragments. Conversion errors fail the pipeline via the errgroup.
func (e *DocconvExtractor) ExtractText(ctx context.Context, g *errgroup.Group, raw []byte, contentType string) (<-chan string, error) {
	out := make(chan string, 32)

	g.Go(func() error {
		defer close(out)

		res, err := docconv.Convert(bytes.NewReader(raw), contentType, e.useReadability)
		if err != nil {
			return fmt.Errorf("%w: docconv %s: %v", core.ErrExtractionFailed, contentType, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if res.Body == "" {
			return fmt.Errorf("%w: empty text for %s", core.ErrExtractionFailed, contentType)
		}

		for _, line := range strings.Split(res.Body, "\n") {
			if line = strings.TrimSpace(line); line == "" {
				continue
			}
			select {
			case out <- line:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	return out, nil
}
