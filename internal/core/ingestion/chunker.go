package ingestion

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/relaydesk/relaydesk/internal/core/cost"
)

// streamChunk groups incoming fragments into token-bounded chunks with
// overlap. Backpressure applies on the out channel.
func (i *ArticleIngestor) streamChunk(
	ctx context.Context,
	g *errgroup.Group,
	frags <-chan string,
) <-chan chunk {
	out := make(chan chunk, 8)

	g.Go(func() error {
		defer close(out)

		var (
			buf    []string
			tokSum int
			pos    int
		)

		// flush emits the buffer as a chunk, keeping an overlap tail as
		// the seed of the next chunk.
		flush := func(force bool) error {
			if tokSum == 0 && !force {
				return nil
			}
			ch := chunk{Pos: pos, Text: strings.Join(buf, "\n"), TokenCnt: tokSum}
			pos++

			select {
			case out <- ch:
			case <-ctx.Done():
				return ctx.Err()
			}

			if i.cfg.OverlapTokens > 0 {
				keep := []string{}
				remain := i.cfg.OverlapTokens
				for j := len(buf) - 1; j >= 0 && remain > 0; j-- {
					remain -= cost.ApproxTokens(buf[j])
					keep = append([]string{buf[j]}, keep...)
				}
				buf = keep
				tokSum = 0
				for _, s := range buf {
					tokSum += cost.ApproxTokens(s)
				}
			} else {
				buf = buf[:0]
				tokSum = 0
			}
			return nil
		}

		for frag := range frags {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			buf = append(buf, frag)
			tokSum += cost.ApproxTokens(frag)

			if tokSum >= i.cfg.TargetTokens {
				if err := flush(false); err != nil {
					return err
				}
			}
		}

		if tokSum > 0 {
			return flush(true)
		}
		return nil
	})

	return out
}
