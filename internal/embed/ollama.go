package embed

import (
	"context"
	"fmt"
	"time"

	"github.com/kalambet/shortloop/internal/ollama"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const batchSize = 16

// OllamaEmbedder embeds texts with a local Ollama model. Batches go out
// concurrently, bounded and rate limited so a large candidate list does not
// flood the server.
type OllamaEmbedder struct {
	client  *ollama.Client
	model   string
	limiter *rate.Limiter
}

// NewOllama creates an embedder issuing at most perSecond batch requests per second.
func NewOllama(client *ollama.Client, model string, perSecond float64) *OllamaEmbedder {
	if perSecond <= 0 {
		perSecond = 4
	}
	return &OllamaEmbedder{
		client:  client,
		model:   model,
		limiter: rate.NewLimiter(rate.Every(time.Duration(float64(time.Second)/perSecond)), 1),
	}
}

func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		g.Go(func() error {
			if err := e.limiter.Wait(gCtx); err != nil {
				return err
			}
			vecs, err := e.client.Embed(gCtx, e.model, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding texts %d-%d: %w", start, end-1, err)
			}
			copy(results[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
