package embed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/shortloop/internal/ports"
)

// Fallback tries Primary under a timeout and answers from Secondary when
// Primary fails or returns something unusable. All vectors of one call come
// from the same embedder so they stay comparable.
type Fallback struct {
	Primary   ports.Embedder
	Secondary ports.Embedder
	Timeout   time.Duration
}

func (f *Fallback) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.Primary != nil {
		pctx := ctx
		if f.Timeout > 0 {
			var cancel context.CancelFunc
			pctx, cancel = context.WithTimeout(ctx, f.Timeout)
			defer cancel()
		}
		vecs, err := f.Primary.Embed(pctx, texts)
		if err == nil {
			err = checkVectors(vecs, len(texts))
		}
		if err == nil {
			return vecs, nil
		}
		slog.Warn("primary embedder failed, using fallback", "error", err)
	}
	return f.Secondary.Embed(ctx, texts)
}

func checkVectors(vecs [][]float32, n int) error {
	if len(vecs) != n {
		return fmt.Errorf("got %d vectors for %d texts", len(vecs), n)
	}
	dim := -1
	for i, v := range vecs {
		if len(v) == 0 {
			return fmt.Errorf("vector %d is empty", i)
		}
		if dim >= 0 && len(v) != dim {
			return fmt.Errorf("vector %d has dim %d, want %d", i, len(v), dim)
		}
		dim = len(v)
	}
	return nil
}
