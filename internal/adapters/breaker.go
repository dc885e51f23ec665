package adapters

import (
	"context"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/kalambet/shortloop/internal/ports"
)

// BreakerConfig tunes the circuit breakers wrapped around flaky collaborators.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32
	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration
}

func breakerSettings(cfg BreakerConfig) gobreaker.Settings {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
}

// BreakerPublisher stops calling the uploader after repeated failures. While
// open, Publish fails fast with gobreaker.ErrOpenState and the sweep records
// an ordinary failure.
type BreakerPublisher struct {
	next ports.Publisher
	cb   *gobreaker.CircuitBreaker[ports.PublishResult]
}

func NewBreakerPublisher(next ports.Publisher, cfg BreakerConfig) *BreakerPublisher {
	if cfg.Name == "" {
		cfg.Name = "publisher"
	}
	return &BreakerPublisher{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[ports.PublishResult](breakerSettings(cfg)),
	}
}

func (b *BreakerPublisher) Publish(ctx context.Context, req ports.PublishRequest) (ports.PublishResult, error) {
	return b.cb.Execute(func() (ports.PublishResult, error) {
		return b.next.Publish(ctx, req)
	})
}

// BreakerRewriter skips the external rewriter after repeated failures; the
// mutator then falls back to local variants.
type BreakerRewriter struct {
	next ports.Rewriter
	cb   *gobreaker.CircuitBreaker[[]ports.RewriteResult]
}

func NewBreakerRewriter(next ports.Rewriter, cfg BreakerConfig) *BreakerRewriter {
	if cfg.Name == "" {
		cfg.Name = "rewriter"
	}
	return &BreakerRewriter{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[[]ports.RewriteResult](breakerSettings(cfg)),
	}
}

func (b *BreakerRewriter) Rewrite(ctx context.Context, req ports.RewriteRequest) ([]ports.RewriteResult, error) {
	return b.cb.Execute(func() ([]ports.RewriteResult, error) {
		return b.next.Rewrite(ctx, req)
	})
}
