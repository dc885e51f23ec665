package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Runner fires named jobs on cron specs. Jobs never overlap: each waits for
// the previous one, whichever it was, to finish.
type Runner struct {
	cron     *cron.Cron
	mu       sync.Mutex
	location *time.Location
	timeout  time.Duration
}

// NewRunner creates a Runner in loc. Each job run gets its own context
// bounded by timeout.
func NewRunner(loc *time.Location, timeout time.Duration) *Runner {
	return &Runner{
		cron:     cron.New(cron.WithLocation(loc), cron.WithChain(cron.Recover(cron.DiscardLogger))),
		location: loc,
		timeout:  timeout,
	}
}

// Add registers fn under name. spec is a standard five-field cron
// expression or a descriptor such as "@every 48h".
func (r *Runner) Add(name, spec string, fn func(ctx context.Context) error) error {
	_, err := r.cron.AddFunc(spec, func() { r.run(name, fn) })
	if err != nil {
		return fmt.Errorf("scheduling %s (%q): %w", name, spec, err)
	}
	slog.Info("job scheduled", "job", name, "spec", spec, "timezone", r.location.String())
	return nil
}

func (r *Runner) run(name string, fn func(ctx context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	start := time.Now()
	if err := fn(ctx); err != nil {
		slog.Error("job failed", "job", name, "error", err, "took", time.Since(start))
		return
	}
	slog.Debug("job finished", "job", name, "took", time.Since(start))
}

// Start begins firing jobs in the background.
func (r *Runner) Start() {
	r.cron.Start()
}

// Stop stops scheduling and waits for a running job to finish.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
}
