// Package pipeline runs production cycles: pick a topic, rank and mutate
// its hooks, finalize a script, render it and queue the video.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/shortloop/internal/mutation"
	"github.com/kalambet/shortloop/internal/ports"
	"github.com/kalambet/shortloop/internal/ranking"
	"github.com/kalambet/shortloop/internal/schedule"
	"github.com/kalambet/shortloop/internal/script"
	"github.com/kalambet/shortloop/internal/state"
	"github.com/kalambet/shortloop/internal/storage"
)

// Store defines the storage operations the Driver needs.
// Implemented by storage.Store.
type Store interface {
	UpsertTopic(name string, now time.Time) (storage.Topic, error)
	SelectTopic(skip map[string]bool) (storage.Topic, error)
	SaveHooks(hooks []storage.Hook, now time.Time) ([]storage.Hook, error)
	QueueSize() (int, error)
	SaveScript(sc storage.Script) (storage.Script, error)
	SaveVideo(v storage.Video) (storage.Video, error)
	EnqueueVideo(videoID string, scheduledFor time.Time, platform string, now time.Time) (storage.QueueEntry, error)
}

type Options struct {
	// Target is how many videos a run tries to queue.
	Target int
	// MaxAttempts bounds cycles per run; defaults to three per target.
	MaxAttempts int
	// MinInventory is the queue size below which the external rewriter is used.
	MinInventory int
	// MutationLimit caps mutated hooks per cycle.
	MutationLimit int
	// HooksPerTopic is how many candidates are requested from the source.
	HooksPerTopic int
	// VideoDir receives rendered files.
	VideoDir string
	// WeightsPath is the bias weights file written by the learner.
	WeightsPath string
	// Timeout bounds each source and render call.
	Timeout  time.Duration
	Platform string
}

// Driver runs cycles one after another. Nothing inside a run is concurrent.
type Driver struct {
	store     Store
	source    ports.HookSource
	ranker    *ranking.Ranker
	mutator   *mutation.Mutator
	finalizer *script.Finalizer
	renderer  ports.Renderer
	cadence   schedule.Cadence
	loc       *time.Location
	opts      Options
	now       func() time.Time
	logger    *slog.Logger
}

// NewDriver wires a Driver. Zero options take defaults.
func NewDriver(
	store Store,
	source ports.HookSource,
	ranker *ranking.Ranker,
	mutator *mutation.Mutator,
	finalizer *script.Finalizer,
	renderer ports.Renderer,
	cadence schedule.Cadence,
	loc *time.Location,
	opts Options,
) *Driver {
	if opts.Target <= 0 {
		opts.Target = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = opts.Target * 3
	}
	if opts.MutationLimit <= 0 {
		opts.MutationLimit = 5
	}
	if opts.HooksPerTopic <= 0 {
		opts.HooksPerTopic = 200
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.Platform == "" {
		opts.Platform = "youtube"
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Driver{
		store:     store,
		source:    source,
		ranker:    ranker,
		mutator:   mutator,
		finalizer: finalizer,
		renderer:  renderer,
		cadence:   cadence,
		loc:       loc,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    slog.Default(),
	}
}

// EnsureTopics creates every seed topic that does not exist yet. It fails
// when no seed is given, since a run would have nothing to work on.
func (d *Driver) EnsureTopics(seeds []string) error {
	if len(seeds) == 0 {
		return errors.New("no topic seeds configured")
	}
	for _, name := range seeds {
		if _, err := d.store.UpsertTopic(name, d.now()); err != nil {
			return fmt.Errorf("seeding topic %q: %w", name, err)
		}
	}
	return nil
}

// CycleResult describes one cycle.
type CycleResult struct {
	ID       string
	Topic    string
	Mined    int
	Ranked   int
	Mutated  int
	Rewrite  bool
	ScriptID string
	VideoID  string
	Queued   bool
	Slot     time.Time
	Reason   string
}

// RunSummary totals a run.
type RunSummary struct {
	Attempts int
	Queued   int
	Cycles   []CycleResult
}

// Run executes cycles until Target videos are queued, MaxAttempts cycles
// have run, or every topic has been skipped. A topic that yields nothing is
// skipped for the rest of the run. Only storage failures end a run early.
func (d *Driver) Run(ctx context.Context) (RunSummary, error) {
	var sum RunSummary
	skip := map[string]bool{}

	for sum.Attempts < d.opts.MaxAttempts && sum.Queued < d.opts.Target {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		topic, err := d.store.SelectTopic(skip)
		if errors.Is(err, storage.ErrNotFound) {
			d.logger.Info("no topics left to try", "skipped", len(skip))
			break
		}
		if err != nil {
			return sum, fmt.Errorf("selecting topic: %w", err)
		}

		sum.Attempts++
		res, err := d.Cycle(ctx, topic)
		sum.Cycles = append(sum.Cycles, res)
		if err != nil {
			return sum, err
		}
		d.logger.Info("cycle finished",
			"cycle", res.ID, "topic", res.Topic,
			"mined", res.Mined, "ranked", res.Ranked, "mutated", res.Mutated,
			"queued", res.Queued, "reason", res.Reason)

		if res.Queued {
			sum.Queued++
		} else {
			skip[topic.Name] = true
		}
	}

	d.logger.Info("run finished", "attempts", sum.Attempts, "queued", sum.Queued, "target", d.opts.Target)
	return sum, nil
}

// Cycle runs one topic from hooks to a queued video. Failures of external
// collaborators end the cycle with a Reason and no error. The returned error
// is reserved for storage failures, including the dedup state.
func (d *Driver) Cycle(ctx context.Context, topic storage.Topic) (CycleResult, error) {
	res := CycleResult{ID: uuid.New().String(), Topic: topic.Name}
	now := d.now()

	hooks, err := d.mine(ctx, topic)
	if err != nil {
		res.Reason = "source: " + err.Error()
		return res, nil
	}
	saved, err := d.store.SaveHooks(hooks, now)
	if err != nil {
		return res, fmt.Errorf("saving hooks: %w", err)
	}
	res.Mined = len(saved)

	weights, err := state.LoadWeights(d.opts.WeightsPath)
	if err != nil {
		d.logger.Warn("using neutral bias weights", "error", err)
		weights = state.BiasWeights{}
	}
	ranked, err := d.ranker.Rank(ctx, topic.Name, saved, weights)
	if err != nil {
		res.Reason = "rank: " + err.Error()
		return res, nil
	}
	res.Ranked = len(ranked)
	if len(ranked) == 0 {
		res.Reason = "no hooks passed ranking"
		return res, nil
	}

	queueSize, err := d.store.QueueSize()
	if err != nil {
		return res, fmt.Errorf("reading queue size: %w", err)
	}
	mut, err := d.mutator.Mutate(ctx, topic.Name, ranked, d.opts.MutationLimit,
		mutation.ShouldWakeRewriter(queueSize, d.opts.MinInventory))
	if err != nil {
		return res, fmt.Errorf("recording dedup state: %w", err)
	}
	res.Mutated = len(mut.Mutated)
	res.Rewrite = mut.RewriteUsed
	if len(mut.Mutated) == 0 {
		res.Reason = "no fresh hooks after dedup"
		return res, nil
	}

	sc, err := d.store.SaveScript(d.finalizer.Finalize(topic, mut.Mutated, now))
	if errors.Is(err, storage.ErrDuplicateScript) {
		res.Reason = "duplicate script"
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("saving script: %w", err)
	}
	res.ScriptID = sc.ID

	rendered, err := d.render(ctx, topic, sc)
	if err != nil {
		res.Reason = "render: " + err.Error()
		return res, nil
	}
	v, err := d.store.SaveVideo(storage.Video{
		ScriptID:    sc.ID,
		VideoPath:   rendered.VideoPath,
		ThumbPath:   rendered.ThumbPath,
		DurationSec: rendered.DurationSec,
		CreatedAt:   now,
	})
	if err != nil {
		return res, fmt.Errorf("saving video: %w", err)
	}
	res.VideoID = v.ID

	slots := d.cadence.Propose(now, d.loc, max(d.opts.Target, 1))
	if len(slots) == 0 {
		res.Reason = "no schedule slots"
		return res, nil
	}
	res.Slot = schedule.PickSlot(slots, queueSize)
	if _, err := d.store.EnqueueVideo(v.ID, res.Slot, d.opts.Platform, now); err != nil {
		return res, fmt.Errorf("queueing video: %w", err)
	}
	res.Queued = true
	return res, nil
}

func (d *Driver) mine(ctx context.Context, topic storage.Topic) ([]storage.Hook, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	cands, err := d.source.Hooks(ctx, topic.Name, d.opts.HooksPerTopic)
	if err != nil {
		return nil, err
	}
	hooks := make([]storage.Hook, 0, len(cands))
	for _, c := range cands {
		h, err := storage.NewHook(topic.ID, c.Text, c.URL, c.Emotion, c.Score)
		if err != nil {
			continue
		}
		hooks = append(hooks, h)
	}
	return hooks, nil
}

func (d *Driver) render(ctx context.Context, topic storage.Topic, sc storage.Script) (ports.RenderResult, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	segs := make([]ports.RenderSegment, len(sc.Metadata.Segments))
	for i, s := range sc.Metadata.Segments {
		segs[i] = ports.RenderSegment{Text: s.Text, StartSec: s.StartSec, EndSec: s.EndSec}
	}
	return d.renderer.Render(ctx, ports.RenderRequest{
		ScriptID:    sc.ID,
		Topic:       topic.Name,
		Text:        sc.Text,
		Emotion:     sc.Metadata.Emotion,
		Segments:    segs,
		DurationSec: sc.DurationSec,
		OutputPath:  filepath.Join(d.opts.VideoDir, sc.ID+".mp4"),
	})
}
