package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kalambet/shortloop/internal/adapters"
	"github.com/kalambet/shortloop/internal/analytics"
	"github.com/kalambet/shortloop/internal/config"
	"github.com/kalambet/shortloop/internal/embed"
	"github.com/kalambet/shortloop/internal/learner"
	"github.com/kalambet/shortloop/internal/mutation"
	"github.com/kalambet/shortloop/internal/ollama"
	"github.com/kalambet/shortloop/internal/pipeline"
	"github.com/kalambet/shortloop/internal/ports"
	"github.com/kalambet/shortloop/internal/publish"
	"github.com/kalambet/shortloop/internal/ranking"
	"github.com/kalambet/shortloop/internal/schedule"
	"github.com/kalambet/shortloop/internal/script"
	"github.com/kalambet/shortloop/internal/state"
	"github.com/kalambet/shortloop/internal/storage"
)

// statePaths are the JSON side files kept next to the database.
type statePaths struct {
	Dedup      string
	Weights    string
	Selections string
	Videos     string
}

func newStatePaths(dataDir string) statePaths {
	stateDir := filepath.Join(dataDir, "state")
	return statePaths{
		Dedup:      filepath.Join(stateDir, "dedup.json"),
		Weights:    filepath.Join(stateDir, "bias_weights.json"),
		Selections: filepath.Join(stateDir, "selections"),
		Videos:     filepath.Join(dataDir, "videos"),
	}
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// app holds the loaded config and the open store shared by every command.
type app struct {
	cfg   config.Config
	store *storage.Store
	paths statePaths
}

func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	setupLogging(cfg.Log.Level)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return &app{cfg: cfg, store: store, paths: newStatePaths(cfg.Storage.DataDir)}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

func (a *app) ollamaClient() *ollama.Client {
	return ollama.New(a.cfg.Ollama.BaseURL, a.cfg.ExternalTimeout())
}

// embedder is the hash embedder, or Ollama backed by the hash embedder
// when embed.backend is ollama.
func (a *app) embedder() ports.Embedder {
	hash := embed.NewHash(a.cfg.Embed.Dim)
	if a.cfg.Embed.Backend != "ollama" {
		return hash
	}
	return &embed.Fallback{
		Primary:   embed.NewOllama(a.ollamaClient(), a.cfg.Ollama.EmbedModel, 0),
		Secondary: hash,
		Timeout:   a.cfg.ExternalTimeout(),
	}
}

func (a *app) ranker() *ranking.Ranker {
	return ranking.New(a.embedder(), a.cfg.Ranking.TopK, a.cfg.Ranking.SimThreshold, state.NewSelectionRecorder(a.paths.Selections))
}

// rewriter prefers rewrite.command, then the Ollama rewrite model when the
// server has it. nil means local mutation only.
func (a *app) rewriter(ctx context.Context) (ports.Rewriter, error) {
	var rw ports.Rewriter
	switch {
	case a.cfg.Rewrite.Command != "":
		cmd, err := adapters.ParseCommand(a.cfg.Rewrite.Command, a.cfg.ExternalTimeout())
		if err != nil {
			return nil, fmt.Errorf("rewrite.command: %w", err)
		}
		rw = adapters.NewCommandRewriter(cmd, a.cfg.Ollama.RewriteModel)
	case a.cfg.Ollama.RewriteModel != "":
		client := a.ollamaClient()
		checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		ok := client.HasModel(checkCtx, a.cfg.Ollama.RewriteModel)
		cancel()
		if !ok {
			slog.Info("rewrite model unavailable, using local mutation only", "model", a.cfg.Ollama.RewriteModel)
			return nil, nil
		}
		rw = adapters.NewOllamaRewriter(client, a.cfg.Ollama.RewriteModel)
	default:
		return nil, nil
	}
	return adapters.NewBreakerRewriter(rw, adapters.BreakerConfig{Name: "rewriter"}), nil
}

func (a *app) renderer() (ports.Renderer, error) {
	if a.cfg.Render.Command == "" {
		return nil, fmt.Errorf("render.command is not configured")
	}
	cmd, err := adapters.ParseCommand(a.cfg.Render.Command, a.cfg.ExternalTimeout())
	if err != nil {
		return nil, fmt.Errorf("render.command: %w", err)
	}
	return adapters.NewCommandRenderer(cmd), nil
}

func (a *app) publisher() (ports.Publisher, error) {
	if a.cfg.Upload.Command == "" {
		return nil, fmt.Errorf("upload.command is not configured")
	}
	cmd, err := adapters.ParseCommand(a.cfg.Upload.Command, a.cfg.ExternalTimeout())
	if err != nil {
		return nil, fmt.Errorf("upload.command: %w", err)
	}
	return adapters.NewBreakerPublisher(adapters.NewCommandPublisher(cmd), adapters.BreakerConfig{Name: "publisher"}), nil
}

func (a *app) metricsFetcher() (ports.MetricsFetcher, error) {
	if a.cfg.Metrics.Command == "" {
		slog.Warn("metrics.command is not configured, recording neutral metrics")
		return adapters.NeutralMetrics{}, nil
	}
	cmd, err := adapters.ParseCommand(a.cfg.Metrics.Command, a.cfg.ExternalTimeout())
	if err != nil {
		return nil, fmt.Errorf("metrics.command: %w", err)
	}
	return adapters.NewCommandMetrics(cmd), nil
}

func (a *app) hookSource() ports.HookSource {
	return adapters.NewFileSource(a.cfg.Sources.Glob)
}

func (a *app) driver(ctx context.Context, target int) (*pipeline.Driver, error) {
	cadence, err := schedule.ParseCadence(a.cfg.Schedule.Cadence)
	if err != nil {
		return nil, fmt.Errorf("schedule.cadence: %w", err)
	}
	renderer, err := a.renderer()
	if err != nil {
		return nil, err
	}
	rewriter, err := a.rewriter(ctx)
	if err != nil {
		return nil, err
	}
	dedup, err := state.OpenDedup(a.paths.Dedup)
	if err != nil {
		return nil, err
	}

	return pipeline.NewDriver(
		a.store,
		a.hookSource(),
		a.ranker(),
		mutation.New(rewriter, dedup, a.cfg.ExternalTimeout()),
		script.NewFinalizer(),
		renderer,
		cadence,
		a.cfg.Location(),
		pipeline.Options{
			Target:        target,
			MinInventory:  a.cfg.Queue.MinInventory,
			MutationLimit: a.cfg.Mutation.Limit,
			VideoDir:      a.paths.Videos,
			WeightsPath:   a.paths.Weights,
			Timeout:       a.cfg.ExternalTimeout(),
		},
	), nil
}

func (a *app) sweeper() (*publish.Sweeper, error) {
	pub, err := a.publisher()
	if err != nil {
		return nil, err
	}
	return publish.NewSweeper(a.store, pub, publish.Options{
		Privacy:  a.cfg.Upload.Privacy,
		Category: a.cfg.Upload.Category,
		Timeout:  a.cfg.ExternalTimeout(),
	}), nil
}

func (a *app) puller() (*analytics.Puller, error) {
	fetcher, err := a.metricsFetcher()
	if err != nil {
		return nil, err
	}
	return analytics.NewPuller(a.store, fetcher, analytics.Options{
		Window:    a.cfg.Metrics.Window,
		PerSecond: a.cfg.Metrics.RatePerSec,
		Timeout:   a.cfg.ExternalTimeout(),
	}), nil
}

func (a *app) learner() *learner.Learner {
	return learner.New(a.store, a.paths.Weights)
}
