package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/shortloop/internal/schedule"
)

type Config struct {
	Storage  StorageConfig
	Log      LogConfig
	Ollama   OllamaConfig
	Embed    EmbedConfig
	Ranking  RankingConfig
	Mutation MutationConfig
	Queue    QueueConfig
	Schedule ScheduleConfig
	Rewrite  CommandConfig
	Render   CommandConfig
	Upload   UploadConfig
	Metrics  MetricsConfig
	External ExternalConfig
	Sources  SourcesConfig
	Topics   TopicsConfig
	Server   ServerConfig
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type OllamaConfig struct {
	BaseURL      string
	EmbedModel   string
	RewriteModel string
}

type EmbedConfig struct {
	// Backend is "hash" or "ollama". Ollama falls back to hash on failure.
	Backend string
	Dim     int
}

type RankingConfig struct {
	TopK         int
	SimThreshold float64
}

type MutationConfig struct {
	Limit int
}

type QueueConfig struct {
	MinInventory   int
	DailyTargetMin int
	DailyTargetMax int
}

type ScheduleConfig struct {
	Timezone        string
	Cadence         string
	SweepCron       string
	LearnerInterval string
}

type CommandConfig struct {
	Command string
}

type UploadConfig struct {
	Command  string
	Privacy  string
	Category string
}

type MetricsConfig struct {
	Command    string
	Window     string
	RatePerSec float64
}

type ExternalConfig struct {
	Timeout string
}

type SourcesConfig struct {
	Glob string
}

type TopicsConfig struct {
	// Seeds is a comma-separated list of topic names.
	Seeds string
}

type ServerConfig struct {
	Port     int
	APIToken string
}

func defaults() Config {
	return Config{
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Log:     LogConfig{Level: "info"},
		Ollama: OllamaConfig{
			BaseURL:      "http://localhost:11434",
			EmbedModel:   "nomic-embed-text",
			RewriteModel: "llama3.2",
		},
		Embed:    EmbedConfig{Backend: "hash", Dim: 256},
		Ranking:  RankingConfig{TopK: 30, SimThreshold: 0.35},
		Mutation: MutationConfig{Limit: 5},
		Queue:    QueueConfig{MinInventory: 6, DailyTargetMin: 10, DailyTargetMax: 20},
		Schedule: ScheduleConfig{
			Timezone:        "UTC",
			Cadence:         schedule.DefaultCadence,
			SweepCron:       "*/10 * * * *",
			LearnerInterval: "48h",
		},
		Upload:   UploadConfig{Privacy: "public", Category: "24"},
		Metrics:  MetricsConfig{Window: "7d", RatePerSec: 2},
		External: ExternalConfig{Timeout: "2m"},
		Sources:  SourcesConfig{Glob: "assets/sources/*"},
		Topics:   TopicsConfig{Seeds: "AI productivity,Fitness myths,Crypto trends,Life hacks,Motivation"},
		Server:   ServerConfig{Port: 4100},
	}
}

// Load reads configuration from the platform-native backend, then applies
// environment variables (SHORTLOOP_*), which win on every platform. The API
// token is a secret: it comes from SHORTLOOP_SERVER_API_TOKEN or, failing
// that, the platform secret store.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Server.APIToken == "" {
		if tok, err := kc.Get("shortloop", "server_api_token"); err == nil && tok != "" {
			cfg.Server.APIToken = tok
		}
	}

	return cfg, nil
}

// Validate reports every setting that would make the pipeline unable to
// start. The errors are joined so they can be fixed in one pass.
func (c Config) Validate() error {
	var errs []error
	if len(c.TopicSeeds()) == 0 {
		errs = append(errs, errors.New("topics.seeds: no topic seeds configured"))
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("schedule.timezone: %w", err))
	}
	if _, err := schedule.ParseCadence(c.Schedule.Cadence); err != nil {
		errs = append(errs, fmt.Errorf("schedule.cadence: %w", err))
	}
	if _, err := time.ParseDuration(c.Schedule.LearnerInterval); err != nil {
		errs = append(errs, fmt.Errorf("schedule.learner_interval: %w", err))
	}
	if _, err := time.ParseDuration(c.External.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("external.timeout: %w", err))
	}
	if c.Embed.Backend != "hash" && c.Embed.Backend != "ollama" {
		errs = append(errs, fmt.Errorf("embed.backend: unknown backend %q", c.Embed.Backend))
	}
	if c.Embed.Dim <= 0 {
		errs = append(errs, fmt.Errorf("embed.dim: must be positive, got %d", c.Embed.Dim))
	}
	if c.Ranking.TopK <= 0 {
		errs = append(errs, fmt.Errorf("ranking.top_k: must be positive, got %d", c.Ranking.TopK))
	}
	if c.Queue.DailyTargetMin < 0 || c.Queue.DailyTargetMax < 0 {
		errs = append(errs, errors.New("queue.daily_target_*: must not be negative"))
	}
	return errors.Join(errs...)
}

// TopicSeeds returns the configured topic names, trimmed, without blanks.
func (c Config) TopicSeeds() []string {
	var out []string
	for _, s := range strings.Split(c.Topics.Seeds, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Location returns the scheduling timezone, UTC when it does not load.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ExternalTimeout bounds every external command and model call.
func (c Config) ExternalTimeout() time.Duration {
	return parseDuration(c.External.Timeout, 2*time.Minute)
}

// LearnerInterval is the pause between scheduled learner runs.
func (c Config) LearnerInterval() time.Duration {
	return parseDuration(c.Schedule.LearnerInterval, 48*time.Hour)
}

// DailyTarget is the number of videos a run tries to produce.
func (c Config) DailyTarget() int {
	return max(c.Queue.DailyTargetMin, c.Queue.DailyTargetMax)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
