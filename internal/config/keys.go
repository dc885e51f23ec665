package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "storage.data_dir", typ: kString, env: "SHORTLOOP_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "SHORTLOOP_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "ollama.base_url", typ: kString, env: "SHORTLOOP_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "SHORTLOOP_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "ollama.rewrite_model", typ: kString, env: "SHORTLOOP_OLLAMA_REWRITE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.RewriteModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.RewriteModel },
	},
	{
		key: "embed.backend", typ: kString, env: "SHORTLOOP_EMBED_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Embed.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Embed.Backend },
	},
	{
		key: "embed.dim", typ: kInt, env: "SHORTLOOP_EMBED_DIM",
		apply:   func(cfg *Config, v any) { cfg.Embed.Dim = v.(int) },
		extract: func(cfg Config) any { return cfg.Embed.Dim },
	},
	{
		key: "ranking.top_k", typ: kInt, env: "SHORTLOOP_RANKING_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Ranking.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Ranking.TopK },
	},
	{
		key: "ranking.sim_threshold", typ: kFloat, env: "SHORTLOOP_RANKING_SIM_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Ranking.SimThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Ranking.SimThreshold },
	},
	{
		key: "mutation.limit", typ: kInt, env: "SHORTLOOP_MUTATION_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Mutation.Limit = v.(int) },
		extract: func(cfg Config) any { return cfg.Mutation.Limit },
	},
	{
		key: "queue.min_inventory", typ: kInt, env: "SHORTLOOP_QUEUE_MIN_INVENTORY",
		apply:   func(cfg *Config, v any) { cfg.Queue.MinInventory = v.(int) },
		extract: func(cfg Config) any { return cfg.Queue.MinInventory },
	},
	{
		key: "queue.daily_target_min", typ: kInt, env: "SHORTLOOP_QUEUE_DAILY_TARGET_MIN",
		apply:   func(cfg *Config, v any) { cfg.Queue.DailyTargetMin = v.(int) },
		extract: func(cfg Config) any { return cfg.Queue.DailyTargetMin },
	},
	{
		key: "queue.daily_target_max", typ: kInt, env: "SHORTLOOP_QUEUE_DAILY_TARGET_MAX",
		apply:   func(cfg *Config, v any) { cfg.Queue.DailyTargetMax = v.(int) },
		extract: func(cfg Config) any { return cfg.Queue.DailyTargetMax },
	},
	{
		key: "schedule.timezone", typ: kString, env: "SHORTLOOP_SCHEDULE_TIMEZONE",
		apply:   func(cfg *Config, v any) { cfg.Schedule.Timezone = v.(string) },
		extract: func(cfg Config) any { return cfg.Schedule.Timezone },
	},
	{
		key: "schedule.cadence", typ: kString, env: "SHORTLOOP_SCHEDULE_CADENCE",
		apply:   func(cfg *Config, v any) { cfg.Schedule.Cadence = v.(string) },
		extract: func(cfg Config) any { return cfg.Schedule.Cadence },
	},
	{
		key: "schedule.sweep_cron", typ: kString, env: "SHORTLOOP_SCHEDULE_SWEEP_CRON",
		apply:   func(cfg *Config, v any) { cfg.Schedule.SweepCron = v.(string) },
		extract: func(cfg Config) any { return cfg.Schedule.SweepCron },
	},
	{
		key: "schedule.learner_interval", typ: kString, env: "SHORTLOOP_SCHEDULE_LEARNER_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Schedule.LearnerInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Schedule.LearnerInterval },
	},
	{
		key: "rewrite.command", typ: kString, env: "SHORTLOOP_REWRITE_COMMAND",
		apply:   func(cfg *Config, v any) { cfg.Rewrite.Command = v.(string) },
		extract: func(cfg Config) any { return cfg.Rewrite.Command },
	},
	{
		key: "render.command", typ: kString, env: "SHORTLOOP_RENDER_COMMAND",
		apply:   func(cfg *Config, v any) { cfg.Render.Command = v.(string) },
		extract: func(cfg Config) any { return cfg.Render.Command },
	},
	{
		key: "upload.command", typ: kString, env: "SHORTLOOP_UPLOAD_COMMAND",
		apply:   func(cfg *Config, v any) { cfg.Upload.Command = v.(string) },
		extract: func(cfg Config) any { return cfg.Upload.Command },
	},
	{
		key: "upload.privacy", typ: kString, env: "SHORTLOOP_UPLOAD_PRIVACY",
		apply:   func(cfg *Config, v any) { cfg.Upload.Privacy = v.(string) },
		extract: func(cfg Config) any { return cfg.Upload.Privacy },
	},
	{
		key: "upload.category", typ: kString, env: "SHORTLOOP_UPLOAD_CATEGORY",
		apply:   func(cfg *Config, v any) { cfg.Upload.Category = v.(string) },
		extract: func(cfg Config) any { return cfg.Upload.Category },
	},
	{
		key: "metrics.command", typ: kString, env: "SHORTLOOP_METRICS_COMMAND",
		apply:   func(cfg *Config, v any) { cfg.Metrics.Command = v.(string) },
		extract: func(cfg Config) any { return cfg.Metrics.Command },
	},
	{
		key: "metrics.window", typ: kString, env: "SHORTLOOP_METRICS_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Metrics.Window = v.(string) },
		extract: func(cfg Config) any { return cfg.Metrics.Window },
	},
	{
		key: "metrics.rate_per_sec", typ: kFloat, env: "SHORTLOOP_METRICS_RATE_PER_SEC",
		apply:   func(cfg *Config, v any) { cfg.Metrics.RatePerSec = v.(float64) },
		extract: func(cfg Config) any { return cfg.Metrics.RatePerSec },
	},
	{
		key: "external.timeout", typ: kString, env: "SHORTLOOP_EXTERNAL_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.External.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.External.Timeout },
	},
	{
		key: "sources.glob", typ: kString, env: "SHORTLOOP_SOURCES_GLOB",
		apply:   func(cfg *Config, v any) { cfg.Sources.Glob = v.(string) },
		extract: func(cfg Config) any { return cfg.Sources.Glob },
	},
	{
		key: "topics.seeds", typ: kString, env: "SHORTLOOP_TOPICS_SEEDS",
		apply:   func(cfg *Config, v any) { cfg.Topics.Seeds = v.(string) },
		extract: func(cfg Config) any { return cfg.Topics.Seeds },
	},
	{
		key: "server.port", typ: kInt, env: "SHORTLOOP_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "SHORTLOOP_SERVER_API_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
