package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/shortloop/internal/config"
	"github.com/kalambet/shortloop/internal/pipeline"
	"github.com/kalambet/shortloop/internal/state"
	"github.com/kalambet/shortloop/internal/storage"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run pipeline cycles until the daily target is queued",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		target, _ := cmd.Flags().GetInt("target")
		if target <= 0 {
			target = a.cfg.DailyTarget()
		}

		ctx, stop := signalContext()
		defer stop()

		d, err := a.driver(ctx, target)
		if err != nil {
			return err
		}
		if err := d.EnsureTopics(a.cfg.TopicSeeds()); err != nil {
			return err
		}

		printStep("Running up to %d cycles for %d videos", target*3, target)
		sum, err := d.Run(ctx)
		printCycles(sum.Cycles)
		if err != nil {
			return err
		}

		printStatus("Attempts", "%d", sum.Attempts)
		printStatus("Queued", "%d/%d", sum.Queued, target)
		if sum.Queued < target {
			printWarning("Queued %d of %d videos", sum.Queued, target)
			return nil
		}
		printSuccess("Queued %d videos", sum.Queued)
		return nil
	},
}

func printCycles(cycles []pipeline.CycleResult) {
	for _, c := range cycles {
		if c.Queued {
			fmt.Fprintf(stdout, "%s  %-20s  queued %s for %s\n",
				colorize(colorCyan, shortID(c.ID)), c.Topic, shortID(c.VideoID), c.Slot.Format(time.RFC3339))
			continue
		}
		fmt.Fprintf(stdout, "%s  %-20s  %s (mined %d, ranked %d, mutated %d)\n",
			colorize(colorCyan, shortID(c.ID)), c.Topic, c.Reason, c.Mined, c.Ranked, c.Mutated)
	}
}

func init() {
	runCmd.Flags().Int("target", 0, "videos to queue (default: queue.daily_target_max)")
}

// --- sweep ---

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Publish every due queue entry once",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		sw, err := a.sweeper()
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		res, err := sw.Sweep(ctx)
		if err != nil {
			return err
		}
		printStatus("Due", "%d", res.Due)
		printStatus("Uploaded", "%d", res.Uploaded)
		printStatus("Failed", "%d", res.Failed)
		if res.Reset > 0 {
			printStatus("Reset", "%d stale uploading entries", res.Reset)
		}
		if res.Failed > 0 {
			printWarning("%d uploads failed and will be retried after backoff", res.Failed)
		}
		return nil
	},
}

// --- pull-metrics ---

var pullMetricsCmd = &cobra.Command{
	Use:   "pull-metrics",
	Short: "Fetch analytics for uploaded videos",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.puller()
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		res, err := p.Pull(ctx)
		if err != nil {
			return err
		}
		printStatus("Videos", "%d", res.Videos)
		printStatus("Recorded", "%d", res.Recorded)
		printStatus("Skipped", "%d", res.Skipped)
		if res.Failed > 0 {
			printWarning("%d fetches failed", res.Failed)
		}
		return nil
	},
}

// --- learn ---

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Recompute bias weights and topic weights from analytics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if pull, _ := cmd.Flags().GetBool("pull"); pull {
			ctx, stop := signalContext()
			defer stop()
			p, err := a.puller()
			if err != nil {
				return err
			}
			if _, err := p.Pull(ctx); err != nil {
				return err
			}
		}

		sum, err := a.learner().Learn()
		if err != nil {
			return err
		}
		printStatus("Records", "%d", sum.Records)
		printStatus("Emotions", "%d", len(sum.Weights.EmotionWeights))
		printStatus("Tokens", "%d", len(sum.Weights.NgramWeights))
		printStatus("Topics", "%d", len(sum.Topics))
		printSuccess("Weights written to %s", a.paths.Weights)
		return nil
	},
}

func init() {
	learnCmd.Flags().Bool("pull", false, "pull metrics before learning")
}

// --- queue ---

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect or edit the publish queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queue entries by scheduled time",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := a.store.ListQueue(status, limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(stdout, "Queue is empty.")
			return nil
		}
		printQueue(entries, a.cfg.Location())
		return nil
	},
}

func printQueue(entries []storage.QueueEntry, loc *time.Location) {
	for _, e := range entries {
		line := fmt.Sprintf("%s  %s  %-9s  attempts=%d",
			colorize(colorCyan, shortID(e.ID)),
			e.ScheduledFor.In(loc).Format("2006-01-02 15:04"),
			e.Status,
			e.AttemptCount,
		)
		if e.BackoffUntil != nil {
			line += "  backoff_until=" + e.BackoffUntil.In(loc).Format("15:04")
		}
		if e.LastError != "" {
			line += "  error=" + truncate(e.LastError, 60)
		}
		fmt.Fprintln(stdout, line)
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var queueFailCmd = &cobra.Command{
	Use:   "fail <id>",
	Short: "Mark a queue entry as permanently failed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		reason, _ := cmd.Flags().GetString("reason")
		err = a.store.MarkFailed(args[0], reason)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("queue entry %s not found", args[0])
		}
		if err != nil {
			return err
		}
		printSuccess("Marked %s failed", args[0])
		return nil
	},
}

func init() {
	queueListCmd.Flags().String("status", "", "filter by status (pending, ready, uploading, uploaded, failed)")
	queueListCmd.Flags().Int("limit", 50, "maximum number of entries to list")
	queueFailCmd.Flags().String("reason", "marked failed by operator", "reason stored on the entry")
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueFailCmd)
}

// --- topics ---

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Inspect topics",
}

var topicsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List topics in selection order",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		topics, err := a.store.ListTopics()
		if err != nil {
			return err
		}
		if len(topics) == 0 {
			fmt.Fprintln(stdout, "No topics yet. They are created from topics.seeds on the first run.")
			return nil
		}
		for _, t := range topics {
			fmt.Fprintf(stdout, "%5.2f  %s\n", t.Weight, t.Name)
		}
		return nil
	},
}

func init() {
	topicsCmd.AddCommand(topicsListCmd)
}

// --- weights ---

var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Inspect learned bias weights",
}

var weightsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show bias weights as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		w, err := state.LoadWeights(newStatePaths(cfg.Storage.DataDir).Weights)
		if err != nil {
			return err
		}
		return printJSON(w)
	},
}

func init() {
	weightsCmd.AddCommand(weightsShowCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		if err := cfg.Validate(); err != nil {
			printWarning("%v", err)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
