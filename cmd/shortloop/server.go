package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/shortloop/internal/api"
	"github.com/kalambet/shortloop/internal/config"
	"github.com/kalambet/shortloop/internal/ranking"
	"github.com/kalambet/shortloop/internal/schedule"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the status API and run the scheduled sweep and learner",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the inspection tools over MCP (stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the server is running and what is queued",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

// scheduleJobs registers the sweep and the pull-then-learn job on r.
func scheduleJobs(a *app, r *schedule.Runner) error {
	sw, err := a.sweeper()
	if err != nil {
		return err
	}
	puller, err := a.puller()
	if err != nil {
		return err
	}
	l := a.learner()

	if err := r.Add("sweep", a.cfg.Schedule.SweepCron, func(ctx context.Context) error {
		_, err := sw.Sweep(ctx)
		return err
	}); err != nil {
		return err
	}

	learnSpec := "@every " + a.cfg.LearnerInterval().String()
	return r.Add("learn", learnSpec, func(ctx context.Context) error {
		if _, err := puller.Pull(ctx); err != nil {
			return fmt.Errorf("pulling metrics: %w", err)
		}
		_, err := l.Learn()
		return err
	})
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "shortloop version %s\n", version)

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Server.APIToken == "" {
		return fmt.Errorf("server.api_token is not set: export SHORTLOOP_SERVER_API_TOKEN%s", config.TokenHint())
	}

	ctx, stop := signalContext()
	defer stop()

	runner := schedule.NewRunner(a.cfg.Location(), a.cfg.ExternalTimeout()*10)
	if err := scheduleJobs(a, runner); err != nil {
		return err
	}
	runner.Start()
	defer runner.Stop()

	handler := api.NewStatusHandler(api.StatusDeps{
		Store:       a.store,
		WeightsPath: a.paths.Weights,
		Token:       a.cfg.Server.APIToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", a.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "shortloop listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runMCP() error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext()
	defer stop()

	// Previews are not recorded in the selection audit.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:       a.store,
		Ranker:      ranking.New(a.embedder(), a.cfg.Ranking.TopK, a.cfg.Ranking.SimThreshold, nil),
		Source:      a.hookSource(),
		WeightsPath: a.paths.Weights,
		Version:     version,
	})
	slog.Info("MCP server started (stdio transport)")
	if err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}
	client := newAPIClient(cfg)

	if err := client.health(ctx); err != nil {
		printStatus("Server", "stopped")
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		return nil
	}
	printStatus("Server", "running on port %d", cfg.Server.Port)

	if cfg.Server.APIToken == "" {
		printWarning("server.api_token is not set; queue details unavailable")
		return nil
	}
	q, err := client.queue(ctx, 5)
	if err != nil {
		printError("%v", err)
		return nil
	}
	printStatus("Pending", "%d", q.Pending)
	for _, e := range q.Entries {
		printStatus("Next", "%s %s at %s", shortID(e.ID), e.Status, e.ScheduledFor.In(cfg.Location()).Format("2006-01-02 15:04"))
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
