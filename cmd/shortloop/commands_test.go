package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/shortloop/internal/adapters"
	"github.com/kalambet/shortloop/internal/config"
	"github.com/kalambet/shortloop/internal/embed"
	"github.com/kalambet/shortloop/internal/schedule"
	"github.com/kalambet/shortloop/internal/storage"
)

type recordedRequest struct {
	Method string
	Path   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"invalid or missing bearer token","type":"authentication_error"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func testApp(t *testing.T) *app {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	dir := t.TempDir()
	cfg := config.Config{
		Storage:  config.StorageConfig{DataDir: dir},
		Ollama:   config.OllamaConfig{BaseURL: "http://127.0.0.1:1", EmbedModel: "nomic-embed-text"},
		Embed:    config.EmbedConfig{Backend: "hash", Dim: 64},
		Ranking:  config.RankingConfig{TopK: 30, SimThreshold: 0.35},
		Queue:    config.QueueConfig{MinInventory: 6, DailyTargetMin: 10, DailyTargetMax: 20},
		Schedule: config.ScheduleConfig{Timezone: "UTC", Cadence: schedule.DefaultCadence, SweepCron: "*/10 * * * *", LearnerInterval: "48h"},
		Upload:   config.UploadConfig{Privacy: "public", Category: "24"},
		Metrics:  config.MetricsConfig{Window: "7d", RatePerSec: 2},
		External: config.ExternalConfig{Timeout: "2m"},
		Sources:  config.SourcesConfig{Glob: filepath.Join(dir, "sources", "*")},
	}
	return &app{cfg: cfg, store: store, paths: newStatePaths(dir)}
}

func captureOutput(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	prevOut, prevErr, prevColor := stdout, stderr, noColor
	stdout, stderr, noColor = &out, &errOut, true
	t.Cleanup(func() { stdout, stderr, noColor = prevOut, prevErr, prevColor })
	return &out, &errOut
}

func TestAPIClient_Health(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	if err := ts.client().health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}
	if ts.requests[0].Path != "/health" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
}

func TestAPIClient_Queue(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /queue": `{"pending":3,"entries":[{"id":"0b0f6a4e-1111","video_id":"v1","scheduled_for":"2026-03-02T11:00:00Z","status":"pending","platform":"youtube","attempt_count":0}]}`,
	})

	q, err := ts.client().queue(ctx, 5)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if q.Pending != 3 || len(q.Entries) != 1 || q.Entries[0].VideoID != "v1" {
		t.Errorf("queue = %+v", q)
	}

	r := ts.requests[0]
	if r.Path != "/queue?limit=5" {
		t.Errorf("path = %q, want /queue?limit=5", r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
}

func TestAPIClient_ErrorStatus(t *testing.T) {
	ts := newTestServer(t, nil)

	_, err := ts.client().queue(ctx, 5)
	if err == nil {
		t.Fatal("expected error for 401")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %q, want it to mention 401", err)
	}
}

func TestAPIClient_Unreachable(t *testing.T) {
	c := &apiClient{baseURL: "http://127.0.0.1:1", httpClient: &http.Client{Timeout: time.Second}}
	err := c.health(ctx)
	if err == nil || !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("err = %v", err)
	}
}

func TestNewStatePaths(t *testing.T) {
	p := newStatePaths("/data")
	if p.Dedup != filepath.Join("/data", "state", "dedup.json") {
		t.Errorf("dedup = %q", p.Dedup)
	}
	if p.Weights != filepath.Join("/data", "state", "bias_weights.json") {
		t.Errorf("weights = %q", p.Weights)
	}
	if p.Videos != filepath.Join("/data", "videos") {
		t.Errorf("videos = %q", p.Videos)
	}
}

func TestPrintQueue(t *testing.T) {
	out, _ := captureOutput(t)
	backoff := time.Date(2026, 3, 2, 11, 4, 0, 0, time.UTC)
	printQueue([]storage.QueueEntry{
		{ID: "0b0f6a4e-aaaa", ScheduledFor: time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC), Status: storage.QueueReady, AttemptCount: 2, BackoffUntil: &backoff, LastError: "upload command failed:\nquota"},
	}, time.UTC)

	got := out.String()
	for _, want := range []string{"0b0f6a4e ", "2026-03-02 11:00", "ready", "attempts=2", "backoff_until=11:04", "error=upload command failed: quota"} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q missing %q", got, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("0123456789abc", 10); got != "0123456789..." {
		t.Errorf("truncate = %q", got)
	}
}

func TestOutputHelpers_NoColor(t *testing.T) {
	_, errOut := captureOutput(t)
	printSuccess("Queued %d videos", 3)
	printWarning("careful")

	got := errOut.String()
	if strings.Contains(got, "\033[") {
		t.Errorf("expected no escape codes with --no-color, got %q", got)
	}
	if !strings.Contains(got, "✓ Queued 3 videos") || !strings.Contains(got, "⚠ careful") {
		t.Errorf("output = %q", got)
	}
}

func TestApp_Embedder(t *testing.T) {
	a := testApp(t)
	if _, ok := a.embedder().(*embed.HashEmbedder); !ok {
		t.Errorf("hash backend: got %T", a.embedder())
	}

	a.cfg.Embed.Backend = "ollama"
	fb, ok := a.embedder().(*embed.Fallback)
	if !ok {
		t.Fatalf("ollama backend: got %T", a.embedder())
	}
	if _, ok := fb.Secondary.(*embed.HashEmbedder); !ok {
		t.Errorf("secondary = %T, want hash", fb.Secondary)
	}
}

func TestApp_Rewriter(t *testing.T) {
	a := testApp(t)

	// No command and no model: local mutation only.
	rw, err := a.rewriter(ctx)
	if err != nil || rw != nil {
		t.Fatalf("rewriter = %v, %v; want nil, nil", rw, err)
	}

	// Model configured but Ollama unreachable.
	a.cfg.Ollama.RewriteModel = "llama3.2"
	rw, err = a.rewriter(ctx)
	if err != nil || rw != nil {
		t.Fatalf("rewriter = %v, %v; want nil, nil", rw, err)
	}

	a.cfg.Rewrite.Command = "python3 rewrite.py --json"
	rw, err = a.rewriter(ctx)
	if err != nil {
		t.Fatalf("rewriter: %v", err)
	}
	if _, ok := rw.(*adapters.BreakerRewriter); !ok {
		t.Errorf("rewriter = %T, want breaker-wrapped", rw)
	}

	a.cfg.Rewrite.Command = `python3 "unterminated`
	if _, err := a.rewriter(ctx); err == nil {
		t.Error("expected error for unterminated quote")
	}
}

func TestApp_RequiredCommands(t *testing.T) {
	a := testApp(t)

	if _, err := a.renderer(); err == nil || !strings.Contains(err.Error(), "render.command") {
		t.Errorf("renderer err = %v", err)
	}
	if _, err := a.publisher(); err == nil || !strings.Contains(err.Error(), "upload.command") {
		t.Errorf("publisher err = %v", err)
	}
	if _, err := a.driver(ctx, 1); err == nil {
		t.Error("driver without render.command should fail")
	}

	f, err := a.metricsFetcher()
	if err != nil {
		t.Fatalf("metricsFetcher: %v", err)
	}
	if _, ok := f.(adapters.NeutralMetrics); !ok {
		t.Errorf("fetcher = %T, want NeutralMetrics", f)
	}
}

func TestApp_Driver(t *testing.T) {
	a := testApp(t)
	a.cfg.Render.Command = "render.sh {script_id} {output}"

	d, err := a.driver(ctx, 2)
	if err != nil {
		t.Fatalf("driver: %v", err)
	}
	if err := d.EnsureTopics([]string{"Fitness myths"}); err != nil {
		t.Fatalf("EnsureTopics: %v", err)
	}
}

func TestScheduleJobs(t *testing.T) {
	a := testApp(t)
	a.cfg.Upload.Command = "upload.sh {video}"

	r := schedule.NewRunner(time.UTC, time.Minute)
	if err := scheduleJobs(a, r); err != nil {
		t.Fatalf("scheduleJobs: %v", err)
	}

	a.cfg.Schedule.SweepCron = "every ten minutes"
	if err := scheduleJobs(a, schedule.NewRunner(time.UTC, time.Minute)); err == nil {
		t.Error("expected error for bad sweep cron")
	}

	a.cfg.Upload.Command = ""
	a.cfg.Schedule.SweepCron = "*/10 * * * *"
	if err := scheduleJobs(a, schedule.NewRunner(time.UTC, time.Minute)); err == nil {
		t.Error("expected error without upload.command")
	}
}

func TestQueueFail_RequiresID(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"queue", "fail"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing id")
	}
	if !strings.Contains(err.Error(), "arg") {
		t.Errorf("error = %q, want it to mention args", err.Error())
	}
}
