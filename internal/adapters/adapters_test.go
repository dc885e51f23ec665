package adapters

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/kalambet/shortloop/internal/ports"
)

// writeScript creates an executable shell script and returns a command for it.
func writeScript(t *testing.T, body string) Command {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cmd.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("writing script: %v", err)
	}
	return Command{Argv: []string{path}, Timeout: 5 * time.Second}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"upload --file {video}", []string{"upload", "--file", "{video}"}},
		{`up --title "{title}" --x 'a b'`, []string{"up", "--title", "{title}", "--x", "a b"}},
		{`cmd ""`, []string{"cmd", ""}},
	}
	for _, tt := range tests {
		c, err := ParseCommand(tt.line, 0)
		if err != nil {
			t.Fatalf("ParseCommand(%q): %v", tt.line, err)
		}
		if !reflect.DeepEqual(c.Argv, tt.want) {
			t.Errorf("ParseCommand(%q) = %q, want %q", tt.line, c.Argv, tt.want)
		}
		if c.Timeout != DefaultTimeout {
			t.Errorf("timeout = %v", c.Timeout)
		}
	}

	if _, err := ParseCommand("   ", 0); !errors.Is(err, ErrNoCommand) {
		t.Errorf("empty line error = %v", err)
	}
	if _, err := ParseCommand(`cmd "open`, 0); err == nil {
		t.Error("expected unterminated quote error")
	}
}

func TestExpandKeepsArguments(t *testing.T) {
	c := Command{Argv: []string{"up", "--title", "{title}", "--file={video}"}}
	got := c.Expand(map[string]string{"title": "two words; rm -rf", "video": "/v.mp4"}).Argv
	want := []string{"up", "--title", "two words; rm -rf", "--file=/v.mp4"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expand = %q, want %q", got, want)
	}
}

func TestCommandRun_FailureAndTimeout(t *testing.T) {
	c := writeScript(t, "echo boom >&2; exit 3")
	_, err := c.Run(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("error = %v, want stderr in message", err)
	}

	slow := writeScript(t, "exec sleep 5")
	slow.Timeout = 50 * time.Millisecond
	if _, err := slow.Run(context.Background(), nil); err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error = %v, want timeout", err)
	}
}

func TestParseVariants(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []ports.RewriteResult
	}{
		{"variants", `{"variants":[{"text":" A ","emotion":"hype"}]}`, []ports.RewriteResult{{Text: "A", Emotion: "hype"}}},
		{"mutations", `{"mutations":[{"text":"B"}]}`, []ports.RewriteResult{{Text: "B"}}},
		{"bare list", `["C", {"text":"D"}]`, []ports.RewriteResult{{Text: "C"}, {Text: "D"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVariants([]byte(tt.in))
			if err != nil {
				t.Fatalf("ParseVariants: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}

	for _, bad := range []string{"not json", `{"other":1}`} {
		if _, err := ParseVariants([]byte(bad)); err == nil {
			t.Errorf("ParseVariants(%q) expected error", bad)
		}
	}
}

func TestCommandRewriter_SendsPayload(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.json")
	c := writeScript(t, `cat > `+input+`; echo '{"variants":[{"text":"fresh take"}]}'`)

	got, err := NewCommandRewriter(c, "gpt-oss-20b").Rewrite(context.Background(), ports.RewriteRequest{
		Topic:    "Fitness myths",
		Seeds:    []ports.Seed{{Text: "Stop doing this", Emotion: "warning"}},
		Count:    1,
		MaxWords: 12,
	})
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if len(got) != 1 || got[0].Text != "fresh take" {
		t.Errorf("variants = %+v", got)
	}

	sent, err := os.ReadFile(input)
	if err != nil {
		t.Fatalf("reading payload: %v", err)
	}
	for _, want := range []string{`"task":"mutate_hooks"`, `"model":"gpt-oss-20b"`, `"max_words":12`, `"Stop doing this"`} {
		if !strings.Contains(string(sent), want) {
			t.Errorf("payload %s missing %s", sent, want)
		}
	}
}

func TestParseVideoID(t *testing.T) {
	tests := []struct{ in, want string }{
		{`{"videoId":"abc123"}`, "abc123"},
		{"uploading...\nvideoId=xyz done", "xyz"},
		{"no id here", ""},
		{`{"videoId":""}`, ""},
	}
	for _, tt := range tests {
		if got := ParseVideoID(tt.in); got != tt.want {
			t.Errorf("ParseVideoID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCommandPublisher(t *testing.T) {
	c := writeScript(t, `echo "videoId=$2"`)
	c.Argv = append(c.Argv, "--id", "{title}")

	res, err := NewCommandPublisher(c).Publish(context.Background(), ports.PublishRequest{Title: "yt-42"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.PlatformID != "yt-42" {
		t.Errorf("platform id = %q", res.PlatformID)
	}

	silent := writeScript(t, "true")
	if _, err := NewCommandPublisher(silent).Publish(context.Background(), ports.PublishRequest{}); err == nil {
		t.Error("expected error when no id is printed")
	}
}

func TestCommandRenderer(t *testing.T) {
	c := writeScript(t, `cat > /dev/null; echo '{"thumb_path":"/t.png"}'`)
	res, err := NewCommandRenderer(c).Render(context.Background(), ports.RenderRequest{
		ScriptID:    "s1",
		OutputPath:  "/out/s1.mp4",
		DurationSec: 9,
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := ports.RenderResult{VideoPath: "/out/s1.mp4", ThumbPath: "/t.png", DurationSec: 9}
	if res != want {
		t.Errorf("Render = %+v, want %+v", res, want)
	}
}

func TestCommandMetrics(t *testing.T) {
	c := writeScript(t, `echo '{"ctr":0.1,"likes":5}'`)
	m, err := NewCommandMetrics(c).FetchMetrics(context.Background(), "yt1", "7d")
	if err != nil {
		t.Fatalf("FetchMetrics: %v", err)
	}
	if m.CTR == nil || *m.CTR != 0.1 || m.Likes == nil || *m.Likes != 5 {
		t.Errorf("metrics = %+v", m)
	}
	if m.Impressions != nil || m.AvgViewFraction != nil {
		t.Errorf("missing fields should stay nil: %+v", m)
	}
}

type mockPublisher struct {
	calls       int
	publishFunc func(ctx context.Context, req ports.PublishRequest) (ports.PublishResult, error)
}

func (m *mockPublisher) Publish(ctx context.Context, req ports.PublishRequest) (ports.PublishResult, error) {
	m.calls++
	return m.publishFunc(ctx, req)
}

func TestBreakerPublisher_OpensAfterFailures(t *testing.T) {
	inner := &mockPublisher{publishFunc: func(ctx context.Context, req ports.PublishRequest) (ports.PublishResult, error) {
		return ports.PublishResult{}, errors.New("quota")
	}}
	b := NewBreakerPublisher(inner, BreakerConfig{FailureThreshold: 2, Timeout: time.Hour})

	for range 2 {
		if _, err := b.Publish(context.Background(), ports.PublishRequest{}); err == nil {
			t.Fatal("expected failure")
		}
	}
	_, err := b.Publish(context.Background(), ports.PublishRequest{})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("error = %v, want open state", err)
	}
	if inner.calls != 2 {
		t.Errorf("inner calls = %d, want 2", inner.calls)
	}
}

func TestSyntheticHooks(t *testing.T) {
	got := SyntheticHooks("fitness", 3)
	if len(got) != 3 || got[0].Text != "No one told you this about fitness" {
		t.Errorf("SyntheticHooks = %+v", got)
	}
	if n := len(SyntheticHooks("x", 100)); n != len(syntheticPatterns) {
		t.Errorf("len = %d, want %d", n, len(syntheticPatterns))
	}
	if n := len(SyntheticHooks("x", -1)); n != 0 {
		t.Errorf("negative count gave %d hooks", n)
	}
}

func TestMatchesTopic(t *testing.T) {
	if !MatchesTopic("Fitness myths", "This myth ruins gains", nil) {
		t.Error("singular form should match")
	}
	if !MatchesTopic("Crypto trends", "Big week", []string{"CryptoNews"}) {
		t.Error("tag should match")
	}
	if MatchesTopic("Crypto trends", "Cooking tips", []string{"food"}) {
		t.Error("unrelated item matched")
	}
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "reddit"), 0o755)
	os.WriteFile(filepath.Join(dir, "reddit", "hot.json"),
		[]byte(`{"posts":[{"title":"Fitness lie everyone believes","upvotes":900,"flair_text":"shock"},{"title":"Pasta night"}]}`), 0o644)
	os.WriteFile(filepath.Join(dir, "shorts.jsonl"),
		[]byte("{\"title\":\"Gym myth busted\",\"view_count\":\"1200\",\"url\":\"https://y/1\"}\n\n{\"title\":\"\"}\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{`), 0o644)

	src := NewFileSource(filepath.Join(dir, "**", "*.json*"))
	got, err := src.Hooks(context.Background(), "Fitness myths", 4)
	if err != nil {
		t.Fatalf("Hooks: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4: %+v", len(got), got)
	}

	texts := map[string]ports.Candidate{}
	for _, c := range got {
		texts[c.Text] = c
	}
	lie, ok := texts["Fitness lie everyone believes"]
	if !ok || lie.Score == nil || *lie.Score != 900 || lie.Emotion != "shock" {
		t.Errorf("reddit item = %+v", lie)
	}
	gym, ok := texts["Gym myth busted"]
	if !ok || gym.Score == nil || *gym.Score != 1200 || gym.URL != "https://y/1" {
		t.Errorf("jsonl item = %+v", gym)
	}
	if _, ok := texts["Pasta night"]; ok {
		t.Error("unrelated post included")
	}
	if _, ok := texts["No one told you this about Fitness myths"]; !ok {
		t.Error("synthetic top-up missing")
	}
}

func TestFileSource_NoPattern(t *testing.T) {
	got, err := NewFileSource("").Hooks(context.Background(), "Motivation", 2)
	if err != nil {
		t.Fatalf("Hooks: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
}
