package ranking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kalambet/shortloop/internal/embed"
	"github.com/kalambet/shortloop/internal/state"
	"github.com/kalambet/shortloop/internal/storage"
)

type mockEmbedder struct {
	embedFunc func(ctx context.Context, texts []string) ([][]float32, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return m.embedFunc(ctx, texts)
}

type mockRecorder struct {
	topic string
	picks []state.Pick
	err   error
}

func (m *mockRecorder) Record(topic string, picks []state.Pick, now time.Time) error {
	m.topic = topic
	m.picks = picks
	return m.err
}

func hooks(texts ...string) []storage.Hook {
	out := make([]storage.Hook, len(texts))
	for i, t := range texts {
		out[i] = storage.Hook{ID: t, Text: t}
	}
	return out
}

func texts(ranked []Ranked) []string {
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.Hook.Text
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRank_FitnessMythsHashFallback(t *testing.T) {
	r := New(embed.NewHash(0), 30, 0.0, nil)
	got, err := r.Rank(context.Background(), "Fitness myths",
		hooks("Stop doing this", "No one told you this", "The truth about fitness"), state.BiasWeights{})
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	want := []string{"The truth about fitness", "Stop doing this", "No one told you this"}
	if !equal(texts(got), want) {
		t.Errorf("order = %v, want %v", texts(got), want)
	}
	if got[0].Score <= 0 {
		t.Errorf("top score = %v, want > 0", got[0].Score)
	}
}

func TestRank_Deterministic(t *testing.T) {
	r := New(embed.NewHash(0), 30, 0.0, nil)
	in := hooks("ai tools for work", "the truth about ai", "sleep better tonight", "ai productivity hack")
	w := state.BiasWeights{NgramWeights: map[string]float64{"hack": 1.8}}

	first, _ := r.Rank(context.Background(), "AI productivity", in, w)
	for i := 0; i < 5; i++ {
		again, _ := r.Rank(context.Background(), "AI productivity", in, w)
		if !equal(texts(first), texts(again)) {
			t.Fatalf("run %d order = %v, want %v", i, texts(again), texts(first))
		}
	}
}

func TestRank_ThresholdAndTopK(t *testing.T) {
	vecs := map[string][]float32{
		"topic": {1, 0},
		"a":     {1, 0},
		"b":     {1, 1},
		"c":     {0, 1},
		"d":     {0.9, 0.1},
	}
	e := &mockEmbedder{embedFunc: func(ctx context.Context, in []string) ([][]float32, error) {
		out := make([][]float32, len(in))
		for i, s := range in {
			out[i] = vecs[s]
		}
		return out, nil
	}}

	r := New(e, 2, 0.5, nil)
	got, err := r.Rank(context.Background(), "topic", hooks("a", "b", "c", "d"), state.BiasWeights{})
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if want := []string{"a", "d"}; !equal(texts(got), want) {
		t.Errorf("got %v, want %v", texts(got), want)
	}
}

func TestRank_BiasReorders(t *testing.T) {
	r := New(embed.NewHash(0), 30, 0.0, nil)
	in := []storage.Hook{
		{Text: "fitness truth revealed", Emotion: "calm"},
		{Text: "fitness lies exposed", Emotion: "shock"},
	}
	w := state.BiasWeights{EmotionWeights: map[string]float64{"shock": 2.0, "calm": 0.5}}
	got, _ := r.Rank(context.Background(), "fitness", in, w)
	if got[0].Hook.Emotion != "shock" {
		t.Errorf("top = %q, want the shock hook", got[0].Hook.Text)
	}
	if got[0].Bias != 2.0 {
		t.Errorf("bias = %v, want 2.0", got[0].Bias)
	}
}

func TestRank_EmptyInput(t *testing.T) {
	called := false
	e := &mockEmbedder{embedFunc: func(ctx context.Context, in []string) ([][]float32, error) {
		called = true
		return nil, nil
	}}
	r := New(e, 5, 0, nil)
	got, err := r.Rank(context.Background(), "topic", hooks("", "   "), state.BiasWeights{})
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d results, want 0", len(got))
	}
	if called {
		t.Error("embedder called with no usable candidates")
	}
}

func TestRank_EmbedderError(t *testing.T) {
	e := &mockEmbedder{embedFunc: func(ctx context.Context, in []string) ([][]float32, error) {
		return nil, errors.New("down")
	}}
	if _, err := New(e, 5, 0, nil).Rank(context.Background(), "t", hooks("a"), state.BiasWeights{}); err == nil {
		t.Error("expected error")
	}
}

func TestRank_RecorderFailureIgnored(t *testing.T) {
	rec := &mockRecorder{err: errors.New("disk full")}
	r := New(embed.NewHash(0), 30, 0, rec)
	got, err := r.Rank(context.Background(), "Motivation", hooks("motivation now"), state.BiasWeights{})
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d results", len(got))
	}
	if rec.topic != "Motivation" || len(rec.picks) != 1 {
		t.Errorf("recorder saw topic=%q picks=%v", rec.topic, rec.picks)
	}
}
