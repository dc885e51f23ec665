package ranking

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/shortloop/internal/embed"
	"github.com/kalambet/shortloop/internal/ports"
	"github.com/kalambet/shortloop/internal/state"
	"github.com/kalambet/shortloop/internal/storage"
)

// Ranked is a hook annotated with its relevance to a topic.
type Ranked struct {
	Hook       storage.Hook
	Similarity float64 // cosine of topic and hook embeddings
	Bias       float64 // learned multiplier
	Score      float64 // Similarity * Bias
}

// Recorder receives every ranking result for auditing.
type Recorder interface {
	Record(topic string, picks []state.Pick, now time.Time) error
}

// Ranker orders candidate hooks by embedding similarity to a topic,
// scaled by learned bias weights.
type Ranker struct {
	embedder  ports.Embedder
	topK      int
	threshold float64
	recorder  Recorder
	now       func() time.Time
}

// New creates a Ranker. recorder may be nil.
func New(e ports.Embedder, topK int, threshold float64, recorder Recorder) *Ranker {
	return &Ranker{
		embedder:  e,
		topK:      topK,
		threshold: threshold,
		recorder:  recorder,
		now:       time.Now,
	}
}

// Rank returns at most topK hooks whose similarity is at or above the
// threshold, highest score first. Equal scores keep input order. weights is
// read once and not retained. Hooks with blank text are ignored; if none
// remain the result is empty.
func (r *Ranker) Rank(ctx context.Context, topic string, hooks []storage.Hook, weights state.BiasWeights) ([]Ranked, error) {
	candidates := make([]storage.Hook, 0, len(hooks))
	for _, h := range hooks {
		if strings.TrimSpace(h.Text) != "" {
			candidates = append(candidates, h)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	texts := make([]string, 0, len(candidates)+1)
	texts = append(texts, topic)
	for _, h := range candidates {
		texts = append(texts, h.Text)
	}
	vecs, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding candidates: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}

	topicVec := vecs[0]
	ranked := make([]Ranked, len(candidates))
	for i, h := range candidates {
		sim := embed.Cosine(topicVec, vecs[i+1])
		bias := weights.Bias(h.Emotion, h.Text)
		ranked[i] = Ranked{Hook: h, Similarity: sim, Bias: bias, Score: sim * bias}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	kept := ranked[:0]
	for _, rk := range ranked {
		if rk.Similarity >= r.threshold {
			kept = append(kept, rk)
		}
	}
	if r.topK > 0 && len(kept) > r.topK {
		kept = kept[:r.topK]
	}

	r.record(topic, kept)
	return kept, nil
}

func (r *Ranker) record(topic string, ranked []Ranked) {
	if r.recorder == nil {
		return
	}
	picks := make([]state.Pick, len(ranked))
	for i, rk := range ranked {
		picks[i] = state.Pick{Text: rk.Hook.Text, Emotion: rk.Hook.Emotion, Score: rk.Score}
	}
	if err := r.recorder.Record(topic, picks, r.now()); err != nil {
		slog.Warn("ranker: recording selection failed", "topic", topic, "error", err)
	}
}
