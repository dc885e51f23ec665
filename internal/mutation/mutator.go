// Package mutation rewrites ranked hooks into fresh variants that have never
// been used before, globally or for the topic.
package mutation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/shortloop/internal/ports"
	"github.com/kalambet/shortloop/internal/ranking"
	"github.com/kalambet/shortloop/internal/state"
	"github.com/kalambet/shortloop/internal/storage"
)

const (
	// MaxWords bounds every mutated hook.
	MaxWords = 12
	// MaxAttempts is the number of candidates tried per hook before it is dropped.
	MaxAttempts = 6
)

// Mutated is an accepted variant of a ranked hook.
type Mutated struct {
	Source  storage.Hook
	Text    string
	Emotion string
	Hash    string
	Score   float64
}

type Result struct {
	Mutated     []Mutated
	RewriteUsed bool
}

// Dedup is the set of previously accepted hashes.
type Dedup interface {
	Has(topic, hash string) bool
	Add(topic, hash string) error
}

// ShouldWakeRewriter reports whether inventory is low enough to pay for an
// external rewrite.
func ShouldWakeRewriter(queueSize, minInventory int) bool {
	return queueSize < minInventory
}

type Mutator struct {
	rewriter ports.Rewriter
	dedup    Dedup
	timeout  time.Duration
}

// New creates a Mutator. rewriter may be nil, in which case only local
// rewrites are used.
func New(rewriter ports.Rewriter, dedup Dedup, timeout time.Duration) *Mutator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Mutator{rewriter: rewriter, dedup: dedup, timeout: timeout}
}

// Mutate returns at most limit fresh variants of ranked, in rank order.
// Hooks with no acceptable candidate are dropped. The only error is a
// failure to persist an accepted hash; variants accepted before it are
// still returned.
func (m *Mutator) Mutate(ctx context.Context, topic string, ranked []ranking.Ranked, limit int, allowRewrite bool) (Result, error) {
	selected := ranked
	if limit > 0 && len(selected) > limit {
		selected = selected[:limit]
	}
	if len(selected) == 0 {
		return Result{}, nil
	}

	var res Result
	var external []ports.RewriteResult
	if allowRewrite && m.rewriter != nil {
		external = m.rewrite(ctx, topic, selected)
		res.RewriteUsed = len(external) > 0
	}

	seeds := make(map[string]bool, len(selected))
	for _, r := range selected {
		seeds[strings.ToLower(strings.TrimSpace(r.Hook.Text))] = true
	}

	accepted := make(map[string]bool)
	for i, r := range selected {
		var ext *ports.RewriteResult
		if i < len(external) {
			ext = &external[i]
		}
		for _, cand := range candidates(r.Hook, ext) {
			text := truncateWords(cand.Text, MaxWords)
			if text == "" || seeds[strings.ToLower(text)] {
				continue
			}
			hash := state.NormalizedHash(text)
			if accepted[hash] || m.dedup.Has(topic, hash) {
				continue
			}
			if err := m.dedup.Add(topic, hash); err != nil {
				return res, fmt.Errorf("recording hook hash: %w", err)
			}
			accepted[hash] = true
			res.Mutated = append(res.Mutated, Mutated{
				Source:  r.Hook,
				Text:    text,
				Emotion: cand.Emotion,
				Hash:    hash,
				Score:   r.Score,
			})
			break
		}
	}
	return res, nil
}

// candidates lists up to MaxAttempts texts for h: the external result
// first when it has text, then local variants.
func candidates(h storage.Hook, ext *ports.RewriteResult) []ports.RewriteResult {
	out := make([]ports.RewriteResult, 0, MaxAttempts)
	if ext != nil && strings.TrimSpace(ext.Text) != "" {
		emotion := strings.ToLower(strings.TrimSpace(ext.Emotion))
		if emotion == "" {
			emotion = h.Emotion
		}
		out = append(out, ports.RewriteResult{Text: ext.Text, Emotion: emotion})
	}
	for attempt := 0; len(out) < MaxAttempts; attempt++ {
		out = append(out, ports.RewriteResult{Text: localVariant(h.Text, attempt), Emotion: h.Emotion})
	}
	return out
}

func (m *Mutator) rewrite(ctx context.Context, topic string, selected []ranking.Ranked) []ports.RewriteResult {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req := ports.RewriteRequest{
		Topic:           topic,
		Count:           len(selected),
		MaxWords:        MaxWords,
		PreserveEmotion: true,
		AvoidSeeds:      true,
	}
	for _, r := range selected {
		req.Seeds = append(req.Seeds, ports.Seed{Text: r.Hook.Text, Emotion: r.Hook.Emotion})
	}

	out, err := m.rewriter.Rewrite(ctx, req)
	if err != nil {
		slog.Warn("mutator: external rewrite failed, using local rules", "topic", topic, "error", err)
		return nil
	}
	usable := false
	for _, r := range out {
		if strings.TrimSpace(r.Text) != "" {
			usable = true
			break
		}
	}
	if !usable {
		slog.Warn("mutator: external rewrite returned nothing usable", "topic", topic)
		return nil
	}
	return out
}
