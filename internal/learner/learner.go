// Package learner turns observed video performance into the bias weights
// read by the ranker and the weights used for topic selection.
package learner

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/shortloop/internal/state"
	"github.com/kalambet/shortloop/internal/storage"
)

// HistoryLimit is how many of the most recent analytics records feed the
// bias weights.
const HistoryLimit = 200

// Topic weight bounds.
const (
	MinTopicWeight = 0.1
	MaxTopicWeight = 3.0
)

// AnalyticsStore defines the storage operations the Learner needs.
// Implemented by storage.Store.
type AnalyticsStore interface {
	RecentScoredAnalytics(limit int) ([]storage.ScoredAnalytics, error)
	TopicAvgViews() (map[string]float64, error)
	UpdateTopicWeights(weights map[string]float64) error
}

// Summary reports what one learning pass produced.
type Summary struct {
	Records int
	Weights state.BiasWeights
	Topics  map[string]float64
}

type Learner struct {
	store       AnalyticsStore
	weightsPath string
	logger      *slog.Logger
}

// New creates a Learner that writes bias weights to weightsPath.
func New(store AnalyticsStore, weightsPath string) *Learner {
	return &Learner{store: store, weightsPath: weightsPath, logger: slog.Default()}
}

// Score is the performance of a single analytics record.
func Score(ctr, avgView, likeRate float64) float64 {
	return ctr * avgView * (1 + likeRate)
}

// Learn recomputes bias weights from recent analytics and topic weights from
// every topic's average view fraction, then persists both.
func (l *Learner) Learn() (Summary, error) {
	records, err := l.store.RecentScoredAnalytics(HistoryLimit)
	if err != nil {
		return Summary{}, fmt.Errorf("loading analytics: %w", err)
	}

	w := ComputeWeights(records)
	if err := state.SaveWeights(l.weightsPath, w); err != nil {
		return Summary{}, err
	}

	avgs, err := l.store.TopicAvgViews()
	if err != nil {
		return Summary{}, fmt.Errorf("loading topic averages: %w", err)
	}
	topics := TopicWeights(avgs)
	if len(topics) > 0 {
		if err := l.store.UpdateTopicWeights(topics); err != nil {
			return Summary{}, fmt.Errorf("updating topic weights: %w", err)
		}
	}

	l.logger.Info("weights learned",
		"records", len(records),
		"emotions", len(w.EmotionWeights),
		"tokens", len(w.NgramWeights),
		"topics", len(topics))
	return Summary{Records: len(records), Weights: w, Topics: topics}, nil
}

// ComputeWeights accumulates record scores per emotion tag and per
// lower-cased whitespace token, then maps each bucket into
// [state.MinWeight, state.MaxWeight] relative to its maximum.
func ComputeWeights(records []storage.ScoredAnalytics) state.BiasWeights {
	emotions := map[string]float64{}
	tokens := map[string]float64{}
	for _, r := range records {
		s := Score(r.CTR, r.AvgView, r.LikeRate)
		if tag := strings.ToLower(strings.TrimSpace(r.Emotion)); tag != "" {
			emotions[tag] += s
		}
		for _, tok := range strings.Fields(r.ScriptText) {
			tokens[strings.ToLower(tok)] += s
		}
	}
	return state.BiasWeights{
		EmotionWeights: normalize(emotions),
		NgramWeights:   normalize(tokens),
	}
}

func normalize(bucket map[string]float64) map[string]float64 {
	var peak float64
	for _, v := range bucket {
		peak = max(peak, v)
	}
	out := make(map[string]float64, len(bucket))
	for k, v := range bucket {
		if peak <= 0 {
			out[k] = state.MinWeight
			continue
		}
		w := state.MinWeight + (state.MaxWeight-state.MinWeight)*(v/peak)
		out[k] = min(state.MaxWeight, max(state.MinWeight, w))
	}
	return out
}

// TopicWeights maps each topic's average view fraction to its selection
// weight. Topics absent from avgs keep their stored weight.
func TopicWeights(avgs map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(avgs))
	for id, avg := range avgs {
		out[id] = min(MaxTopicWeight, max(MinTopicWeight, avg*2.0))
	}
	return out
}
