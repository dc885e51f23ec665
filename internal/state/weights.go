package state

import (
	"fmt"
	"strings"
)

// Weight bounds of every learned bias entry.
const (
	MinWeight = 0.5
	MaxWeight = 2.0
)

// BiasWeights maps emotion tags and lower-cased tokens to ranking
// multipliers. Missing entries count as 1.0.
type BiasWeights struct {
	EmotionWeights map[string]float64 `json:"emotion_weights"`
	NgramWeights   map[string]float64 `json:"ngram_weights"`
}

// Emotion returns the weight of an emotion tag, 1.0 when unknown.
func (w BiasWeights) Emotion(tag string) float64 {
	if v, ok := w.EmotionWeights[strings.ToLower(strings.TrimSpace(tag))]; ok {
		return v
	}
	return 1.0
}

// Token returns the weight of a single token, 1.0 when unknown.
func (w BiasWeights) Token(tok string) float64 {
	if v, ok := w.NgramWeights[strings.ToLower(tok)]; ok {
		return v
	}
	return 1.0
}

// Bias is the multiplier applied to a hook's similarity: its emotion weight
// times the weight of every whitespace token in text.
func (w BiasWeights) Bias(emotion, text string) float64 {
	b := w.Emotion(emotion)
	for _, tok := range strings.Fields(text) {
		b *= w.Token(tok)
	}
	return b
}

// LoadWeights reads bias weights from path. A missing file yields empty
// weights, which rank every hook neutrally.
func LoadWeights(path string) (BiasWeights, error) {
	var w BiasWeights
	if _, err := readJSON(path, &w); err != nil {
		return BiasWeights{}, fmt.Errorf("loading bias weights: %w", err)
	}
	if w.EmotionWeights == nil {
		w.EmotionWeights = map[string]float64{}
	}
	if w.NgramWeights == nil {
		w.NgramWeights = map[string]float64{}
	}
	return w, nil
}

// SaveWeights replaces the weights file atomically.
func SaveWeights(path string, w BiasWeights) error {
	if w.EmotionWeights == nil {
		w.EmotionWeights = map[string]float64{}
	}
	if w.NgramWeights == nil {
		w.NgramWeights = map[string]float64{}
	}
	return writeJSON(path, w)
}
