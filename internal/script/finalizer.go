// Package script turns mutated hooks into short timed narration scripts.
package script

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kalambet/shortloop/internal/mutation"
	"github.com/kalambet/shortloop/internal/state"
	"github.com/kalambet/shortloop/internal/storage"
)

const (
	DefaultMaxWords        = 50
	DefaultWPM             = 160
	DefaultWordsPerSegment = 6
	MinDurationSec         = 7.0
	MaxDurationSec         = 15.0
	closing                = "Follow for part 2."
	closingBelowWords      = 40
)

type Finalizer struct {
	maxWords        int
	wpm             int
	wordsPerSegment int
}

func NewFinalizer() *Finalizer {
	return &Finalizer{
		maxWords:        DefaultMaxWords,
		wpm:             DefaultWPM,
		wordsPerSegment: DefaultWordsPerSegment,
	}
}

// Finalize builds a script from the strongest (first) mutated hook, or a
// generic opener when there is none. The script is not persisted.
func (f *Finalizer) Finalize(topic storage.Topic, mutated []mutation.Mutated, now time.Time) storage.Script {
	base := fmt.Sprintf("Watch this: %s in 10 seconds", topic.Name)
	var emotion, hook string
	if len(mutated) > 0 {
		base = mutated[0].Text
		emotion = mutated[0].Emotion
		hook = mutated[0].Text
	}
	if len(strings.Fields(base)) < closingBelowWords {
		base += " " + closing
	}
	words := strings.Fields(base)
	if len(words) > f.maxWords {
		words = words[:f.maxWords]
	}
	text := strings.Join(words, " ")
	duration := f.duration(len(words))

	return storage.Script{
		TopicID:     topic.ID,
		Text:        text,
		Words:       len(words),
		DurationSec: duration,
		Metadata: storage.ScriptMetadata{
			Segments: f.segments(words, duration),
			Emotion:  emotion,
			Hook:     hook,
			Notes:    storage.ScriptNotes{TargetSec: "7-15", WPM: f.wpm},
		},
		ContentHash: state.NormalizedHash(text),
		CreatedAt:   now,
	}
}

// duration estimates narration time at the configured speaking rate,
// clamped to the short-form window and rounded to centiseconds.
func (f *Finalizer) duration(words int) float64 {
	raw := float64(max(1, words)) / float64(f.wpm) * 60
	clamped := math.Min(MaxDurationSec, math.Max(MinDurationSec, raw))
	return math.Round(clamped*100) / 100
}

// segments splits words into caption chunks whose durations are
// proportional to their word counts and sum to total.
func (f *Finalizer) segments(words []string, total float64) []storage.Segment {
	if len(words) == 0 {
		return []storage.Segment{{StartSec: 0, EndSec: total}}
	}
	var segs []storage.Segment
	start := 0.0
	for i := 0; i < len(words); i += f.wordsPerSegment {
		end := min(i+f.wordsPerSegment, len(words))
		stop := math.Round(total*float64(end)/float64(len(words))*100) / 100
		if end == len(words) {
			stop = total
		}
		segs = append(segs, storage.Segment{
			Text:     strings.Join(words[i:end], " "),
			StartSec: start,
			EndSec:   stop,
		})
		start = stop
	}
	return segs
}
