package script

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/shortloop/internal/mutation"
	"github.com/kalambet/shortloop/internal/storage"
)

var now = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func segmentTotal(segs []storage.Segment) float64 {
	var sum float64
	for _, s := range segs {
		sum += s.EndSec - s.StartSec
	}
	return sum
}

func TestFinalize_FromMutatedHook(t *testing.T) {
	topic := storage.Topic{ID: "t1", Name: "Fitness myths"}
	sc := NewFinalizer().Finalize(topic, []mutation.Mutated{
		{Text: "Real talk: the signal about fitness", Emotion: "shock"},
		{Text: "ignored"},
	}, now)

	want := "Real talk: the signal about fitness Follow for part 2."
	if sc.Text != want {
		t.Errorf("Text = %q, want %q", sc.Text, want)
	}
	if sc.Words != 10 {
		t.Errorf("Words = %d, want 10", sc.Words)
	}
	if sc.DurationSec != MinDurationSec {
		t.Errorf("DurationSec = %v, want %v", sc.DurationSec, MinDurationSec)
	}
	if sc.Metadata.Emotion != "shock" || sc.Metadata.Notes.WPM != 160 || sc.Metadata.Notes.TargetSec != "7-15" {
		t.Errorf("Metadata = %+v", sc.Metadata)
	}
	if sc.TopicID != "t1" || sc.ContentHash == "" {
		t.Errorf("script = %+v", sc)
	}
}

func TestFinalize_NoHooks(t *testing.T) {
	sc := NewFinalizer().Finalize(storage.Topic{Name: "Life hacks"}, nil, now)
	if !strings.HasPrefix(sc.Text, "Watch this: Life hacks in 10 seconds") {
		t.Errorf("Text = %q", sc.Text)
	}
}

func TestFinalize_LongTextTruncatedAndClamped(t *testing.T) {
	long := strings.TrimSpace(strings.Repeat("word ", 70))
	sc := NewFinalizer().Finalize(storage.Topic{Name: "x"}, []mutation.Mutated{{Text: long}}, now)
	if sc.Words != DefaultMaxWords {
		t.Errorf("Words = %d, want %d", sc.Words, DefaultMaxWords)
	}
	if strings.Contains(sc.Text, "Follow") {
		t.Error("closing added to a long script")
	}
	if sc.DurationSec != MaxDurationSec {
		t.Errorf("DurationSec = %v, want %v", sc.DurationSec, MaxDurationSec)
	}
}

func TestFinalize_SegmentsSumToDuration(t *testing.T) {
	f := NewFinalizer()
	for n := 1; n <= 60; n++ {
		text := strings.TrimSpace(strings.Repeat("w ", n))
		sc := f.Finalize(storage.Topic{Name: "x"}, []mutation.Mutated{{Text: text}}, now)
		if sc.DurationSec < MinDurationSec || sc.DurationSec > MaxDurationSec {
			t.Fatalf("n=%d: duration %v out of range", n, sc.DurationSec)
		}
		segs := sc.Metadata.Segments
		if math.Abs(segmentTotal(segs)-sc.DurationSec) > 1e-6 {
			t.Fatalf("n=%d: segments sum %v, want %v", n, segmentTotal(segs), sc.DurationSec)
		}
		if segs[0].StartSec != 0 || segs[len(segs)-1].EndSec != sc.DurationSec {
			t.Fatalf("n=%d: segments do not span the script: %+v", n, segs)
		}
		for i := 1; i < len(segs); i++ {
			if segs[i].StartSec != segs[i-1].EndSec {
				t.Fatalf("n=%d: gap between segments %d and %d", n, i-1, i)
			}
		}
	}
}

func TestFinalize_MidRangeDuration(t *testing.T) {
	// 32 words at 160 wpm is 12s, inside the window.
	text := strings.TrimSpace(strings.Repeat("w ", 28))
	sc := NewFinalizer().Finalize(storage.Topic{Name: "x"}, []mutation.Mutated{{Text: text}}, now)
	if sc.Words != 32 {
		t.Fatalf("Words = %d, want 32", sc.Words)
	}
	if sc.DurationSec != 12 {
		t.Errorf("DurationSec = %v, want 12", sc.DurationSec)
	}
}
