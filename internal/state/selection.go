package state

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Pick is one ranked hook as recorded in the selection audit.
type Pick struct {
	Text    string  `json:"text"`
	Emotion string  `json:"emotion,omitempty"`
	Score   float64 `json:"score"`
}

type topicSnapshot struct {
	Runs      int            `json:"runs"`
	UpdatedAt time.Time      `json:"updated_at"`
	Latest    []Pick         `json:"latest"`
	Seen      map[string]int `json:"seen"`
}

// SelectionRecorder keeps an audit trail of ranking output: the latest
// top-k per topic in its own file, plus one cumulative snapshot counting
// how often each text was picked.
type SelectionRecorder struct {
	mu  sync.Mutex
	dir string
}

func NewSelectionRecorder(dir string) *SelectionRecorder {
	return &SelectionRecorder{dir: dir}
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func slug(topic string) string {
	s := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(topic), "-"), "-")
	if s == "" {
		return "topic"
	}
	return s
}

func (r *SelectionRecorder) topicPath(topic string) string {
	return filepath.Join(r.dir, "selections", slug(topic)+".json")
}

func (r *SelectionRecorder) snapshotPath() string {
	return filepath.Join(r.dir, "selection_snapshot.json")
}

// Record writes the latest selection for topic and folds it into the snapshot.
func (r *SelectionRecorder) Record(topic string, picks []Pick, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if picks == nil {
		picks = []Pick{}
	}
	if err := writeJSON(r.topicPath(topic), map[string]any{
		"topic":       topic,
		"selected_at": now.UTC(),
		"picks":       picks,
	}); err != nil {
		return fmt.Errorf("recording selection: %w", err)
	}

	snap := map[string]*topicSnapshot{}
	if _, err := readJSON(r.snapshotPath(), &snap); err != nil {
		return err
	}
	ts := snap[topic]
	if ts == nil {
		ts = &topicSnapshot{Seen: map[string]int{}}
		snap[topic] = ts
	}
	if ts.Seen == nil {
		ts.Seen = map[string]int{}
	}
	ts.Runs++
	ts.UpdatedAt = now.UTC()
	ts.Latest = picks
	for _, p := range picks {
		ts.Seen[p.Text]++
	}
	return writeJSON(r.snapshotPath(), snap)
}

// Snapshot returns the cumulative per-topic pick counts.
func (r *SelectionRecorder) Snapshot() (map[string]map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := map[string]*topicSnapshot{}
	if _, err := readJSON(r.snapshotPath(), &snap); err != nil {
		return nil, err
	}
	out := make(map[string]map[string]int, len(snap))
	for topic, ts := range snap {
		out[topic] = ts.Seen
	}
	return out, nil
}
