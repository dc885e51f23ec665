package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyQueued is returned when a video already has a live queue entry.
var ErrAlreadyQueued = errors.New("video already queued")

// ErrDuplicateScript is returned when a script with the same content hash exists.
var ErrDuplicateScript = errors.New("duplicate script")

// ErrInvalidTransition is returned when a queue entry is not in a state that
// allows the requested change.
var ErrInvalidTransition = errors.New("invalid queue transition")

// Video lifecycle.
const (
	VideoReady     = "ready"
	VideoScheduled = "scheduled"
	VideoUploaded  = "uploaded"
	VideoFailed    = "failed"
)

// Queue entry lifecycle.
const (
	QueuePending   = "pending"
	QueueReady     = "ready"
	QueueUploading = "uploading"
	QueueUploaded  = "uploaded"
	QueueFailed    = "failed"
)

type Topic struct {
	ID        string
	Name      string
	Weight    float64
	CreatedAt time.Time
}

type Hook struct {
	ID        string
	TopicID   string
	Text      string
	SourceURL string
	Score     *float64 // source-provided popularity, nil when unknown
	Emotion   string
	CreatedAt time.Time
}

// NewHook validates and builds a hook. Text is trimmed; empty text is rejected.
func NewHook(topicID, text, sourceURL, emotion string, score *float64) (Hook, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Hook{}, fmt.Errorf("hook text is empty")
	}
	if topicID == "" {
		return Hook{}, fmt.Errorf("hook topic is empty")
	}
	return Hook{
		TopicID:   topicID,
		Text:      text,
		SourceURL: sourceURL,
		Score:     score,
		Emotion:   strings.ToLower(strings.TrimSpace(emotion)),
	}, nil
}

// Segment is one timed slice of narration.
type Segment struct {
	Text     string  `json:"text"`
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
}

type ScriptNotes struct {
	TargetSec string `json:"target_sec"`
	WPM       int    `json:"wpm"`
}

type ScriptMetadata struct {
	Segments []Segment   `json:"segments"`
	Emotion  string      `json:"emotion"`
	Hook     string      `json:"hook"`
	Notes    ScriptNotes `json:"notes"`
}

type Script struct {
	ID          string
	TopicID     string
	Text        string
	Words       int
	DurationSec float64
	Metadata    ScriptMetadata
	ContentHash string
	CreatedAt   time.Time
}

// Video is a rendered artifact produced from a script.
type Video struct {
	ID              string
	ScriptID        string
	VideoPath       string
	ThumbPath       string
	DurationSec     float64
	Status          string
	PlatformVideoID string
	UploadedAt      *time.Time
	CreatedAt       time.Time
}

type QueueEntry struct {
	ID           string
	VideoID      string
	ScheduledFor time.Time
	Status       string
	Platform     string
	AttemptCount int
	BackoffUntil *time.Time
	LastError    string
	CreatedAt    time.Time
}

type AnalyticsRecord struct {
	ID       string
	VideoID  string
	CTR      float64
	AvgView  float64
	LikeRate float64
	PulledAt time.Time
}

// ScoredAnalytics joins an analytics record to the script that produced it.
type ScoredAnalytics struct {
	AnalyticsRecord
	ScriptText string
	Emotion    string
}

// PublishItem is a due queue entry together with what is needed to publish it.
type PublishItem struct {
	Entry      QueueEntry
	Video      Video
	ScriptText string
}
