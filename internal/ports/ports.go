// Package ports declares the collaborators the pipeline depends on. Each is a
// single blocking call; implementations bound it with a timeout and report
// failure as an error, never by panicking.
package ports

import "context"

// Embedder turns texts into fixed-length vectors, one per text, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Seed is a hook handed to a rewriter.
type Seed struct {
	Text    string `json:"text"`
	Emotion string `json:"emotion,omitempty"`
}

// RewriteRequest asks for Count fresh variants of Seeds, position aligned.
type RewriteRequest struct {
	Topic           string `json:"topic"`
	Seeds           []Seed `json:"seeds"`
	Count           int    `json:"count"`
	MaxWords        int    `json:"max_words"`
	PreserveEmotion bool   `json:"preserve_emotion"`
	AvoidSeeds      bool   `json:"avoid_seeds"`
}

// RewriteResult is one variant. Empty Text means the rewriter had nothing
// usable for that position.
type RewriteResult struct {
	Text    string `json:"text"`
	Emotion string `json:"emotion,omitempty"`
}

// Rewriter produces hook variants. Results are best effort.
type Rewriter interface {
	Rewrite(ctx context.Context, req RewriteRequest) ([]RewriteResult, error)
}

type RenderSegment struct {
	Text     string  `json:"text"`
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
}

type RenderRequest struct {
	ScriptID    string          `json:"script_id"`
	Topic       string          `json:"topic"`
	Text        string          `json:"text"`
	Emotion     string          `json:"emotion,omitempty"`
	Segments    []RenderSegment `json:"segments"`
	DurationSec float64         `json:"duration_sec"`
	OutputPath  string          `json:"output_path"`
}

type RenderResult struct {
	VideoPath   string  `json:"video_path"`
	ThumbPath   string  `json:"thumb_path"`
	DurationSec float64 `json:"duration_sec"`
}

// Renderer turns a script into a video file.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (RenderResult, error)
}

type PublishRequest struct {
	VideoPath   string
	ThumbPath   string
	Title       string
	Description string
	Tags        []string
	Privacy     string
	Category    string
}

type PublishResult struct {
	PlatformID string
}

// Publisher submits a rendered video to the platform.
type Publisher interface {
	Publish(ctx context.Context, req PublishRequest) (PublishResult, error)
}

// Metrics are raw platform counters. Nil fields were not reported.
type Metrics struct {
	Impressions     *float64 `json:"impressions"`
	CTR             *float64 `json:"ctr"`
	AvgViewFraction *float64 `json:"avg_view_fraction"`
	Likes           *float64 `json:"likes"`
}

// MetricsFetcher pulls performance metrics of an uploaded video.
type MetricsFetcher interface {
	FetchMetrics(ctx context.Context, platformID, window string) (Metrics, error)
}

// Candidate is a raw hook from a trend source.
type Candidate struct {
	Text    string   `json:"text"`
	URL     string   `json:"url,omitempty"`
	Score   *float64 `json:"score,omitempty"`
	Emotion string   `json:"emotion,omitempty"`
}

// HookSource lists candidate hooks for a topic.
type HookSource interface {
	Hooks(ctx context.Context, topic string, limit int) ([]Candidate, error)
}
