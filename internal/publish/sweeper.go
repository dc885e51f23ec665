// Package publish drives due queue entries through the publisher.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/shortloop/internal/ports"
	"github.com/kalambet/shortloop/internal/storage"
)

// QueueStore abstracts the publish queue operations.
type QueueStore interface {
	ResetStaleUploading() (int, error)
	DueEntries(now time.Time, limit int) ([]storage.PublishItem, error)
	MarkUploading(id string) error
	MarkUploaded(id, platformVideoID string, now time.Time) error
	RecordFailure(id, reason string, now time.Time) (storage.QueueEntry, error)
}

type Options struct {
	Privacy  string
	Category string
	// Timeout bounds a single publish call.
	Timeout time.Duration
	// Batch caps entries attempted per sweep.
	Batch int
	// Poll is the pause between sweeps in Run.
	Poll time.Duration
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Reset    int
	Due      int
	Uploaded int
	Failed   int
}

// Sweeper attempts every due entry once per sweep. A failed publish is an
// ordinary outcome: the entry goes back to ready with a longer backoff.
type Sweeper struct {
	store     QueueStore
	publisher ports.Publisher
	opts      Options
	now       func() time.Time
	logger    *slog.Logger
}

func NewSweeper(store QueueStore, publisher ports.Publisher, opts Options) *Sweeper {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.Batch <= 0 {
		opts.Batch = 50
	}
	if opts.Poll <= 0 {
		opts.Poll = time.Minute
	}
	return &Sweeper{
		store:     store,
		publisher: publisher,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    slog.Default(),
	}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.opts.Poll):
		}
	}
}

// Sweep makes one publish attempt per due entry. Storage errors abort the
// sweep; publisher errors are recorded on the entry.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	reset, err := s.store.ResetStaleUploading()
	if err != nil {
		return res, fmt.Errorf("resetting stale uploads: %w", err)
	}
	res.Reset = reset
	if reset > 0 {
		s.logger.Warn("returned stale uploads to ready", "count", reset)
	}

	due, err := s.store.DueEntries(s.now(), s.opts.Batch)
	if err != nil {
		return res, fmt.Errorf("listing due entries: %w", err)
	}
	res.Due = len(due)

	for _, item := range due {
		if ctx.Err() != nil {
			break
		}
		if err := s.store.MarkUploading(item.Entry.ID); err != nil {
			if errors.Is(err, storage.ErrInvalidTransition) {
				continue
			}
			return res, fmt.Errorf("claiming entry %s: %w", item.Entry.ID, err)
		}

		platformID, pubErr := s.publish(ctx, item)
		if pubErr != nil {
			entry, err := s.store.RecordFailure(item.Entry.ID, pubErr.Error(), s.now())
			if err != nil {
				return res, fmt.Errorf("recording failure of %s: %w", item.Entry.ID, err)
			}
			res.Failed++
			s.logger.Warn("publish failed",
				"entry", item.Entry.ID, "attempt", entry.AttemptCount,
				"retry_at", entry.BackoffUntil, "error", pubErr)
			continue
		}

		if err := s.store.MarkUploaded(item.Entry.ID, platformID, s.now()); err != nil {
			return res, fmt.Errorf("completing entry %s: %w", item.Entry.ID, err)
		}
		res.Uploaded++
		s.logger.Info("published", "entry", item.Entry.ID, "video", item.Video.ID, "platform_id", platformID)
	}
	return res, nil
}

func (s *Sweeper) publish(ctx context.Context, item storage.PublishItem) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	title, description, tags := Describe(item.ScriptText)
	out, err := s.publisher.Publish(ctx, ports.PublishRequest{
		VideoPath:   item.Video.VideoPath,
		ThumbPath:   item.Video.ThumbPath,
		Title:       title,
		Description: description,
		Tags:        tags,
		Privacy:     s.opts.Privacy,
		Category:    s.opts.Category,
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out.PlatformID) == "" {
		return "", errors.New("publisher returned no platform id")
	}
	return out.PlatformID, nil
}

const (
	maxTitleRunes       = 95
	maxDescriptionRunes = 500
	maxTags             = 5
)

// Describe derives upload metadata from script text: the first line as the
// title, the text as the description, and the first words as tags.
func Describe(text string) (title, description string, tags []string) {
	text = strings.TrimSpace(text)
	first, _, _ := strings.Cut(text, "\n")
	title = truncateRunes(strings.TrimSpace(first), maxTitleRunes)
	if title == "" {
		title = "Untitled"
	}
	description = truncateRunes(text, maxDescriptionRunes)
	for _, w := range strings.Fields(text) {
		if len(tags) == maxTags {
			break
		}
		tags = append(tags, w)
	}
	return title, description, tags
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
