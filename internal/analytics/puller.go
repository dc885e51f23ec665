// Package analytics pulls platform metrics for uploaded videos into the
// store, where the learner picks them up.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/kalambet/shortloop/internal/ports"
	"github.com/kalambet/shortloop/internal/storage"
)

// Neutral values recorded when the platform omits a metric.
const (
	DefaultCTR      = 0.08
	DefaultAvgView  = 0.8
	DefaultLikeRate = 0.04
)

// Store defines the storage operations the Puller needs.
// Implemented by storage.Store.
type Store interface {
	ListUploadedVideos(limit int) ([]storage.Video, error)
	LastPulledAt(videoID string) (*time.Time, error)
	RecordAnalytics(records []storage.AnalyticsRecord) error
}

type Options struct {
	// Window is passed through to the fetcher, e.g. "7d".
	Window string
	// PerSecond caps fetch calls per second.
	PerSecond float64
	// Timeout bounds a single fetch.
	Timeout time.Duration
	// MinInterval skips videos pulled more recently than this.
	MinInterval time.Duration
	// Limit caps videos considered per pull.
	Limit int
}

// PullResult counts what one pull did.
type PullResult struct {
	Videos   int
	Recorded int
	Skipped  int
	Failed   int
}

type Puller struct {
	store   Store
	fetcher ports.MetricsFetcher
	opts    Options
	limiter *rate.Limiter
	now     func() time.Time
	logger  *slog.Logger
}

func NewPuller(store Store, fetcher ports.MetricsFetcher, opts Options) *Puller {
	if opts.Window == "" {
		opts.Window = "7d"
	}
	if opts.PerSecond <= 0 {
		opts.PerSecond = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Limit <= 0 {
		opts.Limit = 200
	}
	return &Puller{
		store:   store,
		fetcher: fetcher,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.PerSecond), 1),
		now:     func() time.Time { return time.Now().UTC() },
		logger:  slog.Default(),
	}
}

// Pull fetches metrics for every uploaded video and appends one record per
// successful fetch in a single transaction. Fetch failures are logged and
// skipped.
func (p *Puller) Pull(ctx context.Context) (PullResult, error) {
	var res PullResult
	videos, err := p.store.ListUploadedVideos(p.opts.Limit)
	if err != nil {
		return res, fmt.Errorf("listing uploaded videos: %w", err)
	}
	res.Videos = len(videos)

	now := p.now()
	var records []storage.AnalyticsRecord
	for _, v := range videos {
		if v.PlatformVideoID == "" {
			res.Skipped++
			continue
		}
		if p.opts.MinInterval > 0 {
			last, err := p.store.LastPulledAt(v.ID)
			if err != nil {
				return res, fmt.Errorf("checking last pull of %s: %w", v.ID, err)
			}
			if last != nil && now.Sub(*last) < p.opts.MinInterval {
				res.Skipped++
				continue
			}
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return res, err
		}

		m, err := p.fetch(ctx, v.PlatformVideoID)
		if err != nil {
			res.Failed++
			p.logger.Warn("metrics fetch failed", "video", v.ID, "platform_id", v.PlatformVideoID, "error", err)
			continue
		}
		rec := Normalize(m)
		rec.VideoID = v.ID
		rec.PulledAt = now
		records = append(records, rec)
	}

	if len(records) > 0 {
		if err := p.store.RecordAnalytics(records); err != nil {
			return res, fmt.Errorf("recording analytics: %w", err)
		}
	}
	res.Recorded = len(records)
	p.logger.Info("metrics pulled", "videos", res.Videos, "recorded", res.Recorded, "failed", res.Failed)
	return res, nil
}

func (p *Puller) fetch(ctx context.Context, platformID string) (ports.Metrics, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()
	return p.fetcher.FetchMetrics(ctx, platformID, p.opts.Window)
}

// Normalize converts raw metrics into an analytics record. Missing values
// fall back to neutral defaults; an average view above 1 is read as a
// percentage.
func Normalize(m ports.Metrics) storage.AnalyticsRecord {
	rec := storage.AnalyticsRecord{CTR: DefaultCTR, AvgView: DefaultAvgView, LikeRate: DefaultLikeRate}
	if m.CTR != nil && *m.CTR >= 0 {
		rec.CTR = *m.CTR
	}
	if m.AvgViewFraction != nil && *m.AvgViewFraction >= 0 {
		rec.AvgView = *m.AvgViewFraction
		if rec.AvgView > 1 {
			rec.AvgView /= 100
		}
	}
	if m.Likes != nil && m.Impressions != nil && *m.Impressions > 0 {
		rec.LikeRate = *m.Likes / *m.Impressions
	}
	return rec
}
