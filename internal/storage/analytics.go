package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordAnalytics appends metric snapshots atomically.
func (s *Store) RecordAnalytics(records []AnalyticsRecord) error {
	return s.withTx(func(tx *sql.Tx) error {
		for _, r := range records {
			if r.ID == "" {
				r.ID = uuid.New().String()
			}
			_, err := tx.Exec(`
				INSERT INTO analytics (id, video_id, ctr, avg_view, like_rate, pulled_at)
				VALUES (?, ?, ?, ?, ?, ?)`,
				r.ID, r.VideoID, r.CTR, r.AvgView, r.LikeRate, formatTime(r.PulledAt),
			)
			if err != nil {
				return fmt.Errorf("inserting analytics for video %s: %w", r.VideoID, err)
			}
		}
		return nil
	})
}

// RecentScoredAnalytics returns the latest analytics records joined to the
// text and emotion of the script behind each video, newest pull first.
func (s *Store) RecentScoredAnalytics(limit int) ([]ScoredAnalytics, error) {
	rows, err := s.db.Query(`
		SELECT a.id, a.video_id, a.ctr, a.avg_view, a.like_rate, a.pulled_at,
		       COALESCE(sc.text, ''), COALESCE(sc.metadata_json, '{}')
		FROM analytics a
		JOIN videos v ON v.id = a.video_id
		LEFT JOIN scripts sc ON sc.id = v.script_id
		ORDER BY a.pulled_at DESC, a.rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScoredAnalytics
	for rows.Next() {
		var r ScoredAnalytics
		var pulledAt, meta string
		if err := rows.Scan(&r.ID, &r.VideoID, &r.CTR, &r.AvgView, &r.LikeRate, &pulledAt, &r.ScriptText, &meta); err != nil {
			return nil, err
		}
		if r.PulledAt, err = parseTime("pulled_at", pulledAt); err != nil {
			return nil, err
		}
		var md ScriptMetadata
		if err := json.Unmarshal([]byte(meta), &md); err == nil {
			r.Emotion = md.Emotion
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TopicAvgViews returns the mean average-view fraction per topic ID over all
// analytics of that topic's videos. Topics without analytics are absent.
func (s *Store) TopicAvgViews() (map[string]float64, error) {
	rows, err := s.db.Query(`
		SELECT sc.topic_id, AVG(a.avg_view)
		FROM analytics a
		JOIN videos v ON v.id = a.video_id
		JOIN scripts sc ON sc.id = v.script_id
		GROUP BY sc.topic_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var topicID string
		var avg float64
		if err := rows.Scan(&topicID, &avg); err != nil {
			return nil, err
		}
		out[topicID] = avg
	}
	return out, rows.Err()
}

// LastPulledAt returns when analytics were last recorded for a video, or nil.
func (s *Store) LastPulledAt(videoID string) (*time.Time, error) {
	var v sql.NullString
	err := s.db.QueryRow(`SELECT MAX(pulled_at) FROM analytics WHERE video_id = ?`, videoID).Scan(&v)
	if err != nil {
		return nil, err
	}
	return parseNullTime("pulled_at", v)
}
