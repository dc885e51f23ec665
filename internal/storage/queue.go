package storage

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// MaxBackoffMinutes caps the retry interval of a failing queue entry.
const MaxBackoffMinutes = 60

// BackoffFor returns the wait after the given number of failed attempts:
// 2, 4, 8, 16, 32, then 60 minutes for every later attempt.
func BackoffFor(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	minutes := math.Pow(2, float64(min(6, attempts)))
	return time.Duration(min(MaxBackoffMinutes, minutes)) * time.Minute
}

const queueColumns = `q.id, q.video_id, q.scheduled_for, q.status, q.platform, q.attempt_count, q.backoff_until, q.last_error, q.created_at`

func scanQueueEntry(row rowScanner, extra ...any) (QueueEntry, error) {
	var e QueueEntry
	var scheduledFor, createdAt string
	var backoff, lastError sql.NullString
	dest := append([]any{&e.ID, &e.VideoID, &scheduledFor, &e.Status, &e.Platform, &e.AttemptCount, &backoff, &lastError, &createdAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return QueueEntry{}, err
	}
	e.LastError = lastError.String
	var err error
	if e.ScheduledFor, err = parseTime("scheduled_for", scheduledFor); err != nil {
		return QueueEntry{}, err
	}
	if e.BackoffUntil, err = parseNullTime("backoff_until", backoff); err != nil {
		return QueueEntry{}, err
	}
	if e.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return QueueEntry{}, err
	}
	return e, nil
}

// EnqueueVideo creates a pending queue entry for a ready video and marks the
// video scheduled. A video with a live (non-failed) entry is rejected with
// ErrAlreadyQueued; an uploaded video with ErrInvalidTransition.
func (s *Store) EnqueueVideo(videoID string, scheduledFor time.Time, platform string, now time.Time) (QueueEntry, error) {
	if platform == "" {
		platform = "youtube"
	}
	e := QueueEntry{
		ID:           uuid.New().String(),
		VideoID:      videoID,
		ScheduledFor: scheduledFor.UTC().Truncate(time.Second),
		Status:       QueuePending,
		Platform:     platform,
		CreatedAt:    now.UTC().Truncate(time.Second),
	}

	err := s.withTx(func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRow(`SELECT status FROM videos WHERE id = ?`, videoID).Scan(&status)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if status == VideoUploaded {
			return fmt.Errorf("video %s is uploaded: %w", videoID, ErrInvalidTransition)
		}

		var live int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM queue WHERE video_id = ? AND status != ?`, videoID, QueueFailed).Scan(&live); err != nil {
			return err
		}
		if live > 0 {
			return ErrAlreadyQueued
		}

		if _, err := tx.Exec(`
			INSERT INTO queue (id, video_id, scheduled_for, status, platform, attempt_count, created_at)
			VALUES (?, ?, ?, ?, ?, 0, ?)`,
			e.ID, e.VideoID, formatTime(e.ScheduledFor), e.Status, e.Platform, formatTime(e.CreatedAt),
		); err != nil {
			return fmt.Errorf("inserting queue entry: %w", err)
		}
		if _, err := tx.Exec(`UPDATE videos SET status = ? WHERE id = ?`, VideoScheduled, videoID); err != nil {
			return fmt.Errorf("scheduling video: %w", err)
		}
		return nil
	})
	if err != nil {
		return QueueEntry{}, err
	}
	return e, nil
}

// QueueSize counts entries that are still headed for upload.
func (s *Store) QueueSize() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM queue WHERE status IN (?, ?, ?)`,
		QueuePending, QueueReady, QueueUploading).Scan(&n)
	return n, err
}

func (s *Store) GetQueueEntry(id string) (QueueEntry, error) {
	e, err := scanQueueEntry(s.db.QueryRow(`SELECT `+queueColumns+` FROM queue q WHERE q.id = ?`, id))
	if err == sql.ErrNoRows {
		return QueueEntry{}, ErrNotFound
	}
	return e, err
}

// ListQueue returns entries ordered by scheduled time. An empty status
// lists every entry.
func (s *Store) ListQueue(status string, limit int) ([]QueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM queue q`
	args := []any{}
	if status != "" {
		query += ` WHERE q.status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY q.scheduled_for ASC, q.created_at ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DueEntries returns entries eligible for a publish attempt at now:
// pending or ready, scheduled at or before now, and out of backoff.
func (s *Store) DueEntries(now time.Time, limit int) ([]PublishItem, error) {
	ts := formatTime(now)
	rows, err := s.db.Query(`
		SELECT `+queueColumns+`, `+videoColumns+`, COALESCE(sc.text, '')
		FROM queue q
		JOIN videos v ON v.id = q.video_id
		LEFT JOIN scripts sc ON sc.id = v.script_id
		WHERE q.status IN (?, ?)
		  AND q.scheduled_for <= ?
		  AND (q.backoff_until IS NULL OR q.backoff_until <= ?)
		ORDER BY q.scheduled_for ASC, q.created_at ASC
		LIMIT ?`,
		QueuePending, QueueReady, ts, ts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []PublishItem
	for rows.Next() {
		var item PublishItem
		var v Video
		var platformID, uploadedAt sql.NullString
		var vCreatedAt string
		e, err := scanQueueEntry(rows,
			&v.ID, &v.ScriptID, &v.VideoPath, &v.ThumbPath, &v.DurationSec, &v.Status, &platformID, &uploadedAt, &vCreatedAt,
			&item.ScriptText)
		if err != nil {
			return nil, err
		}
		v.PlatformVideoID = platformID.String
		if v.UploadedAt, err = parseNullTime("uploaded_at", uploadedAt); err != nil {
			return nil, err
		}
		if v.CreatedAt, err = parseTime("created_at", vCreatedAt); err != nil {
			return nil, err
		}
		item.Entry = e
		item.Video = v
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkUploading claims a due entry for a publish attempt.
func (s *Store) MarkUploading(id string) error {
	res, err := s.db.Exec(`UPDATE queue SET status = ? WHERE id = ? AND status IN (?, ?)`,
		QueueUploading, id, QueuePending, QueueReady)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("claiming entry %s: %w", id, ErrInvalidTransition)
	}
	return nil
}

// MarkUploaded finishes an entry and its video in one transaction. The video
// moves to uploaded exactly once.
func (s *Store) MarkUploaded(id, platformVideoID string, now time.Time) error {
	return s.withTx(func(tx *sql.Tx) error {
		var videoID string
		err := tx.QueryRow(`SELECT video_id FROM queue WHERE id = ? AND status = ?`, id, QueueUploading).Scan(&videoID)
		if err == sql.ErrNoRows {
			return fmt.Errorf("completing entry %s: %w", id, ErrInvalidTransition)
		}
		if err != nil {
			return err
		}

		if _, err := tx.Exec(`UPDATE queue SET status = ?, backoff_until = NULL, last_error = NULL WHERE id = ?`, QueueUploaded, id); err != nil {
			return fmt.Errorf("updating queue entry: %w", err)
		}
		res, err := tx.Exec(`UPDATE videos SET status = ?, platform_video_id = ?, uploaded_at = ? WHERE id = ? AND status != ?`,
			VideoUploaded, platformVideoID, formatTime(now), videoID, VideoUploaded)
		if err != nil {
			return fmt.Errorf("updating video: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != 1 {
			return fmt.Errorf("video %s already uploaded: %w", videoID, ErrInvalidTransition)
		}
		return nil
	})
}

// RecordFailure counts a failed publish attempt, returns the entry to ready
// and pushes its backoff forward. The scheduled time never changes.
func (s *Store) RecordFailure(id, reason string, now time.Time) (QueueEntry, error) {
	var out QueueEntry
	err := s.withTx(func(tx *sql.Tx) error {
		e, err := scanQueueEntry(tx.QueryRow(`SELECT `+queueColumns+` FROM queue q WHERE q.id = ?`, id))
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if e.Status == QueueUploaded || e.Status == QueueFailed {
			return fmt.Errorf("entry %s is %s: %w", id, e.Status, ErrInvalidTransition)
		}

		e.AttemptCount++
		until := now.UTC().Truncate(time.Second).Add(BackoffFor(e.AttemptCount))
		e.BackoffUntil = &until
		e.Status = QueueReady
		e.LastError = reason

		_, err = tx.Exec(`UPDATE queue SET status = ?, attempt_count = ?, backoff_until = ?, last_error = ? WHERE id = ?`,
			e.Status, e.AttemptCount, formatTime(until), reason, id)
		if err != nil {
			return fmt.Errorf("recording failure: %w", err)
		}
		out = e
		return nil
	})
	return out, err
}

// ResetStaleUploading returns entries stranded in uploading (by a crash
// mid-publish) to ready so the next sweep retries them.
func (s *Store) ResetStaleUploading() (int, error) {
	res, err := s.db.Exec(`UPDATE queue SET status = ? WHERE status = ?`, QueueReady, QueueUploading)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// MarkFailed moves an entry and its video to the terminal failed state.
// It is only reached by operator action, never by the sweep.
func (s *Store) MarkFailed(id, reason string) error {
	return s.withTx(func(tx *sql.Tx) error {
		var videoID, status string
		err := tx.QueryRow(`SELECT video_id, status FROM queue WHERE id = ?`, id).Scan(&videoID, &status)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if status == QueueUploaded || status == QueueFailed {
			return fmt.Errorf("entry %s is %s: %w", id, status, ErrInvalidTransition)
		}
		if _, err := tx.Exec(`UPDATE queue SET status = ?, last_error = ? WHERE id = ?`, QueueFailed, reason, id); err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE videos SET status = ? WHERE id = ?`, VideoFailed, videoID); err != nil {
			return err
		}
		return nil
	})
}
