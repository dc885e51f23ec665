package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding topics, hooks, scripts, videos,
// the publish queue and analytics.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "shortloop.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// One connection serializes the driver, the sweep and the learner.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies embedded SQL migrations that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		err = s.withTx(func(tx *sql.Tx) error {
			if _, err := tx.Exec(string(content)); err != nil {
				return fmt.Errorf("applying migration %d: %w", version, err)
			}
			if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
				return fmt.Errorf("recording migration %d: %w", version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// withTx runs fn inside a transaction. Any error rolls everything back.
func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(field, v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", field, err)
	}
	return t, nil
}

func parseNullTime(field string, v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := parseTime(field, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// --- Topics ---

// UpsertTopic creates the topic if its name is new and returns the stored row.
func (s *Store) UpsertTopic(name string, now time.Time) (Topic, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Topic{}, fmt.Errorf("topic name is empty")
	}
	_, err := s.db.Exec(`
		INSERT INTO topics (id, name, weight, created_at) VALUES (?, ?, 1.0, ?)
		ON CONFLICT(name) DO NOTHING`,
		uuid.New().String(), name, formatTime(now),
	)
	if err != nil {
		return Topic{}, fmt.Errorf("inserting topic %q: %w", name, err)
	}
	return s.GetTopicByName(name)
}

func (s *Store) GetTopicByName(name string) (Topic, error) {
	var t Topic
	var createdAt string
	err := s.db.QueryRow(`SELECT id, name, weight, created_at FROM topics WHERE name = ?`, name).
		Scan(&t.ID, &t.Name, &t.Weight, &createdAt)
	if err == sql.ErrNoRows {
		return Topic{}, ErrNotFound
	}
	if err != nil {
		return Topic{}, err
	}
	if t.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Topic{}, err
	}
	return t, nil
}

// ListTopics returns topics in selection order: highest weight first,
// newest first among equal weights.
func (s *Store) ListTopics() ([]Topic, error) {
	rows, err := s.db.Query(`
		SELECT id, name, weight, created_at FROM topics
		ORDER BY weight DESC, created_at DESC, name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []Topic
	for rows.Next() {
		var t Topic
		var createdAt string
		if err := rows.Scan(&t.ID, &t.Name, &t.Weight, &createdAt); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// SelectTopic returns the highest-ranked topic whose name is not in skip.
func (s *Store) SelectTopic(skip map[string]bool) (Topic, error) {
	topics, err := s.ListTopics()
	if err != nil {
		return Topic{}, err
	}
	for _, t := range topics {
		if !skip[t.Name] {
			return t, nil
		}
	}
	return Topic{}, ErrNotFound
}

// UpdateTopicWeights sets the weight of every topic in weights (keyed by
// topic ID) in a single transaction. Topics not in the map are untouched.
func (s *Store) UpdateTopicWeights(weights map[string]float64) error {
	return s.withTx(func(tx *sql.Tx) error {
		for id, w := range weights {
			if _, err := tx.Exec(`UPDATE topics SET weight = ? WHERE id = ?`, w, id); err != nil {
				return fmt.Errorf("updating weight of topic %s: %w", id, err)
			}
		}
		return nil
	})
}

// --- Hooks ---

// SaveHooks inserts hooks atomically, assigning IDs and timestamps. A hook
// whose text is already stored for its topic is not inserted again; the
// stored row is returned in its place. Duplicates within the batch collapse
// to the first occurrence.
func (s *Store) SaveHooks(hooks []Hook, now time.Time) ([]Hook, error) {
	out := make([]Hook, 0, len(hooks))
	err := s.withTx(func(tx *sql.Tx) error {
		seen := make(map[[2]string]bool, len(hooks))
		for i, h := range hooks {
			if strings.TrimSpace(h.Text) == "" {
				return fmt.Errorf("hook %d: text is empty", i)
			}
			key := [2]string{h.TopicID, h.Text}
			if seen[key] {
				continue
			}
			seen[key] = true

			existing, err := findHook(tx, h.TopicID, h.Text)
			if err == nil {
				out = append(out, existing)
				continue
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("looking up hook: %w", err)
			}

			if h.ID == "" {
				h.ID = uuid.New().String()
			}
			h.CreatedAt = now.UTC().Truncate(time.Second)
			var score sql.NullFloat64
			if h.Score != nil {
				score = sql.NullFloat64{Float64: *h.Score, Valid: true}
			}
			_, err = tx.Exec(`
				INSERT INTO hooks (id, topic_id, text, source_url, score, emotion, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				h.ID, h.TopicID, h.Text, h.SourceURL, score, h.Emotion, formatTime(h.CreatedAt),
			)
			if err != nil {
				return fmt.Errorf("inserting hook: %w", err)
			}
			out = append(out, h)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func findHook(tx *sql.Tx, topicID, text string) (Hook, error) {
	var h Hook
	var score sql.NullFloat64
	var createdAt string
	err := tx.QueryRow(`
		SELECT id, topic_id, text, source_url, score, emotion, created_at
		FROM hooks WHERE topic_id = ? AND text = ? LIMIT 1`, topicID, text,
	).Scan(&h.ID, &h.TopicID, &h.Text, &h.SourceURL, &score, &h.Emotion, &createdAt)
	if err != nil {
		return Hook{}, err
	}
	if score.Valid {
		v := score.Float64
		h.Score = &v
	}
	if h.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Hook{}, err
	}
	return h, nil
}

// ListHooks returns the most recent hooks of a topic.
func (s *Store) ListHooks(topicID string, limit int) ([]Hook, error) {
	rows, err := s.db.Query(`
		SELECT id, topic_id, text, source_url, score, emotion, created_at
		FROM hooks WHERE topic_id = ? ORDER BY created_at DESC LIMIT ?`, topicID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hooks []Hook
	for rows.Next() {
		var h Hook
		var score sql.NullFloat64
		var createdAt string
		if err := rows.Scan(&h.ID, &h.TopicID, &h.Text, &h.SourceURL, &score, &h.Emotion, &createdAt); err != nil {
			return nil, err
		}
		if score.Valid {
			v := score.Float64
			h.Score = &v
		}
		if h.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		hooks = append(hooks, h)
	}
	return hooks, rows.Err()
}

// --- Scripts ---

// SaveScript stores a finalized script. ErrDuplicateScript is returned when
// a script with the same content hash already exists.
func (s *Store) SaveScript(sc Script) (Script, error) {
	meta, err := json.Marshal(sc.Metadata)
	if err != nil {
		return Script{}, fmt.Errorf("marshaling script metadata: %w", err)
	}
	if sc.ID == "" {
		sc.ID = uuid.New().String()
	}
	sc.CreatedAt = sc.CreatedAt.UTC().Truncate(time.Second)

	err = s.withTx(func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM scripts WHERE content_hash = ?`, sc.ContentHash).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return ErrDuplicateScript
		}
		_, err := tx.Exec(`
			INSERT INTO scripts (id, topic_id, text, words, duration_sec, metadata_json, content_hash, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sc.ID, sc.TopicID, sc.Text, sc.Words, sc.DurationSec, string(meta), sc.ContentHash, formatTime(sc.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("inserting script: %w", err)
		}
		return nil
	})
	if err != nil {
		return Script{}, err
	}
	return sc, nil
}

func (s *Store) GetScript(id string) (Script, error) {
	var sc Script
	var meta, createdAt string
	err := s.db.QueryRow(`
		SELECT id, topic_id, text, words, duration_sec, metadata_json, content_hash, created_at
		FROM scripts WHERE id = ?`, id,
	).Scan(&sc.ID, &sc.TopicID, &sc.Text, &sc.Words, &sc.DurationSec, &meta, &sc.ContentHash, &createdAt)
	if err == sql.ErrNoRows {
		return Script{}, ErrNotFound
	}
	if err != nil {
		return Script{}, err
	}
	if err := json.Unmarshal([]byte(meta), &sc.Metadata); err != nil {
		return Script{}, fmt.Errorf("parsing metadata of script %s: %w", id, err)
	}
	if sc.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Script{}, err
	}
	return sc, nil
}

// --- Videos ---

// SaveVideo stores a rendered video in the ready state.
func (s *Store) SaveVideo(v Video) (Video, error) {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	v.Status = VideoReady
	v.CreatedAt = v.CreatedAt.UTC().Truncate(time.Second)
	_, err := s.db.Exec(`
		INSERT INTO videos (id, script_id, video_path, thumb_path, duration_sec, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.ScriptID, v.VideoPath, v.ThumbPath, v.DurationSec, v.Status, formatTime(v.CreatedAt),
	)
	if err != nil {
		return Video{}, fmt.Errorf("inserting video: %w", err)
	}
	return v, nil
}

const videoColumns = `v.id, v.script_id, v.video_path, v.thumb_path, v.duration_sec, v.status, v.platform_video_id, v.uploaded_at, v.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(row rowScanner, extra ...any) (Video, error) {
	var v Video
	var platformID, uploadedAt sql.NullString
	var createdAt string
	dest := append([]any{&v.ID, &v.ScriptID, &v.VideoPath, &v.ThumbPath, &v.DurationSec, &v.Status, &platformID, &uploadedAt, &createdAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return Video{}, err
	}
	v.PlatformVideoID = platformID.String
	var err error
	if v.UploadedAt, err = parseNullTime("uploaded_at", uploadedAt); err != nil {
		return Video{}, err
	}
	if v.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Video{}, err
	}
	return v, nil
}

func (s *Store) GetVideo(id string) (Video, error) {
	v, err := scanVideo(s.db.QueryRow(`SELECT `+videoColumns+` FROM videos v WHERE v.id = ?`, id))
	if err == sql.ErrNoRows {
		return Video{}, ErrNotFound
	}
	return v, err
}

// ListUploadedVideos returns uploaded videos that carry a platform id,
// most recent uploads first.
func (s *Store) ListUploadedVideos(limit int) ([]Video, error) {
	rows, err := s.db.Query(`
		SELECT `+videoColumns+` FROM videos v
		WHERE v.status = ? AND v.platform_video_id IS NOT NULL AND v.platform_video_id != ''
		ORDER BY v.uploaded_at DESC LIMIT ?`, VideoUploaded, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}
