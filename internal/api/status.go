package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/shortloop/internal/state"
	"github.com/kalambet/shortloop/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// StatusStore is the read side of the store exposed over HTTP and MCP,
// plus the manual failure transition.
type StatusStore interface {
	ListQueue(status string, limit int) ([]storage.QueueEntry, error)
	QueueSize() (int, error)
	ListTopics() ([]storage.Topic, error)
	MarkFailed(id, reason string) error
}

type StatusDeps struct {
	Store       StatusStore
	WeightsPath string
	Token       string
}

// QueueEntryView is the JSON form of a queue entry.
type QueueEntryView struct {
	ID           string     `json:"id"`
	VideoID      string     `json:"video_id"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	Status       string     `json:"status"`
	Platform     string     `json:"platform"`
	AttemptCount int        `json:"attempt_count"`
	BackoffUntil *time.Time `json:"backoff_until,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

type QueueView struct {
	Pending int              `json:"pending"`
	Entries []QueueEntryView `json:"entries"`
}

type TopicView struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

func newQueueEntryView(e storage.QueueEntry) QueueEntryView {
	return QueueEntryView{
		ID:           e.ID,
		VideoID:      e.VideoID,
		ScheduledFor: e.ScheduledFor,
		Status:       e.Status,
		Platform:     e.Platform,
		AttemptCount: e.AttemptCount,
		BackoffUntil: e.BackoffUntil,
		LastError:    e.LastError,
	}
}

// NewStatusHandler serves /health without auth and the queue, topic and
// weight views behind the bearer token.
func NewStatusHandler(deps StatusDeps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Get("/queue", handleQueue(deps))
		r.Post("/queue/{id}/fail", handleQueueFail(deps))
		r.Get("/topics", handleTopics(deps))
		r.Get("/weights", handleWeights(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func loadQueueView(store StatusStore, status string, limit int) (QueueView, error) {
	pending, err := store.QueueSize()
	if err != nil {
		return QueueView{}, err
	}
	entries, err := store.ListQueue(status, limit)
	if err != nil {
		return QueueView{}, err
	}
	view := QueueView{Pending: pending, Entries: make([]QueueEntryView, 0, len(entries))}
	for _, e := range entries {
		view.Entries = append(view.Entries, newQueueEntryView(e))
	}
	return view, nil
}

func loadTopicViews(store StatusStore) ([]TopicView, error) {
	topics, err := store.ListTopics()
	if err != nil {
		return nil, err
	}
	views := make([]TopicView, 0, len(topics))
	for _, t := range topics {
		views = append(views, TopicView{Name: t.Name, Weight: t.Weight})
	}
	return views, nil
}

func handleQueue(deps StatusDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 500)
		view, err := loadQueueView(deps.Store, r.URL.Query().Get("status"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list queue: %v", err)
			return
		}
		writeJSON(w, view)
	}
}

func handleQueueFail(deps StatusDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var body struct {
			Reason string `json:"reason"`
		}
		if r.ContentLength != 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
				return
			}
		}
		if body.Reason == "" {
			body.Reason = "marked failed via api"
		}

		err := deps.Store.MarkFailed(id, body.Reason)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "queue entry not found")
			return
		case errors.Is(err, storage.ErrInvalidTransition):
			httpError(w, http.StatusConflict, "invalid_request_error", "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "failed to mark entry: %v", err)
			return
		}
		writeJSON(w, map[string]string{"id": id, "status": storage.QueueFailed})
	}
}

func handleTopics(deps StatusDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		views, err := loadTopicViews(deps.Store)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list topics: %v", err)
			return
		}
		writeJSON(w, views)
	}
}

func handleWeights(deps StatusDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		weights, err := state.LoadWeights(deps.WeightsPath)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load weights: %v", err)
			return
		}
		writeJSON(w, weights)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
