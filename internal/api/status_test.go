package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/kalambet/shortloop/internal/state"
	"github.com/kalambet/shortloop/internal/storage"
)

func setupStatusHandler(t *testing.T) (http.Handler, *storage.Store, string) {
	t.Helper()
	store := openTestStore(t)
	weightsPath := filepath.Join(t.TempDir(), "bias_weights.json")
	h := NewStatusHandler(StatusDeps{Store: store, WeightsPath: weightsPath, Token: testToken})
	return h, store, weightsPath
}

func TestHealth_NoAuth(t *testing.T) {
	h, _, _ := setupStatusHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
}

func TestStatus_RequiresToken(t *testing.T) {
	h, _, _ := setupStatusHandler(t)

	for _, path := range []string{"/queue", "/topics", "/weights"} {
		for _, token := range []string{"", "wrong-token"} {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, authReq(http.MethodGet, path, "", token))
			if rr.Code != http.StatusUnauthorized {
				t.Errorf("%s with token %q: status = %d, want 401", path, token, rr.Code)
			}
		}
	}
}

func TestQueue_ListsEntries(t *testing.T) {
	h, store, _ := setupStatusHandler(t)
	first := queueVideo(t, store, "Fitness myths", "first", t0.Add(2*time.Hour))
	queueVideo(t, store, "Fitness myths", "second", t0.Add(3*time.Hour))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/queue", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	var view QueueView
	if err := json.NewDecoder(rr.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Pending != 2 {
		t.Errorf("pending = %d, want 2", view.Pending)
	}
	if len(view.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(view.Entries))
	}
	if view.Entries[0].ID != first.ID {
		t.Errorf("first entry = %s, want %s", view.Entries[0].ID, first.ID)
	}
	if view.Entries[0].Platform != "youtube" {
		t.Errorf("platform = %q", view.Entries[0].Platform)
	}
}

func TestQueue_StatusFilter(t *testing.T) {
	h, store, _ := setupStatusHandler(t)
	e := queueVideo(t, store, "Fitness myths", "first", t0)
	queueVideo(t, store, "Fitness myths", "second", t0)
	if err := store.MarkFailed(e.ID, "bad render"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/queue?status=failed", "", testToken))

	var view QueueView
	json.NewDecoder(rr.Body).Decode(&view)
	if len(view.Entries) != 1 || view.Entries[0].ID != e.ID {
		t.Fatalf("entries = %+v, want only %s", view.Entries, e.ID)
	}
	if view.Entries[0].LastError != "bad render" {
		t.Errorf("last_error = %q", view.Entries[0].LastError)
	}
	if view.Pending != 1 {
		t.Errorf("pending = %d, want 1", view.Pending)
	}
}

func TestQueueFail(t *testing.T) {
	h, store, _ := setupStatusHandler(t)
	e := queueVideo(t, store, "Fitness myths", "first", t0)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/queue/"+e.ID+"/fail", `{"reason":"wrong aspect"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	got, err := store.GetQueueEntry(e.ID)
	if err != nil {
		t.Fatalf("GetQueueEntry: %v", err)
	}
	if got.Status != storage.QueueFailed || got.LastError != "wrong aspect" {
		t.Errorf("entry = %+v", got)
	}

	// A terminal entry cannot be failed again.
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/queue/"+e.ID+"/fail", "", testToken))
	if rr.Code != http.StatusConflict {
		t.Errorf("second fail status = %d, want 409", rr.Code)
	}
}

func TestQueueFail_NotFound(t *testing.T) {
	h, _, _ := setupStatusHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/queue/nope/fail", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestTopics(t *testing.T) {
	h, store, _ := setupStatusHandler(t)
	fitness, err := store.UpsertTopic("Fitness myths", t0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.UpsertTopic("Money habits", t0.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateTopicWeights(map[string]float64{fitness.ID: 1.6}); err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/topics", "", testToken))

	var topics []TopicView
	if err := json.NewDecoder(rr.Body).Decode(&topics); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(topics) != 2 {
		t.Fatalf("topics = %d, want 2", len(topics))
	}
	if topics[0].Name != "Fitness myths" || topics[0].Weight != 1.6 {
		t.Errorf("first topic = %+v", topics[0])
	}
}

func TestWeights(t *testing.T) {
	h, _, path := setupStatusHandler(t)

	// Missing file reads as empty weights.
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/weights", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	err := state.SaveWeights(path, state.BiasWeights{
		EmotionWeights: map[string]float64{"curiosity": 2.0},
		NgramWeights:   map[string]float64{"truth": 1.25},
	})
	if err != nil {
		t.Fatalf("SaveWeights: %v", err)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/weights", "", testToken))

	var w state.BiasWeights
	if err := json.NewDecoder(rr.Body).Decode(&w); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if w.EmotionWeights["curiosity"] != 2.0 || w.NgramWeights["truth"] != 1.25 {
		t.Errorf("weights = %+v", w)
	}
}
