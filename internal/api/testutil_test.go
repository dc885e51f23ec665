package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/shortloop/internal/storage"
)

const testToken = "test-token-12345"

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func queueVideo(t *testing.T, s *storage.Store, topicName, text string, at time.Time) storage.QueueEntry {
	t.Helper()
	topic, err := s.UpsertTopic(topicName, t0)
	if err != nil {
		t.Fatalf("UpsertTopic: %v", err)
	}
	sc, err := s.SaveScript(storage.Script{TopicID: topic.ID, Text: text, ContentHash: text, CreatedAt: t0})
	if err != nil {
		t.Fatalf("SaveScript: %v", err)
	}
	v, err := s.SaveVideo(storage.Video{ScriptID: sc.ID, VideoPath: "/out/" + sc.ID + ".mp4", DurationSec: 9, CreatedAt: t0})
	if err != nil {
		t.Fatalf("SaveVideo: %v", err)
	}
	e, err := s.EnqueueVideo(v.ID, at, "youtube", t0)
	if err != nil {
		t.Fatalf("EnqueueVideo: %v", err)
	}
	return e
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}
