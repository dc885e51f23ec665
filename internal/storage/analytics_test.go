package storage

import (
	"testing"
	"time"
)

func TestRecentScoredAnalytics(t *testing.T) {
	s := openTestStore(t)
	_, _, v := seedVideo(t, s, "Fitness myths", "truth about fitness")

	err := s.RecordAnalytics([]AnalyticsRecord{
		{VideoID: v.ID, CTR: 0.05, AvgView: 0.5, LikeRate: 0.01, PulledAt: t0},
		{VideoID: v.ID, CTR: 0.08, AvgView: 0.8, LikeRate: 0.04, PulledAt: t0.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("RecordAnalytics: %v", err)
	}

	got, err := s.RecentScoredAnalytics(1)
	if err != nil {
		t.Fatalf("RecentScoredAnalytics: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].CTR != 0.08 {
		t.Errorf("newest record ctr = %v, want 0.08", got[0].CTR)
	}
	if got[0].Emotion != "hype" || got[0].ScriptText != "truth about fitness" {
		t.Errorf("join = %+v", got[0])
	}

	last, err := s.LastPulledAt(v.ID)
	if err != nil {
		t.Fatalf("LastPulledAt: %v", err)
	}
	if last == nil || !last.Equal(t0.Add(time.Hour)) {
		t.Errorf("LastPulledAt = %v", last)
	}
}

func TestTopicAvgViews(t *testing.T) {
	s := openTestStore(t)
	topic, _, v := seedVideo(t, s, "Fitness myths", "one")
	quiet, _ := s.UpsertTopic("Quiet", t0)

	s.RecordAnalytics([]AnalyticsRecord{
		{VideoID: v.ID, AvgView: 0.4, PulledAt: t0},
		{VideoID: v.ID, AvgView: 0.8, PulledAt: t0},
	})

	avgs, err := s.TopicAvgViews()
	if err != nil {
		t.Fatalf("TopicAvgViews: %v", err)
	}
	if got := avgs[topic.ID]; got < 0.5999 || got > 0.6001 {
		t.Errorf("avg = %v, want 0.6", got)
	}
	if _, ok := avgs[quiet.ID]; ok {
		t.Error("topic without analytics present in result")
	}
}

func TestLastPulledAt_None(t *testing.T) {
	s := openTestStore(t)
	_, _, v := seedVideo(t, s, "x", "y")
	last, err := s.LastPulledAt(v.ID)
	if err != nil {
		t.Fatalf("LastPulledAt: %v", err)
	}
	if last != nil {
		t.Errorf("LastPulledAt = %v, want nil", last)
	}
}
