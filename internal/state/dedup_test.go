package state

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizedHash(t *testing.T) {
	a := NormalizedHash("  Stop   DOING this ")
	b := NormalizedHash("stop doing this")
	if a != b {
		t.Errorf("hash differs for whitespace/case variants: %s vs %s", a, b)
	}
	if a == NormalizedHash("stop doing that") {
		t.Error("different texts share a hash")
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64", len(a))
	}
}

func TestDedupStore_AddIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dedup.json")
	d, err := OpenDedup(path)
	if err != nil {
		t.Fatalf("OpenDedup: %v", err)
	}

	h := NormalizedHash("The truth about fitness")
	if d.Has("Fitness myths", h) {
		t.Fatal("empty store reports hash")
	}
	if err := d.Add("Fitness myths", h); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := d.Add("Fitness myths", h); err != nil {
		t.Fatalf("second Add: %v", err)
	}
	if !d.Has("Fitness myths", h) {
		t.Error("Has = false after Add")
	}
	if d.Len() != 1 {
		t.Errorf("Len = %d, want 1", d.Len())
	}
}

func TestDedupStore_GlobalAcrossTopics(t *testing.T) {
	d, _ := OpenDedup(filepath.Join(t.TempDir(), "dedup.json"))
	h := NormalizedHash("shared line")
	d.Add("A", h)
	if !d.Has("B", h) {
		t.Error("hash accepted under A is not visible globally")
	}
}

func TestDedupStore_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "dedup.json")
	d, _ := OpenDedup(path)
	h := NormalizedHash("persist me")
	if err := d.Add("Motivation", h); err != nil {
		t.Fatalf("Add: %v", err)
	}

	reopened, err := OpenDedup(path)
	if err != nil {
		t.Fatalf("OpenDedup: %v", err)
	}
	if !reopened.Has("Motivation", h) {
		t.Error("hash lost after reopen")
	}
}

func TestDedupStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dedup.json")
	os.WriteFile(path, []byte("{not json"), 0o644)
	if _, err := OpenDedup(path); err == nil {
		t.Error("expected error for corrupt dedup file")
	}
}
