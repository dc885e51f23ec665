package state

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// NormalizedHash is the dedup key of a text: whitespace collapsed,
// lower-cased, SHA-256 hex.
func NormalizedHash(text string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

type dedupFile struct {
	Global []string            `json:"global"`
	Topics map[string][]string `json:"topics"`
}

// DedupStore remembers every accepted hook hash, globally and per topic.
// It only grows. Each new hash is flushed to disk before Add returns.
type DedupStore struct {
	mu      sync.Mutex
	path    string
	global  map[string]struct{}
	byTopic map[string]map[string]struct{}
}

// OpenDedup loads the store at path. A missing file yields an empty store.
func OpenDedup(path string) (*DedupStore, error) {
	d := &DedupStore{
		path:    path,
		global:  make(map[string]struct{}),
		byTopic: make(map[string]map[string]struct{}),
	}
	var f dedupFile
	if _, err := readJSON(path, &f); err != nil {
		return nil, fmt.Errorf("loading dedup store: %w", err)
	}
	for _, h := range f.Global {
		d.global[h] = struct{}{}
	}
	for topic, hashes := range f.Topics {
		set := make(map[string]struct{}, len(hashes))
		for _, h := range hashes {
			set[h] = struct{}{}
		}
		d.byTopic[topic] = set
	}
	return d, nil
}

// Has reports whether hash was accepted before, under any topic or under topic.
func (d *DedupStore) Has(topic, hash string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.global[hash]; ok {
		return true
	}
	_, ok := d.byTopic[topic][hash]
	return ok
}

// Add records hash for topic. Adding a known hash is a no-op.
func (d *DedupStore) Add(topic, hash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, inGlobal := d.global[hash]
	_, inTopic := d.byTopic[topic][hash]
	if inGlobal && inTopic {
		return nil
	}

	d.global[hash] = struct{}{}
	set := d.byTopic[topic]
	if set == nil {
		set = make(map[string]struct{})
		d.byTopic[topic] = set
	}
	set[hash] = struct{}{}

	if err := writeJSON(d.path, d.snapshot()); err != nil {
		// Keep memory in step with the file.
		if !inGlobal {
			delete(d.global, hash)
		}
		if !inTopic {
			delete(set, hash)
		}
		return fmt.Errorf("persisting dedup store: %w", err)
	}
	return nil
}

// Len returns the number of globally known hashes.
func (d *DedupStore) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.global)
}

func (d *DedupStore) snapshot() dedupFile {
	f := dedupFile{Global: sortedKeys(d.global), Topics: make(map[string][]string, len(d.byTopic))}
	for topic, set := range d.byTopic {
		f.Topics[topic] = sortedKeys(set)
	}
	return f
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
