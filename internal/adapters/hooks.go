package adapters

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/kalambet/shortloop/internal/ports"
)

var syntheticPatterns = []string{
	"No one told you this about %s",
	"The truth about %s in 5 seconds",
	"Most people get %s wrong. Here's why",
	"Stop doing this if you care about %s",
	"I tested 100+ %s tips so you don't have to",
	"This %s hack changes everything",
	"New study just broke %s",
	"The fastest way to improve at %s",
}

// SyntheticHooks returns up to n pattern hooks for topic.
func SyntheticHooks(topic string, n int) []ports.Candidate {
	n = max(0, min(n, len(syntheticPatterns)))
	out := make([]ports.Candidate, 0, n)
	for _, p := range syntheticPatterns[:n] {
		out = append(out, ports.Candidate{Text: fmt.Sprintf(p, topic)})
	}
	return out
}

// FileSource reads trend items from JSON and JSONL files matching a glob
// (doublestar syntax, so "**" crosses directories) and keeps those whose text
// or tags mention the topic. Synthetic pattern hooks top up the result.
type FileSource struct {
	pattern string
	logger  *slog.Logger
}

func NewFileSource(pattern string) *FileSource {
	return &FileSource{pattern: pattern, logger: slog.Default()}
}

type trendItem struct {
	ports.Candidate
	Tags []string
}

func (s *FileSource) Hooks(ctx context.Context, topic string, limit int) ([]ports.Candidate, error) {
	var out []ports.Candidate
	if s.pattern != "" {
		paths, err := doublestar.FilepathGlob(s.pattern)
		if err != nil {
			return nil, fmt.Errorf("matching sources %q: %w", s.pattern, err)
		}
		for _, path := range paths {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			items, err := readTrendFile(path)
			if err != nil {
				s.logger.Warn("skipping source file", "path", path, "error", err)
				continue
			}
			for _, it := range items {
				if MatchesTopic(topic, it.Text, it.Tags) {
					out = append(out, it.Candidate)
				}
			}
		}
	}
	if limit > 0 && len(out) > limit {
		return out[:limit], nil
	}
	if limit > len(out) {
		out = append(out, SyntheticHooks(topic, limit-len(out))...)
	}
	return out, nil
}

// MatchesTopic reports whether any topic word, or its singular, appears in
// the text or the tags.
func MatchesTopic(topic, text string, tags []string) bool {
	text = strings.ToLower(text)
	var words []string
	for _, w := range strings.Fields(strings.ToLower(topic)) {
		words = append(words, w)
		if s := strings.TrimSuffix(w, "s"); s != w && s != "" {
			words = append(words, s)
		}
	}
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
		for _, tag := range tags {
			if strings.Contains(strings.ToLower(tag), w) {
				return true
			}
		}
	}
	return false
}

func readTrendFile(path string) ([]trendItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raws []map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			var m map[string]any
			if err := json.Unmarshal(line, &m); err != nil {
				return nil, fmt.Errorf("decoding line: %w", err)
			}
			raws = append(raws, m)
		}
		if err := sc.Err(); err != nil {
			return nil, err
		}
	case ".json":
		if raws, err = decodeJSONItems(data); err != nil {
			return nil, err
		}
	default:
		return nil, nil
	}

	items := make([]trendItem, 0, len(raws))
	for _, m := range raws {
		if it, ok := normalizeItem(m); ok {
			items = append(items, it)
		}
	}
	return items, nil
}

// decodeJSONItems accepts a bare array or an object wrapping one under a
// known key.
func decodeJSONItems(data []byte) ([]map[string]any, error) {
	var list []map[string]any
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("decoding source: %w", err)
	}
	for _, key := range []string{"items", "hooks", "posts", "clips", "videos"} {
		if raw, ok := obj[key]; ok {
			if err := json.Unmarshal(raw, &list); err != nil {
				return nil, fmt.Errorf("decoding %s: %w", key, err)
			}
			return list, nil
		}
	}
	return nil, nil
}

func normalizeItem(m map[string]any) (trendItem, bool) {
	text := strings.TrimSpace(firstString(m, "text", "title", "hook"))
	if text == "" {
		return trendItem{}, false
	}
	it := trendItem{Candidate: ports.Candidate{
		Text:    text,
		URL:     firstString(m, "url", "share_url", "webpage_url", "permalink"),
		Emotion: firstString(m, "emotion", "mood", "flair_text"),
	}}
	if v, ok := firstNumber(m, "views", "view_count", "viewCount", "upvotes", "score"); ok {
		it.Score = &v
	}
	for _, key := range []string{"topic_tags", "tags"} {
		if arr, ok := m[key].([]any); ok {
			for _, t := range arr {
				if s, ok := t.(string); ok {
					it.Tags = append(it.Tags, s)
				}
			}
		}
	}
	return it, true
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstNumber(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return v, true
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}
