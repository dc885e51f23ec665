package mutation

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand/v2"
	"strings"
	"unicode"
)

// replacements maps fixed vocabulary to interchangeable words. Keys are
// lower-cased and letters only.
var replacements = map[string][]string{
	"hack":      {"move", "tactic", "switch"},
	"money":     {"cash", "capital", "stack"},
	"tools":     {"systems", "engines", "kits"},
	"illegal":   {"forbidden", "taboo", "off limits"},
	"secret":    {"hidden", "covert", "quiet"},
	"habit":     {"ritual", "loop", "pattern"},
	"side":      {"shadow", "stealth", "quiet"},
	"hustle":    {"grind", "play", "scheme"},
	"viral":     {"explosive", "trend ready", "shareable"},
	"ai":        {"machine", "bot", "neural"},
	"investors": {"backers", "angels", "funders"},
	"sleep":     {"rest", "dream", "lights-out"},
	"five":      {"5"},
	"tips":      {"moves", "tricks"},
	"truth":     {"signal", "real story"},
	"wrong":     {"off", "backwards"},
	"stop":      {"ditch", "quit"},
	"improve":   {"level-up", "sharpen"},
	"study":     {"data", "research"},
	"told":      {"revealed", "showed"},
	"fastest":   {"quickest", "speediest"},
}

var prefixes = []string{"Watch:", "Real talk:", "Heads up:", "Quick one:", "Listen:", "Plot twist:"}

var suffixes = []string{"", "right now", "seriously", "for real"}

// textSeed derives a stable 64-bit seed from text.
func textSeed(text string) uint64 {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(text))))
	return binary.BigEndian.Uint64(sum[:8])
}

// localVariant rewrites text without any external service. The same
// (text, attempt) pair always yields the same output, and different attempts
// on one text never share a prefix.
func localVariant(text string, attempt int) string {
	seed := textSeed(text)
	rng := rand.New(rand.NewPCG(seed, uint64(attempt)))

	t := strings.TrimSuffix(strings.TrimSpace(text), ":")
	t = strings.ReplaceAll(t, "everyone", "most people")
	t = strings.ReplaceAll(t, "No one", "Almost no one")

	words := strings.Fields(t)
	out := make([]string, 0, len(words)+4)

	prefix := prefixes[(seed%uint64(len(prefixes))+uint64(attempt))%uint64(len(prefixes))]
	out = append(out, prefix)

	for _, w := range words {
		key := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) {
				return unicode.ToLower(r)
			}
			return -1
		}, w)
		// Drop a leading "Watch" so prefixes don't stack.
		if len(out) == 1 && key == "watch" {
			continue
		}
		if opts, ok := replacements[key]; ok {
			out = append(out, opts[rng.IntN(len(opts))])
			continue
		}
		out = append(out, w)
	}

	if suffix := suffixes[(seed/7+uint64(attempt))%uint64(len(suffixes))]; suffix != "" {
		out = append(out, suffix)
	}
	return truncateWords(strings.Join(out, " "), MaxWords)
}

// truncateWords keeps the first n whitespace-separated words of s.
func truncateWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
