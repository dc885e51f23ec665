package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/shortloop/internal/ollama"
	"github.com/kalambet/shortloop/internal/ports"
)

type rewriteConstraints struct {
	PreserveEmotion   bool `json:"preserve_emotion"`
	PreserveStructure bool `json:"preserve_structure"`
	MaxWords          int  `json:"max_words"`
	DedupeAgainstSeed bool `json:"dedupe_against_seeds"`
}

type rewritePayload struct {
	Task        string             `json:"task"`
	Model       string             `json:"model,omitempty"`
	Topic       string             `json:"topic"`
	Constraints rewriteConstraints `json:"constraints"`
	Seeds       []ports.Seed       `json:"seeds"`
	Count       int                `json:"count"`
}

// CommandRewriter sends a mutate_hooks request to an external command on
// stdin and reads variants from stdout.
type CommandRewriter struct {
	cmd   Command
	model string
}

func NewCommandRewriter(cmd Command, model string) *CommandRewriter {
	return &CommandRewriter{cmd: cmd, model: model}
}

func (r *CommandRewriter) Rewrite(ctx context.Context, req ports.RewriteRequest) ([]ports.RewriteResult, error) {
	payload, err := json.Marshal(rewritePayload{
		Task:  "mutate_hooks",
		Model: r.model,
		Topic: req.Topic,
		Constraints: rewriteConstraints{
			PreserveEmotion:   req.PreserveEmotion,
			PreserveStructure: true,
			MaxWords:          req.MaxWords,
			DedupeAgainstSeed: req.AvoidSeeds,
		},
		Seeds: req.Seeds,
		Count: req.Count,
	})
	if err != nil {
		return nil, err
	}
	out, err := r.cmd.Run(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("rewrite command: %w", err)
	}
	return ParseVariants(out)
}

// ParseVariants accepts {"variants": [...]}, {"mutations": [...]} or a bare
// list, where each item is an object with text and emotion or a plain string.
func ParseVariants(data []byte) ([]ports.RewriteResult, error) {
	var items []json.RawMessage
	var wrapped struct {
		Variants  []json.RawMessage `json:"variants"`
		Mutations []json.RawMessage `json:"mutations"`
	}
	trimmed := strings.TrimSpace(string(data))
	switch {
	case strings.HasPrefix(trimmed, "["):
		if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
			return nil, fmt.Errorf("decoding variants: %w", err)
		}
	case strings.HasPrefix(trimmed, "{"):
		if err := json.Unmarshal([]byte(trimmed), &wrapped); err != nil {
			return nil, fmt.Errorf("decoding variants: %w", err)
		}
		items = wrapped.Variants
		if items == nil {
			items = wrapped.Mutations
		}
		if items == nil {
			return nil, fmt.Errorf("no variants in rewrite output")
		}
	default:
		return nil, fmt.Errorf("rewrite output is not JSON")
	}

	out := make([]ports.RewriteResult, 0, len(items))
	for _, raw := range items {
		var res ports.RewriteResult
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			res.Text = s
		} else if err := json.Unmarshal(raw, &res); err != nil {
			continue
		}
		res.Text = strings.TrimSpace(res.Text)
		out = append(out, res)
	}
	return out, nil
}

// OllamaRewriter asks a local chat model for variants constrained by a JSON
// schema.
type OllamaRewriter struct {
	client *ollama.Client
	model  string
}

func NewOllamaRewriter(client *ollama.Client, model string) *OllamaRewriter {
	return &OllamaRewriter{client: client, model: model}
}

const rewriteSystemPrompt = `You rewrite short video hooks. For each seed hook, write one fresh variant ` +
	`that keeps its emotion and sentence shape but changes nouns and verbs. ` +
	`Never repeat a seed. Respond with JSON only.`

var variantsSchema = &ollama.Schema{
	Type: "object",
	Properties: map[string]ollama.SchemaProperty{
		"variants": {
			Type: "array",
			Items: &ollama.SchemaProperty{
				Type: "object",
				Properties: map[string]ollama.SchemaProperty{
					"text":    {Type: "string"},
					"emotion": {Type: "string"},
				},
			},
		},
	},
	Required: []string{"variants"},
}

func (r *OllamaRewriter) Rewrite(ctx context.Context, req ports.RewriteRequest) ([]ports.RewriteResult, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\nWrite %d variants, at most %d words each, one per seed in order.\nSeeds:\n", req.Topic, req.Count, req.MaxWords)
	for i, s := range req.Seeds {
		fmt.Fprintf(&b, "%d. %s", i+1, s.Text)
		if s.Emotion != "" {
			fmt.Fprintf(&b, " (emotion: %s)", s.Emotion)
		}
		b.WriteString("\n")
	}

	resp, err := r.client.Chat(ctx, r.model, []ollama.Message{
		{Role: "system", Content: rewriteSystemPrompt},
		{Role: "user", Content: b.String()},
	}, variantsSchema)
	if err != nil {
		return nil, fmt.Errorf("ollama rewrite: %w", err)
	}
	return ParseVariants([]byte(resp))
}
