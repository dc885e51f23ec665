package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/shortloop/internal/ports"
	"github.com/kalambet/shortloop/internal/ranking"
	"github.com/kalambet/shortloop/internal/state"
	"github.com/kalambet/shortloop/internal/storage"
)

// MCPStore extends StatusStore with the lookups rank_preview needs.
type MCPStore interface {
	StatusStore
	GetTopicByName(name string) (storage.Topic, error)
	ListHooks(topicID string, limit int) ([]storage.Hook, error)
}

// MCPRanker abstracts hook ranking for the MCP layer.
type MCPRanker interface {
	Rank(ctx context.Context, topic string, hooks []storage.Hook, weights state.BiasWeights) ([]ranking.Ranked, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store       MCPStore
	Ranker      MCPRanker
	Source      ports.HookSource // optional; used when a topic has no stored hooks
	WeightsPath string
	Version     string
}

// RankedView is one rank_preview result.
type RankedView struct {
	Text       string  `json:"text"`
	Emotion    string  `json:"emotion,omitempty"`
	Similarity float64 `json:"similarity"`
	Bias       float64 `json:"bias"`
	Score      float64 `json:"score"`
}

// NewMCPServer creates an MCP server with the shortloop inspection tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"shortloop",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("shortloop: inspect the short-video publish queue, topics, learned bias weights and hook ranking."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("queue_status",
			mcp.WithDescription("List publish queue entries ordered by scheduled time, with the count still headed for upload."),
			mcp.WithString("status", mcp.Description("Filter by status: pending, ready, uploading, uploaded or failed")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of entries (default 20)")),
		),
		mcpQueueStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("list_topics",
			mcp.WithDescription("List topics in selection order with their weights."),
		),
		mcpListTopics(deps),
	)

	s.AddTool(
		mcp.NewTool("bias_weights",
			mcp.WithDescription("Show the learned emotion and token bias weights used by the ranker."),
		),
		mcpBiasWeights(deps),
	)

	s.AddTool(
		mcp.NewTool("rank_preview",
			mcp.WithDescription("Rank candidate hooks for a topic without mutating or queueing anything."),
			mcp.WithString("topic", mcp.Description("Topic name"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of candidate hooks to rank (default 50)")),
		),
		mcpRankPreview(deps),
	)

	return s
}

func mcpQueueStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		view, err := loadQueueView(deps.Store, req.GetString("status", ""), limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list queue: %v", err)), nil
		}
		return mcpJSON(view)
	}
}

func mcpListTopics(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		views, err := loadTopicViews(deps.Store)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list topics: %v", err)), nil
		}
		return mcpJSON(views)
	}
}

func mcpBiasWeights(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		weights, err := state.LoadWeights(deps.WeightsPath)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpJSON(weights)
	}
}

func mcpRankPreview(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		topic, err := req.RequireString("topic")
		if err != nil || topic == "" {
			return mcpError("topic is required"), nil
		}
		limit := req.GetInt("limit", 50)
		if limit <= 0 {
			limit = 50
		}
		if deps.Ranker == nil {
			return mcpError("ranker not available"), nil
		}

		hooks, err := previewHooks(ctx, deps, topic, limit)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		weights, err := state.LoadWeights(deps.WeightsPath)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		ranked, err := deps.Ranker.Rank(ctx, topic, hooks, weights)
		if err != nil {
			return mcpError(fmt.Sprintf("ranking failed: %v", err)), nil
		}

		views := make([]RankedView, 0, len(ranked))
		for _, r := range ranked {
			views = append(views, RankedView{
				Text:       r.Hook.Text,
				Emotion:    r.Hook.Emotion,
				Similarity: r.Similarity,
				Bias:       r.Bias,
				Score:      r.Score,
			})
		}
		return mcpJSON(views)
	}
}

// previewHooks prefers hooks already mined for the topic and falls back to
// the live source.
func previewHooks(ctx context.Context, deps MCPDeps, topic string, limit int) ([]storage.Hook, error) {
	t, err := deps.Store.GetTopicByName(topic)
	switch {
	case err == nil:
		hooks, err := deps.Store.ListHooks(t.ID, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to list hooks: %w", err)
		}
		if len(hooks) > 0 {
			return hooks, nil
		}
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("failed to look up topic: %w", err)
	}

	if deps.Source == nil {
		return nil, nil
	}
	cands, err := deps.Source.Hooks(ctx, topic, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to mine hooks: %w", err)
	}
	hooks := make([]storage.Hook, 0, len(cands))
	for _, c := range cands {
		h, err := storage.NewHook(topic, c.Text, c.URL, c.Emotion, c.Score)
		if err != nil {
			continue
		}
		hooks = append(hooks, h)
	}
	return hooks, nil
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
