package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/shortloop/internal/ports"
)

// CommandRenderer passes a render request to an external command as JSON on
// stdin. The command may print a RenderResult; when it prints nothing the
// requested output path is assumed.
type CommandRenderer struct {
	cmd Command
}

func NewCommandRenderer(cmd Command) *CommandRenderer {
	return &CommandRenderer{cmd: cmd}
}

func (r *CommandRenderer) Render(ctx context.Context, req ports.RenderRequest) (ports.RenderResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return ports.RenderResult{}, err
	}
	cmd := r.cmd.Expand(map[string]string{
		"script_id": req.ScriptID,
		"output":    req.OutputPath,
	})
	out, err := cmd.Run(ctx, payload)
	if err != nil {
		return ports.RenderResult{}, fmt.Errorf("render command: %w", err)
	}

	res := ports.RenderResult{VideoPath: req.OutputPath, DurationSec: req.DurationSec}
	if trimmed := strings.TrimSpace(string(out)); strings.HasPrefix(trimmed, "{") {
		var got ports.RenderResult
		if err := json.Unmarshal([]byte(trimmed), &got); err != nil {
			return ports.RenderResult{}, fmt.Errorf("decoding render output: %w", err)
		}
		if got.VideoPath != "" {
			res.VideoPath = got.VideoPath
		}
		if got.DurationSec > 0 {
			res.DurationSec = got.DurationSec
		}
		res.ThumbPath = got.ThumbPath
	}
	if res.VideoPath == "" {
		return ports.RenderResult{}, fmt.Errorf("render command reported no video path")
	}
	return res, nil
}
