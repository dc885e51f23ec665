package adapters

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kalambet/shortloop/internal/ports"
)

// CommandMetrics runs a metrics command with {id} and {window} placeholders
// and decodes the JSON it prints. Missing fields stay nil.
type CommandMetrics struct {
	cmd Command
}

func NewCommandMetrics(cmd Command) *CommandMetrics {
	return &CommandMetrics{cmd: cmd}
}

func (m *CommandMetrics) FetchMetrics(ctx context.Context, platformID, window string) (ports.Metrics, error) {
	cmd := m.cmd.Expand(map[string]string{"id": platformID, "window": window})
	out, err := cmd.Run(ctx, nil)
	if err != nil {
		return ports.Metrics{}, fmt.Errorf("metrics command: %w", err)
	}
	var metrics ports.Metrics
	if err := json.Unmarshal(out, &metrics); err != nil {
		return ports.Metrics{}, fmt.Errorf("decoding metrics for %s: %w", platformID, err)
	}
	return metrics, nil
}

// NeutralMetrics reports nothing for every video, so the puller records the
// neutral defaults. It stands in when no metrics command is configured.
type NeutralMetrics struct{}

func (NeutralMetrics) FetchMetrics(context.Context, string, string) (ports.Metrics, error) {
	return ports.Metrics{}, nil
}
