package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/shortloop/internal/ports"
)

// CommandPublisher runs an uploader command whose arguments may reference
// {video}, {thumb}, {title}, {description}, {tags}, {privacy} and
// {category}. The platform id is read from its output.
type CommandPublisher struct {
	cmd Command
}

func NewCommandPublisher(cmd Command) *CommandPublisher {
	return &CommandPublisher{cmd: cmd}
}

func (p *CommandPublisher) Publish(ctx context.Context, req ports.PublishRequest) (ports.PublishResult, error) {
	tags := strings.Join(req.Tags, ",")
	cmd := p.cmd.Expand(map[string]string{
		"video":       req.VideoPath,
		"mp4":         req.VideoPath,
		"file":        req.VideoPath,
		"thumb":       req.ThumbPath,
		"thumbnail":   req.ThumbPath,
		"title":       req.Title,
		"description": req.Description,
		"desc":        req.Description,
		"tags":        tags,
		"privacy":     req.Privacy,
		"category":    req.Category,
	})
	out, err := cmd.Run(ctx, nil)
	if err != nil {
		return ports.PublishResult{}, fmt.Errorf("upload command: %w", err)
	}
	id := ParseVideoID(string(out))
	if id == "" {
		return ports.PublishResult{}, fmt.Errorf("upload command printed no video id")
	}
	return ports.PublishResult{PlatformID: id}, nil
}

// ParseVideoID finds the uploaded video id in uploader output: a JSON object
// with a videoId field, or a videoId=<id> token.
func ParseVideoID(output string) string {
	var obj struct {
		VideoID any `json:"videoId"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(output)), &obj); err == nil && obj.VideoID != nil {
		return strings.TrimSpace(fmt.Sprint(obj.VideoID))
	}
	for _, tok := range strings.Fields(output) {
		if id, ok := strings.CutPrefix(tok, "videoId="); ok && id != "" {
			return id
		}
	}
	return ""
}
