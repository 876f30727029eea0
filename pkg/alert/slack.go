package alert

import (
	"context"
	"fmt"
)

// Slack posts Block Kit messages to an incoming webhook.
type Slack struct {
	poster
}

func NewSlack(webhookURL string) *Slack {
	return &Slack{poster: newPoster("slack webhook", webhookURL)}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Send(ctx context.Context, n *Notification) error {
	blocks := []map[string]any{
		{"type": "header", "text": map[string]any{
			"type": "plain_text",
			"text": severityIcon(n.Severity) + " " + n.Title,
		}},
		{"type": "section", "text": map[string]any{"type": "mrkdwn", "text": n.Body}},
	}

	if len(n.Fields) > 0 {
		cols := make([]map[string]any, 0, len(n.Fields))
		for _, f := range n.Fields {
			cols = append(cols, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*%s*\n%s", f.Name, f.Value)})
		}
		blocks = append(blocks, map[string]any{"type": "section", "fields": cols})
	}

	return s.post(ctx, map[string]any{"text": n.Title, "blocks": blocks})
}

func severityIcon(s Severity) string {
	if s == SeverityCritical {
		return "🚨"
	}
	return "⚠️"
}
