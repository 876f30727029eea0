package alert

import (
	"context"
	"time"
)

const (
	discordAmber = 0xFFAA00
	discordRed   = 0xDD2222
)

// Discord posts a single embed per notification.
type Discord struct {
	poster
}

func NewDiscord(webhookURL string) *Discord {
	return &Discord{poster: newPoster("discord webhook", webhookURL)}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, n *Notification) error {
	color := discordAmber
	if n.Severity == SeverityCritical {
		color = discordRed
	}

	desc := n.Body
	if len(n.Fields) > 0 {
		desc += "\n\n" + fieldLines(n.Fields, "**")
	}

	return d.post(ctx, map[string]any{
		"embeds": []map[string]any{{
			"title":       severityIcon(n.Severity) + " " + n.Title,
			"description": desc,
			"color":       color,
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
		}},
	})
}
