package alert

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Webhook posts the raw Notification as JSON. With a secret, the body is
// signed in X-Signature-256 as "sha256=<hex>".
type Webhook struct {
	poster
}

func NewWebhook(url, secret string) *Webhook {
	p := newPoster("webhook", url)
	if secret != "" {
		p.sign = func(body []byte) map[string]string {
			return map[string]string{"X-Signature-256": "sha256=" + Sign(secret, body)}
		}
	}
	return &Webhook{poster: p}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, n *Notification) error {
	return w.post(ctx, n)
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
