// Package notify posts ingestion progress to a chat webhook. Notification
// failures are logged and swallowed; a broken webhook must never fail a
// load.
package notify

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Notifier posts plain-text messages to a Slack-compatible webhook. A nil
// Notifier or an empty webhook URL turns every Send into a no-op.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New returns a notifier for the given webhook URL.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts one message. Errors are logged, never returned.
func (n *Notifier) Send(ctx context.Context, text string) {
	if n == nil || n.webhookURL == "" {
		return
	}
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to encode notification")
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to build notification request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to post notification")
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		log.Ctx(ctx).Warn().Int("status", resp.StatusCode).Msg("notification webhook rejected the message")
	}
}
