package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Webhook posts notifications as JSON to a configured endpoint
// (a chat-bot bridge, a push gateway). Delivery is best effort: any
// failure is logged and reported as false.
type Webhook struct {
	URL    string
	Client *http.Client
	Logger zerolog.Logger
}

func NewWebhook(url string, logger zerolog.Logger) *Webhook {
	return &Webhook{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
		Logger: logger,
	}
}

type webhookPayload struct {
	UserID        string `json:"user_id"`
	Title         string `json:"title"`
	Body          string `json:"body"`
	CorrelationID string `json:"correlation_id"`
}

func (w *Webhook) Send(ctx context.Context, userID, title, body, correlationID string) bool {
	payload, err := json.Marshal(webhookPayload{
		UserID:        userID,
		Title:         title,
		Body:          body,
		CorrelationID: correlationID,
	})
	if err != nil {
		w.Logger.Error().Err(err).Str("correlation_id", correlationID).Msg("marshal notification")
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(payload))
	if err != nil {
		w.Logger.Error().Err(err).Str("correlation_id", correlationID).Msg("build notification request")
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		w.Logger.Warn().Err(err).Str("correlation_id", correlationID).Msg("notification delivery failed")
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		w.Logger.Warn().
			Int("status", resp.StatusCode).
			Str("body", string(b)).
			Str("correlation_id", correlationID).
			Msg("notification endpoint rejected message")
		return false
	}
	return true
}
