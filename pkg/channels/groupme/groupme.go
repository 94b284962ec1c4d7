// Package groupme is the webhook bot binding: an outbound bot-post
// client and an inbound webhook listener per bound channel.
package groupme

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/tinyland-inc/relayclaw/pkg/bridge"
	"github.com/tinyland-inc/relayclaw/pkg/bus"
)

const defaultAPIBase = "https://api.groupme.com"

// BotClient posts through one bot binding. The bot API offers no
// message identity, so only fresh posts are supported.
type BotClient struct {
	http  *resty.Client
	botID string
}

func NewBotClient(botID string) *BotClient {
	return &BotClient{
		http: resty.New().
			SetBaseURL(defaultAPIBase).
			SetTimeout(30 * time.Second),
		botID: botID,
	}
}

// SetBaseURL overrides the API host, for tests.
func (b *BotClient) SetBaseURL(url string) {
	b.http.SetBaseURL(url)
}

func (b *BotClient) Send(ctx context.Context, req bridge.SendRequest) (bridge.SendResult, error) {
	if req.Kind != bus.SendNew {
		return bridge.SendResult{}, fmt.Errorf("bot binding cannot %s messages", req.Kind)
	}
	resp, err := b.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"bot_id": b.botID,
			"text":   req.Content,
		}).
		Post("/v3/bots/post")
	if err != nil {
		return bridge.SendResult{}, fmt.Errorf("bot post: %w", err)
	}
	if resp.IsError() {
		return bridge.SendResult{}, fmt.Errorf("bot post: status %d", resp.StatusCode())
	}
	// The bot API assigns no retrievable message id.
	return bridge.SendResult{}, nil
}

// WebhookHandler consumes inbound webhook posts. The orchestrator's
// return path implements this.
type WebhookHandler interface {
	HandleWebhookMessage(ctx context.Context, msg bridge.WebhookMessage)
}

type webhookPayload struct {
	Name        string `json:"name"`
	Text        string `json:"text"`
	Attachments []struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	} `json:"attachments"`
}

// NewWebhookMux returns the HTTP handler for one channel binding. The
// callback service retries on non-200, so every request is answered 200
// and processing errors are logged and swallowed.
func NewWebhookMux(channel, botName string, handler WebhookHandler, log zerolog.Logger) http.Handler {
	log = log.With().Str("component", "groupme-webhook").Str("channel", channel).Logger()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodPost {
			return
		}

		var payload webhookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			log.Error().Err(err).Msg("could not decode webhook post")
			return
		}
		if payload.Name == botName {
			// The bot's own posts echo back through the webhook.
			return
		}

		msg := bridge.WebhookMessage{
			Channel: channel,
			Name:    payload.Name,
			Text:    payload.Text,
		}
		for _, a := range payload.Attachments {
			if a.Type == "image" {
				msg.ImageURL = a.URL
				break
			}
		}
		handler.HandleWebhookMessage(r.Context(), msg)
	})
}
