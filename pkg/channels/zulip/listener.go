package zulip

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinyland-inc/relayclaw/pkg/bridge"
	"github.com/tinyland-inc/relayclaw/pkg/channels"
)

// StreamHandler consumes inbound stream messages. The orchestrator's
// return path implements this.
type StreamHandler interface {
	HandleStreamMessage(ctx context.Context, msg bridge.StreamMessage)
}

// Listener long-polls the event queue API and feeds message events to
// the handler. The queue is re-registered when the server forgets it.
type Listener struct {
	*channels.BaseConnector

	client  *Client
	handler StreamHandler
	log     zerolog.Logger
	cancel  context.CancelFunc

	queueID     string
	lastEventID int64
}

func NewListener(client *Client, handler StreamHandler, log zerolog.Logger) *Listener {
	return &Listener{
		BaseConnector: channels.NewBaseConnector("zulip"),
		client:        client,
		handler:       handler,
		log:           log.With().Str("component", "zulip-listener").Logger(),
	}
}

func (l *Listener) Start(ctx context.Context) error {
	ctx, l.cancel = context.WithCancel(ctx)
	if err := l.register(ctx); err != nil {
		l.cancel()
		return err
	}
	go l.poll(ctx)
	l.SetRunning(true)
	l.log.Info().Msg("event listener started")
	return nil
}

func (l *Listener) Stop(_ context.Context) error {
	l.SetRunning(false)
	if l.cancel != nil {
		l.cancel()
	}
	return nil
}

type registerResponse struct {
	apiResponse
	QueueID     string `json:"queue_id"`
	LastEventID int64  `json:"last_event_id"`
}

func (l *Listener) register(ctx context.Context) error {
	var out registerResponse
	resp, err := l.client.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"event_types": `["message"]`}).
		SetResult(&out).
		SetError(&out).
		Post("/api/v1/register")
	if err != nil {
		return fmt.Errorf("register event queue: %w", err)
	}
	if resp.IsError() || !out.ok() {
		return fmt.Errorf("register event queue: %s", out.Msg)
	}
	l.queueID = out.QueueID
	l.lastEventID = out.LastEventID
	return nil
}

type eventsResponse struct {
	apiResponse
	Events []struct {
		ID      int64  `json:"id"`
		Type    string `json:"type"`
		Message struct {
			Subject        string `json:"subject"`
			Content        string `json:"content"`
			SenderEmail    string `json:"sender_email"`
			SenderFullName string `json:"sender_full_name"`
		} `json:"message"`
	} `json:"events"`
}

func (l *Listener) poll(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := l.pollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			l.log.Error().Err(err).Msg("event poll failed, backing off")
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (l *Listener) pollOnce(ctx context.Context) error {
	var out eventsResponse
	resp, err := l.client.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"queue_id":      l.queueID,
			"last_event_id": strconv.FormatInt(l.lastEventID, 10),
		}).
		SetResult(&out).
		SetError(&out).
		Get("/api/v1/events")
	if err != nil {
		return fmt.Errorf("poll events: %w", err)
	}
	if resp.IsError() || !out.ok() {
		if out.Code == "BAD_EVENT_QUEUE_ID" {
			l.log.Warn().Msg("event queue expired, re-registering")
			return l.register(ctx)
		}
		return fmt.Errorf("poll events: %s", out.Msg)
	}

	for _, ev := range out.Events {
		if ev.ID > l.lastEventID {
			l.lastEventID = ev.ID
		}
		if ev.Type != "message" {
			continue
		}
		l.handler.HandleStreamMessage(ctx, bridge.StreamMessage{
			Topic:       ev.Message.Subject,
			SenderName:  ev.Message.SenderFullName,
			SenderEmail: ev.Message.SenderEmail,
			Content:     ev.Message.Content,
		})
	}
	return nil
}
