// Package slack is the origin-platform connector: an RTM listener
// feeding the orchestrator, plus the Web API surface the directory and
// the return paths post through.
package slack

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	slackapi "github.com/slack-go/slack"

	"github.com/tinyland-inc/relayclaw/pkg/bridge"
	"github.com/tinyland-inc/relayclaw/pkg/channels"
)

// EventHandler consumes converted origin events. The orchestrator
// implements this.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev *bridge.Event)
}

type Connector struct {
	*channels.BaseConnector

	api     *slackapi.Client
	rtm     *slackapi.RTM
	handler EventHandler
	log     zerolog.Logger
	done    chan struct{}
}

func New(token string, handler EventHandler, log zerolog.Logger) *Connector {
	return &Connector{
		BaseConnector: channels.NewBaseConnector("slack"),
		api:           slackapi.New(token),
		handler:       handler,
		log:           log.With().Str("component", "slack").Logger(),
		done:          make(chan struct{}),
	}
}

// API exposes the underlying Web API client for callers that need raw
// access, like the error hook.
func (c *Connector) API() *slackapi.Client {
	return c.api
}

// SetHandler installs the event handler. The handler usually resolves
// identities through this connector, so it is built second and wired in
// here before Start.
func (c *Connector) SetHandler(h EventHandler) {
	c.handler = h
}

func (c *Connector) Start(ctx context.Context) error {
	c.rtm = c.api.NewRTM()
	go c.rtm.ManageConnection()
	go c.listen(ctx)
	c.SetRunning(true)
	c.log.Info().Msg("real-time listener started")
	return nil
}

func (c *Connector) Stop(ctx context.Context) error {
	c.SetRunning(false)
	close(c.done)
	if c.rtm != nil {
		return c.rtm.Disconnect()
	}
	return nil
}

// listen consumes the real-time event stream. Events arrive in order
// and are handled one at a time; the orchestrator's own boundary keeps
// a bad event from killing the loop.
func (c *Connector) listen(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case msg, ok := <-c.rtm.IncomingEvents:
			if !ok {
				return
			}
			switch ev := msg.Data.(type) {
			case *slackapi.MessageEvent:
				c.handler.HandleEvent(ctx, convertMessage(ev))
			case *slackapi.ConnectedEvent:
				c.log.Info().Int("attempt", ev.ConnectionCount).Msg("connected")
			case *slackapi.RTMError:
				c.log.Error().Int("code", ev.Code).Str("msg", ev.Msg).Msg("real-time error")
			case *slackapi.InvalidAuthEvent:
				c.log.Error().Msg("invalid credentials, listener stopping")
				return
			}
		}
	}
}

// PostMessage posts plain text to a channel, accepting either a channel
// id or a channel name.
func (c *Connector) PostMessage(ctx context.Context, channel, text string) error {
	_, _, err := c.api.PostMessageContext(ctx, channel, slackapi.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("post message to %s: %w", channel, err)
	}
	return nil
}

// WelcomeNewUser opens a direct conversation with a first-time user and
// introduces the bridge. Wired as the directory's new-user callback.
func (c *Connector) WelcomeNewUser(ctx context.Context, id, name string) {
	conv, _, _, err := c.api.OpenConversationContext(ctx, &slackapi.OpenConversationParameters{
		Users: []string{id},
	})
	if err != nil {
		c.log.Error().Err(err).Str("user_id", id).Msg("could not open welcome conversation")
		return
	}
	intro := "Hi " + name + ", welcome!"
	followup := "My job here is to forward messages to and from the linked chat service. " +
		"Your name is currently relayed as: *" + name + "*. If you update your name, " +
		"respond here with _literally anything_ at any time and I'll pick up the new one."
	for _, text := range []string{intro, followup} {
		if err := c.PostMessage(ctx, conv.ID, text); err != nil {
			c.log.Error().Err(err).Str("user_id", id).Msg("could not send welcome message")
			return
		}
	}
}
