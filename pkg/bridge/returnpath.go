package bridge

import (
	"context"

	"github.com/google/uuid"

	"github.com/tinyland-inc/relayclaw/pkg/bus"
	"github.com/tinyland-inc/relayclaw/pkg/directory"
)

// StreamMessage is an inbound message from the topic-stream service.
// The topic names the origin channel the stream mirrors.
type StreamMessage struct {
	Topic       string
	SenderName  string
	SenderEmail string
	Content     string
}

// HandleStreamMessage relays a stream message back to the origin
// platform, and on to a webhook binding if one exists for the topic.
// Only public two-way topics travel back; everything else on the
// stream side is log output.
func (b *Bridge) HandleStreamMessage(ctx context.Context, msg StreamMessage) {
	log := b.log.With().Str("trace_id", uuid.NewString()).Str("topic", msg.Topic).Logger()

	if msg.SenderEmail == b.cfg.StreamBotEmail {
		return
	}
	if !contains(b.cfg.PublicTwoWay, msg.Topic) {
		return
	}

	text := "*" + msg.SenderName + "*: " + msg.Content
	if err := b.origin.PostMessage(ctx, msg.Topic, text); err != nil {
		log.Error().Err(err).Msg("could not relay stream message to origin")
	}

	if contains(b.cfg.GroupMeChannels, msg.Topic) {
		b.publish(ctx, log, bus.OutboundSend{
			Route:   GroupMeRoutePrefix + msg.Topic,
			Content: msg.SenderName + ": " + msg.Content,
			Kind:    bus.SendNew,
		})
	}
}

// WebhookMessage is an inbound post from a webhook bot binding. The
// connector has already filtered out the binding's own posts. ImageURL
// carries the first image attachment, if any.
type WebhookMessage struct {
	Channel  string
	Name     string
	Text     string
	ImageURL string
}

// HandleWebhookMessage relays a webhook post to the origin platform,
// the public two-way stream when the bound channel is configured for
// it, and the matching log stream. The author is tagged with the
// binding's platform so readers can tell where it came from.
func (b *Bridge) HandleWebhookMessage(ctx context.Context, msg WebhookMessage) {
	log := b.log.With().Str("trace_id", uuid.NewString()).Str("channel", msg.Channel).Logger()

	text := msg.Text
	if msg.ImageURL != "" {
		caption := text
		if caption == "" {
			caption = "image"
		}
		text = "[" + caption + "](" + msg.ImageURL + ")\n"
	}
	author := msg.Name + " [GroupMe]"

	if err := b.origin.PostMessage(ctx, msg.Channel, "*"+author+"*: "+text); err != nil {
		log.Error().Err(err).Msg("could not relay webhook message to origin")
	}

	if contains(b.cfg.PublicTwoWay, msg.Channel) {
		b.sendStream(ctx, log, streamSend{
			route:  RoutePublic,
			public: true,
			topic:  msg.Channel,
			body:   text,
			author: author,
			state:  StateNew,
		})
	}

	if !b.cfg.LogEnabled {
		return
	}
	// The log route depends on the bound channel's visibility, known
	// only if the bridge has already seen the channel.
	id, ok := b.directory.ResolveChannelByName(ctx, msg.Channel)
	if !ok {
		return
	}
	channel, ok := b.directory.CachedChannel(ctx, id)
	if !ok {
		log.Warn().Str("channel_id", id).Msg("channel indexed but not cached")
		return
	}
	route := RouteLogPublic
	if channel.Visibility == directory.VisibilityPrivate {
		route = RouteLogPrivate
	}
	b.sendStream(ctx, log, streamSend{
		route:  route,
		topic:  msg.Channel,
		body:   text,
		author: author,
		state:  StateNew,
	})
}
