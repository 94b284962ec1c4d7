// Package bridge is the relay orchestrator. It classifies inbound
// origin events, resolves identities through the directory, renders
// text through the reformat pipeline, and queues outbound sends with
// edit/delete replay driven by the correlation store.
package bridge

import (
	"context"
	"errors"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tinyland-inc/relayclaw/pkg/bus"
	"github.com/tinyland-inc/relayclaw/pkg/correlation"
	"github.com/tinyland-inc/relayclaw/pkg/directory"
	"github.com/tinyland-inc/relayclaw/pkg/reformat"
)

// ErrNoDestination is reported when a send targets an unregistered route.
var ErrNoDestination = errors.New("no destination for route")

// Stream route names. These double as correlation-key namespaces, so
// renaming one orphans every live record under the old name.
const (
	RoutePublic     = "zulip.pub"
	RouteLogPublic  = "zulip.log"
	RouteLogPrivate = "zulip.priv"

	// GroupMeRoutePrefix + channel name addresses one webhook binding.
	GroupMeRoutePrefix = "groupme."
)

// Config is the static routing table.
type Config struct {
	// BotUserID is the bridge's own user id on the origin platform,
	// used to drop its own messages.
	BotUserID string
	// StreamBotEmail is the bridge's identity on the stream service,
	// used to drop its own messages on the return path.
	StreamBotEmail string

	// PublicTwoWay lists origin channel names relayed to the public
	// two-way stream.
	PublicTwoWay []string
	PublicStream string

	LogEnabled       bool
	LogPublicStream  string
	LogPrivateStream string

	// GroupMeChannels lists origin channel names with a webhook bot
	// binding.
	GroupMeChannels []string
}

// OriginPoster posts plain messages back to the origin platform, for
// rename acknowledgements, group deflections, and return-path relays.
type OriginPoster interface {
	PostMessage(ctx context.Context, channel, text string) error
}

type Bridge struct {
	cfg         Config
	directory   *directory.Directory
	correlation *correlation.Store
	pipeline    *reformat.Pipeline
	bus         *bus.SendBus
	origin      OriginPoster
	log         zerolog.Logger
}

func New(
	cfg Config,
	dir *directory.Directory,
	corr *correlation.Store,
	pipeline *reformat.Pipeline,
	sb *bus.SendBus,
	origin OriginPoster,
	log zerolog.Logger,
) *Bridge {
	return &Bridge{
		cfg:         cfg,
		directory:   dir,
		correlation: corr,
		pipeline:    pipeline,
		bus:         sb,
		origin:      origin,
		log:         log.With().Str("component", "bridge").Logger(),
	}
}

// HandleEvent processes one inbound origin event to completion. It
// never panics out: any failure is logged and the event dropped, so the
// listener survives to take the next one.
func (b *Bridge) HandleEvent(ctx context.Context, ev *Event) {
	traceID := uuid.NewString()
	log := b.log.With().Str("trace_id", traceID).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("event handling panicked")
		}
	}()

	d, ok := Classify(ev)
	if !ok {
		log.Debug().Msg("dropping thread reply notification")
		return
	}
	e := d.Event
	log = log.With().
		Str("state", d.State.String()).
		Str("kind", d.Kind.String()).
		Str("channel_id", e.ChannelID).
		Logger()

	userID := e.UserID
	if d.Kind == KindBot {
		uid, ok := b.directory.ResolveBot(ctx, e.BotID)
		if !ok {
			log.Debug().Str("bot_id", e.BotID).Msg("no bot found")
			return
		}
		if uid == b.cfg.BotUserID {
			log.Debug().Msg("dropping own message")
			return
		}
		userID = uid
	}

	userName, ok := b.directory.ResolveUser(ctx, userID, false)
	if !ok {
		return
	}
	channel, ok := b.directory.ResolveChannel(ctx, e.ChannelID, false)
	if !ok {
		return
	}

	switch channel.Visibility {
	case directory.VisibilityPublic, directory.VisibilityPrivate:
		b.relay(ctx, log, d, channel, userName, traceID)
	case directory.VisibilityDirect:
		b.confirmRename(ctx, log, e.ChannelID, userID)
	case directory.VisibilityGroup:
		if err := b.origin.PostMessage(ctx, e.ChannelID,
			"I'm not sure what I'm doing here, so I'll just be annoying."); err != nil {
			log.Error().Err(err).Msg("could not post group deflection")
		}
	}
}

// confirmRename treats any direct message as a rename confirmation:
// force-refresh the sender's directory entry and acknowledge.
func (b *Bridge) confirmRename(ctx context.Context, log zerolog.Logger, channelID, userID string) {
	name, ok := b.directory.ResolveUser(ctx, userID, true)
	if !ok {
		return
	}
	text := "OK, I have updated your display name for relayed messages. " +
		"Your name is now seen as: *" + name + "*."
	if err := b.origin.PostMessage(ctx, channelID, text); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("could not acknowledge rename")
	}
}

// relay fans one channel message out to its configured routes.
func (b *Bridge) relay(ctx context.Context, log zerolog.Logger, d Disposition, channel *directory.Channel, userName, traceID string) {
	e := d.Event
	text := b.pipeline.Rewrite(e.Text)
	atts := b.pipeline.FormatAttachments(text, e.Attachments, d.State != StateNew)
	hasContent := len(text) > 0 || len(atts.Markdown) > 0
	files := reformat.FormatFiles(e.Files, hasContent)
	markdown := text + atts.Markdown + files.Markdown
	plaintext := text + atts.Plaintext + files.Plaintext

	originID := ""
	author := userName
	switch d.Kind {
	case KindUser:
		originID = e.ClientMsgID
		if originID == "" {
			log.Warn().Str("user", userName).Msg("no client message id on user message")
		}
	case KindAdmin:
		author = ""
	}
	me := d.Kind == KindAction

	if contains(b.cfg.PublicTwoWay, channel.Name) {
		b.sendStream(ctx, log, streamSend{
			route:    RoutePublic,
			public:   true,
			topic:    channel.Name,
			body:     markdown,
			author:   author,
			me:       me,
			originID: originID,
			state:    d.State,
			traceID:  traceID,
		})
	}

	if b.cfg.LogEnabled {
		route := RouteLogPublic
		if channel.Visibility == directory.VisibilityPrivate {
			route = RouteLogPrivate
		}
		b.sendStream(ctx, log, streamSend{
			route:    route,
			topic:    channel.Name,
			body:     markdown,
			author:   author,
			me:       me,
			originID: originID,
			state:    d.State,
			traceID:  traceID,
		})
	}

	// The webhook binding has no message identity API, so edits and
	// deletes never reach it.
	if d.State == StateNew && contains(b.cfg.GroupMeChannels, channel.Name) {
		b.publish(ctx, log, bus.OutboundSend{
			Route:   GroupMeRoutePrefix + channel.Name,
			Content: plainPrefix(author, me) + plaintext,
			Kind:    bus.SendNew,
			TraceID: traceID,
		})
	}
}

type streamSend struct {
	route    string
	public   bool
	topic    string
	body     string
	author   string
	me       bool
	originID string
	state    State
	traceID  string
}

// sendStream runs the per-route new/edit/delete state machine and
// queues the resulting send, if any. Correlation records are written in
// the send's completion callback, never before the destination has
// acknowledged.
func (b *Bridge) sendStream(ctx context.Context, log zerolog.Logger, s streamSend) {
	content := markdownPrefix(s.author, s.me) + s.body

	switch s.state {
	case StateNew:
		b.publish(ctx, log, bus.OutboundSend{
			Route:    s.route,
			Topic:    s.topic,
			Content:  content,
			Kind:     bus.SendNew,
			TraceID:  s.traceID,
			OnResult: b.recordOnSuccess(s.route, s.originID),
		})

	case StateEdited:
		if s.originID != "" {
			// The existing record keeps anchoring the same message;
			// an in-place edit must not restart its TTL.
			if destID, ok := b.correlation.Lookup(ctx, s.route, s.originID); ok {
				b.publish(ctx, log, bus.OutboundSend{
					Route:    s.route,
					Topic:    s.topic,
					Content:  content,
					Kind:     bus.SendUpdate,
					TargetID: destID,
					TraceID:  s.traceID,
				})
				return
			}
		}
		if s.public {
			log.Debug().Str("route", s.route).Msg("suppressing unanchored public edit")
			return
		}
		b.publish(ctx, log, bus.OutboundSend{
			Route:   s.route,
			Topic:   s.topic,
			Content: content + " *(edited)*",
			Kind:    bus.SendNew,
			TraceID: s.traceID,
		})

	case StateDeleted:
		if s.originID != "" {
			if destID, ok := b.correlation.Lookup(ctx, s.route, s.originID); ok {
				if s.public {
					b.publish(ctx, log, bus.OutboundSend{
						Route:    s.route,
						Kind:     bus.SendDelete,
						TargetID: destID,
						TraceID:  s.traceID,
					})
				} else {
					b.publish(ctx, log, bus.OutboundSend{
						Route:    s.route,
						Topic:    s.topic,
						Content:  content + " *(deleted)*",
						Kind:     bus.SendUpdate,
						TargetID: destID,
						TraceID:  s.traceID,
					})
				}
				return
			}
		}
		if s.public {
			log.Debug().Str("route", s.route).Msg("suppressing unanchored public delete")
			return
		}
		b.publish(ctx, log, bus.OutboundSend{
			Route:   s.route,
			Topic:   s.topic,
			Content: content + " *(deleted)*",
			Kind:    bus.SendNew,
			TraceID: s.traceID,
		})
	}
}

// recordOnSuccess builds the completion callback that correlates a
// fresh send. Messages with no stable origin id are never correlated.
func (b *Bridge) recordOnSuccess(route, originID string) func(string, error) {
	if originID == "" {
		return nil
	}
	return func(destID string, err error) {
		if err != nil || destID == "" {
			return
		}
		b.correlation.Record(context.Background(), route, originID, destID)
	}
}

func (b *Bridge) publish(ctx context.Context, log zerolog.Logger, send bus.OutboundSend) {
	if err := b.bus.Publish(ctx, send); err != nil {
		log.Error().Err(err).Str("route", send.Route).Msg("could not queue send")
	}
}

func markdownPrefix(author string, me bool) string {
	switch {
	case author == "":
		return ""
	case me:
		return "**" + author + "** "
	default:
		return "**" + author + "**: "
	}
}

func plainPrefix(author string, me bool) string {
	switch {
	case author == "":
		return ""
	case me:
		return author + " "
	default:
		return author + ": "
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
