package bridge

import "github.com/tinyland-inc/relayclaw/pkg/reformat"

// Subtypes of interest on inbound origin events.
const (
	SubtypeBotMessage     = "bot_message"
	SubtypeMessageChanged = "message_changed"
	SubtypeMessageDeleted = "message_deleted"
	SubtypeMessageReplied = "message_replied"
	SubtypeMeMessage      = "me_message"
)

// groupUpdates are administrative channel events. They are relayed with
// no attributed author and never receive a correlation id.
var groupUpdates = map[string]bool{
	"channel_archive":   true,
	"channel_join":      true,
	"channel_leave":     true,
	"channel_name":      true,
	"channel_purpose":   true,
	"channel_topic":     true,
	"channel_unarchive": true,
	"file_comment":      true,
	"file_mention":      true,
	"group_archive":     true,
	"group_join":        true,
	"group_leave":       true,
	"group_name":        true,
	"group_purpose":     true,
	"group_topic":       true,
	"group_unarchive":   true,
	"pinned_item":       true,
	"unpinned_item":     true,
}

// Event is the neutral inbound message shape produced by an origin
// connector. Edit and delete events wrap the affected message in
// Message/Previous; Classify flattens that nesting.
type Event struct {
	Subtype     string
	UserID      string
	BotID       string
	ChannelID   string
	ClientMsgID string
	Text        string
	Timestamp   string
	Edited      bool
	Attachments []reformat.Attachment
	Files       []reformat.File

	// Message is the current revision on a message_changed event.
	Message *Event
	// Previous is the removed revision on a message_deleted event.
	Previous *Event
}

// State is the lifecycle phase an event reports for its message.
type State int

const (
	StateNew State = iota
	StateEdited
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateEdited:
		return "edited"
	case StateDeleted:
		return "deleted"
	}
	return "unknown"
}

// AuthorKind classifies who (or what) produced the message. Only
// KindUser messages carry a stable client message id and therefore
// support anchored edits and deletes downstream.
type AuthorKind int

const (
	KindUser AuthorKind = iota
	KindBot
	KindAdmin
	KindAction
)

func (k AuthorKind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindBot:
		return "bot"
	case KindAdmin:
		return "admin"
	case KindAction:
		return "action"
	}
	return "unknown"
}

// Disposition is the result of classifying an inbound event: the
// lifecycle state, the author category, and the effective (flattened)
// event to act on.
type Disposition struct {
	State State
	Kind  AuthorKind
	Event *Event
}

// Classify inspects an event's subtype and produces its disposition.
// Thread-reply notifications report ok=false and are dropped. The
// returned event has edit/delete nesting already flattened, so callers
// never touch Message or Previous again.
func Classify(ev *Event) (Disposition, bool) {
	d := Disposition{State: StateNew, Event: ev}

	switch ev.Subtype {
	case SubtypeMessageChanged:
		d.State = StateEdited
		d.Event = overlay(ev, ev.Message)
	case SubtypeMessageDeleted:
		d.State = StateDeleted
		d.Event = overlay(ev, ev.Previous)
	}

	// The flattened subtype decides the rest: an edit can wrap a bot
	// message, so these checks come after the overlay.
	ev = d.Event
	switch {
	case ev.Subtype == SubtypeMessageReplied:
		return Disposition{}, false
	case ev.Subtype == SubtypeBotMessage, ev.BotID != "" && ev.UserID == "":
		d.Kind = KindBot
	case groupUpdates[ev.Subtype]:
		d.Kind = KindAdmin
	case ev.Subtype == SubtypeMeMessage:
		d.Kind = KindAction
		if ev.Edited && d.State == StateNew {
			d.State = StateEdited
		}
	}
	return d, true
}

// overlay merges the inner payload of an edit or delete over the outer
// event, keeping outer fields the inner payload does not carry (most
// importantly the channel id).
func overlay(outer, inner *Event) *Event {
	if inner == nil {
		return outer
	}
	merged := *inner
	if merged.ChannelID == "" {
		merged.ChannelID = outer.ChannelID
	}
	if merged.Subtype == "" {
		merged.Subtype = outer.Subtype
	}
	if merged.Timestamp == "" {
		merged.Timestamp = outer.Timestamp
	}
	return &merged
}
