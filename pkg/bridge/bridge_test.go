package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinyland-inc/relayclaw/pkg/bus"
	"github.com/tinyland-inc/relayclaw/pkg/correlation"
	"github.com/tinyland-inc/relayclaw/pkg/directory"
	"github.com/tinyland-inc/relayclaw/pkg/reformat"
	"github.com/tinyland-inc/relayclaw/pkg/store"
)

type recordedPost struct {
	Channel string
	Text    string
}

type fakeOrigin struct {
	posts []recordedPost
}

func (f *fakeOrigin) PostMessage(_ context.Context, channel, text string) error {
	f.posts = append(f.posts, recordedPost{Channel: channel, Text: text})
	return nil
}

type fakeDestination struct {
	sends  []SendRequest
	nextID int
	err    error
}

func (f *fakeDestination) Send(_ context.Context, req SendRequest) (SendResult, error) {
	f.sends = append(f.sends, req)
	if f.err != nil {
		return SendResult{}, f.err
	}
	if req.Kind == bus.SendNew {
		f.nextID++
		return SendResult{ID: fmt.Sprintf("z%d", f.nextID)}, nil
	}
	return SendResult{}, nil
}

type fakeFetcher struct {
	users        map[string]string
	bots         map[string]string
	channels     map[string]*directory.ChannelInfo
	userFetches  int
	panicOnFetch bool
}

func (f *fakeFetcher) FetchUser(_ context.Context, id string) (string, error) {
	if f.panicOnFetch {
		panic("fetch blew up")
	}
	f.userFetches++
	if name, ok := f.users[id]; ok {
		return name, nil
	}
	return "", errors.New("user_not_found")
}

func (f *fakeFetcher) FetchBot(_ context.Context, id string) (string, error) {
	if userID, ok := f.bots[id]; ok {
		return userID, nil
	}
	return "", errors.New("bot_not_found")
}

func (f *fakeFetcher) FetchChannel(_ context.Context, id string) (*directory.ChannelInfo, error) {
	if info, ok := f.channels[id]; ok {
		return info, nil
	}
	return nil, errors.New("channel_not_found")
}

// countingStore tallies Set calls per key so tests can assert how often
// a record was (re)written, not just its final value.
type countingStore struct {
	store.Store
	sets map[string]int
}

func (c *countingStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.sets[key]++
	return c.Store.Set(ctx, key, value, ttl)
}

type harness struct {
	bridge     *Bridge
	bus        *bus.SendBus
	dispatcher *Dispatcher
	origin     *fakeOrigin
	fetcher    *fakeFetcher
	corr       *correlation.Store
	corrWrites *countingStore

	pub     *fakeDestination
	logPub  *fakeDestination
	logPriv *fakeDestination
	groupme *fakeDestination
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zerolog.Nop()
	kv := store.NewMemoryStore()

	fetcher := &fakeFetcher{
		users: map[string]string{"U1": "Alice", "U2": "Bob", "UB": "Build Bot"},
		bots:  map[string]string{"B1": "UB", "B9": "UBRIDGE"},
		channels: map[string]*directory.ChannelInfo{
			"C1": {IsChannel: true, Name: "town-square"},
			"C2": {IsGroup: true, Name: "secret"},
			"D1": {IsIM: true, UserID: "U1"},
			"G1": {IsGroup: true, IsMPIM: true, Name: "mpdm-a-b-1"},
		},
	}

	dir := directory.New(kv, fetcher, log)
	counted := &countingStore{Store: kv, sets: map[string]int{}}
	corr := correlation.New(store.WithPrefix(counted, "test"), time.Hour, log)
	origin := &fakeOrigin{}
	sb := bus.NewSendBus()
	t.Cleanup(sb.Close)

	pipeline := reformat.NewPipeline(func(id string) (string, bool) {
		name, ok := fetcher.users[id]
		return name, ok
	}, log)

	cfg := Config{
		BotUserID:        "UBRIDGE",
		StreamBotEmail:   "bridge-bot@example.com",
		PublicTwoWay:     []string{"town-square"},
		PublicStream:     "general",
		LogEnabled:       true,
		LogPublicStream:  "origin-log",
		LogPrivateStream: "origin-log-private",
		GroupMeChannels:  []string{"town-square"},
	}

	h := &harness{
		bus:        sb,
		origin:     origin,
		fetcher:    fetcher,
		corr:       corr,
		corrWrites: counted,
		pub:        &fakeDestination{},
		logPub:     &fakeDestination{},
		logPriv:    &fakeDestination{},
		groupme:    &fakeDestination{},
	}
	h.bridge = New(cfg, dir, corr, pipeline, sb, origin, log)
	h.dispatcher = NewDispatcher(sb, 1, log)
	h.dispatcher.Register(RoutePublic, h.pub)
	h.dispatcher.Register(RouteLogPublic, h.logPub)
	h.dispatcher.Register(RouteLogPrivate, h.logPriv)
	h.dispatcher.Register(GroupMeRoutePrefix, h.groupme)
	return h
}

// drain delivers every queued send synchronously so assertions see a
// settled state.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		send, ok := h.bus.Consume(ctx)
		cancel()
		if !ok {
			return
		}
		h.dispatcher.deliver(context.Background(), send)
	}
}

func (h *harness) handle(t *testing.T, ev *Event) {
	t.Helper()
	h.bridge.HandleEvent(context.Background(), ev)
	h.drain(t)
}

func userMessage(channel, msgID, text string) *Event {
	return &Event{UserID: "U1", ChannelID: channel, ClientMsgID: msgID, Text: text}
}

func editOf(channel string, inner *Event) *Event {
	return &Event{Subtype: SubtypeMessageChanged, ChannelID: channel, Message: inner}
}

func deleteOf(channel string, previous *Event) *Event {
	return &Event{Subtype: SubtypeMessageDeleted, ChannelID: channel, Previous: previous}
}

func TestNewMessage_PublicChannel(t *testing.T) {
	h := newHarness(t)
	h.handle(t, userMessage("C1", "m1", "hello"))

	if len(h.pub.sends) != 1 {
		t.Fatalf("public route: %d sends, want 1", len(h.pub.sends))
	}
	send := h.pub.sends[0]
	if send.Kind != bus.SendNew || send.Topic != "town-square" || send.Content != "**Alice**: hello" {
		t.Errorf("unexpected public send: %+v", send)
	}
	if len(h.logPub.sends) != 1 {
		t.Errorf("log route: %d sends, want 1", len(h.logPub.sends))
	}
	if len(h.groupme.sends) != 1 || h.groupme.sends[0].Content != "Alice: hello" {
		t.Errorf("unexpected groupme sends: %+v", h.groupme.sends)
	}

	// Correlated per route, only after the destination acknowledged.
	if id, ok := h.corr.Lookup(context.Background(), RoutePublic, "m1"); !ok || id != "z1" {
		t.Errorf("public correlation: got %q, %v", id, ok)
	}
	if _, ok := h.corr.Lookup(context.Background(), RouteLogPublic, "m1"); !ok {
		t.Error("log correlation missing")
	}
}

func TestNewMessage_SendFailureNotCorrelated(t *testing.T) {
	h := newHarness(t)
	h.pub.err = errors.New("boom")
	h.handle(t, userMessage("C1", "m1", "hello"))

	if _, ok := h.corr.Lookup(context.Background(), RoutePublic, "m1"); ok {
		t.Error("failed send must not be correlated")
	}
	// The log route is independent and still went through.
	if _, ok := h.corr.Lookup(context.Background(), RouteLogPublic, "m1"); !ok {
		t.Error("log route should be unaffected by the public failure")
	}
}

func TestAnchoredEdit_UpdatesInPlace(t *testing.T) {
	h := newHarness(t)
	h.handle(t, userMessage("C1", "m1", "hello"))
	h.handle(t, editOf("C1", userMessage("C1", "m1", "hello again")))

	if len(h.pub.sends) != 2 {
		t.Fatalf("public route: %d sends, want 2", len(h.pub.sends))
	}
	edit := h.pub.sends[1]
	if edit.Kind != bus.SendUpdate || edit.TargetID != "z1" {
		t.Errorf("expected in-place update of z1, got %+v", edit)
	}
	if edit.Content != "**Alice**: hello again" {
		t.Errorf("anchored edit must carry no marker, got %q", edit.Content)
	}
	// Still anchored to the same destination message.
	if id, _ := h.corr.Lookup(context.Background(), RoutePublic, "m1"); id != "z1" {
		t.Errorf("correlation moved to %q, want z1", id)
	}
}

func TestAnchoredEdit_DoesNotRefreshCorrelationTTL(t *testing.T) {
	h := newHarness(t)
	h.handle(t, userMessage("C1", "m1", "hello"))
	h.handle(t, editOf("C1", userMessage("C1", "m1", "hello again")))
	h.handle(t, editOf("C1", userMessage("C1", "m1", "hello a third time")))

	// Only the original send writes the record; rewriting it on edit
	// would restart the TTL and keep the message editable forever.
	key := "test:msg." + RoutePublic + ":m1"
	if got := h.corrWrites.sets[key]; got != 1 {
		t.Errorf("correlation record written %d times, want 1", got)
	}
}

func TestUnanchoredEdit_PublicSuppressed(t *testing.T) {
	h := newHarness(t)
	// No prior message: the correlation window has lapsed.
	h.handle(t, editOf("C1", userMessage("C1", "m1", "revised")))

	if len(h.pub.sends) != 0 {
		t.Errorf("public route must suppress unanchored edits, got %+v", h.pub.sends)
	}
	if len(h.logPub.sends) != 1 {
		t.Fatalf("log route: %d sends, want 1", len(h.logPub.sends))
	}
	logged := h.logPub.sends[0]
	if logged.Kind != bus.SendNew || !strings.HasSuffix(logged.Content, " *(edited)*") {
		t.Errorf("expected annotated new message on log route, got %+v", logged)
	}
	// Annotated posts are never correlated.
	if _, ok := h.corr.Lookup(context.Background(), RouteLogPublic, "m1"); ok {
		t.Error("unanchored edit must not create a correlation record")
	}
	if len(h.groupme.sends) != 0 {
		t.Error("edits never reach the webhook binding")
	}
}

func TestAnchoredDelete_PublicIsTrueDelete(t *testing.T) {
	h := newHarness(t)
	h.handle(t, userMessage("C1", "m1", "oops"))
	h.handle(t, deleteOf("C1", userMessage("C1", "m1", "oops")))

	del := h.pub.sends[len(h.pub.sends)-1]
	if del.Kind != bus.SendDelete || del.TargetID != "z1" {
		t.Errorf("expected true delete of z1, got %+v", del)
	}
}

func TestAnchoredDelete_PrivateRouteAnnotatesInPlace(t *testing.T) {
	h := newHarness(t)
	h.handle(t, userMessage("C2", "m1", "oops"))
	if len(h.logPriv.sends) != 1 {
		t.Fatalf("private log route: %d sends, want 1", len(h.logPriv.sends))
	}
	h.handle(t, deleteOf("C2", userMessage("C2", "m1", "oops")))

	if len(h.logPriv.sends) != 2 {
		t.Fatalf("private log route: %d sends, want 2", len(h.logPriv.sends))
	}
	del := h.logPriv.sends[1]
	if del.Kind != bus.SendUpdate {
		t.Errorf("private delete must update in place, got kind %v", del.Kind)
	}
	if !strings.HasSuffix(del.Content, " *(deleted)*") {
		t.Errorf("expected deleted marker, got %q", del.Content)
	}
}

func TestUnanchoredDelete_PublicSuppressedLogAnnotated(t *testing.T) {
	h := newHarness(t)
	h.handle(t, deleteOf("C1", userMessage("C1", "m1", "gone")))

	if len(h.pub.sends) != 0 {
		t.Errorf("public route must suppress unanchored deletes, got %+v", h.pub.sends)
	}
	if len(h.logPub.sends) != 1 || !strings.HasSuffix(h.logPub.sends[0].Content, " *(deleted)*") {
		t.Errorf("expected annotated new message on log route, got %+v", h.logPub.sends)
	}
}

func TestPrivateChannel_NotSentPublicly(t *testing.T) {
	h := newHarness(t)
	h.handle(t, userMessage("C2", "m1", "psst"))

	if len(h.pub.sends) != 0 {
		t.Errorf("private channel must not reach the public route: %+v", h.pub.sends)
	}
	if len(h.logPriv.sends) != 1 {
		t.Errorf("private log route: %d sends, want 1", len(h.logPriv.sends))
	}
	if len(h.logPub.sends) != 0 {
		t.Errorf("public log route must not see private channels: %+v", h.logPub.sends)
	}
}

func TestBotMessage_RelayedButNotCorrelated(t *testing.T) {
	h := newHarness(t)
	h.handle(t, &Event{Subtype: SubtypeBotMessage, BotID: "B1", ChannelID: "C1", Text: "build passed"})

	if len(h.pub.sends) != 1 {
		t.Fatalf("public route: %d sends, want 1", len(h.pub.sends))
	}
	if h.pub.sends[0].Content != "**Build Bot**: build passed" {
		t.Errorf("unexpected content %q", h.pub.sends[0].Content)
	}
}

func TestOwnBotMessage_Dropped(t *testing.T) {
	h := newHarness(t)
	h.handle(t, &Event{Subtype: SubtypeBotMessage, BotID: "B9", ChannelID: "C1", Text: "echo"})

	if len(h.pub.sends)+len(h.logPub.sends)+len(h.groupme.sends) != 0 {
		t.Error("the bridge must drop its own messages")
	}
}

func TestUnknownBot_Dropped(t *testing.T) {
	h := newHarness(t)
	h.handle(t, &Event{Subtype: SubtypeBotMessage, BotID: "BGONE", ChannelID: "C1", Text: "hi"})

	if len(h.pub.sends) != 0 {
		t.Error("unresolvable bot must drop the event")
	}
}

func TestThreadReply_Dropped(t *testing.T) {
	h := newHarness(t)
	h.handle(t, &Event{Subtype: SubtypeMessageReplied, UserID: "U1", ChannelID: "C1", Text: "in thread"})

	if len(h.pub.sends)+len(h.logPub.sends) != 0 {
		t.Error("thread reply notifications must be dropped")
	}
}

func TestAdminUpdate_NoAuthorNoCorrelation(t *testing.T) {
	h := newHarness(t)
	h.handle(t, &Event{Subtype: "channel_join", UserID: "U1", ChannelID: "C1", Text: "Alice joined"})

	if len(h.pub.sends) != 1 {
		t.Fatalf("public route: %d sends, want 1", len(h.pub.sends))
	}
	if h.pub.sends[0].Content != "Alice joined" {
		t.Errorf("admin updates carry no author prefix, got %q", h.pub.sends[0].Content)
	}
}

func TestMeMessage_ActionPrefix(t *testing.T) {
	h := newHarness(t)
	h.handle(t, &Event{Subtype: SubtypeMeMessage, UserID: "U1", ChannelID: "C1", ClientMsgID: "m1", Text: "waves"})

	if h.pub.sends[0].Content != "**Alice** waves" {
		t.Errorf("got %q, want action-style prefix", h.pub.sends[0].Content)
	}
	// Action messages have no stable id on destinations.
	if _, ok := h.corr.Lookup(context.Background(), RoutePublic, "m1"); ok {
		t.Error("action messages must not be correlated")
	}
}

func TestMeMessageEdit_PublicSuppressed(t *testing.T) {
	h := newHarness(t)
	h.handle(t, &Event{Subtype: SubtypeMeMessage, UserID: "U1", ChannelID: "C1", Text: "waves", Edited: true})

	if len(h.pub.sends) != 0 {
		t.Errorf("edited action message must not surface publicly: %+v", h.pub.sends)
	}
	if len(h.logPub.sends) != 1 || !strings.HasSuffix(h.logPub.sends[0].Content, " *(edited)*") {
		t.Errorf("expected annotated log copy, got %+v", h.logPub.sends)
	}
}

func TestMentionRewritingInRelay(t *testing.T) {
	h := newHarness(t)
	h.handle(t, userMessage("C1", "m1", "ping <@U2>"))

	if h.pub.sends[0].Content != "**Alice**: ping **@Bob**" {
		t.Errorf("got %q", h.pub.sends[0].Content)
	}
}

func TestDirectMessage_RenameConfirmation(t *testing.T) {
	h := newHarness(t)
	// Seed the user so the next resolve is the forced refresh.
	h.handle(t, userMessage("C1", "m0", "hi"))
	fetchesBefore := h.fetcher.userFetches
	h.fetcher.users["U1"] = "Alice Smith"

	h.handle(t, userMessage("D1", "", "anything"))

	if h.fetcher.userFetches <= fetchesBefore {
		t.Error("direct message must force-refresh the sender entry")
	}
	last := h.origin.posts[len(h.origin.posts)-1]
	if last.Channel != "D1" || !strings.Contains(last.Text, "*Alice Smith*") {
		t.Errorf("unexpected acknowledgement: %+v", last)
	}
	// Terminal: no route sends for the DM itself.
	if len(h.pub.sends) != 1 {
		t.Errorf("direct messages must not be relayed, public sends: %d", len(h.pub.sends))
	}
}

func TestMultiPartyGroup_Deflected(t *testing.T) {
	h := newHarness(t)
	h.handle(t, userMessage("G1", "", "hello?"))

	if len(h.origin.posts) == 0 {
		t.Fatal("expected a deflection reply")
	}
	if h.origin.posts[len(h.origin.posts)-1].Channel != "G1" {
		t.Errorf("deflection went to %q", h.origin.posts[len(h.origin.posts)-1].Channel)
	}
	if len(h.pub.sends)+len(h.logPub.sends) != 0 {
		t.Error("group events are terminal")
	}
}

func TestPanicRecovery(t *testing.T) {
	h := newHarness(t)
	h.fetcher.panicOnFetch = true

	// Must not propagate.
	h.bridge.HandleEvent(context.Background(), userMessage("C1", "m1", "boom"))

	h.fetcher.panicOnFetch = false
	h.handle(t, userMessage("C1", "m2", "still alive"))
	if len(h.pub.sends) != 1 {
		t.Error("listener must keep processing after a panic")
	}
}

func TestHandleStreamMessage_ReturnPath(t *testing.T) {
	h := newHarness(t)
	h.bridge.HandleStreamMessage(context.Background(), StreamMessage{
		Topic:       "town-square",
		SenderName:  "Zed",
		SenderEmail: "zed@example.com",
		Content:     "hi from the stream",
	})
	h.drain(t)

	if len(h.origin.posts) != 1 || h.origin.posts[0].Text != "*Zed*: hi from the stream" {
		t.Errorf("unexpected origin posts: %+v", h.origin.posts)
	}
	if len(h.groupme.sends) != 1 || h.groupme.sends[0].Content != "Zed: hi from the stream" {
		t.Errorf("unexpected groupme sends: %+v", h.groupme.sends)
	}
}

func TestHandleStreamMessage_OwnBotSkipped(t *testing.T) {
	h := newHarness(t)
	h.bridge.HandleStreamMessage(context.Background(), StreamMessage{
		Topic:       "town-square",
		SenderName:  "Bridge",
		SenderEmail: "bridge-bot@example.com",
		Content:     "loop",
	})
	h.drain(t)

	if len(h.origin.posts)+len(h.groupme.sends) != 0 {
		t.Error("the bridge's own stream messages must not loop back")
	}
}

func TestHandleStreamMessage_NonTwoWayTopicIgnored(t *testing.T) {
	h := newHarness(t)
	h.bridge.HandleStreamMessage(context.Background(), StreamMessage{
		Topic:      "random",
		SenderName: "Zed",
		Content:    "hi",
	})
	h.drain(t)

	if len(h.origin.posts) != 0 {
		t.Error("only public two-way topics travel back")
	}
}

func TestHandleWebhookMessage_ForwardsEverywhere(t *testing.T) {
	h := newHarness(t)
	// Seed the channel cache so the log route can be chosen.
	h.handle(t, userMessage("C1", "m0", "seed"))
	h.pub.sends = nil
	h.logPub.sends = nil

	h.bridge.HandleWebhookMessage(context.Background(), WebhookMessage{
		Channel: "town-square",
		Name:    "Carol",
		Text:    "hello from groupme",
	})
	h.drain(t)

	if len(h.origin.posts) != 1 || h.origin.posts[0].Text != "*Carol [GroupMe]*: hello from groupme" {
		t.Errorf("unexpected origin posts: %+v", h.origin.posts)
	}
	if len(h.pub.sends) != 1 || h.pub.sends[0].Content != "**Carol [GroupMe]**: hello from groupme" {
		t.Errorf("unexpected public sends: %+v", h.pub.sends)
	}
	if len(h.logPub.sends) != 1 {
		t.Errorf("log route: %d sends, want 1", len(h.logPub.sends))
	}
}

func TestHandleWebhookMessage_ImageCaptionRewrite(t *testing.T) {
	h := newHarness(t)
	h.bridge.HandleWebhookMessage(context.Background(), WebhookMessage{
		Channel:  "town-square",
		Name:     "Carol",
		Text:     "look at this",
		ImageURL: "https://i.example.com/cat.jpg",
	})
	h.drain(t)

	want := "*Carol [GroupMe]*: [look at this](https://i.example.com/cat.jpg)\n"
	if h.origin.posts[0].Text != want {
		t.Errorf("got %q, want %q", h.origin.posts[0].Text, want)
	}
}

func TestHandleWebhookMessage_BareImageCaption(t *testing.T) {
	h := newHarness(t)
	h.bridge.HandleWebhookMessage(context.Background(), WebhookMessage{
		Channel:  "town-square",
		Name:     "Carol",
		ImageURL: "https://i.example.com/cat.jpg",
	})
	h.drain(t)

	want := "*Carol [GroupMe]*: [image](https://i.example.com/cat.jpg)\n"
	if h.origin.posts[0].Text != want {
		t.Errorf("got %q, want %q", h.origin.posts[0].Text, want)
	}
}
