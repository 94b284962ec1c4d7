// Package directory is a lazily-populated cache of platform identities:
// user and bot display metadata and channel classification. Entries are
// fetched through an injected Fetcher on first use and kept for the
// process lifetime; a force-update refreshes an entry in place.
package directory

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tinyland-inc/relayclaw/pkg/store"
)

// Visibility classifies a channel. The string values are the persisted
// form in the channel hash.
type Visibility string

const (
	VisibilityPublic  Visibility = "channel"
	VisibilityPrivate Visibility = "private-channel"
	VisibilityDirect  Visibility = "im"
	VisibilityGroup   Visibility = "group"
)

// Channel is a resolved channel entry.
type Channel struct {
	ID         string
	Name       string
	Visibility Visibility
	// UserID is the peer of a direct-message channel, empty otherwise.
	UserID string
}

// ChannelInfo is the raw platform channel object as returned by the
// Fetcher. A platform may set several flags at once; classification
// applies them in priority order.
type ChannelInfo struct {
	IsChannel bool
	IsIM      bool
	IsGroup   bool
	IsMPIM    bool
	Name      string
	UserID    string
}

// Fetcher loads identity metadata from the origin platform. Any error
// (deleted entity, permission denied, transient failure) is treated as
// not-found by the cache; the cache itself stays unchanged.
type Fetcher interface {
	// FetchUser returns the display name for a user id.
	FetchUser(ctx context.Context, id string) (string, error)
	// FetchBot returns the user id owning a bot id.
	FetchBot(ctx context.Context, id string) (string, error)
	// FetchChannel returns the raw channel object for a channel id.
	FetchChannel(ctx context.Context, id string) (*ChannelInfo, error)
}

// NewUserFunc runs once when a user is cached for the first time,
// typically to send a welcome message. It never runs again for that
// user, force-updates included.
type NewUserFunc func(ctx context.Context, id, displayName string)

const (
	keyUsers          = "users:"
	keyBots           = "bots:"
	keyChannels       = "channels:"
	keyChannelsByName = "channels.by.name:"
)

type Directory struct {
	kv        store.Store
	fetcher   Fetcher
	onNewUser NewUserFunc
	log       zerolog.Logger
}

func New(kv store.Store, fetcher Fetcher, log zerolog.Logger) *Directory {
	return &Directory{kv: kv, fetcher: fetcher, log: log}
}

// SetNewUserFunc registers the first-time-user side effect.
func (d *Directory) SetNewUserFunc(fn NewUserFunc) { d.onNewUser = fn }

// ResolveUser returns the display name for a user id, fetching and
// caching on miss or when forceUpdate is set. A failed fetch returns
// not-found and leaves any cached entry untouched.
func (d *Directory) ResolveUser(ctx context.Context, id string, forceUpdate bool) (string, bool) {
	cached, hit, err := d.kv.Get(ctx, keyUsers+id)
	if err != nil {
		d.log.Error().Err(err).Str("user_id", id).Msg("user cache read failed")
		return "", false
	}
	if hit && !forceUpdate {
		return cached, true
	}

	name, err := d.fetcher.FetchUser(ctx, id)
	if err != nil {
		d.log.Error().Err(err).Str("user_id", id).Msg("could not fetch user")
		return "", false
	}
	if err := d.kv.Set(ctx, keyUsers+id, name, 0); err != nil {
		d.log.Error().Err(err).Str("user_id", id).Msg("user cache write failed")
	}
	// A miss means we have never seen this user, however the fetch was
	// triggered; a forced refresh of a cached user is not a first sight.
	if !hit && d.onNewUser != nil {
		d.onNewUser(ctx, id, name)
	}
	return name, true
}

// ResolveBot returns the user id behind a bot id, fetching on miss.
func (d *Directory) ResolveBot(ctx context.Context, id string) (string, bool) {
	cached, hit, err := d.kv.Get(ctx, keyBots+id)
	if err != nil {
		d.log.Error().Err(err).Str("bot_id", id).Msg("bot cache read failed")
		return "", false
	}
	if hit {
		return cached, true
	}

	userID, err := d.fetcher.FetchBot(ctx, id)
	if err != nil {
		d.log.Error().Err(err).Str("bot_id", id).Msg("could not fetch bot")
		return "", false
	}
	if err := d.kv.Set(ctx, keyBots+id, userID, 0); err != nil {
		d.log.Error().Err(err).Str("bot_id", id).Msg("bot cache write failed")
	}
	return userID, true
}

// ResolveChannel returns the classified channel entry for a channel id,
// fetching and classifying on miss or when forceUpdate is set.
func (d *Directory) ResolveChannel(ctx context.Context, id string, forceUpdate bool) (*Channel, bool) {
	fields, err := d.kv.HGetAll(ctx, keyChannels+id)
	if err != nil {
		d.log.Error().Err(err).Str("channel_id", id).Msg("channel cache read failed")
		return nil, false
	}
	if len(fields) > 0 && !forceUpdate {
		return &Channel{
			ID:         id,
			Name:       fields["name"],
			Visibility: Visibility(fields["type"]),
			UserID:     fields["user_id"],
		}, true
	}

	info, err := d.fetcher.FetchChannel(ctx, id)
	if err != nil {
		d.log.Error().Err(err).Str("channel_id", id).Msg("could not fetch channel")
		return nil, false
	}

	channel, ok := classify(id, info)
	if !ok {
		d.log.Warn().Str("channel_id", id).Msg("not a channel, im, or group")
		return nil, false
	}

	fields = map[string]string{"type": string(channel.Visibility)}
	if channel.UserID != "" {
		fields["user_id"] = channel.UserID
	}
	if channel.Name != "" {
		fields["name"] = channel.Name
	}
	if err := d.kv.HSet(ctx, keyChannels+id, fields); err != nil {
		d.log.Error().Err(err).Str("channel_id", id).Msg("channel cache write failed")
	}

	// Only name-addressable channels get the reverse index.
	if channel.Visibility == VisibilityPublic || channel.Visibility == VisibilityPrivate {
		if err := d.kv.Set(ctx, keyChannelsByName+channel.Name, id, 0); err != nil {
			d.log.Error().Err(err).Str("channel", channel.Name).Msg("channel name index write failed")
		}
	}
	return channel, true
}

// classify applies the platform flags in priority order. The ordering
// matters: a private channel also carries is_group, and must not be
// mistaken for an ad-hoc multi-party group.
func classify(id string, info *ChannelInfo) (*Channel, bool) {
	switch {
	case info.IsChannel:
		return &Channel{ID: id, Name: info.Name, Visibility: VisibilityPublic}, true
	case info.IsIM:
		return &Channel{ID: id, Visibility: VisibilityDirect, UserID: info.UserID}, true
	case info.IsGroup && !info.IsMPIM:
		return &Channel{ID: id, Name: info.Name, Visibility: VisibilityPrivate}, true
	case info.IsGroup:
		return &Channel{ID: id, Name: info.Name, Visibility: VisibilityGroup}, true
	default:
		return nil, false
	}
}

// ResolveChannelByName is the reverse lookup for name-addressable
// channels. It never fetches; a channel the bridge has not yet seen
// simply is not there yet.
func (d *Directory) ResolveChannelByName(ctx context.Context, name string) (string, bool) {
	id, ok, err := d.kv.Get(ctx, keyChannelsByName+name)
	if err != nil {
		d.log.Error().Err(err).Str("channel", name).Msg("channel name index read failed")
		return "", false
	}
	if !ok {
		d.log.Warn().Str("channel", name).Msg("channel not yet seen by name")
		return "", false
	}
	return id, true
}

// CachedChannel returns the cached classification for a channel id
// without ever fetching.
func (d *Directory) CachedChannel(ctx context.Context, id string) (*Channel, bool) {
	fields, err := d.kv.HGetAll(ctx, keyChannels+id)
	if err != nil || len(fields) == 0 {
		return nil, false
	}
	return &Channel{
		ID:         id,
		Name:       fields["name"],
		Visibility: Visibility(fields["type"]),
		UserID:     fields["user_id"],
	}, true
}
