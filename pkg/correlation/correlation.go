// Package correlation records which destination message id an origin
// message was assigned on each route, so later edits and deletes of the
// origin can be replayed against the right destination message.
package correlation

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinyland-inc/relayclaw/pkg/store"
)

// DefaultTTL bounds how long an origin message stays editable in place on
// its destinations. Edits and deletes arriving later fall back to posting
// a new annotated message.
const DefaultTTL = time.Hour

// Store maps (route, origin message id) to the destination message id.
// At most one live record exists per key; recording again replaces the
// value and restarts the TTL.
type Store struct {
	kv  store.Store
	ttl time.Duration
	log zerolog.Logger
}

func New(kv store.Store, ttl time.Duration, log zerolog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{kv: kv, ttl: ttl, log: log}
}

func key(route, originID string) string {
	return "msg." + route + ":" + originID
}

// Record links originID on route to destID. Called only after the
// destination acknowledged the send; never called for deletes.
func (s *Store) Record(ctx context.Context, route, originID, destID string) {
	if err := s.kv.Set(ctx, key(route, originID), destID, s.ttl); err != nil {
		s.log.Error().Err(err).
			Str("route", route).
			Str("origin_id", originID).
			Msg("could not record message correlation")
	}
}

// Lookup returns the destination id originID was assigned on route, if a
// live record exists.
func (s *Store) Lookup(ctx context.Context, route, originID string) (string, bool) {
	destID, ok, err := s.kv.Get(ctx, key(route, originID))
	if err != nil {
		s.log.Error().Err(err).
			Str("route", route).
			Str("origin_id", originID).
			Msg("could not look up message correlation")
		return "", false
	}
	return destID, ok
}
