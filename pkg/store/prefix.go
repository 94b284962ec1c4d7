package store

import (
	"context"
	"time"
)

// PrefixStore namespaces every key of an underlying Store, so several
// bridge instances can share one database.
type PrefixStore struct {
	inner  Store
	prefix string
}

// WithPrefix wraps s so all keys gain the given prefix plus a colon.
// An empty prefix returns s unchanged.
func WithPrefix(s Store, prefix string) Store {
	if prefix == "" {
		return s
	}
	return &PrefixStore{inner: s, prefix: prefix + ":"}
}

func (s *PrefixStore) Get(ctx context.Context, key string) (string, bool, error) {
	return s.inner.Get(ctx, s.prefix+key)
}

func (s *PrefixStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.inner.Set(ctx, s.prefix+key, value, ttl)
}

func (s *PrefixStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.inner.HGetAll(ctx, s.prefix+key)
}

func (s *PrefixStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	return s.inner.HSet(ctx, s.prefix+key, fields)
}

func (s *PrefixStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, s.prefix+key)
}

func (s *PrefixStore) Close() error { return s.inner.Close() }
