// Package cache provides the two-tier document cache: a bounded in-memory
// LRU and a Redis-backed remote store behind one interface. Expiry is an
// absolute millisecond timestamp; zero means no expiry.
package cache

import (
	"context"
	"log"
	"strings"
)

// Cache is the pluggable backing store used by the document store to avoid
// redundant decode/fetch cycles. Absence (expired or evicted) is not an
// error; callers refetch from the authoritative store.
type Cache interface {
	Get(ctx context.Context, key string) (any, bool, error)
	// Set stores value until expireAt (ms epoch; 0 keeps it until evicted).
	Set(ctx context.Context, key string, value any, expireAt int64) error
	Delete(ctx context.Context, key string) error
}

// EvictFunc is invoked synchronously when an entry is dropped to make room.
// It is not called for explicit deletes or TTL expiry.
type EvictFunc func(key string, value any)

// Options configure the composed cache built by New.
type Options struct {
	// RedisURL selects the remote backend; empty means in-memory only.
	RedisURL string
	// Namespace prefixes every remote key.
	Namespace string
	// MaxEntries bounds the in-memory LRU.
	MaxEntries int
	// Binary selects the remote serialization mode: raw bytes when true,
	// JSON otherwise.
	Binary bool
}

// New builds the configured cache. When the remote backend is unreachable it
// degrades to the in-memory LRU with a logged warning: availability over
// durability for environments without a remote cache.
func New(opts Options) Cache {
	if strings.TrimSpace(opts.RedisURL) != "" {
		remote, err := NewRedis(opts.RedisURL, opts.Namespace, opts.Binary)
		if err == nil {
			return remote
		}
		log.Printf("WARNING: cache: redis unavailable, falling back to in-memory LRU: %v", err)
	}
	return NewMemory(opts.MaxEntries, nil)
}
