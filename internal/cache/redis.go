package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the remote cache backend. Keys are namespaced; expiry converts
// the absolute millisecond timestamp into a relative TTL at write time.
//
// The serialization mode is fixed at construction: binary mode stores raw
// []byte values and any other type is a configuration bug, asserted at
// runtime; JSON mode marshals values and returns them as decoded JSON.
type Redis struct {
	client *redis.Client
	prefix string
	binary bool
}

// NewRedis connects to the remote backend and verifies reachability.
func NewRedis(redisURL, namespace string, binary bool) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisWithClient(client, namespace, binary), nil
}

// NewRedisWithClient wraps an existing client, mainly for tests.
func NewRedisWithClient(client *redis.Client, namespace string, binary bool) *Redis {
	if namespace == "" {
		namespace = "graphdoc"
	}
	return &Redis{client: client, prefix: namespace + ":", binary: binary}
}

func (r *Redis) key(k string) string { return r.prefix + k }

func (r *Redis) Get(ctx context.Context, key string) (any, bool, error) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if r.binary {
		return raw, true, nil
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false, fmt.Errorf("cache get %s: decode: %w", key, err)
	}
	return value, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value any, expireAt int64) error {
	var raw []byte
	if r.binary {
		b, ok := value.([]byte)
		if !ok {
			panic(fmt.Sprintf("cache: binary mode requires []byte values, got %T", value))
		}
		raw = b
	} else {
		if _, ok := value.([]byte); ok {
			panic("cache: JSON mode cannot store raw []byte values")
		}
		b, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("cache set %s: encode: %w", key, err)
		}
		raw = b
	}

	var ttl time.Duration
	if expireAt != 0 {
		ttl = time.Until(time.UnixMilli(expireAt))
		if ttl <= 0 {
			// Already expired: make sure nothing stale remains.
			return r.Delete(ctx, key)
		}
	}
	if err := r.client.Set(ctx, r.key(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}

// Ping checks backend reachability.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
