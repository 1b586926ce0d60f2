package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testRedis(t *testing.T, binary bool) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisWithClient(client, "test", binary), s
}

func TestRedisBinaryRoundTrip(t *testing.T) {
	ctx := context.Background()
	r, s := testRedis(t, true)

	payload := []byte{0x47, 0x44, 0x01, 0x00}
	if err := r.Set(ctx, "doc1", payload, 0); err != nil {
		t.Fatal(err)
	}
	v, ok, err := r.Get(ctx, "doc1")
	if err != nil || !ok {
		t.Fatalf("get: %v, %v", ok, err)
	}
	got, isBytes := v.([]byte)
	if !isBytes || string(got) != string(payload) {
		t.Fatalf("value = %v", v)
	}

	if !s.Exists("test:doc1") {
		t.Fatal("key not namespaced")
	}
}

func TestRedisJSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	r, _ := testRedis(t, false)

	if err := r.Set(ctx, "meta", map[string]any{"title": "Plan"}, 0); err != nil {
		t.Fatal(err)
	}
	v, ok, err := r.Get(ctx, "meta")
	if err != nil || !ok {
		t.Fatalf("get: %v, %v", ok, err)
	}
	m, isMap := v.(map[string]any)
	if !isMap || m["title"] != "Plan" {
		t.Fatalf("value = %v", v)
	}
}

func TestRedisExpiry(t *testing.T) {
	ctx := context.Background()
	r, s := testRedis(t, true)

	expireAt := time.Now().Add(2 * time.Second).UnixMilli()
	if err := r.Set(ctx, "short", []byte("v"), expireAt); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := r.Get(ctx, "short"); !ok {
		t.Fatal("entry absent before expiry")
	}

	s.FastForward(3 * time.Second)

	if _, ok, _ := r.Get(ctx, "short"); ok {
		t.Fatal("entry survived expiry")
	}
}

func TestRedisAlreadyExpiredDeletes(t *testing.T) {
	ctx := context.Background()
	r, _ := testRedis(t, true)

	if err := r.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Second).UnixMilli()
	if err := r.Set(ctx, "k", []byte("w"), past); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := r.Get(ctx, "k"); ok {
		t.Fatal("write with past expiry must remove the entry")
	}
}

func TestRedisDelete(t *testing.T) {
	ctx := context.Background()
	r, _ := testRedis(t, true)

	if err := r.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	if err := r.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := r.Get(ctx, "k"); ok {
		t.Fatal("entry survived delete")
	}
}

func TestRedisModeAssertions(t *testing.T) {
	ctx := context.Background()

	bin, _ := testRedis(t, true)
	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("binary mode accepted a non-[]byte value")
			}
		}()
		_ = bin.Set(ctx, "k", "not bytes", 0)
	}()

	js, _ := testRedis(t, false)
	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("JSON mode accepted a []byte value")
			}
		}()
		_ = js.Set(ctx, "k", []byte("raw"), 0)
	}()
}
