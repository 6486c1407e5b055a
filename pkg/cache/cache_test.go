package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type row struct {
	Instrument string   `json:"instrument"`
	Change     *float64 `json:"change"`
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	v := 12.5
	in := []row{{Instrument: "XXBTZUSD", Change: &v}, {Instrument: "XETHZUSD"}}
	if err := mc.Set(ctx, "rows", in, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	var out []row
	if err := mc.Get(ctx, "rows", &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(out) != 2 || out[0].Change == nil || *out[0].Change != 12.5 || out[1].Change != nil {
		t.Fatalf("unexpected rows %+v", out)
	}

	ok, _ := mc.Exists(ctx, "missing", "rows")
	if !ok {
		t.Fatalf("expected rows to exist")
	}
	_ = mc.Delete(ctx, "rows")
	if err := mc.Get(ctx, "rows", &out); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after delete, got %v", err)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { return now }

	_ = mc.Set(ctx, "k", "v", 30*time.Second)
	now = now.Add(31 * time.Second)

	var s string
	if err := mc.Get(ctx, "k", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected expired entry to miss, got %v", err)
	}
	if ok, _ := mc.Exists(ctx, "k"); ok {
		t.Fatalf("expired entry reported as existing")
	}
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()
	ctx := context.Background()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { return now }

	_ = mc.Set(ctx, "a", 1, time.Hour)
	now = now.Add(time.Second)
	_ = mc.Set(ctx, "b", 2, time.Hour)
	now = now.Add(time.Second)

	var n int
	if err := mc.Get(ctx, "a", &n); err != nil {
		t.Fatalf("get a: %v", err)
	}
	now = now.Add(time.Second)
	_ = mc.Set(ctx, "c", 3, time.Hour)

	if mc.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", mc.Len())
	}
	if ok, _ := mc.Exists(ctx, "b"); ok {
		t.Fatalf("expected b to be evicted")
	}
	if ok, _ := mc.Exists(ctx, "a", "c"); !ok {
		t.Fatalf("expected a and c to remain")
	}
}

func TestMemoryCacheCloseIdempotent(t *testing.T) {
	mc := NewMemoryCache(WithMemoryCleanup(time.Millisecond))
	_ = mc.Close()
	_ = mc.Close()
}

func TestRedisKeyPrefix(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	c := newRedisCache(client, "krakenpulse")
	if got := c.wrapKey("trending:latest"); got != "krakenpulse:trending:latest" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := newRedisCache(client, "").wrapKey("x"); got != "x" {
		t.Fatalf("unexpected unprefixed key %q", got)
	}
}

func TestNewRedisCacheUnreachable(t *testing.T) {
	_, err := NewRedisCache(WithRedisAddr("127.0.0.1:1"), WithRedisPingTimeout(200*time.Millisecond))
	if err == nil {
		t.Fatalf("expected ping error")
	}
}

func TestGenerateKeyWithParams(t *testing.T) {
	if got := GenerateKeyWithParams("dashboard", 15, 30); got != "dashboard:15:30" {
		t.Fatalf("unexpected key %q", got)
	}
}
