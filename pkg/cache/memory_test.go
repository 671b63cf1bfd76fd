package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type point struct {
	Key   string  `json:"key"`
	Price float64 `json:"price"`
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()

	if err := mc.Set(ctx, "snap:bitcoin", point{"bitcoin", 97}, 0); err != nil {
		t.Fatal(err)
	}
	var got point
	if err := mc.Get(ctx, "snap:bitcoin", &got); err != nil {
		t.Fatal(err)
	}
	if got.Price != 97 {
		t.Fatalf("got %+v", got)
	}
	if err := mc.Get(ctx, "snap:ethereum", &got); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("err = %v", err)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mc := NewMemoryCache(WithMemoryClock(func() time.Time { return now }))
	ctx := context.Background()

	_ = mc.Set(ctx, "a", "1", time.Minute)
	now = now.Add(2 * time.Minute)
	var s string
	if err := mc.Get(ctx, "a", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expired entry returned: %v %q", err, s)
	}
}

func TestMemoryCacheKeysAndMGet(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	_ = mc.MSet(ctx, map[string]interface{}{
		"snap:bitcoin":  point{"bitcoin", 1},
		"snap:ethereum": point{"ethereum", 2},
		"meta:version":  "1",
	}, 0)

	keys, err := mc.Keys(ctx, "snap:*")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "snap:bitcoin" {
		t.Fatalf("keys = %v", keys)
	}

	typed, err := MGetTyped[point](ctx, mc, keys...)
	if err != nil {
		t.Fatal(err)
	}
	if typed["snap:ethereum"].Price != 2 {
		t.Fatalf("typed = %+v", typed)
	}
}

func TestMemoryCacheLockAndEviction(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryMaxSize(2))

	ok, _ := mc.TryLock(ctx, "lock", time.Minute)
	if !ok {
		t.Fatal("first lock should succeed")
	}
	if ok, _ = mc.TryLock(ctx, "lock", time.Minute); ok {
		t.Fatal("second lock should fail")
	}
	_ = mc.Unlock(ctx, "lock")
	if ok, _ = mc.TryLock(ctx, "lock", time.Minute); !ok {
		t.Fatal("lock after unlock should succeed")
	}

	_ = mc.Set(ctx, "x", "1", 0)
	_ = mc.Set(ctx, "y", "2", 0)
	if mc.Len() != 2 {
		t.Fatalf("len = %d", mc.Len())
	}
}
