package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAllowConsumesCapacity(t *testing.T) {
	l := New()
	now := time.Date(2023, 8, 20, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !l.Allow("coingecko", 3, 1) {
			t.Fatalf("call %d should be allowed", i)
		}
	}
	if l.Allow("coingecko", 3, 1) {
		t.Fatal("bucket should be empty")
	}
	if !l.Allow("other", 3, 1) {
		t.Fatal("keys must not share a bucket")
	}

	now = now.Add(time.Second)
	if !l.Allow("coingecko", 3, 1) {
		t.Fatal("one token should have been refilled")
	}
}

func TestWaitHonoursContext(t *testing.T) {
	l := New()
	if err := l.Wait(context.Background(), "k", 1, 0.001); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "k", 1, 0.001); err == nil {
		t.Fatal("expected context error")
	}
}

func TestWaitRefills(t *testing.T) {
	l := New()
	start := time.Now()
	for i := 0; i < 2; i++ {
		if err := l.Wait(context.Background(), "k", 1, 50); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > time.Second {
		t.Fatal("second token took too long")
	}
}
