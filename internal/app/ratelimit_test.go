package app

import (
	"testing"
	"time"
)

func TestWriteLimiterPerKey(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	l := newWriteLimiter(2)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("expected burst of 2 to pass")
	}
	if l.Allow("a") {
		t.Fatal("expected third write to be throttled")
	}
	if !l.Allow("b") {
		t.Fatal("limits must be per key")
	}

	now = now.Add(30 * time.Second)
	if !l.Allow("a") {
		t.Fatal("expected a token after 30s at 2/min")
	}
}

func TestWriteLimiterSweepsIdleEntries(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	l := newWriteLimiter(5)
	l.now = func() time.Time { return now }

	l.Allow("a")
	now = now.Add(limiterIdle + time.Second)
	l.Allow("b")

	if _, ok := l.limiters["a"]; ok {
		t.Fatal("expected idle limiter to be swept")
	}
}

func TestWriteLimiterDisabled(t *testing.T) {
	l := newWriteLimiter(0)
	for i := 0; i < 100; i++ {
		if !l.Allow("a") {
			t.Fatal("disabled limiter must allow everything")
		}
	}
}
