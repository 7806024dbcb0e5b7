package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), ttl)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t, time.Hour)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url", time.Hour); err == nil {
		t.Fatal("expected error for malformed url")
	}
}

func TestIssueAndLookupAnonymous(t *testing.T) {
	store, _ := setupTestRedis(t, time.Hour)
	ctx := context.Background()

	token, issued, err := store.IssueAnonymous(ctx)
	if err != nil {
		t.Fatalf("IssueAnonymous failed: %v", err)
	}
	if !strings.HasPrefix(issued.UserID, "anon_") || !issued.Anonymous || issued.Role != "reader" {
		t.Fatalf("unexpected identity: %+v", issued)
	}

	found, err := store.Lookup(ctx, token)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if found != issued {
		t.Errorf("expected %+v, got %+v", issued, found)
	}
}

func TestLookupExpiredSession(t *testing.T) {
	store, s := setupTestRedis(t, time.Minute)
	ctx := context.Background()

	token, _, err := store.IssueAnonymous(ctx)
	if err != nil {
		t.Fatalf("IssueAnonymous failed: %v", err)
	}

	s.FastForward(2 * time.Minute)

	if _, err := store.Lookup(ctx, token); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestLookupSlidesExpiry(t *testing.T) {
	store, s := setupTestRedis(t, time.Minute)
	ctx := context.Background()

	token, _, err := store.IssueAnonymous(ctx)
	if err != nil {
		t.Fatalf("IssueAnonymous failed: %v", err)
	}

	s.FastForward(45 * time.Second)
	if _, err := store.Lookup(ctx, token); err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	s.FastForward(45 * time.Second)
	if _, err := store.Lookup(ctx, token); err != nil {
		t.Fatalf("session should still be alive after refresh: %v", err)
	}
}

func TestLookupNonExistentSession(t *testing.T) {
	store, _ := setupTestRedis(t, time.Hour)
	if _, err := store.Lookup(context.Background(), "non-existent-token"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRevokeSession(t *testing.T) {
	store, _ := setupTestRedis(t, time.Hour)
	ctx := context.Background()

	token, _, err := store.IssueAnonymous(ctx)
	if err != nil {
		t.Fatalf("IssueAnonymous failed: %v", err)
	}
	if err := store.Revoke(ctx, token); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if _, err := store.Lookup(ctx, token); err == nil {
		t.Error("expected error for revoked token, got nil")
	}

	// Revoking a missing token is not an error
	if err := store.Revoke(ctx, "non-existent-token"); err != nil {
		t.Errorf("Revoke for non-existent token failed: %v", err)
	}
}

func TestSessionIsolation(t *testing.T) {
	store, _ := setupTestRedis(t, time.Hour)
	ctx := context.Background()

	tokenA, idA, err := store.IssueAnonymous(ctx)
	if err != nil {
		t.Fatalf("IssueAnonymous A failed: %v", err)
	}
	tokenB, idB, err := store.IssueAnonymous(ctx)
	if err != nil {
		t.Fatalf("IssueAnonymous B failed: %v", err)
	}
	if idA.UserID == idB.UserID || tokenA == tokenB {
		t.Fatal("sessions must not share identities")
	}

	if err := store.Revoke(ctx, tokenA); err != nil {
		t.Fatalf("Revoke A failed: %v", err)
	}
	found, err := store.Lookup(ctx, tokenB)
	if err != nil {
		t.Fatalf("Lookup B after revoking A failed: %v", err)
	}
	if found.UserID != idB.UserID {
		t.Errorf("expected %s, got %s", idB.UserID, found.UserID)
	}
}
