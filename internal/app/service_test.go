package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"morningpulse/api/internal/comments"
	"morningpulse/api/internal/config"
	"morningpulse/api/internal/docstore"
	"morningpulse/api/internal/email"
	"morningpulse/api/internal/identity"
	"morningpulse/api/internal/session"
)

const testSecret = "test-secret"

type sentMention struct {
	To   string
	Data email.MentionData
}

type fakeMailer struct {
	mu     sync.Mutex
	sent   []sentMention
	sendFn func(string, email.MentionData) error
}

func (f *fakeMailer) IsConfigured() bool { return true }

func (f *fakeMailer) SendMentionEmail(to string, data email.MentionData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendFn != nil {
		if err := f.sendFn(to, data); err != nil {
			return err
		}
	}
	f.sent = append(f.sent, sentMention{To: to, Data: data})
	return nil
}

func (f *fakeMailer) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.To)
	}
	return out
}

type testEnv struct {
	store   *docstore.MemoryStore
	svc     *Service
	handler http.Handler
	mail    *fakeMailer
}

func newTestEnv(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()
	var mu sync.Mutex
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	store := docstore.NewMemoryStore(docstore.WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := session.NewRedisStoreWithClient(client, time.Hour)
	t.Cleanup(func() { _ = sessions.Close() })

	cfg.JWTSecret = testSecret
	if cfg.AppBaseURL == "" {
		cfg.AppBaseURL = "https://pulse.test"
	}
	mail := &fakeMailer{}
	svc := New(cfg, store, Dependencies{Sessions: sessions, Mailer: mail}, zerolog.Nop())
	server := NewHTTPServer(svc, "*", cfg.WriteRatePerMinute, zerolog.Nop())

	return &testEnv{store: store, svc: svc, handler: server.Handler(), mail: mail}
}

func (e *testEnv) seedUser(t *testing.T, userID, handle, name, address string) {
	t.Helper()
	_, err := e.store.Insert(context.Background(), usersCollection, docstore.Fields{
		"userId": userID,
		"handle": handle,
		"name":   name,
		"email":  address,
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func staffToken(t *testing.T, userID, name, role string) string {
	t.Helper()
	token, err := identity.IssueToken([]byte(testSecret), identity.Identity{UserID: userID, DisplayName: name, Role: role}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

type credential func(*http.Request)

func bearer(token string) credential {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func anonymous(token string) credential {
	return func(r *http.Request) { r.Header.Set(anonymousSessionHeader, token) }
}

func (e *testEnv) do(t *testing.T, method, path string, body any, creds ...credential) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range creds {
		c(req)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)

	var payload map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
		}
	}
	return rr, payload
}

func wendy() identity.Identity {
	return identity.Identity{UserID: "w1", DisplayName: "Wendy Writer", Role: "writer"}
}

func TestServiceAddCommentRequiresCommentPermission(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	reader := identity.Identity{UserID: "anon_1", Role: "reader", Anonymous: true}

	_, err := env.svc.AddComment(context.Background(), reader, "a1", AddCommentInput{Content: "hi"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusForbidden {
		t.Fatalf("expected forbidden domain error, got %v", err)
	}
}

func TestServiceEditRequiresOwnershipOrModeration(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	ctx := context.Background()
	created, err := env.svc.AddComment(ctx, wendy(), "a1", AddCommentInput{Content: "first"})
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}

	other := identity.Identity{UserID: "w2", DisplayName: "Walt", Role: "writer"}
	if _, err := env.svc.UpdateComment(ctx, other, created.ID, UpdateCommentInput{Content: "hijack"}); err == nil {
		t.Fatal("expected other writer to be refused")
	}
	if err := env.svc.DeleteComment(ctx, other, created.ID); err == nil {
		t.Fatal("expected other writer delete to be refused")
	}

	editor := identity.Identity{UserID: "e1", DisplayName: "Eddie Editor", Role: "editor"}
	updated, err := env.svc.UpdateComment(ctx, editor, created.ID, UpdateCommentInput{Content: "tightened"})
	if err != nil {
		t.Fatalf("editor update: %v", err)
	}
	if updated.Content != "tightened" {
		t.Fatalf("expected updated content, got %q", updated.Content)
	}
	if updated.AuthorID != "w1" {
		t.Fatalf("moderation must not change the author, got %q", updated.AuthorID)
	}
}

func TestServiceSubscribeThreads(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	ctx := context.Background()

	sub, err := env.svc.SubscribeThreads(ctx, "a1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	next := func() []comments.Thread {
		t.Helper()
		select {
		case threads, ok := <-sub.Updates():
			if !ok {
				t.Fatalf("subscription closed: %v", sub.Err())
			}
			return threads
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for threads")
		}
		return nil
	}

	if got := next(); len(got) != 0 {
		t.Fatalf("expected no threads, got %d", len(got))
	}

	root, err := env.svc.AddComment(ctx, wendy(), "a1", AddCommentInput{Content: "root"})
	if err != nil {
		t.Fatalf("add root: %v", err)
	}
	got := next()
	if len(got) != 1 || got[0].RootComment.ID != root.ID {
		t.Fatalf("expected one thread for %s, got %+v", root.ID, got)
	}

	if _, err := env.svc.AddComment(ctx, wendy(), "a1", AddCommentInput{Content: "reply", ParentID: root.ID}); err != nil {
		t.Fatalf("add reply: %v", err)
	}
	got = next()
	if len(got) != 1 || got[0].TotalCount != 2 {
		t.Fatalf("expected thread with reply, got %+v", got)
	}
}

func TestServiceRemoveMissingReactionIsNoop(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	reader := identity.Identity{UserID: "anon_1", Role: "reader", Anonymous: true}
	if err := env.svc.RemoveReaction(context.Background(), reader, "missing"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestServiceAnonymousSessionsDisabled(t *testing.T) {
	svc := New(config.Config{JWTSecret: testSecret}, docstore.NewMemoryStore(), Dependencies{}, zerolog.Nop())
	_, err := svc.IssueAnonymousSession(context.Background())
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 domain error, got %v", err)
	}
	if _, err := svc.ResolveIdentity(context.Background(), "", "token"); !errors.Is(err, identity.ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}
}
