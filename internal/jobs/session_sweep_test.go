package jobs

import (
	"context"
	"testing"
	"time"

	"apnastudent/portal/internal/session"
)

type fakeSessions struct {
	active map[string]bool
}

func (f *fakeSessions) SessionActive(_ context.Context, sessionID string) (bool, error) {
	return f.active[sessionID], nil
}

func TestSweepDropsRevokedSessions(t *testing.T) {
	store := session.NewMemoryStore(time.Hour)
	ctx := context.Background()
	stale := time.Now().Add(-2 * time.Hour).UTC()

	_ = store.Put(ctx, "fresh", session.Session{UserID: 1, IdentitySessionID: "sess_fresh", SyncedAt: time.Now().UTC()})
	_ = store.Put(ctx, "stale-active", session.Session{UserID: 2, IdentitySessionID: "sess_active", SyncedAt: stale})
	_ = store.Put(ctx, "stale-revoked", session.Session{UserID: 3, IdentitySessionID: "sess_revoked", SyncedAt: stale})

	provider := &fakeSessions{active: map[string]bool{"sess_active": true}}
	dropped, err := sweep(ctx, store, provider, 30*time.Minute)
	if err != nil {
		t.Fatalf("sweep error: %v", err)
	}
	if dropped != 1 {
		t.Fatalf("expected 1 dropped session, got %d", dropped)
	}

	if sess, _ := store.Get(ctx, "fresh"); sess == nil {
		t.Fatalf("expected fresh session untouched")
	}
	if sess, _ := store.Get(ctx, "stale-active"); sess == nil {
		t.Fatalf("expected still-active session untouched")
	}
	if sess, _ := store.Get(ctx, "stale-revoked"); sess != nil {
		t.Fatalf("expected revoked session dropped")
	}
}
