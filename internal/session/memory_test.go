package session

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	sess, err := store.Get(ctx, "sid-1")
	if err != nil || sess != nil {
		t.Fatalf("expected absent session, got %+v err=%v", sess, err)
	}

	want := Session{UserID: 7, Name: "Jane Doe", Email: "jane@x.edu", Role: "STUDENT", SyncedAt: time.Now().UTC()}
	if err := store.Put(ctx, "sid-1", want); err != nil {
		t.Fatalf("put error: %v", err)
	}

	sess, err = store.Get(ctx, "sid-1")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if sess == nil || sess.UserID != 7 || sess.Email != "jane@x.edu" {
		t.Fatalf("unexpected session %+v", sess)
	}

	if err := store.Delete(ctx, "sid-1"); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	sess, _ = store.Get(ctx, "sid-1")
	if sess != nil {
		t.Fatalf("expected anonymous after delete, got %+v", sess)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore(time.Millisecond)
	ctx := context.Background()
	if err := store.Put(ctx, "sid-1", Session{UserID: 1}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	sess, err := store.Get(ctx, "sid-1")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if sess != nil {
		t.Fatalf("expected expired session to be absent")
	}
}

func TestMemoryStorePending(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	pending := PendingSignup{SignUpID: "su_1", Email: "jane@x.edu", Username: "janed"}
	if err := store.PutPending(ctx, "sid-1", pending); err != nil {
		t.Fatalf("put pending error: %v", err)
	}
	got, err := store.GetPending(ctx, "sid-1")
	if err != nil || got == nil || got.SignUpID != "su_1" {
		t.Fatalf("unexpected pending %+v err=%v", got, err)
	}
	if err := store.DeletePending(ctx, "sid-1"); err != nil {
		t.Fatalf("delete pending error: %v", err)
	}
	got, _ = store.GetPending(ctx, "sid-1")
	if got != nil {
		t.Fatalf("expected pending cleared")
	}
}

func TestMemoryStorePendingExpiry(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	store.pendingTTL = time.Millisecond
	ctx := context.Background()

	if err := store.PutPending(ctx, "sid-1", PendingSignup{SignUpID: "su_1"}); err != nil {
		t.Fatalf("put pending error: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	got, err := store.GetPending(ctx, "sid-1")
	if err != nil {
		t.Fatalf("get pending error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected aged-out pending sign-up to be absent, got %+v", got)
	}
}

func TestMemoryStoreSessionIDs(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()
	_ = store.Put(ctx, "a", Session{UserID: 1})
	_ = store.Put(ctx, "b", Session{UserID: 2})
	ids, err := store.SessionIDs(ctx)
	if err != nil {
		t.Fatalf("session ids error: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}
}
