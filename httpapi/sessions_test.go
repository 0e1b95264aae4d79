package httpapi

import (
	"context"
	"testing"
	"time"

	"pkt.systems/dropgallery/internal/sessionprefs"
)

type sessionTestKey struct{}

func TestSessionStoreCreateGetDelete(t *testing.T) {
	store := newSessionStore(time.Hour)
	token, sess := store.create("alice@example.com")
	if token == "" {
		t.Fatalf("expected token")
	}
	if sess.userID != "alice@example.com" {
		t.Fatalf("unexpected user id: %q", sess.userID)
	}
	if sess.ctx == nil || sess.prefs == nil {
		t.Fatalf("expected session context and prefs")
	}
	if _, ok := store.get(token); !ok {
		t.Fatalf("expected session to be found")
	}
	store.delete(token)
	if _, ok := store.get(token); ok {
		t.Fatalf("expected session to be deleted")
	}
	select {
	case <-sess.ctx.Done():
	default:
		t.Fatalf("expected session context to be canceled")
	}
}

func TestSessionStoreExpiration(t *testing.T) {
	store := newSessionStore(time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }
	token, sess := store.create("alice@example.com")
	now = now.Add(2 * time.Minute)
	if _, ok := store.get(token); ok {
		t.Fatalf("expected expired session")
	}
	select {
	case <-sess.ctx.Done():
	default:
		t.Fatalf("expected session context to be canceled")
	}
}

func TestSessionStorePrunesOnCreate(t *testing.T) {
	store := newSessionStore(time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }
	store.create("alice@example.com")
	store.create("bob@example.com")
	now = now.Add(2 * time.Minute)
	store.create("carol@example.com")
	if got := store.len(); got != 1 {
		t.Fatalf("expected expired sessions to be pruned, have %d", got)
	}
}

func TestSessionStoreBaseContext(t *testing.T) {
	store := newSessionStore(time.Hour)
	baseKey := sessionTestKey{}
	base := context.WithValue(context.Background(), baseKey, "value")
	store.setBaseContext(base)
	_, sess := store.create("alice@example.com")
	if got := sess.ctx.Value(baseKey); got != "value" {
		t.Fatalf("expected base context value, got %v", got)
	}
}

func TestSessionStoreQueryIsPerSession(t *testing.T) {
	store := newSessionStore(time.Hour)
	_, first := store.create("alice@example.com")
	_, second := store.create("alice@example.com")
	sessionprefs.FromContext(first.ctx).SetQuery("cats")
	if got := sessionprefs.FromContext(second.ctx).Query(); got != "" {
		t.Fatalf("expected independent query, got %q", got)
	}
	if got := first.prefs.Query(); got != "cats" {
		t.Fatalf("expected query on first session, got %q", got)
	}
}

func TestSessionStoreRebindKeepsPrefs(t *testing.T) {
	store := newSessionStore(time.Hour)
	token, sess := store.create("alice@example.com")
	sess.prefs.SetQuery("dogs")
	store.setBaseContext(context.Background())
	rebound, ok := store.get(token)
	if !ok {
		t.Fatalf("expected session")
	}
	if got := sessionprefs.FromContext(rebound.ctx).Query(); got != "dogs" {
		t.Fatalf("expected query to survive rebind, got %q", got)
	}
}
