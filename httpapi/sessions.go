package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"pkt.systems/dropgallery/internal/logx"
	"pkt.systems/dropgallery/internal/sessionprefs"
	"pkt.systems/dropgallery/schema"
)

// session is the login flag of one browser. It lives only in memory and
// carries the session-scoped search query.
type session struct {
	id        string
	userID    schema.UserID
	expiresAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	prefs     *sessionprefs.Prefs
}

type sessionStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	baseCtx context.Context
	items   map[string]session
}

func newSessionStore(ttl time.Duration) *sessionStore {
	return &sessionStore{
		ttl:     ttl,
		now:     time.Now,
		baseCtx: context.TODO(),
		items:   make(map[string]session),
	}
}

func (s *sessionStore) create(userID schema.UserID) (string, session) {
	token := randomToken(32)
	entry := s.newSession(userID, s.now().Add(s.ttl))
	log := logx.WithUser(context.Background(), userID).With("http_session", entry.id)
	s.mu.Lock()
	pruned := s.pruneLocked()
	s.items[token] = entry
	s.mu.Unlock()
	if pruned > 0 {
		log.Debug("session store pruned", "expired", pruned)
	}
	log.Info("session created", "expires", entry.expiresAt.Format(time.RFC3339))
	return token, entry
}

func (s *sessionStore) get(token string) (session, bool) {
	s.mu.Lock()
	entry, ok := s.items[token]
	if !ok {
		s.mu.Unlock()
		return session{}, false
	}
	if s.now().After(entry.expiresAt) {
		delete(s.items, token)
		s.mu.Unlock()
		if entry.cancel != nil {
			entry.cancel()
		}
		logx.WithUser(context.Background(), entry.userID).With("http_session", entry.id).Info("session expired")
		return session{}, false
	}
	s.mu.Unlock()
	return entry, true
}

func (s *sessionStore) delete(token string) {
	s.mu.Lock()
	entry, ok := s.items[token]
	if ok {
		delete(s.items, token)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if entry.cancel != nil {
		entry.cancel()
	}
	logx.WithUser(context.Background(), entry.userID).With("http_session", entry.id).Info("session deleted")
}

func (s *sessionStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// pruneLocked drops expired sessions and returns how many were removed.
func (s *sessionStore) pruneLocked() int {
	now := s.now()
	removed := 0
	for token, entry := range s.items {
		if !now.After(entry.expiresAt) {
			continue
		}
		delete(s.items, token)
		if entry.cancel != nil {
			entry.cancel()
		}
		removed++
	}
	return removed
}

func (s *sessionStore) setBaseContext(ctx context.Context) {
	if ctx == nil {
		return
	}
	s.mu.Lock()
	s.baseCtx = ctx
	for token, entry := range s.items {
		if entry.cancel != nil {
			entry.cancel()
		}
		prefs := entry.prefs
		if prefs == nil {
			prefs = sessionprefs.New()
		}
		nextCtx, cancel := context.WithCancel(sessionprefs.WithContext(ctx, prefs))
		entry.ctx = nextCtx
		entry.cancel = cancel
		entry.prefs = prefs
		s.items[token] = entry
	}
	s.mu.Unlock()
	logx.Ctx(context.Background()).Debug("session base context set")
}

func (s *sessionStore) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.TODO()
}

func (s *sessionStore) newSession(userID schema.UserID, expiresAt time.Time) session {
	prefs := sessionprefs.New()
	ctx, cancel := context.WithCancel(sessionprefs.WithContext(s.baseContext(), prefs))
	return session{
		id:        randomToken(12),
		userID:    userID,
		expiresAt: expiresAt,
		ctx:       ctx,
		cancel:    cancel,
		prefs:     prefs,
	}
}

func randomToken(size int) string {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
