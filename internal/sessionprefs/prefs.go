package sessionprefs

import (
	"context"
	"strings"
	"sync"
)

// Prefs captures per-session gallery preferences. The active search query
// lives here so each browser session keeps its own filtered view.
type Prefs struct {
	mu    sync.Mutex
	query string
}

type prefsKey struct{}

// New returns a new Prefs instance with defaults applied.
func New() *Prefs {
	return &Prefs{}
}

// Query returns the active search query.
func (p *Prefs) Query() string {
	if p == nil {
		return ""
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.query
}

// SetQuery replaces the active search query.
func (p *Prefs) SetQuery(query string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.query = strings.TrimSpace(query)
	p.mu.Unlock()
}

// WithContext stores prefs in the context.
func WithContext(ctx context.Context, prefs *Prefs) context.Context {
	if ctx == nil || prefs == nil {
		return ctx
	}
	return context.WithValue(ctx, prefsKey{}, prefs)
}

// FromContext returns the prefs stored in the context, if any.
func FromContext(ctx context.Context) *Prefs {
	if ctx == nil {
		return nil
	}
	if value := ctx.Value(prefsKey{}); value != nil {
		if prefs, ok := value.(*Prefs); ok {
			return prefs
		}
	}
	return nil
}
