package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/hogarapp/finsync/core"
)

var ErrWindowNotFound = errors.New("ratelimit: window not found")

// Scope names a protected operation family. Authorization traffic and sync
// triggers carry separate budgets.
type Scope string

const (
	ScopeAuth Scope = "auth"
	ScopeSync Scope = "sync"
)

// Key identifies one client's budget inside a scope. ClientKey is whatever
// the caller uses to tell clients apart, typically a remote address or an
// owner id.
type Key struct {
	Scope     Scope
	ClientKey string
}

// Window is one client's consumption inside the current fixed window.
type Window struct {
	Key       Key
	Count     int
	ResetAt   time.Time
	UpdatedAt time.Time
}

type WindowStore interface {
	Get(ctx context.Context, key Key) (Window, error)
	Upsert(ctx context.Context, window Window) error
}

type ThrottledError struct {
	Scope      Scope
	ClientKey  string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf(
		"ratelimit: scope %q client %q throttled for %s",
		e.Scope,
		strings.TrimSpace(e.ClientKey),
		e.RetryAfter,
	)
}

func (e ThrottledError) ToSyncError() *goerrors.Error {
	metadata := map[string]any{
		"scope":      string(e.Scope),
		"client_key": strings.TrimSpace(e.ClientKey),
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.SyncErrorRateLimited).
		WithMetadata(metadata)
}

// Limiter enforces fixed-window budgets per scope and client. Windows are
// anchored at the first request; when a window expires the count restarts.
type Limiter struct {
	Store      WindowStore
	Now        func() time.Time
	AuthLimit  int
	AuthWindow time.Duration
	SyncLimit  int
	SyncWindow time.Duration
}

func NewLimiter(store WindowStore, cfg core.RateLimitConfig) *Limiter {
	return &Limiter{
		Store:      store,
		Now:        func() time.Time { return time.Now().UTC() },
		AuthLimit:  cfg.AuthRequests,
		AuthWindow: cfg.AuthWindow,
		SyncLimit:  cfg.SyncRequests,
		SyncWindow: cfg.SyncWindow,
	}
}

// Allow consumes one slot for the client in the scope. When the budget is
// exhausted it returns a ThrottledError carrying the time until reset.
func (l *Limiter) Allow(ctx context.Context, scope Scope, clientKey string) error {
	if l == nil || l.Store == nil {
		return nil
	}
	clientKey = strings.TrimSpace(clientKey)
	if clientKey == "" {
		clientKey = "unknown"
	}
	limit, windowSize := l.budget(scope)
	if limit <= 0 || windowSize <= 0 {
		return nil
	}

	key := Key{Scope: scope, ClientKey: clientKey}
	now := l.now()

	window, err := l.Store.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrWindowNotFound) {
		return err
	}
	if errors.Is(err, ErrWindowNotFound) || !now.Before(window.ResetAt) {
		window = Window{Key: key, ResetAt: now.Add(windowSize)}
	}

	if window.Count >= limit {
		return ThrottledError{
			Scope:      scope,
			ClientKey:  clientKey,
			RetryAfter: window.ResetAt.Sub(now),
		}
	}

	window.Count++
	window.UpdatedAt = now
	return l.Store.Upsert(ctx, window)
}

func (l *Limiter) budget(scope Scope) (int, time.Duration) {
	switch scope {
	case ScopeAuth:
		return l.AuthLimit, l.AuthWindow
	case ScopeSync:
		return l.SyncLimit, l.SyncWindow
	default:
		return 0, 0
	}
}

func (l *Limiter) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

// ScopedLimiter binds a limiter to one scope so entry points meter their
// traffic without naming scopes, and surfaces throttling as the rich
// rate-limit error callers map to HTTP 429.
type ScopedLimiter struct {
	Limiter *Limiter
	Scope   Scope
}

func (s ScopedLimiter) Allow(ctx context.Context, clientKey string) error {
	if s.Limiter == nil {
		return nil
	}
	err := s.Limiter.Allow(ctx, s.Scope, clientKey)
	var throttled ThrottledError
	if errors.As(err, &throttled) {
		return throttled.ToSyncError()
	}
	return err
}

// MemoryWindowStore keeps windows in process memory. Good for a single
// instance; multi-instance deployments back this interface with a shared
// store instead.
type MemoryWindowStore struct {
	mu      sync.Mutex
	windows map[Key]Window
}

func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{windows: map[Key]Window{}}
}

func (s *MemoryWindowStore) Get(_ context.Context, key Key) (Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	window, ok := s.windows[key]
	if !ok {
		return Window{}, ErrWindowNotFound
	}
	return window, nil
}

func (s *MemoryWindowStore) Upsert(_ context.Context, window Window) error {
	s.mu.Lock()
	s.windows[window.Key] = window
	s.mu.Unlock()
	return nil
}

var _ WindowStore = (*MemoryWindowStore)(nil)
