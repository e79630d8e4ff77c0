// Package observability provides hooks for metrics, tracing, and logging.
//
// Consumers register hooks at startup to receive events about layout runs,
// cache operations, widget sessions and API requests. Every hook category has
// a no-op default, so libraries can emit events unconditionally.
//
// # Usage
//
// Register hooks at application startup:
//
//	func main() {
//	    observability.SetLayoutHooks(&myLayoutHooks{})
//	    observability.SetSessionHooks(&mySessionHooks{})
//	    // ... run application
//	}
//
// Libraries call hooks to emit events:
//
//	observability.Layout().OnLayoutStart(ctx, entityCount)
//	// ... build layout ...
//	observability.Layout().OnLayoutComplete(ctx, nodeCount, duration, err)
package observability

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// Layout Hooks
// =============================================================================

// LayoutHooks receives events from the layout pipeline.
type LayoutHooks interface {
	OnLayoutStart(ctx context.Context, fieldCount int)
	OnLayoutComplete(ctx context.Context, nodeCount int, duration time.Duration, err error)

	OnExportComplete(ctx context.Context, format string, size int, duration time.Duration, err error)
}

// =============================================================================
// Cache Hooks
// =============================================================================

// CacheHooks receives events from cache operations.
type CacheHooks interface {
	// OnCacheHit records a cache hit.
	OnCacheHit(ctx context.Context, keyType string)

	// OnCacheMiss records a cache miss.
	OnCacheMiss(ctx context.Context, keyType string)

	// OnCacheSet records a cache write.
	OnCacheSet(ctx context.Context, keyType string, size int)
}

// =============================================================================
// Session Hooks
// =============================================================================

// SessionHooks receives events from storyline widget sessions.
type SessionHooks interface {
	// OnQuery records a query submitted under a new epoch.
	OnQuery(ctx context.Context, sessionID string, epoch uint64)

	// OnResult records a result applied for the current epoch.
	OnResult(ctx context.Context, sessionID string, epoch uint64, duration time.Duration, err error)

	// OnStaleResult records a result dropped because a newer query superseded it.
	OnStaleResult(ctx context.Context, sessionID string, epoch, current uint64)

	// OnStateChange records a state machine transition.
	OnStateChange(ctx context.Context, sessionID, from, to string)
}

// =============================================================================
// Server Hooks
// =============================================================================

// ServerHooks receives events from the HTTP API.
type ServerHooks interface {
	// OnResponse records a served request.
	OnResponse(ctx context.Context, method, route string, statusCode int, duration time.Duration)

	// OnRateLimited records a request rejected by the rate limiter.
	OnRateLimited(ctx context.Context, remote string)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopLayoutHooks is a no-op implementation of LayoutHooks.
type NoopLayoutHooks struct{}

func (NoopLayoutHooks) OnLayoutStart(context.Context, int)                                  {}
func (NoopLayoutHooks) OnLayoutComplete(context.Context, int, time.Duration, error)         {}
func (NoopLayoutHooks) OnExportComplete(context.Context, string, int, time.Duration, error) {}

// NoopCacheHooks is a no-op implementation of CacheHooks.
type NoopCacheHooks struct{}

func (NoopCacheHooks) OnCacheHit(context.Context, string)      {}
func (NoopCacheHooks) OnCacheMiss(context.Context, string)     {}
func (NoopCacheHooks) OnCacheSet(context.Context, string, int) {}

// NoopSessionHooks is a no-op implementation of SessionHooks.
type NoopSessionHooks struct{}

func (NoopSessionHooks) OnQuery(context.Context, string, uint64)                        {}
func (NoopSessionHooks) OnResult(context.Context, string, uint64, time.Duration, error) {}
func (NoopSessionHooks) OnStaleResult(context.Context, string, uint64, uint64)          {}
func (NoopSessionHooks) OnStateChange(context.Context, string, string, string)          {}

// NoopServerHooks is a no-op implementation of ServerHooks.
type NoopServerHooks struct{}

func (NoopServerHooks) OnResponse(context.Context, string, string, int, time.Duration) {}
func (NoopServerHooks) OnRateLimited(context.Context, string)                          {}

// =============================================================================
// Global Hook Registry
// =============================================================================

var (
	layoutHooks  LayoutHooks  = NoopLayoutHooks{}
	cacheHooks   CacheHooks   = NoopCacheHooks{}
	sessionHooks SessionHooks = NoopSessionHooks{}
	serverHooks  ServerHooks  = NoopServerHooks{}
	hooksMu      sync.RWMutex
)

// SetLayoutHooks registers custom layout hooks.
// This should be called once at application startup before any layout runs.
func SetLayoutHooks(h LayoutHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		layoutHooks = h
	}
}

// SetCacheHooks registers custom cache hooks.
// This should be called once at application startup before any cache operations.
func SetCacheHooks(h CacheHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		cacheHooks = h
	}
}

// SetSessionHooks registers custom session hooks.
func SetSessionHooks(h SessionHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		sessionHooks = h
	}
}

// SetServerHooks registers custom server hooks.
func SetServerHooks(h ServerHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		serverHooks = h
	}
}

// Layout returns the registered layout hooks.
func Layout() LayoutHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return layoutHooks
}

// Cache returns the registered cache hooks.
func Cache() CacheHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return cacheHooks
}

// Session returns the registered session hooks.
func Session() SessionHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return sessionHooks
}

// Server returns the registered server hooks.
func Server() ServerHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return serverHooks
}

// Reset restores all hooks to their no-op defaults.
// This is primarily useful for testing.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	layoutHooks = NoopLayoutHooks{}
	cacheHooks = NoopCacheHooks{}
	sessionHooks = NoopSessionHooks{}
	serverHooks = NoopServerHooks{}
}
