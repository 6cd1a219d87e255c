package handlers

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hanko-field/fulfillment/internal/platform/auth"
	"github.com/hanko-field/fulfillment/internal/platform/httpx"
)

// fixedWindowLimiter admits at most limit requests per key in each window.
type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time
	mu     sync.Mutex
	store  map[string]windowEntry
}

type windowEntry struct {
	count int
	reset time.Time
}

func newFixedWindowLimiter(limit int, window time.Duration, clock func() time.Time) *fixedWindowLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		store:  make(map[string]windowEntry),
	}
}

// allow records one hit for key and reports whether it fits, plus when the window resets.
func (l *fixedWindowLimiter) allow(key string) (bool, time.Time) {
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.store[key]
	if !ok || !now.Before(entry.reset) {
		entry = windowEntry{count: 1, reset: now.Add(l.window)}
		l.store[key] = entry
		l.pruneExpiredLocked(now)
		return true, entry.reset
	}
	if entry.count >= l.limit {
		return false, entry.reset
	}
	entry.count++
	l.store[key] = entry
	return true, entry.reset
}

func (l *fixedWindowLimiter) pruneExpiredLocked(now time.Time) {
	for key, entry := range l.store {
		if !now.Before(entry.reset) {
			delete(l.store, key)
		}
	}
}

// perActor limits requests by authenticated actor. Anonymous callers share one bucket.
func (l *fixedWindowLimiter) perActor(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "anonymous"
		if actor, ok := auth.ActorFromContext(r.Context()); ok {
			key = string(actor.Kind) + ":" + actor.ID
		}
		allowed, reset := l.allow(key)
		if !allowed {
			retry := max(int(reset.Sub(l.clock()).Seconds()+0.5), 1)
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many batch requests, retry later", http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}
