package httpapi

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// sessionRateLimiter throttles POST /chat per X-Session-ID so one runaway client can't starve
// every other session's turns of Agent Client/transport resources.
type sessionRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// newSessionRateLimiter allows requestsPerSecond sustained, bursting up to burst — one turn at a
// time is the norm, so a low, bursty limit catches retry storms without punishing normal use.
func newSessionRateLimiter(requestsPerSecond float64, burst int) *sessionRateLimiter {
	return &sessionRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

func (l *sessionRateLimiter) allow(sessionID string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[sessionID]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[sessionID] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

// Cleanup discards every tracked limiter. Call periodically (the sidecar's idle-session reaper
// ticker does) so sessions that stop chatting don't pin memory forever; a session that resumes
// afterward simply gets a fresh bucket, same as a brand-new one would.
func (l *sessionRateLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters = make(map[string]*rate.Limiter)
}

func (l *sessionRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.Header.Get("X-Session-ID")
		if sessionID != "" && !l.allow(sessionID) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}
