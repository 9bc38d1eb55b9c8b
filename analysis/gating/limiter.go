package gating

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// UserRateLimiter enforces a per-user escalation rate over a rolling window.
type UserRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewUserRateLimiter allows perWindow escalations per user per window.
func NewUserRateLimiter(perWindow int, window time.Duration) *UserRateLimiter {
	if perWindow <= 0 {
		perWindow = 1
	}
	if window <= 0 {
		window = time.Hour
	}
	return &UserRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Every(window / time.Duration(perWindow)),
		burst:    perWindow,
	}
}

// Allow reports whether userID may escalate now, consuming one slot if so.
func (l *UserRateLimiter) Allow(userID string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[userID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
