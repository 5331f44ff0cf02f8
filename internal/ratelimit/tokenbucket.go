package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SessionLimiter keeps one token bucket per session
type SessionLimiter struct {
	limit    rate.Limit
	burst    int
	now      func() time.Time
	limiters map[uint32]*rate.Limiter
	mu       sync.Mutex
}

// NewSessionLimiter allows perSecond submissions per second per session with
// the given burst. A burst below 1 defaults to the rate rounded up.
func NewSessionLimiter(perSecond float64, burst int) *SessionLimiter {
	if burst < 1 {
		burst = int(perSecond)
		if float64(burst) < perSecond {
			burst++
		}
		if burst < 1 {
			burst = 1
		}
	}
	return &SessionLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		now:      time.Now,
		limiters: make(map[uint32]*rate.Limiter),
	}
}

func (l *SessionLimiter) get(sessionID uint32) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[sessionID]
	if !exists {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[sessionID] = limiter
	}
	return limiter
}

// Allow reports whether the session may submit another message
func (l *SessionLimiter) Allow(sessionID uint32) bool {
	return l.get(sessionID).AllowN(l.now(), 1)
}

// Tokens returns the whole tokens a session has available
func (l *SessionLimiter) Tokens(sessionID uint32) int {
	return int(l.get(sessionID).TokensAt(l.now()))
}

// Remove forgets a session's bucket
func (l *SessionLimiter) Remove(sessionID uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, sessionID)
}

// Len returns the number of tracked sessions
func (l *SessionLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
