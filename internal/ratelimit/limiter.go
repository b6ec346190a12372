// Package ratelimit throttles HTTP clients at the transport edge. This
// is coarse per-client abuse protection; query pacing against the chat
// site itself is the admission layer's job.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter manages token buckets keyed by client.
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

// NewLimiter builds a limiter allowing requestsPerMinute sustained per
// client with the given burst.
func NewLimiter(requestsPerMinute int, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    burst,
	}
}

func (l *Limiter) get(client string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[client]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[client] = limiter
	}
	return limiter
}

// Allow reports whether the client may make a request now.
func (l *Limiter) Allow(client string) bool {
	return l.get(client).Allow()
}

// Tokens returns the client's remaining burst capacity.
func (l *Limiter) Tokens(client string) float64 {
	return l.get(client).Tokens()
}
