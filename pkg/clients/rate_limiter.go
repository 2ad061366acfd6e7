package clients

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// HostRateLimiter keeps one token bucket per host so a busy source cannot
// starve requests to the others.
type HostRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewHostRateLimiter allows requestsPerSecond per host with the given burst.
func NewHostRateLimiter(requestsPerSecond float64, burst int) *HostRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &HostRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

func (rl *HostRateLimiter) limiter(host string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters[host]
	if !ok {
		l = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[host] = l
	}
	return l
}

// Wait blocks until a request to host is allowed or ctx is done.
func (rl *HostRateLimiter) Wait(ctx context.Context, host string) error {
	return rl.limiter(host).Wait(ctx)
}

// Allow reports whether a request to host may proceed now.
func (rl *HostRateLimiter) Allow(host string) bool {
	return rl.limiter(host).Allow()
}
