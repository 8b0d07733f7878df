package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/estado-transparente/pipeline/internal/telemetry"
)

// Limiter enforces the minimum inter-request delay per source.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
}

// NewLimiter creates a limiter spacing requests at least minDelay apart
// for each source id. A non-positive delay disables limiting.
func NewLimiter(minDelay time.Duration) *Limiter {
	limit := rate.Inf
	if minDelay > 0 {
		limit = rate.Every(minDelay)
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
	}
}

// Wait blocks until the source may issue its next request, respecting
// the context.
func (l *Limiter) Wait(ctx context.Context, sourceID string) error {
	l.mu.Lock()
	limiter, exists := l.limiters[sourceID]
	if !exists {
		limiter = rate.NewLimiter(l.limit, 1)
		l.limiters[sourceID] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		telemetry.ObserveRateLimitDelay(sourceID, waited)
	}
	return nil
}
