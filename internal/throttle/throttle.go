// Package throttle gates outbound browser sessions behind a concurrency cap
// and a minimum inter-request spacing.
package throttle

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quantfeed/newswire/internal/metrics"
)

// Config holds throttle configuration.
type Config struct {
	// MinRate is the maximum admission rate in requests per second; the
	// spacing between admitted requests never falls below 1/MinRate.
	MinRate float64
	// MaxConcurrent caps the number of sessions held open at once.
	MaxConcurrent int
}

// Slot is proof of admission; it must be returned via Release.
type Slot struct {
	t *Throttle
}

// Throttle admits requests in FIFO order once both a concurrency slot and
// the rate window are available.
type Throttle struct {
	limiter *rate.Limiter
	sem     chan struct{}
	minRate rate.Limit
	active  atomic.Int64
	logger  *zap.Logger
}

// New creates a Throttle.
func New(cfg Config, logger *zap.Logger) (*Throttle, error) {
	if cfg.MinRate <= 0 {
		return nil, fmt.Errorf("min rate must be > 0, got %g", cfg.MinRate)
	}
	if cfg.MaxConcurrent <= 0 {
		return nil, fmt.Errorf("max concurrent must be > 0, got %d", cfg.MaxConcurrent)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Throttle{
		limiter: rate.NewLimiter(rate.Limit(cfg.MinRate), 1),
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		minRate: rate.Limit(cfg.MinRate),
		logger:  logger,
	}, nil
}

// Acquire blocks until a concurrency slot and the rate window are both
// available, or the context ends. A canceled wait consumes nothing.
func (t *Throttle) Acquire(ctx context.Context) (Slot, error) {
	start := time.Now()

	select {
	case t.sem <- struct{}{}:
	case <-ctx.Done():
		return Slot{}, fmt.Errorf("acquire session slot: %w", ctx.Err())
	}

	if err := t.limiter.Wait(ctx); err != nil {
		<-t.sem
		return Slot{}, fmt.Errorf("rate window wait: %w", err)
	}

	n := t.active.Add(1)
	metrics.SetActiveSessions(int(n))
	metrics.ObserveThrottleWait(time.Since(start))
	t.logger.Debug("session admitted",
		zap.Int64("active", n),
		zap.Duration("waited", time.Since(start)),
	)
	return Slot{t: t}, nil
}

// Release returns the slot. Releasing a zero Slot is a no-op.
func (s Slot) Release() {
	if s.t == nil {
		return
	}
	<-s.t.sem
	n := s.t.active.Add(-1)
	metrics.SetActiveSessions(int(n))
}

// Active returns the number of currently held slots.
func (t *Throttle) Active() int {
	return int(t.active.Load())
}

// SetInterval slows the admission rate to at most one request per d,
// clamped so spacing never exceeds the configured minimum rate. The
// adaptive controller feeds its current delay through here.
func (t *Throttle) SetInterval(d time.Duration) {
	if d <= 0 {
		t.limiter.SetLimit(t.minRate)
		return
	}
	limit := rate.Limit(1 / d.Seconds())
	if limit > t.minRate {
		limit = t.minRate
	}
	t.limiter.SetLimit(limit)
}

// Interval returns the spacing currently enforced between admissions.
func (t *Throttle) Interval() time.Duration {
	limit := t.limiter.Limit()
	if limit <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(limit))
}
