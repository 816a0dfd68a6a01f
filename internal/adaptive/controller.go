// Package adaptive adjusts the inter-request delay of crawl sessions in
// response to observed page latency and fetch failures. The controller is a
// small feedback loop: slow pages and errors grow the delay, fast pages
// shrink it, and every wait gets a jitter factor so sessions never fall into
// a fixed cadence.
package adaptive

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantfeed/newswire/internal/metrics"
)

// Config bounds and tunes the feedback loop. All durations are positive and
// MinDelay <= MaxDelay.
type Config struct {
	MinDelay      time.Duration
	MaxDelay      time.Duration
	SlowThreshold time.Duration
	FastThreshold time.Duration
	Jitter        float64
	GrowthFactor  float64
	ShrinkFactor  float64
}

func (c Config) validate() error {
	if c.MinDelay <= 0 {
		return fmt.Errorf("min delay must be positive, got %s", c.MinDelay)
	}
	if c.MaxDelay < c.MinDelay {
		return fmt.Errorf("max delay %s below min delay %s", c.MaxDelay, c.MinDelay)
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		return fmt.Errorf("jitter must be in [0,1), got %f", c.Jitter)
	}
	if c.GrowthFactor <= 1 {
		return fmt.Errorf("growth factor must exceed 1, got %f", c.GrowthFactor)
	}
	if c.ShrinkFactor <= 0 || c.ShrinkFactor >= 1 {
		return fmt.Errorf("shrink factor must be in (0,1), got %f", c.ShrinkFactor)
	}
	return nil
}

// Adjustments counts how often the controller moved the delay in each
// direction since start.
type Adjustments struct {
	Increased uint64
	Decreased uint64
}

// Controller holds the current delay and applies observations to it. Safe
// for concurrent use by multiple workers.
type Controller struct {
	cfg    Config
	logger *zap.Logger

	mu    sync.Mutex
	delay time.Duration
	adj   Adjustments
}

// New builds a controller starting at the configured minimum delay.
func New(cfg Config, logger *zap.Logger) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("adaptive config: %w", err)
	}
	c := &Controller{cfg: cfg, logger: logger, delay: cfg.MinDelay}
	metrics.SetAdaptiveDelay(c.delay)
	return c, nil
}

// Observe feeds one fetch outcome into the loop. Failures and latencies
// above the slow threshold grow the delay; latencies below the fast
// threshold shrink it. Latencies in between leave it untouched.
func (c *Controller) Observe(latency time.Duration, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.delay
	switch {
	case failed || latency > c.cfg.SlowThreshold:
		c.delay = time.Duration(float64(c.delay) * c.cfg.GrowthFactor)
		if c.delay > c.cfg.MaxDelay {
			c.delay = c.cfg.MaxDelay
		}
		if c.delay != prev {
			c.adj.Increased++
		}
	case latency < c.cfg.FastThreshold:
		c.delay = time.Duration(float64(c.delay) * c.cfg.ShrinkFactor)
		if c.delay < c.cfg.MinDelay {
			c.delay = c.cfg.MinDelay
		}
		if c.delay != prev {
			c.adj.Decreased++
		}
	}

	if c.delay != prev {
		metrics.SetAdaptiveDelay(c.delay)
		c.logger.Debug("adjusted crawl delay",
			zap.Duration("previous", prev),
			zap.Duration("current", c.delay),
			zap.Duration("latency", latency),
			zap.Bool("failed", failed),
		)
	}
}

// NextWait returns the current delay with a uniform jitter factor applied,
// clamped to the configured bounds. Callers pass their own rng so tests can
// seed it.
func (c *Controller) NextWait(rng *rand.Rand) time.Duration {
	c.mu.Lock()
	base := c.delay
	c.mu.Unlock()

	if c.cfg.Jitter == 0 {
		return base
	}
	// factor in [1-jitter, 1+jitter)
	factor := 1 + c.cfg.Jitter*(2*rng.Float64()-1)
	wait := time.Duration(float64(base) * factor)
	if wait < c.cfg.MinDelay {
		wait = c.cfg.MinDelay
	}
	if wait > c.cfg.MaxDelay {
		wait = c.cfg.MaxDelay
	}
	return wait
}

// Delay returns the current un-jittered delay.
func (c *Controller) Delay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delay
}

// Adjustments returns a snapshot of the adjustment counters.
func (c *Controller) Adjustments() Adjustments {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adj
}
