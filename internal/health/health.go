// Package health tracks per-component failure streaks and flips a degraded
// flag when a component keeps failing.
package health

import (
	"sync"

	"go.uber.org/zap"

	"github.com/quantfeed/newswire/internal/metrics"
)

// Reporter implements newswire.HealthReporter. A component is degraded once
// its consecutive failure count reaches the threshold; one success clears
// the streak.
type Reporter struct {
	threshold int
	logger    *zap.Logger

	mu       sync.Mutex
	streaks  map[string]int
	degraded map[string]bool
}

// New builds a reporter. Threshold must be at least 1.
func New(threshold int, logger *zap.Logger) *Reporter {
	if threshold < 1 {
		threshold = 1
	}
	return &Reporter{
		threshold: threshold,
		logger:    logger,
		streaks:   make(map[string]int),
		degraded:  make(map[string]bool),
	}
}

// ReportFailure records one failure for the component.
func (r *Reporter) ReportFailure(component string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.streaks[component]++
	if r.streaks[component] >= r.threshold && !r.degraded[component] {
		r.degraded[component] = true
		r.logger.Error("component degraded",
			zap.String("component", component),
			zap.Int("consecutive_failures", r.streaks[component]),
			zap.Error(err),
		)
	}
	r.publishLocked()
}

// ReportOK clears the component's failure streak.
func (r *Reporter) ReportOK(component string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.degraded[component] {
		r.logger.Info("component recovered", zap.String("component", component))
	}
	r.streaks[component] = 0
	delete(r.degraded, component)
	r.publishLocked()
}

// Degraded reports whether the named component is currently degraded.
func (r *Reporter) Degraded(component string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.degraded[component]
}

// Healthy reports whether no component is degraded.
func (r *Reporter) Healthy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.degraded) == 0
}

func (r *Reporter) publishLocked() {
	if len(r.degraded) > 0 {
		metrics.SetDegraded(true)
		return
	}
	metrics.SetDegraded(false)
}
