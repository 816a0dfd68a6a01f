package collector

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantfeed/newswire/internal/metrics"
	"github.com/quantfeed/newswire/internal/newswire"
)

// pushTimeout bounds how long a poller waits on a full crawl queue before
// dropping the discovery.
const pushTimeout = 30 * time.Second

// Source is one origin of candidate article URLs. Poll is always called
// from a single goroutine per source.
type Source interface {
	ID() string
	Poll(ctx context.Context) ([]newswire.Discovery, error)
}

// Config tunes the polling loops.
type Config struct {
	MinInterval time.Duration
	MaxInterval time.Duration
	// MaxRuns stops a source after this many polls; zero means run until
	// canceled.
	MaxRuns int
}

// Scheduler runs one polling goroutine per source, dedupes discoveries
// through a shared seen-set, and enqueues crawl tasks.
type Scheduler struct {
	cfg     Config
	sources []Source
	queue   newswire.Queue
	seen    *SeenSet
	clock   newswire.Clock
	logger  *zap.Logger

	// sleep is swapped out in tests
	sleep func(ctx context.Context, d time.Duration)
	// newRNG yields a per-source rng so pollers don't share lock state
	newRNG func() *rand.Rand
}

// NewScheduler assembles a scheduler over the given sources.
func NewScheduler(cfg Config, sources []Source, queue newswire.Queue, seen *SeenSet, clock newswire.Clock, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		sources: sources,
		queue:   queue,
		seen:    seen,
		clock:   clock,
		logger:  logger,
		sleep:   sleepCtx,
		newRNG: func() *rand.Rand {
			return rand.New(rand.NewSource(time.Now().UnixNano()))
		},
	}
}

// Run starts every source's polling loop and blocks until all of them stop,
// either from context cancellation or from reaching MaxRuns.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, src := range s.sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			s.pollLoop(ctx, src)
		}(src)
	}
	wg.Wait()
}

func (s *Scheduler) pollLoop(ctx context.Context, src Source) {
	rng := s.newRNG()
	logger := s.logger.With(zap.String("source", src.ID()))
	logger.Info("starting source poller")

	for runs := 0; ; runs++ {
		if s.cfg.MaxRuns > 0 && runs >= s.cfg.MaxRuns {
			logger.Info("source reached max runs", zap.Int("runs", runs))
			return
		}
		if ctx.Err() != nil {
			return
		}

		discoveries, err := src.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("poll failed", zap.Error(err))
		} else {
			s.enqueue(ctx, src.ID(), discoveries, logger)
		}

		s.sleep(ctx, s.nextInterval(rng))
		if ctx.Err() != nil {
			return
		}
	}
}

// nextInterval draws a uniform wait from [MinInterval, MaxInterval).
func (s *Scheduler) nextInterval(rng *rand.Rand) time.Duration {
	span := s.cfg.MaxInterval - s.cfg.MinInterval
	if span <= 0 {
		return s.cfg.MinInterval
	}
	return s.cfg.MinInterval + time.Duration(rng.Int63n(int64(span)))
}

func (s *Scheduler) enqueue(ctx context.Context, sourceID string, discoveries []newswire.Discovery, logger *zap.Logger) {
	for _, d := range discoveries {
		if !s.seen.MarkIfNew(d.URL) {
			continue
		}
		metrics.IncDiscoveries(sourceID)

		task := newswire.CrawlTask{
			ID:           uuid.NewString(),
			URL:          d.URL,
			SourceID:     sourceID,
			DiscoveredAt: s.clock.Now(),
		}
		pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
		err := s.queue.Push(pushCtx, task)
		cancel()
		if err != nil {
			metrics.IncDiscoveriesDropped()
			logger.Warn("dropping discovery, queue unavailable",
				zap.String("url", d.URL),
				zap.Error(err),
			)
			continue
		}
		logger.Debug("enqueued discovery",
			zap.String("url", d.URL),
			zap.String("title", d.Title),
		)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
