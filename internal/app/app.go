// Package app assembles the pipeline from configuration and runs it,
// acting as the dependency injection container.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/quantfeed/newswire/internal/adaptive"
	"github.com/quantfeed/newswire/internal/analyze"
	"github.com/quantfeed/newswire/internal/clock/system"
	"github.com/quantfeed/newswire/internal/collector"
	"github.com/quantfeed/newswire/internal/config"
	"github.com/quantfeed/newswire/internal/dispatcher"
	"github.com/quantfeed/newswire/internal/fetch"
	"github.com/quantfeed/newswire/internal/health"
	"github.com/quantfeed/newswire/internal/metrics"
	"github.com/quantfeed/newswire/internal/newswire"
	"github.com/quantfeed/newswire/internal/queue/memory"
	"github.com/quantfeed/newswire/internal/sink"
	"github.com/quantfeed/newswire/internal/throttle"
	"github.com/quantfeed/newswire/internal/worker"
)

// drainTimeout bounds how long shutdown waits for workers to finish the
// tasks still in flight.
const drainTimeout = 60 * time.Second

// analyzerFailureThreshold is how many consecutive model failures flip a
// worker into its backoff pause.
const analyzerFailureThreshold = 5

// App holds the assembled pipeline.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	queue      *memory.Queue
	fetcher    *fetch.Fetcher
	fileSource *collector.FileSource
	scheduler  *collector.Scheduler
	dispatcher *dispatcher.Dispatcher
	batchSink  *sink.BatchSink
	reporter   *health.Reporter
}

// New builds every pipeline component from the configuration. It fails fast
// when any collaborator cannot be constructed.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	metrics.Init()
	clk := system.New()

	fetcher, err := fetch.NewChromedp(fetch.Config{
		BaseProfile: cfg.BrowserService.Fingerprint.Profile(),
		Randomize:   cfg.BrowserService.Fingerprint.Randomize,
	}, logger.Named("fetch"))
	if err != nil {
		return nil, fmt.Errorf("build fetcher: %w", err)
	}

	th, err := throttle.New(throttle.Config{
		MinRate:       cfg.BrowserService.Throttle.MinRate,
		MaxConcurrent: cfg.BrowserService.Throttle.MaxConcurrent,
	}, logger.Named("throttle"))
	if err != nil {
		return nil, fmt.Errorf("build throttle: %w", err)
	}

	delay, err := adaptive.New(adaptive.Config{
		MinDelay:      cfg.Adaptive.MinDelayDuration(),
		MaxDelay:      cfg.Adaptive.MaxDelayDuration(),
		SlowThreshold: cfg.Adaptive.SlowThresholdDuration(),
		FastThreshold: cfg.Adaptive.FastThresholdDuration(),
		Jitter:        cfg.Adaptive.RandomJitter,
		GrowthFactor:  cfg.Adaptive.GrowthFactor,
		ShrinkFactor:  cfg.Adaptive.ShrinkFactor,
	}, logger.Named("adaptive"))
	if err != nil {
		return nil, fmt.Errorf("build adaptive controller: %w", err)
	}

	prompts, err := analyze.LoadPrompts(cfg.Crawler.PromptFile)
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	analyzer, err := analyze.New(analyze.Config{
		Endpoint:      cfg.Crawler.OllamaEndpoint,
		Model:         cfg.Crawler.Model,
		MaxKeywords:   cfg.Crawler.MaxKeywords,
		SummaryLength: cfg.Crawler.SummaryLength,
	}, prompts, logger.Named("analyze"))
	if err != nil {
		return nil, fmt.Errorf("build analyzer: %w", err)
	}

	batchSink, err := sink.New(sink.Config{
		BaseFilename: cfg.DataSaver.BaseFilename,
		BatchSize:    cfg.DataSaver.BatchSize,
		Format:       cfg.DataSaver.Format,
	}, clk, logger.Named("sink"))
	if err != nil {
		return nil, fmt.Errorf("build sink: %w", err)
	}

	reporter := health.New(analyzerFailureThreshold, logger.Named("health"))
	queue := memory.NewQueue(cfg.QueueSize)

	workers := make([]*worker.Worker, cfg.BrowserService.Throttle.MaxConcurrent)
	for i := range workers {
		workers[i] = worker.New(
			queue,
			th,
			delay,
			fetcher,
			analyze.NewSelectorExtractor(),
			analyzer,
			batchSink,
			reporter,
			clk,
			worker.Config{
				RetryLimit:       cfg.Crawler.RetryLimit,
				FailureThreshold: analyzerFailureThreshold,
			},
			logger.Named("worker").With(zap.Int("worker", i)),
		)
	}

	sources, fileSource, err := buildSources(cfg.Collector, throttle.NewFetcher(fetcher, th), clk, logger.Named("collector"))
	if err != nil {
		return nil, fmt.Errorf("build sources: %w", err)
	}
	scheduler := collector.NewScheduler(collector.Config{
		MinInterval: cfg.Collector.MinIntervalDuration(),
		MaxInterval: cfg.Collector.MaxIntervalDuration(),
		MaxRuns:     cfg.Collector.MaxRuns,
	}, sources, queue, collector.NewSeenSet(), clk, logger.Named("collector"))

	return &App{
		cfg:        cfg,
		logger:     logger,
		queue:      queue,
		fetcher:    fetcher,
		fileSource: fileSource,
		scheduler:  scheduler,
		dispatcher: dispatcher.New(workers, logger.Named("dispatcher")),
		batchSink:  batchSink,
		reporter:   reporter,
	}, nil
}

// buildSources turns the collector config into one source per RSS feed, an
// optional detect page and an optional watched URL-drop directory. The
// detect fetcher is already throttled so the listing-page poll competes for
// the same session slots as the workers.
func buildSources(cfg config.CollectorConfig, fetcher newswire.Fetcher, clk newswire.Clock, logger *zap.Logger) ([]collector.Source, *collector.FileSource, error) {
	sources := make([]collector.Source, 0, len(cfg.RSSURLs)+2)
	for i, feedURL := range cfg.RSSURLs {
		id := fmt.Sprintf("rss-%d", i)
		sources = append(sources, collector.NewRSSSource(id, feedURL, clk))
	}
	if cfg.DetectURL != "" {
		sources = append(sources, collector.NewDetectSource("detect", cfg.DetectURL, fetcher))
	}
	var fileSource *collector.FileSource
	if cfg.InputDir != "" {
		var err error
		fileSource, err = collector.NewFileSource("files", cfg.InputDir, cfg.OutputDir, logger.Named("files"))
		if err != nil {
			return nil, nil, err
		}
		sources = append(sources, fileSource)
	}
	return sources, fileSource, nil
}

// Run starts the metrics listener, the collectors and the worker pool, then
// blocks until the context is canceled or the collectors finish a bounded
// run. Shutdown order: stop pollers, close the queue, let workers drain
// under a deadline, flush the sink.
func (a *App) Run(ctx context.Context) error {
	a.serveMetrics()

	collectCtx, stopCollectors := context.WithCancel(ctx)
	defer stopCollectors()

	collectorsDone := make(chan struct{})
	go func() {
		a.scheduler.Run(collectCtx)
		close(collectorsDone)
	}()

	// Workers run on their own context so they can drain the queue after
	// the run context ends.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	workersDone := make(chan struct{})
	go func() {
		a.dispatcher.Run(workerCtx)
		close(workersDone)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown requested, stopping collectors")
		stopCollectors()
		<-collectorsDone
	case <-collectorsDone:
		a.logger.Info("collectors finished")
	}

	a.queue.Close()
	select {
	case <-workersDone:
	case <-time.After(drainTimeout):
		a.logger.Warn("drain deadline reached, canceling workers",
			zap.Int("tasks_abandoned", a.queue.Len()),
		)
		stopWorkers()
		<-workersDone
	}

	if a.fileSource != nil {
		if err := a.fileSource.Close(); err != nil {
			a.logger.Warn("closing file source", zap.Error(err))
		}
	}
	a.fetcher.Close()

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.batchSink.Drain(drainCtx); err != nil {
		return fmt.Errorf("final sink drain: %w", err)
	}
	a.logger.Info("pipeline stopped cleanly")
	return nil
}

// Healthy reports whether no pipeline component is degraded.
func (a *App) Healthy() bool {
	return a.reporter.Healthy()
}

func (a *App) serveMetrics() {
	addr := fmt.Sprintf(":%d", a.cfg.Metrics.Port)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !a.Healthy() {
			http.Error(w, "degraded", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	})

	go func() {
		a.logger.Info("starting metrics server", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}
