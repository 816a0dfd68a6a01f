// Package worker implements the extraction pipeline execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/quantfeed/newswire/internal/adaptive"
	"github.com/quantfeed/newswire/internal/analyze"
	"github.com/quantfeed/newswire/internal/metrics"
	"github.com/quantfeed/newswire/internal/newswire"
	"github.com/quantfeed/newswire/internal/queue/memory"
	"github.com/quantfeed/newswire/internal/throttle"
)

// requeueTimeout bounds how long a retry waits for queue space before the
// task is dropped instead.
const requeueTimeout = 5 * time.Second

// Config controls Worker behavior.
type Config struct {
	// RetryLimit is the total number of attempts a task gets.
	RetryLimit int
	// FailureThreshold is the consecutive analyzer failure count that
	// pauses the worker.
	FailureThreshold int
	// PauseBackoff is how long a worker sits out after hitting the
	// failure threshold.
	PauseBackoff time.Duration
}

// Worker consumes crawl tasks and executes fetch, extraction and analysis.
type Worker struct {
	queue     newswire.Queue
	throttle  *throttle.Throttle
	delay     *adaptive.Controller
	fetcher   newswire.Fetcher
	extractor newswire.Extractor
	analyzer  newswire.Analyzer
	sink      newswire.Sink
	health    newswire.HealthReporter
	clock     newswire.Clock
	cfg       Config
	logger    *zap.Logger

	// rng and llmFailures are only touched from the Run goroutine.
	rng         *rand.Rand
	llmFailures int

	// sleep is swapped out in tests
	sleep func(ctx context.Context, d time.Duration)
}

// New constructs a Worker.
func New(
	queue newswire.Queue,
	th *throttle.Throttle,
	delay *adaptive.Controller,
	fetcher newswire.Fetcher,
	extractor newswire.Extractor,
	analyzer newswire.Analyzer,
	sink newswire.Sink,
	health newswire.HealthReporter,
	clock newswire.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.RetryLimit < 1 {
		cfg.RetryLimit = 1
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 5
	}
	if cfg.PauseBackoff <= 0 {
		cfg.PauseBackoff = 30 * time.Second
	}
	return &Worker{
		queue:     queue,
		throttle:  th,
		delay:     delay,
		fetcher:   fetcher,
		extractor: extractor,
		analyzer:  analyzer,
		sink:      sink,
		health:    health,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:     sleepCtx,
	}
}

// Run blocks, consuming tasks until the context finishes or the queue
// closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		task, err := w.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, memory.ErrClosed) {
				return
			}
			w.logger.Error("queue pop failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued task",
			zap.String("task_id", task.ID),
			zap.String("url", task.URL),
			zap.Int("attempt", task.Attempt),
		)
		w.processTask(ctx, task)
	}
}

func (w *Worker) processTask(ctx context.Context, task newswire.CrawlTask) {
	result, err := w.fetchPaced(ctx, task)
	failed := err != nil || !result.OK()
	if err == nil {
		w.delay.Observe(result.Latency, failed)
	} else if ctx.Err() != nil {
		return
	} else {
		w.delay.Observe(0, true)
	}
	w.throttle.SetInterval(w.delay.Delay())
	if failed {
		if err == nil {
			err = fmt.Errorf("unusable response: status %d blocked=%t", result.StatusCode, result.Blocked)
		}
		w.logger.Warn("fetch failed",
			zap.String("task_id", task.ID),
			zap.String("url", task.URL),
			zap.Error(err),
		)
		w.retryOrDrop(ctx, task, "fetch", err)
		return
	}

	article, err := w.extractor.Extract(task.URL, result.Body)
	if err != nil {
		w.logger.Warn("extraction failed",
			zap.String("task_id", task.ID),
			zap.String("url", task.URL),
			zap.Error(err),
		)
		w.dropTask(task, "extract", err)
		return
	}

	language := analyze.DetectLanguage(article.Content)
	analysis, err := w.analyzer.Analyze(ctx, article.Content, language)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.noteAnalyzerFailure(ctx, task, err)
		w.retryOrDrop(ctx, task, "analyze", err)
		return
	}
	w.llmFailures = 0
	w.health.ReportOK("analyzer")

	record := newswire.ExtractionRecord{
		URL:          result.FinalURL,
		FetchedAt:    w.clock.Now(),
		Title:        article.Title,
		PublishDate:  article.PublishDate,
		Content:      article.Content,
		Source:       article.Source,
		Keywords:     analysis.Keywords,
		Summary:      analysis.Summary,
		MarketType:   analysis.MarketType,
		Sentiment:    analysis.Sentiment,
		MarketImpact: analysis.MarketImpact,
		Language:     language,
		Status:       string(newswire.TaskStatusSuccess),
	}
	if err := w.sink.Add(ctx, record); err != nil {
		// The sink has already spilled the batch; nothing to retry here.
		w.logger.Error("sink add failed", zap.String("url", record.URL), zap.Error(err))
	}
	w.logger.Info("task processed",
		zap.String("task_id", task.ID),
		zap.String("url", task.URL),
		zap.String("language", language),
		zap.String("sentiment", analysis.Sentiment),
	)
}

// fetchPaced waits for a throttle slot and the adaptive delay, then fetches
// under a fresh fingerprint.
func (w *Worker) fetchPaced(ctx context.Context, task newswire.CrawlTask) (newswire.FetchResult, error) {
	slot, err := w.throttle.Acquire(ctx)
	if err != nil {
		return newswire.FetchResult{}, err
	}
	defer slot.Release()

	w.sleep(ctx, w.delay.NextWait(w.rng))
	if ctx.Err() != nil {
		return newswire.FetchResult{}, fmt.Errorf("fetch wait canceled: %w", ctx.Err())
	}
	return w.fetcher.Fetch(ctx, task.URL)
}

// retryOrDrop requeues the task with an incremented attempt counter, or
// drops it once the retry budget is spent.
func (w *Worker) retryOrDrop(ctx context.Context, task newswire.CrawlTask, cause string, err error) {
	if task.Attempt+1 < w.cfg.RetryLimit {
		task.Attempt++
		pushCtx, cancel := context.WithTimeout(ctx, requeueTimeout)
		pushErr := w.queue.Push(pushCtx, task)
		cancel()
		if pushErr == nil {
			w.logger.Debug("requeued task",
				zap.String("task_id", task.ID),
				zap.Int("attempt", task.Attempt),
			)
			return
		}
		w.logger.Warn("requeue failed", zap.String("task_id", task.ID), zap.Error(pushErr))
	}
	w.dropTask(task, cause, err)
}

func (w *Worker) dropTask(task newswire.CrawlTask, cause string, err error) {
	metrics.IncTasksDropped(cause)
	w.health.ReportFailure(cause, err)
	w.logger.Error("dropping task",
		zap.String("task_id", task.ID),
		zap.String("url", task.URL),
		zap.String("cause", cause),
		zap.Int("attempt", task.Attempt),
		zap.Error(err),
	)

	record := newswire.ExtractionRecord{
		URL:       task.URL,
		FetchedAt: w.clock.Now(),
		Source:    task.SourceID,
		Status:    string(newswire.TaskStatusFailed),
	}
	if sinkErr := w.sink.Add(context.Background(), record); sinkErr != nil {
		w.logger.Error("failed-record sink add failed", zap.String("url", task.URL), zap.Error(sinkErr))
	}
}

// noteAnalyzerFailure tracks the consecutive failure streak and pauses the
// worker once the model endpoint looks down.
func (w *Worker) noteAnalyzerFailure(ctx context.Context, task newswire.CrawlTask, err error) {
	w.llmFailures++
	w.health.ReportFailure("analyzer", err)
	w.logger.Warn("analysis failed",
		zap.String("task_id", task.ID),
		zap.String("url", task.URL),
		zap.Int("consecutive_failures", w.llmFailures),
		zap.Error(err),
	)
	if w.llmFailures >= w.cfg.FailureThreshold {
		w.logger.Warn("pausing worker after repeated analyzer failures",
			zap.Duration("backoff", w.cfg.PauseBackoff),
		)
		w.sleep(ctx, w.cfg.PauseBackoff)
		w.llmFailures = 0
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
