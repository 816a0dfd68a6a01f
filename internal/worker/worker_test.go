package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantfeed/newswire/internal/adaptive"
	"github.com/quantfeed/newswire/internal/newswire"
	"github.com/quantfeed/newswire/internal/queue/memory"
	"github.com/quantfeed/newswire/internal/throttle"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeFetcher struct {
	result newswire.FetchResult
	err    error
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (newswire.FetchResult, error) {
	if f.err != nil {
		return newswire.FetchResult{}, f.err
	}
	res := f.result
	res.URL = url
	if res.FinalURL == "" {
		res.FinalURL = url
	}
	return res, nil
}

type fakeExtractor struct {
	article newswire.Article
	err     error
}

func (f *fakeExtractor) Extract(string, []byte) (newswire.Article, error) {
	return f.article, f.err
}

type fakeAnalyzer struct {
	mu       sync.Mutex
	analysis newswire.Analysis
	err      error
	calls    int
}

func (f *fakeAnalyzer) Analyze(context.Context, string, string) (newswire.Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return newswire.Analysis{}, f.err
	}
	return f.analysis, nil
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAnalyzer) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakeSink struct {
	mu      sync.Mutex
	records []newswire.ExtractionRecord
}

func (f *fakeSink) Add(_ context.Context, record newswire.ExtractionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}

func (f *fakeSink) Drain(context.Context) error { return nil }

func (f *fakeSink) all() []newswire.ExtractionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]newswire.ExtractionRecord(nil), f.records...)
}

type fakeHealth struct {
	mu       sync.Mutex
	failures map[string]int
	oks      map[string]int
}

func newFakeHealth() *fakeHealth {
	return &fakeHealth{failures: make(map[string]int), oks: make(map[string]int)}
}

func (f *fakeHealth) ReportFailure(component string, _ error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[component]++
}

func (f *fakeHealth) ReportOK(component string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.oks[component]++
}

func (f *fakeHealth) failureCount(component string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures[component]
}

type harness struct {
	queue    *memory.Queue
	fetcher  *fakeFetcher
	analyzer *fakeAnalyzer
	sink     *fakeSink
	health   *fakeHealth
	worker   *Worker

	mu     sync.Mutex
	sleeps []time.Duration
}

func (h *harness) recordedSleeps() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.sleeps...)
}

func okFetchResult() newswire.FetchResult {
	return newswire.FetchResult{StatusCode: 200, Body: []byte("<html/>"), Latency: time.Second}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	q := memory.NewQueue(10)
	th, err := throttle.New(throttle.Config{MinRate: 100000, MaxConcurrent: 2}, zap.NewNop())
	require.NoError(t, err)
	delay, err := adaptive.New(adaptive.Config{
		MinDelay:      time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		SlowThreshold: 5 * time.Second,
		FastThreshold: time.Millisecond,
		Jitter:        0,
		GrowthFactor:  1.5,
		ShrinkFactor:  0.8,
	}, zap.NewNop())
	require.NoError(t, err)

	h := &harness{
		queue: q,
		fetcher: &fakeFetcher{
			result: okFetchResult(),
		},
		analyzer: &fakeAnalyzer{
			analysis: newswire.Analysis{
				Keywords:     []string{"oil"},
				Summary:      "Supply cut.",
				MarketType:   "commodities",
				Sentiment:    "bearish",
				MarketImpact: "high",
			},
		},
		sink:   &fakeSink{},
		health: newFakeHealth(),
	}
	extractor := &fakeExtractor{article: newswire.Article{
		Title:       "Oil climbs",
		PublishDate: "2026-08-30T09:00:00Z",
		Content:     "Crude futures rose sharply.",
		Source:      "example.com",
	}}
	h.worker = New(q, th, delay, h.fetcher, extractor, h.analyzer, h.sink, h.health,
		fakeClock{now: time.Date(2026, 8, 30, 15, 0, 0, 0, time.UTC)}, cfg, zap.NewNop())

	h.worker.sleep = func(_ context.Context, d time.Duration) {
		h.mu.Lock()
		h.sleeps = append(h.sleeps, d)
		h.mu.Unlock()
	}
	return h
}

func (h *harness) run(t *testing.T) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.worker.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("worker did not stop")
		}
	})
	return cancel
}

func TestWorkerProcessesTaskEndToEnd(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{RetryLimit: 3})
	h.run(t)

	task := newswire.CrawlTask{ID: "t1", URL: "https://example.com/oil", SourceID: "wire"}
	require.NoError(t, h.queue.Push(context.Background(), task))

	require.Eventually(t, func() bool { return len(h.sink.all()) == 1 }, time.Second, 5*time.Millisecond)

	rec := h.sink.all()[0]
	require.Equal(t, "https://example.com/oil", rec.URL)
	require.Equal(t, "Oil climbs", rec.Title)
	require.Equal(t, "Crude futures rose sharply.", rec.Content)
	require.Equal(t, []string{"oil"}, rec.Keywords)
	require.Equal(t, "bearish", rec.Sentiment)
	require.Equal(t, "en", rec.Language)
	require.Equal(t, string(newswire.TaskStatusSuccess), rec.Status)
	require.False(t, rec.FetchedAt.IsZero())
}

func TestWorkerRetriesMalformedAnalysisThenDrops(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{RetryLimit: 3, FailureThreshold: 100})
	h.analyzer.err = errors.New("decode analysis: invalid character 't'")
	h.run(t)

	task := newswire.CrawlTask{ID: "t1", URL: "https://example.com/bad", SourceID: "wire"}
	require.NoError(t, h.queue.Push(context.Background(), task))

	// Three attempts, then the task is dropped with a failure record.
	require.Eventually(t, func() bool { return len(h.sink.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 3, h.analyzer.callCount())

	rec := h.sink.all()[0]
	require.Equal(t, string(newswire.TaskStatusFailed), rec.Status)
	require.Equal(t, "https://example.com/bad", rec.URL)
	require.Equal(t, "wire", rec.Source)

	require.GreaterOrEqual(t, h.health.failureCount("analyzer"), 3)
	require.Equal(t, 0, h.queue.Len(), "dropped task must not linger in the queue")

	// The worker survives: a healthy task still goes through.
	h.analyzer.setErr(nil)
	require.NoError(t, h.queue.Push(context.Background(), newswire.CrawlTask{ID: "t2", URL: "https://example.com/ok"}))
	require.Eventually(t, func() bool { return len(h.sink.all()) == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, string(newswire.TaskStatusSuccess), h.sink.all()[1].Status)
}

func TestWorkerRetriesFailedFetch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{RetryLimit: 2})
	h.fetcher.err = errors.New("navigation timeout")
	h.run(t)

	require.NoError(t, h.queue.Push(context.Background(), newswire.CrawlTask{ID: "t1", URL: "https://example.com/x"}))

	require.Eventually(t, func() bool { return len(h.sink.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, string(newswire.TaskStatusFailed), h.sink.all()[0].Status)
	require.GreaterOrEqual(t, h.health.failureCount("fetch"), 1)
}

func TestWorkerDropsBlockedPages(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{RetryLimit: 1})
	h.fetcher.result = newswire.FetchResult{StatusCode: 403, Blocked: true, Latency: time.Second}
	h.run(t)

	require.NoError(t, h.queue.Push(context.Background(), newswire.CrawlTask{ID: "t1", URL: "https://example.com/x"}))

	require.Eventually(t, func() bool { return len(h.sink.all()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, string(newswire.TaskStatusFailed), h.sink.all()[0].Status)
	require.Equal(t, 0, h.analyzer.callCount(), "blocked page must not reach the analyzer")
}

func TestWorkerPausesAfterConsecutiveAnalyzerFailures(t *testing.T) {
	t.Parallel()

	const backoff = 42 * time.Minute
	h := newHarness(t, Config{RetryLimit: 1, FailureThreshold: 2, PauseBackoff: backoff})
	h.analyzer.err = errors.New("connection refused")
	h.run(t)

	ctx := context.Background()
	require.NoError(t, h.queue.Push(ctx, newswire.CrawlTask{ID: "t1", URL: "https://example.com/1"}))
	require.NoError(t, h.queue.Push(ctx, newswire.CrawlTask{ID: "t2", URL: "https://example.com/2"}))

	require.Eventually(t, func() bool {
		for _, d := range h.recordedSleeps() {
			if d == backoff {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "worker never paused")
}

func TestWorkerFeedsDelayIntoThrottlePacing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{RetryLimit: 1})
	h.fetcher.result = newswire.FetchResult{StatusCode: 200, Body: []byte("<html/>"), Latency: 6 * time.Second}
	h.run(t)

	require.NoError(t, h.queue.Push(context.Background(), newswire.CrawlTask{ID: "t1", URL: "https://example.com/slow"}))
	require.Eventually(t, func() bool { return len(h.sink.all()) == 1 }, time.Second, 5*time.Millisecond)

	// The slow fetch grew the delay; admission spacing must follow it.
	grown := h.worker.delay.Delay()
	require.Greater(t, grown, time.Millisecond)
	require.InDelta(t, float64(grown), float64(h.worker.throttle.Interval()), float64(time.Microsecond))
}

func TestWorkerExitsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{RetryLimit: 1})
	done := make(chan struct{})
	go func() {
		h.worker.Run(context.Background())
		close(done)
	}()

	h.queue.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit on queue close")
	}
}
