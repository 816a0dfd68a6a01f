package newswire

import (
	"context"
	"time"
)

// Queue provides bounded FIFO push/pop semantics for crawl tasks.
type Queue interface {
	Push(ctx context.Context, task CrawlTask) error
	Pop(ctx context.Context) (CrawlTask, error)
	Close()
}

// Fetcher fetches a URL with a per-session browser fingerprint and returns
// the rendered document plus timing metadata.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// Extractor pulls the article text fields out of a fetched document.
type Extractor interface {
	Extract(url string, body []byte) (Article, error)
}

// Analyzer sends article content to the language-model endpoint and parses
// the structured result.
type Analyzer interface {
	Analyze(ctx context.Context, content string, language string) (Analysis, error)
}

// Sink accumulates extraction records and flushes them in batches.
type Sink interface {
	Add(ctx context.Context, record ExtractionRecord) error
	Drain(ctx context.Context) error
}

// HealthReporter receives degraded/recovered signals from pipeline stages.
type HealthReporter interface {
	ReportFailure(component string, err error)
	ReportOK(component string)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
