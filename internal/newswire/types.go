package newswire

import (
	"time"
)

// TaskStatus records how a crawl task left the pipeline.
type TaskStatus string

// Task status values recorded on extraction records.
const (
	TaskStatusSuccess TaskStatus = "success"
	TaskStatusFailed  TaskStatus = "failed"
)

// CrawlTask is one discovered article URL waiting to be fetched and analyzed.
type CrawlTask struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	SourceID     string    `json:"source_id"`
	DiscoveredAt time.Time `json:"discovered_at"`
	Attempt      int       `json:"attempt"`
}

// FetchResult is the outcome of a fingerprinted page fetch.
type FetchResult struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
	Latency    time.Duration
	Blocked    bool
}

// OK reports whether the fetch produced a usable document.
func (r FetchResult) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300 && !r.Blocked
}

// Article holds the text fields pulled out of a fetched page before analysis.
type Article struct {
	Title       string
	PublishDate string
	Content     string
	Source      string
}

// Analysis is the structured result returned by the language model.
type Analysis struct {
	Keywords     []string `json:"keywords"`
	Summary      string   `json:"summary"`
	MarketType   string   `json:"market_type"`
	Sentiment    string   `json:"sentiment"`
	MarketImpact string   `json:"market_impact"`
}

// ExtractionRecord is the flat row persisted for each processed article.
type ExtractionRecord struct {
	URL          string    `json:"url"`
	FetchedAt    time.Time `json:"fetched_at"`
	Title        string    `json:"title"`
	PublishDate  string    `json:"publish_date"`
	Content      string    `json:"content"`
	Source       string    `json:"source"`
	Keywords     []string  `json:"keywords"`
	Summary      string    `json:"summary"`
	MarketType   string    `json:"market_type"`
	Sentiment    string    `json:"sentiment"`
	MarketImpact string    `json:"market_impact"`
	Language     string    `json:"language"`
	Status       string    `json:"status"`
}

// Discovery is a candidate article URL found by a collector source.
type Discovery struct {
	URL      string
	SourceID string
	Title    string
}
