package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
queue_size: 25
browser_service:
  fingerprint:
    browser_type: firefox
    randomize: true
    screen_width: 1440
    screen_height: 900
    locale: en-GB
    timezone_id: Europe/London
    device_scale_factor: 2.0
    geolocation:
      latitude: 51.5
      longitude: -0.12
  throttle:
    min_rate: 0.5
    max_concurrent: 8
news_url_collector:
  rss_urls:
    - https://feeds.example.com/markets.xml
    - https://feeds.example.com/stocks.xml
  detect_url: https://www.example.com/stocks
  min_interval: 300
  max_interval: 450
news_crawler:
  ollama_endpoint: http://ollama:11434
  model: llama3
  prompt_file: prompts.yaml
  batch_size: 20
  retry_limit: 5
adaptive_manager:
  min_delay: 0.5
  max_delay: 8.0
  adjust_threshold_slow: 3.0
  adjust_threshold_fast: 0.25
  random_jitter: 0.1
data_saver:
  base_filename: out/articles
  batch_size: 200
  format: csv
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.QueueSize != 25 {
		t.Fatalf("expected queue_size 25, got %d", cfg.QueueSize)
	}
	if cfg.BrowserService.Fingerprint.BrowserType != "firefox" || !cfg.BrowserService.Fingerprint.Randomize {
		t.Fatalf("expected fingerprint overrides to apply: %+v", cfg.BrowserService.Fingerprint)
	}
	if cfg.BrowserService.Fingerprint.Geolocation.Latitude != 51.5 {
		t.Fatalf("expected geolocation latitude 51.5, got %g", cfg.BrowserService.Fingerprint.Geolocation.Latitude)
	}
	if cfg.BrowserService.Throttle.MinRate != 0.5 || cfg.BrowserService.Throttle.MaxConcurrent != 8 {
		t.Fatalf("expected throttle overrides: %+v", cfg.BrowserService.Throttle)
	}
	if len(cfg.Collector.RSSURLs) != 2 || cfg.Collector.DetectURL != "https://www.example.com/stocks" {
		t.Fatalf("expected collector overrides: %+v", cfg.Collector)
	}
	if got := cfg.Collector.MinIntervalDuration(); got != 300*time.Second {
		t.Fatalf("expected min interval 300s, got %v", got)
	}
	if cfg.Crawler.RetryLimit != 5 || cfg.Crawler.Model != "llama3" {
		t.Fatalf("expected crawler overrides: %+v", cfg.Crawler)
	}
	if got := cfg.Adaptive.MaxDelayDuration(); got != 8*time.Second {
		t.Fatalf("expected max delay 8s, got %v", got)
	}
	if cfg.DataSaver.Format != "csv" || cfg.DataSaver.BatchSize != 200 {
		t.Fatalf("expected data_saver overrides: %+v", cfg.DataSaver)
	}
	if cfg.Logging.Development {
		t.Fatal("expected development logging disabled")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.QueueSize != 10 {
		t.Fatalf("expected default queue_size 10, got %d", cfg.QueueSize)
	}
	if cfg.BrowserService.Throttle.MaxConcurrent != 5 {
		t.Fatalf("expected default max_concurrent 5, got %d", cfg.BrowserService.Throttle.MaxConcurrent)
	}
	if got := cfg.Adaptive.MinDelayDuration(); got != time.Second {
		t.Fatalf("expected default min delay 1s, got %v", got)
	}
	if got := cfg.Adaptive.FastThresholdDuration(); got != 500*time.Millisecond {
		t.Fatalf("expected default fast threshold 500ms, got %v", got)
	}
	if cfg.Adaptive.GrowthFactor != 1.5 || cfg.Adaptive.ShrinkFactor != 0.8 {
		t.Fatalf("expected default adjustment factors: %+v", cfg.Adaptive)
	}
	if cfg.DataSaver.Format != "parquet" {
		t.Fatalf("expected default format parquet, got %q", cfg.DataSaver.Format)
	}
}

func TestValidateAcceptsUnsetCrawlerBatchSize(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg.Crawler.BatchSize = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}
}

func TestValidateRequiresOutputDirWithInputDir(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg.Collector.InputDir = "input_data"
	cfg.Collector.OutputDir = ""
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "output_dir") {
		t.Fatalf("expected error containing %q, got %v", "output_dir", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"zero queue", func(c *Config) { c.QueueSize = 0 }, "queue_size"},
		{"bad viewport", func(c *Config) { c.BrowserService.Fingerprint.ScreenWidth = 0 }, "fingerprint"},
		{"zero rate", func(c *Config) { c.BrowserService.Throttle.MinRate = 0 }, "min_rate"},
		{"inverted interval", func(c *Config) { c.Collector.MaxInterval = c.Collector.MinInterval - 1 }, "interval"},
		{"inverted delay", func(c *Config) { c.Adaptive.MaxDelay = c.Adaptive.MinDelay / 2 }, "delay bounds"},
		{"jitter out of range", func(c *Config) { c.Adaptive.RandomJitter = 1.5 }, "random_jitter"},
		{"growth below one", func(c *Config) { c.Adaptive.GrowthFactor = 0.9 }, "growth_factor"},
		{"unknown format", func(c *Config) { c.DataSaver.Format = "xlsx" }, "format"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tc.mutate(&cfg)
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("expected error containing %q, got %v", tc.wantSub, err)
			}
		})
	}
}
