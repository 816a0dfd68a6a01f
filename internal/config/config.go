// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/quantfeed/newswire/internal/fingerprint"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	QueueSize      int                  `mapstructure:"queue_size"`
	BrowserService BrowserServiceConfig `mapstructure:"browser_service"`
	Collector      CollectorConfig      `mapstructure:"news_url_collector"`
	Crawler        CrawlerConfig        `mapstructure:"news_crawler"`
	Adaptive       AdaptiveConfig       `mapstructure:"adaptive_manager"`
	DataSaver      DataSaverConfig      `mapstructure:"data_saver"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
}

// BrowserServiceConfig groups the browser identity and throttle settings.
type BrowserServiceConfig struct {
	Fingerprint FingerprintConfig `mapstructure:"fingerprint"`
	Throttle    ThrottleConfig    `mapstructure:"throttle"`
}

// FingerprintConfig describes the base browser identity for fetch sessions.
type FingerprintConfig struct {
	BrowserType       string                  `mapstructure:"browser_type"`
	UserAgent         string                  `mapstructure:"user_agent"`
	Randomize         bool                    `mapstructure:"randomize"`
	ScreenWidth       int                     `mapstructure:"screen_width"`
	ScreenHeight      int                     `mapstructure:"screen_height"`
	Locale            string                  `mapstructure:"locale"`
	TimezoneID        string                  `mapstructure:"timezone_id"`
	DeviceScaleFactor float64                 `mapstructure:"device_scale_factor"`
	Geolocation       fingerprint.Geolocation `mapstructure:"geolocation"`
}

// Profile converts the config block into a fingerprint base profile.
func (c FingerprintConfig) Profile() fingerprint.Profile {
	return fingerprint.Profile{
		BrowserType:       c.BrowserType,
		UserAgent:         c.UserAgent,
		ScreenWidth:       c.ScreenWidth,
		ScreenHeight:      c.ScreenHeight,
		Locale:            c.Locale,
		TimezoneID:        c.TimezoneID,
		DeviceScaleFactor: c.DeviceScaleFactor,
		Geolocation:       c.Geolocation,
	}
}

// ThrottleConfig bounds outbound request rate and concurrency.
type ThrottleConfig struct {
	MinRate       float64 `mapstructure:"min_rate"`
	MaxConcurrent int     `mapstructure:"max_concurrent"`
}

// CollectorConfig governs the URL discovery pollers.
type CollectorConfig struct {
	InputDir    string   `mapstructure:"input_dir"`
	OutputDir   string   `mapstructure:"output_dir"`
	RSSURLs     []string `mapstructure:"rss_urls"`
	DetectURL   string   `mapstructure:"detect_url"`
	MinInterval int      `mapstructure:"min_interval"`
	MaxInterval int      `mapstructure:"max_interval"`
	MaxRuns     int      `mapstructure:"max_runs"`
}

// CrawlerConfig governs extraction workers and the language-model endpoint.
type CrawlerConfig struct {
	OllamaEndpoint string `mapstructure:"ollama_endpoint"`
	Model          string `mapstructure:"model"`
	PromptFile     string `mapstructure:"prompt_file"`
	// BatchSize is accepted from the legacy schema; output batching is
	// governed by data_saver.batch_size.
	BatchSize int `mapstructure:"batch_size"`
	RetryLimit     int    `mapstructure:"retry_limit"`
	MaxKeywords    int    `mapstructure:"max_keywords"`
	SummaryLength  int    `mapstructure:"summary_length"`
}

// AdaptiveConfig tunes the feedback-controlled fetch delay.
type AdaptiveConfig struct {
	MinDelay            float64 `mapstructure:"min_delay"`
	MaxDelay            float64 `mapstructure:"max_delay"`
	AdjustThresholdSlow float64 `mapstructure:"adjust_threshold_slow"`
	AdjustThresholdFast float64 `mapstructure:"adjust_threshold_fast"`
	RandomJitter        float64 `mapstructure:"random_jitter"`
	GrowthFactor        float64 `mapstructure:"growth_factor"`
	ShrinkFactor        float64 `mapstructure:"shrink_factor"`
}

// DataSaverConfig controls batched columnar output.
type DataSaverConfig struct {
	BaseFilename string `mapstructure:"base_filename"`
	BatchSize    int    `mapstructure:"batch_size"`
	Format       string `mapstructure:"format"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Port int `mapstructure:"port"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NEWSWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("queue_size", 10)

	v.SetDefault("browser_service.fingerprint.browser_type", "chromium")
	v.SetDefault("browser_service.fingerprint.randomize", false)
	v.SetDefault("browser_service.fingerprint.screen_width", 1280)
	v.SetDefault("browser_service.fingerprint.screen_height", 720)
	v.SetDefault("browser_service.fingerprint.locale", "en-US")
	v.SetDefault("browser_service.fingerprint.timezone_id", "UTC")
	v.SetDefault("browser_service.fingerprint.device_scale_factor", 1.0)
	v.SetDefault("browser_service.throttle.min_rate", 1.0)
	v.SetDefault("browser_service.throttle.max_concurrent", 5)

	v.SetDefault("news_url_collector.input_dir", "input_data")
	v.SetDefault("news_url_collector.output_dir", "processed_data")
	v.SetDefault("news_url_collector.rss_urls", []string{})
	v.SetDefault("news_url_collector.min_interval", 600)
	v.SetDefault("news_url_collector.max_interval", 900)

	v.SetDefault("news_crawler.ollama_endpoint", "http://localhost:11434")
	v.SetDefault("news_crawler.model", "qwen2.5:latest")
	v.SetDefault("news_crawler.prompt_file", "prompts.yaml")
	v.SetDefault("news_crawler.batch_size", 10)
	v.SetDefault("news_crawler.retry_limit", 3)
	v.SetDefault("news_crawler.max_keywords", 5)
	v.SetDefault("news_crawler.summary_length", 50)

	v.SetDefault("adaptive_manager.min_delay", 1.0)
	v.SetDefault("adaptive_manager.max_delay", 5.0)
	v.SetDefault("adaptive_manager.adjust_threshold_slow", 2.0)
	v.SetDefault("adaptive_manager.adjust_threshold_fast", 0.5)
	v.SetDefault("adaptive_manager.random_jitter", 0.2)
	v.SetDefault("adaptive_manager.growth_factor", 1.5)
	v.SetDefault("adaptive_manager.shrink_factor", 0.8)

	v.SetDefault("data_saver.base_filename", "processed_data/articles")
	v.SetDefault("data_saver.batch_size", 100)
	v.SetDefault("data_saver.format", "parquet")

	v.SetDefault("logging.development", true)
	v.SetDefault("metrics.port", 8080)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be > 0")
	}
	if err := c.BrowserService.Fingerprint.Profile().Validate(); err != nil {
		return fmt.Errorf("browser_service.fingerprint: %w", err)
	}
	if c.BrowserService.Throttle.MinRate <= 0 {
		return fmt.Errorf("browser_service.throttle.min_rate must be > 0")
	}
	if c.BrowserService.Throttle.MaxConcurrent <= 0 {
		return fmt.Errorf("browser_service.throttle.max_concurrent must be > 0")
	}
	if c.Collector.InputDir != "" && c.Collector.OutputDir == "" {
		return fmt.Errorf("news_url_collector.output_dir must be set when input_dir is set")
	}
	if c.Collector.MinInterval <= 0 || c.Collector.MaxInterval < c.Collector.MinInterval {
		return fmt.Errorf("news_url_collector interval bounds invalid: [%d, %d]",
			c.Collector.MinInterval, c.Collector.MaxInterval)
	}
	if c.Crawler.OllamaEndpoint == "" {
		return fmt.Errorf("news_crawler.ollama_endpoint must be set")
	}
	if c.Crawler.RetryLimit <= 0 {
		return fmt.Errorf("news_crawler.retry_limit must be > 0")
	}
	if c.Adaptive.MinDelay <= 0 || c.Adaptive.MaxDelay < c.Adaptive.MinDelay {
		return fmt.Errorf("adaptive_manager delay bounds invalid: [%g, %g]",
			c.Adaptive.MinDelay, c.Adaptive.MaxDelay)
	}
	if c.Adaptive.RandomJitter < 0 || c.Adaptive.RandomJitter >= 1 {
		return fmt.Errorf("adaptive_manager.random_jitter must be in [0, 1)")
	}
	if c.Adaptive.GrowthFactor <= 1 {
		return fmt.Errorf("adaptive_manager.growth_factor must be > 1")
	}
	if c.Adaptive.ShrinkFactor <= 0 || c.Adaptive.ShrinkFactor >= 1 {
		return fmt.Errorf("adaptive_manager.shrink_factor must be in (0, 1)")
	}
	switch strings.ToLower(c.DataSaver.Format) {
	case "parquet", "csv":
	default:
		return fmt.Errorf("data_saver.format must be parquet or csv, got %q", c.DataSaver.Format)
	}
	if c.DataSaver.BatchSize <= 0 {
		return fmt.Errorf("data_saver.batch_size must be > 0")
	}
	if c.Metrics.Port <= 0 {
		return fmt.Errorf("metrics.port must be > 0")
	}
	return nil
}

// MinDelayDuration returns the adaptive lower bound as a duration.
func (c AdaptiveConfig) MinDelayDuration() time.Duration {
	return secondsToDuration(c.MinDelay)
}

// MaxDelayDuration returns the adaptive upper bound as a duration.
func (c AdaptiveConfig) MaxDelayDuration() time.Duration {
	return secondsToDuration(c.MaxDelay)
}

// SlowThresholdDuration returns the slow-response latency threshold.
func (c AdaptiveConfig) SlowThresholdDuration() time.Duration {
	return secondsToDuration(c.AdjustThresholdSlow)
}

// FastThresholdDuration returns the fast-response latency threshold.
func (c AdaptiveConfig) FastThresholdDuration() time.Duration {
	return secondsToDuration(c.AdjustThresholdFast)
}

// MinIntervalDuration returns the lower polling interval bound.
func (c CollectorConfig) MinIntervalDuration() time.Duration {
	return time.Duration(c.MinInterval) * time.Second
}

// MaxIntervalDuration returns the upper polling interval bound.
func (c CollectorConfig) MaxIntervalDuration() time.Duration {
	return time.Duration(c.MaxInterval) * time.Second
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
