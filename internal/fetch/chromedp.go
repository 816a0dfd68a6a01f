// Package fetch renders pages with headless Chrome, presenting a fresh
// browser fingerprint for every session.
package fetch

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/quantfeed/newswire/internal/fingerprint"
	"github.com/quantfeed/newswire/internal/metrics"
	"github.com/quantfeed/newswire/internal/newswire"
)

// Config controls the headless fetcher.
type Config struct {
	BaseProfile       fingerprint.Profile
	Randomize         bool
	NavigationTimeout time.Duration
}

// Fetcher implements newswire.Fetcher using chromedp. Each Fetch opens a
// fresh browser context with its own fingerprint, so cookies and cache never
// leak between sessions.
type Fetcher struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewChromedp creates a headless fetcher backed by chromedp.
func NewChromedp(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if err := cfg.BaseProfile.Validate(); err != nil {
		return nil, fmt.Errorf("base fingerprint: %w", err)
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Close cancels the allocator context, tearing down the browser.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch navigates with a headless browser under a session-specific
// fingerprint and returns the fully rendered DOM.
func (f *Fetcher) Fetch(ctx context.Context, url string) (newswire.FetchResult, error) {
	profile := f.nextProfile()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavigationTimeout)
	defer cancel()

	// Surface the caller's cancellation to the browser context.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := f.runHeadless(taskCtx, url, profile, f.nextDwellPlan())
	latency := time.Since(start)
	if err != nil {
		metrics.IncPagesFetched("error")
		if ctx.Err() != nil {
			return newswire.FetchResult{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
		}
		return newswire.FetchResult{}, err
	}

	status, responseURL := meta.snapshotWithFallbacks(url, finalURL)
	result := newswire.FetchResult{
		URL:        url,
		FinalURL:   responseURL,
		StatusCode: status,
		Body:       []byte(html),
		Latency:    latency,
	}
	result.Blocked = blockedPage(status, html)

	outcome := "ok"
	if !result.OK() {
		outcome = "blocked"
	}
	metrics.IncPagesFetched(outcome)
	f.logger.Debug("fetched page",
		zap.String("url", url),
		zap.Int("status", status),
		zap.Duration("latency", latency),
		zap.Bool("blocked", result.Blocked),
		zap.String("user_agent", profile.UserAgent),
	)
	return result, nil
}

// nextProfile draws the fingerprint for one session.
func (f *Fetcher) nextProfile() fingerprint.Profile {
	f.rngMu.Lock()
	defer f.rngMu.Unlock()
	return fingerprint.Generate(f.cfg.BaseProfile, f.cfg.Randomize, f.rng)
}

func (f *Fetcher) nextDwellPlan() []dwellStep {
	f.rngMu.Lock()
	defer f.rngMu.Unlock()
	return dwellPlan(f.rng)
}

func (f *Fetcher) runHeadless(ctx context.Context, url string, profile fingerprint.Profile, dwell []dwellStep) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		emulationSetupAction(profile),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	for _, step := range dwell {
		actions = append(actions,
			chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", step.scrollPx), nil),
			chromedp.Sleep(step.pause),
		)
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

// dwellStep is one scroll-and-pause beat of the on-page dwell.
type dwellStep struct {
	scrollPx int
	pause    time.Duration
}

// Dwell plan bounds.
const (
	minDwellSteps = 2
	maxDwellSteps = 4
	minScrollPx   = 200
	maxScrollPx   = 900
	minStepPause  = 300 * time.Millisecond
	maxStepPause  = 1200 * time.Millisecond
)

// dwellPlan mimics a reader skimming the page: a few short scrolls with
// irregular pauses between navigation and extraction.
func dwellPlan(rng *rand.Rand) []dwellStep {
	steps := make([]dwellStep, minDwellSteps+rng.Intn(maxDwellSteps-minDwellSteps+1))
	for i := range steps {
		steps[i] = dwellStep{
			scrollPx: minScrollPx + rng.Intn(maxScrollPx-minScrollPx+1),
			pause:    minStepPause + time.Duration(rng.Int63n(int64(maxStepPause-minStepPause)+1)),
		}
	}
	return steps
}

// emulationSetupAction applies the fingerprint to the browser context before
// navigation.
func emulationSetupAction(profile fingerprint.Profile) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		ua := emulation.SetUserAgentOverride(profile.UserAgent)
		if profile.Locale != "" {
			ua = ua.WithAcceptLanguage(profile.Locale)
		}
		if err := ua.Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		err := emulation.SetDeviceMetricsOverride(
			int64(profile.ScreenWidth),
			int64(profile.ScreenHeight),
			profile.DeviceScaleFactor,
			false,
		).Do(ctx)
		if err != nil {
			return fmt.Errorf("set device metrics: %w", err)
		}
		if profile.TimezoneID != "" {
			if err := emulation.SetTimezoneOverride(profile.TimezoneID).Do(ctx); err != nil {
				return fmt.Errorf("set timezone: %w", err)
			}
		}
		if profile.Geolocation != (fingerprint.Geolocation{}) {
			err := emulation.SetGeolocationOverride().
				WithLatitude(profile.Geolocation.Latitude).
				WithLongitude(profile.Geolocation.Longitude).
				WithAccuracy(100).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("set geolocation: %w", err)
			}
		}
		return nil
	})
}

// blockSignatures are lowercase page fragments that mark an anti-bot
// interstitial even when the site answers 200.
var blockSignatures = []string{
	"captcha",
	"cf-browser-verification",
	"just a moment...",
	"access denied",
	"are you a robot",
}

// blockedPage reports whether the response looks like an anti-bot block
// rather than an article.
func blockedPage(status int, html string) bool {
	if status == 403 || status == 429 {
		return true
	}
	lowered := strings.ToLower(html)
	for _, sig := range blockSignatures {
		if strings.Contains(lowered, sig) {
			return true
		}
	}
	return false
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok {
		return
	}
	if resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.url = resp.Response.URL
	m.mu.Unlock()
}

// snapshotWithFallbacks returns the captured metadata, defaulting the URL to
// the navigation target and the status to 200 when no document event fired.
func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()

	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = 200
	}
	return status, url
}
