package collector

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/quantfeed/newswire/internal/newswire"
)

// DetectSource watches a single listing page (a portal front page or a
// "latest news" index) and reports links whose anchor text was not present
// on the previous visit. The first visit only primes the snapshot.
type DetectSource struct {
	id      string
	pageURL string
	fetcher newswire.Fetcher

	// titles seen on the last visit, keyed by anchor text
	previous map[string]struct{}
}

// NewDetectSource builds a detect source. Fetches go through the supplied
// fetcher so they share the pipeline's throttle and fingerprints.
func NewDetectSource(id, pageURL string, fetcher newswire.Fetcher) *DetectSource {
	return &DetectSource{
		id:      id,
		pageURL: pageURL,
		fetcher: fetcher,
	}
}

// ID returns the source identifier.
func (s *DetectSource) ID() string { return s.id }

// Poll fetches the listing page and diffs anchor titles against the last
// snapshot. Only anchors with a new title become discoveries.
func (s *DetectSource) Poll(ctx context.Context) ([]newswire.Discovery, error) {
	res, err := s.fetcher.Fetch(ctx, s.pageURL)
	if err != nil {
		return nil, fmt.Errorf("fetch detect page %s: %w", s.pageURL, err)
	}
	if !res.OK() {
		return nil, fmt.Errorf("detect page %s returned status %d", s.pageURL, res.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return nil, fmt.Errorf("parse detect page %s: %w", s.pageURL, err)
	}

	base, err := url.Parse(res.FinalURL)
	if err != nil {
		base, _ = url.Parse(s.pageURL)
	}

	current := make(map[string]struct{})
	var found []newswire.Discovery
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		title := strings.TrimSpace(sel.Text())
		if title == "" {
			return
		}
		href, _ := sel.Attr("href")
		link := resolveLink(base, href)
		if link == "" {
			return
		}
		current[title] = struct{}{}
		if s.previous == nil {
			return // first visit primes the snapshot
		}
		if _, known := s.previous[title]; known {
			return
		}
		found = append(found, newswire.Discovery{
			URL:      link,
			SourceID: s.id,
			Title:    title,
		})
	})

	s.previous = current
	return found, nil
}

// resolveLink makes href absolute against the page URL and filters out
// non-HTTP targets.
func resolveLink(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	var abs *url.URL
	if base != nil {
		abs = base.ResolveReference(ref)
	} else {
		abs = ref
	}
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	return abs.String()
}
