// Package collector discovers candidate article URLs from RSS feeds and a
// headline detect page, and schedules them onto the crawl queue.
package collector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/quantfeed/newswire/internal/newswire"
)

// freshnessWindow bounds how old a feed item may be and still count as a
// new headline. Feeds republish their whole history on every poll; only
// recent items are worth crawling.
const freshnessWindow = 10 * time.Minute

// RSSSource polls a single RSS or Atom feed for recently published items.
type RSSSource struct {
	id      string
	feedURL string
	parser  *gofeed.Parser
	clock   newswire.Clock
}

// NewRSSSource builds a source for one feed URL. The id shows up in logs
// and on task provenance.
func NewRSSSource(id, feedURL string, clock newswire.Clock) *RSSSource {
	return &RSSSource{
		id:      id,
		feedURL: feedURL,
		parser:  gofeed.NewParser(),
		clock:   clock,
	}
}

// ID returns the source identifier.
func (s *RSSSource) ID() string { return s.id }

// Poll fetches and parses the feed, returning items published within the
// freshness window. Items without a usable link or timestamp are skipped.
func (s *RSSSource) Poll(ctx context.Context) ([]newswire.Discovery, error) {
	feed, err := s.parser.ParseURLWithContext(s.feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", s.feedURL, err)
	}

	cutoff := s.clock.Now().Add(-freshnessWindow)
	found := make([]newswire.Discovery, 0, len(feed.Items))
	for _, item := range feed.Items {
		link := itemLink(item)
		if link == "" {
			continue
		}
		if item.PublishedParsed == nil || item.PublishedParsed.Before(cutoff) {
			continue
		}
		found = append(found, newswire.Discovery{
			URL:      link,
			SourceID: s.id,
			Title:    item.Title,
		})
	}
	return found, nil
}

// itemLink returns the best available URL from a feed entry, preferring the
// explicit link and falling back to a GUID that looks like one.
func itemLink(item *gofeed.Item) string {
	if item.Link != "" {
		return item.Link
	}
	if strings.HasPrefix(item.GUID, "http") {
		return item.GUID
	}
	return ""
}
