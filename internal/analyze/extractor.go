package analyze

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/quantfeed/newswire/internal/newswire"
)

// SelectorExtractor is a small selector-based implementation of
// newswire.Extractor. It prefers semantic markup and falls back to
// paragraph text; sites needing site-specific parsing plug in their own
// Extractor.
type SelectorExtractor struct{}

// NewSelectorExtractor returns the default extractor.
func NewSelectorExtractor() *SelectorExtractor {
	return &SelectorExtractor{}
}

// Extract pulls title, publish date and body text out of a rendered page.
func (e *SelectorExtractor) Extract(pageURL string, body []byte) (newswire.Article, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return newswire.Article{}, fmt.Errorf("parse article %s: %w", pageURL, err)
	}

	article := newswire.Article{
		Title:       extractTitle(doc),
		PublishDate: extractPublishDate(doc),
		Content:     extractContent(doc),
		Source:      hostOf(pageURL),
	}
	if article.Content == "" {
		return newswire.Article{}, fmt.Errorf("no article text found at %s", pageURL)
	}
	return article, nil
}

func extractTitle(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && og != "" {
		return strings.TrimSpace(og)
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func extractPublishDate(doc *goquery.Document) string {
	if meta, ok := doc.Find(`meta[property="article:published_time"]`).Attr("content"); ok {
		return strings.TrimSpace(meta)
	}
	if dt, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		return strings.TrimSpace(dt)
	}
	return ""
}

func extractContent(doc *goquery.Document) string {
	// Prefer the semantic article element, then common content containers.
	for _, sel := range []string{"article", `div[itemprop="articleBody"]`, "main"} {
		if text := paragraphText(doc.Find(sel).First()); text != "" {
			return text
		}
	}
	return paragraphText(doc.Selection)
}

func paragraphText(sel *goquery.Selection) string {
	var parts []string
	sel.Find("p").Each(func(_ int, p *goquery.Selection) {
		if text := strings.TrimSpace(p.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n")
}

func hostOf(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	return u.Host
}
