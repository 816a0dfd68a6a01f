package collector

import (
	"net/url"
	"strings"
	"sync"
)

// SeenSet tracks URLs already handed to the crawl queue so repeated poll
// cycles never enqueue the same article twice. Entries live for the process
// lifetime.
type SeenSet struct {
	mu   sync.Mutex
	urls map[string]struct{}
}

// NewSeenSet returns an empty set.
func NewSeenSet() *SeenSet {
	return &SeenSet{urls: make(map[string]struct{})}
}

// MarkIfNew records the URL and reports whether it was unseen. URLs are
// normalized first so trivially different spellings of the same address
// collapse to one entry.
func (s *SeenSet) MarkIfNew(rawURL string) bool {
	key := Normalize(rawURL)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.urls[key]; ok {
		return false
	}
	s.urls[key] = struct{}{}
	return true
}

// Len reports how many distinct URLs have been seen.
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.urls)
}

// Normalize lowercases the scheme and host, strips the fragment, and trims
// a trailing slash from the path. Unparseable input is returned as-is so it
// still dedupes on exact match.
func Normalize(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}
