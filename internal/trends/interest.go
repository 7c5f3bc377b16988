package trends

import (
	"context"
	"strings"
	"sync"
	"time"

	"autopress/internal/logger"

	"github.com/mmcdole/gofeed"
)

const interestRefresh = 15 * time.Minute

// interest scores per reported traffic band.
const (
	interestViral  = 100.0 // millions of searches
	interestStrong = 80.0  // 500K+
	interestSolid  = 60.0  // 100K+
	interestBase   = 40.0  // on the list at all
)

// trendingEntry is one topic from the trending-searches feed.
type trendingEntry struct {
	title   string
	traffic string
}

// InterestFeed scores headlines against a trending-searches RSS feed
// (Google Trends publishes one per region). The feed is refetched at
// most every 15 minutes; fetch failures degrade to a zero signal.
type InterestFeed struct {
	url    string
	parser *gofeed.Parser

	mu        sync.Mutex
	entries   []trendingEntry
	fetchedAt time.Time
}

// NewInterestFeed creates an interest source over the given feed URL.
func NewInterestFeed(url string) *InterestFeed {
	return &InterestFeed{url: url, parser: gofeed.NewParser()}
}

// Score returns the public-interest score for a headline: the traffic
// band of the best-matching trending topic, or zero when nothing on
// the list relates to it.
func (f *InterestFeed) Score(ctx context.Context, title string) float64 {
	entries := f.current(ctx)
	titleLower := strings.ToLower(title)

	for _, entry := range entries {
		if !matchesTopic(titleLower, entry.title) {
			continue
		}
		return trafficScore(entry.traffic)
	}
	return 0
}

func (f *InterestFeed) current(ctx context.Context) []trendingEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	if time.Since(f.fetchedAt) < interestRefresh && f.entries != nil {
		return f.entries
	}

	feed, err := f.parser.ParseURLWithContext(f.url, ctx)
	if err != nil {
		logger.Warn("trending feed fetch failed", "url", f.url, "error", err.Error())
		f.fetchedAt = time.Now() // back off until the next refresh window
		return f.entries
	}

	entries := make([]trendingEntry, 0, len(feed.Items))
	for _, item := range feed.Items {
		entries = append(entries, trendingEntry{
			title:   strings.ToLower(strings.TrimSpace(item.Title)),
			traffic: extractTraffic(item),
		})
	}
	f.entries = entries
	f.fetchedAt = time.Now()
	return f.entries
}

// extractTraffic pulls the ht:approx_traffic extension Google Trends
// attaches to each item.
func extractTraffic(item *gofeed.Item) string {
	ht, ok := item.Extensions["ht"]
	if !ok {
		return ""
	}
	for _, ext := range ht["approx_traffic"] {
		if ext.Value != "" {
			return ext.Value
		}
	}
	return ""
}

// matchesTopic reports whether a headline covers a trending topic:
// either direct containment or every significant topic word appearing
// in the headline.
func matchesTopic(titleLower, topicLower string) bool {
	if topicLower == "" {
		return false
	}
	if strings.Contains(titleLower, topicLower) {
		return true
	}
	words := significantWords(topicLower)
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		if !strings.Contains(titleLower, w) {
			return false
		}
	}
	return true
}

// trafficScore maps the reported search volume onto the interest bands.
func trafficScore(traffic string) float64 {
	t := strings.ToUpper(strings.TrimSpace(traffic))
	if t == "" {
		return interestBase
	}
	switch {
	case strings.Contains(t, "M+"):
		return interestViral
	case parseThousands(t) >= 500:
		return interestStrong
	case parseThousands(t) >= 100:
		return interestSolid
	default:
		return interestBase
	}
}

// parseThousands reads strings like "500K+" or "200,000+" into a count
// of thousands.
func parseThousands(t string) int {
	t = strings.TrimSuffix(t, "+")
	t = strings.ReplaceAll(t, ",", "")
	if strings.HasSuffix(t, "K") {
		n := 0
		for _, r := range strings.TrimSuffix(t, "K") {
			if r < '0' || r > '9' {
				return 0
			}
			n = n*10 + int(r-'0')
		}
		return n
	}
	n := 0
	for _, r := range t {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n / 1000
}
