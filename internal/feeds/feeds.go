package feeds

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"autopress/internal/config"
	"autopress/internal/core"
	"autopress/internal/logger"

	"github.com/mmcdole/gofeed"
)

const (
	defaultTimeout     = 20 * time.Second
	defaultConcurrency = 5
	defaultMaxPerFeed  = 10
	fetchRetries       = 2

	// feedCacheTTL is short: a retried or manually re-fired run within
	// a few minutes reuses the bodies, a scheduled run hours later
	// never does.
	feedCacheTTL = 10 * time.Minute
)

// Cache stores raw feed bodies between closely spaced runs. Satisfied
// by the cache manager; nil disables caching.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string)
}

// Fetcher discovers candidate headlines from the configured feeds.
type Fetcher struct {
	sources       []config.FeedSource
	client        *http.Client
	userAgent     string
	concurrency   int
	maxPerFeed    int
	recencyWindow time.Duration
	cache         Cache
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient overrides the HTTP client, mainly for tests.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithCache enables feed body caching.
func WithCache(c Cache) Option {
	return func(f *Fetcher) { f.cache = c }
}

// NewFetcher creates a fetcher over the given sources. Zero values fall
// back to package defaults; an empty source list falls back to the
// built-in defaults.
func NewFetcher(cfg config.Feeds, opts ...Option) *Fetcher {
	sources := cfg.Sources
	if len(sources) == 0 {
		sources = config.DefaultFeedSources()
	}

	timeout := defaultTimeout
	if d, err := time.ParseDuration(cfg.Timeout); err == nil && d > 0 {
		timeout = d
	}
	window := dedupRecencyWindow
	if d, err := time.ParseDuration(cfg.RecencyWindow); err == nil && d > 0 {
		window = d
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	maxPerFeed := cfg.MaxItemsPerFeed
	if maxPerFeed <= 0 {
		maxPerFeed = defaultMaxPerFeed
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "Autopress/1.0"
	}

	f := &Fetcher{
		sources:       sources,
		client:        &http.Client{Timeout: timeout},
		userAgent:     userAgent,
		concurrency:   concurrency,
		maxPerFeed:    maxPerFeed,
		recencyWindow: window,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// dedupRecencyWindow matches the archive comparison window so the
// in-batch filter and the duplicate detector see the same horizon.
const dedupRecencyWindow = 48 * time.Hour

// FetchCandidates pulls all configured feeds concurrently and returns
// the merged candidate list. Individual feed failures are logged and
// tolerated; the batch fails only when every feed fails.
func (f *Fetcher) FetchCandidates(ctx context.Context) ([]core.Candidate, error) {
	type feedResult struct {
		source     config.FeedSource
		candidates []core.Candidate
		err        error
	}

	sem := make(chan struct{}, f.concurrency)
	results := make(chan feedResult, len(f.sources))
	var wg sync.WaitGroup

	for _, src := range f.sources {
		wg.Add(1)
		go func(src config.FeedSource) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			items, err := f.fetchFeed(ctx, src)
			results <- feedResult{source: src, candidates: items, err: err}
		}(src)
	}
	wg.Wait()
	close(results)

	var merged []core.Candidate
	failures := 0
	for res := range results {
		if res.err != nil {
			failures++
			logger.Warn("feed fetch failed", "feed", res.source.Name, "error", res.err.Error())
			continue
		}
		merged = append(merged, res.candidates...)
	}
	if failures == len(f.sources) {
		return nil, fmt.Errorf("all %d feeds failed", len(f.sources))
	}

	merged = removeDuplicates(merged)
	merged = f.filterRecent(merged)

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].PublishedAt.After(merged[j].PublishedAt)
	})

	logger.Info("candidates discovered", "count", len(merged), "failed_feeds", failures)
	return merged, nil
}

// fetchFeed pulls one feed with retries and exponential backoff.
func (f *Fetcher) fetchFeed(ctx context.Context, src config.FeedSource) ([]core.Candidate, error) {
	var lastErr error
	for attempt := 0; attempt <= fetchRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		items, err := f.fetchOnce(ctx, src)
		if err == nil {
			return items, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("fetching %s after %d attempts: %w", src.URL, fetchRetries+1, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, src config.FeedSource) ([]core.Candidate, error) {
	cacheKey := "feed:" + src.URL
	if f.cache != nil {
		if body, ok := f.cache.Get(ctx, cacheKey); ok {
			logger.Debug("feed served from cache", "feed", src.Name)
			return f.parseBody(src, body)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading feed body: %w", err)
	}

	candidates, err := f.parseBody(src, body)
	if err != nil {
		return nil, err
	}
	if f.cache != nil {
		f.cache.Set(ctx, cacheKey, body, feedCacheTTL, "feeds")
	}
	return candidates, nil
}

func (f *Fetcher) parseBody(src config.FeedSource, body []byte) ([]core.Candidate, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}

	candidates := make([]core.Candidate, 0, f.maxPerFeed)
	for _, item := range parsed.Items {
		if len(candidates) >= f.maxPerFeed {
			break
		}
		if item.Title == "" || item.Link == "" {
			continue
		}
		published := time.Now().UTC()
		if item.PublishedParsed != nil {
			published = item.PublishedParsed.UTC()
		} else if item.UpdatedParsed != nil {
			published = item.UpdatedParsed.UTC()
		}
		candidates = append(candidates, core.Candidate{
			Title:       strings.TrimSpace(item.Title),
			Link:        strings.TrimSpace(item.Link),
			Description: strings.TrimSpace(item.Description),
			Source:      src.Name,
			PublishedAt: published,
		})
	}
	return candidates, nil
}

// removeDuplicates drops in-batch repeats: exact title matches and
// titles fully contained in an earlier one, as syndicated wires often
// republish the same headline with a suffix.
func removeDuplicates(candidates []core.Candidate) []core.Candidate {
	var out []core.Candidate
	for _, c := range candidates {
		title := strings.ToLower(strings.TrimSpace(c.Title))
		dup := false
		for _, kept := range out {
			keptTitle := strings.ToLower(strings.TrimSpace(kept.Title))
			if title == keptTitle ||
				(len(title) > 20 && strings.Contains(keptTitle, title)) ||
				(len(keptTitle) > 20 && strings.Contains(title, keptTitle)) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, c)
		}
	}
	return out
}

// filterRecent keeps candidates published within the recency window.
// When every candidate is stale (some feeds omit dates entirely) the
// unfiltered batch is returned rather than an empty one.
func (f *Fetcher) filterRecent(candidates []core.Candidate) []core.Candidate {
	cutoff := time.Now().UTC().Add(-f.recencyWindow)
	var recent []core.Candidate
	for _, c := range candidates {
		if c.PublishedAt.After(cutoff) {
			recent = append(recent, c)
		}
	}
	if len(recent) == 0 {
		return candidates
	}
	return recent
}
