package feeds

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"autopress/internal/config"
	"autopress/internal/core"
)

const rssTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>Test Feed</title>
%s
</channel>
</rss>`

func rssItem(title, link string, published time.Time) string {
	return fmt.Sprintf(`<item><title>%s</title><link>%s</link><description>desc</description><pubDate>%s</pubDate></item>`,
		title, link, published.Format(time.RFC1123Z))
}

func TestFetchCandidatesToleratesFailedFeeds(t *testing.T) {
	now := time.Now().UTC()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, rssTemplate, rssItem("Working feed headline", "https://example.com/1", now))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	f := NewFetcher(config.Feeds{
		Sources: []config.FeedSource{
			{Name: "good", URL: good.URL},
			{Name: "bad", URL: bad.URL},
		},
	})

	candidates, err := f.FetchCandidates(context.Background())
	if err != nil {
		t.Fatalf("FetchCandidates returned error: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("Expected 1 candidate, got %d", len(candidates))
	}
	if candidates[0].Source != "good" {
		t.Errorf("Expected source good, got %q", candidates[0].Source)
	}
}

func TestFetchCandidatesAllFeedsFailing(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	f := NewFetcher(config.Feeds{
		Sources: []config.FeedSource{{Name: "only", URL: bad.URL}},
	})

	if _, err := f.FetchCandidates(context.Background()); err == nil {
		t.Error("Expected error when every feed fails")
	}
}

func TestFetchFeedRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, rssTemplate, rssItem("Recovered", "https://example.com/r", time.Now().UTC()))
	}))
	defer srv.Close()

	f := NewFetcher(config.Feeds{
		Sources: []config.FeedSource{{Name: "flaky", URL: srv.URL}},
	})

	candidates, err := f.FetchCandidates(context.Background())
	if err != nil {
		t.Fatalf("FetchCandidates returned error: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("Expected 1 candidate after retry, got %d", len(candidates))
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("Expected 2 requests, got %d", got)
	}
}

type fakeCache struct {
	data map[string][]byte
	sets int
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool) {
	v, ok := c.data[key]
	return v, ok
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration, _ ...string) {
	if c.data == nil {
		c.data = make(map[string][]byte)
	}
	c.data[key] = value
	c.sets++
}

func TestFetchCandidatesUsesCache(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprintf(w, rssTemplate, rssItem("Cached headline", "https://example.com/c", time.Now().UTC()))
	}))
	defer srv.Close()

	cache := &fakeCache{}
	f := NewFetcher(config.Feeds{
		Sources: []config.FeedSource{{Name: "cached", URL: srv.URL}},
	}, WithCache(cache))

	for i := 0; i < 2; i++ {
		candidates, err := f.FetchCandidates(context.Background())
		if err != nil {
			t.Fatalf("FetchCandidates returned error on pass %d: %v", i, err)
		}
		if len(candidates) != 1 {
			t.Fatalf("Expected 1 candidate on pass %d, got %d", i, len(candidates))
		}
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected the second pass served from cache (1 request), got %d", got)
	}
	if cache.sets != 1 {
		t.Errorf("Expected 1 cache write, got %d", cache.sets)
	}
}

func TestRemoveDuplicates(t *testing.T) {
	in := []core.Candidate{
		{Title: "Breaking: markets rally on central bank decision"},
		{Title: "breaking: markets rally on central bank decision"},
		{Title: "Markets rally on central bank decision"},
		{Title: "Completely unrelated story"},
	}
	out := removeDuplicates(in)
	if len(out) != 2 {
		t.Fatalf("Expected 2 unique candidates, got %d", len(out))
	}
}

func TestFilterRecentFallsBackWhenAllStale(t *testing.T) {
	f := NewFetcher(config.Feeds{Sources: []config.FeedSource{{Name: "x", URL: "http://unused"}}})
	stale := []core.Candidate{
		{Title: "Old one", PublishedAt: time.Now().UTC().Add(-96 * time.Hour)},
	}
	out := f.filterRecent(stale)
	if len(out) != 1 {
		t.Errorf("Expected stale batch to pass through unfiltered, got %d items", len(out))
	}

	mixed := append(stale, core.Candidate{Title: "Fresh", PublishedAt: time.Now().UTC()})
	out = f.filterRecent(mixed)
	if len(out) != 1 || out[0].Title != "Fresh" {
		t.Errorf("Expected only the fresh candidate, got %+v", out)
	}
}
