package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

const braveBody = `{
	"web": {"results": [
		{"title": "Result one", "url": "https://a.example.com/1", "description": "first", "page_age": "2026-08-29T10:00:00Z", "meta_url": {"hostname": "a.example.com"}},
		{"title": "Result two", "url": "https://b.example.com/2", "description": "second", "meta_url": {"hostname": "b.example.com"}}
	]},
	"videos": {"results": [
		{"title": "Clip", "url": "https://v.example.com/c", "description": "video", "meta_url": {"hostname": "v.example.com"}}
	]}
}`

func TestBraveProviderSearch(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Header.Get("X-Subscription-Token") != "test-key" {
			t.Errorf("Expected subscription token header, got %q", r.Header.Get("X-Subscription-Token"))
		}
		if r.URL.Query().Get("freshness") != "pd" {
			t.Errorf("Expected freshness=pd, got %q", r.URL.Query().Get("freshness"))
		}
		fmt.Fprint(w, braveBody)
	}))
	defer srv.Close()

	p := NewBraveProvider("test-key")
	p.SetEndpoint(srv.URL)

	results, err := p.Search(context.Background(), "markets rally", Config{MaxResults: 10})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	if !results[2].IsVideo {
		t.Error("Expected third result to be flagged as video")
	}
	if results[0].PublishedAt.IsZero() {
		t.Error("Expected page_age to be parsed into PublishedAt")
	}

	// Second identical query must come from the cache.
	if _, err := p.Search(context.Background(), "Markets Rally", Config{MaxResults: 2}); err != nil {
		t.Fatalf("cached Search returned error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected 1 API call, got %d", got)
	}
}

func TestBraveProviderRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewBraveProvider("test-key")
	p.SetEndpoint(srv.URL)

	if _, err := p.Search(context.Background(), "anything", Config{}); !errors.Is(err, ErrRateLimited) {
		t.Errorf("Expected ErrRateLimited, got %v", err)
	}
}

func TestFactory(t *testing.T) {
	f := NewProviderFactory()

	if _, err := f.CreateProvider(ProviderTypeBrave, map[string]string{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("Expected ErrMissingAPIKey, got %v", err)
	}

	p, err := f.CreateProvider(ProviderTypeBrave, map[string]string{"api_key": "k"})
	if err != nil {
		t.Fatalf("CreateProvider returned error: %v", err)
	}
	if p.GetName() != "Brave" {
		t.Errorf("Expected Brave provider, got %q", p.GetName())
	}

	if _, err := f.CreateProvider("bing", nil); !errors.Is(err, ErrUnsupportedProvider) {
		t.Errorf("Expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestMockProviderLimitsResults(t *testing.T) {
	m := NewMockProvider()
	results, err := m.Search(context.Background(), "q", Config{MaxResults: 2})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("Expected 2 results, got %d", len(results))
	}
}
