package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

	// braveMinInterval is the spacing between API calls; the free tier
	// rejects bursts.
	braveMinInterval = 50 * time.Millisecond

	// braveCacheTTL keeps recent query results so scoring several
	// candidates about the same story costs one API call.
	braveCacheTTL = 15 * time.Minute
)

// BraveProvider implements Provider using the Brave Search API.
type BraveProvider struct {
	apiKey   string
	client   *http.Client
	endpoint string

	mu       sync.Mutex
	lastCall time.Time
	cache    map[string]braveCacheEntry
}

type braveCacheEntry struct {
	results []Result
	expires time.Time
}

// NewBraveProvider creates a new Brave search provider
func NewBraveProvider(apiKey string) *BraveProvider {
	return &BraveProvider{
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 15 * time.Second},
		endpoint: braveEndpoint,
		cache:    make(map[string]braveCacheEntry),
	}
}

// SetEndpoint overrides the API endpoint, mainly for tests.
func (b *BraveProvider) SetEndpoint(endpoint string) {
	b.endpoint = endpoint
}

// GetName returns the name of this provider
func (b *BraveProvider) GetName() string {
	return "Brave"
}

// SetBaseClient overrides the HTTP client, mainly for tests.
func (b *BraveProvider) SetBaseClient(client *http.Client) {
	b.client = client
}

// braveResponse mirrors the slice of the API response we consume.
type braveResponse struct {
	Web struct {
		Results []braveResult `json:"results"`
	} `json:"web"`
	Videos struct {
		Results []braveResult `json:"results"`
	} `json:"videos"`
}

type braveResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	PageAge     string `json:"page_age"`
	MetaURL     struct {
		Hostname string `json:"hostname"`
	} `json:"meta_url"`
}

// Search queries the Brave API, honoring the inter-call rate limit and
// the short-lived per-query cache.
func (b *BraveProvider) Search(ctx context.Context, query string, config Config) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrNoResults
	}

	if cached, ok := b.cached(query); ok {
		return limit(cached, config.MaxResults), nil
	}

	b.throttle()

	params := url.Values{}
	params.Set("q", query)
	params.Set("freshness", "pd") // past day; trend scoring cares about now
	count := config.MaxResults
	if count <= 0 || count > 20 {
		count = 10
	}
	params.Set("count", strconv.Itoa(count))
	if config.Language != "" {
		params.Set("search_lang", config.Language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave search: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	default:
		return nil, fmt.Errorf("brave search returned status %d: %w", resp.StatusCode, ErrProviderUnavailable)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var parsed braveResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	results := make([]Result, 0, len(parsed.Web.Results)+len(parsed.Videos.Results))
	for i, r := range parsed.Web.Results {
		results = append(results, toResult(r, i+1, false))
	}
	for i, r := range parsed.Videos.Results {
		results = append(results, toResult(r, len(parsed.Web.Results)+i+1, true))
	}
	if len(results) == 0 {
		return nil, ErrNoResults
	}

	b.store(query, results)
	return limit(results, config.MaxResults), nil
}

func toResult(r braveResult, rank int, video bool) Result {
	res := Result{
		URL:     r.URL,
		Title:   r.Title,
		Snippet: r.Description,
		Domain:  r.MetaURL.Hostname,
		IsVideo: video,
		Source:  "Brave",
		Rank:    rank,
	}
	if r.PageAge != "" {
		if t, err := time.Parse(time.RFC3339, r.PageAge); err == nil {
			res.PublishedAt = t
		}
	}
	if res.Domain == "" {
		if u, err := url.Parse(r.URL); err == nil {
			res.Domain = u.Hostname()
		}
	}
	return res
}

func (b *BraveProvider) cached(query string) ([]Result, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.cache[strings.ToLower(query)]
	if !ok || time.Now().After(entry.expires) {
		return nil, false
	}
	return entry.results, true
}

func (b *BraveProvider) store(query string, results []Result) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache[strings.ToLower(query)] = braveCacheEntry{
		results: results,
		expires: time.Now().Add(braveCacheTTL),
	}
}

func (b *BraveProvider) throttle() {
	b.mu.Lock()
	wait := braveMinInterval - time.Since(b.lastCall)
	b.lastCall = time.Now().Add(wait)
	b.mu.Unlock()
	if wait > 0 {
		time.Sleep(wait)
	}
}

func limit(results []Result, max int) []Result {
	if max > 0 && len(results) > max {
		return results[:max]
	}
	return results
}
