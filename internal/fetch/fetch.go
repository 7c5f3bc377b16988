package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"autopress/internal/logger"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

const (
	// maxContentLen caps extracted bodies; rewrites never need more.
	maxContentLen = 10000

	// minContentLen below which an extraction counts as failed.
	minContentLen = 200

	defaultTimeout = 30 * time.Second

	readerProxy = "https://r.jina.ai/"
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

// Fetcher retrieves full article bodies for selected candidates.
type Fetcher struct {
	client *http.Client
	proxy  string
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient overrides the HTTP client.
func WithClient(client *http.Client) Option {
	return func(f *Fetcher) { f.client = client }
}

// WithProxy overrides the reader proxy; empty disables it.
func WithProxy(proxy string) Option {
	return func(f *Fetcher) { f.proxy = proxy }
}

// NewFetcher creates a content fetcher with the default timeout.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{Timeout: defaultTimeout},
		proxy:  readerProxy,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchArticleContent retrieves the readable body of an article. It
// tries readability extraction on the raw page, falls back to a bare
// text scrape, then to a reader proxy. When everything fails it
// returns a short stub built from the title so the pipeline can still
// rewrite from the headline and description; the second return value
// reports whether real content was obtained.
func (f *Fetcher) FetchArticleContent(ctx context.Context, rawURL, title string) (string, bool) {
	html, err := f.get(ctx, rawURL, 0)
	if err == nil {
		if content, err := extractReadable(html, rawURL); err == nil {
			return content, true
		}
		if content, err := extractText(html); err == nil {
			return content, true
		}
	}

	// Different UA sometimes gets past soft paywalls and bot checks.
	if html, err := f.get(ctx, rawURL, 1); err == nil {
		if content, err := extractReadable(html, rawURL); err == nil {
			return content, true
		}
	}

	if f.proxy != "" {
		if content, err := f.fetchViaProxy(ctx, rawURL); err == nil {
			return content, true
		}
	}

	logger.Warn("content fetch failed, using stub", "url", rawURL)
	return fmt.Sprintf("%s. Full article content was not available at the time of writing; this piece is based on the original headline and summary.", strings.TrimSpace(title)), false
}

func (f *Fetcher) get(ctx context.Context, rawURL string, uaIndex int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", userAgents[uaIndex%len(userAgents)])
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("page returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}
	return string(body), nil
}

// extractReadable runs readability extraction over the fetched HTML.
func extractReadable(html, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return "", fmt.Errorf("readability: %w", err)
	}
	content := clean(article.TextContent)
	if len(content) < minContentLen {
		return "", fmt.Errorf("extracted content too short (%d chars)", len(content))
	}
	return content, nil
}

// extractText is the bare fallback: paragraph text scraped from the DOM.
func extractText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}
	doc.Find("script, style, nav, header, footer, aside").Remove()

	var parts []string
	doc.Find("article p, main p, p").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if len(text) > 40 {
			parts = append(parts, text)
		}
	})
	content := clean(strings.Join(parts, "\n\n"))
	if len(content) < minContentLen {
		return "", fmt.Errorf("scraped content too short (%d chars)", len(content))
	}
	return content, nil
}

// fetchViaProxy asks a reader proxy for a text rendition of the page.
func (f *Fetcher) fetchViaProxy(ctx context.Context, rawURL string) (string, error) {
	body, err := f.get(ctx, f.proxy+rawURL, 0)
	if err != nil {
		return "", err
	}
	content := clean(body)
	if len(content) < minContentLen {
		return "", fmt.Errorf("proxy content too short (%d chars)", len(content))
	}
	return content, nil
}

func clean(s string) string {
	s = strings.TrimSpace(s)
	// Collapse runs of blank lines left behind by extraction.
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	if len(s) > maxContentLen {
		s = s[:maxContentLen]
	}
	return s
}
