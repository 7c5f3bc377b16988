package dedup

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"autopress/internal/core"

	"github.com/agnivade/levenshtein"
)

const (
	// DefaultWindow bounds how far back title comparisons look.
	DefaultWindow = 48 * time.Hour

	// TitleThreshold is the similarity above which two titles are
	// considered the same story.
	TitleThreshold = 0.8

	// ContentThreshold applies to the rewritten-content recheck that
	// runs right before an item is written to the archive.
	ContentThreshold = 0.7

	// contentPrefixLen caps how much of the body participates in the
	// content comparison. Long-form bodies diverge after the lede even
	// when they cover the same story.
	contentPrefixLen = 300
)

// Archive is the slice of the store the detector needs. A miss means
// only that nothing matched within the window; items outside it are
// invisible to the detector.
type Archive interface {
	ItemByURL(ctx context.Context, normalizedURL string) (*core.PublishedItem, error)
	RecentItems(ctx context.Context, since time.Time) ([]core.PublishedItem, error)
}

// Result describes the outcome of a duplicate check.
type Result struct {
	IsDuplicate bool   `json:"is_duplicate"`
	Reason      string `json:"reason"`
	MatchedID   string `json:"matched_id"`
}

// Detector answers "have we already covered this?" against the archive.
type Detector struct {
	archive Archive
	window  time.Duration
}

// NewDetector creates a detector over the given archive. A zero window
// falls back to DefaultWindow.
func NewDetector(archive Archive, window time.Duration) *Detector {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Detector{archive: archive, window: window}
}

// NormalizeURL strips query parameters, fragments and trailing slashes
// and lowercases the scheme and host, so that syndication variants of
// the same link compare equal.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimRight(strings.TrimSpace(raw), "/")
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}

// TitleSimilarity returns a similarity in [0,1] based on edit distance
// over case-folded titles. Two empty strings are identical by
// definition and score 1.
func TitleSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(maxLen)
}

// ContentSimilarity compares the leading sections of two bodies.
func ContentSimilarity(a, b string) float64 {
	return TitleSimilarity(prefix(a, contentPrefixLen), prefix(b, contentPrefixLen))
}

func prefix(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n])
}

// CheckCandidate runs the cheap checks in order: normalized URL match
// first, then title similarity against the recent archive. The first
// hit short-circuits.
func (d *Detector) CheckCandidate(ctx context.Context, c core.Candidate) (Result, error) {
	res, err := d.CheckURL(ctx, c.Link)
	if err != nil || res.IsDuplicate {
		return res, err
	}
	return d.CheckTitle(ctx, c.Title)
}

// CheckURL looks up the normalized URL in the archive: an exact match
// first, then a prefix/suffix comparison against recent items. The
// latter catches syndication variants that nest the same path under an
// extra segment, like /story/amp or a mirror prefix.
func (d *Detector) CheckURL(ctx context.Context, rawURL string) (Result, error) {
	normalized := NormalizeURL(rawURL)
	if normalized == "" {
		return Result{}, nil
	}
	item, err := d.archive.ItemByURL(ctx, normalized)
	if err != nil {
		return Result{}, fmt.Errorf("url lookup: %w", err)
	}
	if item != nil {
		return Result{
			IsDuplicate: true,
			Reason:      fmt.Sprintf("url already published as %q", item.Title),
			MatchedID:   item.ID,
		}, nil
	}

	items, err := d.archive.RecentItems(ctx, time.Now().UTC().Add(-d.window))
	if err != nil {
		return Result{}, fmt.Errorf("recent items: %w", err)
	}
	for _, it := range items {
		if urlVariant(normalized, it.SourceURL) {
			return Result{
				IsDuplicate: true,
				Reason:      fmt.Sprintf("url variant of already published %q", it.Title),
				MatchedID:   it.ID,
			}, nil
		}
	}
	return Result{}, nil
}

// urlVariant reports whether one normalized URL extends the other at a
// path-segment boundary. The boundary check keeps /story from matching
// /story-about-something-else.
func urlVariant(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

// CheckTitle compares the title against every item published within
// the window.
func (d *Detector) CheckTitle(ctx context.Context, title string) (Result, error) {
	items, err := d.archive.RecentItems(ctx, time.Now().UTC().Add(-d.window))
	if err != nil {
		return Result{}, fmt.Errorf("recent items: %w", err)
	}
	for _, item := range items {
		if sim := TitleSimilarity(title, item.Title); sim > TitleThreshold {
			return Result{
				IsDuplicate: true,
				Reason:      fmt.Sprintf("title %.0f%% similar to %q", sim*100, item.Title),
				MatchedID:   item.ID,
			}, nil
		}
	}
	return Result{}, nil
}

// CheckContent is the last-line recheck before an archive write: the
// rewritten title and body are compared against recent items, catching
// duplicates the source-level checks missed because the rewrite
// converged on an existing story.
func (d *Detector) CheckContent(ctx context.Context, title, content string) (Result, error) {
	items, err := d.archive.RecentItems(ctx, time.Now().UTC().Add(-d.window))
	if err != nil {
		return Result{}, fmt.Errorf("recent items: %w", err)
	}
	for _, item := range items {
		if sim := TitleSimilarity(title, item.Title); sim > TitleThreshold {
			return Result{
				IsDuplicate: true,
				Reason:      fmt.Sprintf("rewritten title %.0f%% similar to %q", sim*100, item.Title),
				MatchedID:   item.ID,
			}, nil
		}
		if content == "" || item.Content == "" {
			continue
		}
		if sim := ContentSimilarity(content, item.Content); sim > ContentThreshold {
			return Result{
				IsDuplicate: true,
				Reason:      fmt.Sprintf("content %.0f%% similar to %q", sim*100, item.Title),
				MatchedID:   item.ID,
			}, nil
		}
	}
	return Result{}, nil
}
