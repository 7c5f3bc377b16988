package trends

import (
	"context"
	"strings"
	"time"

	"autopress/internal/core"
	"autopress/internal/logger"
	"autopress/internal/search"
)

const (
	// maxSearchScore caps the coverage component so a single viral
	// story cannot drown out everything else.
	maxSearchScore = 100.0

	overlapWeight  = 30.0
	recencyHour    = 20.0
	recencyDay     = 10.0
	socialBoost    = 40.0
	videoBoost     = 30.0
	authorityBoost = 15.0
)

var socialDomains = map[string]bool{
	"twitter.com":   true,
	"x.com":         true,
	"reddit.com":    true,
	"facebook.com":  true,
	"tiktok.com":    true,
	"instagram.com": true,
}

var authorityDomains = map[string]bool{
	"bbc.com":         true,
	"bbc.co.uk":       true,
	"cnn.com":         true,
	"reuters.com":     true,
	"apnews.com":      true,
	"nytimes.com":     true,
	"theguardian.com": true,
	"bloomberg.com":   true,
	"wsj.com":         true,
}

// stopWords are skipped when computing title-word overlap.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "in": true, "on": true,
	"at": true, "to": true, "for": true, "and": true, "or": true, "is": true,
	"are": true, "was": true, "with": true, "as": true, "by": true, "after": true,
	"amid": true, "over": true, "from": true, "its": true, "his": true, "her": true,
}

// Interest supplies a public-interest score for a headline, typically
// backed by a trending-searches feed.
type Interest interface {
	Score(ctx context.Context, title string) float64
}

// Ranker scores candidates by how strongly the wider web is covering
// them right now.
type Ranker struct {
	provider   search.Provider
	interest   Interest
	maxResults int
}

// NewRanker creates a ranker. provider and interest may each be nil;
// the missing signal simply contributes nothing.
func NewRanker(provider search.Provider, interest Interest, maxResults int) *Ranker {
	if maxResults <= 0 {
		maxResults = 10
	}
	return &Ranker{provider: provider, interest: interest, maxResults: maxResults}
}

// ScoreCandidates fills TrendScore on every candidate. A scoring
// failure zeroes that candidate's score and never aborts the batch.
func (r *Ranker) ScoreCandidates(ctx context.Context, candidates []core.Candidate) []core.Candidate {
	for i := range candidates {
		candidates[i].TrendScore = r.scoreOne(ctx, candidates[i])
	}
	return candidates
}

func (r *Ranker) scoreOne(ctx context.Context, c core.Candidate) float64 {
	score := 0.0

	if r.provider != nil {
		results, err := r.provider.Search(ctx, c.Title, search.Config{
			MaxResults: r.maxResults,
			SinceTime:  24 * time.Hour,
			Language:   "en",
		})
		if err != nil {
			logger.Debug("trend search failed", "title", c.Title, "error", err.Error())
		} else {
			score += searchSignal(c.Title, results)
		}
	}

	if r.interest != nil {
		score += r.interest.Score(ctx, c.Title)
	}
	return score
}

// searchSignal derives a score from search coverage: volume, title
// overlap, freshness, and the kinds of places talking about it.
func searchSignal(title string, results []search.Result) float64 {
	score := float64(len(results)) * 10
	if score > maxSearchScore {
		score = maxSearchScore
	}

	var (
		overlapTotal float64
		sawSocial    bool
		sawVideo     bool
		sawAuthority bool
		freshest     = time.Duration(-1)
	)
	for _, res := range results {
		overlapTotal += wordOverlap(title, res.Title)

		domain := strings.TrimPrefix(strings.ToLower(res.Domain), "www.")
		if socialDomains[domain] {
			sawSocial = true
		}
		if authorityDomains[domain] {
			sawAuthority = true
		}
		if res.IsVideo || domain == "youtube.com" {
			sawVideo = true
		}
		if !res.PublishedAt.IsZero() {
			age := time.Since(res.PublishedAt)
			if freshest < 0 || age < freshest {
				freshest = age
			}
		}
	}

	if len(results) > 0 {
		score += (overlapTotal / float64(len(results))) * overlapWeight
	}
	if freshest >= 0 {
		switch {
		case freshest <= time.Hour:
			score += recencyHour
		case freshest <= 24*time.Hour:
			score += recencyDay
		}
	}
	if sawSocial {
		score += socialBoost
	}
	if sawVideo {
		score += videoBoost
	}
	if sawAuthority {
		score += authorityBoost
	}
	return score
}

// wordOverlap returns the fraction of significant words from a that
// also appear in b.
func wordOverlap(a, b string) float64 {
	aWords := significantWords(a)
	if len(aWords) == 0 {
		return 0
	}
	bSet := make(map[string]bool)
	for _, w := range significantWords(b) {
		bSet[w] = true
	}
	matched := 0
	for _, w := range aWords {
		if bSet[w] {
			matched++
		}
	}
	return float64(matched) / float64(len(aWords))
}

func significantWords(s string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:!?'\"()[]")
		if len(w) < 3 || stopWords[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}
