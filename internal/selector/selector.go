package selector

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	"autopress/internal/core"
	"autopress/internal/dedup"
	"autopress/internal/logger"
)

const (
	// maxAnalyzed caps how many ranked candidates are handed to the
	// model; anything past the top 20 is noise.
	maxAnalyzed = 20

	// topicWindow is how long a topic stays "recently covered".
	topicWindow = 24 * time.Hour

	// FallbackCategory is assigned when selection degrades to the
	// deterministic path.
	FallbackCategory = "General"
)

// Analyzer is the model-backed selection step.
type Analyzer interface {
	AnalyzeCandidates(ctx context.Context, candidates []core.Candidate, targetCount int, forceCategory string) ([]core.Selection, error)
}

// Ranker fills trend scores on candidates.
type Ranker interface {
	ScoreCandidates(ctx context.Context, candidates []core.Candidate) []core.Candidate
}

// Deduper screens candidates against the archive.
type Deduper interface {
	CheckCandidate(ctx context.Context, c core.Candidate) (dedup.Result, error)
}

// TopicHistory answers whether a topic was covered recently.
type TopicHistory interface {
	TopicPublishedSince(ctx context.Context, topic string, since time.Time) (bool, error)
}

// Selector turns the raw candidate pool into the short list the
// pipeline will actually write about.
type Selector struct {
	ranker  Ranker
	deduper Deduper
	model   Analyzer
	history TopicHistory
}

// New creates a selector from its collaborators.
func New(ranker Ranker, deduper Deduper, model Analyzer, history TopicHistory) *Selector {
	return &Selector{ranker: ranker, deduper: deduper, model: model, history: history}
}

// SelectBestArticles runs the full selection pass: duplicate
// pre-filter, trend ranking, model analysis with a deterministic
// fallback, then the topic-repetition rule. It returns at most
// targetCount selections and guarantees at least one whenever any
// candidate survives the pre-filter.
func (s *Selector) SelectBestArticles(ctx context.Context, candidates []core.Candidate, targetCount int, forceCategory string) []core.Selection {
	fresh := s.prefilter(ctx, candidates)
	if len(fresh) == 0 {
		return nil
	}

	fresh = s.ranker.ScoreCandidates(ctx, fresh)
	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].TrendScore > fresh[j].TrendScore
	})
	if len(fresh) > maxAnalyzed {
		fresh = fresh[:maxAnalyzed]
	}

	selections, err := s.model.AnalyzeCandidates(ctx, fresh, targetCount, forceCategory)
	if err != nil {
		logger.Warn("model selection failed, using ranked fallback", "error", err.Error())
		selections = fallbackSelections(fresh, targetCount, forceCategory)
	}

	return s.applyTopicRule(ctx, selections)
}

// prefilter drops candidates already covered by the archive. Detector
// errors fail open: a candidate we cannot check stays in the pool.
func (s *Selector) prefilter(ctx context.Context, candidates []core.Candidate) []core.Candidate {
	var out []core.Candidate
	for _, c := range candidates {
		res, err := s.deduper.CheckCandidate(ctx, c)
		if err != nil {
			logger.Warn("duplicate check failed, keeping candidate", "title", c.Title, "error", err.Error())
			out = append(out, c)
			continue
		}
		if res.IsDuplicate {
			logger.Debug("candidate dropped as duplicate", "title", c.Title, "reason", res.Reason)
			continue
		}
		out = append(out, c)
	}
	return out
}

// fallbackSelections is the deterministic path used when the model is
// unavailable: the top ranked candidates with a generic category.
func fallbackSelections(ranked []core.Candidate, targetCount int, forceCategory string) []core.Selection {
	category := forceCategory
	if category == "" {
		category = FallbackCategory
	}
	var out []core.Selection
	for _, c := range ranked {
		if len(out) >= targetCount {
			break
		}
		out = append(out, core.Selection{
			Candidate: c,
			Category:  category,
			Reason:    "selected by trend ranking",
		})
	}
	return out
}

// applyTopicRule drops selections whose topic was already covered in
// the last 24 hours. When that would empty the list, the single best
// selection is kept anyway: a run should not come back empty-handed
// just because the news cycle is monotonous.
func (s *Selector) applyTopicRule(ctx context.Context, selections []core.Selection) []core.Selection {
	if len(selections) == 0 {
		return selections
	}
	since := time.Now().UTC().Add(-topicWindow)

	var kept []core.Selection
	for _, sel := range selections {
		topic := TopicTag(sel.Candidate.Title)
		covered, err := s.history.TopicPublishedSince(ctx, topic, since)
		if err != nil {
			logger.Warn("topic history check failed, keeping selection", "topic", topic, "error", err.Error())
			kept = append(kept, sel)
			continue
		}
		if covered {
			logger.Debug("selection dropped, topic covered recently", "topic", topic, "title", sel.Candidate.Title)
			continue
		}
		kept = append(kept, sel)
	}
	if len(kept) == 0 {
		return selections[:1]
	}
	return kept
}

// TopicTag derives a coarse topic identifier from a headline: the
// leading run of capitalized words when one exists (usually the named
// entity the story is about), otherwise the first two significant
// words. Tags are lowercased for comparison.
func TopicTag(title string) string {
	words := strings.Fields(strings.TrimSpace(title))
	if len(words) == 0 {
		return ""
	}

	var entity []string
	for _, w := range words {
		r := []rune(w)
		if len(r) == 0 || !unicode.IsUpper(r[0]) {
			break
		}
		entity = append(entity, strings.ToLower(strings.Trim(w, ".,;:!?'\"")))
	}
	if len(entity) >= 2 {
		return strings.Join(entity, " ")
	}

	var significant []string
	for _, w := range words {
		w = strings.ToLower(strings.Trim(w, ".,;:!?'\""))
		if len(w) < 4 {
			continue
		}
		significant = append(significant, w)
		if len(significant) == 2 {
			break
		}
	}
	if len(significant) == 0 {
		return strings.ToLower(words[0])
	}
	return strings.Join(significant, " ")
}
