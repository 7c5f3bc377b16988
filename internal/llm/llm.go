package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"autopress/internal/core"

	"github.com/spf13/viper"
	"google.golang.org/genai"
)

const (
	// DefaultModel is the default Gemini model used for selection and
	// rewriting.
	DefaultModel = "gemini-2.0-flash"

	// DefaultTimeout bounds a single model call.
	DefaultTimeout = 45 * time.Second

	// maxImagePromptLen caps generated image prompts; the image API
	// truncates silently beyond this.
	maxImagePromptLen = 150

	// minRelevance is the classification score below which a candidate
	// is dropped during selection.
	minRelevance = 70
)

// Client wraps the Gemini API for the editorial operations: candidate
// analysis, article rewriting, and image prompt generation.
type Client struct {
	apiKey    string
	modelName string
	timeout   time.Duration
	gClient   *genai.Client
}

// NewClient creates a new LLM client. The API key is read from the
// environment (GEMINI_API_KEY and friends) or from configuration.
func NewClient(modelName string) (*Client, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		if apiKey = os.Getenv("GOOGLE_GEMINI_API_KEY"); apiKey == "" {
			if apiKey = os.Getenv("GOOGLE_AI_API_KEY"); apiKey == "" {
				apiKey = viper.GetString("ai.gemini.api_key")
			}
		}
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required. Set GEMINI_API_KEY environment variable or ai.gemini.api_key in config file")
	}

	if modelName == "" {
		modelName = viper.GetString("ai.gemini.model")
		if modelName == "" {
			modelName = DefaultModel
		}
	}

	timeout := DefaultTimeout
	if d, err := time.ParseDuration(viper.GetString("ai.gemini.timeout")); err == nil && d > 0 {
		timeout = d
	}

	ctx := context.Background()
	gClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{
		apiKey:    apiKey,
		modelName: modelName,
		timeout:   timeout,
		gClient:   gClient,
	}, nil
}

// generateContent is a helper that wraps the SDK's GenerateContent call
// with the configured timeout.
func (c *Client) generateContent(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}

	resp, err := c.gClient.Models.GenerateContent(ctx, c.modelName, contents, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return text, nil
}

// candidateVerdict is the model's judgment on one candidate.
type candidateVerdict struct {
	Index     int    `json:"index"`
	Category  string `json:"category"`
	Reason    string `json:"reason"`
	Relevance int    `json:"relevance"`
}

// AnalyzeCandidates asks the model to pick the most newsworthy
// candidates, assign each a category, and explain the choice.
// Candidates judged below the relevance floor are dropped even when
// that returns fewer than targetCount.
func (c *Client) AnalyzeCandidates(ctx context.Context, candidates []core.Candidate, targetCount int, forceCategory string) ([]core.Selection, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidates to analyze")
	}

	var listing strings.Builder
	for i, cand := range candidates {
		fmt.Fprintf(&listing, "%d. [%s] %s — %s\n", i, cand.Source, cand.Title, truncate(cand.Description, 200))
	}

	categoryRule := "Assign each picked story a category from: World, Politics, Business, Technology, Science, Health, Sports, Culture."
	if forceCategory != "" {
		categoryRule = fmt.Sprintf("Every picked story must be assigned the category %q; skip stories that do not fit it.", forceCategory)
	}

	prompt := fmt.Sprintf(`You are the editor of a general news site choosing which stories to cover next.

Candidates (index, source, headline, summary):
%s
Pick the %d most newsworthy, trend-relevant stories. %s

Respond with a JSON array only, no commentary:
[{"index": <candidate index>, "category": "<category>", "reason": "<one sentence>", "relevance": <0-100>}]`,
		listing.String(), targetCount, categoryRule)

	raw, err := c.generateContent(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("analyzing candidates: %w", err)
	}

	var verdicts []candidateVerdict
	if err := json.Unmarshal([]byte(extractJSON(raw)), &verdicts); err != nil {
		return nil, fmt.Errorf("parsing selection response: %w", err)
	}

	var selections []core.Selection
	for _, v := range verdicts {
		if v.Index < 0 || v.Index >= len(candidates) {
			continue
		}
		if v.Relevance < minRelevance {
			continue
		}
		category := v.Category
		if forceCategory != "" {
			category = forceCategory
		}
		selections = append(selections, core.Selection{
			Candidate: candidates[v.Index],
			Category:  category,
			Reason:    v.Reason,
		})
		if len(selections) >= targetCount {
			break
		}
	}
	if len(selections) == 0 {
		return nil, fmt.Errorf("model selected no candidates above relevance floor")
	}
	return selections, nil
}

// Rewrite produces an original article from the fetched source
// content, along with metadata and a quality self-assessment on a
// 0-1000 scale. recentTitles gives the model context to avoid
// repeating angles already covered.
func (c *Client) Rewrite(ctx context.Context, title, content, category string, recentTitles []string) (core.RewrittenArticle, error) {
	recent := "none"
	if len(recentTitles) > 0 {
		recent = "- " + strings.Join(recentTitles, "\n- ")
	}

	prompt := fmt.Sprintf(`Write an original news article based on this source material. Do not copy sentences; report the facts in your own words, neutral tone, inverted pyramid.

Source headline: %s
Category: %s
Source content:
---
%s
---

Recently published on our site (avoid repeating these angles):
%s

Respond with JSON only:
{"title": "<engaging, factual headline>", "excerpt": "<1-2 sentence standfirst>", "content": "<the full article, 400-700 words, paragraphs separated by blank lines>", "keywords": ["<5-8 keywords>"], "metaDescription": "<under 160 chars>", "score": <0-1000 self-assessment of factual grounding and quality>}`,
		title, category, truncate(content, 9000), recent)

	raw, err := c.generateContent(ctx, prompt)
	if err != nil {
		return core.RewrittenArticle{}, fmt.Errorf("rewriting article: %w", err)
	}

	var article core.RewrittenArticle
	if err := json.Unmarshal([]byte(extractJSON(raw)), &article); err != nil {
		return core.RewrittenArticle{}, fmt.Errorf("parsing rewrite response: %w", err)
	}
	if article.Title == "" || article.Content == "" {
		return core.RewrittenArticle{}, fmt.Errorf("rewrite response missing title or content")
	}
	if article.Score < 0 {
		article.Score = 0
	}
	if article.Score > 1000 {
		article.Score = 1000
	}
	return article, nil
}

// GenerateImagePrompt produces a short photography-style prompt for
// the article's hero image. Failures fall back to a generic prompt so
// image generation can always proceed.
func (c *Client) GenerateImagePrompt(ctx context.Context, title, excerpt string) string {
	prompt := fmt.Sprintf(`Write a single photographic image prompt (max %d characters) for a news article hero image. No text, logos, or real people's faces in the image. Respond with the prompt only.

Headline: %s
Standfirst: %s`, maxImagePromptLen, title, excerpt)

	raw, err := c.generateContent(ctx, prompt)
	if err != nil {
		return fallbackImagePrompt(title)
	}
	cleaned := strings.Trim(strings.TrimSpace(raw), "\"`")
	if cleaned == "" {
		return fallbackImagePrompt(title)
	}
	if len(cleaned) > maxImagePromptLen {
		cleaned = cleaned[:maxImagePromptLen]
	}
	return cleaned
}

func fallbackImagePrompt(title string) string {
	return truncate(fmt.Sprintf("photorealistic news illustration, %s, editorial photography, no text", title), maxImagePromptLen)
}

// extractJSON trims markdown fences and surrounding prose from a model
// response, keeping the outermost JSON value.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	s = strings.TrimSpace(s)

	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return s
	}
	var end int
	if s[start] == '[' {
		end = strings.LastIndex(s, "]")
	} else {
		end = strings.LastIndex(s, "}")
	}
	if end <= start {
		return s
	}
	return s[start : end+1]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
