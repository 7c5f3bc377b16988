package search

import (
	"context"
	"fmt"
)

// MockProvider implements Provider for testing purposes
type MockProvider struct {
	name    string
	results []Result
}

// NewMockProvider creates a new mock search provider
func NewMockProvider() *MockProvider {
	return &MockProvider{
		name: "Mock",
		results: []Result{
			{
				URL:     "https://news.example.com/markets-rally",
				Title:   "Markets rally after policy announcement",
				Snippet: "Stocks climbed sharply following the announcement.",
				Domain:  "news.example.com",
				Source:  "Mock",
				Rank:    1,
			},
			{
				URL:     "https://wire.example.org/markets-react",
				Title:   "How markets reacted to the announcement",
				Snippet: "A breakdown of the day's trading.",
				Domain:  "wire.example.org",
				Source:  "Mock",
				Rank:    2,
			},
			{
				URL:     "https://video.example.net/analysis",
				Title:   "Video analysis of the rally",
				Snippet: "Analysts discuss what comes next.",
				Domain:  "video.example.net",
				IsVideo: true,
				Source:  "Mock",
				Rank:    3,
			},
		},
	}
}

// GetName returns the name of this provider
func (m *MockProvider) GetName() string {
	return m.name
}

// Search returns mock search results
func (m *MockProvider) Search(ctx context.Context, query string, config Config) ([]Result, error) {
	maxResults := config.MaxResults
	if maxResults <= 0 || maxResults > len(m.results) {
		maxResults = len(m.results)
	}

	results := make([]Result, maxResults)
	for i := 0; i < maxResults; i++ {
		result := m.results[i]
		result.Snippet = fmt.Sprintf("%s (query: %s)", result.Snippet, query)
		results[i] = result
	}
	return results, nil
}

// SetResults allows customization of mock results for testing
func (m *MockProvider) SetResults(results []Result) {
	m.results = results
}
