package visual

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Size is a named image dimension tier.
type Size struct {
	Width  int
	Height int
}

// The three renditions every article gets: the hero for the article
// page, the card for listings, the thumb for related-story rails.
var (
	SizeHero  = Size{Width: 1200, Height: 630}
	SizeCard  = Size{Width: 800, Height: 420}
	SizeThumb = Size{Width: 400, Height: 210}
)

const defaultTimeout = 60 * time.Second

// Generator produces article images through a URL-based generation
// service (Pollinations-style: the image is rendered on first fetch of
// a parameterized URL).
type Generator struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewGenerator creates a generator against the given service.
func NewGenerator(baseURL, model string, timeout time.Duration) *Generator {
	if baseURL == "" {
		baseURL = "https://image.pollinations.ai"
	}
	if model == "" {
		model = "flux-realism"
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Generator{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

// Generate builds the image URL for the prompt at hero size and
// verifies the service will render it. The seed pins the rendition so
// repeated loads return the same image.
func (g *Generator) Generate(ctx context.Context, prompt string, seed int64) (string, error) {
	imageURL := g.buildURL(prompt, SizeHero, seed)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("verifying image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("image service returned status %d", resp.StatusCode)
	}
	return imageURL, nil
}

// Renditions returns the URL for every size tier of an already
// generated image.
func (g *Generator) Renditions(prompt string, seed int64) map[string]string {
	return map[string]string{
		"hero":  g.buildURL(prompt, SizeHero, seed),
		"card":  g.buildURL(prompt, SizeCard, seed),
		"thumb": g.buildURL(prompt, SizeThumb, seed),
	}
}

func (g *Generator) buildURL(prompt string, size Size, seed int64) string {
	params := url.Values{}
	params.Set("width", strconv.Itoa(size.Width))
	params.Set("height", strconv.Itoa(size.Height))
	params.Set("model", g.model)
	params.Set("enhance", "true")
	params.Set("nologo", "true")
	params.Set("seed", strconv.FormatInt(seed, 10))
	return fmt.Sprintf("%s/prompt/%s?%s", g.baseURL, url.PathEscape(prompt), params.Encode())
}
