package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"autopress/internal/core"
	"autopress/internal/logger"
)

// Side-effect subscribers: each consumes published-item events and
// owns its failures end to end. Nothing here can fail a pipeline run;
// errors are logged and the event is gone.

const sideEffectTimeout = 10 * time.Second

// WebhookSubscriber forwards published items to an external webhook:
// social posting, translation requests, push notification fan-out.
// One failed delivery is retried once, then dropped.
type WebhookSubscriber struct {
	name   string
	url    string
	client *http.Client
}

// NewWebhookSubscriber creates a subscriber posting to the given URL.
func NewWebhookSubscriber(name, url string) *WebhookSubscriber {
	return &WebhookSubscriber{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: sideEffectTimeout},
	}
}

// Run consumes events until the channel closes.
func (w *WebhookSubscriber) Run(ctx context.Context, ch <-chan core.ItemPublishedEvent) {
	for evt := range ch {
		if err := w.deliver(ctx, evt); err != nil {
			// One retry; webhooks behind cold functions often fail the
			// first hit and succeed immediately after.
			if err = w.deliver(ctx, evt); err != nil {
				logger.Warn("side effect delivery failed", "subscriber", w.name, "item", evt.Item.Slug, "error", err.Error())
			}
		}
	}
}

func (w *WebhookSubscriber) deliver(ctx context.Context, evt core.ItemPublishedEvent) error {
	payload, err := json.Marshal(map[string]any{
		"event":        "item_published",
		"execution_id": evt.ExecutionID,
		"id":           evt.Item.ID,
		"title":        evt.Item.Title,
		"slug":         evt.Item.Slug,
		"excerpt":      evt.Item.Excerpt,
		"category":     evt.Item.Category,
		"image_url":    evt.Item.ImageURL,
		"renditions":   evt.Renditions,
		"status":       evt.Item.Status,
	})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// IndexPinger submits newly published URLs to an IndexNow-style search
// index endpoint so crawlers pick fresh articles up quickly.
type IndexPinger struct {
	endpoint string
	key      string
	siteURL  string
	client   *http.Client
}

// NewIndexPinger creates an index pinger. siteURL is the public base
// URL articles live under.
func NewIndexPinger(endpoint, key, siteURL string) *IndexPinger {
	return &IndexPinger{
		endpoint: endpoint,
		key:      key,
		siteURL:  siteURL,
		client:   &http.Client{Timeout: sideEffectTimeout},
	}
}

// Run consumes events until the channel closes. Drafts are skipped;
// there is nothing public to index yet.
func (p *IndexPinger) Run(ctx context.Context, ch <-chan core.ItemPublishedEvent) {
	for evt := range ch {
		if evt.Item.Status != core.ItemPublished {
			continue
		}
		if err := p.ping(ctx, evt.Item.Slug); err != nil {
			logger.Warn("index ping failed", "item", evt.Item.Slug, "error", err.Error())
		}
	}
}

func (p *IndexPinger) ping(ctx context.Context, slug string) error {
	payload, err := json.Marshal(map[string]any{
		"host":    p.siteURL,
		"key":     p.key,
		"urlList": []string{fmt.Sprintf("%s/articles/%s", p.siteURL, slug)},
	})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting index ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("index endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// SideEffectConfig names the external endpoints side effects go to.
// Empty URLs disable the corresponding subscriber.
type SideEffectConfig struct {
	SocialWebhookURL    string
	TranslateWebhookURL string
	PushWebhookURL      string
	IndexEndpoint       string
	IndexKey            string
	SiteURL             string
}

// AttachSideEffects subscribes the configured side effects to the bus
// and returns a function that waits for them to drain after Close.
func AttachSideEffects(ctx context.Context, bus *Bus, cfg SideEffectConfig) (wait func()) {
	var wg sync.WaitGroup

	start := func(run func(context.Context, <-chan core.ItemPublishedEvent)) {
		ch, _ := bus.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx, ch)
		}()
	}

	if cfg.SocialWebhookURL != "" {
		start(NewWebhookSubscriber("social", cfg.SocialWebhookURL).Run)
	}
	if cfg.TranslateWebhookURL != "" {
		start(NewWebhookSubscriber("translate", cfg.TranslateWebhookURL).Run)
	}
	if cfg.PushWebhookURL != "" {
		start(NewWebhookSubscriber("push", cfg.PushWebhookURL).Run)
	}
	if cfg.IndexEndpoint != "" {
		start(NewIndexPinger(cfg.IndexEndpoint, cfg.IndexKey, cfg.SiteURL).Run)
	}

	return wg.Wait
}
