package handlers

import (
	"context"
	"fmt"
	"time"

	"autopress/internal/agent"
	"autopress/internal/cache"
	"autopress/internal/config"
	"autopress/internal/dedup"
	"autopress/internal/events"
	"autopress/internal/feeds"
	"autopress/internal/fetch"
	"autopress/internal/llm"
	"autopress/internal/logger"
	"autopress/internal/notify"
	"autopress/internal/scheduler"
	"autopress/internal/search"
	"autopress/internal/selector"
	"autopress/internal/store"
	"autopress/internal/trends"
	"autopress/internal/visual"

	"github.com/redis/go-redis/v9"
)

// app bundles the wired components a command needs. Redis-backed parts
// are nil when Redis is unreachable; everything else degrades around
// them.
type app struct {
	store     *store.Store
	rdb       redis.UniversalClient
	cache     *cache.Manager
	queue     scheduler.TriggerQueue
	scheduler *scheduler.Scheduler
	agent     *agent.Orchestrator
	bus       *events.Bus
	busWait   func()
}

// buildApp wires the pipeline from configuration.
func buildApp(ctx context.Context) (*app, error) {
	cfg := config.Get()

	st, err := store.NewStore(cfg.App.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	a := &app{store: st}

	a.rdb = connectRedis(ctx, cfg.Redis)
	a.cache = cache.NewManager(a.rdb,
		cfg.Cache.MemoryMaxEntries,
		parseDuration(cfg.Cache.MemoryTTL, 30*time.Second),
		parseDuration(cfg.Cache.DefaultTTL, time.Hour))
	if a.rdb != nil {
		a.queue = scheduler.NewRedisQueue(a.rdb)
	}

	detector := dedup.NewDetector(st, parseDuration(cfg.Feeds.RecencyWindow, dedup.DefaultWindow))

	sources := cfg.Feeds.Sources
	if len(sources) == 0 {
		sources = config.DefaultFeedSources()
	}
	feedCfg := cfg.Feeds
	feedCfg.Sources = sources
	fetcher := feeds.NewFetcher(feedCfg, feeds.WithCache(a.cache))

	model, err := llm.NewClient(cfg.AI.Gemini.Model)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating model client: %w", err)
	}

	provider, err := search.NewProviderFactory().CreateProvider(
		search.ProviderType(cfg.Search.DefaultProvider),
		map[string]string{"api_key": cfg.Search.Providers.Brave.APIKey})
	if err != nil {
		logger.Warn("search provider unavailable, trend scores degrade", "error", err.Error())
		provider = nil
	}
	interest := trends.NewInterestFeed(cfg.Feeds.TrendingFeedURL)
	ranker := trends.NewRanker(provider, interest, cfg.Search.MaxResults)

	sel := selector.New(ranker, detector, model, st)

	images := visual.NewGenerator(cfg.Visual.BaseURL, cfg.Visual.Model,
		parseDuration(cfg.Visual.Timeout, 60*time.Second))

	a.bus = events.NewBus(0)
	a.busWait = events.AttachSideEffects(ctx, a.bus, events.SideEffectConfig{
		SocialWebhookURL:    cfg.Events.SocialWebhookURL,
		TranslateWebhookURL: cfg.Events.TranslateWebhookURL,
		PushWebhookURL:      cfg.Events.PushWebhookURL,
		IndexEndpoint:       cfg.Events.IndexEndpoint,
		IndexKey:            cfg.Events.IndexKey,
		SiteURL:             cfg.Events.SiteURL,
	})

	notifier := notify.New(cfg.Notify.WebhookURL, parseDuration(cfg.Notify.Timeout, 10*time.Second))

	a.agent = agent.New(agent.Config{
		Source:      fetcher,
		Picker:      sel,
		Fetcher:     fetch.NewFetcher(),
		Writer:      model,
		Images:      images,
		Checker:     detector,
		Archive:     st,
		Cache:       a.cache,
		Bus:         a.bus,
		Notifier:    notifier,
		TargetCount: cfg.Scheduler.TargetCount,
	})

	a.scheduler = scheduler.New(st, a.queue, a.agent, cfg.Scheduler.IntervalHours)
	a.agent.SetRescheduler(a.scheduler)

	return a, nil
}

// close releases everything buildApp opened.
func (a *app) close() {
	if a.bus != nil {
		a.bus.Close()
	}
	if a.busWait != nil {
		a.busWait()
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			logger.Warn("closing redis failed", "error", err.Error())
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warn("closing store failed", "error", err.Error())
		}
	}
}

// connectRedis returns nil when Redis is not reachable; callers treat
// that as "run without the durable queue and the shared cache tier".
func connectRedis(ctx context.Context, cfg config.Redis) redis.UniversalClient {
	if cfg.Addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, continuing without it", "addr", cfg.Addr, "error", err.Error())
		rdb.Close()
		return nil
	}
	return rdb
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
