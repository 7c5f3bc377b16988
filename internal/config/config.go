package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       App       `mapstructure:"app"`
	AI        AI        `mapstructure:"ai"`
	Search    Search    `mapstructure:"search"`
	Feeds     Feeds     `mapstructure:"feeds"`
	Store     Store     `mapstructure:"store"`
	Redis     Redis     `mapstructure:"redis"`
	Cache     Cache     `mapstructure:"cache"`
	Scheduler Scheduler `mapstructure:"scheduler"`
	Visual    Visual    `mapstructure:"visual"`
	Notify    Notify    `mapstructure:"notify"`
	Events    Events    `mapstructure:"events"`
	Server    Server    `mapstructure:"server"`
	Logging   Logging   `mapstructure:"logging"`
}

// App holds general application configuration
type App struct {
	Debug   bool   `mapstructure:"debug"`
	DataDir string `mapstructure:"data_dir"`
}

// AI holds AI/LLM configuration
type AI struct {
	Gemini GeminiConfig `mapstructure:"gemini"`
}

// GeminiConfig holds Google Gemini configuration
type GeminiConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Timeout     string  `mapstructure:"timeout"`
	Temperature float32 `mapstructure:"temperature"`
}

// Search holds search provider configuration
type Search struct {
	DefaultProvider string          `mapstructure:"default_provider"`
	MaxResults      int             `mapstructure:"max_results"`
	Timeout         string          `mapstructure:"timeout"`
	Providers       SearchProviders `mapstructure:"providers"`
}

// SearchProviders holds configuration for all search providers
type SearchProviders struct {
	Brave BraveConfig `mapstructure:"brave"`
}

// BraveConfig holds Brave Search API configuration
type BraveConfig struct {
	APIKey    string `mapstructure:"api_key"`
	RateLimit string `mapstructure:"rate_limit"`
}

// Feeds holds RSS discovery configuration
type Feeds struct {
	Sources         []FeedSource `mapstructure:"sources"`
	UserAgent       string       `mapstructure:"user_agent"`
	Timeout         string       `mapstructure:"timeout"`
	MaxItemsPerFeed int          `mapstructure:"max_items_per_feed"`
	Concurrency     int          `mapstructure:"concurrency"`
	RecencyWindow   string       `mapstructure:"recency_window"`
	TrendingFeedURL string       `mapstructure:"trending_feed_url"`
}

// FeedSource identifies one configured feed.
type FeedSource struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

// Store holds archive database configuration
type Store struct {
	Timeout string `mapstructure:"timeout"`
}

// Redis holds the Redis connection configuration shared by the cache
// and the trigger queue.
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Cache holds cache manager configuration
type Cache struct {
	MemoryMaxEntries int    `mapstructure:"memory_max_entries"`
	MemoryTTL        string `mapstructure:"memory_ttl"`
	DefaultTTL       string `mapstructure:"default_ttl"`
}

// Scheduler holds agent scheduling configuration
type Scheduler struct {
	Enabled       bool `mapstructure:"enabled"`
	IntervalHours int  `mapstructure:"interval_hours"`
	TargetCount   int  `mapstructure:"target_count"`
}

// Visual holds image generation configuration
type Visual struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
	Timeout string `mapstructure:"timeout"`
}

// Notify holds execution report delivery configuration
type Notify struct {
	WebhookURL string `mapstructure:"webhook_url"`
	Timeout    string `mapstructure:"timeout"`
}

// Events holds the external endpoints post-publish side effects go to.
// Empty URLs disable the corresponding subscriber.
type Events struct {
	SocialWebhookURL    string `mapstructure:"social_webhook_url"`
	TranslateWebhookURL string `mapstructure:"translate_webhook_url"`
	PushWebhookURL      string `mapstructure:"push_webhook_url"`
	IndexEndpoint       string `mapstructure:"index_endpoint"`
	IndexKey            string `mapstructure:"index_key"`
	SiteURL             string `mapstructure:"site_url"`
}

// Server holds admin API configuration
type Server struct {
	Addr string `mapstructure:"addr"`
}

// Logging holds logging configuration
type Logging struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

var globalConfig *Config

// Load loads the configuration from various sources
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	// Configure viper
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".autopress")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// setDefaults sets default configuration values
func setDefaults() {
	// App defaults
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.data_dir", ".autopress")

	// AI defaults
	viper.SetDefault("ai.gemini.model", "gemini-2.0-flash")
	viper.SetDefault("ai.gemini.timeout", "45s")
	viper.SetDefault("ai.gemini.temperature", 0.7)

	// Search defaults
	viper.SetDefault("search.default_provider", "brave")
	viper.SetDefault("search.max_results", 10)
	viper.SetDefault("search.timeout", "15s")
	viper.SetDefault("search.providers.brave.rate_limit", "50ms")

	// Feeds defaults
	viper.SetDefault("feeds.user_agent", "Autopress/1.0")
	viper.SetDefault("feeds.timeout", "20s")
	viper.SetDefault("feeds.max_items_per_feed", 10)
	viper.SetDefault("feeds.concurrency", 5)
	viper.SetDefault("feeds.recency_window", "48h")
	viper.SetDefault("feeds.trending_feed_url", "https://trends.google.com/trending/rss?geo=US")

	// Store defaults
	viper.SetDefault("store.timeout", "5s")

	// Redis defaults
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)

	// Cache defaults
	viper.SetDefault("cache.memory_max_entries", 1000)
	viper.SetDefault("cache.memory_ttl", "30s")
	viper.SetDefault("cache.default_ttl", "1h")

	// Scheduler defaults
	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.interval_hours", 6)
	viper.SetDefault("scheduler.target_count", 3)

	// Visual defaults
	viper.SetDefault("visual.base_url", "https://image.pollinations.ai")
	viper.SetDefault("visual.model", "flux-realism")
	viper.SetDefault("visual.timeout", "60s")

	// Notify defaults
	viper.SetDefault("notify.timeout", "10s")

	// Server defaults
	viper.SetDefault("server.addr", ":8080")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.console", true)
}

// bindEnvironmentVariables sets up flexible environment variable binding
func bindEnvironmentVariables() {
	bindEnvKeys("ai.gemini.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_GEMINI_API_KEY",
		"GOOGLE_AI_API_KEY",
	})

	bindEnvKeys("search.providers.brave.api_key", []string{
		"BRAVE_SEARCH_API_KEY",
		"BRAVE_API_KEY",
	})

	bindEnvKeys("redis.addr", []string{
		"REDIS_ADDR",
		"REDIS_URL",
	})

	bindEnvKeys("redis.password", []string{
		"REDIS_PASSWORD",
	})

	bindEnvKeys("notify.webhook_url", []string{
		"REPORT_WEBHOOK_URL",
		"NOTIFY_WEBHOOK_URL",
	})

	bindEnvKeys("events.social_webhook_url", []string{"SOCIAL_WEBHOOK_URL"})
	bindEnvKeys("events.translate_webhook_url", []string{"TRANSLATE_WEBHOOK_URL"})
	bindEnvKeys("events.push_webhook_url", []string{"PUSH_WEBHOOK_URL"})
	bindEnvKeys("events.index_endpoint", []string{"INDEXNOW_ENDPOINT"})
	bindEnvKeys("events.index_key", []string{"INDEXNOW_KEY"})
	bindEnvKeys("events.site_url", []string{"SITE_URL"})

	bindEnvKeys("app.debug", []string{
		"DEBUG",
		"AUTOPRESS_DEBUG",
	})
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

// validateConfig ensures required configuration is present
func validateConfig(config *Config) error {
	var errors []string

	durations := map[string]string{
		"ai.gemini.timeout":                  config.AI.Gemini.Timeout,
		"search.timeout":                     config.Search.Timeout,
		"search.providers.brave.rate_limit":  config.Search.Providers.Brave.RateLimit,
		"feeds.timeout":                      config.Feeds.Timeout,
		"feeds.recency_window":               config.Feeds.RecencyWindow,
		"store.timeout":                      config.Store.Timeout,
		"cache.memory_ttl":                   config.Cache.MemoryTTL,
		"cache.default_ttl":                  config.Cache.DefaultTTL,
		"visual.timeout":                     config.Visual.Timeout,
		"notify.timeout":                     config.Notify.Timeout,
	}
	for key, duration := range durations {
		if duration != "" {
			if _, err := time.ParseDuration(duration); err != nil {
				errors = append(errors, fmt.Sprintf("invalid duration for %s: %s", key, duration))
			}
		}
	}

	if config.Scheduler.IntervalHours < 1 {
		errors = append(errors, "scheduler.interval_hours must be at least 1")
	}
	if config.Scheduler.TargetCount < 1 {
		errors = append(errors, "scheduler.target_count must be at least 1")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Convenience getters for commonly used configuration values
func GetApp() App             { return Get().App }
func GetAI() AI               { return Get().AI }
func GetSearch() Search       { return Get().Search }
func GetFeeds() Feeds         { return Get().Feeds }
func GetRedis() Redis         { return Get().Redis }
func GetCache() Cache         { return Get().Cache }
func GetScheduler() Scheduler { return Get().Scheduler }
func GetVisual() Visual       { return Get().Visual }
func GetNotify() Notify       { return Get().Notify }
func GetEvents() Events       { return Get().Events }
func GetServer() Server       { return Get().Server }
func GetLogging() Logging     { return Get().Logging }

func GetGeminiAPIKey() string { return Get().AI.Gemini.APIKey }
func GetGeminiModel() string  { return Get().AI.Gemini.Model }
func GetDataDir() string      { return Get().App.DataDir }
func IsDebugMode() bool       { return Get().App.Debug }

// DefaultFeedSources is used when no feeds are configured.
func DefaultFeedSources() []FeedSource {
	return []FeedSource{
		{Name: "BBC World", URL: "https://feeds.bbci.co.uk/news/world/rss.xml"},
		{Name: "Reuters Top", URL: "https://feeds.reuters.com/reuters/topNews"},
		{Name: "The Guardian", URL: "https://www.theguardian.com/world/rss"},
		{Name: "AP Top", URL: "https://apnews.com/hub/ap-top-news.rss"},
	}
}

// Reset clears the global configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viper.Reset()
}
