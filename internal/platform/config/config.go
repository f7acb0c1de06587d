// Package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Storage backend names.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Validation errors.
var (
	ErrUnknownBackend   = errors.New("unknown storage backend")
	ErrMissingDSN       = errors.New("POSTGRES_DSN required for postgres backend")
	ErrNoNotifier       = errors.New("at least one notification channel must be configured when notifications are enabled")
	ErrThresholdRange   = errors.New("MIN_NOTIFICATION_SCORE must be between 1 and 10")
	ErrScheduleOutOfDay = errors.New("DAILY_FETCH_HOUR/MINUTE out of range")
)

type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"local"`

	// Storage
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"sqlite"`
	SQLitePath     string `env:"SQLITE_PATH" envDefault:"./data/scipush.db"`
	PostgresDSN    string `env:"POSTGRES_DSN"`

	// Feeds
	FeedURLs         []string      `env:"FEED_URLS" envSeparator:"," envDefault:"https://rss.arxiv.org/rss/cs.AI"`
	FeedFetchTimeout time.Duration `env:"FEED_FETCH_TIMEOUT" envDefault:"30s"`
	FeedUserAgent    string        `env:"FEED_USER_AGENT" envDefault:"scipush/1.0 (arXiv RSS reader)"`

	// LLM
	LLMAPIKey       string        `env:"LLM_API_KEY"`
	LLMModel        string        `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	LLMBaseURL      string        `env:"LLM_BASE_URL"`
	LLMTimeout      time.Duration `env:"LLM_TIMEOUT" envDefault:"60s"`
	LLMRateLimitRPS float64       `env:"LLM_RATE_LIMIT_RPS" envDefault:"1"`

	// Scoring and selection
	ScoringEnabled        bool    `env:"SCORING_ENABLED" envDefault:"true"`
	MaxConcurrentScoring  int     `env:"MAX_CONCURRENT_SCORING" envDefault:"5"`
	MinNotificationScore  float64 `env:"MIN_NOTIFICATION_SCORE" envDefault:"8.0"`
	MaxDailyNotifications int     `env:"MAX_DAILY_NOTIFICATIONS" envDefault:"10"`

	// Notifications
	TelegramBotToken string        `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   int64         `env:"TELEGRAM_CHAT_ID"`
	FeishuWebhookURL string        `env:"FEISHU_WEBHOOK_URL"`
	FeishuSecret     string        `env:"FEISHU_SECRET"`
	NotifyRateDelay  time.Duration `env:"NOTIFY_RATE_DELAY" envDefault:"500ms"`
	WebhookTimeout   time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"10s"`
	NotificationsOn  bool          `env:"NOTIFICATIONS_ENABLED" envDefault:"true"`
	DeepAnalysisOn   bool          `env:"DEEP_ANALYSIS_ENABLED" envDefault:"false"`

	// Schedule
	DailyFetchHour   int `env:"DAILY_FETCH_HOUR" envDefault:"8"`
	DailyFetchMinute int `env:"DAILY_FETCH_MINUTE" envDefault:"0"`

	// HTTP
	HealthPort int `env:"HEALTH_PORT" envDefault:"8080"`
}

// Load reads .env (if present) and the environment, then validates.
func Load() (*Config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env file is optional

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(c.StorageBackend) {
	case BackendSQLite:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return ErrMissingDSN
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.StorageBackend)
	}

	if c.MinNotificationScore < 1 || c.MinNotificationScore > 10 {
		return ErrThresholdRange
	}

	if c.DailyFetchHour < 0 || c.DailyFetchHour > 23 || c.DailyFetchMinute < 0 || c.DailyFetchMinute > 59 {
		return ErrScheduleOutOfDay
	}

	if c.NotificationsOn && c.TelegramBotToken == "" && c.FeishuWebhookURL == "" {
		return ErrNoNotifier
	}

	return nil
}

// TelegramEnabled reports whether a Telegram channel is configured.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != 0
}

// FeishuEnabled reports whether a Feishu webhook channel is configured.
func (c *Config) FeishuEnabled() bool {
	return c.FeishuWebhookURL != ""
}
