// Package app wires the application together and exposes its run modes:
//
//   - Serve mode: daily scheduler plus the health and API server
//   - Run-once mode: a single full pipeline run
//   - Fetch-only mode: fetch and save papers without scoring or notifying
//   - Process-pending mode: retry scoring and delivery for stored papers
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/scipush/scipush/internal/api"
	"github.com/scipush/scipush/internal/core/domain"
	"github.com/scipush/scipush/internal/ingest/parser"
	"github.com/scipush/scipush/internal/ingest/source"
	"github.com/scipush/scipush/internal/llm"
	"github.com/scipush/scipush/internal/notify"
	"github.com/scipush/scipush/internal/notify/feishu"
	"github.com/scipush/scipush/internal/notify/telegram"
	"github.com/scipush/scipush/internal/platform/config"
	"github.com/scipush/scipush/internal/platform/observability"
	"github.com/scipush/scipush/internal/platform/worker"
	"github.com/scipush/scipush/internal/process/analysis"
	"github.com/scipush/scipush/internal/process/pipeline"
	"github.com/scipush/scipush/internal/process/scoring"
	"github.com/scipush/scipush/internal/process/selection"
	"github.com/scipush/scipush/internal/storage"
)

const dailyTaskName = "daily_pipeline"

// App holds the wired application dependencies.
type App struct {
	cfg          *config.Config
	store        storage.Store
	logger       *zerolog.Logger
	orchestrator *pipeline.Orchestrator
	analyzer     *analysis.Service
}

// New wires all components from the configuration. The store is managed
// by the caller; everything else is built here.
func New(cfg *config.Config, store storage.Store, logger *zerolog.Logger) (*App, error) {
	a := &App{cfg: cfg, store: store, logger: logger}

	dispatcher, err := a.buildDispatcher()
	if err != nil {
		return nil, err
	}

	var (
		scorer   pipeline.BatchScorer
		selector pipeline.PaperSelector
	)

	if cfg.ScoringEnabled && cfg.LLMAPIKey != "" {
		client := a.buildLLMClient()

		scorer = scoring.NewBatch(
			scoring.NewScorer(client, logger),
			store,
			cfg.MaxConcurrentScoring,
			logger,
		)
		selector = selection.NewSelector(client, logger)

		var pusher analysis.Pusher
		if cfg.DeepAnalysisOn {
			pusher = dispatcher
		}

		a.analyzer = analysis.NewService(store, client, pusher, logger)
	} else {
		logger.Warn().Msg("Scoring disabled, papers will be saved without summaries")
	}

	opts := pipeline.Options{
		ScoringEnabled:        cfg.ScoringEnabled && cfg.LLMAPIKey != "",
		MinNotificationScore:  cfg.MinNotificationScore,
		MaxDailyNotifications: cfg.MaxDailyNotifications,
	}

	a.orchestrator = pipeline.New(
		a.buildSources(),
		parser.New(),
		store,
		scorer,
		selector,
		dispatcher,
		opts,
		logger,
	)

	return a, nil
}

func (a *App) buildSources() []pipeline.Source {
	sources := make([]pipeline.Source, 0, len(a.cfg.FeedURLs))

	for _, url := range a.cfg.FeedURLs {
		url = strings.TrimSpace(url)
		if url == "" {
			continue
		}

		sources = append(sources, source.NewFeed(url,
			source.WithTimeout(a.cfg.FeedFetchTimeout),
			source.WithUserAgent(a.cfg.FeedUserAgent),
		))
	}

	return sources
}

func (a *App) buildLLMClient() llm.Client {
	return llm.NewOpenAI(llm.Options{
		APIKey:       a.cfg.LLMAPIKey,
		BaseURL:      a.cfg.LLMBaseURL,
		Model:        a.cfg.LLMModel,
		Timeout:      a.cfg.LLMTimeout,
		RateLimitRPS: a.cfg.LLMRateLimitRPS,
	}, a.logger)
}

func (a *App) buildDispatcher() (*notify.Multi, error) {
	var channels []notify.Notifier

	if a.cfg.NotificationsOn && a.cfg.TelegramEnabled() {
		tg, err := telegram.New(a.cfg.TelegramBotToken, a.cfg.TelegramChatID, a.cfg.NotifyRateDelay, a.logger)
		if err != nil {
			return nil, fmt.Errorf("telegram init: %w", err)
		}

		channels = append(channels, tg)
		a.logger.Info().Int64("chat_id", a.cfg.TelegramChatID).Msg("Telegram notifier enabled")
	}

	if a.cfg.NotificationsOn && a.cfg.FeishuEnabled() {
		channels = append(channels, feishu.New(
			a.cfg.FeishuWebhookURL,
			a.cfg.FeishuSecret,
			a.cfg.NotifyRateDelay,
			a.cfg.WebhookTimeout,
			a.logger,
		))
		a.logger.Info().Msg("Feishu notifier enabled")
	}

	if len(channels) == 0 {
		a.logger.Warn().Msg("No notification channels configured, running in dry mode")
	}

	return notify.NewMulti(channels...), nil
}

// RunServe runs the daily scheduler until the context is canceled. The
// health and API server is expected to be started separately.
func (a *App) RunServe(ctx context.Context) error {
	scheduler := worker.NewDailyScheduler(a.logger)

	scheduler.AddTask(&worker.DailyTask{
		Name: dailyTaskName,
		At:   worker.Clock{Hour: a.cfg.DailyFetchHour, Minute: a.cfg.DailyFetchMinute},
		Run: func(ctx context.Context, logger *zerolog.Logger) error {
			outcome, err := a.orchestrator.TriggerDaily(ctx, false)
			if err != nil {
				return err
			}

			logger.Info().
				Str("status", string(outcome.Status)).
				Int("fetched", outcome.Stats.Fetched).
				Int("notified", outcome.Stats.Notified).
				Msg("Scheduled run completed")

			return nil
		},
	})

	return scheduler.Run(ctx)
}

// RunOnce executes a single full pipeline run.
func (a *App) RunOnce(ctx context.Context) error {
	stats, err := a.orchestrator.RunDaily(ctx)
	a.logStats(stats)

	return err
}

// RunFetchOnly fetches and saves papers without scoring or notifying.
func (a *App) RunFetchOnly(ctx context.Context) error {
	stats, err := a.orchestrator.FetchOnly(ctx)
	a.logStats(stats)

	return err
}

// RunProcessPending retries scoring and delivery for stored papers.
func (a *App) RunProcessPending(ctx context.Context) error {
	stats, err := a.orchestrator.ProcessPending(ctx)
	a.logStats(stats)

	return err
}

// StartHealthServer starts the health, metrics, and API server. It blocks
// until the context is canceled.
func (a *App) StartHealthServer(ctx context.Context) error {
	handler := api.New(a.orchestrator, a.store, a.apiAnalyzer(), a.logger).Routes()

	ready := func(ctx context.Context) error {
		_, err := a.store.GetUnnotifiedPapers(ctx)

		return err
	}

	return observability.NewServer(a.cfg.HealthPort, ready, handler, a.logger).Start(ctx)
}

func (a *App) apiAnalyzer() api.Analyzer {
	if a.analyzer == nil {
		// Typed nil would defeat the handler's nil check.
		return nil
	}

	return a.analyzer
}

func (a *App) logStats(stats *domain.RunStats) {
	if stats == nil {
		return
	}

	a.logger.Info().
		Int("fetched", stats.Fetched).
		Int("new", stats.New).
		Int("pending", stats.Pending).
		Int("processed", stats.Processed).
		Int("notified", stats.Notified).
		Strs("errors", stats.Errors).
		Msg("Run finished")
}
