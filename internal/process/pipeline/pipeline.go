// Package pipeline orchestrates the daily flow: fetch feeds, dedup-save,
// score, filter, select, notify.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scipush/scipush/internal/core/domain"
	"github.com/scipush/scipush/internal/platform/observability"
	"github.com/scipush/scipush/internal/process/scoring"
	"github.com/scipush/scipush/internal/storage"
)

// Source is a single feed endpoint.
type Source interface {
	SourceID() string
	FetchRaw(ctx context.Context) (string, error)
}

// Parser turns raw feed content into papers.
type Parser interface {
	Parse(raw, sourceID string) ([]*domain.Paper, error)
}

// BatchScorer scores a batch of papers with per-paper failure isolation.
type BatchScorer interface {
	Process(ctx context.Context, papers []*domain.Paper) []scoring.Result
}

// PaperSelector picks the final subset when candidates exceed the cap.
type PaperSelector interface {
	Select(ctx context.Context, papers []*domain.Paper, maxCount int) []*domain.Paper
}

// Dispatcher delivers a finalized batch to the configured channels.
type Dispatcher interface {
	SendBatch(ctx context.Context, papers []*domain.Paper, totalFiltered int) int
}

// Options carries the orchestrator's tunables.
type Options struct {
	ScoringEnabled        bool
	MinNotificationScore  float64
	MaxDailyNotifications int
}

// Orchestrator coordinates one pipeline run at a time. It is not safe to
// run two invocations concurrently; the scheduler serializes them.
type Orchestrator struct {
	sources  []Source
	parser   Parser
	store    storage.Store
	scorer   BatchScorer
	selector PaperSelector
	notifier Dispatcher
	opts     Options
	logger   *zerolog.Logger
	now      func() time.Time
}

// New wires an Orchestrator. scorer and selector may be nil when scoring
// is disabled.
func New(
	sources []Source,
	parser Parser,
	store storage.Store,
	scorer BatchScorer,
	selector PaperSelector,
	notifier Dispatcher,
	opts Options,
	logger *zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		sources:  sources,
		parser:   parser,
		store:    store,
		scorer:   scorer,
		selector: selector,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// RunDaily executes the full pipeline. Per-source and per-paper failures
// are recorded in the returned stats; only storage failures abort the run
// (a non-nil error still carries the stats accumulated so far).
func (o *Orchestrator) RunDaily(ctx context.Context) (*domain.RunStats, error) {
	log := o.runLogger("daily_pipeline")
	log.Info().Msg("Starting daily pipeline")

	start := o.now()
	stats := &domain.RunStats{}

	defer func() {
		observability.PipelineRunDuration.WithLabelValues("daily").Observe(time.Since(start).Seconds())
	}()

	all := o.fetchAll(ctx, log, stats)

	newPapers, err := o.saveNew(ctx, all, stats)
	if err != nil {
		observability.PipelineRuns.WithLabelValues("daily", "error").Inc()

		return stats, err
	}

	log.Info().Int("count", len(newPapers)).Msg("New papers saved")

	if len(newPapers) == 0 {
		log.Info().Msg("No new papers to process")
		observability.PipelineRuns.WithLabelValues("daily", "ok").Inc()

		return stats, nil
	}

	processed := o.score(ctx, newPapers, stats)
	stats.Processed = len(processed)

	notified, err := o.notify(ctx, log, processed, stats)
	if err != nil {
		observability.PipelineRuns.WithLabelValues("daily", "error").Inc()

		return stats, err
	}

	stats.Notified = notified

	log.Info().
		Int("fetched", stats.Fetched).
		Int("new", stats.New).
		Int("processed", stats.Processed).
		Int("notified", stats.Notified).
		Msg("Daily pipeline completed")

	observability.PipelineRuns.WithLabelValues("daily", "ok").Inc()

	return stats, nil
}

// FetchOnly fetches and dedup-saves without scoring or notifications.
func (o *Orchestrator) FetchOnly(ctx context.Context) (*domain.RunStats, error) {
	log := o.runLogger("fetch_only")
	log.Info().Msg("Starting fetch-only run")

	stats := &domain.RunStats{}

	all := o.fetchAll(ctx, log, stats)

	if _, err := o.saveNew(ctx, all, stats); err != nil {
		observability.PipelineRuns.WithLabelValues("fetch_only", "error").Inc()

		return stats, err
	}

	log.Info().Int("fetched", stats.Fetched).Int("new", stats.New).Msg("Fetch-only completed")
	observability.PipelineRuns.WithLabelValues("fetch_only", "ok").Inc()

	return stats, nil
}

// ProcessPending retries scoring for stored papers without a summary,
// then re-runs the notify step over everything still unnotified.
func (o *Orchestrator) ProcessPending(ctx context.Context) (*domain.RunStats, error) {
	log := o.runLogger("process_pending")
	log.Info().Msg("Processing pending papers")

	stats := &domain.RunStats{}

	pending, err := o.store.GetUnnotifiedPapers(ctx)
	if err != nil {
		return stats, fmt.Errorf("load pending papers: %w", err)
	}

	stats.Pending = len(pending)
	log.Info().Int("count", len(pending)).Msg("Pending papers found")

	if len(pending) == 0 {
		return stats, nil
	}

	var unscored []*domain.Paper

	for _, paper := range pending {
		if paper.Summary == nil {
			unscored = append(unscored, paper)
		}
	}

	stats.Processed = len(o.score(ctx, unscored, stats))

	// Reload so papers scored in earlier runs and just now are both
	// carried with their persisted summaries.
	pending, err = o.store.GetUnnotifiedPapers(ctx)
	if err != nil {
		return stats, fmt.Errorf("reload pending papers: %w", err)
	}

	notified, err := o.notify(ctx, log, pending, stats)
	if err != nil {
		return stats, err
	}

	stats.Notified = notified

	return stats, nil
}

// TriggerDaily is the manual, idempotent entry point. The outcome status
// depends on the state of today's batch (papers with fetched_at in the
// current UTC calendar day); only force causes re-delivery of an already
// notified batch.
func (o *Orchestrator) TriggerDaily(ctx context.Context, force bool) (*domain.TriggerOutcome, error) {
	log := o.runLogger("trigger_daily")

	dayStart := o.now().UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	today, err := o.store.GetPapersByFetchedRange(ctx, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("load today's papers: %w", err)
	}

	if len(today) == 0 {
		log.Info().Msg("No papers fetched today, running full pipeline")

		stats, err := o.RunDaily(ctx)
		if err != nil {
			return nil, err
		}

		return &domain.TriggerOutcome{Status: domain.StatusFetchedAndNotified, Stats: *stats}, nil
	}

	var unnotified []*domain.Paper

	for _, paper := range today {
		if !paper.IsNotified {
			unnotified = append(unnotified, paper)
		}
	}

	if len(unnotified) > 0 {
		log.Info().
			Int("today", len(today)).
			Int("unnotified", len(unnotified)).
			Msg("Notifying today's unnotified papers")

		stats := &domain.RunStats{Fetched: len(today), Pending: len(unnotified)}

		var unscored []*domain.Paper

		for _, paper := range unnotified {
			if paper.Summary == nil {
				unscored = append(unscored, paper)
			}
		}

		stats.Processed = len(o.score(ctx, unscored, stats))

		notified, err := o.notify(ctx, log, unnotified, stats)
		if err != nil {
			return nil, err
		}

		stats.Notified = notified

		return &domain.TriggerOutcome{Status: domain.StatusProcessedAndNotified, Stats: *stats}, nil
	}

	if !force {
		log.Info().Int("today", len(today)).Msg("All papers already notified")

		return &domain.TriggerOutcome{
			Status: domain.StatusAlreadyNotified,
			Stats:  domain.RunStats{Fetched: len(today), Notified: len(today)},
		}, nil
	}

	log.Info().Int("today", len(today)).Msg("Force re-notifying today's papers")

	guids := make([]string, len(today))
	for i, paper := range today {
		guids[i] = paper.GUID
	}

	if err := o.store.ResetNotified(ctx, guids); err != nil {
		return nil, fmt.Errorf("reset notified flags: %w", err)
	}

	stats := &domain.RunStats{Fetched: len(today), Pending: len(today)}

	notified, err := o.notify(ctx, log, today, stats)
	if err != nil {
		return nil, err
	}

	stats.Notified = notified

	return &domain.TriggerOutcome{Status: domain.StatusReNotified, Stats: *stats}, nil
}

func (o *Orchestrator) runLogger(job string) zerolog.Logger {
	return o.logger.With().
		Str("job", job).
		Str("run_id", uuid.NewString()).
		Logger()
}

func (o *Orchestrator) fetchAll(ctx context.Context, log zerolog.Logger, stats *domain.RunStats) []*domain.Paper {
	var all []*domain.Paper

	for _, source := range o.sources {
		papers, err := o.fetchAndParse(ctx, source)
		if err != nil {
			log.Warn().Err(err).Str("source", source.SourceID()).Msg("Feed fetch failed")
			stats.Errors = append(stats.Errors, fmt.Sprintf("fetch failed: %s", source.SourceID()))

			continue
		}

		observability.PapersFetched.WithLabelValues(source.SourceID()).Add(float64(len(papers)))

		all = append(all, papers...)
		stats.Fetched += len(papers)

		log.Info().
			Str("source_id", source.SourceID()).
			Int("paper_count", len(papers)).
			Msg("Source fetched")
	}

	return all
}

func (o *Orchestrator) fetchAndParse(ctx context.Context, source Source) ([]*domain.Paper, error) {
	raw, err := source.FetchRaw(ctx)
	if err != nil {
		return nil, err
	}

	return o.parser.Parse(raw, source.SourceID())
}

func (o *Orchestrator) saveNew(ctx context.Context, papers []*domain.Paper, stats *domain.RunStats) ([]*domain.Paper, error) {
	var newPapers []*domain.Paper

	for _, paper := range papers {
		isNew, err := o.store.SavePaper(ctx, paper)
		if err != nil {
			return nil, fmt.Errorf("save paper %s: %w", paper.GUID, err)
		}

		if isNew {
			observability.PapersDeduplicated.WithLabelValues("new").Inc()

			newPapers = append(newPapers, paper)
		} else {
			observability.PapersDeduplicated.WithLabelValues("duplicate").Inc()
		}
	}

	stats.New = len(newPapers)

	return newPapers, nil
}

// score runs the batch scorer over papers when scoring is enabled.
// Failed papers are recorded in stats and carried along without a
// summary. The returned slice always has the same members as the input.
func (o *Orchestrator) score(ctx context.Context, papers []*domain.Paper, stats *domain.RunStats) []*domain.Paper {
	if !o.opts.ScoringEnabled || o.scorer == nil || len(papers) == 0 {
		return papers
	}

	start := o.now()
	results := o.scorer.Process(ctx, papers)
	observability.ScoringDuration.Observe(time.Since(start).Seconds())

	processed := make([]*domain.Paper, 0, len(results))

	for _, res := range results {
		if res.Err != nil {
			observability.PapersScored.WithLabelValues("error").Inc()
			stats.Errors = append(stats.Errors, fmt.Sprintf("scoring failed: %s", res.Paper.ArxivID))
		} else {
			observability.PapersScored.WithLabelValues("ok").Inc()
		}

		processed = append(processed, res.Paper)
	}

	return processed
}

// notify filters papers by score, caps the batch, dispatches it, and
// marks every input paper notified regardless of delivery outcome so it
// is never reconsidered.
func (o *Orchestrator) notify(ctx context.Context, log zerolog.Logger, papers []*domain.Paper, stats *domain.RunStats) (int, error) {
	if len(papers) == 0 {
		return 0, nil
	}

	var high []*domain.Paper

	for _, paper := range papers {
		if paper.Summary != nil && paper.Score() >= o.opts.MinNotificationScore {
			high = append(high, paper)
		}
	}

	// Equal scores keep fetch order.
	sort.SliceStable(high, func(i, j int) bool {
		return high[i].Score() > high[j].Score()
	})

	totalFiltered := len(high)

	if o.opts.MaxDailyNotifications > 0 && len(high) > o.opts.MaxDailyNotifications {
		high = o.capBatch(ctx, log, high)

		log.Info().
			Int("total_high_score", totalFiltered).
			Int("limit", o.opts.MaxDailyNotifications).
			Int("sending", len(high)).
			Msg("Applied daily notification limit")
	}

	log.Info().
		Int("total_papers", len(papers)).
		Int("high_score_papers", totalFiltered).
		Int("sending_papers", len(high)).
		Float64("min_score", o.opts.MinNotificationScore).
		Msg("Filtering papers for notification")

	sent := 0
	if len(high) > 0 {
		sent = o.notifier.SendBatch(ctx, high, totalFiltered)
		observability.PapersNotified.Add(float64(sent))
	} else {
		log.Info().Msg("No papers above threshold, skipping notifications")
	}

	// Filtered-out papers are marked too so low scorers are not
	// reconsidered on the next run.
	for _, paper := range papers {
		if err := o.store.MarkNotified(ctx, paper.GUID); err != nil {
			return sent, fmt.Errorf("mark notified %s: %w", paper.GUID, err)
		}
	}

	return sent, nil
}

func (o *Orchestrator) capBatch(ctx context.Context, log zerolog.Logger, high []*domain.Paper) []*domain.Paper {
	limit := o.opts.MaxDailyNotifications

	if o.opts.ScoringEnabled && o.selector != nil {
		log.Info().
			Int("total_papers", len(high)).
			Int("target_count", limit).
			Msg("Using intelligent selection for paper filtering")

		return o.selector.Select(ctx, high, limit)
	}

	observability.SelectionFallbacks.Inc()

	return high[:limit]
}
