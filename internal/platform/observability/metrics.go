package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PapersFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scipush_papers_fetched_total",
		Help: "The total number of papers fetched from feeds",
	}, []string{"source"})

	PapersDeduplicated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scipush_papers_saved_total",
		Help: "The total number of save attempts by dedup outcome",
	}, []string{"outcome"})

	PapersScored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scipush_papers_scored_total",
		Help: "The total number of scoring attempts by status",
	}, []string{"status"})

	ScoringDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scipush_scoring_batch_duration_seconds",
		Help:    "Duration in seconds to score a batch of papers",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	SelectionFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scipush_selection_fallbacks_total",
		Help: "The total number of selections that fell back to truncation",
	})

	PapersNotified = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scipush_papers_notified_total",
		Help: "The total number of papers delivered to at least one channel",
	})

	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scipush_pipeline_runs_total",
		Help: "The total number of pipeline runs by operation and status",
	}, []string{"operation", "status"})

	PipelineRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scipush_pipeline_run_duration_seconds",
		Help:    "Duration of pipeline runs",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{"operation"})
)
