package scoring

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/scipush/scipush/internal/core/domain"
)

const defaultConcurrency = 5

// PaperScorer scores a single paper.
type PaperScorer interface {
	ScorePaper(ctx context.Context, paper *domain.Paper) (*domain.Summary, error)
}

// SummaryWriter persists a generated summary.
type SummaryWriter interface {
	UpdateSummary(ctx context.Context, guid string, summary *domain.Summary) error
}

// Result is the per-paper outcome of a batch run. A failed paper carries
// its error and never aborts the rest of the batch.
type Result struct {
	Paper *domain.Paper
	Err   error
}

// Batch scores papers concurrently, persisting each summary as soon as it
// is produced so a crash mid-batch loses at most the in-flight papers.
type Batch struct {
	scorer      PaperScorer
	store       SummaryWriter
	logger      *zerolog.Logger
	concurrency int
}

// NewBatch builds a batch processor. concurrency <= 0 selects the default
// of 5 parallel in-flight papers.
func NewBatch(scorer PaperScorer, store SummaryWriter, concurrency int, logger *zerolog.Logger) *Batch {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	return &Batch{
		scorer:      scorer,
		store:       store,
		logger:      logger,
		concurrency: concurrency,
	}
}

// Process scores all papers and returns one Result per input, in input
// order. Successfully scored papers have Summary attached and persisted.
func (b *Batch) Process(ctx context.Context, papers []*domain.Paper) []Result {
	results := make([]Result, len(papers))

	sem := make(chan struct{}, b.concurrency)

	var wg sync.WaitGroup

	for i, paper := range papers {
		wg.Add(1)

		go func(i int, paper *domain.Paper) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[i] = b.processOne(ctx, paper)
		}(i, paper)
	}

	wg.Wait()

	return results
}

func (b *Batch) processOne(ctx context.Context, paper *domain.Paper) Result {
	summary, err := b.scorer.ScorePaper(ctx, paper)
	if err != nil {
		b.logger.Warn().
			Err(err).
			Str("arxiv_id", paper.ArxivID).
			Msg("Skipping paper after scoring failure")

		return Result{Paper: paper, Err: err}
	}

	if err := b.store.UpdateSummary(ctx, paper.GUID, summary); err != nil {
		b.logger.Error().
			Err(err).
			Str("arxiv_id", paper.ArxivID).
			Msg("Failed to persist summary")

		return Result{Paper: paper, Err: err}
	}

	paper.Summary = summary

	return Result{Paper: paper}
}
