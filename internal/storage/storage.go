// Package storage defines the persistence contract for papers.
//
// Two interchangeable backends implement Store: an embedded SQLite database
// for single-node deployments and a hosted PostgreSQL database. Dedup on
// insert is atomic at the storage layer in both (insert-if-absent keyed on
// GUID); it is the only concurrency-correctness requirement the pipeline
// relies on.
package storage

import (
	"context"
	"time"

	"github.com/scipush/scipush/internal/core/domain"
)

// Store persists papers keyed by their globally unique GUID.
type Store interface {
	// SavePaper inserts the paper if its GUID is absent. Returns true when
	// the paper was new, false when an existing row was left untouched.
	SavePaper(ctx context.Context, paper *domain.Paper) (bool, error)

	GetPaperByGUID(ctx context.Context, guid string) (*domain.Paper, error)
	GetPaperByArxivID(ctx context.Context, arxivID string) (*domain.Paper, error)

	GetPapersByPublishedRange(ctx context.Context, start, end time.Time) ([]*domain.Paper, error)
	CountPapersByPublishedRange(ctx context.Context, start, end time.Time) (int, error)

	// GetPapersByFetchedRange selects on FetchedAt, not PublishedAt. The
	// manual daily trigger uses it to find "today's batch".
	GetPapersByFetchedRange(ctx context.Context, start, end time.Time) ([]*domain.Paper, error)

	// GetUnnotifiedPapers returns papers still waiting for dispatch, oldest
	// first.
	GetUnnotifiedPapers(ctx context.Context) ([]*domain.Paper, error)

	MarkNotified(ctx context.Context, guid string) error
	ResetNotified(ctx context.Context, guids []string) error

	UpdateSummary(ctx context.Context, guid string, summary *domain.Summary) error
	UpdateDeepAnalysis(ctx context.Context, guid string, analysis string) error

	Close() error
}
