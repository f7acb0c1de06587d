// Package notify delivers paper notifications to one or more channels.
//
// Channel adapters never return errors to callers: a failed send is
// logged inside the adapter and reported as false (or a lower success
// count) so that one broken channel cannot abort a pipeline run.
package notify

import (
	"context"
	"sync"

	"github.com/scipush/scipush/internal/core/domain"
)

// Notifier is a single delivery channel.
type Notifier interface {
	// Name identifies the channel in logs.
	Name() string

	// SendPaper delivers one paper. Returns true on success.
	SendPaper(ctx context.Context, paper *domain.Paper) bool

	// SendBatch delivers a header followed by each paper in order,
	// pacing sends to respect channel rate limits. totalFiltered is the
	// pre-cap candidate count shown in the header when larger than
	// len(papers). Returns the number of papers delivered.
	SendBatch(ctx context.Context, papers []*domain.Paper, totalFiltered int) int

	// SendMessage delivers a plain text message. Returns true on success.
	SendMessage(ctx context.Context, text string) bool

	// SendDeepAnalysis delivers a paper's long-form analysis. Returns
	// true on success.
	SendDeepAnalysis(ctx context.Context, paper *domain.Paper) bool
}

// Multi fans out to all configured channels concurrently.
type Multi struct {
	notifiers []Notifier
}

// NewMulti builds a dispatcher over the given channels.
func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

// Channels returns the number of configured channels.
func (m *Multi) Channels() int { return len(m.notifiers) }

// SendPaper reports true if at least one channel delivered the paper.
func (m *Multi) SendPaper(ctx context.Context, paper *domain.Paper) bool {
	results := m.fanOut(func(n Notifier) int {
		if n.SendPaper(ctx, paper) {
			return 1
		}

		return 0
	})

	return anyPositive(results)
}

// SendBatch reports the best per-channel delivery count. Using the max
// matches the "delivered somewhere" semantics of SendPaper: a paper
// counts as notified if any channel carried it.
func (m *Multi) SendBatch(ctx context.Context, papers []*domain.Paper, totalFiltered int) int {
	if len(papers) == 0 {
		return 0
	}

	results := m.fanOut(func(n Notifier) int {
		return n.SendBatch(ctx, papers, totalFiltered)
	})

	best := 0
	for _, count := range results {
		if count > best {
			best = count
		}
	}

	return best
}

// SendMessage reports true if at least one channel delivered the message.
func (m *Multi) SendMessage(ctx context.Context, text string) bool {
	results := m.fanOut(func(n Notifier) int {
		if n.SendMessage(ctx, text) {
			return 1
		}

		return 0
	})

	return anyPositive(results)
}

// SendDeepAnalysis reports true if at least one channel delivered the
// analysis.
func (m *Multi) SendDeepAnalysis(ctx context.Context, paper *domain.Paper) bool {
	results := m.fanOut(func(n Notifier) int {
		if n.SendDeepAnalysis(ctx, paper) {
			return 1
		}

		return 0
	})

	return anyPositive(results)
}

func (m *Multi) fanOut(send func(Notifier) int) []int {
	results := make([]int, len(m.notifiers))

	var wg sync.WaitGroup

	for i, notifier := range m.notifiers {
		wg.Add(1)

		go func(i int, notifier Notifier) {
			defer wg.Done()

			results[i] = send(notifier)
		}(i, notifier)
	}

	wg.Wait()

	return results
}

func anyPositive(results []int) bool {
	for _, r := range results {
		if r > 0 {
			return true
		}
	}

	return false
}

// ScoreEmoji maps a 1-10 relevance score to the marker shown next to it.
func ScoreEmoji(score float64) string {
	switch {
	case score >= 9:
		return "🔥🔥"
	case score >= 8:
		return "🔥"
	case score >= 6:
		return "⭐"
	case score >= 4:
		return "📊"
	default:
		return "📄"
	}
}
