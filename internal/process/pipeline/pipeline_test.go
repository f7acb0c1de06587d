package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scipush/scipush/internal/core/domain"
	apperrors "github.com/scipush/scipush/internal/core/errors"
	"github.com/scipush/scipush/internal/process/scoring"
	"github.com/scipush/scipush/internal/storage"
)

var testNow = time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

// memStore is an in-memory storage.Store for orchestrator tests.
type memStore struct {
	mu     sync.Mutex
	papers map[string]*domain.Paper
	order  []string
}

var _ storage.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{papers: map[string]*domain.Paper{}}
}

func (m *memStore) SavePaper(_ context.Context, paper *domain.Paper) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.papers[paper.GUID]; ok {
		return false, nil
	}

	clone := *paper
	m.papers[paper.GUID] = &clone
	m.order = append(m.order, paper.GUID)

	return true, nil
}

func (m *memStore) GetPaperByGUID(_ context.Context, guid string) (*domain.Paper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	paper, ok := m.papers[guid]
	if !ok {
		return nil, apperrors.ErrNotFound
	}

	return paper, nil
}

func (m *memStore) GetPaperByArxivID(_ context.Context, arxivID string) (*domain.Paper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, guid := range m.order {
		if m.papers[guid].ArxivID == arxivID {
			return m.papers[guid], nil
		}
	}

	return nil, apperrors.ErrNotFound
}

func (m *memStore) GetPapersByPublishedRange(_ context.Context, start, end time.Time) ([]*domain.Paper, error) {
	return m.filter(func(p *domain.Paper) bool {
		return !p.PublishedAt.Before(start) && p.PublishedAt.Before(end)
	}), nil
}

func (m *memStore) CountPapersByPublishedRange(ctx context.Context, start, end time.Time) (int, error) {
	papers, _ := m.GetPapersByPublishedRange(ctx, start, end)

	return len(papers), nil
}

func (m *memStore) GetPapersByFetchedRange(_ context.Context, start, end time.Time) ([]*domain.Paper, error) {
	return m.filter(func(p *domain.Paper) bool {
		return !p.FetchedAt.Before(start) && p.FetchedAt.Before(end)
	}), nil
}

func (m *memStore) GetUnnotifiedPapers(context.Context) ([]*domain.Paper, error) {
	return m.filter(func(p *domain.Paper) bool { return !p.IsNotified }), nil
}

func (m *memStore) filter(keep func(*domain.Paper) bool) []*domain.Paper {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Paper

	for _, guid := range m.order {
		if keep(m.papers[guid]) {
			out = append(out, m.papers[guid])
		}
	}

	return out
}

func (m *memStore) MarkNotified(_ context.Context, guid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	paper, ok := m.papers[guid]
	if !ok {
		return apperrors.ErrNotFound
	}

	now := testNow
	paper.IsNotified = true
	paper.NotifiedAt = &now

	return nil
}

func (m *memStore) ResetNotified(_ context.Context, guids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, guid := range guids {
		if paper, ok := m.papers[guid]; ok {
			paper.IsNotified = false
			paper.NotifiedAt = nil
		}
	}

	return nil
}

func (m *memStore) UpdateSummary(_ context.Context, guid string, summary *domain.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	paper, ok := m.papers[guid]
	if !ok {
		return apperrors.ErrNotFound
	}

	paper.Summary = summary

	return nil
}

func (m *memStore) UpdateDeepAnalysis(_ context.Context, guid string, analysis string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	paper, ok := m.papers[guid]
	if !ok {
		return apperrors.ErrNotFound
	}

	if paper.Summary == nil {
		paper.Summary = &domain.Summary{}
	}

	paper.Summary.DeepAnalysis = analysis

	return nil
}

func (m *memStore) Close() error { return nil }

// stubSource returns canned feed content or an error.
type stubSource struct {
	id  string
	raw string
	err error
}

func (s *stubSource) SourceID() string { return s.id }

func (s *stubSource) FetchRaw(context.Context) (string, error) { return s.raw, s.err }

// stubParser maps raw content to preconfigured papers.
type stubParser struct {
	papers map[string][]*domain.Paper
}

func (p *stubParser) Parse(raw, _ string) ([]*domain.Paper, error) {
	papers, ok := p.papers[raw]
	if !ok {
		return nil, apperrors.NewParseError("stub", errors.New("unknown payload"))
	}

	// Fresh copies per parse, like a real parser would produce.
	out := make([]*domain.Paper, len(papers))
	for i, paper := range papers {
		clone := *paper
		out[i] = &clone
	}

	return out, nil
}

// stubBatchScorer assigns preconfigured scores and persists summaries the
// way the real batch coordinator does.
type stubBatchScorer struct {
	store  storage.Store
	scores map[string]float64
	fail   map[string]bool
}

func (s *stubBatchScorer) Process(ctx context.Context, papers []*domain.Paper) []scoring.Result {
	results := make([]scoring.Result, len(papers))

	for i, paper := range papers {
		if s.fail[paper.GUID] {
			results[i] = scoring.Result{Paper: paper, Err: errors.New("scoring failed")}

			continue
		}

		summary := &domain.Summary{
			TitleTranslated: "译文 " + paper.GUID,
			RelevanceScore:  s.scores[paper.GUID],
			GeneratedAt:     testNow,
		}

		_ = s.store.UpdateSummary(ctx, paper.GUID, summary)
		paper.Summary = summary
		results[i] = scoring.Result{Paper: paper}
	}

	return results
}

// recordingSelector truncates like the fallback but records invocations.
type recordingSelector struct {
	calls     int
	lastInput int
}

func (s *recordingSelector) Select(_ context.Context, papers []*domain.Paper, maxCount int) []*domain.Paper {
	s.calls++
	s.lastInput = len(papers)

	if len(papers) <= maxCount {
		return papers
	}

	return papers[:maxCount]
}

// recordingDispatcher captures every batch it is asked to send.
type recordingDispatcher struct {
	batches       [][]*domain.Paper
	totalFiltered []int
	sendCount     func(papers []*domain.Paper) int
}

func (d *recordingDispatcher) SendBatch(_ context.Context, papers []*domain.Paper, totalFiltered int) int {
	d.batches = append(d.batches, papers)
	d.totalFiltered = append(d.totalFiltered, totalFiltered)

	if d.sendCount != nil {
		return d.sendCount(papers)
	}

	return len(papers)
}

type fixture struct {
	store      *memStore
	selector   *recordingSelector
	dispatcher *recordingDispatcher
	orch       *Orchestrator
}

func feedPapers(n int, prefix string) []*domain.Paper {
	papers := make([]*domain.Paper, n)
	for i := range papers {
		papers[i] = &domain.Paper{
			GUID:        fmt.Sprintf("%s-%d", prefix, i),
			ArxivID:     fmt.Sprintf("2512.%s%03d", prefix, i),
			Title:       fmt.Sprintf("Paper %s %d", prefix, i),
			Abstract:    "abstract",
			PublishedAt: testNow.Add(-12 * time.Hour),
			FetchedAt:   testNow,
			SourceID:    "arxiv.cs.AI",
		}
	}

	return papers
}

func newFixture(t *testing.T, sources []Source, parser Parser, scores map[string]float64, fail map[string]bool, opts Options) *fixture {
	t.Helper()

	logger := zerolog.Nop()
	store := newMemStore()
	selector := &recordingSelector{}
	dispatcher := &recordingDispatcher{}

	scorer := &stubBatchScorer{store: store, scores: scores, fail: fail}

	orch := New(sources, parser, store, scorer, selector, dispatcher, opts, &logger)
	orch.now = func() time.Time { return testNow }

	return &fixture{store: store, selector: selector, dispatcher: dispatcher, orch: orch}
}

func defaultOpts() Options {
	return Options{ScoringEnabled: true, MinNotificationScore: 8.0, MaxDailyNotifications: 10}
}

func TestRunDailyThresholdAndMarking(t *testing.T) {
	papers := feedPapers(3, "a")
	parser := &stubParser{papers: map[string][]*domain.Paper{"feed": papers}}
	scores := map[string]float64{"a-0": 9.0, "a-1": 8.5, "a-2": 5.0}

	f := newFixture(t, []Source{&stubSource{id: "arxiv.cs.AI", raw: "feed"}}, parser, scores, nil, defaultOpts())

	stats, err := f.orch.RunDaily(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Fetched)
	assert.Equal(t, 3, stats.New)
	assert.Equal(t, 3, stats.Processed)
	assert.Equal(t, 2, stats.Notified)
	assert.Empty(t, stats.Errors)

	require.Len(t, f.dispatcher.batches, 1)

	batch := f.dispatcher.batches[0]
	require.Len(t, batch, 2)
	assert.Equal(t, "a-0", batch[0].GUID, "highest score first")
	assert.Equal(t, "a-1", batch[1].GUID)
	assert.Equal(t, 2, f.dispatcher.totalFiltered[0])

	// Every processed paper is marked, including the low scorer.
	for _, guid := range []string{"a-0", "a-1", "a-2"} {
		stored, err := f.store.GetPaperByGUID(context.Background(), guid)
		require.NoError(t, err)
		assert.True(t, stored.IsNotified, guid)
	}
}

func TestRunDailyCapUsesSelection(t *testing.T) {
	papers := feedPapers(25, "b")
	scores := map[string]float64{}

	for i, paper := range papers {
		scores[paper.GUID] = 9.9 - float64(i)*0.01
	}

	parser := &stubParser{papers: map[string][]*domain.Paper{"feed": papers}}
	f := newFixture(t, []Source{&stubSource{id: "arxiv.cs.AI", raw: "feed"}}, parser, scores, nil, defaultOpts())

	stats, err := f.orch.RunDaily(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 25, stats.New)
	assert.Equal(t, 10, stats.Notified, "cap property")
	assert.Equal(t, 1, f.selector.calls)
	assert.Equal(t, 25, f.selector.lastInput)

	require.Len(t, f.dispatcher.batches, 1)
	assert.Len(t, f.dispatcher.batches[0], 10)
	assert.Equal(t, 25, f.dispatcher.totalFiltered[0], "header shows pre-cap count")
}

func TestRunDailyTruncatesWhenScoringDisabled(t *testing.T) {
	// With scoring off papers have no summaries, so nothing passes the
	// threshold and nothing is dispatched; everything is still marked.
	papers := feedPapers(5, "c")
	parser := &stubParser{papers: map[string][]*domain.Paper{"feed": papers}}

	opts := defaultOpts()
	opts.ScoringEnabled = false

	f := newFixture(t, []Source{&stubSource{id: "arxiv.cs.AI", raw: "feed"}}, parser, nil, nil, opts)

	stats, err := f.orch.RunDaily(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Notified)
	assert.Empty(t, f.dispatcher.batches)
	assert.Zero(t, f.selector.calls)

	pending, _ := f.store.GetUnnotifiedPapers(context.Background())
	assert.Empty(t, pending)
}

func TestRunDailyDedupSecondRun(t *testing.T) {
	papers := feedPapers(3, "d")
	parser := &stubParser{papers: map[string][]*domain.Paper{"feed": papers}}
	scores := map[string]float64{"d-0": 9.0, "d-1": 9.0, "d-2": 9.0}

	f := newFixture(t, []Source{&stubSource{id: "arxiv.cs.AI", raw: "feed"}}, parser, scores, nil, defaultOpts())

	_, err := f.orch.RunDaily(context.Background())
	require.NoError(t, err)

	stats, err := f.orch.RunDaily(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Fetched)
	assert.Equal(t, 0, stats.New, "dedup idempotence")
	assert.Equal(t, 0, stats.Notified)
	assert.Len(t, f.dispatcher.batches, 1, "no second dispatch")
}

func TestRunDailySourceFailureIsolation(t *testing.T) {
	papers := feedPapers(2, "e")
	parser := &stubParser{papers: map[string][]*domain.Paper{"good": papers}}
	scores := map[string]float64{"e-0": 9.0, "e-1": 9.0}

	sources := []Source{
		&stubSource{id: "arxiv.cs.LG", err: apperrors.NewFetchError("arxiv.cs.LG", errors.New("504"))},
		&stubSource{id: "arxiv.cs.AI", raw: "good"},
	}

	f := newFixture(t, sources, parser, scores, nil, defaultOpts())

	stats, err := f.orch.RunDaily(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Fetched, "healthy source still processed")
	assert.Equal(t, 2, stats.Notified)
	require.Len(t, stats.Errors, 1)
	assert.Contains(t, stats.Errors[0], "arxiv.cs.LG")
}

func TestRunDailyScoringFailureIsolation(t *testing.T) {
	papers := feedPapers(3, "f")
	parser := &stubParser{papers: map[string][]*domain.Paper{"feed": papers}}
	scores := map[string]float64{"f-0": 9.0, "f-2": 9.0}
	fail := map[string]bool{"f-1": true}

	f := newFixture(t, []Source{&stubSource{id: "arxiv.cs.AI", raw: "feed"}}, parser, scores, fail, defaultOpts())

	stats, err := f.orch.RunDaily(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Processed, "failed paper still carried")
	assert.Equal(t, 2, stats.Notified)
	require.Len(t, stats.Errors, 1)
	assert.Contains(t, stats.Errors[0], "scoring failed")

	// The unscored paper is marked notified so it is not retried forever.
	stored, err := f.store.GetPaperByGUID(context.Background(), "f-1")
	require.NoError(t, err)
	assert.True(t, stored.IsNotified)
	assert.Nil(t, stored.Summary)
}

func TestRunDailyMarksNotifiedOnDeliveryFailure(t *testing.T) {
	papers := feedPapers(2, "g")
	parser := &stubParser{papers: map[string][]*domain.Paper{"feed": papers}}
	scores := map[string]float64{"g-0": 9.0, "g-1": 9.0}

	f := newFixture(t, []Source{&stubSource{id: "arxiv.cs.AI", raw: "feed"}}, parser, scores, nil, defaultOpts())
	f.dispatcher.sendCount = func([]*domain.Paper) int { return 0 }

	stats, err := f.orch.RunDaily(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Notified)

	pending, _ := f.store.GetUnnotifiedPapers(context.Background())
	assert.Empty(t, pending, "attempted is terminal even on total delivery failure")
}

func TestFetchOnly(t *testing.T) {
	papers := feedPapers(4, "h")
	parser := &stubParser{papers: map[string][]*domain.Paper{"feed": papers}}

	f := newFixture(t, []Source{&stubSource{id: "arxiv.cs.AI", raw: "feed"}}, parser, nil, nil, defaultOpts())

	stats, err := f.orch.FetchOnly(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Fetched)
	assert.Equal(t, 4, stats.New)
	assert.Equal(t, 0, stats.Processed)
	assert.Empty(t, f.dispatcher.batches)

	pending, _ := f.store.GetUnnotifiedPapers(context.Background())
	assert.Len(t, pending, 4, "fetch-only leaves papers unnotified")
}

func TestProcessPending(t *testing.T) {
	parser := &stubParser{}
	scores := map[string]float64{"p-0": 9.0, "p-1": 7.0}

	f := newFixture(t, nil, parser, scores, nil, defaultOpts())

	// Seed two unnotified papers, one already scored below threshold.
	for _, paper := range feedPapers(2, "p") {
		_, err := f.store.SavePaper(context.Background(), paper)
		require.NoError(t, err)
	}

	require.NoError(t, f.store.UpdateSummary(context.Background(), "p-1",
		&domain.Summary{TitleTranslated: "t", RelevanceScore: 7.0}))

	stats, err := f.orch.ProcessPending(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 1, stats.Processed, "only the unscored paper is re-scored")
	assert.Equal(t, 1, stats.Notified, "only the over-threshold paper is sent")

	pending, _ := f.store.GetUnnotifiedPapers(context.Background())
	assert.Empty(t, pending)
}

func TestProcessPendingEmpty(t *testing.T) {
	f := newFixture(t, nil, &stubParser{}, nil, nil, defaultOpts())

	stats, err := f.orch.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)
	assert.Zero(t, stats.Notified)
}

func TestTriggerDailyFourWayBranch(t *testing.T) {
	papers := feedPapers(2, "t")
	parser := &stubParser{papers: map[string][]*domain.Paper{"feed": papers}}
	scores := map[string]float64{"t-0": 9.0, "t-1": 9.0}

	f := newFixture(t, []Source{&stubSource{id: "arxiv.cs.AI", raw: "feed"}}, parser, scores, nil, defaultOpts())

	ctx := context.Background()

	// 1. Nothing fetched today: full pipeline.
	outcome, err := f.orch.TriggerDaily(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFetchedAndNotified, outcome.Status)
	assert.Equal(t, 2, outcome.Stats.Notified)

	// 2. Repeat without new papers: pure no-op.
	outcome, err = f.orch.TriggerDaily(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAlreadyNotified, outcome.Status)
	assert.Len(t, f.dispatcher.batches, 1, "no additional sends")

	// 3. Force: reset and re-deliver the exact same set.
	outcome, err = f.orch.TriggerDaily(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReNotified, outcome.Status)
	assert.Equal(t, 2, outcome.Stats.Notified, "count unchanged on re-delivery")
	require.Len(t, f.dispatcher.batches, 2)
	assert.Len(t, f.dispatcher.batches[1], 2)

	pending, _ := f.store.GetUnnotifiedPapers(ctx)
	assert.Empty(t, pending, "re-notified papers are marked again")
}

func TestTriggerDailyProcessesUnnotifiedSubset(t *testing.T) {
	parser := &stubParser{}
	scores := map[string]float64{"u-0": 9.0, "u-1": 9.0, "u-2": 9.0}

	f := newFixture(t, nil, parser, scores, nil, defaultOpts())

	ctx := context.Background()

	for _, paper := range feedPapers(3, "u") {
		_, err := f.store.SavePaper(ctx, paper)
		require.NoError(t, err)
	}

	// One of today's papers was already handled.
	require.NoError(t, f.store.MarkNotified(ctx, "u-0"))

	outcome, err := f.orch.TriggerDaily(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusProcessedAndNotified, outcome.Status)
	assert.Equal(t, 3, outcome.Stats.Fetched)
	assert.Equal(t, 2, outcome.Stats.Pending)
	assert.Equal(t, 2, outcome.Stats.Notified, "only the unnotified subset is sent")

	require.Len(t, f.dispatcher.batches, 1)
	assert.Len(t, f.dispatcher.batches[0], 2)
}
