package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scipush/scipush/internal/core/domain"
	apperrors "github.com/scipush/scipush/internal/core/errors"
	"github.com/scipush/scipush/internal/process/analysis"
)

type stubTrigger struct {
	force   bool
	outcome *domain.TriggerOutcome
	err     error
}

func (s *stubTrigger) TriggerDaily(_ context.Context, force bool) (*domain.TriggerOutcome, error) {
	s.force = force

	return s.outcome, s.err
}

type stubPaperStore struct {
	papers map[string]*domain.Paper
	byDate []*domain.Paper
}

func (s *stubPaperStore) GetPaperByArxivID(_ context.Context, arxivID string) (*domain.Paper, error) {
	paper, ok := s.papers[arxivID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}

	return paper, nil
}

func (s *stubPaperStore) GetPapersByPublishedRange(context.Context, time.Time, time.Time) ([]*domain.Paper, error) {
	return s.byDate, nil
}

type stubAnalyzer struct {
	result *analysis.Result
	err    error
}

func (s *stubAnalyzer) Analyze(context.Context, string) (*analysis.Result, error) { return s.result, s.err }

func (s *stubAnalyzer) Get(context.Context, string) (*analysis.Result, error) { return s.result, s.err }

func samplePaper() *domain.Paper {
	return &domain.Paper{
		GUID:        "oai:arXiv.org:2512.00001v1",
		ArxivID:     "2512.00001",
		Title:       "Sample Paper",
		Abstract:    "An abstract.",
		Authors:     []string{"Ada Lovelace"},
		Categories:  []string{"cs.AI"},
		AbsURL:      "https://arxiv.org/abs/2512.00001",
		PublishedAt: time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC),
		Summary: &domain.Summary{
			TitleTranslated: "示例论文",
			RelevanceScore:  8.5,
		},
	}
}

func newTestHandler(trigger Trigger, store PaperStore, analyzer Analyzer) http.Handler {
	logger := zerolog.Nop()

	return New(trigger, store, analyzer, &logger).Routes()
}

func doRequest(t *testing.T, h http.Handler, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	return rec, body
}

func TestTriggerDaily(t *testing.T) {
	trigger := &stubTrigger{outcome: &domain.TriggerOutcome{
		Status: domain.StatusFetchedAndNotified,
		Stats:  domain.RunStats{Fetched: 12, New: 12, Notified: 5},
	}}

	h := newTestHandler(trigger, &stubPaperStore{}, nil)

	rec, body := doRequest(t, h, http.MethodPost, "/api/tasks/daily?force=true")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, trigger.force)
	assert.Equal(t, "fetched_and_notified", body["status"])
	assert.EqualValues(t, 5, body["notified"])
}

func TestTriggerDailyFailure(t *testing.T) {
	trigger := &stubTrigger{err: errors.New("db down")}
	h := newTestHandler(trigger, &stubPaperStore{}, nil)

	rec, body := doRequest(t, h, http.MethodPost, "/api/tasks/daily")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, body["error"], "pipeline run failed")
}

func TestPapersByDate(t *testing.T) {
	store := &stubPaperStore{byDate: []*domain.Paper{samplePaper()}}
	h := newTestHandler(&stubTrigger{}, store, nil)

	rec, body := doRequest(t, h, http.MethodGet, "/api/papers/by-date?date=2026-08-29")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])

	papers, ok := body["papers"].([]any)
	require.True(t, ok)
	require.Len(t, papers, 1)

	first, ok := papers[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2512.00001", first["arxiv_id"])
	assert.Equal(t, "示例论文", first["title_zh"])
	assert.EqualValues(t, 8.5, first["score"])
	assert.Equal(t, "https://arxiv.org/pdf/2512.00001.pdf", first["pdf_url"])
}

func TestPapersByDateBadDate(t *testing.T) {
	h := newTestHandler(&stubTrigger{}, &stubPaperStore{}, nil)

	rec, body := doRequest(t, h, http.MethodGet, "/api/papers/by-date?date=yesterday")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "YYYY-MM-DD")
}

func TestPaperByID(t *testing.T) {
	store := &stubPaperStore{papers: map[string]*domain.Paper{"2512.00001": samplePaper()}}
	h := newTestHandler(&stubTrigger{}, store, nil)

	rec, body := doRequest(t, h, http.MethodGet, "/api/papers/2512.00001")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Sample Paper", body["title"])
}

func TestPaperByIDNotFound(t *testing.T) {
	h := newTestHandler(&stubTrigger{}, &stubPaperStore{}, nil)

	rec, body := doRequest(t, h, http.MethodGet, "/api/papers/2512.99999")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, body["error"], "not found")
}

func TestAnalyzePaper(t *testing.T) {
	analyzer := &stubAnalyzer{result: &analysis.Result{
		ArxivID:  "2512.00001",
		Status:   analysis.StatusCompleted,
		Analysis: "深度分析",
	}}

	h := newTestHandler(&stubTrigger{}, &stubPaperStore{}, analyzer)

	rec, body := doRequest(t, h, http.MethodPost, "/api/papers/2512.00001/analyze")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "深度分析", body["analysis"])
}

func TestAnalysisWithoutAnalyzer(t *testing.T) {
	h := newTestHandler(&stubTrigger{}, &stubPaperStore{}, nil)

	rec, body := doRequest(t, h, http.MethodPost, "/api/papers/2512.00001/analyze")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, body["error"], "not configured")
}

func TestHealth(t *testing.T) {
	h := newTestHandler(&stubTrigger{}, &stubPaperStore{}, nil)

	rec, body := doRequest(t, h, http.MethodGet, "/api/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}
