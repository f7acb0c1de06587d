// Package api exposes the HTTP control surface: manual pipeline triggers,
// paper queries, and on-demand deep analysis.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/scipush/scipush/internal/core/domain"
	apperrors "github.com/scipush/scipush/internal/core/errors"
	"github.com/scipush/scipush/internal/process/analysis"
)

// Trigger starts a manual pipeline run.
type Trigger interface {
	TriggerDaily(ctx context.Context, force bool) (*domain.TriggerOutcome, error)
}

// PaperStore is the read side used by the query endpoints.
type PaperStore interface {
	GetPaperByArxivID(ctx context.Context, arxivID string) (*domain.Paper, error)
	GetPapersByPublishedRange(ctx context.Context, start, end time.Time) ([]*domain.Paper, error)
}

// Analyzer produces and serves deep analyses.
type Analyzer interface {
	Analyze(ctx context.Context, arxivID string) (*analysis.Result, error)
	Get(ctx context.Context, arxivID string) (*analysis.Result, error)
}

// Handler serves the /api/ routes.
type Handler struct {
	trigger  Trigger
	store    PaperStore
	analyzer Analyzer
	logger   *zerolog.Logger
}

// New builds the handler. analyzer may be nil when the LLM is not
// configured; analysis endpoints then return 503.
func New(trigger Trigger, store PaperStore, analyzer Analyzer, logger *zerolog.Logger) *Handler {
	return &Handler{trigger: trigger, store: store, analyzer: analyzer, logger: logger}
}

// Routes returns the handler's mux, ready to mount under /api/.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/tasks/daily", h.triggerDaily)
	mux.HandleFunc("GET /api/papers/by-date", h.papersByDate)
	mux.HandleFunc("GET /api/papers/{arxiv_id}", h.paperByID)
	mux.HandleFunc("POST /api/papers/{arxiv_id}/analyze", h.analyzePaper)
	mux.HandleFunc("GET /api/papers/{arxiv_id}/analysis", h.paperAnalysis)
	mux.HandleFunc("GET /api/health", h.health)

	return mux
}

func (h *Handler) triggerDaily(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"

	outcome, err := h.trigger.TriggerDaily(r.Context(), force)
	if err != nil {
		h.logger.Error().Err(err).Msg("Manual trigger failed")
		h.writeError(w, http.StatusInternalServerError, "pipeline run failed")

		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":   string(outcome.Status),
		"fetched":  outcome.Stats.Fetched,
		"new":      outcome.Stats.New,
		"pending":  outcome.Stats.Pending,
		"notified": outcome.Stats.Notified,
		"errors":   outcome.Stats.Errors,
	})
}

func (h *Handler) papersByDate(w http.ResponseWriter, r *http.Request) {
	dateStr := r.URL.Query().Get("date")

	day, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")

		return
	}

	start := day.UTC()

	papers, err := h.store.GetPapersByPublishedRange(r.Context(), start, start.Add(24*time.Hour))
	if err != nil {
		h.logger.Error().Err(err).Str("date", dateStr).Msg("Paper query failed")
		h.writeError(w, http.StatusInternalServerError, "query failed")

		return
	}

	views := make([]paperView, 0, len(papers))
	for _, paper := range papers {
		views = append(views, toPaperView(paper))
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"date": dateStr, "count": len(views), "papers": views})
}

func (h *Handler) paperByID(w http.ResponseWriter, r *http.Request) {
	paper, err := h.store.GetPaperByArxivID(r.Context(), r.PathValue("arxiv_id"))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "paper not found")

			return
		}

		h.logger.Error().Err(err).Msg("Paper lookup failed")
		h.writeError(w, http.StatusInternalServerError, "query failed")

		return
	}

	h.writeJSON(w, http.StatusOK, toPaperView(paper))
}

func (h *Handler) analyzePaper(w http.ResponseWriter, r *http.Request) {
	if h.analyzer == nil {
		h.writeError(w, http.StatusServiceUnavailable, "analysis is not configured")

		return
	}

	result, err := h.analyzer.Analyze(r.Context(), r.PathValue("arxiv_id"))
	if err != nil {
		h.analysisError(w, err)

		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) paperAnalysis(w http.ResponseWriter, r *http.Request) {
	if h.analyzer == nil {
		h.writeError(w, http.StatusServiceUnavailable, "analysis is not configured")

		return
	}

	result, err := h.analyzer.Get(r.Context(), r.PathValue("arxiv_id"))
	if err != nil {
		h.analysisError(w, err)

		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) analysisError(w http.ResponseWriter, err error) {
	if errors.Is(err, apperrors.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "paper not found")

		return
	}

	h.logger.Error().Err(err).Msg("Analysis failed")
	h.writeError(w, http.StatusInternalServerError, "analysis failed")
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type paperView struct {
	ArxivID            string   `json:"arxiv_id"`
	Title              string   `json:"title"`
	TitleTranslated    string   `json:"title_zh,omitempty"`
	Abstract           string   `json:"abstract"`
	AbstractTranslated string   `json:"abstract_zh,omitempty"`
	Authors            []string `json:"authors"`
	Categories         []string `json:"categories"`
	KeyPoints          []string `json:"key_points,omitempty"`
	Score              float64  `json:"score"`
	AbsURL             string   `json:"abs_url"`
	PDFURL             string   `json:"pdf_url"`
	PublishedAt        string   `json:"published_at"`
	IsNotified         bool     `json:"is_notified"`
}

func toPaperView(paper *domain.Paper) paperView {
	view := paperView{
		ArxivID:     paper.ArxivID,
		Title:       paper.Title,
		Abstract:    paper.Abstract,
		Authors:     paper.Authors,
		Categories:  paper.Categories,
		Score:       paper.Score(),
		AbsURL:      paper.AbsURL,
		PDFURL:      paper.PDFURL(),
		PublishedAt: paper.PublishedAt.UTC().Format(time.RFC3339),
		IsNotified:  paper.IsNotified,
	}

	if paper.Summary != nil {
		view.TitleTranslated = paper.Summary.TitleTranslated
		view.AbstractTranslated = paper.Summary.AbstractTranslated
		view.KeyPoints = paper.Summary.KeyPoints
	}

	return view
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error().Err(err).Msg("Response encoding failed")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
