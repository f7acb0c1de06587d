// Package analysis produces on-demand long-form analyses of stored
// papers, cached in storage after the first request.
package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/scipush/scipush/internal/core/domain"
	apperrors "github.com/scipush/scipush/internal/core/errors"
	"github.com/scipush/scipush/internal/llm"
)

// Status values returned with an analysis result.
const (
	StatusCompleted   = "completed"
	StatusCached      = "cached"
	StatusNotAnalyzed = "not_analyzed"
)

// PaperStore is the storage surface the service needs.
type PaperStore interface {
	GetPaperByArxivID(ctx context.Context, arxivID string) (*domain.Paper, error)
	UpdateDeepAnalysis(ctx context.Context, guid string, analysis string) error
}

// Pusher optionally forwards a finished analysis to notification
// channels.
type Pusher interface {
	SendDeepAnalysis(ctx context.Context, paper *domain.Paper) bool
}

// Result is an analysis lookup or generation outcome.
type Result struct {
	ArxivID  string `json:"arxiv_id"`
	Status   string `json:"status"`
	Analysis string `json:"analysis,omitempty"`
}

// Service generates and caches deep analyses.
type Service struct {
	store  PaperStore
	llm    llm.Client
	pusher Pusher
	logger *zerolog.Logger
}

// NewService builds the analysis service. pusher may be nil when
// finished analyses should not be pushed to channels.
func NewService(store PaperStore, client llm.Client, pusher Pusher, logger *zerolog.Logger) *Service {
	return &Service{
		store:  store,
		llm:    client,
		pusher: pusher,
		logger: logger,
	}
}

// Analyze generates a deep analysis for the paper, returning the cached
// one when present. The analysis is persisted before returning.
func (s *Service) Analyze(ctx context.Context, arxivID string) (*Result, error) {
	paper, err := s.store.GetPaperByArxivID(ctx, arxivID)
	if err != nil {
		return nil, fmt.Errorf("load paper %s: %w", arxivID, err)
	}

	if existing := deepAnalysis(paper); existing != "" {
		s.logger.Info().Str("arxiv_id", arxivID).Msg("Returning cached analysis")

		return &Result{ArxivID: arxivID, Status: StatusCached, Analysis: existing}, nil
	}

	text, err := s.llm.Complete(ctx, systemPrompt, buildAnalysisPrompt(paper))
	if err != nil {
		return nil, apperrors.NewAIProcessingError(paper.GUID, err)
	}

	if err := s.store.UpdateDeepAnalysis(ctx, paper.GUID, text); err != nil {
		return nil, fmt.Errorf("persist analysis: %w", err)
	}

	if paper.Summary == nil {
		paper.Summary = &domain.Summary{}
	}

	paper.Summary.DeepAnalysis = text

	if s.pusher != nil {
		s.pusher.SendDeepAnalysis(ctx, paper)
	}

	s.logger.Info().Str("arxiv_id", arxivID).Int("chars", len(text)).Msg("Deep analysis completed")

	return &Result{ArxivID: arxivID, Status: StatusCompleted, Analysis: text}, nil
}

// Get returns the stored analysis without generating one.
func (s *Service) Get(ctx context.Context, arxivID string) (*Result, error) {
	paper, err := s.store.GetPaperByArxivID(ctx, arxivID)
	if err != nil {
		return nil, fmt.Errorf("load paper %s: %w", arxivID, err)
	}

	if existing := deepAnalysis(paper); existing != "" {
		return &Result{ArxivID: arxivID, Status: StatusCompleted, Analysis: existing}, nil
	}

	return &Result{ArxivID: arxivID, Status: StatusNotAnalyzed}, nil
}

func deepAnalysis(paper *domain.Paper) string {
	if paper.Summary == nil {
		return ""
	}

	return paper.Summary.DeepAnalysis
}

func buildAnalysisPrompt(paper *domain.Paper) string {
	var sb strings.Builder

	sb.WriteString("请深度分析以下arXiv论文：\n\n")
	sb.WriteString("标题: " + paper.Title + "\n\n")
	sb.WriteString("摘要: " + paper.Abstract + "\n\n")
	sb.WriteString("分类: " + strings.Join(paper.Categories, ", ") + "\n")

	return sb.String()
}
