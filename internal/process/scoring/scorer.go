// Package scoring generates translated summaries and relevance scores for
// papers via an LLM, with bounded-concurrency batch processing.
package scoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/scipush/scipush/internal/core/domain"
	apperrors "github.com/scipush/scipush/internal/core/errors"
	"github.com/scipush/scipush/internal/llm"
)

const (
	minScore = 1.0
	maxScore = 10.0
)

// Scorer produces a Summary for a single paper.
type Scorer struct {
	llm    llm.Client
	logger *zerolog.Logger
	now    func() time.Time
}

// NewScorer builds a Scorer on the given completion client.
func NewScorer(client llm.Client, logger *zerolog.Logger) *Scorer {
	return &Scorer{
		llm:    client,
		logger: logger,
		now:    time.Now,
	}
}

type summaryResponse struct {
	TitleZH          string   `json:"title_zh"`
	AbstractZH       string   `json:"abstract_zh"`
	KeyPoints        []string `json:"key_points"`
	RelevanceScore   float64  `json:"relevance_score"`
	ScoreExplanation string   `json:"score_explanation"`
}

// ScorePaper translates and scores one paper. All failures are wrapped as
// AIProcessingError carrying the paper's GUID.
func (s *Scorer) ScorePaper(ctx context.Context, paper *domain.Paper) (*domain.Summary, error) {
	prompt := buildPaperPrompt(paper)

	var resp summaryResponse
	if err := s.llm.CompleteJSON(ctx, systemPrompt, prompt, &resp); err != nil {
		return nil, apperrors.NewAIProcessingError(paper.GUID, err)
	}

	if resp.TitleZH == "" {
		return nil, apperrors.NewAIProcessingError(paper.GUID,
			fmt.Errorf("missing translated title: %w", apperrors.ErrEmptyResponse))
	}

	s.logger.Info().
		Str("arxiv_id", paper.ArxivID).
		Float64("relevance_score", resp.RelevanceScore).
		Int("key_points", len(resp.KeyPoints)).
		Msg("Paper scored")

	return &domain.Summary{
		TitleTranslated:    resp.TitleZH,
		AbstractTranslated: resp.AbstractZH,
		KeyPoints:          resp.KeyPoints,
		RelevanceScore:     clampScore(resp.RelevanceScore),
		GeneratedAt:        s.now().UTC(),
	}, nil
}

func buildPaperPrompt(paper *domain.Paper) string {
	var sb strings.Builder

	sb.WriteString("请分析以下arXiv论文：\n\n")
	sb.WriteString("标题: " + paper.Title + "\n\n")
	sb.WriteString("摘要: " + paper.Abstract + "\n\n")
	sb.WriteString("分类: " + strings.Join(paper.Categories, ", ") + "\n\n")
	sb.WriteString("作者: " + strings.Join(paper.Authors, ", ") + "\n")

	return sb.String()
}

func clampScore(score float64) float64 {
	switch {
	case score < minScore:
		return minScore
	case score > maxScore:
		return maxScore
	default:
		return score
	}
}
