// Package selection picks a diverse subset of high-scoring papers when
// more qualify than the daily cap allows.
package selection

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/scipush/scipush/internal/core/domain"
	"github.com/scipush/scipush/internal/llm"
)

const (
	abstractPreviewLen = 200
	maxPromptKeyPoints = 3
	maxPromptCats      = 3
)

// Selector chooses which papers to push when the candidate pool exceeds
// the cap. Selection never fails: any LLM or validation problem falls
// back to plain truncation of the (already score-sorted) input.
type Selector struct {
	llm    llm.Client
	logger *zerolog.Logger
}

// NewSelector builds a Selector on the given completion client.
func NewSelector(client llm.Client, logger *zerolog.Logger) *Selector {
	return &Selector{llm: client, logger: logger}
}

type selectionResponse struct {
	SelectedArxivIDs   []string          `json:"selected_arxiv_ids"`
	SelectionReasoning map[string]string `json:"selection_reasoning"`
	DiversityScore     float64           `json:"diversity_score"`
}

// Select returns at most maxCount papers. Input order is preserved as the
// priority order for fallback and shortfall fill, so callers should pass
// papers sorted by descending score.
func (s *Selector) Select(ctx context.Context, papers []*domain.Paper, maxCount int) []*domain.Paper {
	if maxCount <= 0 || len(papers) == 0 {
		return nil
	}

	if len(papers) <= maxCount {
		return papers
	}

	var resp selectionResponse
	if err := s.llm.CompleteJSON(ctx, systemPrompt, buildSelectionPrompt(papers, maxCount), &resp); err != nil {
		s.logger.Error().
			Err(err).
			Int("candidates", len(papers)).
			Msg("Intelligent selection failed, falling back to truncation")

		return papers[:maxCount]
	}

	selected := s.validateSelection(papers, resp.SelectedArxivIDs, maxCount)

	s.logger.Info().
		Int("candidates", len(papers)).
		Int("selected", len(selected)).
		Float64("diversity_score", resp.DiversityScore).
		Msg("Paper selection completed")

	for _, paper := range selected {
		if reason, ok := resp.SelectionReasoning[paper.ArxivID]; ok {
			s.logger.Debug().
				Str("arxiv_id", paper.ArxivID).
				Str("reason", reason).
				Msg("Paper selected")
		}
	}

	return selected
}

// validateSelection maps the model's ID list back onto real papers,
// dropping unknown and duplicate IDs, then fills any shortfall with the
// highest-priority papers not yet chosen.
func (s *Selector) validateSelection(papers []*domain.Paper, ids []string, maxCount int) []*domain.Paper {
	byID := make(map[string]*domain.Paper, len(papers))
	for _, paper := range papers {
		byID[paper.ArxivID] = paper
	}

	selected := make([]*domain.Paper, 0, maxCount)
	seen := make(map[string]bool, maxCount)

	for _, id := range ids {
		if len(selected) >= maxCount {
			break
		}

		if seen[id] {
			continue
		}

		paper, ok := byID[id]
		if !ok {
			s.logger.Warn().Str("arxiv_id", id).Msg("Model selected unknown paper")

			continue
		}

		seen[id] = true

		selected = append(selected, paper)
	}

	for _, paper := range papers {
		if len(selected) >= maxCount {
			break
		}

		if !seen[paper.ArxivID] {
			seen[paper.ArxivID] = true

			selected = append(selected, paper)
		}
	}

	return selected
}

func buildSelectionPrompt(papers []*domain.Paper, maxCount int) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "请从以下 %d 篇高分论文中，挑选出最有价值的 %d 篇。\n\n# 候选论文列表\n\n", len(papers), maxCount)

	for i, paper := range papers {
		cats := paper.Categories
		if len(cats) > maxPromptCats {
			cats = cats[:maxPromptCats]
		}

		fmt.Fprintf(&sb, "**论文 %d: %s**\n", i+1, paper.ArxivID)
		fmt.Fprintf(&sb, "- 标题: %s\n", paper.Title)
		fmt.Fprintf(&sb, "- 类别: %s\n", strings.Join(cats, ", "))
		fmt.Fprintf(&sb, "- 评分: %.1f/10\n", paper.Score())

		if summary := paper.Summary; summary != nil {
			if summary.TitleTranslated != "" {
				fmt.Fprintf(&sb, "- 中文标题: %s\n", summary.TitleTranslated)
			}

			abstract := summary.AbstractTranslated
			if abstract == "" {
				abstract = paper.Abstract
			}

			fmt.Fprintf(&sb, "- 摘要: %s\n", truncate(abstract, abstractPreviewLen))

			if len(summary.KeyPoints) > 0 {
				points := summary.KeyPoints
				if len(points) > maxPromptKeyPoints {
					points = points[:maxPromptKeyPoints]
				}

				fmt.Fprintf(&sb, "- 要点: %s\n", strings.Join(points, "；"))
			}
		} else {
			fmt.Fprintf(&sb, "- 摘要: %s\n", truncate(paper.Abstract, abstractPreviewLen))
		}

		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "请按优先级从高到低排序你的选择，并为每篇选中的论文提供简短理由。")

	return sb.String()
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}

	return string(runes[:limit]) + "..."
}
