// Package feishu delivers paper notifications through a Feishu (Lark)
// bot webhook, as interactive cards with optional HMAC request signing.
package feishu

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/scipush/scipush/internal/core/domain"
	"github.com/scipush/scipush/internal/notify"
)

const (
	maxAbstractLen = 500
	maxKeyPoints   = 4
	maxCategories  = 3
)

// Notifier sends papers to a Feishu group webhook.
type Notifier struct {
	webhookURL string
	secret     string
	delay      time.Duration
	httpClient *http.Client
	logger     *zerolog.Logger
	now        func() time.Time
}

var _ notify.Notifier = (*Notifier)(nil)

// New builds a Notifier. secret may be empty when the webhook has
// signature verification disabled.
func New(webhookURL, secret string, delay, timeout time.Duration, logger *zerolog.Logger) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		secret:     secret,
		delay:      delay,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		now:        time.Now,
	}
}

func (n *Notifier) Name() string { return "feishu" }

func (n *Notifier) SendPaper(ctx context.Context, paper *domain.Paper) bool {
	payload := map[string]any{
		"msg_type": "interactive",
		"card":     buildPaperCard(paper),
	}

	if !n.post(ctx, payload) {
		return false
	}

	n.logger.Info().Str("arxiv_id", paper.ArxivID).Msg("Feishu paper notification sent")

	return true
}

func (n *Notifier) SendBatch(ctx context.Context, papers []*domain.Paper, totalFiltered int) int {
	if len(papers) == 0 {
		return 0
	}

	n.SendMessage(ctx, batchHeader(len(papers), totalFiltered))

	sent := 0

	for _, paper := range papers {
		if n.SendPaper(ctx, paper) {
			sent++
		}

		if !n.pause(ctx) {
			break
		}
	}

	return sent
}

func (n *Notifier) SendMessage(ctx context.Context, text string) bool {
	return n.post(ctx, map[string]any{
		"msg_type": "text",
		"content":  map[string]string{"text": text},
	})
}

func (n *Notifier) SendDeepAnalysis(ctx context.Context, paper *domain.Paper) bool {
	if paper.Summary == nil || paper.Summary.DeepAnalysis == "" {
		n.logger.Warn().Str("arxiv_id", paper.ArxivID).Msg("No deep analysis available")

		return false
	}

	title := paper.Title
	if paper.Summary.TitleTranslated != "" {
		title = paper.Summary.TitleTranslated
	}

	return n.SendMessage(ctx, fmt.Sprintf("🔬 深度分析: %s\n\n%s\n\n%s",
		title, paper.Summary.DeepAnalysis, paper.AbsURL))
}

// sign computes the webhook signature: HMAC-SHA256 keyed on
// "<timestamp>\n<secret>" over an empty message, base64 encoded.
func (n *Notifier) sign(timestamp int64) string {
	if n.secret == "" {
		return ""
	}

	mac := hmac.New(sha256.New, []byte(fmt.Sprintf("%d\n%s", timestamp, n.secret)))

	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type webhookResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (n *Notifier) post(ctx context.Context, payload map[string]any) bool {
	if err := ctx.Err(); err != nil {
		return false
	}

	if n.secret != "" {
		timestamp := n.now().Unix()
		payload["timestamp"] = strconv.FormatInt(timestamp, 10)
		payload["sign"] = n.sign(timestamp)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error().Err(err).Msg("Feishu payload marshal failed")

		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		n.logger.Error().Err(err).Msg("Feishu request build failed")

		return false
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Error().Err(err).Msg("Feishu request failed")

		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		n.logger.Error().Int("status", resp.StatusCode).Msg("Feishu webhook returned non-200")

		return false
	}

	var result webhookResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		n.logger.Error().Err(err).Msg("Feishu response decode failed")

		return false
	}

	if result.Code != 0 {
		n.logger.Error().Int("code", result.Code).Str("msg", result.Msg).Msg("Feishu API error")

		return false
	}

	return true
}

func (n *Notifier) pause(ctx context.Context) bool {
	if n.delay <= 0 {
		return ctx.Err() == nil
	}

	select {
	case <-ctx.Done():
		return false
	case <-time.After(n.delay):
		return true
	}
}

func batchHeader(sent, totalFiltered int) string {
	if totalFiltered > sent {
		return fmt.Sprintf("📚 arXiv Daily Update\n今日新论文: %d/%d 篇 (已按评分筛选)", sent, totalFiltered)
	}

	return fmt.Sprintf("📚 arXiv Daily Update\n今日新论文: %d 篇", sent)
}

func buildPaperCard(paper *domain.Paper) map[string]any {
	summary := paper.Summary

	title := paper.Title
	subtitle := ""

	if summary != nil && summary.TitleTranslated != "" {
		title = summary.TitleTranslated
		subtitle = paper.Title
	}

	abstract := paper.Abstract
	if summary != nil && summary.AbstractTranslated != "" {
		abstract = summary.AbstractTranslated
	}

	abstract = truncateRunes(abstract, maxAbstractLen)

	var sections []string

	if subtitle != "" {
		sections = append(sections, "*"+subtitle+"*")
	}

	if len(paper.Authors) > 0 {
		sections = append(sections, "👤 "+strings.Join(paper.Authors, ", "))
	}

	if len(paper.Categories) > 0 {
		cats := paper.Categories
		if len(cats) > maxCategories {
			cats = cats[:maxCategories]
		}

		tagged := make([]string, len(cats))
		for i, cat := range cats {
			tagged[i] = "`" + cat + "`"
		}

		sections = append(sections, strings.Join(tagged, " "))
	}

	sections = append(sections, abstract)

	if summary != nil && len(summary.KeyPoints) > 0 {
		points := summary.KeyPoints
		if len(points) > maxKeyPoints {
			points = points[:maxKeyPoints]
		}

		lines := make([]string, 0, len(points)+1)
		lines = append(lines, "**📌 要点:**")

		for _, point := range points {
			lines = append(lines, "• "+point)
		}

		sections = append(sections, strings.Join(lines, "\n"))
	}

	if summary != nil && summary.RelevanceScore >= 1 {
		sections = append(sections, fmt.Sprintf("%s 推荐度: %.1f/10",
			notify.ScoreEmoji(summary.RelevanceScore), summary.RelevanceScore))
	}

	sections = append(sections, fmt.Sprintf("🔗 [Abstract](%s) | [PDF](%s)", paper.AbsURL, paper.PDFURL()))

	elements := make([]map[string]any, 0, len(sections))
	for _, section := range sections {
		elements = append(elements, map[string]any{
			"tag": "div",
			"text": map[string]any{
				"tag":     "lark_md",
				"content": section,
			},
		})
	}

	return map[string]any{
		"config": map[string]any{"wide_screen_mode": true},
		"header": map[string]any{
			"template": "blue",
			"title": map[string]any{
				"tag":     "plain_text",
				"content": title,
			},
		},
		"elements": elements,
	}
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}

	return string(runes[:limit]) + "..."
}
