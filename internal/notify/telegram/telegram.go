// Package telegram delivers paper notifications through the Telegram Bot
// API, formatted as HTML messages.
package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/scipush/scipush/internal/core/domain"
	"github.com/scipush/scipush/internal/notify"
)

const (
	maxMessageLength = 4096
	maxAuthors       = 3
	maxCategories    = 3
	maxKeyPoints     = 4
	maxAbstractLen   = 800
)

// sender abstracts the bot API for tests.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier sends papers to a single Telegram chat.
type Notifier struct {
	bot    sender
	chatID int64
	delay  time.Duration
	logger *zerolog.Logger
}

var _ notify.Notifier = (*Notifier)(nil)

// New authorizes the bot and builds a Notifier targeting chatID. delay is
// the pause between consecutive batch sends.
func New(token string, chatID int64, delay time.Duration, logger *zerolog.Logger) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Notifier{
		bot:    bot,
		chatID: chatID,
		delay:  delay,
		logger: logger,
	}, nil
}

func (n *Notifier) Name() string { return "telegram" }

func (n *Notifier) SendPaper(ctx context.Context, paper *domain.Paper) bool {
	if !n.send(ctx, formatPaper(paper)) {
		return false
	}

	n.logger.Info().
		Str("arxiv_id", paper.ArxivID).
		Int64("chat_id", n.chatID).
		Msg("Paper notification sent")

	return true
}

func (n *Notifier) SendBatch(ctx context.Context, papers []*domain.Paper, totalFiltered int) int {
	if len(papers) == 0 {
		return 0
	}

	n.send(ctx, batchHeader(len(papers), totalFiltered))

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
	return n.send(ctx, text)
}

func (n *Notifier) SendDeepAnalysis(ctx context.Context, paper *domain.Paper) bool {
	if paper.Summary == nil || paper.Summary.DeepAnalysis == "" {
		n.logger.Warn().Str("arxiv_id", paper.ArxivID).Msg("No deep analysis available")

		return false
	}

	return n.send(ctx, formatDeepAnalysis(paper))
}

func (n *Notifier) send(ctx context.Context, text string) bool {
	if err := ctx.Err(); err != nil {
		return false
	}

	msg := tgbotapi.NewMessage(n.chatID, truncateMessage(text))
	msg.ParseMode = tgbotapi.ModeHTML

	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error().Err(err).Int64("chat_id", n.chatID).Msg("Telegram send failed")

		return false
	}

	return true
}

// pause sleeps the configured rate-limit delay, returning false if the
// context was canceled meanwhile.
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
		return fmt.Sprintf("📚 <b>arXiv Daily Update</b>\n今日新论文: %d/%d 篇 (已按评分筛选)", sent, totalFiltered)
	}

	return fmt.Sprintf("📚 <b>arXiv Daily Update</b>\n今日新论文: %d 篇", sent)
}

func formatPaper(paper *domain.Paper) string {
	summary := paper.Summary

	var parts []string

	if summary != nil && summary.TitleTranslated != "" {
		parts = append(parts,
			"<b>"+escapeHTML(summary.TitleTranslated)+"</b>",
			"<i>"+escapeHTML(paper.Title)+"</i>")
	} else {
		parts = append(parts, "<b>"+escapeHTML(paper.Title)+"</b>")
	}

	if len(paper.Authors) > 0 {
		authors := strings.Join(firstN(paper.Authors, maxAuthors), ", ")
		if len(paper.Authors) > maxAuthors {
			authors += fmt.Sprintf(" et al. (%d authors)", len(paper.Authors))
		}

		parts = append(parts, "👤 "+escapeHTML(authors))
	}

	if len(paper.Categories) > 0 {
		tags := make([]string, 0, maxCategories)
		for _, cat := range firstN(paper.Categories, maxCategories) {
			tags = append(tags, "#"+strings.ReplaceAll(cat, ".", "_"))
		}

		parts = append(parts, strings.Join(tags, " "))
	}

	parts = append(parts, "")

	abstract := paper.Abstract
	if summary != nil && summary.AbstractTranslated != "" {
		abstract = summary.AbstractTranslated
	}

	parts = append(parts, escapeHTML(truncateRunes(abstract, maxAbstractLen)))

	if summary != nil && len(summary.KeyPoints) > 0 {
		parts = append(parts, "", "<b>📌 要点:</b>")
		for _, point := range firstN(summary.KeyPoints, maxKeyPoints) {
			parts = append(parts, "• "+escapeHTML(point))
		}
	}

	if summary != nil && summary.RelevanceScore >= 1 {
		parts = append(parts, fmt.Sprintf("\n%s 推荐度: %.1f/10",
			notify.ScoreEmoji(summary.RelevanceScore), summary.RelevanceScore))
	}

	parts = append(parts, "", fmt.Sprintf("🔗 <a href='%s'>Abstract</a> | <a href='%s'>PDF</a>",
		escapeURL(paper.AbsURL), escapeURL(paper.PDFURL())))

	return strings.Join(parts, "\n")
}

func formatDeepAnalysis(paper *domain.Paper) string {
	title := paper.Title
	if paper.Summary.TitleTranslated != "" {
		title = paper.Summary.TitleTranslated
	}

	return strings.Join([]string{
		"🔬 <b>深度分析: " + escapeHTML(title) + "</b>",
		"",
		escapeHTML(paper.Summary.DeepAnalysis),
		"",
		fmt.Sprintf("🔗 <a href='%s'>Abstract</a>", escapeURL(paper.AbsURL)),
	}, "\n")
}

func truncateMessage(text string) string {
	runes := []rune(text)
	if len(runes) <= maxMessageLength {
		return text
	}

	return string(runes[:maxMessageLength-20]) + "\n\n[截断...]"
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}

	return string(runes[:limit]) + "..."
}

func firstN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}

	return items[:n]
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeHTML(text string) string { return htmlEscaper.Replace(text) }

func escapeURL(url string) string { return strings.ReplaceAll(url, "&", "&amp;") }
