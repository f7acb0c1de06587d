// Package parser turns raw arXiv RSS content into normalized Paper records.
//
// Malformed individual entries are skipped rather than failing the batch;
// only a feed that cannot be parsed at all produces a ParseError.
package parser

import (
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"

	"github.com/scipush/scipush/internal/core/domain"
	apperrors "github.com/scipush/scipush/internal/core/errors"
)

var (
	// Modern arXiv IDs like 2512.14709, optionally versioned.
	newStyleIDRe = regexp.MustCompile(`(\d{4}\.\d{4,5})`)
	// Legacy IDs like cs/0001001.
	oldStyleIDRe = regexp.MustCompile(`([a-z-]+(?:\.[A-Z]{2})?/\d{7})`)

	abstractMarkerRe = regexp.MustCompile(`(?is)Abstract:\s*(.+)`)
	whitespaceRe     = regexp.MustCompile(`\s+`)
	authorSplitRe    = regexp.MustCompile(`,\s*|\s+and\s+`)
)

const announceTypeExt = "announce_type"

// Parser parses arXiv RSS feeds.
type Parser struct {
	fp  *gofeed.Parser
	now func() time.Time
}

// New creates a Parser. The clock is injectable for tests.
func New() *Parser {
	return &Parser{fp: gofeed.NewParser(), now: time.Now}
}

// Parse converts raw feed XML into Paper records tagged with sourceID.
// Entries missing a GUID, arXiv ID, or title are skipped.
func (p *Parser) Parse(raw, sourceID string) ([]*domain.Paper, error) {
	feed, err := p.fp.ParseString(raw)
	if err != nil {
		return nil, apperrors.NewParseError(sourceID, err)
	}

	papers := make([]*domain.Paper, 0, len(feed.Items))

	for _, item := range feed.Items {
		paper := p.parseItem(item, sourceID)
		if paper != nil {
			papers = append(papers, paper)
		}
	}

	return papers, nil
}

func (p *Parser) parseItem(item *gofeed.Item, sourceID string) *domain.Paper {
	guid := item.GUID
	if guid == "" {
		guid = item.Link
	}

	if guid == "" {
		return nil
	}

	arxivID := ExtractArxivID(guid)
	if arxivID == "" {
		return nil
	}

	title := cleanText(item.Title)
	if title == "" {
		return nil
	}

	absURL := item.Link
	if absURL == "" {
		absURL = "https://arxiv.org/abs/" + arxivID
	}

	return &domain.Paper{
		GUID:         guid,
		ArxivID:      arxivID,
		Title:        title,
		Abstract:     extractAbstract(item.Description),
		Authors:      extractAuthors(item),
		Categories:   extractCategories(item),
		AnnounceType: extractAnnounceType(item),
		PublishedAt:  p.parseDate(item),
		AbsURL:       absURL,
		SourceID:     sourceID,
		FetchedAt:    p.now().UTC(),
	}
}

// ExtractArxivID pulls the arXiv identifier out of a feed GUID, e.g.
// oai:arXiv.org:2512.14709v1 -> 2512.14709.
func ExtractArxivID(guid string) string {
	if m := newStyleIDRe.FindStringSubmatch(guid); m != nil {
		return m[1]
	}

	if m := oldStyleIDRe.FindStringSubmatch(guid); m != nil {
		return m[1]
	}

	return ""
}

// extractAbstract strips markup from the description and isolates the text
// after the "Abstract:" marker that arXiv puts ahead of metadata lines.
func extractAbstract(description string) string {
	if description == "" {
		return ""
	}

	text := stripHTML(description)

	if m := abstractMarkerRe.FindStringSubmatch(text); m != nil {
		return cleanText(m[1])
	}

	return cleanText(text)
}

func extractAuthors(item *gofeed.Item) []string {
	var names []string

	for _, a := range item.Authors {
		if a != nil && a.Name != "" {
			names = append(names, splitAuthorString(a.Name)...)
		}
	}

	if len(names) == 0 && item.DublinCoreExt != nil {
		for _, creator := range item.DublinCoreExt.Creator {
			names = append(names, splitAuthorString(creator)...)
		}
	}

	return names
}

func splitAuthorString(s string) []string {
	s = stripHTML(s)

	var out []string

	for _, part := range authorSplitRe.Split(s, -1) {
		if name := strings.TrimSpace(part); name != "" {
			out = append(out, name)
		}
	}

	return out
}

func extractCategories(item *gofeed.Item) []string {
	seen := make(map[string]struct{}, len(item.Categories))
	cats := make([]string, 0, len(item.Categories))

	for _, c := range item.Categories {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}

		if _, dup := seen[c]; dup {
			continue
		}

		seen[c] = struct{}{}

		cats = append(cats, c)
	}

	return cats
}

func extractAnnounceType(item *gofeed.Item) string {
	if ext, ok := item.Extensions["arxiv"]; ok {
		if vals, ok := ext[announceTypeExt]; ok && len(vals) > 0 && vals[0].Value != "" {
			return vals[0].Value
		}
	}

	desc := strings.ToLower(item.Description)
	if strings.Contains(desc, "cross-list") || strings.Contains(desc, "cross list") {
		return domain.AnnounceTypeCross
	}

	if strings.Contains(desc, "replacement") || strings.Contains(desc, "replaced") {
		return domain.AnnounceTypeReplace
	}

	return domain.AnnounceTypeNew
}

func (p *Parser) parseDate(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC()
	}

	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.UTC()
	}

	if item.Published != "" {
		if t, err := dateparse.ParseAny(item.Published); err == nil {
			return t.UTC()
		}
	}

	return p.now().UTC()
}

// stripHTML drops tags and returns the concatenated text content.
func stripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}

	var sb strings.Builder

	tokenizer := html.NewTokenizer(strings.NewReader(s))

	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			break
		}

		if tt == html.TextToken {
			sb.WriteString(tokenizer.Token().Data)
			sb.WriteByte(' ')
		}
	}

	return sb.String()
}

func cleanText(s string) string {
	s = norm.NFC.String(s)
	s = whitespaceRe.ReplaceAllString(s, " ")

	return strings.TrimSpace(s)
}
