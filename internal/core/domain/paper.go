package domain

import (
	"strings"
	"time"
)

// Announce type constants from the arXiv feed.
const (
	AnnounceTypeNew     = "new"
	AnnounceTypeCross   = "cross"
	AnnounceTypeReplace = "replace"
)

// Summary holds the AI-generated translation and scoring for a paper.
// A paper has at most one summary; papers without one are never notified.
type Summary struct {
	TitleTranslated    string
	AbstractTranslated string
	KeyPoints          []string
	RelevanceScore     float64
	DeepAnalysis       string
	GeneratedAt        time.Time
}

// Paper represents one ingested arXiv article.
//
// GUID is the source-provided dedup key and never changes after creation.
// PublishedAt comes from the feed; FetchedAt is the local ingestion time.
// The two are distinct clocks: the daily batch is keyed on FetchedAt.
type Paper struct {
	GUID         string
	ArxivID      string
	Title        string
	Abstract     string
	Authors      []string
	Categories   []string
	AnnounceType string
	PublishedAt  time.Time
	AbsURL       string
	SourceID     string
	FetchedAt    time.Time

	Summary *Summary

	IsNotified bool
	NotifiedAt *time.Time
}

// Score returns the relevance score, or 0 when no summary is attached.
func (p *Paper) Score() float64 {
	if p.Summary == nil {
		return 0
	}

	return p.Summary.RelevanceScore
}

// PDFURL derives the PDF location from the abstract page URL.
func (p *Paper) PDFURL() string {
	if p.AbsURL == "" {
		return ""
	}

	return strings.Replace(p.AbsURL, "/abs/", "/pdf/", 1) + ".pdf"
}
