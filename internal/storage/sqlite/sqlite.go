// Package sqlite implements storage.Store on an embedded SQLite database.
//
// The driver is modernc.org/sqlite (pure Go, no cgo). Suitable for the
// expected volume of tens to hundreds of papers per day.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/scipush/scipush/internal/core/domain"
	apperrors "github.com/scipush/scipush/internal/core/errors"
	"github.com/scipush/scipush/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS papers (
    guid            TEXT PRIMARY KEY,
    arxiv_id        TEXT NOT NULL,
    title           TEXT NOT NULL,
    abstract        TEXT NOT NULL DEFAULT '',
    authors         TEXT NOT NULL DEFAULT '[]',
    categories      TEXT NOT NULL DEFAULT '[]',
    announce_type   TEXT NOT NULL DEFAULT 'new',
    published_at    TIMESTAMP NOT NULL,
    abs_url         TEXT NOT NULL DEFAULT '',
    source_id       TEXT NOT NULL DEFAULT '',
    fetched_at      TIMESTAMP NOT NULL,
    title_trans     TEXT,
    abstract_trans  TEXT,
    key_points      TEXT,
    relevance_score REAL,
    summarized_at   TIMESTAMP,
    deep_analysis   TEXT,
    is_notified     INTEGER NOT NULL DEFAULT 0,
    notified_at     TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_papers_arxiv_id ON papers (arxiv_id);
CREATE INDEX IF NOT EXISTS idx_papers_published_at ON papers (published_at);
CREATE INDEX IF NOT EXISTS idx_papers_fetched_at ON papers (fetched_at);
CREATE INDEX IF NOT EXISTS idx_papers_is_notified ON papers (is_notified);
`

const selectColumns = `guid, arxiv_id, title, abstract, authors, categories, announce_type,
	published_at, abs_url, source_id, fetched_at,
	title_trans, abstract_trans, key_points, relevance_score, summarized_at, deep_analysis,
	is_notified, notified_at`

// Store is the SQLite-backed implementation of storage.Store.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// A single writer avoids SQLITE_BUSY under concurrent summary writes.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) SavePaper(ctx context.Context, paper *domain.Paper) (bool, error) {
	authors, err := json.Marshal(paper.Authors)
	if err != nil {
		return false, fmt.Errorf("marshal authors: %w", err)
	}

	categories, err := json.Marshal(paper.Categories)
	if err != nil {
		return false, fmt.Errorf("marshal categories: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO papers (
			guid, arxiv_id, title, abstract, authors, categories,
			announce_type, published_at, abs_url, source_id, fetched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		paper.GUID, paper.ArxivID, paper.Title, paper.Abstract,
		string(authors), string(categories), paper.AnnounceType,
		paper.PublishedAt.UTC(), paper.AbsURL, paper.SourceID, paper.FetchedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("save paper: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	return affected > 0, nil
}

func (s *Store) GetPaperByGUID(ctx context.Context, guid string) (*domain.Paper, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM papers WHERE guid = ?`, guid)

	return scanPaper(row)
}

func (s *Store) GetPaperByArxivID(ctx context.Context, arxivID string) (*domain.Paper, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM papers WHERE arxiv_id = ?`, arxivID)

	return scanPaper(row)
}

func (s *Store) GetPapersByPublishedRange(ctx context.Context, start, end time.Time) ([]*domain.Paper, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM papers
		 WHERE published_at >= ? AND published_at < ?
		 ORDER BY published_at DESC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("papers by published range: %w", err)
	}

	return scanPapers(rows)
}

func (s *Store) CountPapersByPublishedRange(ctx context.Context, start, end time.Time) (int, error) {
	var count int

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM papers WHERE published_at >= ? AND published_at < ?`,
		start.UTC(), end.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count papers by published range: %w", err)
	}

	return count, nil
}

func (s *Store) GetPapersByFetchedRange(ctx context.Context, start, end time.Time) ([]*domain.Paper, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM papers
		 WHERE fetched_at >= ? AND fetched_at < ?
		 ORDER BY fetched_at ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("papers by fetched range: %w", err)
	}

	return scanPapers(rows)
}

func (s *Store) GetUnnotifiedPapers(ctx context.Context) ([]*domain.Paper, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM papers
		 WHERE is_notified = 0
		 ORDER BY fetched_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("unnotified papers: %w", err)
	}

	return scanPapers(rows)
}

func (s *Store) MarkNotified(ctx context.Context, guid string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE papers SET is_notified = 1, notified_at = ? WHERE guid = ?`,
		time.Now().UTC(), guid); err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}

	return nil
}

func (s *Store) ResetNotified(ctx context.Context, guids []string) error {
	if len(guids) == 0 {
		return nil
	}

	placeholders := make([]byte, 0, 2*len(guids))
	args := make([]any, 0, len(guids))

	for i, guid := range guids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}

		placeholders = append(placeholders, '?')
		args = append(args, guid)
	}

	query := `UPDATE papers SET is_notified = 0, notified_at = NULL WHERE guid IN (` + string(placeholders) + `)`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("reset notified: %w", err)
	}

	return nil
}

func (s *Store) UpdateSummary(ctx context.Context, guid string, summary *domain.Summary) error {
	keyPoints, err := json.Marshal(summary.KeyPoints)
	if err != nil {
		return fmt.Errorf("marshal key points: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE papers
		SET title_trans = ?, abstract_trans = ?, key_points = ?,
		    relevance_score = ?, summarized_at = ?
		WHERE guid = ?`,
		summary.TitleTranslated, summary.AbstractTranslated, string(keyPoints),
		summary.RelevanceScore, summary.GeneratedAt.UTC(), guid); err != nil {
		return fmt.Errorf("update summary: %w", err)
	}

	return nil
}

func (s *Store) UpdateDeepAnalysis(ctx context.Context, guid string, analysis string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE papers SET deep_analysis = ? WHERE guid = ?`, analysis, guid); err != nil {
		return fmt.Errorf("update deep analysis: %w", err)
	}

	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaper(row rowScanner) (*domain.Paper, error) {
	var (
		p              domain.Paper
		authors        string
		categories     string
		titleTrans     sql.NullString
		abstractTrans  sql.NullString
		keyPoints      sql.NullString
		relevanceScore sql.NullFloat64
		summarizedAt   sql.NullTime
		deepAnalysis   sql.NullString
		notifiedAt     sql.NullTime
	)

	err := row.Scan(
		&p.GUID, &p.ArxivID, &p.Title, &p.Abstract, &authors, &categories,
		&p.AnnounceType, &p.PublishedAt, &p.AbsURL, &p.SourceID, &p.FetchedAt,
		&titleTrans, &abstractTrans, &keyPoints, &relevanceScore, &summarizedAt, &deepAnalysis,
		&p.IsNotified, &notifiedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}

		return nil, fmt.Errorf("scan paper: %w", err)
	}

	if err := json.Unmarshal([]byte(authors), &p.Authors); err != nil {
		return nil, fmt.Errorf("unmarshal authors: %w", err)
	}

	if err := json.Unmarshal([]byte(categories), &p.Categories); err != nil {
		return nil, fmt.Errorf("unmarshal categories: %w", err)
	}

	if titleTrans.Valid || deepAnalysis.Valid {
		summary := &domain.Summary{
			TitleTranslated:    titleTrans.String,
			AbstractTranslated: abstractTrans.String,
			RelevanceScore:     relevanceScore.Float64,
			DeepAnalysis:       deepAnalysis.String,
		}

		if summarizedAt.Valid {
			summary.GeneratedAt = summarizedAt.Time
		}

		if keyPoints.Valid {
			if err := json.Unmarshal([]byte(keyPoints.String), &summary.KeyPoints); err != nil {
				return nil, fmt.Errorf("unmarshal key points: %w", err)
			}
		}

		p.Summary = summary
	}

	if notifiedAt.Valid {
		t := notifiedAt.Time

		p.NotifiedAt = &t
	}

	return &p, nil
}

func scanPapers(rows *sql.Rows) ([]*domain.Paper, error) {
	defer rows.Close()

	var papers []*domain.Paper

	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, err
		}

		papers = append(papers, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate papers: %w", err)
	}

	return papers, nil
}
