// Package postgres implements storage.Store on PostgreSQL.
//
// The package uses pgx for connection pooling and goose for schema
// migrations. Intended for hosted deployments where several pipeline
// instances may share one database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/scipush/scipush/internal/core/domain"
	apperrors "github.com/scipush/scipush/internal/core/errors"
	"github.com/scipush/scipush/internal/storage"
	"github.com/scipush/scipush/migrations"
)

const (
	connectionRetrySleep = 2 * time.Second
	maxConnectionRetries = 10

	defaultMaxConns          int32         = 10
	defaultMinConns          int32         = 2
	defaultMaxConnIdleTime   time.Duration = 30 * time.Minute
	defaultMaxConnLifetime   time.Duration = time.Hour
	defaultHealthCheckPeriod time.Duration = time.Minute
)

const selectColumns = `guid, arxiv_id, title, abstract, authors, categories, announce_type,
	published_at, abs_url, source_id, fetched_at,
	title_trans, abstract_trans, key_points, relevance_score, summarized_at, deep_analysis,
	is_notified, notified_at`

// PoolOptions configures the database connection pool.
type PoolOptions struct {
	MaxConns          int32
	MinConns          int32
	MaxConnIdleTime   time.Duration
	MaxConnLifetime   time.Duration
	HealthCheckPeriod time.Duration
}

// DefaultPoolOptions returns sensible default pool configuration.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxConns:          defaultMaxConns,
		MinConns:          defaultMinConns,
		MaxConnIdleTime:   defaultMaxConnIdleTime,
		MaxConnLifetime:   defaultMaxConnLifetime,
		HealthCheckPeriod: defaultHealthCheckPeriod,
	}
}

// Store is the PostgreSQL-backed implementation of storage.Store.
type Store struct {
	pool   *pgxpool.Pool
	logger *zerolog.Logger
}

var _ storage.Store = (*Store)(nil)

// New connects with default pool options and runs migrations.
func New(ctx context.Context, dsn string, logger *zerolog.Logger) (*Store, error) {
	return NewWithOptions(ctx, dsn, DefaultPoolOptions(), logger)
}

// NewWithOptions connects with custom pool options and runs migrations.
func NewWithOptions(ctx context.Context, dsn string, opts PoolOptions, logger *zerolog.Logger) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}

	applyPoolOptions(config, opts)

	store, err := connectWithRetries(ctx, config, logger)
	if err != nil {
		return nil, err
	}

	if err := store.migrate(ctx); err != nil {
		store.pool.Close()

		return nil, err
	}

	return store, nil
}

func applyPoolOptions(config *pgxpool.Config, opts PoolOptions) {
	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}

	if opts.MinConns > 0 {
		config.MinConns = opts.MinConns
	}

	if opts.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = opts.MaxConnIdleTime
	}

	if opts.MaxConnLifetime > 0 {
		config.MaxConnLifetime = opts.MaxConnLifetime
	}

	if opts.HealthCheckPeriod > 0 {
		config.HealthCheckPeriod = opts.HealthCheckPeriod
	}
}

func connectWithRetries(ctx context.Context, config *pgxpool.Config, logger *zerolog.Logger) (*Store, error) {
	var (
		pool *pgxpool.Pool
		err  error
	)

	for i := 0; i < maxConnectionRetries; i++ {
		pool, err = pgxpool.NewWithConfig(ctx, config)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return &Store{pool: pool, logger: logger}, nil
			}
		}

		if pool != nil {
			pool.Close()
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectionRetrySleep):
		}
	}

	return nil, fmt.Errorf("failed to connect to database after retries: %w", err)
}

const migrationLockID = 2748

type gooseLogger struct {
	logger *zerolog.Logger
}

func (l *gooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Fatal().Msgf(format, v...)
}

func (l *gooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Info().Msgf(format, v...)
}

// migrate runs goose migrations under an advisory lock so that only one
// instance migrates at a time.
func (s *Store) migrate(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	defer func() {
		_, _ = conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID)
	}()

	dbSQL := stdlib.OpenDB(*s.pool.Config().ConnConfig)

	defer func() {
		_ = dbSQL.Close()
	}()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(&gooseLogger{logger: s.logger})

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	if err := goose.Up(dbSQL, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (s *Store) SavePaper(ctx context.Context, paper *domain.Paper) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO papers (
			guid, arxiv_id, title, abstract, authors, categories,
			announce_type, published_at, abs_url, source_id, fetched_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (guid) DO NOTHING`,
		paper.GUID, paper.ArxivID, paper.Title, paper.Abstract,
		paper.Authors, paper.Categories, paper.AnnounceType,
		paper.PublishedAt.UTC(), paper.AbsURL, paper.SourceID, paper.FetchedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("save paper: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (s *Store) GetPaperByGUID(ctx context.Context, guid string) (*domain.Paper, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM papers WHERE guid = $1`, guid)

	return scanPaper(row)
}

func (s *Store) GetPaperByArxivID(ctx context.Context, arxivID string) (*domain.Paper, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM papers WHERE arxiv_id = $1`, arxivID)

	return scanPaper(row)
}

func (s *Store) GetPapersByPublishedRange(ctx context.Context, start, end time.Time) ([]*domain.Paper, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM papers
		 WHERE published_at >= $1 AND published_at < $2
		 ORDER BY published_at DESC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("papers by published range: %w", err)
	}

	return scanPapers(rows)
}

func (s *Store) CountPapersByPublishedRange(ctx context.Context, start, end time.Time) (int, error) {
	var count int

	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM papers WHERE published_at >= $1 AND published_at < $2`,
		start.UTC(), end.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count papers by published range: %w", err)
	}

	return count, nil
}

func (s *Store) GetPapersByFetchedRange(ctx context.Context, start, end time.Time) ([]*domain.Paper, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM papers
		 WHERE fetched_at >= $1 AND fetched_at < $2
		 ORDER BY fetched_at ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("papers by fetched range: %w", err)
	}

	return scanPapers(rows)
}

func (s *Store) GetUnnotifiedPapers(ctx context.Context) ([]*domain.Paper, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM papers
		 WHERE NOT is_notified
		 ORDER BY fetched_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("unnotified papers: %w", err)
	}

	return scanPapers(rows)
}

func (s *Store) MarkNotified(ctx context.Context, guid string) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE papers SET is_notified = TRUE, notified_at = $1 WHERE guid = $2`,
		time.Now().UTC(), guid); err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}

	return nil
}

func (s *Store) ResetNotified(ctx context.Context, guids []string) error {
	if len(guids) == 0 {
		return nil
	}

	if _, err := s.pool.Exec(ctx,
		`UPDATE papers SET is_notified = FALSE, notified_at = NULL WHERE guid = ANY($1)`,
		guids); err != nil {
		return fmt.Errorf("reset notified: %w", err)
	}

	return nil
}

func (s *Store) UpdateSummary(ctx context.Context, guid string, summary *domain.Summary) error {
	if _, err := s.pool.Exec(ctx, `
		UPDATE papers
		SET title_trans = $1, abstract_trans = $2, key_points = $3,
		    relevance_score = $4, summarized_at = $5
		WHERE guid = $6`,
		summary.TitleTranslated, summary.AbstractTranslated, summary.KeyPoints,
		summary.RelevanceScore, summary.GeneratedAt.UTC(), guid); err != nil {
		return fmt.Errorf("update summary: %w", err)
	}

	return nil
}

func (s *Store) UpdateDeepAnalysis(ctx context.Context, guid string, analysis string) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE papers SET deep_analysis = $1 WHERE guid = $2`, analysis, guid); err != nil {
		return fmt.Errorf("update deep analysis: %w", err)
	}

	return nil
}

func (s *Store) Close() error {
	s.pool.Close()

	return nil
}

func scanPaper(row pgx.Row) (*domain.Paper, error) {
	var (
		p              domain.Paper
		titleTrans     *string
		abstractTrans  *string
		keyPoints      []string
		relevanceScore *float64
		summarizedAt   *time.Time
		deepAnalysis   *string
	)

	err := row.Scan(
		&p.GUID, &p.ArxivID, &p.Title, &p.Abstract, &p.Authors, &p.Categories,
		&p.AnnounceType, &p.PublishedAt, &p.AbsURL, &p.SourceID, &p.FetchedAt,
		&titleTrans, &abstractTrans, &keyPoints, &relevanceScore, &summarizedAt, &deepAnalysis,
		&p.IsNotified, &p.NotifiedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}

		return nil, fmt.Errorf("scan paper: %w", err)
	}

	if titleTrans != nil || deepAnalysis != nil {
		summary := &domain.Summary{
			KeyPoints: keyPoints,
		}

		if titleTrans != nil {
			summary.TitleTranslated = *titleTrans
		}

		if abstractTrans != nil {
			summary.AbstractTranslated = *abstractTrans
		}

		if relevanceScore != nil {
			summary.RelevanceScore = *relevanceScore
		}

		if summarizedAt != nil {
			summary.GeneratedAt = *summarizedAt
		}

		if deepAnalysis != nil {
			summary.DeepAnalysis = *deepAnalysis
		}

		p.Summary = summary
	}

	return &p, nil
}

func scanPapers(rows pgx.Rows) ([]*domain.Paper, error) {
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
