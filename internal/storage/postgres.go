package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/site-crawler/internal/domain"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS urls (
	url           TEXT PRIMARY KEY,
	last_seen     TIMESTAMPTZ NOT NULL,
	is_active     BOOLEAN NOT NULL DEFAULT FALSE,
	crawled       BOOLEAN NOT NULL DEFAULT FALSE,
	status_code   INTEGER,
	response_time DOUBLE PRECISION
);
CREATE INDEX IF NOT EXISTS urls_last_seen_idx ON urls (last_seen);`

const upsertSQL = `
INSERT INTO urls (url, last_seen, is_active, crawled, status_code, response_time)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (url) DO UPDATE SET
	last_seen = EXCLUDED.last_seen,
	is_active = EXCLUDED.is_active,
	crawled = EXCLUDED.crawled,
	status_code = EXCLUDED.status_code,
	response_time = EXCLUDED.response_time`

const selectColumns = `SELECT url, last_seen, is_active, crawled, status_code, response_time FROM urls`

// PostgresStore persists page records in the urls table.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

// EnsureSchema creates the urls table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// UpsertBatch writes records in one transaction. Statements run in slice
// order, so a URL that appears twice keeps its last record. The batch is
// committed before UpsertBatch returns.
func (s *PostgresStore) UpsertBatch(ctx context.Context, records []domain.PageRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(upsertSQL, r.URL, r.ObservedAt, r.IsActive, r.Crawled, r.StatusCode, r.ResponseTime)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert %d records: %w", len(records), err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListPages returns every stored record ordered by URL.
func (s *PostgresStore) ListPages(ctx context.Context) ([]domain.PageRecord, error) {
	rows, err := s.db.Query(ctx, selectColumns+` ORDER BY url`)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	records, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("scan pages: %w", err)
	}
	return records, nil
}

// GetPage returns the record for one URL.
func (s *PostgresStore) GetPage(ctx context.Context, url string) (*domain.PageRecord, error) {
	rows, err := s.db.Query(ctx, selectColumns+` WHERE url = $1`, url)
	if err != nil {
		return nil, fmt.Errorf("get page: %w", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan page: %w", err)
	}
	return &rec, nil
}

func scanRecord(row pgx.CollectableRow) (domain.PageRecord, error) {
	var r domain.PageRecord
	err := row.Scan(&r.URL, &r.ObservedAt, &r.IsActive, &r.Crawled, &r.StatusCode, &r.ResponseTime)
	r.ObservedAt = r.ObservedAt.UTC()
	return r, err
}
