package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the store needs, split out so tests can
// substitute it.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS usage_records (
	id BIGSERIAL PRIMARY KEY,
	request_id TEXT NOT NULL UNIQUE,
	model TEXT NOT NULL,
	input_tokens INT NOT NULL DEFAULT 0,
	output_tokens INT NOT NULL DEFAULT 0,
	cache_read_tokens INT NOT NULL DEFAULT 0,
	cache_creation_tokens INT NOT NULL DEFAULT 0,
	cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
	source TEXT NOT NULL,
	endpoint TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_records_created_at ON usage_records(created_at);

CREATE TABLE IF NOT EXISTS daily_aggregates (
	day TEXT PRIMARY KEY,
	total_cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_requests BIGINT NOT NULL DEFAULT 0,
	total_input_tokens BIGINT NOT NULL DEFAULT 0,
	total_output_tokens BIGINT NOT NULL DEFAULT 0
);
`

// PostgresStore is the shared-database Store backend.
type PostgresStore struct {
	db DB
}

// NewPostgresStore bootstraps the schema and returns the store.
func NewPostgresStore(ctx context.Context, db DB) (*PostgresStore, error) {
	if _, err := db.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Close is a no-op; the pgx pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) Record(ctx context.Context, rec *UsageRecord) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin record tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	err = tx.QueryRow(ctx, `
		INSERT INTO usage_records
			(request_id, model, input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens, cost_usd, source, endpoint, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (request_id) DO NOTHING
		RETURNING id`,
		rec.RequestID, rec.Model, rec.InputTokens, rec.OutputTokens,
		rec.CacheReadTokens, rec.CacheCreationTokens, rec.CostUSD,
		string(rec.Source), rec.Endpoint, now,
	).Scan(&rec.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		// Duplicate request id: exactly-once accounting makes this a no-op.
		return tx.Commit(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	rec.CreatedAt = now

	if _, err := tx.Exec(ctx, `
		INSERT INTO daily_aggregates (day, total_cost_usd, total_requests, total_input_tokens, total_output_tokens)
		VALUES ($1, $2, 1, $3, $4)
		ON CONFLICT (day) DO UPDATE SET
			total_cost_usd = daily_aggregates.total_cost_usd + EXCLUDED.total_cost_usd,
			total_requests = daily_aggregates.total_requests + 1,
			total_input_tokens = daily_aggregates.total_input_tokens + EXCLUDED.total_input_tokens,
			total_output_tokens = daily_aggregates.total_output_tokens + EXCLUDED.total_output_tokens`,
		rec.Day(), rec.CostUSD, rec.InputTokens, rec.OutputTokens,
	); err != nil {
		return fmt.Errorf("failed to update daily aggregate: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListRecent(ctx context.Context, days, limit int) ([]*UsageRecord, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	rows, err := s.db.Query(ctx, `
		SELECT id, request_id, model, input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens, cost_usd, source, endpoint, created_at
		FROM usage_records
		WHERE created_at >= $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()
	return scanPgxRecords(rows)
}

func (s *PostgresStore) AggregateFor(ctx context.Context, date string) (*DailyAggregate, error) {
	agg := &DailyAggregate{Date: date}
	err := s.db.QueryRow(ctx, `
		SELECT total_cost_usd, total_requests, total_input_tokens, total_output_tokens
		FROM daily_aggregates WHERE day = $1`, date,
	).Scan(&agg.TotalCostUSD, &agg.TotalRequests, &agg.TotalInputTokens, &agg.TotalOutputTokens)
	if errors.Is(err, pgx.ErrNoRows) {
		return agg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query daily aggregate: %w", err)
	}
	return agg, nil
}

func (s *PostgresStore) AggregateWindow(ctx context.Context, days int) ([]*DailyAggregate, error) {
	cutoff := time.Now().AddDate(0, 0, -days).Local().Format(DayFormat)
	rows, err := s.db.Query(ctx, `
		SELECT day, total_cost_usd, total_requests, total_input_tokens, total_output_tokens
		FROM daily_aggregates
		WHERE day >= $1
		ORDER BY day DESC`, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query aggregate window: %w", err)
	}
	defer rows.Close()

	var aggs []*DailyAggregate
	for rows.Next() {
		var a DailyAggregate
		if err := rows.Scan(&a.Date, &a.TotalCostUSD, &a.TotalRequests, &a.TotalInputTokens, &a.TotalOutputTokens); err != nil {
			return nil, fmt.Errorf("failed to scan daily aggregate: %w", err)
		}
		aggs = append(aggs, &a)
	}
	return aggs, rows.Err()
}

func (s *PostgresStore) Totals(ctx context.Context) (*Totals, error) {
	t := &Totals{}
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(cost_usd), 0), COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		FROM usage_records`,
	).Scan(&t.TotalCostUSD, &t.TotalRequests, &t.TotalInputTokens, &t.TotalOutputTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to compute totals: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) ExportAll(ctx context.Context) ([]*UsageRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, request_id, model, input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens, cost_usd, source, endpoint, created_at
		FROM usage_records
		ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to export usage records: %w", err)
	}
	defer rows.Close()
	return scanPgxRecords(rows)
}

func (s *PostgresStore) DeleteAll(ctx context.Context) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin delete tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM usage_records`); err != nil {
		return fmt.Errorf("failed to clear usage records: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM daily_aggregates`); err != nil {
		return fmt.Errorf("failed to clear daily aggregates: %w", err)
	}
	return tx.Commit(ctx)
}

func scanPgxRecords(rows pgx.Rows) ([]*UsageRecord, error) {
	var recs []*UsageRecord
	for rows.Next() {
		var r UsageRecord
		var source string
		if err := rows.Scan(
			&r.ID, &r.RequestID, &r.Model, &r.InputTokens, &r.OutputTokens,
			&r.CacheReadTokens, &r.CacheCreationTokens, &r.CostUSD,
			&source, &r.Endpoint, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		r.Source = Source(source)
		recs = append(recs, &r)
	}
	return recs, rows.Err()
}
