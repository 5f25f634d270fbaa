package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS usage_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL UNIQUE,
	model TEXT NOT NULL,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cache_read_tokens INTEGER NOT NULL DEFAULT 0,
	cache_creation_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd REAL NOT NULL DEFAULT 0,
	source TEXT NOT NULL,
	endpoint TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_records_created_at ON usage_records(created_at);

CREATE TABLE IF NOT EXISTS daily_aggregates (
	day TEXT PRIMARY KEY,
	total_cost_usd REAL NOT NULL DEFAULT 0,
	total_requests INTEGER NOT NULL DEFAULT 0,
	total_input_tokens INTEGER NOT NULL DEFAULT 0,
	total_output_tokens INTEGER NOT NULL DEFAULT 0
);
`

// SQLiteStore is the default, file-local Store backend.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and
// bootstraps the schema. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// A single connection serializes all access; every ledger operation
	// is a short transaction, so writers never see SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA foreign_keys = ON`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Record(ctx context.Context, rec *UsageRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin record tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO usage_records
			(request_id, model, input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens, cost_usd, source, endpoint, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Model, rec.InputTokens, rec.OutputTokens,
		rec.CacheReadTokens, rec.CacheCreationTokens, rec.CostUSD,
		string(rec.Source), rec.Endpoint, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if inserted == 0 {
		// Duplicate request id: exactly-once accounting makes this a no-op.
		return tx.Commit()
	}

	rec.CreatedAt = now
	if rec.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read insert id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO daily_aggregates (day, total_cost_usd, total_requests, total_input_tokens, total_output_tokens)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(day) DO UPDATE SET
			total_cost_usd = total_cost_usd + excluded.total_cost_usd,
			total_requests = total_requests + 1,
			total_input_tokens = total_input_tokens + excluded.total_input_tokens,
			total_output_tokens = total_output_tokens + excluded.total_output_tokens`,
		rec.Day(), rec.CostUSD, rec.InputTokens, rec.OutputTokens,
	); err != nil {
		return fmt.Errorf("failed to update daily aggregate: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) ListRecent(ctx context.Context, days, limit int) ([]*UsageRecord, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, model, input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens, cost_usd, source, endpoint, created_at
		FROM usage_records
		WHERE created_at >= ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *SQLiteStore) AggregateFor(ctx context.Context, date string) (*DailyAggregate, error) {
	agg := &DailyAggregate{Date: date}
	err := s.db.QueryRowContext(ctx, `
		SELECT total_cost_usd, total_requests, total_input_tokens, total_output_tokens
		FROM daily_aggregates WHERE day = ?`, date,
	).Scan(&agg.TotalCostUSD, &agg.TotalRequests, &agg.TotalInputTokens, &agg.TotalOutputTokens)
	if err == sql.ErrNoRows {
		return agg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query daily aggregate: %w", err)
	}
	return agg, nil
}

func (s *SQLiteStore) AggregateWindow(ctx context.Context, days int) ([]*DailyAggregate, error) {
	cutoff := time.Now().AddDate(0, 0, -days).Local().Format(DayFormat)
	rows, err := s.db.QueryContext(ctx, `
		SELECT day, total_cost_usd, total_requests, total_input_tokens, total_output_tokens
		FROM daily_aggregates
		WHERE day >= ?
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

func (s *SQLiteStore) Totals(ctx context.Context) (*Totals, error) {
	t := &Totals{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cost_usd), 0), COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		FROM usage_records`,
	).Scan(&t.TotalCostUSD, &t.TotalRequests, &t.TotalInputTokens, &t.TotalOutputTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to compute totals: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) ExportAll(ctx context.Context) ([]*UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, model, input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens, cost_usd, source, endpoint, created_at
		FROM usage_records
		ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to export usage records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *SQLiteStore) DeleteAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM usage_records`); err != nil {
		return fmt.Errorf("failed to clear usage records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM daily_aggregates`); err != nil {
		return fmt.Errorf("failed to clear daily aggregates: %w", err)
	}
	return tx.Commit()
}

func scanRecords(rows *sql.Rows) ([]*UsageRecord, error) {
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
