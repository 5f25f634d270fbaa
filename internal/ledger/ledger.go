// Package ledger durably stores usage records and maintains the per-day
// aggregates derived from them.
package ledger

import (
	"context"
	"time"
)

// Source identifies what produced a usage record.
type Source string

const (
	SourceRelay     Source = "relay"
	SourceManual    Source = "manual"
	SourceImported  Source = "imported"
	SourceSimulated Source = "simulated"
)

// DayFormat is the calendar-day key layout, in the server's local clock.
const DayFormat = "2006-01-02"

// UsageRecord is one accounted call: token counts plus the derived cost.
type UsageRecord struct {
	ID                  int64     `json:"id"`
	RequestID           string    `json:"request_id"`
	Model               string    `json:"model"`
	InputTokens         int       `json:"input_tokens"`
	OutputTokens        int       `json:"output_tokens"`
	CacheReadTokens     int       `json:"cache_read_tokens"`
	CacheCreationTokens int       `json:"cache_creation_tokens"`
	CostUSD             float64   `json:"cost_usd"`
	Source              Source    `json:"source"`
	Endpoint            string    `json:"endpoint"`
	CreatedAt           time.Time `json:"created_at"`
}

// Day returns the record's aggregate bucket key.
func (r *UsageRecord) Day() string {
	return r.CreatedAt.Local().Format(DayFormat)
}

// DailyAggregate is the per-day rollup, maintained atomically with record
// inserts. It is a derived cache of the record table and can always be
// rebuilt by replaying it.
type DailyAggregate struct {
	Date              string  `json:"date"`
	TotalCostUSD      float64 `json:"total_cost_usd"`
	TotalRequests     int64   `json:"total_requests"`
	TotalInputTokens  int64   `json:"total_input_tokens"`
	TotalOutputTokens int64   `json:"total_output_tokens"`
}

// Totals is the all-time rollup across every record.
type Totals struct {
	TotalCostUSD      float64 `json:"total_cost_usd"`
	TotalRequests     int64   `json:"total_requests"`
	TotalInputTokens  int64   `json:"total_input_tokens"`
	TotalOutputTokens int64   `json:"total_output_tokens"`
}

// Store is the persistence contract. Implementations must make the record
// insert and its aggregate update one atomic unit, and must treat an
// already-present request id as a silent no-op so client retries account
// exactly once.
type Store interface {
	// Record inserts rec and applies its daily-aggregate delta. It assigns
	// rec.ID and rec.CreatedAt. A duplicate RequestID leaves the ledger
	// untouched and returns nil.
	Record(ctx context.Context, rec *UsageRecord) error

	// ListRecent returns records created within the trailing day window,
	// newest first, capped at limit.
	ListRecent(ctx context.Context, days, limit int) ([]*UsageRecord, error)

	// AggregateFor returns the aggregate for one calendar date. Dates with
	// no records yield a zero-valued aggregate, not an error.
	AggregateFor(ctx context.Context, date string) (*DailyAggregate, error)

	// AggregateWindow returns aggregates for the trailing day window,
	// newest date first.
	AggregateWindow(ctx context.Context, days int) ([]*DailyAggregate, error)

	// Totals computes the all-time rollup from the record table as one
	// consistent snapshot.
	Totals(ctx context.Context) (*Totals, error)

	// ExportAll returns every record, newest first.
	ExportAll(ctx context.Context) ([]*UsageRecord, error)

	// DeleteAll clears records and aggregates together, atomically.
	DeleteAll(ctx context.Context) error

	Close() error
}
