package ledger

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(requestID string) *UsageRecord {
	return &UsageRecord{
		RequestID:    requestID,
		Model:        "claude-sonnet-4-5",
		InputTokens:  100,
		OutputTokens: 50,
		CostUSD:      0.00105,
		Source:       SourceRelay,
		Endpoint:     "/v1/messages",
	}
}

func TestRecord_AssignsIDAndTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("req-1")
	if err := s.Record(ctx, rec); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if rec.ID == 0 {
		t.Error("Expected non-zero ID after insert")
	}
	if rec.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt to be assigned")
	}
}

func TestRecord_DuplicateIsNoOp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, testRecord("req-1")); err != nil {
		t.Fatalf("First Record failed: %v", err)
	}

	// Same request id, different counts: must not error, must not change
	// anything.
	dup := testRecord("req-1")
	dup.InputTokens = 999999
	if err := s.Record(ctx, dup); err != nil {
		t.Fatalf("Duplicate Record returned error: %v", err)
	}

	totals, err := s.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	if totals.TotalRequests != 1 {
		t.Errorf("Expected 1 stored record, got %d", totals.TotalRequests)
	}
	if totals.TotalInputTokens != 100 {
		t.Errorf("Expected original token count 100, got %d", totals.TotalInputTokens)
	}

	agg, err := s.AggregateFor(ctx, time.Now().Local().Format(DayFormat))
	if err != nil {
		t.Fatalf("AggregateFor failed: %v", err)
	}
	if agg.TotalRequests != 1 {
		t.Errorf("Expected aggregate incremented exactly once, got %d", agg.TotalRequests)
	}
}

func TestRecord_AggregateMatchesRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wantCost float64
	for i := 0; i < 25; i++ {
		rec := testRecord(fmt.Sprintf("req-%d", i))
		rec.CostUSD = 0.0001 * float64(i+1)
		wantCost += rec.CostUSD
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record %d failed: %v", i, err)
		}
	}

	agg, err := s.AggregateFor(ctx, time.Now().Local().Format(DayFormat))
	if err != nil {
		t.Fatalf("AggregateFor failed: %v", err)
	}
	if agg.TotalRequests != 25 {
		t.Errorf("Expected 25 requests, got %d", agg.TotalRequests)
	}
	if math.Abs(agg.TotalCostUSD-wantCost) > 1e-9 {
		t.Errorf("Expected aggregate cost %v, got %v", wantCost, agg.TotalCostUSD)
	}

	totals, err := s.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	if math.Abs(totals.TotalCostUSD-agg.TotalCostUSD) > 1e-9 {
		t.Errorf("Totals cost %v disagrees with aggregate %v", totals.TotalCostUSD, agg.TotalCostUSD)
	}
}

func TestRecord_ConcurrentInsertsDoNotLoseIncrements(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.Record(ctx, testRecord(fmt.Sprintf("concurrent-%d", i)))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Concurrent Record failed: %v", err)
		}
	}

	agg, err := s.AggregateFor(ctx, time.Now().Local().Format(DayFormat))
	if err != nil {
		t.Fatalf("AggregateFor failed: %v", err)
	}
	if agg.TotalRequests != n {
		t.Errorf("Expected %d aggregate requests, got %d", n, agg.TotalRequests)
	}
}

func TestListRecent_NewestFirstAndCapped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := s.Record(ctx, testRecord(fmt.Sprintf("req-%d", i))); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	recs, err := s.ListRecent(ctx, 7, 5)
	if err != nil {
		t.Fatalf("ListRecent failed: %v", err)
	}
	if len(recs) != 5 {
		t.Fatalf("Expected 5 records, got %d", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].ID > recs[i-1].ID {
			t.Errorf("Expected newest-first ordering, got ids %d before %d", recs[i-1].ID, recs[i].ID)
		}
	}
}

func TestAggregateFor_EmptyDateReturnsZeroes(t *testing.T) {
	s := newTestStore(t)

	agg, err := s.AggregateFor(context.Background(), "1999-01-01")
	if err != nil {
		t.Fatalf("AggregateFor failed: %v", err)
	}
	if agg.TotalRequests != 0 || agg.TotalCostUSD != 0 {
		t.Errorf("Expected zero aggregate, got %+v", agg)
	}
}

func TestAggregateWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, testRecord("req-1")); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	aggs, err := s.AggregateWindow(ctx, 7)
	if err != nil {
		t.Fatalf("AggregateWindow failed: %v", err)
	}
	if len(aggs) != 1 {
		t.Fatalf("Expected 1 aggregate row, got %d", len(aggs))
	}
	if aggs[0].Date != time.Now().Local().Format(DayFormat) {
		t.Errorf("Unexpected aggregate date %s", aggs[0].Date)
	}
}

func TestDeleteAll_EmptiesBothTables(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.Record(ctx, testRecord(fmt.Sprintf("req-%d", i))); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	if err := s.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll failed: %v", err)
	}

	totals, err := s.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals after delete failed: %v", err)
	}
	if totals.TotalRequests != 0 || totals.TotalCostUSD != 0 {
		t.Errorf("Expected zero totals after delete, got %+v", totals)
	}

	aggs, err := s.AggregateWindow(ctx, 7)
	if err != nil {
		t.Fatalf("AggregateWindow after delete failed: %v", err)
	}
	if len(aggs) != 0 {
		t.Errorf("Expected no aggregates after delete, got %d", len(aggs))
	}
}

func TestExportAll_CompleteInBothShapes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 8
	for i := 0; i < n; i++ {
		if err := s.Record(ctx, testRecord(fmt.Sprintf("req-%d", i))); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	recs, err := s.ExportAll(ctx)
	if err != nil {
		t.Fatalf("ExportAll failed: %v", err)
	}
	if len(recs) != n {
		t.Fatalf("Expected %d exported records, got %d", n, len(recs))
	}

	var jsonBuf bytes.Buffer
	if err := WriteJSON(&jsonBuf, recs); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	var decoded []UsageRecord
	if err := json.Unmarshal(jsonBuf.Bytes(), &decoded); err != nil {
		t.Fatalf("Export JSON is not valid: %v", err)
	}
	if len(decoded) != n {
		t.Errorf("Expected %d records in JSON export, got %d", n, len(decoded))
	}

	var csvBuf bytes.Buffer
	if err := WriteCSV(&csvBuf, recs); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}
	rows, err := csv.NewReader(&csvBuf).ReadAll()
	if err != nil {
		t.Fatalf("Export CSV is not valid: %v", err)
	}
	if len(rows) != n+1 { // header + records
		t.Errorf("Expected %d CSV rows, got %d", n+1, len(rows))
	}
}
