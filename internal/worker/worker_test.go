package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hqvu/usage-relay/internal/ledger"
)

// mockStore records calls; only Record matters here.
type mockStore struct {
	mu        sync.Mutex
	recorded  []*ledger.UsageRecord
	recordErr error
}

func (m *mockStore) Record(ctx context.Context, rec *ledger.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return m.recordErr
	}
	m.recorded = append(m.recorded, rec)
	return nil
}

func (m *mockStore) ListRecent(ctx context.Context, days, limit int) ([]*ledger.UsageRecord, error) {
	return nil, nil
}
func (m *mockStore) AggregateFor(ctx context.Context, date string) (*ledger.DailyAggregate, error) {
	return &ledger.DailyAggregate{Date: date}, nil
}
func (m *mockStore) AggregateWindow(ctx context.Context, days int) ([]*ledger.DailyAggregate, error) {
	return nil, nil
}
func (m *mockStore) Totals(ctx context.Context) (*ledger.Totals, error) {
	return &ledger.Totals{}, nil
}
func (m *mockStore) ExportAll(ctx context.Context) ([]*ledger.UsageRecord, error) {
	return nil, nil
}
func (m *mockStore) DeleteAll(ctx context.Context) error { return nil }
func (m *mockStore) Close() error                        { return nil }

func (m *mockStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recorded)
}

func TestRecorder_DrainsOnStop(t *testing.T) {
	store := &mockStore{}
	r := NewRecorder(store, 16)

	for i := 0; i < 10; i++ {
		r.Enqueue(&ledger.UsageRecord{RequestID: "req", Source: ledger.SourceRelay})
	}
	r.Stop()

	if got := store.count(); got != 10 {
		t.Errorf("Expected 10 records after Stop, got %d", got)
	}
}

func TestRecorder_StoreFailureDoesNotStopLoop(t *testing.T) {
	store := &mockStore{recordErr: errors.New("disk full")}
	r := NewRecorder(store, 4)

	r.Enqueue(&ledger.UsageRecord{RequestID: "req-1"})
	store.mu.Lock()
	store.recordErr = nil
	store.mu.Unlock()
	r.Enqueue(&ledger.UsageRecord{RequestID: "req-2"})
	r.Stop()

	if got := store.count(); got < 1 {
		t.Errorf("Expected the loop to survive a write failure, recorded %d", got)
	}
}

func TestRecorder_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	// Flooding a tiny queue must never block the caller; drops are fine.
	store := &mockStore{}
	r := NewRecorder(store, 1)
	for i := 0; i < 100; i++ {
		r.Enqueue(&ledger.UsageRecord{RequestID: "req"})
	}
	r.Stop() // must not hang
}
