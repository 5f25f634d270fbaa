// Package worker decouples ledger writes from the response path. Handlers
// enqueue finished records; a single goroutine drains the queue and writes
// them, so the caller-visible response is never delayed by persistence and
// concurrent call completions cannot race a date's aggregate.
package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/hqvu/usage-relay/internal/ledger"
)

const writeTimeout = 10 * time.Second

// Recorder serializes Store.Record calls behind a buffered channel.
type Recorder struct {
	store ledger.Store
	queue chan *ledger.UsageRecord

	stopOnce sync.Once
	done     chan struct{}
}

// NewRecorder starts the drain loop. size bounds the number of pending
// records; when the queue is full new records are dropped with a log line
// rather than blocking a response.
func NewRecorder(store ledger.Store, size int) *Recorder {
	r := &Recorder{
		store: store,
		queue: make(chan *ledger.UsageRecord, size),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

// Enqueue hands a record to the drain loop. It never blocks and never
// fails the caller: persistence is best-effort relative to forwarding.
func (r *Recorder) Enqueue(rec *ledger.UsageRecord) {
	select {
	case r.queue <- rec:
	default:
		log.Printf("recorder: queue full, dropping usage record request_id=%s", rec.RequestID)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for rec := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.store.Record(ctx, rec); err != nil {
			// Ledger failures are operational diagnostics only; the
			// caller already has its response.
			log.Printf("recorder: failed to record usage request_id=%s: %v", rec.RequestID, err)
		}
		cancel()
	}
}

// Stop drains everything already enqueued, then returns. Observed usage is
// not dropped on shutdown.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.queue)
	})
	<-r.done
}
