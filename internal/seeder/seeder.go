package seeder

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/hqvu/usage-relay/internal/ledger"
	"github.com/hqvu/usage-relay/internal/pricing"
)

type seedCall struct {
	model  string
	input  int
	output int
}

var seedCalls = []seedCall{
	{"claude-sonnet-4-5", 1200, 340},
	{"claude-sonnet-4-5", 8600, 1024},
	{"claude-haiku-4-5", 450, 90},
	{"claude-opus-4-1", 3000, 750},
	{"claude-sonnet-4-5", 15000, 2200},
}

// SeedSimulatedUsage inserts a small batch of simulated records so the
// dashboard collaborators have something to read during local
// development. Request ids are random, so repeated runs add new rows.
func SeedSimulatedUsage(ctx context.Context, store ledger.Store, prices pricing.Table) {
	for _, c := range seedCalls {
		rec := &ledger.UsageRecord{
			RequestID:    fmt.Sprintf("seed-%s", uuid.New().String()),
			Model:        c.model,
			InputTokens:  c.input,
			OutputTokens: c.output,
			CostUSD:      prices.ComputeCost(c.model, c.input, c.output),
			Source:       ledger.SourceSimulated,
			Endpoint:     "/v1/messages",
		}
		if err := store.Record(ctx, rec); err != nil {
			log.Printf("[Seeder] failed to seed record: %v", err)
			return
		}
	}
	log.Printf("[Seeder] inserted %d simulated usage records", len(seedCalls))
}
