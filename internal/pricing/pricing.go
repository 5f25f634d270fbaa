// Package pricing maps model identifiers to per-token prices and derives
// the cost of a call from its token counts.
package pricing

import (
	_ "embed"
	"encoding/json"
	"strings"
)

//go:embed pricing.json
var defaultTableJSON []byte

// DefaultModel is the tier used when a model identifier matches no table
// entry. Pricing must never block logging, so lookups cannot fail.
const DefaultModel = "claude-sonnet-4-5"

// ModelPricing holds USD prices per one million tokens.
type ModelPricing struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheRead  float64 `json:"cache_read"`
	CacheWrite float64 `json:"cache_write"`
}

type Table map[string]ModelPricing

// LoadDefault parses the embedded price table.
func LoadDefault() (Table, error) {
	var t Table
	if err := json.Unmarshal(defaultTableJSON, &t); err != nil {
		return nil, err
	}
	return t, nil
}

// MustLoadDefault is LoadDefault for process startup, where a broken
// embedded table is unrecoverable.
func MustLoadDefault() Table {
	t, err := LoadDefault()
	if err != nil {
		panic("pricing: invalid embedded table: " + err.Error())
	}
	return t
}

// Resolve returns the price tier for a model. Exact match wins; otherwise
// the table key sharing the longest prefix relation with the model (in
// either direction) is used. Ties are impossible because the longest key
// is chosen. Unknown models fall back to DefaultModel.
func (t Table) Resolve(model string) ModelPricing {
	if model == "" {
		return t[DefaultModel]
	}
	if p, ok := t[model]; ok {
		return p
	}
	var bestKey string
	for key := range t {
		if !strings.HasPrefix(model, key) && !strings.HasPrefix(key, model) {
			continue
		}
		if len(key) > len(bestKey) || (len(key) == len(bestKey) && key < bestKey) {
			bestKey = key
		}
	}
	if bestKey != "" {
		return t[bestKey]
	}
	return t[DefaultModel]
}

// ComputeCost returns the USD cost of a call from its input and output
// token counts.
func (t Table) ComputeCost(model string, inputTokens, outputTokens int) float64 {
	p := t.Resolve(model)
	return (float64(inputTokens)*p.Input + float64(outputTokens)*p.Output) / 1_000_000
}

// ComputeCostFull additionally prices prompt-cache reads and writes.
func (t Table) ComputeCostFull(model string, inputTokens, outputTokens, cacheReadTokens, cacheWriteTokens int) float64 {
	p := t.Resolve(model)
	cost := float64(inputTokens) * p.Input
	cost += float64(outputTokens) * p.Output
	cost += float64(cacheReadTokens) * p.CacheRead
	cost += float64(cacheWriteTokens) * p.CacheWrite
	return cost / 1_000_000
}
