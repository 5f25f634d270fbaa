package ledger

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"
)

// WriteJSON renders records as a structured JSON export.
func WriteJSON(w io.Writer, recs []*UsageRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if recs == nil {
		recs = []*UsageRecord{}
	}
	return enc.Encode(recs)
}

var csvHeader = []string{
	"request_id", "model", "input_tokens", "output_tokens",
	"cache_read_tokens", "cache_creation_tokens", "cost_usd",
	"source", "endpoint", "created_at",
}

// WriteCSV renders records as a flat delimited export.
func WriteCSV(w io.Writer, recs []*UsageRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range recs {
		row := []string{
			r.RequestID,
			r.Model,
			strconv.Itoa(r.InputTokens),
			strconv.Itoa(r.OutputTokens),
			strconv.Itoa(r.CacheReadTokens),
			strconv.Itoa(r.CacheCreationTokens),
			strconv.FormatFloat(r.CostUSD, 'f', -1, 64),
			string(r.Source),
			r.Endpoint,
			r.CreatedAt.Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
