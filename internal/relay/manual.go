package relay

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/hqvu/usage-relay/internal/ledger"
)

type entryInput struct {
	RequestID           string `json:"request_id"`
	Model               string `json:"model"`
	InputTokens         int    `json:"input_tokens"`
	OutputTokens        int    `json:"output_tokens"`
	CacheReadTokens     int    `json:"cache_read_tokens"`
	CacheCreationTokens int    `json:"cache_creation_tokens"`
	Endpoint            string `json:"endpoint"`
}

func (in *entryInput) validate() string {
	if in.Model == "" {
		return "model is required"
	}
	if in.InputTokens < 0 || in.OutputTokens < 0 || in.CacheReadTokens < 0 || in.CacheCreationTokens < 0 {
		return "token counts must be non-negative"
	}
	return ""
}

// toRecord derives the stored form. Cost is always computed server-side;
// a caller-supplied cost is never trusted.
func (h *Handler) toRecord(in *entryInput, source ledger.Source) *ledger.UsageRecord {
	requestID := in.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	return &ledger.UsageRecord{
		RequestID:           requestID,
		Model:               in.Model,
		InputTokens:         in.InputTokens,
		OutputTokens:        in.OutputTokens,
		CacheReadTokens:     in.CacheReadTokens,
		CacheCreationTokens: in.CacheCreationTokens,
		CostUSD:             h.prices.ComputeCostFull(in.Model, in.InputTokens, in.OutputTokens, in.CacheReadTokens, in.CacheCreationTokens),
		Source:              source,
		Endpoint:            in.Endpoint,
	}
}

// HandleManualEntry stores one hand-entered usage record.
func (h *Handler) HandleManualEntry(w http.ResponseWriter, r *http.Request) {
	var in entryInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := in.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	rec := h.toRecord(&in, ledger.SourceManual)
	if err := h.store.Record(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store record")
		return
	}
	// A duplicate request id is a no-op by contract; the caller still
	// gets a success.
	writeJSON(w, http.StatusCreated, rec)
}

// HandleImport bulk-loads records from another tracker. Duplicates are
// skipped by request id, so re-running an import is harmless.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Records []entryInput `json:"records"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(in.Records) == 0 {
		writeError(w, http.StatusBadRequest, "records is required")
		return
	}

	imported := 0
	for i := range in.Records {
		if msg := in.Records[i].validate(); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
	}
	for i := range in.Records {
		rec := h.toRecord(&in.Records[i], ledger.SourceImported)
		if err := h.store.Record(r.Context(), rec); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to store record")
			return
		}
		if rec.ID != 0 { // zero id means the request id already existed
			imported++
		}
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"received": len(in.Records),
		"imported": imported,
	})
}
