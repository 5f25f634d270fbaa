package relay

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hqvu/usage-relay/internal/ledger"
)

const (
	defaultWindowDays = 7
	defaultListLimit  = 100
	maxListLimit      = 1000
)

func queryInt(r *http.Request, key string, fallback, max int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	if max > 0 && n > max {
		return max
	}
	return n
}

// HandleListLogs returns recent records, newest first.
func (h *Handler) HandleListLogs(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", defaultWindowDays, 0)
	limit := queryInt(r, "limit", defaultListLimit, maxListLimit)

	recs, err := h.store.ListRecent(r.Context(), days, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}
	if recs == nil {
		recs = []*ledger.UsageRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"days":  days,
		"count": len(recs),
		"logs":  recs,
	})
}

// HandleDailyWindow returns per-day aggregates for the trailing window.
func (h *Handler) HandleDailyWindow(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", defaultWindowDays, 0)

	aggs, err := h.store.AggregateWindow(r.Context(), days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}
	if aggs == nil {
		aggs = []*ledger.DailyAggregate{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"days":  days,
		"daily": aggs,
	})
}

// HandleDailyDate returns the aggregate for one calendar date.
func (h *Handler) HandleDailyDate(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if _, err := time.Parse(ledger.DayFormat, date); err != nil {
		writeError(w, http.StatusBadRequest, "invalid date (use YYYY-MM-DD)")
		return
	}

	agg, err := h.store.AggregateFor(r.Context(), date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

// HandleTotals returns the all-time rollup.
func (h *Handler) HandleTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := h.store.Totals(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

// HandleExport streams the full ledger as JSON or CSV.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		writeError(w, http.StatusBadRequest, "format must be json or csv")
		return
	}

	recs, err := h.store.ExportAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}

	stamp := time.Now().Format("20060102")
	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="usage-`+stamp+`.csv"`)
		_ = ledger.WriteCSV(w, recs)
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="usage-`+stamp+`.json"`)
		_ = ledger.WriteJSON(w, recs)
	}
}

// HandleDeleteAll clears the ledger: records and aggregates together.
func (h *Handler) HandleDeleteAll(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteAll(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear ledger")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
