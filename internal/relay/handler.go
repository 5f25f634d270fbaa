package relay

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hqvu/usage-relay/internal/ledger"
	"github.com/hqvu/usage-relay/internal/pricing"
	"github.com/hqvu/usage-relay/internal/usage"
	"github.com/hqvu/usage-relay/internal/worker"
)

const messagesEndpoint = "/v1/messages"

type Handler struct {
	upstream *Upstream
	store    ledger.Store
	recorder *worker.Recorder
	prices   pricing.Table
	tracer   trace.Tracer
}

func NewHandler(upstream *Upstream, store ledger.Store, recorder *worker.Recorder, prices pricing.Table, tracer trace.Tracer) *Handler {
	return &Handler{
		upstream: upstream,
		store:    store,
		recorder: recorder,
		prices:   prices,
		tracer:   tracer,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// HandleMessages forwards one provider call and accounts its usage. The
// caller gets the upstream response verbatim; accounting rides on a tapped
// copy and can never surface as a caller-visible error.
func (h *Handler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	// Peek at routing fields without touching the raw bytes that get
	// forwarded. A body the peek cannot parse is still forwarded; the
	// provider is the authority on validity.
	var peek struct {
		Model  string `json:"model"`
		Stream bool   `json:"stream"`
	}
	_ = json.Unmarshal(body, &peek)

	_, span := h.tracer.Start(r.Context(), "relay.messages")
	defer span.End()
	span.SetAttributes(
		attribute.String("request_id", requestID),
		attribute.String("model", peek.Model),
		attribute.Bool("stream", peek.Stream),
	)

	resp, err := h.upstream.Forward(r, messagesEndpoint, body)
	if errors.Is(err, ErrNotConfigured) {
		writeError(w, http.StatusInternalServerError, "ANTHROPIC_API_KEY is not configured")
		return
	}
	if err != nil {
		log.Printf("relay: upstream forward failed request_id=%s: %v", requestID, err)
		writeError(w, http.StatusBadGateway, "upstream unreachable")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Failed calls are not billed: pass the rejection through
		// verbatim and record nothing.
		copyHeader(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
		return
	}

	if peek.Stream {
		h.relayStream(w, r, resp, requestID, peek.Model)
		return
	}
	h.relayBuffered(w, resp, requestID, peek.Model)
}

func (h *Handler) relayBuffered(w http.ResponseWriter, resp *http.Response, requestID, model string) {
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("relay: failed reading upstream body request_id=%s: %v", requestID, err)
		writeError(w, http.StatusBadGateway, "upstream response truncated")
		return
	}

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)

	u := usage.FromResponseBody(respBody)
	h.recorder.Enqueue(h.buildRecord(requestID, model, u))
}

func (h *Handler) relayStream(w http.ResponseWriter, r *http.Request, resp *http.Response, requestID, model string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	copyHeader(w.Header(), resp.Header)
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "text/event-stream")
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(resp.StatusCode)

	// The scanner sees the same bytes the caller gets, strictly after
	// they are written, so extraction can never reorder or delay them.
	scanner := usage.NewStreamScanner()
	buf := make([]byte, 32*1024)
	callerGone := false

	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				callerGone = true
				break
			}
			flusher.Flush()
			scanner.Feed(buf[:n])
		}
		if rerr != nil {
			if rerr != io.EOF {
				// Mid-stream upstream error: the caller's stream simply
				// ends. Usage observed so far still counts below.
				log.Printf("relay: upstream stream ended early request_id=%s: %v", requestID, rerr)
			}
			break
		}
	}

	if callerGone || r.Context().Err() != nil {
		// The call was not completed; partial usage is not billed usage.
		return
	}

	if u, seen := scanner.Finalize(); seen {
		h.recorder.Enqueue(h.buildRecord(requestID, model, u))
	}
}

func (h *Handler) buildRecord(requestID, model string, u usage.Usage) *ledger.UsageRecord {
	return &ledger.UsageRecord{
		RequestID:           requestID,
		Model:               model,
		InputTokens:         u.InputTokens,
		OutputTokens:        u.OutputTokens,
		CacheReadTokens:     u.CacheReadTokens,
		CacheCreationTokens: u.CacheCreationTokens,
		CostUSD:             h.prices.ComputeCostFull(model, u.InputTokens, u.OutputTokens, u.CacheReadTokens, u.CacheCreationTokens),
		Source:              ledger.SourceRelay,
		Endpoint:            messagesEndpoint,
	}
}

// copyHeader carries the upstream's content headers to the caller without
// inventing any of its own.
func copyHeader(dst, src http.Header) {
	for _, k := range []string{"Content-Type", "Request-Id"} {
		if v := src.Get(k); v != "" {
			dst.Set(k, v)
		}
	}
}
