package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trackrelay/trackrelay/fetch"
	"github.com/trackrelay/trackrelay/pipeline"
)

// Handlers bundles the dependencies the HTTP endpoints need.
type Handlers struct {
	db      *sql.DB
	orch    *pipeline.Orchestrator
	journal *pipeline.Journal
	fetcher *fetch.Fetcher

	// baseCtx outlives individual requests so accepted pipeline work is not
	// canceled when the submitting HTTP request returns.
	baseCtx context.Context
}

// NewHandlers constructs the handler set.
func NewHandlers(ctx context.Context, db *sql.DB, orch *pipeline.Orchestrator, journal *pipeline.Journal, fetcher *fetch.Fetcher) *Handlers {
	return &Handlers{db: db, orch: orch, journal: journal, fetcher: fetcher, baseCtx: ctx}
}

// HandleHealthz responds to liveness probes.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probes with per-dependency checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.db.PingContext(r.Context()) }},
		{"fetch_capacity", func() error {
			if h.fetcher.ActiveFetches() >= h.fetcher.MaxConcurrent() {
				return errors.New("all fetch slots busy")
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus reports pipeline counts, in-flight work, and moving averages.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	resp := map[string]any{}

	var delivered, failed, inflightDB int
	_ = h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM relay_requests WHERE state='delivered'`).Scan(&delivered)
	_ = h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM relay_requests WHERE state='failed'`).Scan(&failed)
	_ = h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM relay_requests WHERE state NOT IN ('delivered','failed')`).Scan(&inflightDB)
	resp["delivered"] = delivered
	resp["failed"] = failed
	resp["pending"] = inflightDB

	resp["inflightRequests"] = h.orch.InflightRequests()
	resp["activeFetches"] = h.fetcher.ActiveFetches()
	resp["maxConcurrentFetches"] = h.fetcher.MaxConcurrent()

	resp["avgFetchMs"] = h.journal.MovingAvg(ctx, "avg_fetch_ms")
	resp["avgDeliverMs"] = h.journal.MovingAvg(ctx, "avg_deliver_ms")
	resp["avgTotalMs"] = h.journal.MovingAvg(ctx, "avg_total_ms")

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

type submitRequest struct {
	URL string `json:"url"`
}

type submitResponse struct {
	RequestID string `json:"requestId"`
	State     string `json:"state"`
}

// HandleRequests accepts a new relay request. The response acknowledges
// admission only; the pipeline runs asynchronously and progress is observable
// via GET /requests/{id}.
func (h *Handlers) HandleRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body submitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if body.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}
	if u, err := url.Parse(body.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		http.Error(w, "url must be http or https", http.StatusBadRequest)
		return
	}

	req := pipeline.Request{
		ID:        uuid.New().String(),
		RawURL:    body.URL,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.orch.Submit(h.baseCtx, req); err != nil {
		if errors.Is(err, pipeline.ErrBusy) {
			http.Error(w, "too many in-flight requests, retry later", http.StatusServiceUnavailable)
			return
		}
		slog.Error("request admission failed", slog.Any("err", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(submitResponse{RequestID: req.ID, State: string(pipeline.StateReceived)})
}

// HandleRequestByID serves the journal record for one request.
func (h *Handlers) HandleRequestByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/requests/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	rec, err := h.journal.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		slog.Error("journal lookup failed", slog.String("request_id", id), slog.Any("err", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rec)
}
