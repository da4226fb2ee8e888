package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bakkerme/ghsearch-feed/internal/history"
)

// HealthResponse represents a simple health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// RunResponse is one entry of GET /runs.
type RunResponse struct {
	ID          string     `json:"id"`
	Query       string     `json:"query"`
	Status      string     `json:"status"`
	TriggerType string     `json:"trigger_type"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Results     int        `json:"results"`
	Pages       int        `json:"pages"`
	TotalCount  int        `json:"total_count"`
	StopReason  string     `json:"stop_reason"`
	Truncated   bool       `json:"truncated"`
	Error       string     `json:"error,omitempty"`
}

// startMetricsServer serves Prometheus metrics until ctx is cancelled.
//
// Endpoints:
//   - GET /metrics - Prometheus metrics from gatherer
//   - GET /health - liveness probe, always 200
//   - GET /runs?limit=N - recent runs from the history store (503 without one)
func startMetricsServer(ctx context.Context, logger *slog.Logger, addr string, gatherer prometheus.Gatherer, store history.Store) *http.Server {
	server := &http.Server{
		Addr:         addr,
		Handler:      newMetricsMux(logger, gatherer, store),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("metrics server starting", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", slog.Any("error", err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", slog.Any("error", err))
		} else {
			logger.Info("metrics server stopped")
		}
	}()

	return server
}

func newMetricsMux(logger *slog.Logger, gatherer prometheus.Gatherer, store history.Store) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/runs", runsHandler(logger, store))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func runsHandler(logger *slog.Logger, store history.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "run history is not enabled"})
			return
		}
		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		if err != nil || limit <= 0 || limit > 500 {
			limit = 20
		}
		records, err := store.RecentRuns(r.Context(), r.URL.Query().Get("query"), limit)
		if err != nil {
			logger.Error("list runs failed", slog.Any("error", err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list runs"})
			return
		}
		out := make([]RunResponse, 0, len(records))
		for _, rec := range records {
			resp := RunResponse{
				ID:          rec.ID,
				Query:       rec.Query,
				Status:      string(rec.Status),
				TriggerType: rec.TriggerType,
				StartedAt:   rec.StartedAt,
				Results:     rec.Results,
				Pages:       rec.Pages,
				TotalCount:  rec.TotalCount,
				StopReason:  string(rec.StopReason),
				Truncated:   rec.Truncated,
				Error:       rec.Error,
			}
			if !rec.CompletedAt.IsZero() {
				completed := rec.CompletedAt
				resp.CompletedAt = &completed
			}
			out = append(out, resp)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
