// Package server exposes the operator API: telemetry intake, indicator
// lookups, the escalation queue and config reload.
package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"threatpipe/internal/detect"
	"threatpipe/internal/indicator"
	"threatpipe/internal/respond"
	"threatpipe/internal/store"
)

// realtimeBudget bounds one event scan; this path sits in a live ingestion
// stream.
const realtimeBudget = 100 * time.Millisecond

// DetectionSink consumes confirmed detections (response orchestration and
// SIEM forwarding run behind it).
type DetectionSink func(ctx context.Context, dets []detect.Detection)

// Server wraps the operator HTTP API.
type Server struct {
	detector *detect.Engine
	store    *store.Tiered
	orch     *respond.Orchestrator
	sink     DetectionSink
	reload   func() error
	router   *mux.Router
}

func New(det *detect.Engine, st *store.Tiered, orch *respond.Orchestrator, sink DetectionSink, reload func() error) *Server {
	s := &Server{detector: det, store: st, orch: orch, sink: sink, reload: reload, router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/v1/events", s.handleEvent).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/batch/scan", s.handleBatchScan).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/indicators/{type}/{value:.*}", s.handleGetIndicator).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/indicators", s.handleQueryIndicators).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/escalations", s.handleEscalations).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/audit", s.handleAudit).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/reload", s.handleReload).Methods(http.MethodPost)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
}

func (s *Server) Router() http.Handler { return s.router }

// StartMetrics serves Prometheus metrics on its own listener.
func (s *Server) StartMetrics(addr string) {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, metricsMux); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "err", err)
		}
	}()
}

type eventRequest struct {
	Payload string `json:"payload"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil || req.Payload == "" {
		http.Error(w, "expected JSON body with non-empty payload", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), realtimeBudget)
	defer cancel()
	dets := s.detector.ScanEvent(ctx, req.Payload)

	if len(dets) > 0 && s.sink != nil {
		// Response actions and SIEM delivery run off the request path.
		go s.sink(context.Background(), dets)
	}
	writeJSON(w, http.StatusOK, map[string]any{"detections": dets})
}

func (s *Server) handleBatchScan(w http.ResponseWriter, r *http.Request) {
	dets, err := s.detector.ScanBatch(r.Context(), io.LimitReader(r.Body, 64<<20))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(dets) > 0 && s.sink != nil {
		go s.sink(context.Background(), dets)
	}
	writeJSON(w, http.StatusOK, map[string]any{"detections": dets})
}

func (s *Server) handleGetIndicator(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	t := indicator.Type(vars["type"])
	if !indicator.Known(t) {
		http.Error(w, "unknown indicator type", http.StatusBadRequest)
		return
	}
	key := indicator.Key(t, indicator.Normalize(t, vars["value"]))
	ind, found, err := s.store.Lookup(r.Context(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if !found {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ind)
}

func (s *Server) handleQueryIndicators(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	if tag := r.URL.Query().Get("tag"); tag != "" {
		inds, err := s.store.Warm().QueryByTag(tag, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"indicators": inds})
		return
	}

	sinceStr := r.URL.Query().Get("since")
	untilStr := r.URL.Query().Get("until")
	if sinceStr != "" || untilStr != "" {
		since, until := time.Time{}, time.Now().UTC()
		var err error
		if sinceStr != "" {
			if since, err = time.Parse(time.RFC3339, sinceStr); err != nil {
				http.Error(w, "bad since timestamp", http.StatusBadRequest)
				return
			}
		}
		if untilStr != "" {
			if until, err = time.Parse(time.RFC3339, untilStr); err != nil {
				http.Error(w, "bad until timestamp", http.StatusBadRequest)
				return
			}
		}
		inds, err := s.store.Warm().QueryByTimeRange(since, until, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"indicators": inds})
		return
	}

	http.Error(w, "expected tag or since/until query", http.StatusBadRequest)
}

func (s *Server) handleEscalations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"escalations": s.orch.Queue().List()})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"entries": s.orch.Audit().Entries()})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.reload == nil {
		http.Error(w, "reload not supported", http.StatusNotImplemented)
		return
	}
	if err := s.reload(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "err", err)
	}
}
