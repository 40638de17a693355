// ABOUTME: HTTP server exposing the mirrored data, sync controls and Prometheus metrics
// ABOUTME: Read endpoints reuse the MCP query handlers so both surfaces return the same shapes
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/harperreed/gestor/db"
	"github.com/harperreed/gestor/handlers"
	"github.com/harperreed/gestor/metrics"
	"github.com/harperreed/gestor/models"
	"github.com/harperreed/gestor/sync"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	store   *db.Store
	queries *handlers.QueryHandlers
	syncs   *handlers.SyncHandlers
	canSync bool
	logger  *log.Logger
	mux     *http.ServeMux
}

// NewServer wires the routes. trigger may be nil, in which case POST /sync
// answers 503.
func NewServer(store *db.Store, trigger handlers.SyncTrigger, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	s := &Server{
		store:   store,
		queries: handlers.NewQueryHandlers(store),
		syncs:   handlers.NewSyncHandlers(store, trigger, models.TriggerHTTP),
		canSync: trigger != nil,
		logger:  logger.With("component", "web"),
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/companies", s.handleCompanies)
	s.mux.HandleFunc("GET /api/processes", s.handleProcesses)
	s.mux.HandleFunc("GET /api/deliveries", s.handleDeliveries)
	s.mux.HandleFunc("GET /api/sync", s.handleSyncStatus)
	s.mux.HandleFunc("POST /sync", s.handleSyncNow)
	s.mux.Handle("GET /metrics", metrics.Handler())
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting web server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("web server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down web server: %w", err)
		}
		return nil
	}
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cursors, err := s.store.ListSyncCursors(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	var last *time.Time
	for i := range cursors {
		c := cursors[i].LastRunAt
		if c != nil && (last == nil || c.After(*last)) {
			last = c
		}
	}

	resp := map[string]any{"status": "ok", "last_sync": nil}
	if last != nil {
		resp["last_sync"] = last.UTC().Format(time.RFC3339)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCompanies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	_, out, err := s.queries.FindCompanies(r.Context(), nil, handlers.FindCompaniesInput{
		Query: q.Get("q"),
		Limit: intParam(q.Get("limit")),
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, listResponse[handlers.CompanyOutput]{Items: out.Companies, Total: len(out.Companies)})
}

func (s *Server) handleProcesses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	_, out, err := s.queries.FindProcesses(r.Context(), nil, handlers.FindProcessesInput{
		Company:      q.Get("company"),
		Status:       q.Get("status"),
		Query:        q.Get("q"),
		ChangedSince: q.Get("changed_since"),
		Limit:        intParam(q.Get("limit")),
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, listResponse[handlers.ProcessOutput]{Items: out.Processes, Total: len(out.Processes)})
}

func (s *Server) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	_, out, err := s.queries.FindDeliveries(r.Context(), nil, handlers.FindDeliveriesInput{
		Company: q.Get("company"),
		Process: q.Get("process"),
		Type:    q.Get("type"),
		Since:   q.Get("since"),
		Limit:   intParam(q.Get("limit")),
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, listResponse[handlers.DeliveryOutput]{Items: out.Deliveries, Total: len(out.Deliveries)})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	_, out, err := s.syncs.SyncStatus(r.Context(), nil, handlers.SyncStatusInput{})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	if !s.canSync {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("sync is not configured"))
		return
	}

	full, _ := strconv.ParseBool(r.URL.Query().Get("full"))
	_, out, err := s.syncs.SyncNow(r.Context(), nil, handlers.SyncNowInput{Full: full})
	switch {
	case errors.Is(err, sync.ErrSyncInProgress):
		s.writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		s.writeError(w, http.StatusBadGateway, err)
		return
	}

	code := http.StatusOK
	if out.Status != models.RunStatusOK {
		code = http.StatusMultiStatus
	}
	s.writeJSON(w, code, out)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", code, "error", err)
	}
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func intParam(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
