package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BrandonDHaskell/Portunus/gateway/internal/portunus/store"
)

// HistoryReader is the read side of the audit log.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]store.AuditRecord, error)
}

type Dependencies struct {
	Logger  *slog.Logger
	Addr    string
	History HistoryReader

	DefaultLimit int // 50 when zero
	MaxLimit     int // 500 when zero

	// Optional
	BusConnected func() bool
	Healthy      func() bool // latest health monitor round
	Metrics      http.Handler
}

type Server struct {
	httpServer   *http.Server
	logger       *slog.Logger
	history      HistoryReader
	defaultLimit int
	maxLimit     int
	busConnected func() bool
	healthy      func() bool
}

func NewServer(d Dependencies) *Server {
	s := &Server{
		logger:       d.Logger,
		history:      d.History,
		defaultLimit: d.DefaultLimit,
		maxLimit:     d.MaxLimit,
		busConnected: d.BusConnected,
		healthy:      d.Healthy,
	}
	if s.defaultLimit <= 0 {
		s.defaultLimit = 50
	}
	if s.maxLimit <= 0 {
		s.maxLimit = 500
	}
	if s.healthy == nil {
		s.healthy = func() bool { return false }
	}
	if s.busConnected == nil {
		s.busConnected = func() bool { return false }
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware(d.Logger))
	r.Use(corsMiddleware)

	r.Get("/logs", s.handleLogs)
	r.Get("/healthz", s.handleHealth)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := s.defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, s.maxLimit)
	}

	recs, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("history query failed", slog.String("error", err.Error()))
		if errors.Is(err, store.ErrStorage) {
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", "audit store unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	if wantsProtobuf(r) {
		msg, err := historyToProto(recs)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
			return
		}
		writeProto(w, http.StatusOK, msg)
		return
	}

	writeJSON(w, http.StatusOK, historyToJSON(recs))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"ok":            true,
		"bus_connected": s.busConnected(),
		"healthy":       s.healthy(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": code, "message": msg})
}
