package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/fee"
	"github.com/vietddude/txguard/internal/infra/storage"
	"github.com/vietddude/txguard/internal/queue"
)

// Operations is the service behind the /operations endpoints.
type Operations interface {
	Submit(ctx context.Context, sub domain.Submission) (string, error)
	Cancel(id string) bool
	Get(ctx context.Context, id string) (*domain.Snapshot, error)
	List(ctx context.Context, filter storage.ListFilter) ([]domain.Snapshot, error)
}

// Server provides HTTP endpoints for health monitoring and operation intake.
type Server struct {
	monitor *Monitor
	ops     Operations
	server  *http.Server
	log     *slog.Logger
}

// NewServer creates a new health server. ops may be nil, in which case the
// /operations endpoints are not registered.
func NewServer(monitor *Monitor, ops Operations, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		monitor: monitor,
		ops:     ops,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
		log: slog.Default().With("component", "http"),
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/detailed", s.handleDetailed)
	mux.Handle("GET /metrics", promhttp.Handler())

	if ops != nil {
		mux.HandleFunc("POST /operations", s.handleSubmit)
		mux.HandleFunc("GET /operations", s.handleList)
		mux.HandleFunc("GET /operations/{id}", s.handleGet)
		mux.HandleFunc("DELETE /operations/{id}", s.handleCancel)
	}

	return s
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())

	code := http.StatusOK
	if report.SystemStatus == StatusCritical {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]string{"status": string(report.SystemStatus)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.monitor.CheckHealth(r.Context()))
}

// maxSubmitBytes caps the POST /operations body.
const maxSubmitBytes = 1 << 20

type submitRequest struct {
	ID          string `json:"id"`
	Method      string `json:"method"`
	Params      []any  `json:"params"`
	Tier        string `json:"tier"`
	MaxAttempts int    `json:"max_attempts"`
	Label       string `json:"label"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body submitRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBytes)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("body exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	if body.Method == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("method is required"))
		return
	}

	id, err := s.ops.Submit(r.Context(), domain.Submission{
		Request: domain.Request{
			ID:     body.ID,
			Method: body.Method,
			Params: body.Params,
		},
		Tier:        body.Tier,
		MaxAttempts: body.MaxAttempts,
		Label:       body.Label,
	})
	if err != nil {
		switch {
		case errors.Is(err, fee.ErrUnknownTier):
			s.writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, queue.ErrDuplicateID):
			s.writeError(w, http.StatusConflict, err)
		case errors.Is(err, queue.ErrClosed):
			s.writeError(w, http.StatusServiceUnavailable, err)
		default:
			s.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.ListFilter{
		Queue:  q.Get("queue"),
		Status: domain.OperationStatus(q.Get("status")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		filter.Limit = n
	}

	snaps, err := s.ops.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if snaps == nil {
		snaps = []domain.Snapshot{}
	}
	s.writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	snap, err := s.ops.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.ops.Cancel(id) {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("operation %s is not pending", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("Failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}
