// Package api exposes the pipeline operations as JSON endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rpattn/ddsetl/internal/domain"
	"github.com/rpattn/ddsetl/internal/middleware"
	"github.com/rpattn/ddsetl/internal/pipeline"
	"github.com/rpattn/ddsetl/internal/repository"

	"github.com/rs/cors"
	"go.uber.org/zap"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 500
)

// RangeOperations are the range-scoped store operations.
type RangeOperations interface {
	Transform(ctx context.Context, r domain.DateRange) (int64, error)
	Copy(ctx context.Context, r domain.DateRange) (int64, error)
}

// PipelineRunner runs the orchestrated pipeline.
type PipelineRunner interface {
	Run(ctx context.Context, r domain.DateRange, opts pipeline.Options) (pipeline.Report, error)
}

// Pinger reports primary store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the endpoints. Runs, Mart, Ingest and
// Health are optional; their endpoints are not mounted when nil.
type Deps struct {
	Operations     RangeOperations
	Pipeline       PipelineRunner
	Runs           repository.PipelineRunRepository
	Mart           repository.MartRepository
	Ingest         http.Handler
	Health         Pinger
	DefaultOptions pipeline.Options
	AllowedOrigins []string
	Logger         *zap.Logger
}

// Server routes HTTP requests to the pipeline.
type Server struct {
	deps   Deps
	logger *zap.Logger
	mux    *http.ServeMux
}

// NewServer builds the routed handler.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, logger: logger, mux: http.NewServeMux()}

	s.mux.HandleFunc("POST /transform", s.handleTransform)
	s.mux.HandleFunc("POST /copy", s.handleCopy)
	s.mux.HandleFunc("POST /pipeline", s.handlePipeline)
	if deps.Runs != nil {
		s.mux.HandleFunc("GET /runs", s.handleRuns)
	}
	if deps.Mart != nil {
		s.mux.HandleFunc("GET /mart", s.handleMart)
	}
	if deps.Ingest != nil {
		s.mux.Handle("POST /ingest", deps.Ingest)
	}
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	return s
}

// Handler wraps the routes with CORS and access logging.
func (s *Server) Handler() http.Handler {
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.deps.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
	})
	return corsHandler.Handler(middleware.LoggingMiddleware(s.logger)(s.mux))
}

type rangeRequest struct {
	Start                  string `json:"start"`
	End                    string `json:"end"`
	SkipSecondaryMigration *bool  `json:"skipSecondaryMigration,omitempty"`
}

type countResponse struct {
	Range domain.DateRange `json:"range"`
	Count int64            `json:"count"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func decodeRange(r *http.Request) (rangeRequest, domain.DateRange, error) {
	var req rangeRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, domain.DateRange{}, fmt.Errorf("invalid request body: %w", err)
		}
	}
	dr, err := domain.ParseDateRange(req.Start, req.End)
	return req, dr, err
}

func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	s.handleRangeOperation(w, r, s.deps.Operations.Transform)
}

func (s *Server) handleCopy(w http.ResponseWriter, r *http.Request) {
	s.handleRangeOperation(w, r, s.deps.Operations.Copy)
}

func (s *Server) handleRangeOperation(w http.ResponseWriter, r *http.Request, op func(context.Context, domain.DateRange) (int64, error)) {
	_, dr, err := decodeRange(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	count, err := op(r.Context(), dr)
	if err != nil {
		writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Range: dr, Count: count})
}

func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	req, dr, err := decodeRange(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	opts := s.deps.DefaultOptions
	if req.SkipSecondaryMigration != nil {
		opts.SkipSecondaryMigration = *req.SkipSecondaryMigration
	}

	report, err := s.deps.Pipeline.Run(r.Context(), dr, opts)
	if err != nil {
		if errors.Is(err, pipeline.ErrRunInProgress) {
			writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, statusFor(err), struct {
			Report pipeline.Report `json:"report"`
			Error  string          `json:"error"`
		}{report, err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultRunsLimit)
	if err != nil || limit <= 0 || limit > maxRunsLimit {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("limit must be between 1 and %d", maxRunsLimit)})
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "offset must be a non-negative integer"})
		return
	}

	entries, err := s.deps.Runs.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("failed to list pipeline runs", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if entries == nil {
		entries = []domain.PipelineRunEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleMart(w http.ResponseWriter, r *http.Request) {
	dr, err := domain.ParseDateRange(r.URL.Query().Get("start"), r.URL.Query().Get("end"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	rows, err := s.deps.Mart.ListPeriod(r.Context(), dr)
	if err != nil {
		s.logger.Error("failed to list mart rows", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if rows == nil {
		rows = []domain.CustomerSummary{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrConstraintViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
