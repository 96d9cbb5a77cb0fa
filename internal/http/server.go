package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/denisok6893-rgb/estate-matching/internal/domain"
	"github.com/denisok6893-rgb/estate-matching/internal/logger"
	"github.com/denisok6893-rgb/estate-matching/internal/metrics"
	"github.com/denisok6893-rgb/estate-matching/internal/service"
	"github.com/denisok6893-rgb/estate-matching/internal/storage"
	"github.com/denisok6893-rgb/estate-matching/internal/tracing"
)

type Options struct {
	Logger          *zap.Logger
	TracerProvider  trace.TracerProvider
	AllowedOrigins  []string
	MaxBodyBytes    int64
	DefaultMinScore int
}

type Server struct {
	svc  *service.Service
	log  *zap.Logger
	opts Options
}

func NewServer(svc *service.Service, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	return &Server{
		svc:  svc,
		log:  opts.Logger.With(zap.String("component", "http")),
		opts: opts,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.RequestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(tracing.Middleware(s.opts.TracerProvider))
	r.Use(instrument)
	r.Use(middleware.RequestSize(s.opts.MaxBodyBytes))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/properties", func(r chi.Router) {
		r.Get("/", s.handlePropertiesList)
		r.Post("/", s.handlePropertiesCreate)
		r.Get("/{id}", s.handlePropertyGet)
		r.Delete("/{id}", s.handlePropertyDelete)
		r.Get("/{id}/matches", s.handlePropertyMatches)
	})

	r.Route("/prospects", func(r chi.Router) {
		r.Get("/", s.handleProspectsList)
		r.Post("/", s.handleProspectsCreate)
		r.Get("/{id}", s.handleProspectGet)
		r.Delete("/{id}", s.handleProspectDelete)
		r.Get("/{id}/matches", s.handleProspectMatches)
	})

	r.Route("/matches", func(r chi.Router) {
		r.Get("/", s.handleMatchesList)
		r.Post("/discover", s.handleDiscover)
		r.Get("/score", s.handleRunScore)
		r.Patch("/{id}/status", s.handleMatchStatus)
	})

	r.Get("/score", s.handleLiveScore)

	return r
}

// instrument counts requests per matched route.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.ObserveHTTP(r.Method, route, status, time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.svc.Ping(ctx); err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type listResponse[T any] struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
	Items  []T `json:"items"`
}

type matchesResponse struct {
	Count int            `json:"count"`
	Items []domain.Match `json:"items"`
}

func parseLimitOffset(r *http.Request, defLimit, defOffset int) (int, int) {
	q := r.URL.Query()

	limit := defLimit
	if v := q.Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if limit <= 0 {
		limit = defLimit
	}
	if limit > 200 {
		limit = 200
	}

	offset := defOffset
	if v := q.Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	if offset < 0 {
		offset = defOffset
	}

	return limit, offset
}

// decodeJSON reads a request body into dst. An empty body leaves dst as is.
func decodeJSON(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return errBodyTooLarge
	}
	return errInvalidJSON
}

var (
	errInvalidJSON  = errors.New("invalid_json")
	errBodyTooLarge = errors.New("body_too_large")
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errInvalidJSON):
		status = http.StatusBadRequest
	case errors.Is(err, errBodyTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, service.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, storage.ErrConflict):
		status = http.StatusConflict
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		msg = "internal_error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
