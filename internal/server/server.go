// Package server exposes the job runner, DOE generation and surrogate
// fitting over HTTP, both as REST routes and as JSON-RPC 2.0 methods.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/copyleftdev/optbench/internal/config"
	apperr "github.com/copyleftdev/optbench/internal/errors"
	"github.com/copyleftdev/optbench/internal/jobs"
	"github.com/copyleftdev/optbench/internal/logging"
)

// Logger defines the logging interface used by the server
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// JobRunner is the part of jobs.Runner the server drives.
type JobRunner interface {
	Start(method, text string, s config.Settings) (string, error)
	Poll(handle string) (jobs.Status, error)
	Cancel(handle string) error
	Close() error
}

// Server implements the HTTP and JSON-RPC surface of the workbench.
type Server struct {
	cfg      *config.Config
	logger   Logger
	zap      *zap.Logger
	runner   JobRunner
	registry *prometheus.Registry
	validate *validator.Validate

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewServer creates a server around runner. Metrics of the server and of
// anything else registered with registry are served on /metrics.
func NewServer(cfg *config.Config, logger *logging.Logger, runner JobRunner, registry *prometheus.Registry) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		zap:      logging.NewZapLogger(logger),
		runner:   runner,
		registry: registry,
		validate: validator.New(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "optbench",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "optbench",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	registry.MustRegister(s.requests, s.latency)
	return s
}

// Handler returns the full router: middleware, health, metrics and the API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	base := s.logger.WithFields(nil)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(base))
	r.Use(apperr.RecoveryMiddleware(base))
	r.Use(apperr.ErrorHandler(base))
	r.Use(s.instrument)
	if s.cfg != nil && s.cfg.HTTP.WriteTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.HTTP.WriteTimeout))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	s.RegisterRoutes(r)
	return r
}

// RegisterRoutes mounts the API routes on r.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", s.handleStartJob)
		r.Get("/jobs/{handle}", s.handleJobStatus)
		r.Delete("/jobs/{handle}", s.handleCancelJob)
		r.Post("/doe", s.handleDOE)
		r.Post("/fit", s.handleFit)
	})

	r.Post("/rpc", s.handleJSONRPC)
}

func (s *Server) instrument(next http.Handler) http.Handler {
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
		s.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		s.latency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Close cancels the running job, if any.
func (s *Server) Close() error {
	if s.runner == nil {
		return nil
	}
	return s.runner.Close()
}

func (s *Server) decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(err, apperr.ParseError, "request body")
	}
	return s.check(v)
}

func (s *Server) check(v interface{}) error {
	if err := s.validate.Struct(v); err != nil {
		return apperr.Wrap(err, apperr.InvalidArgument, "request")
	}
	return nil
}

func (s *Server) respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	logging.FromContext(r.Context()).WithError(err).Warn("Request failed", map[string]interface{}{
		"kind": apperr.KindOf(err).String(),
	})
	apperr.WriteJSON(w, err)
}
