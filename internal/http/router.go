// Package httpx exposes the deployment orchestrator over HTTP.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/repository"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/service/deploy"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/ws"
)

const (
	rateWindowDefault  = time.Minute
	healthCheckTimeout = 2 * time.Second
	maxListLimit       = 500
	maxRequestBody     = 1 << 20
)

// Deployer is the orchestrator surface served over HTTP.
type Deployer interface {
	Submit(ctx context.Context, req deploy.Request) (domain.Job, error)
	Get(ctx context.Context, id string) (domain.Job, error)
	List(ctx context.Context, filter repository.JobFilter) ([]domain.Job, error)
	Cancel(ctx context.Context, id string) (domain.Job, error)
}

// Streams registers live event subscribers.
type Streams interface {
	Register(jobID string, client ws.Subscriber)
	Unregister(jobID string, client ws.Subscriber)
}

// Options configures the router.
type Options struct {
	Logger         *slog.Logger
	Deployer       Deployer
	Streams        Streams
	Limiter        RateLimiter
	SubmitLimit    int
	AllowedOrigins []string
	Registerer     prometheus.Registerer
	Gatherer       prometheus.Gatherer
	Health         func(context.Context) error
	Heartbeat      time.Duration
}

// Router wires HTTP endpoints to the orchestrator.
type Router struct {
	handler     http.Handler
	logger      *slog.Logger
	deploy      Deployer
	streams     Streams
	limiter     RateLimiter
	submitLimit int
	upgrader    websocket.Upgrader
	metrics     *metrics
	health      func(context.Context) error
	heartbeat   time.Duration
	now         func() time.Time
}

// NewRouter assembles routes with dependencies.
func NewRouter(opts Options) *Router {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Limiter == nil {
		opts.Limiter = NewMemoryRateLimiter()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	r := &Router{
		logger:      opts.Logger.With("component", "http"),
		deploy:      opts.Deployer,
		streams:     opts.Streams,
		limiter:     opts.Limiter,
		submitLimit: opts.SubmitLimit,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		metrics:   newMetrics(opts.Registerer),
		health:    opts.Health,
		heartbeat: opts.Heartbeat,
		now:       time.Now,
	}

	if observer, ok := opts.Limiter.(errorObserver); ok {
		observer.observeErrors(func(op string) {
			r.metrics.rateLimiterErrors.WithLabelValues(op).Inc()
		})
	}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(r.audit)
	mux.Use(middleware.Recoverer)
	mux.Use(r.metrics.instrument)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))

	mux.Get("/healthz", r.handleHealthz)
	mux.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	mux.Route("/jobs", func(jr chi.Router) {
		jr.Post("/", r.handleSubmit)
		jr.Get("/", r.handleList)
		jr.Get("/{id}", r.handleGet)
		jr.Post("/{id}/cancel", r.handleCancel)
		jr.Get("/{id}/events", r.handleEventsSSE)
	})
	mux.Get("/ws/jobs", r.handleEventsWS)
	mux.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	mux.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.handler = mux
	return r
}

// ServeHTTP delegates to the chi mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if r.health != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.health(ctx); err != nil {
			r.logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) handleSubmit(w http.ResponseWriter, req *http.Request) {
	var payload deploy.Request
	decoder := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !r.allowSubmit(w, req, payload.Channel) {
		return
	}
	job, err := r.deploy.Submit(req.Context(), payload)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	w.Header().Set("Location", "/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, job)
}

func (r *Router) handleList(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()
	filter := repository.JobFilter{
		Channel: domain.Channel(strings.TrimSpace(query.Get("channel"))),
		Status:  domain.Status(strings.TrimSpace(query.Get("status"))),
		Limit:   100,
	}
	if filter.Channel != "" && !filter.Channel.Valid() {
		writeError(w, http.StatusBadRequest, "unknown channel")
		return
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = min(limit, maxListLimit)
	}
	list, err := r.deploy.List(req.Context(), filter)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if list == nil {
		list = []domain.Job{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) {
	job, err := r.deploy.Get(req.Context(), chi.URLParam(req, "id"))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (r *Router) handleCancel(w http.ResponseWriter, req *http.Request) {
	job, err := r.deploy.Cancel(req.Context(), chi.URLParam(req, "id"))
	if errors.Is(err, deploy.ErrInvalidTransition) {
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "job": job})
		return
	}
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
