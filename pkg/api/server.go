package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/leadflow/pkg/audit"
	"github.com/platinummonkey/leadflow/pkg/conversion"
	"github.com/platinummonkey/leadflow/pkg/httputil"
	"github.com/platinummonkey/leadflow/pkg/middleware"
	"github.com/platinummonkey/leadflow/pkg/observability"
)

// maxBodyBytes bounds request bodies; convert requests are tiny
const maxBodyBytes = 64 << 10

// Converter runs lead conversions
type Converter interface {
	Convert(ctx context.Context, req conversion.ConvertRequest) *conversion.SagaResult
}

// History reads the conversion audit trail
type History interface {
	Get(ctx context.Context, runID string) (*audit.Entry, error)
	ListOrphaned(ctx context.Context, limit int) ([]*audit.Entry, error)
	ListByOrganization(ctx context.Context, organizationID string, limit int) ([]*audit.Entry, error)
}

// Options configures a Server. History, Health and Registry are optional;
// their routes are only registered when set. RateLimiter, when set, limits
// convert requests per client.
type Options struct {
	Converter   Converter
	History     History
	Health      *observability.HealthChecker
	Registry    *prometheus.Registry
	Metrics     *observability.Metrics
	Logger      *logrus.Logger
	RateLimiter middleware.Limiter
}

// Server represents our API server
type Server struct {
	router  *mux.Router
	handler http.Handler
	logger  *logrus.Logger
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = observability.NewDiscardLogger()
	}
	s := &Server{
		router: mux.NewRouter(),
		logger: opts.Logger,
	}

	s.router.Use(observability.HTTPMetricsMiddleware(opts.Metrics, routeTemplate))

	if opts.Health != nil {
		s.router.HandleFunc("/healthz", opts.Health.Liveness).Methods(http.MethodGet)
		s.router.HandleFunc("/readyz", opts.Health.Readiness).Methods(http.MethodGet)
	}
	if opts.Registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(opts.Registry)).Methods(http.MethodGet)
	}

	leads := s.router.NewRoute().Subrouter()
	if opts.RateLimiter != nil {
		limit := middleware.NewRateLimitMiddleware(opts.RateLimiter, opts.Logger, opts.Metrics)
		limit.PathFunc = routeTemplate
		leads.Use(limit.Handler)
	}
	NewConversionHandlers(opts.Converter, opts.Logger).RegisterRoutes(leads)
	if opts.History != nil {
		NewHistoryHandlers(opts.History, opts.Logger).RegisterRoutes(s.router)
	}

	chained := httputil.Chain(
		httputil.RequestIDMiddleware(opts.Logger),
		httputil.RecoveryMiddleware(opts.Logger),
		httputil.LoggingMiddleware(opts.Logger),
		httputil.MaxBytesMiddleware(maxBodyBytes),
		httputil.ContentTypeMiddleware,
	)(s.router)
	s.handler = otelhttp.NewHandler(chained, "leadflow.http")

	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes registers routes from a RouteRegistrar
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router)
}

// routeTemplate labels metrics with the matched route instead of the raw path
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}
