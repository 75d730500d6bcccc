// Package httpserver provides the chi-based HTTP plumbing shared by the
// HTTP transport: router setup, middleware, JSON request/response helpers.
// It carries no admission-specific logic — domain routes are mounted by
// pkg/httpapi after NewServer returns.
package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/go-chi/chi/v5"
)

// Server holds the HTTP server dependencies.
type Server struct {
	Router    *chi.Mux
	Logger    *slog.Logger
	startedAt time.Time

	pods  HealthProvider
	ports PortPoolProvider
}

// NewServer creates an HTTP server with standard middleware and a
// /health + /metrics endpoint mounted. Domain handlers are mounted on
// Router by the caller.
func NewServer(logger *slog.Logger, metricsReg *prometheus.Registry, metricsPath string) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Logger:    logger,
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "X-Cashu-Token"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.Router.Get("/health", s.handleHealth)

	if metricsPath != "" {
		s.Router.Handle(metricsPath, promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))
	}

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// healthResponse is the JSON shape returned by GET /health (spec §6.1, §7).
type healthResponse struct {
	Status      string `json:"status"`
	UptimeSecs  int64  `json:"uptime_secs"`
	ActivePods  int    `json:"active_pods,omitempty"`
	PortPool    *portPoolStatus `json:"port_pool,omitempty"`
}

type portPoolStatus struct {
	Allocated int `json:"allocated"`
	Total     int `json:"total"`
}

// HealthProvider supplies the active-pod count handleHealth reports
// alongside uptime. It is satisfied by pkg/pod.Registry, and
// PortPoolProvider by pkg/portpool.Allocator; Server takes both as
// interfaces so this package stays free of a direct dependency on either.
type HealthProvider interface {
	ActiveCount() int
}

type PortPoolProvider interface {
	Allocated() int
	Total() int
}

// RegisterHealthProviders wires the live counters into GET /health. Called
// once during application startup after the registry and port pool exist.
func (s *Server) RegisterHealthProviders(pods HealthProvider, ports PortPoolProvider) {
	s.pods = pods
	s.ports = ports
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:     "ok",
		UptimeSecs: int64(time.Since(s.startedAt).Seconds()),
	}
	if s.pods != nil {
		resp.ActivePods = s.pods.ActiveCount()
	}
	if s.ports != nil {
		resp.PortPool = &portPoolStatus{Allocated: s.ports.Allocated(), Total: s.ports.Total()}
	}
	Respond(w, http.StatusOK, resp)
}
