package httpServer

import (
	"context"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/heptiolabs/healthcheck"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/helvethink/pullpilot/pkg/config"
	"github.com/helvethink/pullpilot/pkg/schemas"
)

// Orchestrator is what the API exposes.
type Orchestrator interface {
	Discover(ctx context.Context) ([]schemas.DeploymentView, error)
	UpdateOne(ctx context.Context, name string) (bool, []string, error)
	EnqueueUpdate(ctx context.Context, name string) (bool, error)
	TriggerGlobalUpdate()
	GlobalUpdateRunning() bool
	ToggleExcluded(ctx context.Context, name string) (bool, error)
	ToggleFullStop(ctx context.Context, name string) (bool, error)
	ListHistory(ctx context.Context, limit int) (schemas.RunLogRecords, error)
	CurrentStatus() schemas.RunStatus
	ListSchedules(ctx context.Context) (schemas.ScheduleEntries, error)
	CreateSchedule(ctx context.Context, in schemas.ScheduleInput) (schemas.ScheduleEntry, error)
	DeleteSchedule(ctx context.Context, id int64) error
}

// Options carries the optional handlers mounted next to the API.
type Options struct {
	Health  healthcheck.Handler
	Metrics http.HandlerFunc

	// Extra registers additional routes, such as the monitor endpoints.
	Extra func(r chi.Router)
}

// Server is the HTTP API.
type Server struct {
	router chi.Router
	o      Orchestrator
	cfg    config.Server
}

// NewServer builds the router of the API.
func NewServer(cfg config.Server, o Orchestrator, opts Options) *Server {
	s := &Server{
		router: chi.NewRouter(),
		o:      o,
		cfg:    cfg,
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)

	if opts.Health != nil {
		s.router.Get("/health/live", opts.Health.LiveEndpoint)
		s.router.Get("/health/ready", opts.Health.ReadyEndpoint)
	}

	if cfg.Metrics.Enabled && opts.Metrics != nil {
		s.router.Get("/metrics", opts.Metrics)
	}

	if cfg.EnablePprof {
		s.router.HandleFunc("/debug/pprof/", pprof.Index)
		s.router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		s.router.HandleFunc("/debug/pprof/profile", pprof.Profile)
		s.router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		s.router.HandleFunc("/debug/pprof/trace", pprof.Trace)
		s.router.Handle("/debug/pprof/{profile}", http.HandlerFunc(pprof.Index))
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/projects", s.listProjects)
		r.Post("/projects/{name}/update", s.updateProject)
		r.Post("/projects/{name}/toggle_exclude", s.toggleExclude)
		r.Post("/projects/{name}/toggle_fullstop", s.toggleFullStop)
		r.Post("/update-all", s.updateAll)
		r.Get("/update-status", s.updateStatus)
		r.Get("/history", s.history)
		r.Get("/schedules", s.listSchedules)
		r.Post("/schedules", s.createSchedule)
		r.Delete("/schedules/{id}", s.deleteSchedule)
	})

	if opts.Extra != nil {
		opts.Extra(s.router)
	}

	return s
}

// ServeHTTP implements http.Handler, with tracing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}

// Handler returns the traced router.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "api")
}

// HTTPServer returns an http.Server listening on the configured address.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
