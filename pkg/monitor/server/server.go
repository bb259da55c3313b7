package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/helvethink/pullpilot/pkg/config"
	"github.com/helvethink/pullpilot/pkg/monitor"
)

// TelemetrySource provides the data served to the monitor.
type TelemetrySource interface {
	Telemetry(ctx context.Context) (monitor.Telemetry, error)
}

// Server serves the monitor endpoints, on the main API and optionally on a
// dedicated unix socket.
type Server struct {
	cfg    config.Config
	source TelemetrySource
}

// NewServer creates a new monitor server.
func NewServer(c config.Config, source TelemetrySource) (s *Server) {
	s = &Server{
		cfg:    c,
		source: source,
	}

	return
}

// Routes registers the monitor endpoints on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/api/telemetry", s.TelemetryHandler)
	r.Get("/api/config", s.ConfigHandler)
}

// ConfigHandler returns the effective configuration, credentials redacted.
func (s *Server) ConfigHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write([]byte(s.cfg.ToYAML()))
}

// TelemetryHandler returns a telemetry snapshot as JSON.
func (s *Server) TelemetryHandler(w http.ResponseWriter, r *http.Request) {
	t, err := s.source.Telemetry(r.Context())
	if err != nil {
		log.WithContext(r.Context()).
			WithError(err).
			Warn("gathering telemetry")

		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(t)
}

// Serve listens on the internal monitoring unix socket, when one is
// configured, until ctx is done. Other schemes designate the main API, which
// already serves the monitor endpoints.
func (s *Server) Serve(ctx context.Context) {
	addr := s.cfg.Global.InternalMonitoringListenerAddress
	if addr == nil {
		log.Info("internal monitoring listener address not set")
		return
	}

	log.WithFields(log.Fields{
		"scheme": addr.Scheme,
		"host":   addr.Host,
		"path":   addr.Path,
	}).Info("internal monitoring listener set")

	if addr.Scheme != "unix" {
		return
	}

	unixAddr, err := net.ResolveUnixAddr("unix", addr.Path)
	if err != nil {
		log.WithError(err).Error("resolving internal monitoring socket")
		return
	}

	if _, err := os.Stat(addr.Path); err == nil {
		if err := os.Remove(addr.Path); err != nil {
			log.WithError(err).Error("removing stale internal monitoring socket")
			return
		}
	}

	l, err := net.ListenUnix("unix", unixAddr)
	if err != nil {
		log.WithError(err).Error("listening on internal monitoring socket")
		return
	}

	router := chi.NewRouter()
	s.Routes(router)

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	// the listener removes the socket file once closed
	if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("serving internal monitoring")
	}
}
