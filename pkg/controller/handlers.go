package controller

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/helvethink/pullpilot/internal/collectors"
)

// HealthCheckHandler returns the liveness and readiness handler. Readiness
// requires the projects root, the container runtime and the store to be usable.
func (c *Controller) HealthCheckHandler(ctx context.Context) (h healthcheck.Handler) {
	h = healthcheck.NewHandler()

	h.AddReadinessCheck("projects-root", c.projectsRootCheck())
	h.AddReadinessCheck("store", healthcheck.Timeout(func() error {
		_, err := c.Store.DeploymentsCount(ctx)
		return err
	}, 5*time.Second))

	if c.Runner != nil {
		h.AddReadinessCheck("container-runtime", c.Runner.ReadinessCheck(ctx))
	} else {
		log.WithContext(ctx).
			Warn("no container runtime to check, readiness won't include it")
	}

	return
}

func (c *Controller) projectsRootCheck() healthcheck.Check {
	return func() error {
		_, err := os.Stat(c.Config.Projects.Root)
		return err
	}
}

// MetricsHandler serves the Prometheus metrics, collected on every request.
func (c *Controller) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	defer span.End()

	registry := NewRegistry(ctx)

	for _, col := range c.Metrics.Collectors() {
		_ = registry.Register(col)
	}

	_ = registry.Register(collectors.NewExporter(c.Version, c.composeVersion))

	if err := registry.ExportInternalMetrics(ctx, c.Runner, c.Store, c.GlobalUpdateRunning()); err != nil {
		log.WithContext(ctx).
			WithError(err).
			Warn()
	}

	otelhttp.NewHandler(
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{
			Registry:          registry,
			EnableOpenMetrics: c.Config.Server.Metrics.EnableOpenmetricsEncoding,
		}),
		"/metrics",
	).ServeHTTP(w, r)
}

func (c *Controller) composeVersion() string {
	if c.Runner == nil {
		return ""
	}

	return c.Runner.Version().Version
}
