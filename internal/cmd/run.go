package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/helvethink/pullpilot/internal/httpServer"
	"github.com/helvethink/pullpilot/pkg/controller"
	monitoringServer "github.com/helvethink/pullpilot/pkg/monitor/server"
)

// Run starts the orchestrator: schedules, task queue and HTTP API, until a
// termination signal is received.
func Run(cliCtx *cli.Context) (int, error) {
	cfg, err := configure(cliCtx)
	if err != nil {
		return 1, err
	}

	ctx, ctxCancel := context.WithCancel(context.Background())
	defer ctxCancel()

	c, err := controller.New(ctx, cfg, cliCtx.App.Version)
	if err != nil {
		return 1, err
	}
	defer c.Stop(context.Background())

	// Registers the deployments found on disk before the first trigger fires
	if _, err := c.Discover(ctx); err != nil {
		log.WithContext(ctx).
			WithError(err).
			Warn("initial discovery")
	}

	monitor := monitoringServer.NewServer(c.Config, c)
	go monitor.Serve(ctx)

	onShutdown := make(chan os.Signal, 1)
	signal.Notify(onShutdown, syscall.SIGINT, syscall.SIGTERM, syscall.SIGABRT)

	srv := httpServer.NewServer(cfg.Server, c, httpServer.Options{
		Health:  c.HealthCheckHandler(ctx),
		Metrics: c.MetricsHandler,
		Extra:   monitor.Routes,
	}).HTTPServer()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithContext(ctx).
				WithError(err).
				Fatal()
		}
	}()

	log.WithFields(
		log.Fields{
			"listen-address":               cfg.Server.ListenAddress,
			"pprof-endpoint-enabled":       cfg.Server.EnablePprof,
			"metrics-endpoint-enabled":     cfg.Server.Metrics.Enabled,
			"openmetrics-encoding-enabled": cfg.Server.Metrics.EnableOpenmetricsEncoding,
			"controller-uuid":              c.UUID,
		},
	).Info("http server started")

	<-onShutdown

	log.Info("received signal, attempting to gracefully exit..")
	ctxCancel()

	httpServerContext, forceHTTPServerShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer forceHTTPServerShutdown()

	if err := srv.Shutdown(httpServerContext); err != nil {
		return 1, err
	}

	log.Info("stopped!")

	return 0, nil
}
