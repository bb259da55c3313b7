package cmd

import (
	"net/url"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/vmihailenco/taskq/v4"

	logger "github.com/helvethink/pullpilot/internal/logging"
	"github.com/helvethink/pullpilot/pkg/config"
)

var start time.Time

// configure loads and validates configuration from CLI context, sets up logging, and logs the effective settings.
// Without --config the defaults apply, still subject to environment and flag overrides.
func configure(ctx *cli.Context) (cfg config.Config, err error) {
	start = ctx.App.Metadata["startTime"].(time.Time)

	if cfg, err = config.Load(ctx.String("config"), os.Getenv); err != nil {
		return
	}

	cfg.Global, err = parseGlobalFlags(ctx)
	if err != nil {
		return
	}

	configCliOverrides(ctx, &cfg)

	if err = cfg.Validate(); err != nil {
		return
	}

	if err = logger.Configure(logger.Config{
		Level:        cfg.Log.Level,
		Format:       cfg.Log.Format,
		ReportCaller: cfg.Log.ReportCaller,
	}); err != nil {
		return
	}

	// Redirect task queue logs to the main log system
	taskq.SetLogger(logger.Logr("taskq", log.WarnLevel))

	log.WithFields(
		log.Fields{
			"projects-root": cfg.Projects.Root,
			"store-driver":  cfg.Store.Driver,
			"timezone":      cfg.Scheduler.Timezone,
		},
	).Info("configured")

	log.WithFields(cfg.Orchestrator.Log()).Info("global updates")

	return
}

// parseGlobalFlags parses global CLI flags into the Global config struct.
func parseGlobalFlags(ctx *cli.Context) (cfg config.Global, err error) {
	if listenerAddr := ctx.String("internal-monitoring-listener-address"); listenerAddr != "" {
		cfg.InternalMonitoringListenerAddress, err = url.Parse(listenerAddr)
	}
	return
}

// exit logs the execution time and error (if any), then returns a CLI exit code.
func exit(exitCode int, err error) cli.ExitCoder {
	defer log.WithFields(
		log.Fields{
			"execution-time": time.Since(start), // nolint: govet
		},
	).Debug("exited..")

	if err != nil {
		log.WithError(err).Error()
	}

	return cli.Exit("", exitCode)
}

// ExecWrapper gracefully logs and exits our `run` functions.
// It wraps a function returning (int, error) into a `cli.ActionFunc` compatible with urfave/cli.
func ExecWrapper(f func(ctx *cli.Context) (int, error)) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		return exit(f(ctx))
	}
}

// configCliOverrides overrides configuration fields with command-line flags if present.
func configCliOverrides(ctx *cli.Context, cfg *config.Config) {
	if ctx.String("log-level") != "" {
		cfg.Log.Level = ctx.String("log-level")
	}

	if ctx.String("redis-url") != "" {
		cfg.Redis.URL = ctx.String("redis-url")
	}

	if ctx.String("projects-root") != "" {
		cfg.Projects.Root = ctx.String("projects-root")
	}
}

// assertArgumentDefined ensures the command got a positional argument.
// If not, it prints the command help and exits the program.
func assertArgumentDefined(ctx *cli.Context, name string) string {
	if ctx.Args().Len() == 0 || ctx.Args().First() == "" {
		_ = cli.ShowSubcommandHelp(ctx)

		log.Errorf("'%s' must be set!", name)
		os.Exit(2)
	}

	return ctx.Args().First()
}
