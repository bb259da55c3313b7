package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/helvethink/pullpilot/internal/cmd"
)

// Run handles the instantiation of the CLI application.
func Run(version string, args []string) {
	if err := NewApp(version, time.Now()).Run(args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// NewApp configures the CLI application.
func NewApp(version string, start time.Time) (app *cli.App) {
	app = cli.NewApp()
	app.Name = "pullpilot"
	app.Version = version
	app.Usage = "Keep a fleet of docker compose deployments up to date"
	app.EnableBashCompletion = true

	app.Flags = cli.FlagsByName{
		&cli.StringFlag{
			Name:    "internal-monitoring-listener-address",
			Aliases: []string{"m"},
			EnvVars: []string{"PULLPILOT_INTERNAL_MONITORING_LISTENER_ADDRESS"},
			Usage:   "internal monitoring listener address (http://host:port or unix:///path)",
		},
	}

	configFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			EnvVars: []string{"PULLPILOT_CONFIG"},
			Usage:   "config `file`, defaults apply when not set",
		},
		&cli.StringFlag{
			Name:    "log-level",
			EnvVars: []string{"PULLPILOT_LOG_LEVEL"},
			Usage:   "log `level` (trace,debug,info,warning,error,fatal,panic), overrides the config",
		},
		&cli.StringFlag{
			Name:    "redis-url",
			EnvVars: []string{"PULLPILOT_REDIS_URL"},
			Usage:   "redis `url` for the task queue and the redis store, overrides the config",
		},
		&cli.StringFlag{
			Name:  "projects-root",
			Usage: "`directory` holding one subdirectory per deployment, overrides the config",
		},
	}

	app.Commands = cli.CommandsByName{
		{
			Name:   "run",
			Usage:  "start the orchestrator: schedules, task queue and HTTP API",
			Action: cmd.ExecWrapper(cmd.Run),
			Flags:  configFlags,
		},
		{
			Name:   "validate",
			Usage:  "validate the configuration and exit",
			Action: cmd.ExecWrapper(cmd.Validate),
			Flags: append([]cli.Flag{
				&cli.BoolFlag{
					Name:  "print",
					Usage: "print the effective configuration, credentials redacted",
				},
			}, configFlags...),
		},
		{
			Name:   "discover",
			Usage:  "list the deployments found under the projects root",
			Action: cmd.ExecWrapper(cmd.Discover),
			Flags: append([]cli.Flag{
				&cli.BoolFlag{
					Name:  "json",
					Usage: "output JSON",
				},
			}, configFlags...),
		},
		{
			Name:      "update",
			Usage:     "update a single deployment",
			ArgsUsage: "<deployment name>",
			Action:    cmd.ExecWrapper(cmd.Update),
			Flags:     configFlags,
		},
		{
			Name:   "update-all",
			Usage:  "update every non excluded deployment, then prune unused images",
			Action: cmd.ExecWrapper(cmd.UpdateAll),
			Flags:  configFlags,
		},
		{
			Name:   "monitor",
			Usage:  "display information about a running instance",
			Action: cmd.ExecWrapper(cmd.Monitor),
		},
	}

	app.DefaultCommand = "run"

	app.Metadata = map[string]interface{}{
		"startTime": start,
	}

	return
}
