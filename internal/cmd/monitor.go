package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	monitorUI "github.com/helvethink/pullpilot/pkg/monitor/ui"
)

// Monitor starts the terminal UI watching a running instance.
func Monitor(ctx *cli.Context) (int, error) {
	cfg, err := parseGlobalFlags(ctx)
	if err != nil {
		return 1, err
	}

	if cfg.InternalMonitoringListenerAddress == nil {
		return 1, fmt.Errorf("'--internal-monitoring-listener-address' must be set")
	}

	monitorUI.Start(
		ctx.App.Version,
		cfg.InternalMonitoringListenerAddress,
	)

	return 0, nil
}
