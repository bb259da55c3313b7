package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/helvethink/pullpilot/pkg/controller"
	"github.com/helvethink/pullpilot/pkg/schemas"
)

// withController configures the process and runs f against a controller,
// cancelled on termination signals.
func withController(cliCtx *cli.Context, f func(ctx context.Context, c *controller.Controller) (int, error)) (int, error) {
	cfg, err := configure(cliCtx)
	if err != nil {
		return 1, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := controller.New(ctx, cfg, cliCtx.App.Version)
	if err != nil {
		return 1, err
	}
	defer c.Stop(context.Background())

	return f(ctx, c)
}

// Discover lists the deployments found under the projects root.
func Discover(cliCtx *cli.Context) (int, error) {
	return withController(cliCtx, func(ctx context.Context, c *controller.Controller) (int, error) {
		views, err := c.Discover(ctx)
		if err != nil {
			return 1, err
		}

		if cliCtx.Bool("json") {
			enc := json.NewEncoder(cliCtx.App.Writer)
			enc.SetIndent("", "  ")
			return 0, enc.Encode(views)
		}

		for _, v := range views {
			fmt.Fprintf(cliCtx.App.Writer, "%-30s %-8s containers=%-3d excluded=%-5t full_stop=%t\n",
				v.Name, v.Status, v.Containers, v.Excluded, v.FullStop)
		}

		return 0, nil
	})
}

// Update updates a single deployment and prints its log.
func Update(cliCtx *cli.Context) (int, error) {
	name := assertArgumentDefined(cliCtx, "deployment name")

	return withController(cliCtx, func(ctx context.Context, c *controller.Controller) (int, error) {
		if _, err := c.Discover(ctx); err != nil {
			return 1, err
		}

		success, lines, err := c.UpdateOne(ctx, name)
		fmt.Fprintln(cliCtx.App.Writer, strings.Join(lines, "\n"))

		if err != nil {
			return 1, err
		}

		if !success {
			return 1, fmt.Errorf("update of %s failed", name)
		}

		return 0, nil
	})
}

// UpdateAll runs a global update in the foreground and prints its outcome.
func UpdateAll(cliCtx *cli.Context) (int, error) {
	return withController(cliCtx, func(ctx context.Context, c *controller.Controller) (int, error) {
		if _, err := c.Discover(ctx); err != nil {
			return 1, err
		}

		if !c.RunGlobalUpdate(ctx) {
			return 1, fmt.Errorf("a global update is already running")
		}

		history, err := c.ListHistory(ctx, 1)
		if err != nil {
			return 1, err
		}

		if len(history) == 0 {
			return 1, fmt.Errorf("global update left no run log")
		}

		fmt.Fprintln(cliCtx.App.Writer, history[0].Summary)

		if history[0].Status != schemas.RunLogStatusSuccess {
			return 1, nil
		}

		return 0, nil
	})
}
