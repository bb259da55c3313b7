package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// Validate checks the configuration and prints the effective one.
func Validate(cliCtx *cli.Context) (int, error) {
	log.Debug("Validating configuration..")

	cfg, err := configure(cliCtx)
	if err != nil {
		log.WithError(err).Error("Failed to configure")
		return 1, err
	}

	if cliCtx.Bool("print") {
		fmt.Fprint(cliCtx.App.Writer, cfg.ToYAML())
	}

	log.Debug("Configuration is valid")

	return 0, nil
}
