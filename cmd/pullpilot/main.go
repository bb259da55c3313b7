package main

import (
	"os"

	"github.com/helvethink/pullpilot/internal/cli"
)

var version = "devel"

func main() {
	cli.Run(version, os.Args)
}
