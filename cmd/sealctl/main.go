package main

import (
	"fmt"
	"io"
	"os"

	cli "github.com/urfave/cli/v2"
)

// Set through -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:    "sealctl",
		Version: version,
		Usage:   "operator tooling for the sealed bid opening service",
		Writer:  out,
		Commands: []*cli.Command{
			keygenCmd,
			migrateCmd,
			verifyAuditCmd,
			verifyReportCmd,
		},
	}
}
