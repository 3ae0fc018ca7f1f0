// Package main is the signscan command.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/signscan/signscan/cli"
	"github.com/signscan/signscan/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.RunContext(ctx, os.Args); err != nil {
		logging.NewLogger("signscan").Error(err)
		stop()
		//nolint:gocritic
		os.Exit(1)
	}
}
