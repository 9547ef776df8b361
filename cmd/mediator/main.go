// Command mediator runs one mediator node: it polls the chain for pending
// intents, pairs and negotiates them, and settles the results, coordinating
// with peer mediators over the HTTP mesh.
//
// Exit codes: 0 clean shutdown, 1 configuration error, 2 fatal runtime error.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/config"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/engine"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/errs"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/observability"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the testable entrypoint.
func Run(args []string, stdout, stderr io.Writer) int {
	cmd := "start"
	if len(args) > 1 {
		cmd = args[1]
	}
	switch cmd {
	case "start":
		return runStart(stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command: %s\n", cmd)
		printUsage(stderr)
		return 1
	}
}

func runStart(stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		var cfgErr *errs.ConfigError
		if errors.As(err, &cfgErr) {
			_, _ = fmt.Fprintf(stderr, "configuration error: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(stderr, "startup failed: %v\n", err)
		return 1
	}
	logger := observability.NewLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	node, err := engine.NewNode(ctx, cfg, logger)
	if err != nil {
		logger.Error("node construction failed", "error", err)
		return 2
	}
	if err := node.Start(ctx); err != nil {
		logger.Error("node start failed", "error", err)
		return 2
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.MaxShutdownDelay)
	defer stopCancel()
	if err := node.Stop(stopCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
		return 2
	}
	return 0
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, `Usage: mediator [command]

Commands:
  start    run the mediator node (default)
  help     show this message

Configuration is read from environment variables; see pkg/config.`)
}
