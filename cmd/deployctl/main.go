package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vitaliisemenov/deployctl/internal/config"
	"github.com/vitaliisemenov/deployctl/internal/engine/engerr"
	"github.com/vitaliisemenov/deployctl/internal/engine/metrics"
)

func main() {
	cfg, err := config.Load(os.Getenv("DEPLOYCTL_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "deployctl: %v\n", err)
		os.Exit(1)
	}

	lg := newLogger(cfg.Log)
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli := NewCLI(cfg, lg, m)
	if err := cli.GetRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "deployctl: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode classifies a command error per the tool's contract: a signal
// propagated through ctx.Canceled exits 130, a recognized engine error
// exits 1, anything else exits 2 as unexpected.
func exitCode(err error) int {
	if errors.Is(err, context.Canceled) {
		return 130
	}
	if engerr.IsConnectionError(err) || engerr.IsDeploymentError(err) ||
		engerr.IsEngineError(err) || engerr.IsValidationError(err) {
		return 1
	}
	return 2
}
