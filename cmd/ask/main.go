package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/qiangli/mychat/api"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdin, os.Stdout).ExecuteContext(ctx); err != nil {
		exit(err)
	}
}

// exit reports err on stderr. Configuration problems exit with 2,
// retryable failures with 75 (EX_TEMPFAIL) and everything else with 1.
func exit(err error) {
	fmt.Fprintf(os.Stderr, "❌ %v\n", err)
	switch {
	case api.IsConfigurationError(err):
		os.Exit(2)
	case api.IsRetryable(err):
		os.Exit(75)
	}
	os.Exit(1)
}
