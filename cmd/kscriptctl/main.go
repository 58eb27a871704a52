package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	// PersistentPostRun is skipped when a command fails.
	closeStore()
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "kscriptctl: %v\n", err)
		os.Exit(1)
	}
}
