// pioneerctl drives a single Pioneer receiver from the command line.
//
// It talks to the receiver directly (telnet or RS-232), without the
// pioneerd daemon, and also carries the installer helpers for the daemon's
// API credentials and LAN discovery.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
