package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := NewCLI().ExecuteContext(ctx)

	stop()

	if err != nil {
		os.Exit(1)
	}
}
