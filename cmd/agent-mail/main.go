package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"agentmailcli/internal/cli"
)

func main() {
	// Ctrl-C cancels an in-flight call.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	code := cli.Run(ctx, os.Args[1:], os.Stdout, os.Stderr, cli.Options{
		Stdin: cli.PipedStdin(),
	})
	stop()
	os.Exit(code)
}
