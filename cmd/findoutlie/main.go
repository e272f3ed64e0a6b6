package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"findoutlie/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	result, err := cli.Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "findoutlie:", err)
	}
	os.Exit(result.ExitCode)
}
