package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"feedgrid/cmd/feedgrid/commands"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := commands.New().Execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "feedgrid:", err)
		cancel()
		os.Exit(1)
	}
}
