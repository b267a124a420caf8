package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mashiike/fxchat/cli"

	//builtin providers import
	_ "github.com/mashiike/fxchat/provider/anthropic"
	_ "github.com/mashiike/fxchat/provider/bedrock"
	_ "github.com/mashiike/fxchat/provider/openai"
)

func main() {
	if code := run(context.Background()); code != 0 {
		os.Exit(code)
	}
}

func run(ctx context.Context) int {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	var c cli.CLI
	return c.Run(ctx)
}
