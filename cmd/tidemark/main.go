package main

import (
	"os"

	"github.com/tidemark-io/tidemark/internal/cli"
	"github.com/tidemark-io/tidemark/internal/config"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stderr, cfg.LogLevel)

	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(cli.GetExitCode(err))
	}
}
