package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/scalpcheck/scalp-analyzer/cmd/scalp-analyzer/commands"
)

func main() {
	// Structured logs go to stderr so stdout stays clean for --json output
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      commands.LogLevel,
		TimeFormat: time.RFC3339,
	}))
	slog.SetDefault(logger)

	commands.Execute()
}
