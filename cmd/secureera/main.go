package main

import (
	"log/slog"

	"github.com/secureera/secureera/internal/cli"
	"github.com/secureera/secureera/internal/logging"
)

func main() {
	// Logs go to stderr and stay quiet unless LOG_LEVEL asks for more.
	logging.Init(slog.LevelError)
	cli.Execute()
}
