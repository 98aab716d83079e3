package main

import (
	"log/slog"
	"os"

	"github.com/visionllm/ingestor/internal/cli"
	"github.com/visionllm/ingestor/internal/logger"
)

func main() {
	handler := logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(slog.New(handler))

	cli.Execute()
}
