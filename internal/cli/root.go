// Package cli defines the ingestor command tree.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/visionllm/ingestor/internal/config"
)

var (
	flagSources string
	flagDataDir string
	flagProduct string
)

var rootCmd = &cobra.Command{
	Use:           "ingestor",
	Short:         "Documentation crawler and hybrid retrieval pipeline",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagSources, "sources", "", "path to sources.yaml (default from SOURCES_PATH)")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "out", "", "data directory (default from DATA_DIR)")
	rootCmd.PersistentFlags().StringVar(&flagProduct, "product", "all", "limit to one product")
}

// loadConfig reads the environment and applies CLI overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagSources != "" {
		cfg.SourcesPath = flagSources
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	return cfg, nil
}
