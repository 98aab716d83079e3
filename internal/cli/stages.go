package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/visionllm/ingestor/internal/adapter/gemini"
	"github.com/visionllm/ingestor/internal/app"
	"github.com/visionllm/ingestor/internal/config"
	"github.com/visionllm/ingestor/internal/embedding"
	"github.com/visionllm/ingestor/internal/pipeline"
)

var chunkCmd = &cobra.Command{
	Use:   "chunk",
	Short: "Split collected documents into indexable chunks",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		n, err := pipeline.New(cfg.DataDir, slog.Default()).Chunk(cmd.Context(), flagProduct)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "chunked %d documents\n", n)
		return nil
	},
}

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Attach embeddings to chunked documents",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		embedder, err := newEmbedder(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		n, err := pipeline.New(cfg.DataDir, slog.Default()).Embed(cmd.Context(), embedder, flagProduct)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "embedded %d chunks\n", n)
		return nil
	},
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Upsert embedded chunks into the configured store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := app.Bootstrap(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if a.Store == nil {
			return errors.New("index requires STORE_BACKEND postgres or weaviate")
		}
		n, err := pipeline.New(cfg.DataDir, slog.Default()).Index(cmd.Context(), a.Store, flagProduct)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "indexed %d chunks\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(chunkCmd)
	rootCmd.AddCommand(embedCmd)
	rootCmd.AddCommand(indexCmd)
}

// newEmbedder picks the embedding backend without touching the chunk store,
// so 'embed' runs with no database available.
func newEmbedder(ctx context.Context, cfg *config.Config) (embedding.Embedder, error) {
	if cfg.GeminiAPIKey != "" {
		return gemini.NewEmbedder(ctx, cfg.GeminiAPIKey)
	}
	return embedding.NewDeterministic(cfg.EmbedDim), nil
}
