package cli

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/visionllm/ingestor/internal/config"
	"github.com/visionllm/ingestor/internal/fetch"
	"github.com/visionllm/ingestor/internal/ingest"
	"github.com/visionllm/ingestor/internal/politeness"
	"github.com/visionllm/ingestor/internal/sitemap"
	"github.com/visionllm/ingestor/internal/trace"
)

var (
	collectMaxURLs     int
	collectTimeout     int
	collectConcurrency int
	collectResume      bool
	collectDryRun      bool
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Crawl configured documentation sources into the local data dir",
	RunE:  runCollect,
}

func init() {
	collectCmd.Flags().IntVar(&collectMaxURLs, "max-urls", 0, "cap the number of URLs per source (0 = no cap)")
	collectCmd.Flags().IntVar(&collectTimeout, "timeout", 0, "per-request timeout in seconds (default from FETCH_TIMEOUT_SECONDS)")
	collectCmd.Flags().IntVar(&collectConcurrency, "concurrency", 0, "concurrent fetches (default from INGEST_CONCURRENCY)")
	collectCmd.Flags().BoolVar(&collectResume, "resume", false, "skip URLs already fetched successfully")
	collectCmd.Flags().BoolVar(&collectDryRun, "dry-run", false, "list the worklist without fetching")
	rootCmd.AddCommand(collectCmd)
}

func runCollect(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sources, err := config.LoadSources(cfg.SourcesPath)
	if err != nil {
		return err
	}
	sources, err = config.FilterSources(sources, flagProduct)
	if err != nil {
		return err
	}

	timeout := cfg.FetchTimeoutSeconds
	if collectTimeout > 0 {
		timeout = collectTimeout
	}
	concurrency := cfg.IngestConcurrency
	if collectConcurrency > 0 {
		concurrency = collectConcurrency
	}

	client := &http.Client{Timeout: time.Duration(timeout) * time.Second}
	robots := politeness.NewRobotsCache(client, cfg.UserAgent, cfg.RobotsFailClosed)
	discoverer := sitemap.NewDiscoverer(client, cfg.UserAgent, cfg.SitemapMaxDepth)

	ctx := trace.WithCorrelationID(cmd.Context(), trace.NewCorrelationID())
	for _, src := range sources {
		registry := politeness.NewRegistry(src.RateLimitRPS)
		fetcher := fetch.NewFetcher(client, cfg.UserAgent, registry, concurrency, cfg.FetchMaxAttempts)

		coordinator := ingest.NewCoordinator(fetcher, robots, discoverer, ingest.Options{
			DataDir:     cfg.DataDir,
			Concurrency: concurrency,
			MaxURLs:     collectMaxURLs,
			Resume:      collectResume,
			DryRun:      collectDryRun,
		}, slog.Default())

		sum, err := coordinator.Run(ctx, src)
		if err != nil {
			return fmt.Errorf("collect %s: %w", src.Product, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d urls, %d fetched, %d failed, %d skipped\n",
			src.Product, sum.Total, sum.Fetched, sum.Failed,
			sum.SkippedSeen+sum.SkippedRobots+sum.SkippedDupes+sum.SkippedIndex)
	}
	return nil
}
