package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/visionllm/ingestor/internal/ingest"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-product crawl statistics from the fetch ledgers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		stats, err := ingest.Stats(cfg.DataDir)
		if err != nil {
			return err
		}

		if statusJSON {
			data, err := json.MarshalIndent(stats, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		if len(stats) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no ledgers found")
			return nil
		}
		for _, s := range stats {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d records, %d ok, %d failed, %d skipped, ~%d tokens\n",
				s.Product, s.Records, s.Succeeded, s.Failed, s.Skipped, s.Tokens)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output statistics as JSON")
	rootCmd.AddCommand(statusCmd)
}
