package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/visionllm/ingestor/internal/app"
	"github.com/visionllm/ingestor/internal/retrieval"
	"github.com/visionllm/ingestor/internal/trace"
)

var (
	searchTopK int
	searchJSON bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Hybrid search over indexed chunks",
	Long: `Runs lexical and vector search in parallel, unions the candidates,
reranks them by query-term overlap and reports a confidence score.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 12, "maximum number of results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

type searchOutput struct {
	Query         string                     `json:"query"`
	Confidence    float64                    `json:"confidence"`
	LowConfidence bool                       `json:"low_confidence"`
	Results       []retrieval.RetrievedChunk `json:"results"`
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := args[0]

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
		return errors.New("search requires STORE_BACKEND postgres or weaviate")
	}

	ctx := trace.WithCorrelationID(cmd.Context(), trace.NewCorrelationID())
	candidates, err := a.Retrieval.HybridSearch(ctx, query, searchTopK)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	results := a.Reranker.Rerank(query, candidates, searchTopK)
	confidence := a.Reranker.Confidence(query, candidates)

	out := searchOutput{
		Query:         query,
		Confidence:    confidence,
		LowConfidence: a.Reranker.IsLowConfidence(confidence),
		Results:       results,
	}

	if searchJSON {
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "confidence: %.3f (low: %v)\n", out.Confidence, out.LowConfidence)
	for i, r := range out.Results {
		fmt.Fprintf(cmd.OutOrStdout(), "%2d. [%.3f] %s\n    %s\n", i+1, r.Score, r.Title, r.URL)
	}
	return nil
}
