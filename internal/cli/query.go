package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"kbrag/internal/app"
	"kbrag/internal/usecase"
)

var (
	queryText   string
	queryTopK   int
	queryFilter string
	queryJSON   bool
	queryCtx    bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Retrieve knowledge-base passages for a query",
	Long: `Retrieve the top-k passages for a query from the persisted index, or
from the keyword fallback when no index is available.

Examples:
  kbrag query -q "Jak zwrócić produkt?"
  kbrag query -q "Jakie są koszty dostawy?" --filter dostawa -k 3 --json`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "search query (required)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of results (default from config)")
	queryCmd.Flags().StringVarP(&queryFilter, "filter", "f", "", "category filter")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	queryCmd.Flags().BoolVar(&queryCtx, "context", false, "print the formatted context block")
	queryCmd.MarkFlagRequired("query")
}

type queryResult struct {
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	a, err := app.New(cfg, app.Options{RootDir: GetRootDir(), Logger: GetLogger()})
	if err != nil {
		return err
	}
	a.Retrieve.Init(cmd.Context(), nil)

	topK := cfg.Retrieve.TopK
	if queryTopK > 0 {
		topK = queryTopK
	}

	resp, err := a.Retrieve.Query(cmd.Context(), usecase.QueryRequest{
		Query:          queryText,
		TopK:           topK,
		FilterCategory: queryFilter,
	})
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}

	if queryJSON {
		results := make([]queryResult, len(resp.Chunks))
		for i, c := range resp.Chunks {
			results[i] = queryResult{Text: c.Chunk.Text, Score: c.Score, Metadata: c.Chunk.Metadata}
		}
		output, _ := json.MarshalIndent(map[string]any{
			"chunks":  results,
			"context": resp.Context,
			"sources": resp.Sources,
			"mode":    resp.Mode,
		}, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(resp.Chunks) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	fmt.Printf("Found %d results for: %s (mode: %s)\n\n", len(resp.Chunks), queryText, resp.Mode)
	if queryCtx {
		fmt.Println(resp.Context)
	} else {
		for i, c := range resp.Chunks {
			fmt.Printf("--- [%d] %s (score: %.4f) ---\n", i+1, c.Chunk.Metadata.String("source"), c.Score)
			text := []rune(c.Chunk.Text)
			if len(text) > 500 {
				text = append(text[:500], []rune("...")...)
			}
			fmt.Println(string(text))
			fmt.Println()
		}
	}

	fmt.Printf("Sources:\n")
	for _, s := range resp.Sources {
		fmt.Printf("  - %s\n", s)
	}
	return nil
}
