package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"kbrag/internal/app"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output as JSON")
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := app.New(GetConfig(), app.Options{RootDir: GetRootDir(), Logger: GetLogger()})
	if err != nil {
		return err
	}
	a.Retrieve.Init(cmd.Context(), nil)
	stats := a.Retrieve.Stats()

	if statsJSON {
		output, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Mode:             %s\n", stats.Mode)
	fmt.Printf("Fallback entries: %d\n", stats.FallbackEntries)
	if stats.Index == nil {
		if a.EmbedderErr != nil {
			fmt.Printf("Embedder:         unavailable (%v)\n", a.EmbedderErr)
		}
		fmt.Println("No vector index loaded.")
		return nil
	}

	fmt.Printf("Vectors:          %d\n", stats.Index.TotalVectors)
	fmt.Printf("Chunks:           %d\n", stats.Index.TotalChunks)
	fmt.Printf("Dimension:        %d\n", stats.Index.Dimension)
	fmt.Printf("Metric:           %s\n", stats.Index.Metric)
	fmt.Printf("Model:            %s\n", stats.Index.Model)
	fmt.Printf("Built at:         %s\n", stats.Index.BuiltAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("Index dir:        %s\n", a.IndexDir)
	return nil
}
