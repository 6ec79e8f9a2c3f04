package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"kbrag/internal/app"
)

var indexCmd = &cobra.Command{
	Use:   "index [data-dir]",
	Short: "Build the vector index from knowledge-base collections",
	Long: `Load every JSON collection in the data directory, chunk and embed it,
and persist the index in the configured index directory.

Examples:
  kbrag index              # Index the configured data directory
  kbrag index ./data       # Index a specific directory`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	var bar *progressbar.ProgressBar
	var barMu sync.Mutex
	var startTime time.Time

	progress := func(done, total int) {
		barMu.Lock()
		defer barMu.Unlock()

		if bar == nil {
			startTime = time.Now()
			bar = progressbar.NewOptions(total,
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Embedding[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Println()
				}),
			)
		}

		_ = bar.Set(done)

		if done > 0 && done < total {
			rate := float64(done) / time.Since(startTime).Seconds()
			if rate > 0 {
				eta := time.Duration(float64(total-done)/rate) * time.Second
				bar.Describe(fmt.Sprintf("[cyan]Embedding[reset] ETA: %s", formatDuration(eta)))
			}
		}
	}

	a, err := app.New(cfg, app.Options{RootDir: GetRootDir(), Progress: progress, Logger: GetLogger()})
	if err != nil {
		return err
	}
	if a.EmbedderErr != nil {
		return fmt.Errorf("cannot build a vector index: %w", a.EmbedderErr)
	}

	dataDir := a.DataDir
	if len(args) > 0 {
		dataDir, err = filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
	}
	info, err := os.Stat(dataDir)
	if err != nil {
		return fmt.Errorf("data directory does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", dataDir)
	}

	fmt.Printf("Loading collections from %s...\n", dataDir)
	fmt.Printf("Embedding: provider=%s, model=%s\n", cfg.Embedding.Provider, cfg.Embedding.Model)

	result, err := a.Index.Index(cmd.Context(), dataDir)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	fmt.Printf("\nIndexing complete:\n")
	fmt.Printf("  Files:        %d\n", result.Files)
	fmt.Printf("  FAQ entries:  %d\n", result.FAQ)
	fmt.Printf("  Regulations:  %d\n", result.Regulations)
	fmt.Printf("  Dialogs:      %d\n", result.Dialogs)
	fmt.Printf("  Documents:    %d\n", result.Documents)
	fmt.Printf("  Chunks:       %d\n", result.Chunks)
	fmt.Printf("  Dimension:    %d (%s)\n", result.Info.Dimension, result.Info.Metric)
	fmt.Printf("  Took:         %s\n", formatDuration(result.Took))

	if len(result.Warnings) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, w := range result.Warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	if a.IndexDir != "" {
		fmt.Printf("\nIndex stored at: %s\n", a.IndexDir)
	} else {
		fmt.Printf("\nindex.dir is empty: the index was not persisted\n")
	}
	return nil
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
