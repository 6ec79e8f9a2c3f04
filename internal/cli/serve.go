package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kbrag/internal/adapter/httpapi"
	"kbrag/internal/app"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP retrieval service",
	Long: `Load (or build) the vector index and serve retrieval over HTTP.
When no index can be loaded or built the service answers from the keyword
fallback.

Endpoints:
  GET  /               service info
  GET  /health         health check
  POST /retrieve       {"query": "...", "top_k": 5, "filter_category": "..."}
  GET  /stats          index statistics
  POST /admin/reindex  rebuild from the data directory
  GET  /metrics        Prometheus metrics`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	log := GetLogger()

	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	a, err := app.New(cfg, app.Options{RootDir: GetRootDir(), Logger: log})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode := a.Retrieve.Init(ctx, a.Index.Source(a.DataDir))
	log.Info("retrieval service initialized",
		zap.String("mode", string(mode)),
		zap.String("data_dir", a.DataDir),
		zap.String("index_dir", a.IndexDir))

	srv := httpapi.NewServer(cfg.Server, a.Retrieve, httpapi.Options{
		Index:   a.Index,
		DataDir: a.DataDir,
		Metrics: a.Metrics,
		Logger:  log,
	})
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
