package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"kbrag/config"
	"kbrag/internal/app"
	"kbrag/internal/eval"
	"kbrag/internal/logging"
	"kbrag/internal/usecase"
)

type labelledQuery struct {
	text     string
	category string // expected category of relevant results; empty skips scoring
}

var defaultQueries = []labelledQuery{
	{"Jak mogę zwrócić produkt?", "zwrot"},
	{"Jakie są koszty dostawy?", "dostawa"},
	{"Nie działa płatność kartą", "płatność"},
	{"Chcę zmienić adres dostawy", "dostawa"},
}

type options struct {
	rootDir string
	query   string
	expect  string
	topK    int
	filter  string
	runs    int
}

func main() {
	var opts options
	flag.StringVar(&opts.rootDir, "dir", ".", "Directory holding kbrag.yaml and the index")
	flag.StringVar(&opts.query, "q", "", "Single query to test (default: built-in query set)")
	flag.StringVar(&opts.expect, "expect", "", "Expected category for -q, enables quality scoring")
	flag.IntVar(&opts.topK, "k", 3, "Number of results")
	flag.StringVar(&opts.filter, "filter", "", "Category filter")
	flag.IntVar(&opts.runs, "runs", 20, "Timed runs per query")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := config.LoadFromDir(opts.rootDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.Logging.Level = "warn"
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logging.Sync(logger)

	// The cache would hide retrieval latency.
	cfg.Retrieve.CacheSize = 0

	a, err := app.New(cfg, app.Options{RootDir: opts.rootDir, Logger: logger})
	if err != nil {
		return fmt.Errorf("building service: %w", err)
	}

	ctx := context.Background()
	mode := a.Retrieve.Init(ctx, nil)

	fmt.Println("RETRIEVAL BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Mode: %s\n", mode)
	if stats := a.Retrieve.Stats(); stats.Index != nil {
		fmt.Printf("Vectors: %d  Dimension: %d  Metric: %s\n", stats.Index.TotalVectors, stats.Index.Dimension, stats.Index.Metric)
		fmt.Printf("Model: %s (%s)\n", stats.Index.Model, cfg.Embedding.Provider)
	} else if a.EmbedderErr != nil {
		fmt.Printf("Embedder unavailable: %v\n", a.EmbedderErr)
	}
	fmt.Println()

	queries := defaultQueries
	if opts.query != "" {
		queries = []labelledQuery{{opts.query, opts.expect}}
	}

	var all []time.Duration
	var total quality
	var scored int
	for _, q := range queries {
		fmt.Printf("Query: %q\n", q.text)
		fmt.Println(strings.Repeat("-", 70))

		req := usecase.QueryRequest{Query: q.text, TopK: opts.topK, FilterCategory: opts.filter}
		resp, err := a.Retrieve.Query(ctx, req)
		if err != nil {
			return fmt.Errorf("retrieval: %w", err)
		}

		for i, c := range resp.Chunks {
			preview := []rune(strings.ReplaceAll(c.Chunk.Text, "\n", " "))
			if len(preview) > 150 {
				preview = append(preview[:150], []rune("...")...)
			}
			category := c.Chunk.Metadata.String("category")
			if category == "" {
				category = "N/A"
			}
			fmt.Printf("%d. [%.4f] %s / %s\n", i+1, c.Score, c.Chunk.Metadata.String("source"), category)
			fmt.Printf("   %s\n", string(preview))
		}

		latencies := make([]time.Duration, 0, opts.runs)
		for i := 0; i < opts.runs; i++ {
			start := time.Now()
			if _, err := a.Retrieve.Query(ctx, req); err != nil {
				return fmt.Errorf("retrieval: %w", err)
			}
			latencies = append(latencies, time.Since(start))
		}
		all = append(all, latencies...)

		p50, p95 := percentiles(latencies)
		fmt.Printf("\n   mode=%s p50=%s p95=%s\n", resp.Mode, p50, p95)

		if q.category != "" {
			qs := scoreQuery(eval.Labels(resp.Chunks, "category"), q.category)
			fmt.Printf("   expected=%s P@%d=%.3f R@%d=%.3f RR=%.3f nDCG=%.3f\n",
				q.category, opts.topK, qs.precision, opts.topK, qs.recall, qs.rr, qs.ndcg)
			total.add(qs)
			scored++
		}
		fmt.Println()
	}

	p50, p95 := percentiles(all)
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("LATENCY (%d queries x %d runs):\n", len(queries), opts.runs)
	fmt.Printf("  p50: %s\n", p50)
	fmt.Printf("  p95: %s\n", p95)

	if scored > 0 {
		mean := total.mean(scored)
		fmt.Printf("QUALITY (%d labelled queries):\n", scored)
		fmt.Printf("  Mean P@%d: %.3f\n", opts.topK, mean.precision)
		fmt.Printf("  Mean R@%d: %.3f\n", opts.topK, mean.recall)
		fmt.Printf("  MRR:      %.3f\n", mean.rr)
		fmt.Printf("  nDCG:     %.3f\n", mean.ndcg)
	}
	return nil
}

// quality holds the per-query retrieval scores.
type quality struct {
	precision, recall, rr, ndcg float64
}

func (q *quality) add(o quality) {
	q.precision += o.precision
	q.recall += o.recall
	q.rr += o.rr
	q.ndcg += o.ndcg
}

func (q quality) mean(n int) quality {
	d := float64(n)
	return quality{q.precision / d, q.recall / d, q.rr / d, q.ndcg / d}
}

func scoreQuery(labels []string, category string) quality {
	relevant := []string{category}
	return quality{
		precision: eval.PrecisionAtK(labels, relevant),
		recall:    eval.RecallAtK(labels, relevant),
		rr:        eval.ReciprocalRank(labels, category),
		ndcg:      eval.NDCG(eval.BinaryGains(labels, category), idealGains(len(labels))),
	}
}

func idealGains(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func percentiles(d []time.Duration) (p50, p95 time.Duration) {
	if len(d) == 0 {
		return 0, 0
	}
	sorted := append([]time.Duration(nil), d...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)*50/100], sorted[min(len(sorted)*95/100, len(sorted)-1)]
}
