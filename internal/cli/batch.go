package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/parlwatch/verity/internal/model"
	"github.com/parlwatch/verity/internal/worker"
)

var (
	concurrency  int
	outputDir    string
	batchTimeout time.Duration
	metricsAddr  string
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Analyze multiple statements from a JSONL file in parallel",
	Long: `Batch analyzes many statements concurrently:
- Read statements from a JSONL input file (one JSON object per line)
- Process statements in parallel with a configurable worker count
- A failing statement never affects the others
- Write one verified-analysis JSON per statement

Example:
  verity batch sitting-2026-03-12.jsonl
  verity batch statements.jsonl --concurrency 8 --output-dir ./results
  verity batch statements.jsonl --metrics-addr :9109`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&concurrency, "concurrency", runtime.NumCPU(), "number of concurrent workers")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "./verity-results", "output directory for results")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 30*time.Minute, "total timeout for batch processing")
	batchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while the batch runs")
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()

	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.log.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	workers := concurrency
	if workers <= 0 {
		workers = a.cfg.Concurrency.Workers
	}

	fmt.Fprintf(os.Stderr, "Batch: %s (%d workers)\n", file, workers)

	processor := worker.NewBatchProcessor(a.engine, workers)
	results, err := processor.ProcessFile(ctx, file)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	var published, flagged, rejected, failed int
	for _, r := range results {
		if r.Error != nil {
			failed++
			a.log.Warn().Err(r.Error).Str("statement_id", r.StatementID).Msg("statement failed")
			continue
		}
		switch r.Analysis.Disposition {
		case model.DispositionPublished:
			published++
		case model.DispositionFlagged:
			flagged++
		case model.DispositionRejected:
			rejected++
		}

		data, err := json.MarshalIndent(r.Analysis, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal %s: %w", r.StatementID, err)
		}
		out := filepath.Join(outputDir, r.StatementID+".json")
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}
	}

	fmt.Fprintf(os.Stderr, "\nDone: %d published, %d flagged, %d rejected, %d failed (of %d)\n",
		published, flagged, rejected, failed, len(results))

	month, spent, ceiling := a.costs.Spent()
	fmt.Fprintf(os.Stderr, "Spend %s: $%.4f of $%.2f\n", month, spent, ceiling)
	return nil
}
