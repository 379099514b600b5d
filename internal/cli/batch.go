package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/txguard/internal/batch"
	"github.com/vietddude/txguard/internal/control"
	"github.com/vietddude/txguard/internal/core/domain"
)

var (
	batchFile        string
	batchChunkSize   int
	batchChunkPause  time.Duration
	batchMaxAttempts int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Submit a file of requests as one batch and print the outcomes",
	Run:   runBatch,
}

func init() {
	batchCmd.Flags().StringVarP(&batchFile, "file", "f", "", "JSON file with an array of requests")
	batchCmd.Flags().IntVar(&batchChunkSize, "chunk-size", 0, "items submitted concurrently per chunk (default from config)")
	batchCmd.Flags().DurationVar(&batchChunkPause, "chunk-pause", 0, "pause between chunks (default from config)")
	batchCmd.Flags().IntVar(&batchMaxAttempts, "max-attempts", 0, "attempts per item (default from config)")
	_ = batchCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(batchCmd)
}

// batchEntry is one element of the batch file.
type batchEntry struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
	Tier   string `json:"tier"`
	Label  string `json:"label"`
}

func readBatchFile(path string) ([]domain.Submission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}

	var entries []batchEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse batch file: %w", err)
	}

	subs := make([]domain.Submission, 0, len(entries))
	for i, e := range entries {
		if e.Method == "" {
			return nil, fmt.Errorf("entry %d: method is required", i)
		}
		subs = append(subs, domain.Submission{
			Request: domain.Request{ID: e.ID, Method: e.Method, Params: e.Params},
			Tier:    e.Tier,
			Label:   e.Label,
		})
	}
	return subs, nil
}

func runBatch(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	subs, err := readBatchFile(batchFile)
	if err != nil {
		slog.Error("Failed to load batch", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := control.NewApp(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize txguard", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = app.Stop(context.Background())
	}()

	slog.Info("Running batch", "file", batchFile, "items", len(subs))

	res, err := app.RunBatch(ctx, subs, batch.RunOptions{
		MaxAttemptsPerItem: batchMaxAttempts,
		ChunkSize:          batchChunkSize,
		ChunkPause:         batchChunkPause,
		OnProgress: func(completed, total int) {
			slog.Info("Batch progress", "completed", completed, "total", total)
		},
	})
	if err != nil {
		slog.Error("Batch rejected", "error", err)
		os.Exit(1)
	}

	printOutcomes(os.Stdout, res)

	slog.Info("Batch finished",
		"succeeded", res.SuccessCount,
		"failed", res.FailureCount,
		"cancelled", res.CancelledCount,
	)
}

func printOutcomes(out io.Writer, res *domain.BatchResult) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tATTEMPTS\tRESULT")

	for _, o := range res.Outcomes {
		detail := fmt.Sprint(o.Result)
		if o.Err != nil {
			detail = o.Err.Error()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", o.OperationID, o.Status, o.Attempts, detail)
	}
	_ = w.Flush()
}
