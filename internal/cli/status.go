package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/txguard/internal/control"
	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/infra/storage"
)

var (
	statusFilter string
	statusLimit  int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the most recently updated operations",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusFilter, "status", "", "only show operations in this status")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "maximum number of operations to show")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx := context.Background()
	store, err := control.OpenStorage(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = store.Close()
	}()

	snaps, err := store.Repo.List(ctx, storage.ListFilter{
		Status: domain.OperationStatus(statusFilter),
		Limit:  statusLimit,
	})
	if err != nil {
		slog.Error("Failed to list operations", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tQUEUE\tLABEL\tSTATUS\tATTEMPTS\tERROR\tUPDATED")

	for _, s := range snaps {
		errText := s.LastError
		if s.ErrorKind != "" {
			errText = fmt.Sprintf("[%s] %s", s.ErrorKind, s.LastError)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			s.ID, s.Queue, s.Label, s.Status, s.Attempt, s.MaxAttempts,
			errText, s.UpdatedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}
