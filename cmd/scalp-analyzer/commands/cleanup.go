package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/scalpcheck/scalp-analyzer/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	cleanupAll       bool
	cleanupOlderThan time.Duration
	cleanupStale     bool
	cleanupID        string
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune the attempt journal and FSM state",
	Long: `Clean up local state:
  --all               Delete every finished attempt and the FSM store
  --older-than <d>    Delete finished attempts started more than d ago
  --stale             Mark attempts left running by an exited process as failed
  --id <attempt>      Delete a single attempt from the journal`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupAll, "all", false, "Clean everything")
	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 0, "Prune finished attempts older than this")
	cleanupCmd.Flags().BoolVar(&cleanupStale, "stale", false, "Fail attempts abandoned mid-flight")
	cleanupCmd.Flags().StringVar(&cleanupID, "id", "", "Delete one attempt by ID")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if !cleanupAll && cleanupOlderThan <= 0 && !cleanupStale && cleanupID == "" {
		return fmt.Errorf("must specify --all, --older-than, --stale, or --id")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repo, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if cleanupID != "" {
		if err := repo.Delete(ctx, cleanupID); err != nil {
			return errors.Wrap(err, "delete failed")
		}
		fmt.Fprintf(out, "🗑️  Deleted attempt %s\n", cleanupID)
	}

	// Stale attempts are settled first so --all can prune them too.
	if cleanupStale || cleanupAll {
		n, err := repo.AbandonStale(ctx, string(errors.CodeUnknownError), "attempt abandoned: process exited before a terminal state")
		if err != nil {
			return errors.Wrap(err, "abandon failed")
		}
		fmt.Fprintf(out, "🧹 Settled %d stale attempts\n", n)
	}

	if cleanupAll {
		n, err := repo.DeleteFinishedBefore(ctx, time.Now().Add(time.Second))
		if err != nil {
			return errors.Wrap(err, "prune failed")
		}
		fmt.Fprintf(out, "🗑️  Deleted %d attempts\n", n)

		if err := os.RemoveAll(cfg.FSMDBPath); err != nil {
			return errors.Wrap(err, "failed to remove FSM store")
		}
		fmt.Fprintf(out, "🗑️  Removed FSM store %s\n", cfg.FSMDBPath)
	} else if cleanupOlderThan > 0 {
		n, err := repo.DeleteFinishedBefore(ctx, time.Now().Add(-cleanupOlderThan))
		if err != nil {
			return errors.Wrap(err, "prune failed")
		}
		fmt.Fprintf(out, "🗑️  Deleted %d attempts older than %s\n", n, cleanupOlderThan)
	}

	fmt.Fprintln(out, "✅ Cleanup complete")
	return nil
}
