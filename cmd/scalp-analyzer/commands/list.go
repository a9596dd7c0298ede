package commands

import (
	"fmt"

	"github.com/scalpcheck/scalp-analyzer/pkg/errors"
	"github.com/spf13/cobra"
)

var listLimit int

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List journaled analysis attempts, newest first",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "Max attempts to show (0 for all)")
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repo, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	attempts, err := repo.List(cmd.Context(), listLimit)
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	out := cmd.OutOrStdout()
	if len(attempts) == 0 {
		fmt.Fprintln(out, "No attempts found")
		return nil
	}

	fmt.Fprintf(out, "%-6s %-5s %-30s %-16s %-24s %-10s %-20s\n", "#", "RETRY", "IMAGE", "STATUS", "ERROR", "DURATION", "STARTED")
	fmt.Fprintln(out, "----------------------------------------------------------------------------------------------------------------------")

	for _, a := range attempts {
		image := a.ImageName
		if image == "" {
			image = "-"
		}
		code := a.ErrorCode
		if code == "" {
			code = "-"
		}
		duration := "-"
		if !a.FinishedAt.IsZero() {
			duration = a.Duration.String()
		}

		fmt.Fprintf(out, "%-6d %-5d %-30s %-16s %-24s %-10s %-20s\n",
			a.Ordinal, a.Retry, image, a.Status, code, duration, a.StartedAt.Local().Format("2006-01-02 15:04:05"))
	}

	return nil
}
