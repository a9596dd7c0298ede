package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/scalpcheck/scalp-analyzer/pkg/errors"
	"github.com/scalpcheck/scalp-analyzer/pkg/health"
	"github.com/spf13/cobra"
)

var healthJSON bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check whether the analysis service is healthy",
	RunE:  runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "Print the status as JSON")
}

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	gate := health.NewGate(newTransport(cfg), cfg.HealthTimeout)
	status, checkErr := gate.Check(cmd.Context())
	if err := printHealth(cmd.OutOrStdout(), status, checkErr, healthJSON); err != nil {
		return err
	}

	if checkErr != nil {
		return fmt.Errorf("analysis service is not available")
	}
	return nil
}

func printHealth(w io.Writer, status *health.Status, checkErr error, asJSON bool) error {
	if asJSON {
		doc := map[string]any{"healthy": checkErr == nil}
		if status != nil {
			doc["status"] = status.Reported
			doc["services"] = status.Services
			doc["observed_at"] = status.ObservedAt
		}
		if c, ok := errors.As(checkErr); ok {
			doc["error"] = map[string]any{"code": c.Code, "message": c.Message, "retryable": c.Retryable}
		}
		if err := json.NewEncoder(w).Encode(doc); err != nil {
			return errors.Wrap(err, "failed to write health status")
		}
		return nil
	}

	if status != nil {
		fmt.Fprintf(w, "Status: %s (observed %s)\n", status.Reported, status.ObservedAt.Format("2006-01-02 15:04:05"))
		names := make([]string, 0, len(status.Services))
		for name := range status.Services {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			mark := "✅"
			if !status.Services[name] {
				mark = "❌"
			}
			fmt.Fprintf(w, "  %s %s\n", mark, name)
		}
		if down := status.Down(); len(down) > 0 {
			fmt.Fprintf(w, "Down: %s\n", strings.Join(down, ", "))
		}
	}
	if c, ok := errors.As(checkErr); ok {
		fmt.Fprintf(w, "❌ [%s] %s\n", c.Code, c.Message)
		if c.Suggestion != "" {
			fmt.Fprintf(w, "   💡 %s\n", c.Suggestion)
		}
	}
	return nil
}
