package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/scalpcheck/scalp-analyzer/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// LogLevel is the level of the default logger; commands raise or lower it
// once configuration is loaded.
var LogLevel = new(slog.LevelVar)

var rootCmd = &cobra.Command{
	Use:   "scalp-analyzer",
	Short: "Scalp analysis client - submit scalp images for remote analysis",
	Long: `Validates scalp images, checks the analysis service's health, uploads the
image and reports the analysis or a classified failure with a suggestion.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("base-url", config.DefaultBaseURL, "Analysis service base URL")
	flags.Duration("request-timeout", config.DefaultRequestTimeout, "Analysis request timeout")
	flags.Duration("health-timeout", config.DefaultHealthTimeout, "Health check timeout")
	flags.String("upload-field", config.DefaultUploadField, "Multipart field name carrying the image")
	flags.Int64("max-image-size", config.DefaultMaxImageSize, "Max image size in bytes")
	flags.StringSlice("accepted-types", config.DefaultAcceptedTypes, "Accepted image media types")
	flags.Duration("progress-interval", config.DefaultProgressInterval, "Progress sampling interval")
	flags.Duration("expected-duration", config.DefaultExpectedDuration, "Expected analysis duration for progress estimation")
	flags.String("sqlite-path", ".artifacts/attempts.db", "SQLite attempt journal path")
	flags.String("fsm-db-path", ".artifacts/fsm.db", "FSM BoltDB path")
	flags.String("s3-bucket", "", "Default S3 bucket for --prefix")
	flags.String("s3-region", "us-east-1", "S3 region")
	flags.Bool("s3-anonymous", false, "Use anonymous S3 credentials")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address while running")

	for _, key := range []string{
		"base-url", "request-timeout", "health-timeout", "upload-field",
		"max-image-size", "accepted-types", "progress-interval", "expected-duration",
		"sqlite-path", "fsm-db-path", "s3-bucket", "s3-region", "s3-anonymous",
		"log-level", "metrics-addr",
	} {
		viper.BindPFlag(key, flags.Lookup(key))
	}
}
