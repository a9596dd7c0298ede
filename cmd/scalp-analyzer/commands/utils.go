package commands

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/scalpcheck/scalp-analyzer/internal/config"
	"github.com/scalpcheck/scalp-analyzer/pkg/db"
	"github.com/scalpcheck/scalp-analyzer/pkg/errors"
	"github.com/scalpcheck/scalp-analyzer/pkg/transport"
)

// loadConfig loads and validates configuration and applies the log level
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config invalid")
	}
	LogLevel.Set(cfg.SlogLevel())
	return cfg, nil
}

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(sqlitePath, fsmDBPath string) error {
	// Create database directory
	if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
		return errors.Wrap(err, "failed to create database directory")
	}

	// Create FSM database directory (only needed for analyze command)
	if fsmDBPath != "" {
		if err := os.MkdirAll(fsmDBPath, 0755); err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
	}

	return nil
}

func openJournal(cfg *config.Config) (*db.Repository, error) {
	if err := ensureDirectories(cfg.SQLitePath, ""); err != nil {
		return nil, err
	}
	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return nil, errors.Wrap(err, "db init failed")
	}
	return repo, nil
}

func newTransport(cfg *config.Config) *transport.Client {
	return transport.NewClient(transport.Options{
		BaseURL:     cfg.BaseURL,
		Timeout:     cfg.RequestTimeout,
		UploadField: cfg.UploadField,
	})
}

// lastOrdinal continues attempt numbering across runs.
func lastOrdinal(ctx context.Context, repo *db.Repository) int64 {
	n, err := repo.LastOrdinal(ctx)
	if err != nil {
		slog.Warn("journal_last_ordinal_failed", "error", err)
		return 0
	}
	return n
}
