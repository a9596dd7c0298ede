package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/scalpcheck/scalp-analyzer/pkg/errors"
	_ "modernc.org/sqlite"
)

// Repository provides database operations for the attempt journal
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new repository
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}

	// Create schema
	slog.Info("database_create_schema", "db_path", dbPath)
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Begin inserts a new attempt record
func (r *Repository) Begin(ctx context.Context, a *Attempt) error {
	slog.Info("database_begin_attempt", "attempt_id", a.ID, "ordinal", a.Ordinal, "status", a.Status)

	if a.StartedAt.IsZero() {
		a.StartedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO attempts (id, ordinal, retry, image_name, media_type, image_size, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.Ordinal, a.Retry, a.ImageName, a.MediaType, a.ImageSize, a.Status,
		a.StartedAt.UTC().Format(timeLayout))
	if err != nil {
		slog.Error("database_insert_failed", "attempt_id", a.ID, "error", err)
		return errors.Wrap(err, "failed to insert attempt")
	}

	slog.Info("database_attempt_created", "attempt_id", a.ID, "status", a.Status)
	return nil
}

// Advance updates the status of a running attempt
func (r *Repository) Advance(ctx context.Context, id, status string) error {
	slog.Info("database_update_status", "attempt_id", id, "status", status)

	query := `UPDATE attempts SET status = ? WHERE id = ? AND status NOT IN ('succeeded', 'failed')`
	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		slog.Error("database_status_update_failed", "attempt_id", id, "status", status, "error", err)
		return errors.Wrap(err, "failed to update status")
	}
	if err := requireRow(result, id); err != nil {
		return err
	}

	slog.Info("database_status_updated", "attempt_id", id, "status", status)
	return nil
}

// Finish records the terminal state of an attempt
func (r *Repository) Finish(ctx context.Context, id, status, errorCode, errorMessage string, finishedAt time.Time, duration time.Duration) error {
	slog.Info("database_finish_attempt", "attempt_id", id, "status", status, "error_code", errorCode)

	if !Terminal(status) {
		return fmt.Errorf("status %q is not terminal", status)
	}
	query := `
		UPDATE attempts
		SET status = ?, error_code = ?, error_message = ?, finished_at = ?, duration_ms = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		status, nullable(errorCode), nullable(errorMessage),
		finishedAt.UTC().Format(timeLayout), duration.Milliseconds(), id)
	if err != nil {
		slog.Error("database_finish_failed", "attempt_id", id, "error", err)
		return errors.Wrap(err, "failed to finish attempt")
	}
	if err := requireRow(result, id); err != nil {
		return err
	}

	slog.Info("database_attempt_finished", "attempt_id", id, "status", status)
	return nil
}

// Get retrieves an attempt by ID
func (r *Repository) Get(ctx context.Context, id string) (*Attempt, error) {
	slog.Info("database_query_attempt", "attempt_id", id)

	row := r.db.QueryRowContext(ctx, selectAttempts+` WHERE id = ?`, id)
	a, err := scanAttempt(row)
	if err == sql.ErrNoRows {
		slog.Info("database_attempt_not_found", "attempt_id", id)
		return nil, nil // Not found
	}
	if err != nil {
		slog.Error("database_query_failed", "attempt_id", id, "error", err)
		return nil, errors.Wrap(err, "failed to query attempt")
	}
	return a, nil
}

// List retrieves attempts, newest first. limit <= 0 returns all.
func (r *Repository) List(ctx context.Context, limit int) ([]*Attempt, error) {
	slog.Info("database_list_attempts", "limit", limit)

	query := selectAttempts + ` ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list attempts")
	}
	defer rows.Close()

	var attempts []*Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		slog.Error("database_rows_error", "error", err)
		return nil, errors.Wrap(err, "rows error")
	}

	slog.Info("database_list_complete", "attempt_count", len(attempts))
	return attempts, nil
}

// LastOrdinal returns the highest ordinal journaled so far.
func (r *Repository) LastOrdinal(ctx context.Context) (int64, error) {
	var ordinal sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(ordinal) FROM attempts`).Scan(&ordinal); err != nil {
		return 0, errors.Wrap(err, "failed to query last ordinal")
	}
	return ordinal.Int64, nil
}

// Delete deletes an attempt by ID
func (r *Repository) Delete(ctx context.Context, id string) error {
	slog.Info("database_delete_attempt", "attempt_id", id)

	result, err := r.db.ExecContext(ctx, `DELETE FROM attempts WHERE id = ?`, id)
	if err != nil {
		slog.Error("database_delete_failed", "attempt_id", id, "error", err)
		return errors.Wrap(err, "failed to delete attempt")
	}
	if err := requireRow(result, id); err != nil {
		return err
	}

	slog.Info("database_attempt_deleted", "attempt_id", id)
	return nil
}

// DeleteFinishedBefore prunes terminal attempts started before cutoff
func (r *Repository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	slog.Info("database_prune_attempts", "cutoff", cutoff)

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM attempts WHERE status IN ('succeeded', 'failed') AND started_at < ?`,
		cutoff.UTC().Format(timeLayout))
	if err != nil {
		slog.Error("database_prune_failed", "error", err)
		return 0, errors.Wrap(err, "failed to prune attempts")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	slog.Info("database_attempts_pruned", "count", n)
	return n, nil
}

// AbandonStale marks attempts left non-terminal by a process that exited
// mid-attempt as failed.
func (r *Repository) AbandonStale(ctx context.Context, code, message string) (int64, error) {
	slog.Info("database_abandon_stale")

	result, err := r.db.ExecContext(ctx, `
		UPDATE attempts
		SET status = 'failed', error_code = ?, error_message = ?, finished_at = ?
		WHERE status NOT IN ('succeeded', 'failed')
	`, code, message, time.Now().UTC().Format(timeLayout))
	if err != nil {
		slog.Error("database_abandon_failed", "error", err)
		return 0, errors.Wrap(err, "failed to abandon stale attempts")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	slog.Info("database_stale_abandoned", "count", n)
	return n, nil
}

// timeLayout is fixed-width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const selectAttempts = `
	SELECT id, ordinal, retry, image_name, media_type, image_size, status,
	       error_code, error_message, started_at, finished_at, duration_ms
	FROM attempts`

type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(s scanner) (*Attempt, error) {
	var a Attempt
	var errorCode, errorMessage, finishedAt sql.NullString
	var startedAt string
	var durationMS sql.NullInt64

	if err := s.Scan(
		&a.ID, &a.Ordinal, &a.Retry, &a.ImageName, &a.MediaType, &a.ImageSize, &a.Status,
		&errorCode, &errorMessage, &startedAt, &finishedAt, &durationMS); err != nil {
		return nil, err
	}

	// Handle nullable fields
	a.ErrorCode = errorCode.String
	a.ErrorMessage = errorMessage.String
	a.Duration = time.Duration(durationMS.Int64) * time.Millisecond
	a.StartedAt, _ = time.Parse(timeLayout, startedAt)
	if finishedAt.Valid {
		a.FinishedAt, _ = time.Parse(timeLayout, finishedAt.String)
	}
	return &a, nil
}

func requireRow(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		slog.Error("database_rows_affected_failed", "attempt_id", id, "error", err)
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		slog.Error("database_attempt_not_found_for_update", "attempt_id", id)
		return fmt.Errorf("attempt not found or already finished: id=%s", id)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
