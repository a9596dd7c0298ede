package db

import "time"

// Schema defines the SQLite schema for the attempt journal.
// It records the lifecycle of each analysis attempt; report payloads are
// never stored.
const Schema = `
CREATE TABLE IF NOT EXISTS attempts (
    id TEXT PRIMARY KEY,
    ordinal INTEGER NOT NULL,
    retry INTEGER NOT NULL DEFAULT 0,
    image_name TEXT NOT NULL DEFAULT '',
    media_type TEXT NOT NULL DEFAULT '',
    image_size INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL CHECK(status IN ('validating', 'health_checking', 'uploading', 'succeeded', 'failed')),
    error_code TEXT,
    error_message TEXT,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    duration_ms INTEGER
);

CREATE INDEX IF NOT EXISTS idx_attempts_status ON attempts(status);
CREATE INDEX IF NOT EXISTS idx_attempts_started_at ON attempts(started_at);
`

// Status constants
const (
	StatusValidating     = "validating"
	StatusHealthChecking = "health_checking"
	StatusUploading      = "uploading"
	StatusSucceeded      = "succeeded"
	StatusFailed         = "failed"
)

// Terminal reports whether status ends an attempt.
func Terminal(status string) bool {
	return status == StatusSucceeded || status == StatusFailed
}

// Attempt represents a journaled analysis attempt
type Attempt struct {
	ID           string
	Ordinal      int64
	Retry        int64
	ImageName    string
	MediaType    string
	ImageSize    int64
	Status       string
	ErrorCode    string
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   time.Time
	Duration     time.Duration
}
