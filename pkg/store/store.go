package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("run not found")

// Status of a run as shown in the UI.
type Status string

const (
	StatusReady     Status = "ready"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Run is one pipeline invocation. Runs are never overwritten by later runs.
type Run struct {
	ID             uuid.UUID       `json:"id"`
	Topic          string          `json:"topic"`
	Status         Status          `json:"status"`
	CurrentStep    string          `json:"current_step"`
	Progress       int             `json:"progress"`
	Article        string          `json:"article,omitempty"`
	Error          string          `json:"error,omitempty"`
	Category       string          `json:"category,omitempty"`
	Hint           string          `json:"hint,omitempty"`
	OutputFile     string          `json:"output_file,omitempty"`
	FileError      string          `json:"file_error,omitempty"`
	ElapsedSeconds float64         `json:"elapsed_seconds,omitempty"`
	Options        json.RawMessage `json:"options,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Completion carries the fields set when a run succeeds.
type Completion struct {
	Article        string
	OutputFile     string
	FileError      string
	ElapsedSeconds float64
}

// Failure carries the fields set when a run fails.
type Failure struct {
	Error          string
	Category       string
	Hint           string
	ElapsedSeconds float64
}

type LogEntry struct {
	ID        int64           `json:"id"`
	RunID     uuid.UUID       `json:"run_id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

// Store persists runs and their logs.
type Store interface {
	CreateRun(ctx context.Context, topic string, options json.RawMessage) (*Run, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, step string, progress int) error
	CompleteRun(ctx context.Context, id uuid.UUID, c Completion) error
	FailRun(ctx context.Context, id uuid.UUID, f Failure) error
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	LatestCompleted(ctx context.Context) (*Run, error)
	AppendLog(ctx context.Context, entry LogEntry) error
	RunLogs(ctx context.Context, id uuid.UUID) ([]LogEntry, error)
}
