package core

import "time"

// Store defines the interface for the run ledger.
type Store interface {
	Open(path string) error
	Close() error
	InitSchema() error

	// Run operations
	CreateRun(env string) (*Run, error)
	GetRun(id string) (*Run, error)
	CompleteRun(id string, status RunStatus, errMsg string) error
	GetLatestRun(env string) (*Run, error)
	ListRuns(limit int) ([]*Run, error)

	// Entity run operations
	RecordEntityRun(er *EntityRun) error
	GetEntityRunsForRun(runID string) ([]*EntityRun, error)
}

// RunStatus represents the status of a pipeline run.
type RunStatus string

// Run status constants.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run represents a pipeline execution session.
type Run struct {
	ID          string
	Environment string
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// EntityRunStatus represents the outcome of one entity within a run.
type EntityRunStatus string

// Entity run status constants.
const (
	EntityRunStatusSuccess EntityRunStatus = "success"
	EntityRunStatusFailed  EntityRunStatus = "failed"
	EntityRunStatusSkipped EntityRunStatus = "skipped"
)

// EntityRun records the extraction and load of a single entity.
type EntityRun struct {
	ID          string
	RunID       string
	Entity      string
	Status      EntityRunStatus
	RowsOut     int64 // rows surviving extraction
	RowsWritten int64 // rows the destination reported as written
	StartedAt   time.Time
	CompletedAt time.Time
	ExecutionMS int64
	Error       string
}
