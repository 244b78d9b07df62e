package domain

import "time"

// HistoryCap bounds the execution history kept per schedule. Appending past
// the cap evicts the oldest entry first.
const HistoryCap = 100

// ExecutionStatus tracks one scheduled run in the history record.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionSkipped   ExecutionStatus = "skipped"
)

// ExecutionRecord is one entry in a schedule's bounded execution history.
// It is an audit record only; overlap decisions never read it.
type ExecutionRecord struct {
	ExecutionID  string          `json:"execution_id"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Status       ExecutionStatus `json:"status"`
	DurationMs   int64           `json:"duration_ms"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// ScheduleDefinition is a named, cron-triggered template that spawns backup
// jobs. Definitions persist across restarts; enabled ones are rearmed at
// process start.
type ScheduleDefinition struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	CronExpression string            `json:"cron_expression"`
	Enabled        bool              `json:"enabled"`
	Target         BackupTarget      `json:"target"`
	LastRun        *time.Time        `json:"last_run,omitempty"`
	NextRun        *time.Time        `json:"next_run,omitempty"`
	History        []ExecutionRecord `json:"history,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// ScheduleUpdate carries the mutable fields of a definition. Nil fields are
// left unchanged.
type ScheduleUpdate struct {
	Name           *string       `json:"name,omitempty"`
	CronExpression *string       `json:"cron_expression,omitempty"`
	Enabled        *bool         `json:"enabled,omitempty"`
	Target         *BackupTarget `json:"target,omitempty"`
}
