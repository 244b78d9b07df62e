package domain

import "time"

// JobKind distinguishes backup from restore operations.
type JobKind string

const (
	JobKindBackup  JobKind = "backup"
	JobKindRestore JobKind = "restore"
)

// JobStatus tracks job lifecycle state. Running is the only non-terminal
// state; a job is running from the moment it is accepted.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// BackupTarget holds the parameters for a backup run. The payload is passed
// through to the external engine; the console does not interpret paths.
type BackupTarget struct {
	Repository string   `json:"repository"`
	Paths      []string `json:"paths"`
	Excludes   []string `json:"excludes,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// RestoreTarget holds the parameters for a restore run.
type RestoreTarget struct {
	Repository string   `json:"repository"`
	SnapshotID string   `json:"snapshot_id"`
	TargetPath string   `json:"target_path"`
	Include    []string `json:"include,omitempty"`
}

// JobTarget is the closed sum of per-kind payloads. Exactly one of the two
// fields is set, matching the job's kind.
type JobTarget struct {
	Backup  *BackupTarget  `json:"backup,omitempty"`
	Restore *RestoreTarget `json:"restore,omitempty"`
}

// Repository returns the repository the target operates on.
func (t JobTarget) Repository() string {
	if t.Backup != nil {
		return t.Backup.Repository
	}
	if t.Restore != nil {
		return t.Restore.Repository
	}
	return ""
}

// Job represents one tracked execution of a backup or restore operation.
type Job struct {
	ID              string     `json:"id"`
	Kind            JobKind    `json:"kind"`
	Target          JobTarget  `json:"target"`
	Status          JobStatus  `json:"status"`
	ProgressPercent int        `json:"progress_percent"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	Log             []string   `json:"log,omitempty"`
	Owner           string     `json:"owner"`
}
