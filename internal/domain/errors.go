package domain

import "errors"

// Domain errors represent business-level errors that can occur in the system.
// The HTTP layer maps them to response codes; orchestration code matches them
// with errors.Is.
var (
	// Job errors
	ErrJobNotFound  = errors.New("job not found")
	ErrForbidden    = errors.New("access denied")
	ErrInvalidState = errors.New("job is not running")

	// Schedule errors
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrInvalidCron      = errors.New("invalid cron expression")
	ErrDuplicateName    = errors.New("schedule name already exists")

	// Execution errors
	ErrExternalFailure = errors.New("backup engine invocation failed")
)
