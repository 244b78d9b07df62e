package jobs

import (
	"context"
	"fmt"

	"github.com/averlard/custos/internal/domain"
)

// RunBackup executes a backup job synchronously on behalf of the scheduler.
// The job goes through the same registry and lifecycle as API-started jobs;
// the returned error reflects the job's terminal state.
func (s *Service) RunBackup(ctx context.Context, target domain.BackupTarget, owner string) error {
	id, err := s.Start(domain.JobKindBackup, domain.JobTarget{Backup: &target}, owner)
	if err != nil {
		return err
	}

	s.mu.RLock()
	done := s.jobs[id].done
	s.mu.RUnlock()

	select {
	case <-ctx.Done():
		// The schedule run is being torn down; the job keeps its own
		// lifecycle and finishes on its own.
		return ctx.Err()
	case <-done:
	}

	job, err := s.GetStatus(id, domain.Identity{UserID: owner})
	if err != nil {
		return err
	}
	switch job.Status {
	case domain.JobStatusCompleted:
		return nil
	case domain.JobStatusCancelled:
		return fmt.Errorf("job %s was cancelled", id)
	default:
		return fmt.Errorf("job %s failed: %s: %w", id, job.ErrorMessage, domain.ErrExternalFailure)
	}
}
