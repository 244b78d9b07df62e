package jobs

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/averlard/custos/internal/domain"
	"github.com/averlard/custos/internal/invoker"
)

// Service owns the in-memory job registry and drives job execution. All
// mutation of job records goes through its methods; callers never touch the
// map directly.
type Service struct {
	mu       sync.RWMutex
	jobs     map[string]*entry
	invoker  invoker.Invoker
	notifier domain.Notifier
	log      *log.Logger
	nowFn    func() time.Time
}

type entry struct {
	job    domain.Job
	cancel context.CancelFunc
	done   chan struct{} // closed exactly once, by whichever path stamps the terminal state
}

// NewService creates a job service.
func NewService(inv invoker.Invoker, notifier domain.Notifier, logger *log.Logger) *Service {
	if notifier == nil {
		notifier = domain.NopNotifier{}
	}
	return &Service{
		jobs:     make(map[string]*entry),
		invoker:  inv,
		notifier: notifier,
		log:      logger,
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Start accepts a new job and begins execution asynchronously. It returns the
// job id immediately; the job is queryable with status running from that
// point on.
func (s *Service) Start(kind domain.JobKind, target domain.JobTarget, owner string) (string, error) {
	if err := validateTarget(kind, target); err != nil {
		return "", err
	}

	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())

	job := domain.Job{
		ID:        id,
		Kind:      kind,
		Target:    target,
		Status:    domain.JobStatusRunning,
		StartedAt: s.nowFn(),
		Owner:     owner,
	}

	s.mu.Lock()
	s.jobs[id] = &entry{job: job, cancel: cancel, done: make(chan struct{})}
	s.mu.Unlock()

	s.log.Info("Job accepted", "job_id", id, "kind", kind, "owner", owner)
	s.notifyLifecycle(job, "started")

	go s.execute(ctx, id)

	return id, nil
}

// execute drives a single job to a terminal state. It must never leave a job
// stuck in running, so the outermost layer recovers panics and maps any error
// onto the failed state.
func (s *Service) execute(ctx context.Context, id string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Job orchestration panicked", "job_id", id, "panic", r)
			s.finish(id, domain.JobStatusFailed, fmt.Sprintf("internal error: %v", r))
		}
	}()

	target := s.target(id)
	args := invoker.Args(target)

	result, err := s.invoker.Invoke(ctx, args, func(line string) {
		s.appendOutput(id, line)
	})

	switch {
	case err == nil:
		s.setProgress(id, 100)
		s.finish(id, domain.JobStatusCompleted, "")
	case ctx.Err() != nil:
		// Cancel already stamped the terminal state; finish is a no-op then.
		s.finish(id, domain.JobStatusCancelled, "")
	default:
		msg := err.Error()
		if result != nil && result.Stderr != "" {
			msg = strings.TrimSpace(result.Stderr)
		}
		s.finish(id, domain.JobStatusFailed, msg)
	}
}

// Cancel transitions a running job to cancelled and terminates the engine
// process. Only the owner or an admin may cancel.
func (s *Service) Cancel(id string, requester domain.Identity) error {
	s.mu.Lock()
	e, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrJobNotFound
	}
	if !requester.CanAccess(e.job.Owner) {
		s.mu.Unlock()
		return domain.ErrForbidden
	}
	if e.job.Status.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("cancel %s job: %w", e.job.Status, domain.ErrInvalidState)
	}

	now := s.nowFn()
	e.job.Status = domain.JobStatusCancelled
	e.job.CompletedAt = &now
	e.job.Log = append(e.job.Log, fmt.Sprintf("cancelled by %s", requester.UserID))
	close(e.done)
	cancel := e.cancel
	job := e.job
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	s.log.Info("Job cancelled", "job_id", id, "requester", requester.UserID)
	s.notifyLifecycle(job, "cancelled")

	return nil
}

// GetStatus returns a copy of the job record.
func (s *Service) GetStatus(id string, requester domain.Identity) (domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	if !requester.CanAccess(e.job.Owner) {
		return domain.Job{}, domain.ErrForbidden
	}
	return copyJob(e.job), nil
}

// GetLog returns the accumulated engine output for a job.
func (s *Service) GetLog(id string, requester domain.Identity) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if !requester.CanAccess(e.job.Owner) {
		return nil, domain.ErrForbidden
	}
	out := make([]string, len(e.job.Log))
	copy(out, e.job.Log)
	return out, nil
}

// List returns jobs visible to the requester, newest first. Admins see every
// job; other identities see their own. A nil filter matches all statuses.
func (s *Service) List(requester domain.Identity, filter *domain.JobStatus, limit int) []domain.Job {
	s.mu.RLock()
	result := make([]domain.Job, 0, len(s.jobs))
	for _, e := range s.jobs {
		if !requester.CanAccess(e.job.Owner) {
			continue
		}
		if filter != nil && e.job.Status != *filter {
			continue
		}
		result = append(result, copyJob(e.job))
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// Cleanup removes terminal jobs older than maxAge and returns how many were
// dropped. It is an explicit maintenance operation, not run automatically.
func (s *Service) Cleanup(maxAge time.Duration) int {
	cutoff := s.nowFn().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.jobs {
		if e.job.Status.Terminal() && e.job.CompletedAt != nil && e.job.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		s.log.Info("Cleaned up finished jobs", "removed", removed, "max_age", maxAge)
	}
	return removed
}

var progressRe = regexp.MustCompile(`(\d{1,3})%`)

// appendOutput records an engine output line and derives progress from lines
// that carry a percentage.
func (s *Service) appendOutput(id, line string) {
	s.mu.Lock()
	e, ok := s.jobs[id]
	if !ok || e.job.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	e.job.Log = append(e.job.Log, line)
	job := e.job
	s.mu.Unlock()

	s.notifier.Send(job.Owner, domain.Event{
		Type:      domain.EventLogUpdate,
		Data:      map[string]interface{}{"job_id": id, "line": line},
		Timestamp: s.nowFn(),
	})

	if m := progressRe.FindStringSubmatch(line); m != nil {
		if pct, err := strconv.Atoi(m[1]); err == nil && pct <= 100 {
			s.setProgress(id, pct)
		}
	}
}

// setProgress raises the progress value; progress never decreases while a job
// is running.
func (s *Service) setProgress(id string, pct int) {
	s.mu.Lock()
	e, ok := s.jobs[id]
	if !ok || e.job.Status.Terminal() || pct <= e.job.ProgressPercent {
		s.mu.Unlock()
		return
	}
	e.job.ProgressPercent = pct
	job := e.job
	s.mu.Unlock()

	s.notifier.Send(job.Owner, domain.Event{
		Type:      domain.EventBackupProgress,
		Data:      map[string]interface{}{"job_id": id, "progress_percent": pct},
		Timestamp: s.nowFn(),
	})
}

// finish stamps a terminal state exactly once. Later calls for the same job
// are no-ops, which keeps terminal states write-once even when execution and
// cancellation race.
func (s *Service) finish(id string, status domain.JobStatus, errMsg string) {
	s.mu.Lock()
	e, ok := s.jobs[id]
	if !ok || e.job.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	now := s.nowFn()
	e.job.Status = status
	e.job.CompletedAt = &now
	if status == domain.JobStatusFailed {
		e.job.ErrorMessage = errMsg
	}
	close(e.done)
	job := e.job
	s.mu.Unlock()

	if status == domain.JobStatusFailed {
		s.log.Warn("Job failed", "job_id", id, "error", errMsg)
	} else {
		s.log.Info("Job finished", "job_id", id, "status", status)
	}
	s.notifyLifecycle(job, string(status))
}

func (s *Service) notifyLifecycle(job domain.Job, phase string) {
	s.notifier.Send(job.Owner, domain.Event{
		Type: domain.EventBackupLifecycle,
		Data: map[string]interface{}{
			"job_id": job.ID,
			"kind":   job.Kind,
			"phase":  phase,
		},
		Timestamp: s.nowFn(),
	})
}

func (s *Service) target(id string) domain.JobTarget {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.jobs[id]; ok {
		return e.job.Target
	}
	return domain.JobTarget{}
}

func validateTarget(kind domain.JobKind, target domain.JobTarget) error {
	switch kind {
	case domain.JobKindBackup:
		if target.Backup == nil || target.Restore != nil {
			return fmt.Errorf("backup job requires a backup target")
		}
		if target.Backup.Repository == "" || len(target.Backup.Paths) == 0 {
			return fmt.Errorf("backup target requires repository and at least one path")
		}
	case domain.JobKindRestore:
		if target.Restore == nil || target.Backup != nil {
			return fmt.Errorf("restore job requires a restore target")
		}
		if target.Restore.Repository == "" || target.Restore.SnapshotID == "" {
			return fmt.Errorf("restore target requires repository and snapshot id")
		}
	default:
		return fmt.Errorf("unknown job kind: %q", kind)
	}
	return nil
}

func copyJob(j domain.Job) domain.Job {
	out := j
	out.Log = append([]string(nil), j.Log...)
	return out
}
