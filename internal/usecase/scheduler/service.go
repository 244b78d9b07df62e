package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/averlard/custos/internal/domain"
)

// ScheduleStore persists schedule definitions and their execution history.
type ScheduleStore interface {
	List() ([]domain.ScheduleDefinition, error)
	Save(def domain.ScheduleDefinition) error
	Update(def domain.ScheduleDefinition) error
	UpdateRunTimes(id string, lastRun, nextRun *time.Time) error
	Delete(id string) error
	AppendExecution(scheduleID string, rec domain.ExecutionRecord) error
	FinishExecution(scheduleID string, rec domain.ExecutionRecord) error
}

// BackupRunner is the executor capability the scheduler drives. The jobs
// service implements it.
type BackupRunner interface {
	RunBackup(ctx context.Context, target domain.BackupTarget, owner string) error
}

// ScheduleOwner is the identity recorded on jobs spawned by schedules.
const ScheduleOwner = "scheduler"

// parser accepts the standard 5-field cron grammar.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Service turns schedule definitions into timed backup runs. It owns the
// running-set that guarantees at most one in-flight execution per schedule;
// execution history is an audit record and never consulted for overlap
// decisions.
type Service struct {
	mu      sync.RWMutex
	defs    map[string]*entry
	running map[string]struct{}

	store    ScheduleStore
	runner   BackupRunner
	notifier domain.Notifier
	log      *log.Logger
	nowFn    func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

type entry struct {
	def   domain.ScheduleDefinition
	sched cron.Schedule // nil while disabled or unparsable
}

// NewService creates a scheduler and loads persisted definitions. Enabled
// definitions are armed exactly once; disabled ones are loaded dormant.
func NewService(store ScheduleStore, runner BackupRunner, notifier domain.Notifier, logger *log.Logger) (*Service, error) {
	if notifier == nil {
		notifier = domain.NopNotifier{}
	}
	s := &Service{
		defs:     make(map[string]*entry),
		running:  make(map[string]struct{}),
		store:    store,
		runner:   runner,
		notifier: notifier,
		log:      logger,
		stopCh:   make(chan struct{}),
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}

	defs, err := store.List()
	if err != nil {
		return nil, fmt.Errorf("load schedules: %w", err)
	}
	for _, def := range defs {
		e := &entry{def: def}
		if def.Enabled {
			sched, err := parser.Parse(def.CronExpression)
			if err != nil {
				logger.Error("Stored schedule has unparsable cron expression, loading disarmed",
					"schedule_id", def.ID, "name", def.Name, "error", err)
			} else {
				e.sched = sched
				next := sched.Next(s.nowFn())
				e.def.NextRun = &next
			}
		}
		s.defs[def.ID] = e
	}
	logger.Info("Scheduler loaded", "schedules", len(defs))

	return s, nil
}

// Start begins the timer loop. The loop wakes every tick and fires schedules
// whose next run time has passed.
func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.runDue(ctx)
			}
		}
	}()
}

// Stop halts the timer loop. In-flight executions finish on their own.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// Create validates and persists a new schedule definition, arming it when
// enabled.
func (s *Service) Create(name, cronExpression string, target domain.BackupTarget, enabled bool) (domain.ScheduleDefinition, error) {
	sched, err := parser.Parse(cronExpression)
	if err != nil {
		return domain.ScheduleDefinition{}, fmt.Errorf("parse %q: %v: %w", cronExpression, err, domain.ErrInvalidCron)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findByNameLocked(name) != nil {
		return domain.ScheduleDefinition{}, fmt.Errorf("schedule %q: %w", name, domain.ErrDuplicateName)
	}

	now := s.nowFn()
	def := domain.ScheduleDefinition{
		ID:             uuid.New().String(),
		Name:           name,
		CronExpression: cronExpression,
		Enabled:        enabled,
		Target:         target,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	e := &entry{def: def}
	if enabled {
		e.sched = sched
		next := sched.Next(now)
		e.def.NextRun = &next
	}

	if err := s.store.Save(e.def); err != nil {
		return domain.ScheduleDefinition{}, fmt.Errorf("persist schedule: %w", err)
	}
	s.defs[def.ID] = e

	s.log.Info("Schedule created", "schedule_id", def.ID, "name", name, "cron", cronExpression, "enabled", enabled)
	return e.def, nil
}

// Update applies field changes to a schedule. A new cron expression is
// re-validated and the timer rearmed; an execution already in flight is not
// interrupted.
func (s *Service) Update(id string, fields domain.ScheduleUpdate) (domain.ScheduleDefinition, error) {
	var sched cron.Schedule
	if fields.CronExpression != nil {
		var err error
		sched, err = parser.Parse(*fields.CronExpression)
		if err != nil {
			return domain.ScheduleDefinition{}, fmt.Errorf("parse %q: %v: %w", *fields.CronExpression, err, domain.ErrInvalidCron)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.defs[id]
	if !ok {
		return domain.ScheduleDefinition{}, domain.ErrScheduleNotFound
	}

	if fields.Name != nil && *fields.Name != e.def.Name {
		if other := s.findByNameLocked(*fields.Name); other != nil && other.def.ID != id {
			return domain.ScheduleDefinition{}, fmt.Errorf("schedule %q: %w", *fields.Name, domain.ErrDuplicateName)
		}
		e.def.Name = *fields.Name
	}
	if fields.CronExpression != nil {
		e.def.CronExpression = *fields.CronExpression
		e.sched = sched
	}
	if fields.Target != nil {
		e.def.Target = *fields.Target
	}
	if fields.Enabled != nil {
		e.def.Enabled = *fields.Enabled
	}
	e.def.UpdatedAt = s.nowFn()

	s.rearmLocked(e)

	if err := s.store.Update(e.def); err != nil {
		return domain.ScheduleDefinition{}, fmt.Errorf("persist schedule: %w", err)
	}

	s.log.Info("Schedule updated", "schedule_id", id, "name", e.def.Name)
	return e.def, nil
}

// Toggle flips the enabled flag, disarming or rearming the timer.
func (s *Service) Toggle(id string) (domain.ScheduleDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.defs[id]
	if !ok {
		return domain.ScheduleDefinition{}, domain.ErrScheduleNotFound
	}

	e.def.Enabled = !e.def.Enabled
	e.def.UpdatedAt = s.nowFn()
	s.rearmLocked(e)

	if err := s.store.Update(e.def); err != nil {
		return domain.ScheduleDefinition{}, fmt.Errorf("persist schedule: %w", err)
	}

	s.log.Info("Schedule toggled", "schedule_id", id, "enabled", e.def.Enabled)
	return e.def, nil
}

// Delete disarms and removes a schedule along with its history.
func (s *Service) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.defs[id]; !ok {
		return domain.ErrScheduleNotFound
	}
	if err := s.store.Delete(id); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	delete(s.defs, id)

	s.log.Info("Schedule deleted", "schedule_id", id)
	return nil
}

// Get returns one schedule definition.
func (s *Service) Get(id string) (domain.ScheduleDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.defs[id]
	if !ok {
		return domain.ScheduleDefinition{}, domain.ErrScheduleNotFound
	}
	return copyDef(e.def), nil
}

// List returns all schedule definitions, most recently created first.
func (s *Service) List() []domain.ScheduleDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]domain.ScheduleDefinition, 0, len(s.defs))
	for _, e := range s.defs {
		defs = append(defs, copyDef(e.def))
	}
	sortDefs(defs)
	return defs
}

// RunNow fires a schedule immediately, subject to the same overlap guard as
// timer-driven firings.
func (s *Service) RunNow(ctx context.Context, id string) error {
	s.mu.RLock()
	_, ok := s.defs[id]
	s.mu.RUnlock()
	if !ok {
		return domain.ErrScheduleNotFound
	}
	s.fire(ctx, id)
	return nil
}

// ValidateCron checks an expression against the 5-field grammar and returns
// the next few run times.
func (s *Service) ValidateCron(expression string, count int) ([]time.Time, error) {
	sched, err := parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %v: %w", expression, err, domain.ErrInvalidCron)
	}
	if count <= 0 {
		count = 3
	}
	runs := make([]time.Time, 0, count)
	t := s.nowFn()
	for i := 0; i < count; i++ {
		t = sched.Next(t)
		runs = append(runs, t)
	}
	return runs, nil
}

// runDue fires every enabled schedule whose next run time has passed. Each
// firing runs in its own goroutine; the running-set keeps rapid ticks from
// stacking executions.
func (s *Service) runDue(ctx context.Context) {
	now := s.nowFn()

	s.mu.RLock()
	due := make([]string, 0)
	for id, e := range s.defs {
		if !e.def.Enabled || e.sched == nil || e.def.NextRun == nil {
			continue
		}
		if !now.Before(*e.def.NextRun) {
			due = append(due, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range due {
		go s.fire(ctx, id)
	}
}

// fire executes one scheduled run. If the schedule is already in the
// running-set the firing is skipped entirely: a skipped history entry is
// recorded and the missed occurrence is dropped by advancing NextRun past it.
// Otherwise the id is held in the set until the run finishes, with removal
// deferred so no failure path can leave a schedule permanently blocked.
func (s *Service) fire(ctx context.Context, id string) {
	s.mu.Lock()
	e, ok := s.defs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	if _, inFlight := s.running[id]; inFlight {
		now := s.nowFn()
		skipped := domain.ExecutionRecord{
			ExecutionID: uuid.New().String(),
			StartedAt:   now,
			CompletedAt: &now,
			Status:      domain.ExecutionSkipped,
		}
		e.def.History = appendBounded(e.def.History, skipped)
		// The missed occurrence is discarded, never queued: the schedule
		// stays on its grid and the next firing is the next cron match.
		if e.sched != nil {
			next := e.sched.Next(now)
			e.def.NextRun = &next
		}
		lastRun, nextRun := e.def.LastRun, e.def.NextRun
		s.mu.Unlock()

		s.log.Warn("Skipping schedule firing, previous execution still in flight", "schedule_id", id)
		if err := s.store.AppendExecution(id, skipped); err != nil {
			s.log.Error("Failed to persist skipped execution", "schedule_id", id, "error", err)
		}
		if err := s.store.UpdateRunTimes(id, lastRun, nextRun); err != nil {
			s.log.Error("Failed to persist schedule run times", "schedule_id", id, "error", err)
		}
		return
	}
	s.running[id] = struct{}{}

	started := s.nowFn()
	rec := domain.ExecutionRecord{
		ExecutionID: uuid.New().String(),
		StartedAt:   started,
		Status:      domain.ExecutionRunning,
	}
	e.def.History = appendBounded(e.def.History, rec)
	e.def.LastRun = &started
	if e.sched != nil {
		next := e.sched.Next(started)
		e.def.NextRun = &next
	}
	name := e.def.Name
	target := e.def.Target
	lastRun, nextRun := e.def.LastRun, e.def.NextRun
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, id)
		s.mu.Unlock()
	}()

	if err := s.store.AppendExecution(id, rec); err != nil {
		s.log.Error("Failed to persist execution record", "schedule_id", id, "error", err)
	}
	// Run-time fields only: a full-definition write here could clobber a
	// concurrent API update of name, target or enabled.
	if err := s.store.UpdateRunTimes(id, lastRun, nextRun); err != nil {
		s.log.Error("Failed to persist schedule run times", "schedule_id", id, "error", err)
	}

	s.log.Info("Schedule firing", "schedule_id", id, "name", name, "execution_id", rec.ExecutionID)
	s.notifier.Broadcast(domain.Event{
		Type:      domain.EventNotification,
		Data:      map[string]interface{}{"schedule_id": id, "name": name, "phase": "started"},
		Timestamp: started,
	})

	runErr := s.runProtected(ctx, target)

	finished := s.nowFn()
	rec.CompletedAt = &finished
	rec.DurationMs = finished.Sub(started).Milliseconds()
	if runErr != nil {
		rec.Status = domain.ExecutionFailed
		rec.ErrorMessage = runErr.Error()
		s.log.Error("Scheduled run failed", "schedule_id", id, "name", name, "error", runErr)
	} else {
		rec.Status = domain.ExecutionCompleted
	}

	s.mu.Lock()
	if e, ok := s.defs[id]; ok {
		for i := range e.def.History {
			if e.def.History[i].ExecutionID == rec.ExecutionID {
				e.def.History[i] = rec
				break
			}
		}
	}
	s.mu.Unlock()

	if err := s.store.FinishExecution(id, rec); err != nil {
		s.log.Error("Failed to persist execution result", "schedule_id", id, "error", err)
	}

	s.notifier.Broadcast(domain.Event{
		Type: domain.EventNotification,
		Data: map[string]interface{}{
			"schedule_id": id,
			"name":        name,
			"phase":       string(rec.Status),
			"duration_ms": rec.DurationMs,
		},
		Timestamp: finished,
	})
}

// runProtected confines panics from the run path to a failed execution so the
// deferred running-set cleanup in fire always executes.
func (s *Service) runProtected(ctx context.Context, target domain.BackupTarget) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduled run panicked: %v", r)
		}
	}()
	return s.runner.RunBackup(ctx, target, ScheduleOwner)
}

// rearmLocked recomputes or clears the next run after an enable/expression
// change. Caller holds the write lock.
func (s *Service) rearmLocked(e *entry) {
	if !e.def.Enabled {
		e.def.NextRun = nil
		return
	}
	if e.sched == nil {
		sched, err := parser.Parse(e.def.CronExpression)
		if err != nil {
			s.log.Error("Cannot arm schedule with unparsable expression", "schedule_id", e.def.ID, "error", err)
			e.def.NextRun = nil
			return
		}
		e.sched = sched
	}
	next := e.sched.Next(s.nowFn())
	e.def.NextRun = &next
}

func (s *Service) findByNameLocked(name string) *entry {
	for _, e := range s.defs {
		if e.def.Name == name {
			return e
		}
	}
	return nil
}

func appendBounded(history []domain.ExecutionRecord, rec domain.ExecutionRecord) []domain.ExecutionRecord {
	history = append(history, rec)
	if len(history) > domain.HistoryCap {
		history = history[len(history)-domain.HistoryCap:]
	}
	return history
}

func copyDef(def domain.ScheduleDefinition) domain.ScheduleDefinition {
	out := def
	out.History = append([]domain.ExecutionRecord(nil), def.History...)
	return out
}

func sortDefs(defs []domain.ScheduleDefinition) {
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].CreatedAt.After(defs[j].CreatedAt)
	})
}
