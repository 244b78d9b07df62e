package store

import (
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/averlard/custos/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), log.New(io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleDef(id, name string) domain.ScheduleDefinition {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	next := now.Add(time.Hour)
	return domain.ScheduleDefinition{
		ID:             id,
		Name:           name,
		CronExpression: "0 2 * * *",
		Enabled:        true,
		Target: domain.BackupTarget{
			Repository: "/srv/repo",
			Paths:      []string{"/home", "/etc"},
			Excludes:   []string{"*.tmp"},
		},
		NextRun:   &next,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSaveAndListRoundTrip(t *testing.T) {
	s := openTestStore(t)

	def := sampleDef("s1", "nightly")
	require.NoError(t, s.Save(def))

	defs, err := s.List()
	require.NoError(t, err)
	require.Len(t, defs, 1)

	got := defs[0]
	assert.Equal(t, def.ID, got.ID)
	assert.Equal(t, def.Name, got.Name)
	assert.Equal(t, def.CronExpression, got.CronExpression)
	assert.True(t, got.Enabled)
	assert.Equal(t, def.Target, got.Target)
	require.NotNil(t, got.NextRun)
	assert.True(t, got.NextRun.Equal(*def.NextRun))
	assert.Nil(t, got.LastRun)
}

func TestSaveRejectsDuplicateName(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Save(sampleDef("s1", "nightly")))
	err := s.Save(sampleDef("s2", "nightly"))
	require.Error(t, err, "name column is unique")
}

func TestUpdatePersistsFieldChanges(t *testing.T) {
	s := openTestStore(t)

	def := sampleDef("s1", "nightly")
	require.NoError(t, s.Save(def))

	def.Name = "nightly-home"
	def.Enabled = false
	def.NextRun = nil
	lastRun := time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)
	def.LastRun = &lastRun
	require.NoError(t, s.Update(def))

	defs, err := s.List()
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "nightly-home", defs[0].Name)
	assert.False(t, defs[0].Enabled)
	assert.Nil(t, defs[0].NextRun)
	require.NotNil(t, defs[0].LastRun)
	assert.True(t, defs[0].LastRun.Equal(lastRun))
}

func TestUpdateRunTimesLeavesDefinitionAlone(t *testing.T) {
	s := openTestStore(t)

	def := sampleDef("s1", "nightly")
	require.NoError(t, s.Save(def))

	lastRun := time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)
	nextRun := time.Date(2026, 3, 3, 2, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateRunTimes("s1", &lastRun, &nextRun))

	defs, err := s.List()
	require.NoError(t, err)
	require.Len(t, defs, 1)
	got := defs[0]
	require.NotNil(t, got.LastRun)
	assert.True(t, got.LastRun.Equal(lastRun))
	require.NotNil(t, got.NextRun)
	assert.True(t, got.NextRun.Equal(nextRun))

	// Definition fields are untouched by a run-time write.
	assert.Equal(t, "nightly", got.Name)
	assert.Equal(t, def.CronExpression, got.CronExpression)
	assert.Equal(t, def.Target, got.Target)
	assert.True(t, got.Enabled)

	require.NoError(t, s.UpdateRunTimes("s1", &lastRun, nil))
	defs, err = s.List()
	require.NoError(t, err)
	assert.Nil(t, defs[0].NextRun)
}

func TestDeleteRemovesScheduleAndHistory(t *testing.T) {
	s := openTestStore(t)

	def := sampleDef("s1", "nightly")
	require.NoError(t, s.Save(def))
	require.NoError(t, s.AppendExecution("s1", domain.ExecutionRecord{
		ExecutionID: "e1",
		StartedAt:   time.Now().UTC(),
		Status:      domain.ExecutionRunning,
	}))

	require.NoError(t, s.Delete("s1"))

	defs, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, defs)

	var count int
	require.NoError(t, s.db.QueryRow(
		"SELECT count(*) FROM schedule_history WHERE schedule_id = 's1'").Scan(&count))
	assert.Zero(t, count, "history must go with the schedule")
}

func TestExecutionLifecycle(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Save(sampleDef("s1", "nightly")))

	started := time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)
	rec := domain.ExecutionRecord{
		ExecutionID: "e1",
		StartedAt:   started,
		Status:      domain.ExecutionRunning,
	}
	require.NoError(t, s.AppendExecution("s1", rec))

	completed := started.Add(90 * time.Second)
	rec.CompletedAt = &completed
	rec.Status = domain.ExecutionFailed
	rec.DurationMs = 90_000
	rec.ErrorMessage = "repository locked"
	require.NoError(t, s.FinishExecution("s1", rec))

	defs, err := s.List()
	require.NoError(t, err)
	require.Len(t, defs, 1)
	require.Len(t, defs[0].History, 1)

	got := defs[0].History[0]
	assert.Equal(t, "e1", got.ExecutionID)
	assert.Equal(t, domain.ExecutionFailed, got.Status)
	assert.Equal(t, int64(90_000), got.DurationMs)
	assert.Equal(t, "repository locked", got.ErrorMessage)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(completed))
}

func TestHistoryTrimsAtCap(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Save(sampleDef("s1", "nightly")))

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < domain.HistoryCap+10; i++ {
		require.NoError(t, s.AppendExecution("s1", domain.ExecutionRecord{
			ExecutionID: fmt.Sprintf("e%03d", i),
			StartedAt:   base.Add(time.Duration(i) * time.Minute),
			Status:      domain.ExecutionCompleted,
		}))
	}

	defs, err := s.List()
	require.NoError(t, err)
	require.Len(t, defs, 1)
	history := defs[0].History
	require.Len(t, history, domain.HistoryCap)

	// The oldest ten runs were evicted; the survivors are in order.
	assert.Equal(t, "e010", history[0].ExecutionID)
	assert.Equal(t, fmt.Sprintf("e%03d", domain.HistoryCap+9), history[len(history)-1].ExecutionID)
}
