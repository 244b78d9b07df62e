// Package store persists schedule definitions and their execution history in
// sqlite. Job records are process-lifetime only and never stored.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite"

	"github.com/averlard/custos/internal/domain"
)

const DBFilename = "custos.db"

// Store is the sqlite-backed schedule repository.
type Store struct {
	db  *sql.DB
	log *log.Logger
}

// Open creates the data directory if needed, opens the database and
// bootstraps the schema.
func Open(dataDir string, logger *log.Logger) (*Store, error) {
	if _, err := os.Stat(dataDir); os.IsNotExist(err) {
		logger.Debug("Creating data directory", "dir", dataDir)
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	dbPath := filepath.Join(dataDir, DBFilename)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, log: logger}
	if err := s.bootstrap(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug("Schedule store ready", "path", dbPath)

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) bootstrap() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin bootstrap transaction: %w", err)
	}

	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS schedules (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			cron_expression TEXT NOT NULL,
			enabled INTEGER NOT NULL,
			target TEXT NOT NULL,
			last_run TEXT,
			next_run TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS schedule_history (
			execution_id TEXT PRIMARY KEY,
			schedule_id TEXT NOT NULL,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			status TEXT NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			FOREIGN KEY (schedule_id) REFERENCES schedules(id)
		);
		CREATE INDEX IF NOT EXISTS idx_history_schedule
			ON schedule_history(schedule_id, started_at);
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("create tables: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bootstrap transaction: %w", err)
	}
	return nil
}

// List returns every schedule definition with its bounded history, oldest
// history entries first.
func (s *Store) List() ([]domain.ScheduleDefinition, error) {
	rows, err := s.db.Query(`
		SELECT id, name, cron_expression, enabled, target, last_run, next_run, created_at, updated_at
		FROM schedules ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	var defs []domain.ScheduleDefinition
	for rows.Next() {
		def, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}

	for i := range defs {
		history, err := s.history(defs[i].ID)
		if err != nil {
			return nil, err
		}
		defs[i].History = history
	}
	return defs, nil
}

// Save inserts a new schedule definition.
func (s *Store) Save(def domain.ScheduleDefinition) error {
	target, err := json.Marshal(def.Target)
	if err != nil {
		return fmt.Errorf("marshal target: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO schedules (id, name, cron_expression, enabled, target, last_run, next_run, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		def.ID, def.Name, def.CronExpression, boolToInt(def.Enabled), string(target),
		timePtrToString(def.LastRun), timePtrToString(def.NextRun),
		def.CreatedAt.Format(time.RFC3339Nano), def.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

// Update rewrites a schedule's fields. History rows are managed separately.
func (s *Store) Update(def domain.ScheduleDefinition) error {
	target, err := json.Marshal(def.Target)
	if err != nil {
		return fmt.Errorf("marshal target: %w", err)
	}

	_, err = s.db.Exec(`
		UPDATE schedules
		SET name = ?, cron_expression = ?, enabled = ?, target = ?, last_run = ?, next_run = ?, updated_at = ?
		WHERE id = ?`,
		def.Name, def.CronExpression, boolToInt(def.Enabled), string(target),
		timePtrToString(def.LastRun), timePtrToString(def.NextRun),
		def.UpdatedAt.Format(time.RFC3339Nano), def.ID)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	return nil
}

// UpdateRunTimes records a firing's run times without rewriting the rest of
// the definition; the scheduler uses it so a firing racing an API update can
// never clobber name, target or enabled.
func (s *Store) UpdateRunTimes(id string, lastRun, nextRun *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE schedules SET last_run = ?, next_run = ? WHERE id = ?`,
		timePtrToString(lastRun), timePtrToString(nextRun), id)
	if err != nil {
		return fmt.Errorf("update run times: %w", err)
	}
	return nil
}

// Delete removes a schedule and all of its history.
func (s *Store) Delete(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete transaction: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM schedule_history WHERE schedule_id = ?", id); err != nil {
		tx.Rollback()
		return fmt.Errorf("delete history: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM schedules WHERE id = ?", id); err != nil {
		tx.Rollback()
		return fmt.Errorf("delete schedule: %w", err)
	}
	return tx.Commit()
}

// AppendExecution records the start of a run and trims rows beyond the
// history cap, oldest first.
func (s *Store) AppendExecution(scheduleID string, rec domain.ExecutionRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO schedule_history (execution_id, schedule_id, started_at, completed_at, status, duration_ms, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ExecutionID, scheduleID, rec.StartedAt.Format(time.RFC3339Nano),
		timePtrToString(rec.CompletedAt), string(rec.Status), rec.DurationMs, rec.ErrorMessage)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}

	_, err = s.db.Exec(`
		DELETE FROM schedule_history
		WHERE schedule_id = ? AND execution_id NOT IN (
			SELECT execution_id FROM schedule_history
			WHERE schedule_id = ? ORDER BY started_at DESC LIMIT ?
		)`, scheduleID, scheduleID, domain.HistoryCap)
	if err != nil {
		return fmt.Errorf("trim history: %w", err)
	}
	return nil
}

// FinishExecution updates the record written by AppendExecution with the
// run's outcome.
func (s *Store) FinishExecution(scheduleID string, rec domain.ExecutionRecord) error {
	_, err := s.db.Exec(`
		UPDATE schedule_history
		SET completed_at = ?, status = ?, duration_ms = ?, error_message = ?
		WHERE schedule_id = ? AND execution_id = ?`,
		timePtrToString(rec.CompletedAt), string(rec.Status), rec.DurationMs, rec.ErrorMessage,
		scheduleID, rec.ExecutionID)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	return nil
}

func (s *Store) history(scheduleID string) ([]domain.ExecutionRecord, error) {
	rows, err := s.db.Query(`
		SELECT execution_id, started_at, completed_at, status, duration_ms, error_message
		FROM schedule_history WHERE schedule_id = ?
		ORDER BY started_at ASC`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var records []domain.ExecutionRecord
	for rows.Next() {
		var rec domain.ExecutionRecord
		var startedAt string
		var completedAt, errorMessage sql.NullString
		var status string
		if err := rows.Scan(&rec.ExecutionID, &startedAt, &completedAt, &status, &rec.DurationMs, &errorMessage); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		rec.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		rec.Status = domain.ExecutionStatus(status)
		if completedAt.Valid && completedAt.String != "" {
			t, err := time.Parse(time.RFC3339Nano, completedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse completed_at: %w", err)
			}
			rec.CompletedAt = &t
		}
		rec.ErrorMessage = errorMessage.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanSchedule(rows *sql.Rows) (domain.ScheduleDefinition, error) {
	var def domain.ScheduleDefinition
	var enabled int
	var target, createdAt, updatedAt string
	var lastRun, nextRun sql.NullString

	err := rows.Scan(&def.ID, &def.Name, &def.CronExpression, &enabled, &target,
		&lastRun, &nextRun, &createdAt, &updatedAt)
	if err != nil {
		return def, fmt.Errorf("scan schedule: %w", err)
	}

	def.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(target), &def.Target); err != nil {
		return def, fmt.Errorf("unmarshal target: %w", err)
	}
	if def.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return def, fmt.Errorf("parse created_at: %w", err)
	}
	if def.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return def, fmt.Errorf("parse updated_at: %w", err)
	}
	if def.LastRun, err = parseNullTime(lastRun); err != nil {
		return def, fmt.Errorf("parse last_run: %w", err)
	}
	if def.NextRun, err = parseNullTime(nextRun); err != nil {
		return def, fmt.Errorf("parse next_run: %w", err)
	}
	return def, nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func timePtrToString(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
