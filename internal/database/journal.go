package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Run is one supervisor boot as recorded in the journal.
type Run struct {
	ID            string     `json:"id"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Phase         string     `json:"phase"`
	PID           int        `json:"pid,omitempty"`
	ExitReason    string     `json:"exit_reason,omitempty"`
	ExitCode      *int       `json:"exit_code,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	Environment   string     `json:"environment,omitempty"`
	UpdateSkipped bool       `json:"update_skipped"`
}

// PhaseEvent is a single phase transition.
type PhaseEvent struct {
	RunID      string    `json:"run_id"`
	Phase      string    `json:"phase"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Journal records supervisor runs for post-mortem inspection.
type Journal struct {
	db *DB
}

// NewJournal creates a journal on a migrated database.
func NewJournal(db *DB) *Journal {
	return &Journal{db: db}
}

// StartRun inserts a new run in the given phase.
func (j *Journal) StartRun(runID, phase string, at time.Time) error {
	_, err := j.db.Exec(
		"INSERT INTO runs (id, started_at, phase) VALUES (?, ?, ?)",
		runID, at.UTC(), phase,
	)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return j.insertEvent(runID, phase, "", at)
}

// RecordPhase stores a transition and updates the run's current phase.
func (j *Journal) RecordPhase(runID, phase, detail string, at time.Time) error {
	if _, err := j.db.Exec("UPDATE runs SET phase = ? WHERE id = ?", phase, runID); err != nil {
		return fmt.Errorf("failed to update run phase: %w", err)
	}
	return j.insertEvent(runID, phase, detail, at)
}

// SetPID records the launched game process.
func (j *Journal) SetPID(runID string, pid int) error {
	_, err := j.db.Exec("UPDATE runs SET pid = ? WHERE id = ?", pid, runID)
	return err
}

// SetEnvironment records the resolved runtime environment as JSON.
func (j *Journal) SetEnvironment(runID, environment string, updateSkipped bool) error {
	_, err := j.db.Exec(
		"UPDATE runs SET environment = ?, update_skipped = ? WHERE id = ?",
		environment, updateSkipped, runID,
	)
	return err
}

// FinishRun closes a run with its exit reason and code.
func (j *Journal) FinishRun(runID, reason string, exitCode int, errMsg string, at time.Time) error {
	_, err := j.db.Exec(
		"UPDATE runs SET finished_at = ?, exit_reason = ?, exit_code = ?, error_message = ? WHERE id = ?",
		at.UTC(), reason, exitCode, errMsg, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// CloseInterruptedRuns finishes runs that never recorded an exit, such as a
// boot cut short by SIGKILL, with reason "interrupted".
func (j *Journal) CloseInterruptedRuns(at time.Time) (int64, error) {
	result, err := j.db.Exec(
		"UPDATE runs SET finished_at = ?, exit_reason = 'interrupted' WHERE finished_at IS NULL",
		at.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to close interrupted runs: %w", err)
	}
	return result.RowsAffected()
}

// Close releases the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecentRuns returns the latest runs, newest first.
func (j *Journal) RecentRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.Query(`
		SELECT id, started_at, finished_at, phase, pid, exit_reason, exit_code, error_message, environment, update_skipped
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run        Run
			finishedAt sql.NullTime
			exitCode   sql.NullInt64
		)
		if err := rows.Scan(&run.ID, &run.StartedAt, &finishedAt, &run.Phase, &run.PID,
			&run.ExitReason, &exitCode, &run.ErrorMessage, &run.Environment, &run.UpdateSkipped); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if finishedAt.Valid {
			t := finishedAt.Time
			run.FinishedAt = &t
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			run.ExitCode = &code
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Events returns the phase transitions of a run in order.
func (j *Journal) Events(runID string) ([]PhaseEvent, error) {
	rows, err := j.db.Query(
		"SELECT run_id, phase, detail, occurred_at FROM phase_events WHERE run_id = ? ORDER BY id",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query phase events: %w", err)
	}
	defer rows.Close()

	var events []PhaseEvent
	for rows.Next() {
		var event PhaseEvent
		if err := rows.Scan(&event.RunID, &event.Phase, &event.Detail, &event.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan phase event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (j *Journal) insertEvent(runID, phase, detail string, at time.Time) error {
	_, err := j.db.Exec(
		"INSERT INTO phase_events (run_id, phase, detail, occurred_at) VALUES (?, ?, ?, ?)",
		runID, phase, detail, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record phase event: %w", err)
	}
	return nil
}
