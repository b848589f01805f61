package database

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "data", "journal.db")

	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("failed to create db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestNewDBAndMigrate(t *testing.T) {
	db := newTestDB(t)

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM migrations").Scan(&count); err != nil {
		t.Fatalf("failed to query migrations: %v", err)
	}
	if count != len(migrations) {
		t.Fatalf("expected %d migrations, got %d", len(migrations), count)
	}

	if err := db.Migrate(); err != nil {
		t.Fatalf("second migrate should be a no-op: %v", err)
	}
}

func TestJournalRecordsRunLifecycle(t *testing.T) {
	journal := NewJournal(newTestDB(t))
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := journal.StartRun("run-1", "booting", start); err != nil {
		t.Fatalf("start run failed: %v", err)
	}
	for i, phase := range []string{"preparing_env", "updating", "starting", "running"} {
		if err := journal.RecordPhase("run-1", phase, "", start.Add(time.Duration(i+1)*time.Second)); err != nil {
			t.Fatalf("record phase failed: %v", err)
		}
	}
	if err := journal.SetEnvironment("run-1", `{"compat_runtime":"/usr/bin/wine64"}`, true); err != nil {
		t.Fatalf("set environment failed: %v", err)
	}
	if err := journal.SetPID("run-1", 4242); err != nil {
		t.Fatalf("set pid failed: %v", err)
	}
	if err := journal.FinishRun("run-1", "signal", 0, "", start.Add(time.Minute)); err != nil {
		t.Fatalf("finish run failed: %v", err)
	}

	runs, err := journal.RecentRuns(5)
	if err != nil {
		t.Fatalf("recent runs failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected one run, got %d", len(runs))
	}
	run := runs[0]
	if run.Phase != "running" || run.PID != 4242 || run.ExitReason != "signal" || !run.UpdateSkipped {
		t.Fatalf("unexpected run %+v", run)
	}
	if run.ExitCode == nil || *run.ExitCode != 0 || run.FinishedAt == nil {
		t.Fatalf("expected finished run with exit code 0, got %+v", run)
	}

	events, err := journal.Events("run-1")
	if err != nil {
		t.Fatalf("events failed: %v", err)
	}
	if len(events) != 5 || events[0].Phase != "booting" || events[4].Phase != "running" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestJournalUnfinishedRun(t *testing.T) {
	journal := NewJournal(newTestDB(t))

	if err := journal.StartRun("run-2", "booting", time.Now()); err != nil {
		t.Fatalf("start run failed: %v", err)
	}
	runs, err := journal.RecentRuns(0)
	if err != nil {
		t.Fatalf("recent runs failed: %v", err)
	}
	if len(runs) != 1 || runs[0].FinishedAt != nil || runs[0].ExitCode != nil {
		t.Fatalf("expected an open run, got %+v", runs)
	}
}

func TestOpenJournalClosesInterruptedRuns(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")

	journal, err := OpenJournal(dbPath)
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	if err := journal.StartRun("killed", "running", time.Now()); err != nil {
		t.Fatalf("start run failed: %v", err)
	}
	if err := journal.StartRun("clean", "booting", time.Now()); err != nil {
		t.Fatalf("start run failed: %v", err)
	}
	if err := journal.FinishRun("clean", "signal", 0, "", time.Now()); err != nil {
		t.Fatalf("finish run failed: %v", err)
	}
	if err := journal.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	journal, err = OpenJournal(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen journal: %v", err)
	}
	defer journal.Close()

	closed, err := journal.CloseInterruptedRuns(time.Now())
	if err != nil {
		t.Fatalf("close interrupted runs failed: %v", err)
	}
	if closed != 1 {
		t.Fatalf("expected 1 interrupted run, got %d", closed)
	}
	runs, err := journal.RecentRuns(0)
	if err != nil {
		t.Fatalf("recent runs failed: %v", err)
	}
	for _, run := range runs {
		if run.FinishedAt == nil {
			t.Fatalf("run %s left open", run.ID)
		}
		if run.ID == "killed" && run.ExitReason != "interrupted" {
			t.Fatalf("unexpected reason for killed run: %q", run.ExitReason)
		}
		if run.ID == "clean" && run.ExitReason != "signal" {
			t.Fatalf("finished run was rewritten: %q", run.ExitReason)
		}
	}
}

func TestJournalDSNAppliesPragmas(t *testing.T) {
	dsn, err := journalDSN("/var/lib/supervisor/journal.db")
	if err != nil {
		t.Fatalf("dsn failed: %v", err)
	}
	if !strings.HasPrefix(dsn, "file:/var/lib/supervisor/journal.db?") {
		t.Fatalf("unexpected dsn: %s", dsn)
	}
	for _, pragma := range journalPragmas {
		if !strings.Contains(dsn, "_pragma="+pragma) {
			t.Fatalf("missing pragma %s in %s", pragma, dsn)
		}
	}
}
