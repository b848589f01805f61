package database

// Migration represents a database migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// migrations contains all database migrations in order
var migrations = []Migration{
	{
		Version: "001_runs",
		Up: `
-- One row per supervisor boot
CREATE TABLE runs (
    id TEXT PRIMARY KEY,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    phase TEXT NOT NULL,                -- 'booting', 'preparing_env', 'updating', 'starting', 'running', 'shutting_down', 'stopped'
    pid INTEGER NOT NULL DEFAULT 0,     -- Game process ID once launched
    exit_reason TEXT NOT NULL DEFAULT '',  -- 'signal', 'schedule', 'game_exit', 'fatal'
    exit_code INTEGER,
    error_message TEXT NOT NULL DEFAULT ''
);

CREATE INDEX idx_runs_started ON runs(started_at DESC);

-- Phase transitions within a run
CREATE TABLE phase_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    phase TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT '',
    occurred_at DATETIME NOT NULL,
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE INDEX idx_phase_events_run ON phase_events(run_id, occurred_at);
`,
		Down: `
DROP TABLE IF EXISTS phase_events;
DROP TABLE IF EXISTS runs;
`,
	},
	{
		Version: "002_run_environment",
		Up: `
ALTER TABLE runs ADD COLUMN environment TEXT NOT NULL DEFAULT '{}';  -- Resolved tool paths as JSON
ALTER TABLE runs ADD COLUMN update_skipped BOOLEAN NOT NULL DEFAULT 0;
`,
		Down: `
ALTER TABLE runs DROP COLUMN update_skipped;
ALTER TABLE runs DROP COLUMN environment;
`,
	},
}
