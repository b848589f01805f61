package server

import (
	"log"
	"sync"
	"time"

	"github.com/yourusername/winegame-supervisor/internal/metrics"
)

// Phase is the supervisor's position in the boot sequence.
type Phase string

const (
	PhaseBooting      Phase = "booting"
	PhasePreparingEnv Phase = "preparing_env"
	PhaseUpdating     Phase = "updating"
	PhaseStarting     Phase = "starting"
	PhaseRunning      Phase = "running"
	PhaseShuttingDown Phase = "shutting_down"
	PhaseStopped      Phase = "stopped"
)

var phaseNames = []string{
	string(PhaseBooting),
	string(PhasePreparingEnv),
	string(PhaseUpdating),
	string(PhaseStarting),
	string(PhaseRunning),
	string(PhaseShuttingDown),
	string(PhaseStopped),
}

// Exit reasons recorded in the run journal.
const (
	ReasonSignal   = "signal"
	ReasonSchedule = "schedule"
	ReasonGameExit = "game_exit"
	ReasonFatal    = "fatal"
)

// Journal receives phase transitions and run outcomes.
// *database.Journal satisfies it.
type Journal interface {
	StartRun(runID, phase string, at time.Time) error
	RecordPhase(runID, phase, detail string, at time.Time) error
	SetPID(runID string, pid int) error
	SetEnvironment(runID, environment string, updateSkipped bool) error
	FinishRun(runID, reason string, exitCode int, errMsg string, at time.Time) error
}

// Snapshot is the externally visible supervisor state.
type Snapshot struct {
	RunID            string    `json:"run_id"`
	Phase            Phase     `json:"phase"`
	Since            time.Time `json:"since"`
	PID              int       `json:"pid,omitempty"`
	DisplayAvailable bool      `json:"display_available"`
	UpdateSkipped    bool      `json:"update_skipped"`
	LastError        string    `json:"last_error,omitempty"`
	ExitReason       string    `json:"exit_reason,omitempty"`
}

// Healthy reports whether the game server is up.
func (s Snapshot) Healthy() bool {
	return s.Phase == PhaseRunning && s.PID > 0
}

// StatusTracker publishes phase changes to the log, metrics and the journal,
// and serves the latest snapshot to the status API.
type StatusTracker struct {
	mu      sync.RWMutex
	snap    Snapshot
	journal Journal
	now     func() time.Time
}

// NewStatusTracker creates a tracker in the booting phase. journal may be nil.
func NewStatusTracker(runID string, journal Journal) *StatusTracker {
	t := &StatusTracker{journal: journal, now: time.Now}
	at := t.now()
	t.snap = Snapshot{RunID: runID, Phase: PhaseBooting, Since: at}
	metrics.SetPhase(string(PhaseBooting), phaseNames)
	if journal != nil {
		if err := journal.StartRun(runID, string(PhaseBooting), at); err != nil {
			log.Printf("[Status] Warning: Failed to record run start: %v", err)
		}
	}
	return t
}

// Enter moves to phase. detail is stored with the journal event.
func (t *StatusTracker) Enter(phase Phase, detail string) {
	at := t.now()

	t.mu.Lock()
	prev := t.snap.Phase
	t.snap.Phase = phase
	t.snap.Since = at
	runID := t.snap.RunID
	t.mu.Unlock()

	log.Printf("[Status] Phase %s -> %s", prev, phase)
	metrics.SetPhase(string(phase), phaseNames)
	if t.journal != nil {
		if err := t.journal.RecordPhase(runID, string(phase), detail, at); err != nil {
			log.Printf("[Status] Warning: Failed to record phase: %v", err)
		}
	}
}

// SetPID records the launched game process; 0 clears it.
func (t *StatusTracker) SetPID(pid int) {
	t.mu.Lock()
	t.snap.PID = pid
	runID := t.snap.RunID
	t.mu.Unlock()

	metrics.GameProcessUp.Set(metrics.BoolToFloat(pid > 0))
	if pid > 0 {
		metrics.GameStartTimestamp.Set(float64(t.now().Unix()))
		if t.journal != nil {
			if err := t.journal.SetPID(runID, pid); err != nil {
				log.Printf("[Status] Warning: Failed to record pid: %v", err)
			}
		}
	}
}

// SetDisplay records whether a virtual display is available.
func (t *StatusTracker) SetDisplay(available bool) {
	t.mu.Lock()
	t.snap.DisplayAvailable = available
	t.mu.Unlock()
	metrics.DisplayAvailable.Set(metrics.BoolToFloat(available))
}

// SetEnvironment stores the resolved environment in the journal.
func (t *StatusTracker) SetEnvironment(environment string, updateSkipped bool) {
	t.mu.Lock()
	t.snap.UpdateSkipped = updateSkipped
	runID := t.snap.RunID
	t.mu.Unlock()

	if t.journal != nil {
		if err := t.journal.SetEnvironment(runID, environment, updateSkipped); err != nil {
			log.Printf("[Status] Warning: Failed to record environment: %v", err)
		}
	}
}

// Fail records err as the last error.
func (t *StatusTracker) Fail(err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	t.snap.LastError = err.Error()
	t.mu.Unlock()
}

// Finish closes the run in the journal.
func (t *StatusTracker) Finish(reason string, exitCode int) {
	at := t.now()

	t.mu.Lock()
	t.snap.ExitReason = reason
	runID := t.snap.RunID
	errMsg := t.snap.LastError
	t.mu.Unlock()

	if t.journal != nil {
		if err := t.journal.FinishRun(runID, reason, exitCode, errMsg, at); err != nil {
			log.Printf("[Status] Warning: Failed to record run finish: %v", err)
		}
	}
}

// Snapshot returns a copy of the current state.
func (t *StatusTracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}
