package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the game server supervisor
var (
	// Lifecycle metrics
	SupervisorPhase = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "winegame_supervisor_phase",
			Help: "Current supervisor phase (1 for the active phase, 0 otherwise)",
		},
		[]string{"phase"},
	)

	PhaseTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "winegame_supervisor_phase_transitions_total",
			Help: "Number of times each phase was entered",
		},
		[]string{"phase"},
	)

	GameProcessUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "winegame_server_up",
			Help: "Whether the game server process is running (1) or not (0)",
		},
	)

	GameStartTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "winegame_server_start_timestamp_seconds",
			Help: "Unix time the game server process was launched",
		},
	)

	// Readiness metrics
	UpdateDurationSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "winegame_update_duration_seconds",
			Help: "Duration of the last SteamCMD install or validate pass",
		},
	)

	PrefixInitFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "winegame_prefix_init_failures_total",
			Help: "Wine prefix initializations that did not succeed",
		},
	)

	DisplayAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "winegame_display_available",
			Help: "Whether a virtual display is available (1) or the supervisor runs degraded (0)",
		},
	)

	// Shutdown metrics
	ShutdownEscalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "winegame_shutdown_kill_escalations_total",
			Help: "Graceful shutdowns that had to fall back to SIGKILL",
		},
	)
)

// SetPhase marks phase as the only active phase among phases.
func SetPhase(phase string, phases []string) {
	for _, p := range phases {
		if p == phase {
			SupervisorPhase.WithLabelValues(p).Set(1)
		} else {
			SupervisorPhase.WithLabelValues(p).Set(0)
		}
	}
	PhaseTransitions.WithLabelValues(phase).Inc()
}

// BoolToFloat converts a flag into a gauge value.
func BoolToFloat(value bool) float64 {
	if value {
		return 1
	}
	return 0
}
