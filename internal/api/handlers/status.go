package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yourusername/winegame-supervisor/internal/database"
	"github.com/yourusername/winegame-supervisor/internal/server"
)

// StatusSource provides the current supervisor state.
type StatusSource interface {
	Snapshot() server.Snapshot
}

// RunHistory lists past supervisor runs. *database.Journal satisfies it.
type RunHistory interface {
	RecentRuns(limit int) ([]database.Run, error)
	Events(runID string) ([]database.PhaseEvent, error)
}

// StatusHandler serves health, status and run history.
type StatusHandler struct {
	status StatusSource
	runs   RunHistory
}

// NewStatusHandler creates a handler. runs may be nil when no journal is configured.
func NewStatusHandler(status StatusSource, runs RunHistory) *StatusHandler {
	return &StatusHandler{status: status, runs: runs}
}

// Health returns 200 while the game server is running and 503 otherwise.
func (h *StatusHandler) Health(c *gin.Context) {
	snap := h.status.Snapshot()
	code := http.StatusOK
	state := "ok"
	if !snap.Healthy() {
		code = http.StatusServiceUnavailable
		state = "unavailable"
	}
	c.JSON(code, gin.H{
		"status": state,
		"phase":  snap.Phase,
	})
}

// Status returns the full supervisor snapshot.
func (h *StatusHandler) Status(c *gin.Context) {
	snap := h.status.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"run_id":            snap.RunID,
		"phase":             snap.Phase,
		"since":             snap.Since.UTC().Format(time.RFC3339),
		"pid":               snap.PID,
		"display_available": snap.DisplayAvailable,
		"update_skipped":    snap.UpdateSkipped,
		"last_error":        snap.LastError,
	})
}

// ListRuns returns the most recent runs from the journal.
func (h *StatusHandler) ListRuns(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run journal is not enabled"})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = parsed
	}

	runs, err := h.runs.RecentRuns(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// GetRunEvents returns the phase events of one run.
func (h *StatusHandler) GetRunEvents(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run journal is not enabled"})
		return
	}

	events, err := h.runs.Events(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load events"})
		return
	}
	if len(events) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// Metrics exposes the Prometheus registry.
func Metrics(c *gin.Context) {
	promhttp.Handler().ServeHTTP(c.Writer, c.Request)
}
