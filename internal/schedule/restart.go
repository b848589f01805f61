package schedule

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate reports whether spec is a usable cron expression.
func Validate(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid restart schedule %q: %w", spec, err)
	}
	return nil
}

// NextRun returns the first activation of spec after from.
func NextRun(spec string, from time.Time) (time.Time, error) {
	parsed, err := parser.Parse(spec)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.Next(from), nil
}

// RestartTrigger fires once when the restart schedule comes due. The
// supervisor treats it like a termination signal.
type RestartTrigger struct {
	spec string
	cron *cron.Cron
	fire chan time.Time
}

// NewRestartTrigger creates a trigger for spec. An empty spec yields a
// trigger whose channel never fires.
func NewRestartTrigger(spec string, loc *time.Location) (*RestartTrigger, error) {
	t := &RestartTrigger{spec: strings.TrimSpace(spec), fire: make(chan time.Time, 1)}
	if t.spec == "" {
		return t, nil
	}
	if loc == nil {
		loc = time.Local
	}

	t.cron = cron.New(cron.WithParser(parser), cron.WithLocation(loc))
	if _, err := t.cron.AddFunc(t.spec, t.trigger); err != nil {
		return nil, fmt.Errorf("invalid restart schedule %q: %w", t.spec, err)
	}
	return t, nil
}

// Start runs the scheduler until ctx is done.
func (t *RestartTrigger) Start(ctx context.Context) {
	if t.cron == nil {
		return
	}
	t.cron.Start()
	if next, err := NextRun(t.spec, time.Now()); err == nil {
		log.Printf("[RestartSchedule] Next scheduled restart at %s", next.Format(time.RFC3339))
	}
	go func() {
		<-ctx.Done()
		t.Stop()
	}()
}

// Stop halts the scheduler. Safe to call more than once.
func (t *RestartTrigger) Stop() {
	if t.cron == nil {
		return
	}
	t.cron.Stop()
}

// C delivers the time the restart came due.
func (t *RestartTrigger) C() <-chan time.Time {
	return t.fire
}

func (t *RestartTrigger) trigger() {
	log.Printf("[RestartSchedule] Scheduled restart is due")
	select {
	case t.fire <- time.Now():
	default:
	}
}
