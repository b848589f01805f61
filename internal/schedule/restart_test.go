package schedule

import (
	"context"
	"testing"
	"time"
)

func TestNextRun(t *testing.T) {
	from := time.Date(2026, 5, 4, 3, 30, 0, 0, time.UTC)

	next, err := NextRun("0 4 * * *", from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 5, 4, 4, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	if err := Validate("every tuesday"); err == nil {
		t.Fatalf("expected invalid schedule error")
	}
	if err := Validate("@daily"); err != nil {
		t.Fatalf("expected descriptor to be accepted: %v", err)
	}
}

func TestEmptyTriggerNeverFires(t *testing.T) {
	trigger, err := NewRestartTrigger("", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	trigger.Start(ctx)

	select {
	case <-trigger.C():
		t.Fatalf("empty schedule must not fire")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTriggerFires(t *testing.T) {
	trigger, err := NewRestartTrigger("* * * * * *", time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	trigger.Start(ctx)

	select {
	case <-trigger.C():
	case <-time.After(3 * time.Second):
		t.Fatalf("expected per-second schedule to fire")
	}
}

func TestNewRestartTriggerInvalid(t *testing.T) {
	if _, err := NewRestartTrigger("61 * * * *", nil); err == nil {
		t.Fatalf("expected error for invalid minute")
	}
}
