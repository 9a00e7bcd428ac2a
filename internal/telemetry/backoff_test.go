package telemetry

import (
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	delays := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second, // still capped
	}

	for i, want := range delays {
		got := backoffDelay(i, time.Second, 30*time.Second)
		if got != want {
			t.Errorf("backoffDelay(%d) = %v, want %v", i, got, want)
		}
	}
}

func TestBackoffDelayOverflowProtection(t *testing.T) {
	// Attempt=100 would cause 1<<100 overflow without the cap
	got := backoffDelay(100, time.Second, 30*time.Second)
	if got != 30*time.Second {
		t.Errorf("backoffDelay(100) = %v, want 30s (capped at max)", got)
	}

	got = backoffDelay(30, time.Hour, 2*time.Hour)
	if got != 2*time.Hour {
		t.Errorf("backoffDelay(30, 1h) = %v, want 2h", got)
	}
}

func TestBackoffDelayNegativeAttempt(t *testing.T) {
	if got := backoffDelay(-1, 10*time.Millisecond, time.Second); got != 10*time.Millisecond {
		t.Errorf("backoffDelay(-1) = %v, want base", got)
	}
}
