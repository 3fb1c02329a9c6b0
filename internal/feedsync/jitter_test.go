package feedsync

import (
	"testing"
	"time"
)

func TestClampJitterRatio(t *testing.T) {
	if got := ClampJitterRatio(-0.1); got != 0 {
		t.Fatalf("expected clamp to 0, got %f", got)
	}
	if got := ClampJitterRatio(1.5); got != 1 {
		t.Fatalf("expected clamp to 1, got %f", got)
	}
	if got := ClampJitterRatio(0.4); got != 0.4 {
		t.Fatalf("expected passthrough 0.4, got %f", got)
	}
}

func TestJitteredIntervalWithSample(t *testing.T) {
	base := 10 * time.Second
	if got := jitteredIntervalWithSample(base, 0, 0.2); got != base {
		t.Fatalf("expected no jitter interval %s, got %s", base, got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 0); got != 8*time.Second {
		t.Fatalf("expected min jitter interval 8s, got %s", got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 0.5); got != 10*time.Second {
		t.Fatalf("expected midpoint jitter interval 10s, got %s", got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 1); got != 12*time.Second {
		t.Fatalf("expected max jitter interval 12s, got %s", got)
	}
	if got := jitteredIntervalWithSample(0, 0.2, 1); got != 0 {
		t.Fatalf("expected zero base to stay zero, got %s", got)
	}
}

func TestJitteredIntervalNeverDropsBelowHalfBase(t *testing.T) {
	base := 10 * time.Second
	if got := jitteredIntervalWithSample(base, 1, 0); got != 5*time.Second {
		t.Fatalf("expected full jitter to floor at 5s, got %s", got)
	}
	if got := jitteredIntervalWithSample(base, 0.8, 0.1); got != 5*time.Second {
		t.Fatalf("expected floor at 5s, got %s", got)
	}
	if got := jitteredIntervalWithSample(base, 1, 1); got != 20*time.Second {
		t.Fatalf("expected full jitter ceiling 20s, got %s", got)
	}
	if got := jitteredIntervalWithSample(time.Millisecond, 1, 0); got != time.Millisecond {
		t.Fatalf("expected 1ms lower bound, got %s", got)
	}
}
