package telemetry

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestHealthChecker_ProbeFailure(t *testing.T) {
	m := NewMetrics()
	h := NewHealthChecker(func(ctx context.Context) error {
		return errors.New("store unreachable")
	}, m, 50)

	status := h.Check(context.Background())
	if status.State != StateUnhealthy {
		t.Errorf("State = %v, want unhealthy", status.State)
	}
	if !strings.Contains(status.Reason, "store unreachable") {
		t.Errorf("expected the probe error in the reason, got %q", status.Reason)
	}
}

func TestHealthChecker_NoRequestsYet(t *testing.T) {
	m := NewMetrics()
	h := NewHealthChecker(func(ctx context.Context) error { return nil }, m, 50)

	status := h.Check(context.Background())
	if status.State != StateHealthy {
		t.Errorf("State = %v, want healthy", status.State)
	}
	if status.Reason == "" {
		t.Error("expected a note when no requests have been observed")
	}
}

func TestHealthChecker_Degraded(t *testing.T) {
	m := NewMetrics()
	m.RecordHit()
	m.RecordMiss()
	m.RecordMiss()
	m.RecordMiss() // 25% hit rate

	h := NewHealthChecker(func(ctx context.Context) error { return nil }, m, 50)

	status := h.Check(context.Background())
	if status.State != StateDegraded {
		t.Errorf("State = %v, want degraded", status.State)
	}
}

func TestHealthChecker_Healthy(t *testing.T) {
	m := NewMetrics()
	m.RecordHit()
	m.RecordHit()
	m.RecordHit()
	m.RecordMiss() // 75% hit rate

	h := NewHealthChecker(func(ctx context.Context) error { return nil }, m, 50)

	status := h.Check(context.Background())
	if status.State != StateHealthy {
		t.Errorf("State = %v, want healthy", status.State)
	}
	if status.Reason != "" {
		t.Errorf("expected no reason when healthy, got %q", status.Reason)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateHealthy, "healthy"},
		{StateDegraded, "degraded"},
		{StateUnhealthy, "unhealthy"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
