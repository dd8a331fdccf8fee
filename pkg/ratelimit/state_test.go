package ratelimit

import (
	"testing"
	"time"
)

func TestState_Debt(t *testing.T) {
	tests := []struct {
		name      string
		available int
		inDebt    bool
		debt      int
	}{
		{name: "full bucket", available: 3, inDebt: false, debt: 0},
		{name: "empty bucket", available: 0, inDebt: false, debt: 0},
		{name: "one token owed", available: -1, inDebt: true, debt: 1},
		{name: "many tokens owed", available: -7, inDebt: true, debt: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := State{Available: tt.available}
			if s.InDebt() != tt.inDebt {
				t.Errorf("InDebt() = %v, want %v", s.InDebt(), tt.inDebt)
			}
			if s.Debt() != tt.debt {
				t.Errorf("Debt() = %d, want %d", s.Debt(), tt.debt)
			}
		})
	}
}

func TestState_TimeUntilSettled(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		state    State
		expected time.Duration
	}{
		{
			name:     "no debt",
			state:    State{Available: 1, Interval: 100 * time.Millisecond, ReplenishedAt: now},
			expected: 0,
		},
		{
			name:     "debt of two just after tick",
			state:    State{Available: -2, Interval: 100 * time.Millisecond, ReplenishedAt: now},
			expected: 200 * time.Millisecond,
		},
		{
			name:     "debt of one halfway to tick",
			state:    State{Available: -1, Interval: 100 * time.Millisecond, ReplenishedAt: now.Add(-50 * time.Millisecond)},
			expected: 50 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.TimeUntilSettled(now); got != tt.expected {
				t.Errorf("TimeUntilSettled() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_IsStale(t *testing.T) {
	now := time.Now()
	fresh := State{ReplenishedAt: now.Add(-time.Second)}
	stale := State{ReplenishedAt: now.Add(-10 * time.Minute)}

	if fresh.IsStale(now, time.Minute) {
		t.Error("Fresh state should not be stale")
	}
	if !stale.IsStale(now, time.Minute) {
		t.Error("Old state should be stale")
	}
}
