package supervisor

import (
	"testing"
	"time"
)

func TestCalculateBackoff(t *testing.T) {
	b := DefaultBackoff()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{60, 30 * time.Second},
	}

	for _, tt := range tests {
		got := b.CalculateBackoff(tt.attempt)
		if got != tt.want {
			t.Errorf("CalculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoff_Normalized(t *testing.T) {
	tests := []struct {
		name string
		in   Backoff
		want Backoff
	}{
		{
			name: "zero value gets defaults",
			in:   Backoff{},
			want: Backoff{BaseDelay: time.Second, MaxDelay: time.Second, MinDelay: time.Second, MaxAttempts: 5},
		},
		{
			name: "base below floor is raised",
			in:   Backoff{BaseDelay: time.Millisecond, MaxDelay: time.Minute, MinDelay: 500 * time.Millisecond, MaxAttempts: 3},
			want: Backoff{BaseDelay: 500 * time.Millisecond, MaxDelay: time.Minute, MinDelay: 500 * time.Millisecond, MaxAttempts: 3},
		},
		{
			name: "cap below base is raised",
			in:   Backoff{BaseDelay: 10 * time.Second, MaxDelay: time.Second, MinDelay: time.Second, MaxAttempts: 2},
			want: Backoff{BaseDelay: 10 * time.Second, MaxDelay: 10 * time.Second, MinDelay: time.Second, MaxAttempts: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Normalized(); got != tt.want {
				t.Errorf("Normalized() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestBackoff_FloorEnforced(t *testing.T) {
	b := Backoff{BaseDelay: -5 * time.Second, MaxDelay: -1, MinDelay: -1}
	for attempt := 1; attempt <= 10; attempt++ {
		if d := b.CalculateBackoff(attempt); d < DefaultMinDelay {
			t.Errorf("attempt %d: delay %v below floor", attempt, d)
		}
	}
}

func TestBackoff_Exhausted(t *testing.T) {
	b := Backoff{MaxAttempts: 3}
	if b.Exhausted(3) {
		t.Error("attempt 3 of 3 should be allowed")
	}
	if !b.Exhausted(4) {
		t.Error("attempt 4 of 3 should be exhausted")
	}
}
