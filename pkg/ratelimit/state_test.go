package ratelimit

import (
	"testing"
	"time"
)

func TestQuotaState_IsLow(t *testing.T) {
	tests := []struct {
		name      string
		remaining int
		expected  bool
	}{
		{name: "plenty left", remaining: 100, expected: false},
		{name: "at threshold", remaining: RemainingThresholdLow, expected: false},
		{name: "just below threshold", remaining: RemainingThresholdLow - 1, expected: true},
		{name: "exhausted", remaining: 0, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &QuotaState{Remaining: tt.remaining}
			if got := s.IsLow(); got != tt.expected {
				t.Errorf("IsLow() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestQuotaState_TimeUntilReset(t *testing.T) {
	if d := (&QuotaState{}).TimeUntilReset(); d != 0 {
		t.Errorf("TimeUntilReset() with unknown reset = %v, want 0", d)
	}
	if d := (&QuotaState{ResetAt: time.Now().Add(-time.Minute)}).TimeUntilReset(); d != 0 {
		t.Errorf("TimeUntilReset() in the past = %v, want 0", d)
	}
	d := (&QuotaState{ResetAt: time.Now().Add(30 * time.Second)}).TimeUntilReset()
	if d < 29*time.Second || d > 30*time.Second {
		t.Errorf("TimeUntilReset() = %v, want ~30s", d)
	}
}

func TestQuotaState_UpdateHealth(t *testing.T) {
	s := &QuotaState{Remaining: RemainingThresholdHealthy}
	s.UpdateHealth()
	if !s.IsHealthy {
		t.Error("expected healthy at threshold")
	}

	s.Remaining = RemainingThresholdHealthy - 1
	s.UpdateHealth()
	if s.IsHealthy {
		t.Error("expected unhealthy below threshold")
	}
}
