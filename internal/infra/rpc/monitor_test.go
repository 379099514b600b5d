package rpc

import (
	"testing"
	"time"
)

func TestMonitor_ThrottleWindow(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMonitor()
	m.now = func() time.Time { return now }

	if got := m.RecordThrottle(429, 0); got != defaultRateLimitBackoff {
		t.Errorf("RecordThrottle(429, 0) = %v, want %v", got, defaultRateLimitBackoff)
	}
	if got := m.CheckStatus(); got != StatusThrottled {
		t.Errorf("CheckStatus() = %v, want throttled", got)
	}

	now = now.Add(30 * time.Second)
	if got := m.RetryAfter(); got != 30*time.Second {
		t.Errorf("RetryAfter() = %v, want 30s", got)
	}

	now = now.Add(31 * time.Second)
	if got := m.CheckStatus(); got != StatusHealthy {
		t.Errorf("CheckStatus() after window = %v, want healthy", got)
	}
}

func TestMonitor_Blocked(t *testing.T) {
	m := NewMonitor()
	if got := m.RecordThrottle(403, time.Second); got != blockedBackoff {
		t.Errorf("RecordThrottle(403) = %v, want %v", got, blockedBackoff)
	}
	if got := m.CheckStatus(); got != StatusBlocked {
		t.Errorf("CheckStatus() = %v, want blocked", got)
	}
	if got := m.Stats().ThrottleCount403; got != 1 {
		t.Errorf("ThrottleCount403 = %d, want 1", got)
	}
}

func TestMonitor_Degraded(t *testing.T) {
	m := NewMonitor()
	for i := 0; i < 11; i++ {
		m.RecordRequest(5 * time.Second)
	}
	if got := m.CheckStatus(); got != StatusDegraded {
		t.Errorf("CheckStatus() = %v, want degraded", got)
	}
}

func TestMonitor_RequestWindow(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMonitor()
	m.now = func() time.Time { return now }

	m.RecordRequest(100 * time.Millisecond)
	now = now.Add(2 * time.Hour)
	m.RecordRequest(100 * time.Millisecond)

	stats := m.Stats()
	if stats.RequestsLastHour != 1 {
		t.Errorf("RequestsLastHour = %d, want 1", stats.RequestsLastHour)
	}
	if stats.AverageLatency != 100*time.Millisecond {
		t.Errorf("AverageLatency = %v, want 100ms", stats.AverageLatency)
	}
}

func TestMonitor_DetectThrottlePattern(t *testing.T) {
	m := NewMonitor()
	tests := []struct {
		msg  string
		want bool
	}{
		{"Rate limit exceeded", true},
		{"Too Many Requests", true},
		{"execution reverted", false},
	}
	for _, tt := range tests {
		if got := m.DetectThrottlePattern(tt.msg); got != tt.want {
			t.Errorf("DetectThrottlePattern(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}
