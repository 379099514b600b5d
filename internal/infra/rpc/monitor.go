package rpc

import (
	"strings"
	"sync"
	"time"
)

// Status is the health state of the backend as seen by the client.
type Status int

const (
	StatusHealthy   Status = iota // working normally
	StatusDegraded                // slow but working
	StatusThrottled               // rate limiting us
	StatusBlocked                 // rejecting us (403)
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusThrottled:
		return "throttled"
	case StatusBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// MonitorStats holds monitoring statistics.
type MonitorStats struct {
	Status            string        `json:"status"`
	AverageLatency    time.Duration `json:"average_latency"`
	ThrottleCount429  int           `json:"throttle_count_429"`
	ThrottleCount403  int           `json:"throttle_count_403"`
	RequestsLastHour  int           `json:"requests_last_hour"`
	RetryAfter        time.Duration `json:"retry_after"`
	LastThrottledTime time.Time     `json:"last_throttled_time"`
}

// Monitor tracks latency and throttling responses from the backend.
type Monitor struct {
	mu  sync.RWMutex
	now func() time.Time

	recentLatencies  []time.Duration
	maxLatencyWindow int

	status429Count   int
	status403Count   int
	throttlePatterns []string
	lastThrottleTime time.Time
	throttledFor     time.Duration
	lastThrottleCode int

	requestTimestamps []time.Time
	windowDuration    time.Duration

	slowResponseThreshold time.Duration
}

// Default backoff hints when the backend gives none.
const (
	defaultRateLimitBackoff = time.Minute
	blockedBackoff          = 10 * time.Minute
)

// NewMonitor creates a monitor with default settings.
func NewMonitor() *Monitor {
	return &Monitor{
		now:              time.Now,
		recentLatencies:  make([]time.Duration, 0, 100),
		maxLatencyWindow: 100,
		throttlePatterns: []string{
			"rate limit exceeded",
			"too many requests",
			"daily request count exceeded",
			"project rate limit",
			"monthly quota exceeded",
			"request limit reached",
		},
		windowDuration:        time.Hour,
		slowResponseThreshold: 3 * time.Second,
	}
}

// RecordRequest records a successful request with its latency.
func (m *Monitor) RecordRequest(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	m.recentLatencies = append(m.recentLatencies, latency)
	if len(m.recentLatencies) > m.maxLatencyWindow {
		m.recentLatencies = m.recentLatencies[1:]
	}

	m.requestTimestamps = append(m.requestTimestamps, now)
	cutoff := now.Add(-m.windowDuration)
	i := 0
	for i < len(m.requestTimestamps) && !m.requestTimestamps[i].After(cutoff) {
		i++
	}
	m.requestTimestamps = m.requestTimestamps[i:]
}

// RecordThrottle records a rate limiting (429) or blocking (403) response
// and returns the backoff hint to use. retryAfter is the backend's own
// hint, zero when absent.
func (m *Monitor) RecordThrottle(statusCode int, retryAfter time.Duration) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastThrottleTime = m.now()
	m.lastThrottleCode = statusCode

	switch statusCode {
	case 403:
		m.status403Count++
		if retryAfter < blockedBackoff {
			retryAfter = blockedBackoff
		}
	default:
		m.status429Count++
		if retryAfter <= 0 {
			retryAfter = defaultRateLimitBackoff
		}
	}
	m.throttledFor = retryAfter
	return retryAfter
}

// DetectThrottlePattern checks if a message contains a throttle phrase.
func (m *Monitor) DetectThrottlePattern(message string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lowerMsg := strings.ToLower(message)
	for _, pattern := range m.throttlePatterns {
		if strings.Contains(lowerMsg, pattern) {
			return true
		}
	}
	return false
}

// CheckStatus returns the current status of the backend.
func (m *Monitor) CheckStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusLocked()
}

func (m *Monitor) statusLocked() Status {
	if m.throttledFor > 0 && m.now().Sub(m.lastThrottleTime) < m.throttledFor {
		if m.lastThrottleCode == 403 {
			return StatusBlocked
		}
		return StatusThrottled
	}

	if len(m.recentLatencies) > 10 && m.averageLatencyLocked() > m.slowResponseThreshold {
		return StatusDegraded
	}
	return StatusHealthy
}

// RetryAfter returns the remaining time before the backend should be called
// again.
func (m *Monitor) RetryAfter() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.retryAfterLocked()
}

func (m *Monitor) retryAfterLocked() time.Duration {
	if m.throttledFor <= 0 {
		return 0
	}
	if remaining := m.throttledFor - m.now().Sub(m.lastThrottleTime); remaining > 0 {
		return remaining
	}
	return 0
}

func (m *Monitor) averageLatencyLocked() time.Duration {
	if len(m.recentLatencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, lat := range m.recentLatencies {
		total += lat
	}
	return total / time.Duration(len(m.recentLatencies))
}

// Stats returns current monitoring statistics.
func (m *Monitor) Stats() MonitorStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := m.now().Add(-m.windowDuration)
	count := 0
	for _, t := range m.requestTimestamps {
		if t.After(cutoff) {
			count++
		}
	}

	return MonitorStats{
		Status:            m.statusLocked().String(),
		AverageLatency:    m.averageLatencyLocked(),
		ThrottleCount429:  m.status429Count,
		ThrottleCount403:  m.status403Count,
		RequestsLastHour:  count,
		RetryAfter:        m.retryAfterLocked(),
		LastThrottledTime: m.lastThrottleTime,
	}
}
