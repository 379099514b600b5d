// Package health provides system health monitoring and the service's HTTP
// surface.
package health

import (
	"context"

	"github.com/vietddude/txguard/internal/infra/rpc"
	"github.com/vietddude/txguard/internal/queue"
	"github.com/vietddude/txguard/internal/resilience/breaker"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// QueueHealth is the queue part of a report.
type QueueHealth struct {
	Name string `json:"name"`
	queue.Status
}

// RPCHealth is the backend part of a report.
type RPCHealth struct {
	Provider string           `json:"provider"`
	Health   rpc.HealthStatus `json:"health"`
	Monitor  rpc.MonitorStats `json:"monitor"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus      `json:"system_status"`
	Queue        *QueueHealth      `json:"queue,omitempty"`
	Breaker      *breaker.Snapshot `json:"breaker,omitempty"`
	RPC          *RPCHealth        `json:"rpc,omitempty"`
	Storage      string            `json:"storage,omitempty"`
}

// QueueSource is implemented by *queue.Queue.
type QueueSource interface {
	Name() string
	Status() queue.Status
}

// BreakerSource is implemented by *breaker.Breaker.
type BreakerSource interface {
	Snapshot() breaker.Snapshot
}

// RPCSource is implemented by *rpc.Client.
type RPCSource interface {
	Name() string
	Health() rpc.HealthStatus
	MonitorStats() rpc.MonitorStats
}

// Pinger checks a storage backend.
type Pinger interface {
	Health(ctx context.Context) error
}

// Monitor builds health reports. Nil sources are left out.
type Monitor struct {
	Queue   QueueSource
	Breaker BreakerSource
	RPC     RPCSource
	Storage Pinger
}

// CheckHealth builds a report; the worst component status wins.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	report := HealthReport{SystemStatus: StatusHealthy}
	raise := func(s SystemStatus) {
		if s == StatusCritical || (s == StatusDegraded && report.SystemStatus == StatusHealthy) {
			report.SystemStatus = s
		}
	}

	if m.Queue != nil {
		report.Queue = &QueueHealth{Name: m.Queue.Name(), Status: m.Queue.Status()}
	}

	if m.Breaker != nil {
		snap := m.Breaker.Snapshot()
		report.Breaker = &snap
		switch snap.State {
		case breaker.StateOpen:
			raise(StatusCritical)
		case breaker.StateHalfOpen:
			raise(StatusDegraded)
		}
	}

	if m.RPC != nil {
		r := &RPCHealth{
			Provider: m.RPC.Name(),
			Health:   m.RPC.Health(),
			Monitor:  m.RPC.MonitorStats(),
		}
		report.RPC = r
		if !r.Health.Available || r.Monitor.Status != rpc.StatusHealthy.String() {
			raise(StatusDegraded)
		}
	}

	if m.Storage != nil {
		if err := m.Storage.Health(ctx); err != nil {
			report.Storage = err.Error()
			raise(StatusDegraded)
		} else {
			report.Storage = "ok"
		}
	}

	return report
}
