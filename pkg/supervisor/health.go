package supervisor

import "context"

// HealthState is the coarse health of one supervised task.
type HealthState int

const (
	StateHealthy HealthState = iota
	StateDegraded
	StateUnhealthy
)

func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// HealthStatus pairs a state with an optional reason.
type HealthStatus struct {
	State  HealthState `json:"state"`
	Reason string      `json:"reason,omitempty"`
}

func Healthy() HealthStatus                { return HealthStatus{State: StateHealthy} }
func Degraded(reason string) HealthStatus  { return HealthStatus{State: StateDegraded, Reason: reason} }
func Unhealthy(reason string) HealthStatus { return HealthStatus{State: StateUnhealthy, Reason: reason} }

// HealthChecker is optionally implemented by tasks that can self-report.
type HealthChecker interface {
	HealthCheck(ctx context.Context) HealthStatus
}

// Health reports per-task health for the whole fleet.
//
// Terminal tasks report from their final status; running tasks that
// implement HealthChecker are asked, all others count as healthy.
func (r *Runtime) Health(ctx context.Context) map[string]HealthStatus {
	r.mu.Lock()
	entries := append([]*taskEntry(nil), r.entries...)
	r.mu.Unlock()

	out := make(map[string]HealthStatus, len(entries))
	for _, e := range entries {
		if res := e.result.Load(); res != nil {
			if res.FinalStatus.Failure() {
				out[e.id] = Unhealthy(res.FinalStatus.String())
			} else {
				out[e.id] = HealthStatus{State: StateHealthy, Reason: res.FinalStatus.String()}
			}
			continue
		}
		if hc, ok := e.task.(HealthChecker); ok {
			out[e.id] = hc.HealthCheck(ctx)
			continue
		}
		out[e.id] = Healthy()
	}
	return out
}
