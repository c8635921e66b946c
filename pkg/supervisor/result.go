package supervisor

// SupervisionStatus is the terminal outcome of one supervised task.
type SupervisionStatus int

const (
	// CompletedNormally: the last attempt returned nil.
	CompletedNormally SupervisionStatus = iota
	// MaxAttemptsReached: the restart policy exhausted its attempts.
	MaxAttemptsReached
	// RestartPrevented: ShouldRestart vetoed a restart the policy allowed.
	RestartPrevented
	// SetupFailed: the task's own setup hook returned an error.
	SetupFailed
	// DependencyFailed: an upstream dependency never became ready.
	DependencyFailed
	// ManuallyStopped: runtime shutdown stopped the task.
	ManuallyStopped
)

func (s SupervisionStatus) String() string {
	switch s {
	case CompletedNormally:
		return "completed"
	case MaxAttemptsReached:
		return "max_attempts_reached"
	case RestartPrevented:
		return "restart_prevented"
	case SetupFailed:
		return "setup_failed"
	case DependencyFailed:
		return "dependency_failed"
	case ManuallyStopped:
		return "manually_stopped"
	default:
		return "unknown"
	}
}

// Failure reports whether the status represents a failing outcome.
func (s SupervisionStatus) Failure() bool {
	switch s {
	case MaxAttemptsReached, RestartPrevented, SetupFailed, DependencyFailed:
		return true
	default:
		return false
	}
}

// SupervisionResult is the structured report each driver emits exactly once.
type SupervisionResult struct {
	TaskID        string            `json:"task_id"`
	TaskName      string            `json:"task_name"`
	TotalAttempts int               `json:"total_attempts"`
	FinalStatus   SupervisionStatus `json:"final_status"`
}
