// Package supervisor runs long-lived tasks under restart policies.
//
// # Overview
//
// A Runtime owns a fleet of SupervisedTasks. Each task declares an id,
// optional dependency ids, a restart policy, a backoff strategy, and
// lifecycle hooks. At StartAll the runtime validates the dependency graph
// (unknown ids, self-loops, cycles), runs the registered prerequisites
// sequentially, and then spawns one driver goroutine per task.
//
// # Per-task lifecycle
//
// A driver waits for every declared dependency to broadcast a successful
// setup, runs the task's own setup, then enters the attempt loop. A failed
// or panicked attempt consults the restart policy, the ShouldRestart hook,
// and the backoff strategy before the next attempt. Cleanup runs exactly
// once after the terminal state, iff setup was invoked.
//
// # Failure semantics
//
// A setup failure is broadcast to dependents, which terminate with
// DependencyFailed without ever running and cascade the failure further
// down. Panics in Run are captured and handled like failed attempts; panics
// in hooks are swallowed and logged. Shutdown cancels every driver at its
// next cancellable point and waits for all terminal results.
package supervisor
