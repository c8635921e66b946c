package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "dirigent/pkg/logx"
)

// setupSignal is a one-shot broadcast of a task's setup outcome.
//
// fail/ready may race during shutdown; the first call wins. The err write
// happens-before close(done), so waiters may read err after the channel
// closes without further synchronization.
type setupSignal struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newSetupSignal() *setupSignal {
	return &setupSignal{done: make(chan struct{})}
}

func (s *setupSignal) ready() {
	s.once.Do(func() { close(s.done) })
}

func (s *setupSignal) fail(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

// taskEntry is the runtime's bookkeeping for one registered task.
type taskEntry struct {
	id      string
	name    string
	task    SupervisedTask
	deps    []string
	policy  RestartPolicy
	backoff Backoff
	signal  *setupSignal

	result atomic.Pointer[SupervisionResult]
}

func newTaskEntry(t SupervisedTask) *taskEntry {
	return &taskEntry{
		id:      t.TaskID(),
		name:    displayName(t),
		task:    t,
		deps:    append([]string(nil), t.Dependencies()...),
		policy:  t.RestartPolicy(),
		backoff: t.Backoff(),
		signal:  newSetupSignal(),
	}
}

// supervise drives one task from WaitDeps through its attempt loop to a
// terminal status. It runs on its own goroutine and returns exactly one
// result.
func (r *Runtime) supervise(ctx context.Context, e *taskEntry) SupervisionResult {
	log := r.log.With(logx.String("task", e.id))

	finish := func(attempts int, st SupervisionStatus) SupervisionResult {
		if attempts < 1 {
			attempts = 1
		}
		res := SupervisionResult{
			TaskID:        e.id,
			TaskName:      e.name,
			TotalAttempts: attempts,
			FinalStatus:   st,
		}
		e.result.Store(&res)
		return res
	}

	// WaitDeps. Order does not matter for correctness: every dependency must
	// fire before setup, and a single failure is terminal.
	for _, dep := range e.deps {
		sig := r.signals[dep]
		select {
		case <-ctx.Done():
			// Unblock dependents before reporting.
			e.signal.fail(&RuntimeFailureError{Detail: "shutdown before setup"})
			r.swallowPanics(log, "on_shutdown", func() { e.task.OnShutdown(ctx) })
			return finish(1, ManuallyStopped)
		case <-sig.done:
			if sig.err != nil {
				log.Warn("dependency failed, task will not run",
					logx.String("dependency", dep), logx.Err(sig.err))
				e.signal.fail(&DependencySetupFailedError{TaskID: e.id, DependencyID: dep})
				return finish(1, DependencyFailed)
			}
		}
	}

	if ctx.Err() != nil {
		e.signal.fail(&RuntimeFailureError{Detail: "shutdown before setup"})
		r.swallowPanics(log, "on_shutdown", func() { e.task.OnShutdown(ctx) })
		return finish(1, ManuallyStopped)
	}

	// Setup. From here on cleanup must run exactly once.
	if err := r.runSetup(ctx, e); err != nil {
		log.Error("setup failed", logx.Err(err))
		e.signal.fail(&SetupFailedError{TaskID: e.id, Cause: err})
		r.runCleanup(ctx, e, log)
		return finish(1, SetupFailed)
	}
	e.signal.ready()
	log.Info("task started", logx.String("name", e.name))

	attempt := 1
	for {
		err, pan, stack := func() (err error, pan any, stack string) {
			defer func() {
				if rec := recover(); rec != nil {
					pan = rec
					stack = string(debug.Stack())
				}
			}()
			err = e.task.Run(ctx)
			return
		}()

		if ctx.Err() != nil {
			r.swallowPanics(log, "on_shutdown", func() { e.task.OnShutdown(ctx) })
			r.runCleanup(ctx, e, log)
			return finish(attempt, ManuallyStopped)
		}

		var failMsg string
		switch {
		case pan != nil:
			failMsg = fmt.Sprint(pan)
			log.Error("task panicked",
				logx.Int("attempt", attempt),
				logx.String("panic", failMsg),
				logx.Stack(stack))
			r.swallowPanics(log, "on_panic", func() { e.task.OnPanic(ctx, failMsg, attempt) })
		case err != nil:
			failMsg = err.Error()
			log.Error("task failed", logx.Int("attempt", attempt), logx.Err(err))
			r.swallowPanics(log, "on_error", func() { e.task.OnError(ctx, err, attempt) })
		default:
			log.Info("task completed", logx.Int("attempts", attempt))
			r.runCleanup(ctx, e, log)
			return finish(attempt, CompletedNormally)
		}

		// Restart decision: policy first, then the task's own veto.
		if !e.policy.allowsAnother(attempt) {
			r.runCleanup(ctx, e, log)
			return finish(attempt, MaxAttemptsReached)
		}
		allowed := true
		r.swallowPanics(log, "should_restart", func() {
			allowed = e.task.ShouldRestart(attempt, failMsg)
		})
		if !allowed {
			log.Info("restart prevented", logx.Int("attempt", attempt))
			r.runCleanup(ctx, e, log)
			return finish(attempt, RestartPrevented)
		}

		delay := e.backoff.Delay(attempt)
		log.Warn("task restarting",
			logx.Int("attempt", attempt),
			logx.Duration("backoff", delay))
		select {
		case <-ctx.Done():
			r.swallowPanics(log, "on_shutdown", func() { e.task.OnShutdown(ctx) })
			r.runCleanup(ctx, e, log)
			return finish(attempt, ManuallyStopped)
		case <-time.After(delay):
		}

		attempt++
		r.swallowPanics(log, "on_restart", func() { e.task.OnRestart(ctx, attempt) })
	}
}

// runSetup invokes the setup hook; a panic inside it counts as a setup error.
func (r *Runtime) runSetup(ctx context.Context, e *taskEntry) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &SetupFailedError{TaskID: e.id, Cause: fmt.Errorf("panic: %v", rec)}
		}
	}()
	return e.task.Setup(ctx)
}

// runCleanup invokes the cleanup hook exactly once per task. It is detached
// from cancellation so shutdown does not abort resource release. Errors and
// panics are logged, never propagated.
func (r *Runtime) runCleanup(ctx context.Context, e *taskEntry, log logx.Logger) {
	cctx := context.WithoutCancel(ctx)
	var err error
	r.swallowPanics(log, "cleanup", func() { err = e.task.Cleanup(cctx) })
	if err != nil {
		log.Warn("cleanup failed", logx.Err(err))
	}
}

func (r *Runtime) swallowPanics(log logx.Logger, hook string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Warn("hook panicked",
				logx.String("hook", hook),
				logx.Any("panic", rec),
				logx.Stack(string(debug.Stack())))
		}
	}()
	fn()
}
