package supervisor

import "context"

// SupervisedTask is the contract every supervised task implements.
//
// Run is the only behavioral requirement; everything else has a default via
// TaskBase. Identity is TaskID(): the runtime rejects duplicates at
// registration.
//
// Hooks are invoked by the task's driver goroutine, never concurrently with
// Run. A panic inside a hook is swallowed and logged; a panic inside Run is
// captured and handled like a failed attempt.
type SupervisedTask interface {
	// TaskID returns the canonical, unique identifier.
	TaskID() string

	// Name returns a human-readable name. Empty means "use TaskID()".
	Name() string

	// Dependencies lists task ids whose setup must succeed before this
	// task's own setup runs.
	Dependencies() []string

	// RestartPolicy selects whether failed attempts are retried.
	RestartPolicy() RestartPolicy

	// Backoff selects the delay between attempts.
	Backoff() Backoff

	// Setup runs once before the first attempt.
	Setup(ctx context.Context) error

	// Cleanup runs exactly once after the terminal state, iff Setup was
	// invoked. Its error is logged, never propagated.
	Cleanup(ctx context.Context) error

	// OnRestart fires before each attempt after the first; attempt is the
	// number of the attempt about to run.
	OnRestart(ctx context.Context, attempt int)

	// OnError fires after an attempt returns a non-nil error.
	OnError(ctx context.Context, err error, attempt int)

	// OnPanic fires after an attempt panics; msg is the rendered payload.
	OnPanic(ctx context.Context, msg string, attempt int)

	// ShouldRestart may veto a restart the policy would otherwise allow.
	ShouldRestart(attempt int, msg string) bool

	// OnShutdown fires when the task is stopped by runtime shutdown.
	OnShutdown(ctx context.Context)

	// Run is the task body. Attempt numbering starts at 1.
	Run(ctx context.Context) error
}

// TaskBase provides default implementations for everything but TaskID and
// Run. Embed it and override what you need.
type TaskBase struct{}

func (TaskBase) Name() string                                   { return "" }
func (TaskBase) Dependencies() []string                         { return nil }
func (TaskBase) RestartPolicy() RestartPolicy                   { return RestartAlways() }
func (TaskBase) Backoff() Backoff                               { return Backoff{} }
func (TaskBase) Setup(context.Context) error                    { return nil }
func (TaskBase) Cleanup(context.Context) error                  { return nil }
func (TaskBase) OnRestart(context.Context, int)                 {}
func (TaskBase) OnError(context.Context, error, int)            {}
func (TaskBase) OnPanic(context.Context, string, int)           {}
func (TaskBase) ShouldRestart(int, string) bool                 { return true }
func (TaskBase) OnShutdown(context.Context)                     {}

// FuncTask adapts a plain function into a SupervisedTask.
type FuncTask struct {
	TaskBase

	id      string
	name    string
	deps    []string
	policy  RestartPolicy
	backoff Backoff
	run     func(ctx context.Context) error

	setup         func(ctx context.Context) error
	cleanup       func(ctx context.Context) error
	onRestart     func(ctx context.Context, attempt int)
	onError       func(ctx context.Context, err error, attempt int)
	onPanic       func(ctx context.Context, msg string, attempt int)
	shouldRestart func(attempt int, msg string) bool
	onShutdown    func(ctx context.Context)
}

// FuncOption configures a FuncTask.
type FuncOption func(*FuncTask)

func WithName(name string) FuncOption {
	return func(t *FuncTask) { t.name = name }
}

func WithDependencies(ids ...string) FuncOption {
	return func(t *FuncTask) { t.deps = append([]string(nil), ids...) }
}

func WithRestartPolicy(p RestartPolicy) FuncOption {
	return func(t *FuncTask) { t.policy = p }
}

func WithBackoff(b Backoff) FuncOption {
	return func(t *FuncTask) { t.backoff = b }
}

func WithSetup(fn func(ctx context.Context) error) FuncOption {
	return func(t *FuncTask) { t.setup = fn }
}

func WithCleanup(fn func(ctx context.Context) error) FuncOption {
	return func(t *FuncTask) { t.cleanup = fn }
}

func WithOnRestart(fn func(ctx context.Context, attempt int)) FuncOption {
	return func(t *FuncTask) { t.onRestart = fn }
}

func WithOnError(fn func(ctx context.Context, err error, attempt int)) FuncOption {
	return func(t *FuncTask) { t.onError = fn }
}

func WithOnPanic(fn func(ctx context.Context, msg string, attempt int)) FuncOption {
	return func(t *FuncTask) { t.onPanic = fn }
}

func WithShouldRestart(fn func(attempt int, msg string) bool) FuncOption {
	return func(t *FuncTask) { t.shouldRestart = fn }
}

func WithOnShutdown(fn func(ctx context.Context)) FuncOption {
	return func(t *FuncTask) { t.onShutdown = fn }
}

// NewFuncTask builds a task from an id and a run function.
func NewFuncTask(id string, run func(ctx context.Context) error, opts ...FuncOption) *FuncTask {
	t := &FuncTask{id: id, run: run}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *FuncTask) TaskID() string               { return t.id }
func (t *FuncTask) Name() string                 { return t.name }
func (t *FuncTask) Dependencies() []string       { return t.deps }
func (t *FuncTask) RestartPolicy() RestartPolicy { return t.policy }
func (t *FuncTask) Backoff() Backoff             { return t.backoff }

func (t *FuncTask) Run(ctx context.Context) error {
	if t.run == nil {
		return nil
	}
	return t.run(ctx)
}

func (t *FuncTask) Setup(ctx context.Context) error {
	if t.setup == nil {
		return nil
	}
	return t.setup(ctx)
}

func (t *FuncTask) Cleanup(ctx context.Context) error {
	if t.cleanup == nil {
		return nil
	}
	return t.cleanup(ctx)
}

func (t *FuncTask) OnRestart(ctx context.Context, attempt int) {
	if t.onRestart != nil {
		t.onRestart(ctx, attempt)
	}
}

func (t *FuncTask) OnError(ctx context.Context, err error, attempt int) {
	if t.onError != nil {
		t.onError(ctx, err, attempt)
	}
}

func (t *FuncTask) OnPanic(ctx context.Context, msg string, attempt int) {
	if t.onPanic != nil {
		t.onPanic(ctx, msg, attempt)
	}
}

func (t *FuncTask) ShouldRestart(attempt int, msg string) bool {
	if t.shouldRestart == nil {
		return true
	}
	return t.shouldRestart(attempt, msg)
}

func (t *FuncTask) OnShutdown(ctx context.Context) {
	if t.onShutdown != nil {
		t.onShutdown(ctx)
	}
}

// displayName resolves the name/id defaulting rule in one place.
func displayName(t SupervisedTask) string {
	if n := t.Name(); n != "" {
		return n
	}
	return t.TaskID()
}
