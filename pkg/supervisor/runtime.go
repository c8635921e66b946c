package supervisor

import (
	"context"
	"strings"
	"sync"

	"dirigent/internal/eventbus"
	logx "dirigent/pkg/logx"
)

// Runtime owns a fleet of supervised tasks.
//
// Lifecycle: Register*/AddPrerequisite while idle, then StartAll once. After
// StartAll the registry is frozen. WaitAny/WaitAll collect results; Shutdown
// broadcasts cancellation and waits for every driver to report.
type Runtime struct {
	log logx.Logger
	bus eventbus.Bus

	mu          sync.Mutex
	entries     []*taskEntry
	byID        map[string]*taskEntry
	prereqs     []prerequisite
	prereqNames map[string]struct{}
	started     bool

	signals map[string]*setupSignal
	cancel  context.CancelFunc
	results chan SupervisionResult
	wg      sync.WaitGroup

	doneOnce sync.Once
	doneCh   chan struct{}

	collected []SupervisionResult
}

type prerequisite struct {
	name string
	fn   func(ctx context.Context) error
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithLogger sets the runtime logger. Default is a no-op logger.
func WithLogger(log logx.Logger) RuntimeOption {
	return func(r *Runtime) { r.log = log }
}

// WithBus publishes lifecycle events (eventbus.TypeTaskResult) to the bus.
func WithBus(bus eventbus.Bus) RuntimeOption {
	return func(r *Runtime) { r.bus = bus }
}

func NewRuntime(opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		log:         logx.Nop(),
		byID:        map[string]*taskEntry{},
		prereqNames: map[string]struct{}{},
		doneCh:      make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds a task to the registry. Duplicate ids fail fast; nothing is
// spawned until StartAll.
func (r *Runtime) Register(t SupervisedTask) error {
	if t == nil {
		return &InvalidConfigurationError{Detail: "nil task"}
	}
	id := t.TaskID()
	if strings.TrimSpace(id) == "" {
		return &InvalidConfigurationError{Detail: "empty task id"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return &InvalidConfigurationError{Detail: "registry frozen after StartAll"}
	}
	if _, ok := r.byID[id]; ok {
		return &DuplicateTaskIDError{ID: id}
	}
	e := newTaskEntry(t)
	r.byID[id] = e
	r.entries = append(r.entries, e)
	return nil
}

// RegisterMany registers tasks in order, stopping at the first error.
func (r *Runtime) RegisterMany(tasks ...SupervisedTask) error {
	for _, t := range tasks {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// RegisterFunc registers a FuncTask built from id and run.
func (r *Runtime) RegisterFunc(id string, run func(ctx context.Context) error, opts ...FuncOption) error {
	return r.Register(NewFuncTask(id, run, opts...))
}

// AddPrerequisite enqueues a named initializer run before any task spawns.
// Prerequisites run sequentially in registration order; duplicate names fail.
func (r *Runtime) AddPrerequisite(name string, fn func(ctx context.Context) error) error {
	if strings.TrimSpace(name) == "" {
		return &InvalidConfigurationError{Detail: "empty prerequisite name"}
	}
	if fn == nil {
		return &InvalidConfigurationError{Detail: "nil prerequisite " + name}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return &InvalidConfigurationError{Detail: "registry frozen after StartAll"}
	}
	if _, ok := r.prereqNames[name]; ok {
		return &InvalidConfigurationError{Detail: "duplicate prerequisite " + name}
	}
	r.prereqNames[name] = struct{}{}
	r.prereqs = append(r.prereqs, prerequisite{name: name, fn: fn})
	return nil
}

// TaskCount returns the number of registered tasks.
func (r *Runtime) TaskCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// StartAll validates the graph, runs prerequisites sequentially, then spawns
// one driver goroutine per task. On any error nothing has been spawned.
func (r *Runtime) StartAll(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return &InvalidConfigurationError{Detail: "runtime already started"}
	}
	entries := r.entries
	prereqs := r.prereqs
	r.mu.Unlock()

	order, err := validateGraph(entries)
	if err != nil {
		return err
	}
	if len(order) > 0 {
		r.log.Info("dependency graph validated",
			logx.Int("tasks", len(order)),
			logx.String("order", strings.Join(order, " -> ")))
	}

	for _, p := range prereqs {
		r.log.Info("running prerequisite", logx.String("name", p.name))
		if perr := p.fn(ctx); perr != nil {
			r.log.Error("prerequisite failed", logx.String("name", p.name), logx.Err(perr))
			return &PrerequisiteFailedError{Name: p.name, Cause: perr}
		}
	}

	runCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		cancel()
		return &InvalidConfigurationError{Detail: "runtime already started"}
	}
	r.started = true
	r.cancel = cancel
	r.signals = make(map[string]*setupSignal, len(entries))
	for _, e := range entries {
		r.signals[e.id] = e.signal
	}
	r.results = make(chan SupervisionResult, len(entries))
	r.mu.Unlock()

	for _, e := range entries {
		e := e
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			res := r.supervise(runCtx, e)
			if r.bus != nil {
				r.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskResult, Data: res})
			}
			r.results <- res
		}()
	}
	r.log.Info("fleet started", logx.Int("tasks", len(entries)))
	return nil
}

// WaitAny returns the next SupervisionResult to become available. Results
// are returned in completion order; each result is returned once.
func (r *Runtime) WaitAny(ctx context.Context) (SupervisionResult, error) {
	r.mu.Lock()
	started := r.started
	results := r.results
	total := len(r.entries)
	consumed := len(r.collected)
	r.mu.Unlock()

	if !started {
		return SupervisionResult{}, &InvalidConfigurationError{Detail: "runtime not started"}
	}
	if consumed >= total {
		return SupervisionResult{}, &RuntimeFailureError{Detail: "all results already consumed"}
	}

	select {
	case <-ctx.Done():
		return SupervisionResult{}, ctx.Err()
	case res := <-results:
		r.mu.Lock()
		r.collected = append(r.collected, res)
		r.mu.Unlock()
		return res, nil
	}
}

// WaitAll blocks until every task reported a terminal result and returns
// them in completion order.
func (r *Runtime) WaitAll(ctx context.Context) ([]SupervisionResult, error) {
	r.mu.Lock()
	started := r.started
	total := len(r.entries)
	r.mu.Unlock()
	if !started {
		return nil, &InvalidConfigurationError{Detail: "runtime not started"}
	}

	for {
		r.mu.Lock()
		done := len(r.collected) >= total
		out := append([]SupervisionResult(nil), r.collected...)
		r.mu.Unlock()
		if done {
			return out, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-r.results:
			r.mu.Lock()
			r.collected = append(r.collected, res)
			r.mu.Unlock()
		}
	}
}

// Shutdown broadcasts cancellation to every driver and waits until all of
// them reported a terminal result. Idempotent; the caller bounds the wait
// with ctx.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	started := r.started
	cancel := r.cancel
	r.mu.Unlock()
	if !started {
		return nil
	}

	if cancel != nil {
		cancel()
	}
	r.doneOnce.Do(func() {
		go func() {
			r.wg.Wait()
			close(r.doneCh)
		}()
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.doneCh:
		r.log.Info("fleet stopped")
		return nil
	}
}

// StartOne supervises a single task without assembling a fleet and returns
// its terminal result.
func StartOne(ctx context.Context, t SupervisedTask, opts ...RuntimeOption) (SupervisionResult, error) {
	r := NewRuntime(opts...)
	if err := r.Register(t); err != nil {
		return SupervisionResult{}, err
	}
	if err := r.StartAll(ctx); err != nil {
		return SupervisionResult{}, err
	}
	return r.WaitAny(ctx)
}
