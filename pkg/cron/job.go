package cron

import "context"

// Job is the contract every scheduled job implements.
//
// Run is the only behavioral requirement; JobBase provides defaults for the
// rest. Identity is JobID(): the scheduler rejects duplicates at
// registration.
type Job interface {
	// JobID returns the canonical, unique identifier.
	JobID() string

	// Name returns a human-readable name. Empty means "use JobID()".
	Name() string

	// Description is free-form metadata surfaced in logs.
	Description() string

	// Schedule returns the validated fire schedule.
	Schedule() *Schedule

	// Blocking marks jobs doing synchronous, long-held work. Both kinds
	// run on their own goroutine; the flag is surfaced in dispatch logs.
	Blocking() bool

	// OnStart fires before Run on every dispatch.
	OnStart(ctx context.Context)

	// OnComplete fires after Run returns nil.
	OnComplete(ctx context.Context)

	// OnError fires after Run returns an error or panics.
	OnError(ctx context.Context, err error)

	// Run is the job body.
	Run(ctx context.Context) error
}

// JobBase provides default implementations for everything but JobID,
// Schedule, and Run. Embed it and override what you need.
type JobBase struct{}

func (JobBase) Name() string                      { return "" }
func (JobBase) Description() string               { return "" }
func (JobBase) Blocking() bool                    { return false }
func (JobBase) OnStart(context.Context)           {}
func (JobBase) OnComplete(context.Context)        {}
func (JobBase) OnError(context.Context, error)    {}

// FuncJob adapts a plain function into a Job.
type FuncJob struct {
	JobBase

	id       string
	name     string
	desc     string
	schedule *Schedule
	blocking bool
	run      func(ctx context.Context) error

	onStart    func(ctx context.Context)
	onComplete func(ctx context.Context)
	onError    func(ctx context.Context, err error)
}

// JobOption configures a FuncJob.
type JobOption func(*FuncJob)

func WithDescription(desc string) JobOption {
	return func(j *FuncJob) { j.desc = desc }
}

func WithOnStart(fn func(ctx context.Context)) JobOption {
	return func(j *FuncJob) { j.onStart = fn }
}

func WithOnComplete(fn func(ctx context.Context)) JobOption {
	return func(j *FuncJob) { j.onComplete = fn }
}

func WithOnError(fn func(ctx context.Context, err error)) JobOption {
	return func(j *FuncJob) { j.onError = fn }
}

// NewFuncJob builds an async job from an id, a validated schedule, and a
// run function.
func NewFuncJob(id, name string, schedule *Schedule, run func(ctx context.Context) error, opts ...JobOption) *FuncJob {
	j := &FuncJob{id: id, name: name, schedule: schedule, run: run}
	for _, o := range opts {
		o(j)
	}
	return j
}

// NewBlockingFuncJob builds a blocking job from a synchronous function.
func NewBlockingFuncJob(id, name string, schedule *Schedule, run func() error, opts ...JobOption) *FuncJob {
	j := NewFuncJob(id, name, schedule, func(context.Context) error { return run() }, opts...)
	j.blocking = true
	return j
}

func (j *FuncJob) JobID() string        { return j.id }
func (j *FuncJob) Name() string         { return j.name }
func (j *FuncJob) Description() string  { return j.desc }
func (j *FuncJob) Schedule() *Schedule  { return j.schedule }
func (j *FuncJob) Blocking() bool       { return j.blocking }

func (j *FuncJob) Run(ctx context.Context) error {
	if j.run == nil {
		return nil
	}
	return j.run(ctx)
}

func (j *FuncJob) OnStart(ctx context.Context) {
	if j.onStart != nil {
		j.onStart(ctx)
	}
}

func (j *FuncJob) OnComplete(ctx context.Context) {
	if j.onComplete != nil {
		j.onComplete(ctx)
	}
}

func (j *FuncJob) OnError(ctx context.Context, err error) {
	if j.onError != nil {
		j.onError(ctx, err)
	}
}

func jobName(j Job) string {
	if n := j.Name(); n != "" {
		return n
	}
	return j.JobID()
}
