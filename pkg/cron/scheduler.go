package cron

import (
	"container/heap"
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"dirigent/internal/eventbus"
	logx "dirigent/pkg/logx"
)

// JobRun is the record of one dispatched job execution.
type JobRun struct {
	JobID     string        `json:"job_id"`
	Name      string        `json:"name"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Err       string        `json:"err,omitempty"`
}

// Scheduler fires registered jobs on a min-heap timeline.
//
// The loop peeks the earliest entry without popping, sleeps until it is due,
// then drains every entry due at that instant. Each drained job is
// dispatched on its own goroutine and pushed back with its next fire time,
// so same-tick peers fire concurrently and a slow job never delays the
// others.
type Scheduler struct {
	log logx.Logger
	bus eventbus.Bus

	mu       sync.Mutex
	heap     entryHeap
	registry map[string]Job
	running  bool

	wg sync.WaitGroup
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithLogger sets the scheduler logger. Default is a no-op logger.
func WithLogger(log logx.Logger) SchedulerOption {
	return func(s *Scheduler) { s.log = log }
}

// WithBus publishes a JobRun (eventbus.TypeJobRun) after every execution.
func WithBus(bus eventbus.Bus) SchedulerOption {
	return func(s *Scheduler) { s.bus = bus }
}

func NewScheduler(opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		log:      logx.Nop(),
		registry: map[string]Job{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AddJob registers a job. The schedule must still have a future fire time
// and the id must be unique. Jobs are registered before Run; the registry
// is keyed by id so per-job removal can be added without changing the heap
// discipline.
func (s *Scheduler) AddJob(j Job) error {
	if j == nil {
		return fmt.Errorf("nil job")
	}
	id := j.JobID()
	if id == "" {
		return fmt.Errorf("empty job id")
	}
	sched := j.Schedule()
	if sched == nil {
		return fmt.Errorf("job %q: nil schedule", id)
	}
	next, ok := sched.NextAfter(time.Now())
	if !ok {
		return &UnsatisfiableScheduleError{JobID: id, Expr: sched.String()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("job %q: scheduler already running", id)
	}
	if _, dup := s.registry[id]; dup {
		return &DuplicateJobIDError{ID: id}
	}
	s.registry[id] = j
	heap.Push(&s.heap, entry{at: next, job: j})
	s.log.Debug("job registered",
		logx.String("job", id),
		logx.String("schedule", sched.String()),
		logx.Time("first_run", next))
	return nil
}

// AddJobFunc parses expr and registers an async job built from fn.
func (s *Scheduler) AddJobFunc(id, name, expr string, fn func(ctx context.Context) error, opts ...JobOption) error {
	sched, err := Parse(expr)
	if err != nil {
		return err
	}
	return s.AddJob(NewFuncJob(id, name, sched, fn, opts...))
}

// AddBlockingJobFunc parses expr and registers a blocking job built from fn.
func (s *Scheduler) AddBlockingJobFunc(id, name, expr string, fn func() error, opts ...JobOption) error {
	sched, err := Parse(expr)
	if err != nil {
		return err
	}
	return s.AddJob(NewBlockingFuncJob(id, name, sched, fn, opts...))
}

// JobCount returns the number of registered jobs.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.registry)
}

// Run drives the dispatch loop until ctx is canceled or the heap runs dry.
// Cancellation stops dispatch only; executions already in flight keep
// running (use Drain to wait for them).
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.mu.Unlock()

	// Dispatched jobs keep ctx values but survive scheduler shutdown.
	jobCtx := context.WithoutCancel(ctx)

	for {
		s.mu.Lock()
		if s.heap.Len() == 0 {
			s.mu.Unlock()
			s.log.Warn("no jobs scheduled, scheduler exiting")
			return nil
		}
		next := s.heap[0].at
		s.mu.Unlock()

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("scheduler stopped")
			return nil
		case <-timer.C:
		}

		now := time.Now()
		var due []entry
		s.mu.Lock()
		for s.heap.Len() > 0 && !s.heap[0].at.After(now) {
			e := heap.Pop(&s.heap).(entry)
			due = append(due, e)
			if nxt, ok := e.job.Schedule().NextAfter(now); ok {
				heap.Push(&s.heap, entry{at: nxt, job: e.job})
			} else {
				s.log.Info("job retired, schedule exhausted",
					logx.String("job", e.job.JobID()))
			}
		}
		s.mu.Unlock()

		for _, e := range due {
			e := e
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.runJob(jobCtx, e.job)
			}()
		}
	}
}

// Drain waits for in-flight job executions to finish.
func (s *Scheduler) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (s *Scheduler) runJob(ctx context.Context, j Job) {
	log := s.log.With(logx.String("job", j.JobID()))
	started := time.Now()
	log.Info("job dispatched",
		logx.String("name", jobName(j)),
		logx.Bool("blocking", j.Blocking()))

	err, pan, stack := func() (err error, pan any, stack string) {
		defer func() {
			if rec := recover(); rec != nil {
				pan = rec
				stack = string(debug.Stack())
			}
		}()
		j.OnStart(ctx)
		err = j.Run(ctx)
		return
	}()
	if pan != nil {
		log.Error("job panicked", logx.Any("panic", pan), logx.Stack(stack))
		err = fmt.Errorf("panic: %v", pan)
	}

	dur := time.Since(started)
	if err != nil {
		log.Error("job failed", logx.Err(err), logx.Duration("took", dur))
		s.swallowPanics(log, func() { j.OnError(ctx, err) })
	} else {
		log.Info("job completed", logx.Duration("took", dur))
		s.swallowPanics(log, func() { j.OnComplete(ctx) })
	}

	if s.bus != nil {
		rec := JobRun{
			JobID:     j.JobID(),
			Name:      jobName(j),
			StartedAt: started,
			Duration:  dur,
		}
		if err != nil {
			rec.Err = err.Error()
		}
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeJobRun, Data: rec})
	}
}

func (s *Scheduler) swallowPanics(log logx.Logger, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Warn("job hook panicked", logx.Any("panic", rec))
		}
	}()
	fn()
}

// entry is one heap element: a job keyed by its next fire time.
type entry struct {
	at  time.Time
	job Job
}

// entryHeap is a min-heap ordered by fire time, earliest on top.
type entryHeap []entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)         { *h = append(*h, x.(entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
