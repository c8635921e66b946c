package history

import (
	"context"
	"time"

	"dirigent/internal/eventbus"
	"dirigent/pkg/cron"
	logx "dirigent/pkg/logx"
	"dirigent/pkg/supervisor"
)

const writeTimeout = 2 * time.Second

// Consume subscribes the journal to the event bus and records task results
// and job runs until ctx is cancelled. It returns immediately when the
// journal is disabled.
func (j *Journal) Consume(ctx context.Context, bus eventbus.Bus) {
	if j == nil || j.db == nil || bus == nil {
		return
	}

	ch, unsub := bus.Subscribe(64)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			j.record(ev)
		}
	}
}

func (j *Journal) record(ev eventbus.Event) {
	wctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	switch ev.Type {
	case eventbus.TypeTaskResult:
		res, ok := ev.Data.(supervisor.SupervisionResult)
		if !ok {
			return
		}
		if err := j.RecordTaskResult(wctx, res); err != nil {
			j.log.Warn("history write failed",
				logx.String("kind", "task_result"),
				logx.String("task_id", res.TaskID),
				logx.Err(err),
			)
		}
	case eventbus.TypeJobRun:
		run, ok := ev.Data.(cron.JobRun)
		if !ok {
			return
		}
		if err := j.RecordJobRun(wctx, run); err != nil {
			j.log.Warn("history write failed",
				logx.String("kind", "job_run"),
				logx.String("job_id", run.JobID),
				logx.Err(err),
			)
		}
	}
}
