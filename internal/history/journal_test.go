package history

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"dirigent/internal/eventbus"
	"dirigent/pkg/cron"
	logx "dirigent/pkg/logx"
	"dirigent/pkg/supervisor"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(Config{
		Enabled:     true,
		Path:        filepath.Join(t.TempDir(), "history.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestOpenDisabledReturnsNil(t *testing.T) {
	t.Parallel()
	j, err := Open(Config{Enabled: false}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if j != nil {
		t.Fatal("disabled journal must be nil")
	}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Enabled: true}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestNilJournalIsSafe(t *testing.T) {
	t.Parallel()
	var j *Journal
	ctx := context.Background()

	if err := j.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := j.RecordTaskResult(ctx, supervisor.SupervisionResult{}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("RecordTaskResult error = %v, want ErrDisabled", err)
	}
	if err := j.RecordJobRun(ctx, cron.JobRun{}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("RecordJobRun error = %v, want ErrDisabled", err)
	}
	if _, err := j.RecentTaskResults(ctx, 10); !errors.Is(err, ErrDisabled) {
		t.Fatalf("RecentTaskResults error = %v, want ErrDisabled", err)
	}
	// Consume on a nil journal must return without touching the bus.
	j.Consume(ctx, eventbus.New())
}

func TestTaskResultRoundtrip(t *testing.T) {
	t.Parallel()
	j := openTestJournal(t)
	ctx := context.Background()

	results := []supervisor.SupervisionResult{
		{TaskID: "db", TaskName: "postgres", TotalAttempts: 1, FinalStatus: supervisor.CompletedNormally},
		{TaskID: "api", TaskName: "api server", TotalAttempts: 3, FinalStatus: supervisor.MaxAttemptsReached},
	}
	for _, res := range results {
		if err := j.RecordTaskResult(ctx, res); err != nil {
			t.Fatalf("RecordTaskResult(%s) error: %v", res.TaskID, err)
		}
	}

	got, err := j.RecentTaskResults(ctx, 10)
	if err != nil {
		t.Fatalf("RecentTaskResults error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	// Newest first.
	if got[0].TaskID != "api" || got[1].TaskID != "db" {
		t.Fatalf("order = %s, %s; want api, db", got[0].TaskID, got[1].TaskID)
	}
	if got[0].Status != "max_attempts_reached" || got[0].Attempts != 3 {
		t.Fatalf("record = %+v", got[0])
	}
	if got[0].At.IsZero() {
		t.Fatal("At timestamp not persisted")
	}
}

func TestJobRunRoundtrip(t *testing.T) {
	t.Parallel()
	j := openTestJournal(t)
	ctx := context.Background()

	started := time.Date(2030, time.June, 15, 3, 0, 0, 0, time.UTC)
	runs := []cron.JobRun{
		{JobID: "backup", Name: "nightly backup", StartedAt: started, Duration: 1500 * time.Millisecond},
		{JobID: "backup", Name: "nightly backup", StartedAt: started.Add(24 * time.Hour), Duration: 2 * time.Second, Err: "disk full"},
	}
	for _, run := range runs {
		if err := j.RecordJobRun(ctx, run); err != nil {
			t.Fatalf("RecordJobRun error: %v", err)
		}
	}

	got, err := j.RecentJobRuns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentJobRuns error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].Err != "disk full" || got[1].Err != "" {
		t.Fatalf("errs = %q, %q", got[0].Err, got[1].Err)
	}
	if got[1].Took != 1500*time.Millisecond {
		t.Fatalf("Took = %v, want 1.5s", got[1].Took)
	}
	if !got[0].StartedAt.Equal(started.Add(24 * time.Hour)) {
		t.Fatalf("StartedAt = %v", got[0].StartedAt)
	}
}

func TestRecentLimitAndDefault(t *testing.T) {
	t.Parallel()
	j := openTestJournal(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := j.RecordTaskResult(ctx, supervisor.SupervisionResult{TaskID: "t", TotalAttempts: i + 1}); err != nil {
			t.Fatalf("RecordTaskResult error: %v", err)
		}
	}
	got, err := j.RecentTaskResults(ctx, 2)
	if err != nil {
		t.Fatalf("RecentTaskResults error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	got, err = j.RecentTaskResults(ctx, 0)
	if err != nil {
		t.Fatalf("RecentTaskResults error: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("default limit returned %d records, want 5", len(got))
	}
}

// subscribeNotifier closes subscribed once a subscriber has registered, so a
// test can publish only after Consume is listening.
type subscribeNotifier struct {
	eventbus.Bus
	once       sync.Once
	subscribed chan struct{}
}

func (b *subscribeNotifier) Subscribe(buffer int) (<-chan eventbus.Event, func()) {
	ch, unsub := b.Bus.Subscribe(buffer)
	b.once.Do(func() { close(b.subscribed) })
	return ch, unsub
}

func TestConsumeRecordsBusEvents(t *testing.T) {
	t.Parallel()
	j := openTestJournal(t)
	bus := &subscribeNotifier{Bus: eventbus.New(), subscribed: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		j.Consume(ctx, bus)
	}()

	// The bus drops events that have no subscriber yet, and Consume
	// subscribes on its own goroutine.
	select {
	case <-bus.subscribed:
	case <-time.After(5 * time.Second):
		t.Fatal("Consume never subscribed to the bus")
	}

	bus.Publish(eventbus.Event{
		Type: eventbus.TypeTaskResult,
		Data: supervisor.SupervisionResult{TaskID: "db", FinalStatus: supervisor.CompletedNormally, TotalAttempts: 1},
	})
	bus.Publish(eventbus.Event{
		Type: eventbus.TypeJobRun,
		Data: cron.JobRun{JobID: "backup", StartedAt: time.Now(), Duration: time.Second},
	})
	// Unrelated and malformed events are ignored.
	bus.Publish(eventbus.Event{Type: eventbus.TypeLog, Data: "noise"})
	bus.Publish(eventbus.Event{Type: eventbus.TypeTaskResult, Data: "not a result"})

	deadline := time.After(5 * time.Second)
	for {
		tasks, err := j.RecentTaskResults(ctx, 10)
		if err != nil {
			t.Fatalf("RecentTaskResults error: %v", err)
		}
		jobs, err := j.RecentJobRuns(ctx, 10)
		if err != nil {
			t.Fatalf("RecentJobRuns error: %v", err)
		}
		if len(tasks) == 1 && len(jobs) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("journal has %d tasks and %d jobs, want 1 and 1", len(tasks), len(jobs))
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Consume did not exit on cancel")
	}
}
