package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"dirigent/pkg/cron"
	logx "dirigent/pkg/logx"
	"dirigent/pkg/supervisor"
)

//go:embed migrations.sql
var migrationsFS embed.FS

var ErrDisabled = errors.New("history disabled")

// Config configures the journal. If Enabled is false, Open returns
// (nil, nil) and every method on a nil *Journal is a safe no-op error.
type Config struct {
	Enabled     bool
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// TaskRecord is one persisted supervision result.
type TaskRecord struct {
	At       time.Time
	TaskID   string
	TaskName string
	Attempts int
	Status   string
}

// JobRecord is one persisted cron job run.
type JobRecord struct {
	JobID     string
	JobName   string
	StartedAt time.Time
	Took      time.Duration
	Err       string
}

type Journal struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the journal. It returns (nil, nil) when disabled.
func Open(cfg Config, log logx.Logger) (*Journal, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("history path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	j := &Journal{db: db, log: log}
	if err := j.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx, string(b))
	return err
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// RecordTaskResult appends one terminal supervision result.
func (j *Journal) RecordTaskResult(ctx context.Context, res supervisor.SupervisionResult) error {
	if j == nil || j.db == nil {
		return ErrDisabled
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO task_results(at, task_id, task_name, attempts, status)
		 VALUES(?,?,?,?,?)`,
		time.Now().Format(time.RFC3339Nano),
		res.TaskID, res.TaskName, res.TotalAttempts, res.FinalStatus.String(),
	)
	return err
}

// RecordJobRun appends one completed cron job run.
func (j *Journal) RecordJobRun(ctx context.Context, run cron.JobRun) error {
	if j == nil || j.db == nil {
		return ErrDisabled
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO job_runs(job_id, job_name, started_at, took_ms, err)
		 VALUES(?,?,?,?,?)`,
		run.JobID, run.Name, run.StartedAt.Format(time.RFC3339Nano),
		run.Duration.Milliseconds(), nullStr(run.Err),
	)
	return err
}

// RecentTaskResults returns up to limit results, newest first.
func (j *Journal) RecentTaskResults(ctx context.Context, limit int) ([]TaskRecord, error) {
	if j == nil || j.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT at, task_id, task_name, attempts, status
		 FROM task_results ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		var rec TaskRecord
		var at string
		if err := rows.Scan(&at, &rec.TaskID, &rec.TaskName, &rec.Attempts, &rec.Status); err != nil {
			return nil, err
		}
		rec.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecentJobRuns returns up to limit runs, newest first.
func (j *Journal) RecentJobRuns(ctx context.Context, limit int) ([]JobRecord, error) {
	if j == nil || j.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT job_id, job_name, started_at, took_ms, err
		 FROM job_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobRecord
	for rows.Next() {
		var rec JobRecord
		var started string
		var tookMS int64
		var errStr sql.NullString
		if err := rows.Scan(&rec.JobID, &rec.JobName, &started, &tookMS, &errStr); err != nil {
			return nil, err
		}
		rec.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		rec.Took = time.Duration(tookMS) * time.Millisecond
		rec.Err = errStr.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
