package daemon

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"dirigent/internal/config"
	logx "dirigent/pkg/logx"
	"dirigent/pkg/supervisor"
)

// execTask supervises one external command from a service config entry.
// Each attempt spawns a fresh process; a non-zero exit is an attempt
// failure and flows through the configured restart policy.
type execTask struct {
	supervisor.TaskBase

	cfg config.ServiceConfig
	log logx.Logger

	policy  supervisor.RestartPolicy
	backoff supervisor.Backoff
}

func newExecTask(cfg config.ServiceConfig, log logx.Logger) (*execTask, error) {
	policy, err := mapRestartPolicy(cfg.Restart)
	if err != nil {
		return nil, err
	}
	backoff, err := mapBackoff(cfg.Restart.Backoff)
	if err != nil {
		return nil, err
	}
	return &execTask{
		cfg:     cfg,
		log:     log.With(logx.String("service", cfg.ID)),
		policy:  policy,
		backoff: backoff,
	}, nil
}

func (t *execTask) TaskID() string                          { return t.cfg.ID }
func (t *execTask) Name() string                            { return t.cfg.Name }
func (t *execTask) Dependencies() []string                  { return t.cfg.DependsOn }
func (t *execTask) RestartPolicy() supervisor.RestartPolicy { return t.policy }
func (t *execTask) Backoff() supervisor.Backoff             { return t.backoff }

func (t *execTask) Run(ctx context.Context) error {
	cmd := buildCommand(ctx, t.cfg.Command, t.cfg.Dir, t.cfg.Env)
	t.log.Debug("service process starting", logx.String("cmd", strings.Join(t.cfg.Command, " ")))

	start := time.Now()
	err := cmd.Run()
	took := time.Since(start)
	if err != nil {
		return fmt.Errorf("command %q: %w", t.cfg.Command[0], err)
	}
	t.log.Debug("service process exited", logx.Duration("took", took))
	return nil
}

func (t *execTask) OnError(ctx context.Context, err error, attempt int) {
	t.log.Warn("service attempt failed", logx.Int("attempt", attempt), logx.Err(err))
}

func (t *execTask) OnRestart(ctx context.Context, attempt int) {
	t.log.Info("service restarting", logx.Int("attempt", attempt))
}

// execJob runs one external command on a cron schedule.
type execJob struct {
	cfg config.JobConfig
	log logx.Logger
}

func (j *execJob) runOnce(ctx context.Context) error {
	cmd := buildCommand(ctx, j.cfg.Command, j.cfg.Dir, j.cfg.Env)
	j.log.Debug("job process starting", logx.String("cmd", strings.Join(j.cfg.Command, " ")))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command %q: %w", j.cfg.Command[0], err)
	}
	return nil
}

func buildCommand(ctx context.Context, argv []string, dir string, env map[string]string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if dir != "" {
		cmd.Dir = dir
	}
	if len(env) > 0 {
		merged := os.Environ()
		for k, v := range env {
			merged = append(merged, k+"="+v)
		}
		cmd.Env = merged
	}
	cmd.Stdout = logx.Stdout()
	cmd.Stderr = logx.Stderr()
	return cmd
}

func mapRestartPolicy(rc config.RestartConfig) (supervisor.RestartPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(rc.Policy)) {
	case "", "always":
		return supervisor.RestartAlways(), nil
	case "never":
		return supervisor.RestartNever(), nil
	case "max_attempts":
		n := rc.MaxAttempts
		if n < 1 {
			n = 1
		}
		return supervisor.RestartMaxAttempts(n), nil
	default:
		return supervisor.RestartPolicy{}, fmt.Errorf("unknown restart policy %q", rc.Policy)
	}
}

func mapBackoff(bc config.BackoffConfig) (supervisor.Backoff, error) {
	initial, err := config.ParseDurationOrDefault("backoff.initial", bc.Initial, 2*time.Second)
	if err != nil {
		return supervisor.Backoff{}, err
	}
	max, err := config.ParseDurationOrDefault("backoff.max", bc.Max, 60*time.Second)
	if err != nil {
		return supervisor.Backoff{}, err
	}
	increment, err := config.ParseDurationOrDefault("backoff.increment", bc.Increment, time.Second)
	if err != nil {
		return supervisor.Backoff{}, err
	}

	switch strings.ToLower(strings.TrimSpace(bc.Strategy)) {
	case "", "exponential":
		return supervisor.BackoffExponential(initial, max), nil
	case "fixed":
		return supervisor.BackoffFixed(initial), nil
	case "linear":
		return supervisor.BackoffLinear(initial, increment, max), nil
	case "fibonacci":
		return supervisor.BackoffFibonacci(initial, max), nil
	default:
		return supervisor.Backoff{}, fmt.Errorf("unknown backoff strategy %q", bc.Strategy)
	}
}
