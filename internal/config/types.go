package config

import (
	"fmt"
	"strings"

	cron "dirigent/pkg/cron"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// History controls the sqlite run-history journal. Disabled by default.
	History *HistoryConfig `json:"history,omitempty"`

	// Services are long-running commands supervised with restart policies.
	Services []ServiceConfig `json:"services"`

	// Jobs are commands fired on a 7-field cron schedule.
	Jobs []JobConfig `json:"jobs"`

	// ShutdownGrace bounds how long shutdown waits for tasks to stop.
	// Go duration string; default "10s".
	ShutdownGrace string `json:"shutdown_grace,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Bus     LoggingBus  `json:"bus"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingBus struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type HistoryConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ServiceConfig describes one supervised external command.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type ServiceConfig struct {
	ID      string            `json:"id"`
	Name    string            `json:"name,omitempty"`
	Command []string          `json:"command"`
	Dir     string            `json:"dir,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// DependsOn lists service ids whose setup must succeed first.
	DependsOn []string `json:"depends_on,omitempty"`

	Restart RestartConfig `json:"restart"`
}

// RestartConfig selects the restart policy and backoff for a service.
//
// Policy is one of "always" (default), "never", "max_attempts".
type RestartConfig struct {
	Policy      string        `json:"policy,omitempty"`
	MaxAttempts int           `json:"max_attempts,omitempty"`
	Backoff     BackoffConfig `json:"backoff"`
}

// BackoffConfig selects the delay strategy between attempts.
//
// Strategy is one of "exponential" (default), "fixed", "linear",
// "fibonacci".
type BackoffConfig struct {
	Strategy  string `json:"strategy,omitempty"`
	Initial   string `json:"initial,omitempty"`
	Max       string `json:"max,omitempty"`
	Increment string `json:"increment,omitempty"`
}

// JobConfig describes one scheduled external command.
type JobConfig struct {
	ID          string            `json:"id"`
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	Schedule    string            `json:"schedule"`
	Command     []string          `json:"command"`
	Dir         string            `json:"dir,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Blocking    bool              `json:"blocking,omitempty"`
}

// Validate rejects structurally broken configs before anything starts.
// Engine-level checks (duplicate ids at registration, dependency cycles at
// StartAll) are left to the engines; this pass catches problems like an
// unparseable schedule string or an empty command before anything is built.
func (c *Config) Validate() error {
	for i, svc := range c.Services {
		where := fmt.Sprintf("services[%d]", i)
		if strings.TrimSpace(svc.ID) == "" {
			return fmt.Errorf("%s: id required", where)
		}
		if len(svc.Command) == 0 {
			return fmt.Errorf("%s (%s): command required", where, svc.ID)
		}
		switch strings.ToLower(svc.Restart.Policy) {
		case "", "always", "never", "max_attempts":
		default:
			return fmt.Errorf("%s (%s): unknown restart policy %q", where, svc.ID, svc.Restart.Policy)
		}
		switch strings.ToLower(svc.Restart.Backoff.Strategy) {
		case "", "exponential", "fixed", "linear", "fibonacci":
		default:
			return fmt.Errorf("%s (%s): unknown backoff strategy %q", where, svc.ID, svc.Restart.Backoff.Strategy)
		}
		for _, field := range []struct{ name, raw string }{
			{"initial", svc.Restart.Backoff.Initial},
			{"max", svc.Restart.Backoff.Max},
			{"increment", svc.Restart.Backoff.Increment},
		} {
			if _, err := ParseDurationField(where+".restart.backoff."+field.name, field.raw); err != nil {
				return err
			}
		}
	}

	for i, job := range c.Jobs {
		where := fmt.Sprintf("jobs[%d]", i)
		if strings.TrimSpace(job.ID) == "" {
			return fmt.Errorf("%s: id required", where)
		}
		if len(job.Command) == 0 {
			return fmt.Errorf("%s (%s): command required", where, job.ID)
		}
		if _, err := cron.Parse(job.Schedule); err != nil {
			return fmt.Errorf("%s (%s): %w", where, job.ID, err)
		}
	}

	if _, err := ParseDurationField("shutdown_grace", c.ShutdownGrace); err != nil {
		return err
	}
	return nil
}
