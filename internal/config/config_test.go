package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, name, body string) *ConfigManager {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return NewConfigManager(path)
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	m := writeConfigFile(t, "dirigent.yaml", `
logging:
  level: debug
  console: true
services:
  - id: api
    command: ["./api", "--port", "8080"]
    depends_on: [db]
    restart:
      policy: max_attempts
      max_attempts: 5
      backoff:
        strategy: fixed
        initial: 500ms
  - id: db
    command: ["./db"]
jobs:
  - id: backup
    schedule: "0 0 3 * * * *"
    command: ["./backup.sh"]
    blocking: true
shutdown_grace: 30s
`)

	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if len(cfg.Services) != 2 || cfg.Services[0].ID != "api" {
		t.Fatalf("services = %+v", cfg.Services)
	}
	if got := cfg.Services[0].Restart.Backoff.Initial; got != "500ms" {
		t.Fatalf("backoff.initial = %q", got)
	}
	if len(cfg.Jobs) != 1 || !cfg.Jobs[0].Blocking {
		t.Fatalf("jobs = %+v", cfg.Jobs)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	m := writeConfigFile(t, "dirigent.json", `{
  "logging": {"level": "info", "console": false, "file": {"enabled": false, "path": ""}, "bus": {"enabled": false, "min_level": "", "rate_per_sec": 0}},
  "services": [],
  "jobs": []
}`)

	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := writeConfigFile(t, "dirigent.yaml", `
logging:
  level: info
  verbosity: extreme
services: []
jobs: []
`)
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := writeConfigFile(t, "dirigent.json", `{"services": [], "jobs": []}{"again": true}`)
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestParseRejectsBrokenYAML(t *testing.T) {
	t.Parallel()
	m := writeConfigFile(t, "dirigent.yaml", "logging: [unclosed")
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected yaml error")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "service without id",
			cfg:  Config{Services: []ServiceConfig{{Command: []string{"x"}}}},
			want: "id required",
		},
		{
			name: "service without command",
			cfg:  Config{Services: []ServiceConfig{{ID: "api"}}},
			want: "command required",
		},
		{
			name: "unknown restart policy",
			cfg: Config{Services: []ServiceConfig{{
				ID: "api", Command: []string{"x"},
				Restart: RestartConfig{Policy: "sometimes"},
			}}},
			want: "unknown restart policy",
		},
		{
			name: "unknown backoff strategy",
			cfg: Config{Services: []ServiceConfig{{
				ID: "api", Command: []string{"x"},
				Restart: RestartConfig{Backoff: BackoffConfig{Strategy: "random"}},
			}}},
			want: "unknown backoff strategy",
		},
		{
			name: "bad backoff duration",
			cfg: Config{Services: []ServiceConfig{{
				ID: "api", Command: []string{"x"},
				Restart: RestartConfig{Backoff: BackoffConfig{Initial: "five seconds"}},
			}}},
			want: "invalid duration",
		},
		{
			name: "job without command",
			cfg:  Config{Jobs: []JobConfig{{ID: "backup", Schedule: "* * * * * * *"}}},
			want: "command required",
		},
		{
			name: "job with bad schedule",
			cfg:  Config{Jobs: []JobConfig{{ID: "backup", Schedule: "not cron", Command: []string{"x"}}}},
			want: "backup",
		},
		{
			name: "bad shutdown grace",
			cfg:  Config{ShutdownGrace: "-3s"},
			want: "shutdown_grace",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if err == nil {
				t.Fatal("Validate returned nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	t.Parallel()
	cfg := Config{
		Services: []ServiceConfig{{ID: "api", Command: []string{"./api"}}},
		Jobs:     []JobConfig{{ID: "tick", Schedule: "0 * * * * * *", Command: []string{"./tick"}}},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{name: "empty is zero", raw: "", want: 0},
		{name: "whitespace is zero", raw: "  ", want: 0},
		{name: "plain", raw: "1500ms", want: 1500 * time.Millisecond},
		{name: "trimmed", raw: " 2s ", want: 2 * time.Second},
		{name: "garbage", raw: "soon", wantErr: true},
		{name: "negative", raw: "-1s", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationField("test.field", tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDurationField(%q) = %v, want error", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDurationField(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("ParseDurationField(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	if got, err := ParseDurationOrDefault("f", "", 4*time.Second); err != nil || got != 4*time.Second {
		t.Fatalf("got %v, %v; want 4s", got, err)
	}
	if got, err := ParseDurationOrDefault("f", "250ms", 4*time.Second); err != nil || got != 250*time.Millisecond {
		t.Fatalf("got %v, %v; want 250ms", got, err)
	}
	if _, err := ParseDurationOrDefault("f", "junk", 4*time.Second); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}
