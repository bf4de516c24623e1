package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "empty file yields defaults",
			yaml: "",
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Handoff.InputPath != "/tmp/lambda_in" || cfg.Handoff.OutputPath != "/tmp/lambda_out" {
					t.Errorf("handoff defaults not applied: %+v", cfg.Handoff)
				}
				if cfg.Limits.SafetyMargin != 5*time.Second {
					t.Errorf("safety_margin = %v, want 5s", cfg.Limits.SafetyMargin)
				}
				if cfg.Limits.GraceWindow != time.Second {
					t.Errorf("grace_window = %v, want 1s", cfg.Limits.GraceWindow)
				}
				if cfg.Notify.SubjectLimit != 100 {
					t.Errorf("subject_limit = %d, want 100", cfg.Notify.SubjectLimit)
				}
				if !cfg.Notify.JournalEnabled() {
					t.Error("journal notifications should default to enabled")
				}
				if len(cfg.Worker.Args) != 2 || cfg.Worker.Args[0] != "-i" || cfg.Worker.Args[1] != "-e" {
					t.Errorf("worker args = %v", cfg.Worker.Args)
				}
			},
		},
		{
			name: "explicit values",
			yaml: `
service:
  name: billing
  log_level: debug
  log_format: text
function:
  name: billing
  task_root: /var/task
worker:
  executable: /usr/bin/env
  args: [bash, -c]
  bootstrap: "exec ./worker.sh {module}"
  env:
    MODE: test
handoff:
  input_path: /run/wb/in
  output_path: /run/wb/out
limits:
  safety_margin: 2s
  grace_window: 250ms
notify:
  journal: false
  webhook:
    url: https://hooks.example.com/wb
    secret: s3cret
  rate:
    every: 1m
    burst: 2
state:
  path: /var/lib/wb/journal.db
  retention: 24h
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.LogFormat != "text" {
					t.Error("log_format not parsed")
				}
				if cfg.Function.TaskRoot != "/var/task" {
					t.Error("task_root not parsed")
				}
				if cfg.Worker.Env["MODE"] != "test" {
					t.Error("worker.env not parsed")
				}
				if cfg.Limits.SafetyMargin != 2*time.Second || cfg.Limits.GraceWindow != 250*time.Millisecond {
					t.Errorf("limits not parsed: %+v", cfg.Limits)
				}
				if cfg.Notify.JournalEnabled() {
					t.Error("notify.journal: false ignored")
				}
				if cfg.Notify.Rate.Every != time.Minute || cfg.Notify.Rate.Burst != 2 {
					t.Errorf("rate not parsed: %+v", cfg.Notify.Rate)
				}
				if cfg.State.Retention != 24*time.Hour {
					t.Error("retention not parsed")
				}
			},
		},
		{
			name: "env var interpolation",
			yaml: `
notify:
  webhook:
    url: ${HOOK_URL}
    secret: ${HOOK_SECRET}
state:
  path: ${DB_PATH}
`,
			env: map[string]string{
				"HOOK_URL":    "http://127.0.0.1:9000/hook",
				"HOOK_SECRET": "abc",
				"DB_PATH":     "/tmp/wb.db",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Notify.Webhook.URL != "http://127.0.0.1:9000/hook" {
					t.Errorf("url = %q", cfg.Notify.Webhook.URL)
				}
				if cfg.Notify.Webhook.Secret != "abc" {
					t.Errorf("secret = %q", cfg.Notify.Webhook.Secret)
				}
				if cfg.State.Path != "/tmp/wb.db" {
					t.Errorf("state.path = %q", cfg.State.Path)
				}
			},
		},
		{
			name: "unset env var falls back to default",
			yaml: `
state:
  path: ${WB_UNSET_FOR_TEST}
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.State.Path != "./data/warmbridge.db" {
					t.Errorf("state.path = %q, want default", cfg.State.Path)
				}
			},
		},
		{
			name:    "unknown key rejected",
			yaml:    "service:\n  tick_interval: 60s\n",
			wantErr: "tick_interval",
		},
		{
			name:    "same handoff paths rejected",
			yaml:    "handoff:\n  input_path: /tmp/x\n  output_path: /tmp/x\n",
			wantErr: "must differ",
		},
		{
			name:    "negative margin rejected",
			yaml:    "limits:\n  safety_margin: -1s\n",
			wantErr: "safety_margin",
		},
		{
			name:    "bad webhook url rejected",
			yaml:    "notify:\n  webhook:\n    url: ftp://example.com\n",
			wantErr: "notify.webhook.url",
		},
		{
			name:    "api without auth rejected",
			yaml:    "api:\n  enabled: true\n",
			wantErr: "api.auth",
		},
		{
			name:    "bad log format rejected",
			yaml:    "service:\n  log_format: xml\n",
			wantErr: "log_format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o644); err != nil {
				t.Fatal(err)
			}

			cfg, err := Load(path)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("Load() succeeded, want error containing %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Load() error = %v, want it to mention %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("service:\n  name: dir-mode\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load(dir) error = %v", err)
	}
	if cfg.Service.Name != "dir-mode" {
		t.Errorf("service.name = %q", cfg.Service.Name)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error for directory without config.yaml")
	}
}

func TestLoadVerifiesChecksums(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("service:\n  name: locked\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := GenerateChecksums(dir, false); err != nil {
		t.Fatalf("GenerateChecksums() error = %v", err)
	}

	if _, err := Load(dir); err != nil {
		t.Fatalf("Load() of locked config error = %v", err)
	}

	if err := os.WriteFile(path, []byte("service:\n  name: tampered\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(dir)
	if err == nil {
		t.Fatal("Load() accepted a modified locked config")
	}
	if !strings.Contains(err.Error(), "hash mismatch") {
		t.Errorf("error = %v, want hash mismatch", err)
	}
}

func TestDiscoverConfigPathEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigPath, path)

	got, err := DiscoverConfigPath()
	if err != nil {
		t.Fatalf("DiscoverConfigPath() error = %v", err)
	}
	if got != path {
		t.Errorf("DiscoverConfigPath() = %q, want %q", got, path)
	}
}
