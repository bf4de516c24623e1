package doctor

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/warmbridge/internal/config"
)

// validConfig returns a resolved config whose paths all live in a temp dir.
func validConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	exe := filepath.Join(dir, "bin", "worker")
	if err := os.MkdirAll(filepath.Dir(exe), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	cfg := config.Defaults()
	cfg.Worker.Executable = exe
	cfg.Handoff.InputPath = filepath.Join(dir, "in")
	cfg.Handoff.OutputPath = filepath.Join(dir, "out")
	cfg.State.Path = filepath.Join(dir, "data", "wb.db")
	if err := cfg.Resolve(config.Environment{FunctionName: "resize", TaskRoot: dir}); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func hasIssue(issues []Issue, field string) bool {
	for _, i := range issues {
		if i.Field == field {
			return true
		}
	}
	return false
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := New(validConfig(t)).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
}

func TestValidate_UnresolvedFunction(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Function.Name = ""
	cfg.Function.TaskRoot = ""

	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	if !hasIssue(r.Errors, "function.name") || !hasIssue(r.Errors, "function.task_root") {
		t.Fatalf("errors = %v", r.Errors)
	}
}

func TestValidate_WorkerExecutable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "missing",
			setup: func(t *testing.T, cfg *config.Config) {
				cfg.Worker.Executable = filepath.Join(t.TempDir(), "nope")
			},
		},
		{
			name: "not executable",
			setup: func(t *testing.T, cfg *config.Config) {
				p := filepath.Join(t.TempDir(), "plain")
				if err := os.WriteFile(p, nil, 0o644); err != nil {
					t.Fatal(err)
				}
				cfg.Worker.Executable = p
			},
		},
		{
			name: "directory",
			setup: func(t *testing.T, cfg *config.Config) {
				cfg.Worker.Executable = t.TempDir()
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.setup(t, cfg)
			r := New(cfg).Validate()
			if !hasIssue(r.Errors, "worker.executable") {
				t.Fatalf("expected worker.executable error, got %v", r.Errors)
			}
		})
	}
}

func TestValidate_BareExecutableUsesLookPath(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Worker.Executable = "julia"

	d := New(cfg)
	d.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	if r := d.Validate(); !hasIssue(r.Errors, "worker.executable") {
		t.Fatalf("expected lookup failure, got %v", r.Errors)
	}

	d.lookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }
	if r := d.Validate(); !r.Valid {
		t.Fatalf("expected valid, got %v", r.Errors)
	}
}

func TestValidate_BootstrapWithoutModule(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Worker.Bootstrap = "main()"
	r := New(cfg).Validate()
	if !hasIssue(r.Warnings, "worker.bootstrap") {
		t.Fatalf("expected bootstrap warning, got %v", r.Warnings)
	}
}

func TestValidate_HandoffDirMissing(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Handoff.OutputPath = filepath.Join(t.TempDir(), "gone", "out")
	r := New(cfg).Validate()
	if r.Valid || !hasIssue(r.Errors, "handoff.output_path") {
		t.Fatalf("expected handoff.output_path error, got %v", r.Errors)
	}
}

func TestValidate_Limits(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Limits.SafetyMargin = time.Minute
	cfg.Limits.DefaultRemaining = 30 * time.Second
	cfg.Limits.GraceWindow = 20 * time.Second

	r := New(cfg).Validate()
	if !hasIssue(r.Errors, "limits.safety_margin") {
		t.Fatalf("expected margin error, got %v", r.Errors)
	}
	if !hasIssue(r.Warnings, "limits.grace_window") {
		t.Fatalf("expected grace warning, got %v", r.Warnings)
	}
}

func TestValidate_Notify(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	off := false
	cfg.Notify.Journal = &off
	r := New(cfg).Validate()
	if !hasIssue(r.Warnings, "notify") {
		t.Fatalf("expected no-sink warning, got %v", r.Warnings)
	}

	cfg.Notify.Webhook.URL = "https://hooks.example.com"
	cfg.Notify.Rate.Every = 0
	r = New(cfg).Validate()
	if !hasIssue(r.Warnings, "notify.webhook.secret") || !hasIssue(r.Warnings, "notify.rate.every") {
		t.Fatalf("expected webhook warnings, got %v", r.Warnings)
	}
}

func TestValidate_APIScopes(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.API.Enabled = true
	cfg.API.Auth.Tokens = []config.APIToken{
		{Token: "a", Scopes: []string{"invoke", "plugin:rw"}},
		{Token: "", Scopes: []string{"events:ro"}},
	}

	r := New(cfg).Validate()
	if !hasIssue(r.Errors, "api.auth.tokens[0].scopes[1]") {
		t.Fatalf("expected unknown scope error, got %v", r.Errors)
	}
	if hasIssue(r.Errors, "api.auth.tokens[0].scopes[0]") {
		t.Fatal("invoke should be a known scope")
	}
	if !hasIssue(r.Warnings, "api.auth.tokens[1].token") {
		t.Fatalf("expected empty token warning, got %v", r.Warnings)
	}
}

func TestFormatHuman(t *testing.T) {
	t.Parallel()
	out := FormatHuman(&Result{Valid: true})
	if out != "Configuration valid.\n" {
		t.Fatalf("FormatHuman = %q", out)
	}

	out = FormatHuman(&Result{
		Valid:    false,
		Errors:   []Issue{{Category: "worker", Field: "worker.executable", Message: "missing"}},
		Warnings: []Issue{{Category: "notify", Message: "no sink"}},
	})
	if !strings.Contains(out, "Configuration invalid (1 error(s), 1 warning(s))") {
		t.Fatalf("missing summary: %q", out)
	}
	if !strings.Contains(out, "ERROR [worker] worker.executable: missing") {
		t.Fatalf("missing error line: %q", out)
	}
	if !strings.Contains(out, "WARN  [notify] no sink") {
		t.Fatalf("missing warning line: %q", out)
	}
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	out, err := FormatJSON(&Result{Valid: true})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"valid": true`) {
		t.Fatalf("FormatJSON = %s", out)
	}
}
