// Package doctor checks a warmbridge configuration against the host it will run on.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/warmbridge/internal/auth"
	"github.com/mattjoyce/warmbridge/internal/config"
	"github.com/mattjoyce/warmbridge/internal/storage"
	"github.com/mattjoyce/warmbridge/internal/worker"
)

// longGraceWindow is where a drain starts eating noticeably into the budget.
const longGraceWindow = 10 * time.Second

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a resolved configuration.
type Doctor struct {
	cfg *config.Config

	lookPath func(string) (string, error)
}

// New creates a Doctor. cfg should already have been through Config.Resolve.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, lookPath: exec.LookPath}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateFunction(r)
	d.validateWorker(r)
	d.validateHandoff(r)
	d.validateLimits(r)
	d.validateNotify(r)
	d.validateState(r)
	d.validateAPI(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateFunction(r *Result) {
	fn := d.cfg.Function
	if fn.Name == "" {
		d.addError(r, "function", "function.name",
			fmt.Sprintf("function name unresolved (set function.name or $%s)", config.EnvFunctionName))
	}
	if fn.TaskRoot == "" {
		d.addError(r, "function", "function.task_root",
			fmt.Sprintf("task root unresolved (set function.task_root or $%s)", config.EnvTaskRoot))
		return
	}
	if info, err := os.Stat(fn.TaskRoot); err != nil || !info.IsDir() {
		d.addWarning(r, "function", "function.task_root",
			fmt.Sprintf("task root %s is not a directory", fn.TaskRoot))
	}
}

func (d *Doctor) validateWorker(r *Result) {
	w := d.cfg.Worker
	if w.Executable == "" {
		d.addError(r, "worker", "worker.executable", "worker executable is empty")
		return
	}

	if !strings.ContainsRune(w.Executable, filepath.Separator) {
		if _, err := d.lookPath(w.Executable); err != nil {
			d.addError(r, "worker", "worker.executable",
				fmt.Sprintf("%s not found on PATH", w.Executable))
		}
	} else {
		info, err := os.Stat(w.Executable)
		switch {
		case err != nil:
			d.addError(r, "worker", "worker.executable", fmt.Sprintf("%s: %v", w.Executable, err))
		case info.IsDir():
			d.addError(r, "worker", "worker.executable", fmt.Sprintf("%s is a directory", w.Executable))
		case info.Mode().Perm()&0o111 == 0:
			d.addError(r, "worker", "worker.executable", fmt.Sprintf("%s is not executable", w.Executable))
		}
	}

	if w.Bootstrap != "" && !strings.Contains(w.Bootstrap, worker.ModulePlaceholder) {
		d.addWarning(r, "worker", "worker.bootstrap",
			fmt.Sprintf("bootstrap does not reference %s; the worker is not told which module to load", worker.ModulePlaceholder))
	}
}

func (d *Doctor) validateHandoff(r *Result) {
	h := d.cfg.Handoff
	if err := checkWritableDir(filepath.Dir(h.InputPath)); err != nil {
		d.addError(r, "handoff", "handoff.input_path", err.Error())
	}
	if err := checkWritableDir(filepath.Dir(h.OutputPath)); err != nil {
		d.addError(r, "handoff", "handoff.output_path", err.Error())
	}
}

func checkWritableDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	f, err := os.CreateTemp(dir, ".warmbridge-doctor-*")
	if err != nil {
		return fmt.Errorf("directory %s is not writable: %w", dir, err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return nil
}

func (d *Doctor) validateLimits(r *Result) {
	l := d.cfg.Limits
	if l.SafetyMargin >= l.DefaultRemaining {
		d.addError(r, "limits", "limits.safety_margin",
			fmt.Sprintf("safety margin %s leaves no time within the default budget %s", l.SafetyMargin, l.DefaultRemaining))
	}
	if l.SafetyMargin == 0 {
		d.addWarning(r, "limits", "limits.safety_margin",
			"no safety margin; a timeout may not be reported before the platform kills the process")
	}
	if l.GraceWindow > longGraceWindow {
		d.addWarning(r, "limits", "limits.grace_window",
			fmt.Sprintf("grace window %s is long; it is spent after the deadline has already passed", l.GraceWindow))
	}
	if l.GraceWindow >= l.SafetyMargin && l.SafetyMargin > 0 {
		d.addWarning(r, "limits", "limits.grace_window",
			"grace window is not shorter than the safety margin; the drain may outlive the budget")
	}
}

func (d *Doctor) validateNotify(r *Result) {
	n := d.cfg.Notify
	if n.Webhook.URL == "" && !n.JournalEnabled() {
		d.addWarning(r, "notify", "notify",
			"no notification sink configured; failures are only logged")
	}
	if n.Webhook.URL != "" && n.Webhook.Secret == "" {
		d.addWarning(r, "notify", "notify.webhook.secret",
			"webhook has no secret; receivers cannot verify notifications")
	}
	if n.Webhook.URL != "" && n.Rate.Every == 0 {
		d.addWarning(r, "notify", "notify.rate.every",
			"webhook notifications are not rate limited")
	}
}

func (d *Doctor) validateState(r *Result) {
	if d.cfg.State.Path == "" || d.cfg.State.Path == ":memory:" {
		return
	}
	if err := storage.CheckLocalFilesystem(d.cfg.State.Path); err != nil {
		d.addError(r, "state", "state.path", err.Error())
	}
}

func (d *Doctor) validateAPI(r *Result) {
	a := d.cfg.API
	if !a.Enabled {
		return
	}
	for i, tok := range a.Auth.Tokens {
		if tok.Token == "" {
			d.addWarning(r, "api", fmt.Sprintf("api.auth.tokens[%d].token", i),
				"token value is empty (possibly unresolved environment variable)")
		}
		for j, scope := range tok.Scopes {
			if !auth.KnownScope(strings.TrimSpace(scope)) {
				d.addError(r, "api", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q", scope))
			}
		}
	}
	if a.Auth.APIKey != "" {
		d.addWarning(r, "api", "api.auth.api_key",
			"api_key grants full access; prefer scoped tokens")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
