package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/mattjoyce/warmbridge/internal/config"
	"github.com/mattjoyce/warmbridge/internal/log"
	"github.com/mattjoyce/warmbridge/internal/protocol"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	// Drain concurrently so chatty commands cannot fill the pipe.
	stdoutCh := make(chan string, 1)
	stderrCh := make(chan string, 1)
	go func() { b, _ := io.ReadAll(stdoutR); stdoutCh <- string(b) }()
	go func() { b, _ := io.ReadAll(stderrR); stderrCh <- string(b) }()

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdout := <-stdoutCh
	stderr := <-stderrCh
	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, stdout, stderr
}

func setVersionMetadataForTest(t *testing.T, v, commit, built string) {
	t.Helper()

	origVersion := version
	origCommit := gitCommit
	origBuildDate := buildDate

	version = v
	gitCommit = commit
	buildDate = built

	t.Cleanup(func() {
		version = origVersion
		gitCommit = origCommit
		buildDate = origBuildDate
	})
}

// echoWorkerPath returns the sample worker shipped with the repo.
func echoWorkerPath(t *testing.T) string {
	t.Helper()
	p, err := filepath.Abs(filepath.Join("..", "..", "workers", "echo", "worker.sh"))
	if err != nil {
		t.Fatalf("abs: %v", err)
	}
	if _, err := os.Stat(p); err != nil {
		t.Fatalf("echo worker missing: %v", err)
	}
	return p
}

// writeTestConfig writes a config.yaml wired to the echo worker and returns its directory.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	taskRoot := filepath.Join(dir, "task")
	if err := os.MkdirAll(taskRoot, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	body := `service:
  log_level: error
function:
  name: resize
  task_root: ` + taskRoot + `
worker:
  executable: ` + echoWorkerPath(t) + `
  args: []
  bootstrap: ""
handoff:
  input_path: ` + filepath.Join(dir, "lambda_in") + `
  output_path: ` + filepath.Join(dir, "lambda_out") + `
limits:
  safety_margin: 0s
  exit_code_wait: 2s
state:
  path: ` + filepath.Join(dir, "data", "warmbridge.db") + `
`
	if err := os.WriteFile(filepath.Join(dir, config.ConfigFileName), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

func writeEvent(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "event.json")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write event: %v", err)
	}
	return p
}

func TestRunVersionJSON(t *testing.T) {
	setVersionMetadataForTest(t, "1.2.3", "0123456789abcdef0123", "2026-01-02T03:04:05+10:00")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"version", "--json"})
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%q", code, stderr)
	}

	var info versionInfo
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("version output is not JSON: %v (%q)", err, stdout)
	}
	if info.Version != "1.2.3" {
		t.Fatalf("version = %q", info.Version)
	}
	if info.Commit != "0123456789ab" {
		t.Fatalf("commit = %q, want shortened to 12 chars", info.Commit)
	}
	if info.BuildTime != "2026-01-01T17:04:05Z" {
		t.Fatalf("build_time = %q, want UTC", info.BuildTime)
	}
}

func TestRunVersionRejectsArgs(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"version", "extra"})
	})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Usage: warmbridge version") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestNormalizeBuildTimeUTC(t *testing.T) {
	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{raw: "", wantOK: false},
		{raw: "unknown", wantOK: false},
		{raw: "not-a-time", wantOK: false},
		{raw: "2026-03-04T05:06:07Z", want: "2026-03-04T05:06:07Z", wantOK: true},
		{raw: "2026-03-04T05:06:07.123456789-02:00", want: "2026-03-04T07:06:07Z", wantOK: true},
	}
	for _, tt := range tests {
		got, ok := normalizeBuildTimeUTC(tt.raw)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("normalizeBuildTimeUTC(%q) = (%q, %v), want (%q, %v)", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestRunCLIUnknownCommand(t *testing.T) {
	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"frobnicate"})
	})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Unknown command: frobnicate") {
		t.Fatalf("stderr = %q", stderr)
	}
	if !strings.Contains(stdout, "Usage:") {
		t.Fatalf("usage not printed: %q", stdout)
	}
}

func TestRunNounActionHelp(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{args: []string{"system", "help"}, want: "Actions: start, status"},
		{args: []string{"config", "--help"}, want: "Actions: check, lock, show"},
		{args: []string{"invocation", "-h"}, want: "Actions: list, inspect, watch, prune"},
		{args: []string{"system", "start", "--help"}, want: "Usage: warmbridge system start"},
		{args: []string{"config", "lock", "--help"}, want: "Usage: warmbridge config lock"},
		{args: []string{"invocation", "inspect", "--help"}, want: "Usage: warmbridge invocation inspect"},
		{args: []string{"invoke", "--help"}, want: "Usage: warmbridge invoke"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, "_"), func(t *testing.T) {
			code, stdout, stderr := captureOutputWithExitCode(t, func() int {
				return runCLI(tt.args)
			})
			if code != 0 {
				t.Fatalf("exit code = %d, stderr=%q", code, stderr)
			}
			if !strings.Contains(stdout, tt.want) {
				t.Fatalf("stdout = %q, want substring %q", stdout, tt.want)
			}
		})
	}
}

func TestRunUnknownAction(t *testing.T) {
	for _, noun := range []string{"system", "config", "invocation"} {
		code, _, stderr := captureOutputWithExitCode(t, func() int {
			return runCLI([]string{noun, "explode"})
		})
		if code != 1 {
			t.Fatalf("%s: exit code = %d, want 1", noun, code)
		}
		if !strings.Contains(stderr, "Unknown "+noun+" action: explode") {
			t.Fatalf("%s: stderr = %q", noun, stderr)
		}
	}
}

func TestRunConfigLockWritesChecksums(t *testing.T) {
	dir := writeTestConfig(t)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "lock", "--config", dir, "-v"})
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%q", code, stderr)
	}
	if !regexp.MustCompile(`HASH config\.yaml: [0-9a-f]{64}`).MatchString(stdout) {
		t.Fatalf("stdout missing hash line: %q", stdout)
	}
	if _, err := os.Stat(filepath.Join(dir, config.ChecksumFileName)); err != nil {
		t.Fatalf(".checksums not written: %v", err)
	}
	if _, err := config.Load(dir); err != nil {
		t.Fatalf("locked config should load: %v", err)
	}

	// Tampering after the lock must be caught.
	f, err := os.OpenFile(filepath.Join(dir, config.ConfigFileName), os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, _ = f.WriteString("# edited\n")
	_ = f.Close()
	if _, err := config.Load(dir); err == nil {
		t.Fatal("expected checksum mismatch after edit")
	}
}

func TestRunConfigLockDryRun(t *testing.T) {
	dir := writeTestConfig(t)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "lock", "--config", dir, "--dry-run"})
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%q", code, stderr)
	}
	if !strings.Contains(stdout, "Dry run completed") {
		t.Fatalf("stdout = %q", stdout)
	}
	if _, err := os.Stat(filepath.Join(dir, config.ChecksumFileName)); !os.IsNotExist(err) {
		t.Fatalf("dry run wrote .checksums (err=%v)", err)
	}
}

func TestRunConfigLockRefusesInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, config.ConfigFileName), []byte("bogus_key: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "lock", "--config", dir})
	})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Refusing to lock invalid config") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestRunConfigShowRedactsSecrets(t *testing.T) {
	dir := writeTestConfig(t)
	f, err := os.OpenFile(filepath.Join(dir, config.ConfigFileName), os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString("notify:\n  webhook:\n    url: https://hooks.example.com/x\n    secret: hunter2\n")
	_ = f.Close()

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "show", "--config", dir})
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%q", code, stderr)
	}
	if strings.Contains(stdout, "hunter2") {
		t.Fatalf("secret leaked: %q", stdout)
	}
	if !strings.Contains(stdout, redacted) {
		t.Fatalf("stdout = %q, want redaction marker", stdout)
	}
	if !strings.Contains(stdout, "name: resize") {
		t.Fatalf("stdout = %q, want function name", stdout)
	}
}

func TestRunInvokeCompleted(t *testing.T) {
	dir := writeTestConfig(t)
	event := writeEvent(t, dir, `{"bucket": "photos", "key": "a.jpg"}`)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"invoke", "--config", dir, "--event", event, "--remaining-ms", "10000"})
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%q", code, stderr)
	}

	var result protocol.Result
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("stdout is not a result: %v (%q)", err, stdout)
	}
	if result.Data == nil {
		t.Fatal("expected result data from the echo worker")
	}
	req, err := protocol.DecodeRequest(strings.NewReader(*result.Data))
	if err != nil {
		t.Fatalf("data is not the request document: %v", err)
	}
	if req.Context.FunctionName != "resize" {
		t.Fatalf("function_name = %q", req.Context.FunctionName)
	}
	if req.Context.RemainingTimeMillis != 10000 {
		t.Fatalf("remaining_time_ms = %d", req.Context.RemainingTimeMillis)
	}
	if protocol.CompactJSON(req.Event) != `{"bucket":"photos","key":"a.jpg"}` {
		t.Fatalf("event = %s", req.Event)
	}
	if !strings.Contains(result.Stdout, "echo worker: request received") {
		t.Fatalf("stdout capture = %q", result.Stdout)
	}
	if !strings.Contains(stderr, "echo worker: request received") {
		t.Fatalf("worker output should be echoed to stderr: %q", stderr)
	}
}

func TestRunInvokeCrashed(t *testing.T) {
	dir := writeTestConfig(t)
	event := writeEvent(t, dir, `{"mode":"crash"}`)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"invoke", "--config", dir, "--event", event, "--remaining-ms", "10000"})
	})
	if code != exitInvocationFailed {
		t.Fatalf("exit code = %d, want %d (stderr=%q)", code, exitInvocationFailed, stderr)
	}
	if stdout != "" {
		t.Fatalf("stdout = %q, want empty", stdout)
	}
	if !strings.Contains(stderr, "EOF on worker stdout! Exit code: 3") {
		t.Fatalf("stderr = %q", stderr)
	}
	if !strings.Contains(stderr, "echo worker: crashing on request") {
		t.Fatalf("stderr should carry the worker output: %q", stderr)
	}
}

func TestRunInvokeRequiresEvent(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"invoke"})
	})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Usage: warmbridge invoke") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestRunInvocationListAndInspect(t *testing.T) {
	dir := writeTestConfig(t)
	event := writeEvent(t, dir, `{"mode":"nodata"}`)

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"invoke", "--config", dir, "--event", event, "--remaining-ms", "10000"})
	})
	if code != 0 {
		t.Fatalf("invoke exit code = %d, stderr=%q", code, stderr)
	}

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"invocation", "list", "--config", dir, "--json"})
	})
	if code != 0 {
		t.Fatalf("list exit code = %d, stderr=%q", code, stderr)
	}
	var entries []struct {
		ID      string `json:"id"`
		Outcome string `json:"outcome"`
		HasData bool   `json:"has_data"`
	}
	if err := json.Unmarshal([]byte(stdout), &entries); err != nil {
		t.Fatalf("list output is not JSON: %v (%q)", err, stdout)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Outcome != "completed" || entries[0].HasData {
		t.Fatalf("entry = %+v", entries[0])
	}

	code, stdout, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"invocation", "inspect", entries[0].ID, "--config", dir, "--json"})
	})
	if code != 0 {
		t.Fatalf("inspect exit code = %d, stderr=%q", code, stderr)
	}
	if !strings.Contains(stdout, entries[0].ID) {
		t.Fatalf("inspect output = %q", stdout)
	}

	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"invocation", "inspect", "does-not-exist", "--config", dir})
	})
	if code != 1 {
		t.Fatalf("inspect of unknown id exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Inspect failed") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestRunSystemStatus(t *testing.T) {
	dir := writeTestConfig(t)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"system", "status", "--config", dir, "--json"})
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%q stdout=%q", code, stderr, stdout)
	}
	var report statusReport
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("status output is not JSON: %v", err)
	}
	if !report.Healthy || len(report.Checks) != 3 {
		t.Fatalf("report = %+v", report)
	}
	if !strings.Contains(report.Checks[2].Message, "is free") {
		t.Fatalf("lock check = %+v", report.Checks[2])
	}
}

func TestReadEventTreatsEmptyAsNull(t *testing.T) {
	got, err := readEvent("-", strings.NewReader("  \n"))
	if err != nil {
		t.Fatalf("readEvent: %v", err)
	}
	if string(got) != "null" {
		t.Fatalf("event = %s, want null", got)
	}

	if _, err := readEvent("-", strings.NewReader("{oops")); err == nil {
		t.Fatal("expected invalid JSON error")
	}
}
