package worker

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mattjoyce/warmbridge/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	goleak.VerifyTestMain(m)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func startProcess(t *testing.T, body string) *Process {
	t.Helper()
	p := New(Spec{Executable: writeScript(t, body)})
	t.Cleanup(func() { p.Shutdown(500 * time.Millisecond) })
	return p
}

func nextLine(t *testing.T, h *Handle) (string, bool) {
	t.Helper()
	select {
	case line, ok := <-h.Lines():
		return line, ok
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for worker output")
		return "", false
	}
}

func TestSpecCommand(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		want []string
	}{
		{
			name: "bootstrap template",
			spec: Spec{
				Executable: "/opt/task/bin/julia",
				Args:       []string{"-i", "-e"},
				Module:     "module_resize",
				Bootstrap:  "using {module}; using WorkerLoop; WorkerLoop.main({module});",
			},
			want: []string{"/opt/task/bin/julia", "-i", "-e", "using module_resize; using WorkerLoop; WorkerLoop.main(module_resize);"},
		},
		{
			name: "module as final argument",
			spec: Spec{Executable: "node", Args: []string{"--import"}, Module: "handler"},
			want: []string{"node", "--import", "handler"},
		},
		{
			name: "bare executable",
			spec: Spec{Executable: "/bin/worker"},
			want: []string{"/bin/worker"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.spec.Command())
		})
	}
}

func TestSpecValidate(t *testing.T) {
	assert.Error(t, Spec{}.Validate())
	assert.Error(t, Spec{Executable: "x", Bootstrap: "load({module})"}.Validate())
	assert.NoError(t, Spec{Executable: "x", Module: "m", Bootstrap: "load({module})"}.Validate())
}

func TestEnsureAliveReusesLiveWorker(t *testing.T) {
	p := startProcess(t, "while read line; do echo ok; done\n")

	h1, spawned, err := p.EnsureAlive(context.Background())
	require.NoError(t, err)
	assert.True(t, spawned)
	assert.True(t, p.IsAlive())
	assert.Equal(t, h1.PID(), p.PID())

	h2, spawned, err := p.EnsureAlive(context.Background())
	require.NoError(t, err)
	assert.False(t, spawned, "live worker must not be respawned")
	assert.Equal(t, h1.PID(), h2.PID())
}

func TestHandshakeOverStdin(t *testing.T) {
	p := startProcess(t, "read line; echo got-request\nwhile true; do sleep 1; done\n")

	h, _, err := p.EnsureAlive(context.Background())
	require.NoError(t, err)

	_, err = h.Stdin().Write([]byte("\n"))
	require.NoError(t, err)

	line, ok := nextLine(t, h)
	require.True(t, ok)
	assert.Equal(t, "got-request\n", line)
}

func TestStdoutAndStderrAreMerged(t *testing.T) {
	p := startProcess(t, "echo out\necho err 1>&2\nwhile true; do sleep 1; done\n")

	h, _, err := p.EnsureAlive(context.Background())
	require.NoError(t, err)

	first, _ := nextLine(t, h)
	second, _ := nextLine(t, h)
	assert.ElementsMatch(t, []string{"out\n", "err\n"}, []string{first, second})
}

func TestPartialFinalLineIsDelivered(t *testing.T) {
	p := startProcess(t, "printf 'no newline'\n")

	h, _, err := p.EnsureAlive(context.Background())
	require.NoError(t, err)

	line, ok := nextLine(t, h)
	require.True(t, ok)
	assert.Equal(t, "no newline", line)

	_, ok = nextLine(t, h)
	assert.False(t, ok, "stream should close after the final fragment")
}

func TestDiscardReportsExitCode(t *testing.T) {
	p := startProcess(t, "echo boom\nexit 3\n")

	h, _, err := p.EnsureAlive(context.Background())
	require.NoError(t, err)

	for {
		if _, ok := nextLine(t, h); !ok {
			break
		}
	}

	code, known := p.Discard(2 * time.Second)
	assert.True(t, known)
	assert.Equal(t, 3, code)
	assert.False(t, p.IsAlive())
	assert.Nil(t, p.Current())
}

func TestEnsureAliveRespawnsAfterExit(t *testing.T) {
	p := startProcess(t, "read line\nexit 0\n")

	h1, spawned, err := p.EnsureAlive(context.Background())
	require.NoError(t, err)
	require.True(t, spawned)

	_, err = h1.Stdin().Write([]byte("\n"))
	require.NoError(t, err)
	select {
	case <-h1.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit")
	}
	assert.False(t, p.IsAlive())

	h2, spawned, err := p.EnsureAlive(context.Background())
	require.NoError(t, err)
	assert.True(t, spawned)
	assert.NotEqual(t, h1.PID(), h2.PID())
}

func TestTerminateAndDrainCollectsTrailingOutput(t *testing.T) {
	p := startProcess(t, "trap 'echo shutting-down; exit 0' TERM\necho ready\nwhile true; do sleep 0.05; done\n")

	h, _, err := p.EnsureAlive(context.Background())
	require.NoError(t, err)
	line, _ := nextLine(t, h)
	require.Equal(t, "ready\n", line)

	var echo bytes.Buffer
	trailing := p.TerminateAndDrain(2*time.Second, &echo)

	assert.Contains(t, trailing, "shutting-down\n")
	assert.Contains(t, echo.String(), "shutting-down\n")
	assert.Nil(t, p.Current(), "handle must be cleared")
	code, known := h.ExitCode()
	assert.True(t, known)
	assert.Equal(t, 0, code)
}

func TestTerminateAndDrainEscalatesToKill(t *testing.T) {
	p := startProcess(t, "trap '' TERM\necho ready\nwhile true; do sleep 0.05; done\n")

	h, _, err := p.EnsureAlive(context.Background())
	require.NoError(t, err)
	nextLine(t, h)

	start := time.Now()
	p.TerminateAndDrain(200*time.Millisecond, nil)
	assert.Less(t, time.Since(start), 3*time.Second)

	code, known := h.ExitCode()
	require.True(t, known, "worker should be reaped after SIGKILL")
	assert.Equal(t, 128+9, code)
	assert.False(t, p.IsAlive())
}

func TestTerminateAndDrainWithoutWorker(t *testing.T) {
	p := New(Spec{Executable: "/bin/true"})
	assert.Nil(t, p.TerminateAndDrain(time.Second, nil))
	code, known := p.Discard(time.Millisecond)
	assert.False(t, known)
	assert.Zero(t, code)
}

func TestSpawnFailure(t *testing.T) {
	p := New(Spec{Executable: filepath.Join(t.TempDir(), "missing")})

	_, _, err := p.EnsureAlive(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSpawn))
	assert.False(t, p.IsAlive())
}

func TestSpawnRespectsCancelledContext(t *testing.T) {
	p := New(Spec{Executable: "/bin/true"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := p.EnsureAlive(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSpawn))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestWorkerEnvironment(t *testing.T) {
	script := writeScript(t, "echo \"$WARM_TEST_VALUE\"\nwhile true; do sleep 1; done\n")
	p := New(Spec{Executable: script, Env: []string{"WARM_TEST_VALUE=from-spec", "PATH=/usr/bin:/bin"}})
	t.Cleanup(func() { p.Shutdown(500 * time.Millisecond) })

	h, _, err := p.EnsureAlive(context.Background())
	require.NoError(t, err)
	line, _ := nextLine(t, h)
	assert.Equal(t, "from-spec\n", line)
}

func TestSplitWritesArriveAsOneLine(t *testing.T) {
	p := startProcess(t, "printf '\\000'\nsleep 0.1\nprintf '\\n'\nwhile true; do sleep 1; done\n")

	h, _, err := p.EnsureAlive(context.Background())
	require.NoError(t, err)

	line, ok := nextLine(t, h)
	require.True(t, ok)
	assert.Equal(t, "\x00\n", line)
}
