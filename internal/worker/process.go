// Package worker owns the single long-lived child process that serves
// invocations. The child's stdout and stderr are merged into one line stream.
package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mattjoyce/warmbridge/internal/log"
)

// ErrSpawn wraps every failure to start the worker.
var ErrSpawn = errors.New("worker spawn failed")

const (
	// killWait bounds how long we wait for the kernel to reap after SIGKILL.
	killWait = 2 * time.Second

	// lineBuffer is the number of lines the reader may run ahead of the consumer.
	lineBuffer = 256
)

// Handle is a view of one running child. It stays valid after the child
// exits so callers can still collect its exit code.
type Handle struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *os.File
	lines     chan string
	stop      chan struct{}
	exited    chan struct{}
	code      int
	startedAt time.Time
	release   sync.Once
}

// PID returns the child's process id.
func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// StartedAt returns when the child was started.
func (h *Handle) StartedAt() time.Time {
	return h.startedAt
}

// Stdin is the child's standard input.
func (h *Handle) Stdin() io.Writer {
	return h.stdin
}

// Lines yields merged stdout/stderr lines, including the trailing newline.
// The channel is closed at end of stream.
func (h *Handle) Lines() <-chan string {
	return h.lines
}

// Exited is closed once the child has been reaped.
func (h *Handle) Exited() <-chan struct{} {
	return h.exited
}

// ExitCode returns the exit code if the child has already been reaped.
// Death by signal is reported as 128+signal.
func (h *Handle) ExitCode() (int, bool) {
	select {
	case <-h.exited:
		return h.code, true
	default:
		return 0, false
	}
}

func (h *Handle) alive() bool {
	select {
	case <-h.exited:
		return false
	default:
		return true
	}
}

func (h *Handle) signal(sig unix.Signal) error {
	pid := h.cmd.Process.Pid
	// Negative pid addresses the whole process group.
	if err := unix.Kill(-pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}

// close stops the reader goroutine and releases the stream.
func (h *Handle) close() {
	h.release.Do(func() {
		close(h.stop)
		_ = h.stdout.Close()
	})
}

// Process supervises at most one live worker child at a time.
type Process struct {
	spec   Spec
	argv   []string
	logger *slog.Logger

	mu sync.Mutex
	h  *Handle
}

// New creates a Process for spec. The command line is fixed here.
func New(spec Spec) *Process {
	return &Process{
		spec:   spec,
		argv:   spec.Command(),
		logger: log.WithComponent("worker"),
	}
}

// Command returns the argv used to start the worker.
func (p *Process) Command() []string {
	return append([]string(nil), p.argv...)
}

// EnsureAlive returns the live worker, spawning one if none is running.
// spawned reports whether a new child was started by this call.
func (p *Process) EnsureAlive(ctx context.Context) (h *Handle, spawned bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.h != nil {
		if p.h.alive() {
			return p.h, false, nil
		}
		code, _ := p.h.ExitCode()
		p.logger.Warn("worker exited between invocations", "pid", p.h.PID(), "exit_code", code)
		p.h.close()
		p.h = nil
	}

	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	h, err = p.spawn()
	if err != nil {
		return nil, false, err
	}
	p.h = h
	return h, true, nil
}

func (p *Process) spawn() (*Handle, error) {
	if err := p.spec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	p.logger.Info("starting worker", "command", strings.Join(p.argv, " "))

	cmd := exec.Command(p.argv[0], p.argv[1:]...)
	cmd.Env = p.spec.Env
	cmd.Dir = p.spec.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %w", ErrSpawn, err)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = stdout.Close()
		_ = w.Close()
		return nil, fmt.Errorf("%w: stdin pipe: %w", ErrSpawn, err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = w.Close()
		_ = stdin.Close()
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}
	// The child holds its own copy; ours must go so EOF is seen when it exits.
	_ = w.Close()

	h := &Handle{
		cmd:       cmd,
		stdin:     stdin,
		stdout:    stdout,
		lines:     make(chan string, lineBuffer),
		stop:      make(chan struct{}),
		exited:    make(chan struct{}),
		startedAt: time.Now(),
	}
	go readLines(stdout, h.lines, h.stop)
	go func() {
		h.code = exitCode(cmd.Wait())
		close(h.exited)
	}()

	p.logger.Info("worker started", "pid", h.PID())
	return h, nil
}

func readLines(r io.Reader, out chan<- string, stop <-chan struct{}) {
	defer close(out)
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			select {
			case out <- line:
			case <-stop:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// IsAlive reports whether a worker is running. It never blocks.
func (p *Process) IsAlive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.h != nil && p.h.alive()
}

// Current returns the current handle, or nil.
func (p *Process) Current() *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.h
}

// PID returns the live worker's pid, or 0.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.h == nil || !p.h.alive() {
		return 0
	}
	return p.h.PID()
}

func (p *Process) take() *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.h
	p.h = nil
	return h
}

// TerminateAndDrain sends SIGTERM to the worker's process group and keeps
// collecting output for up to grace. A worker still running after grace is
// killed. The handle is always cleared. Collected lines are echoed to echo
// when it is non-nil.
func (p *Process) TerminateAndDrain(grace time.Duration, echo io.Writer) []string {
	h := p.take()
	if h == nil {
		return nil
	}
	defer h.close()

	if err := h.signal(unix.SIGTERM); err != nil {
		p.logger.Warn("failed to send SIGTERM", "pid", h.PID(), "error", err)
	}

	var trailing []string
	lines := h.lines
	exited := h.exited
	timer := time.NewTimer(grace)
	defer timer.Stop()

drain:
	for lines != nil || exited != nil {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			trailing = append(trailing, line)
			if echo != nil {
				_, _ = io.WriteString(echo, line)
			}
		case <-exited:
			exited = nil
		case <-timer.C:
			break drain
		}
	}

	p.reap(h)
	return trailing
}

// Discard clears the handle after the worker's stream has closed. It waits up
// to wait for the exit code to become available, then kills anything left.
func (p *Process) Discard(wait time.Duration) (code int, known bool) {
	h := p.take()
	if h == nil {
		return 0, false
	}
	defer h.close()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-h.exited:
		return h.code, true
	case <-timer.C:
	}

	p.reap(h)
	return 0, false
}

// reap escalates to SIGKILL if the child is still running and waits for it.
func (p *Process) reap(h *Handle) {
	if !h.alive() {
		return
	}
	p.logger.Warn("worker did not exit, sending SIGKILL", "pid", h.PID())
	if err := h.signal(unix.SIGKILL); err != nil {
		p.logger.Error("failed to send SIGKILL", "pid", h.PID(), "error", err)
	}
	select {
	case <-h.exited:
	case <-time.After(killWait):
		p.logger.Error("worker not reaped after SIGKILL", "pid", h.PID())
	}
}

// Shutdown stops the worker if one is running, discarding its output.
func (p *Process) Shutdown(grace time.Duration) {
	if h := p.Current(); h != nil {
		p.logger.Info("stopping worker", "pid", h.PID())
	}
	p.TerminateAndDrain(grace, nil)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}
	return 1
}
