// Package supervisor runs invocations against a warm worker process.
//
// Each invocation follows the same path:
//   - clear the previous output artifact and write the request file
//   - make sure a worker is running, spawning one if needed
//   - send the ready signal and read output until sentinel, EOF or deadline
//   - classify the result, reporting crashes and timeouts best effort
//
// A worker that completes is kept for the next invocation. A worker that
// crashes or times out is reaped and the next invocation starts a fresh one.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/warmbridge/internal/deadline"
	"github.com/mattjoyce/warmbridge/internal/events"
	"github.com/mattjoyce/warmbridge/internal/handoff"
	"github.com/mattjoyce/warmbridge/internal/journal"
	"github.com/mattjoyce/warmbridge/internal/log"
	"github.com/mattjoyce/warmbridge/internal/metrics"
	"github.com/mattjoyce/warmbridge/internal/notify"
	"github.com/mattjoyce/warmbridge/internal/protocol"
	"github.com/mattjoyce/warmbridge/internal/response"
	"github.com/mattjoyce/warmbridge/internal/worker"
)

const (
	// DefaultGraceWindow is how long output is drained after SIGTERM on timeout.
	DefaultGraceWindow = time.Second

	// DefaultExitCodeWait is how long to wait for an exit code after EOF.
	DefaultExitCodeWait = 100 * time.Millisecond

	timeoutMarker = "Timeout!\n"
)

// WorkerProcess is the worker lifecycle the supervisor drives.
type WorkerProcess interface {
	EnsureAlive(ctx context.Context) (*worker.Handle, bool, error)
	IsAlive() bool
	Current() *worker.Handle
	TerminateAndDrain(grace time.Duration, echo io.Writer) []string
	Discard(wait time.Duration) (int, bool)
	Shutdown(grace time.Duration)
}

// Journal records finished invocations and notification attempts.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
	RecordNotification(ctx context.Context, n notify.Notification, deliveryErr error) error
}

// Config wires a Supervisor. Worker and Handoff are required.
type Config struct {
	Worker    WorkerProcess
	Handoff   *handoff.Channel
	Deadlines *deadline.Controller

	GraceWindow  time.Duration
	ExitCodeWait time.Duration
	SubjectLimit int

	Sink    notify.Sink
	Journal Journal
	Events  events.Publisher
	Metrics *metrics.Recorder

	// Echo receives worker output as it arrives. Nil disables echoing.
	Echo io.Writer
	// CPUModel is appended to failure diagnostics.
	CPUModel string
}

// Status is a point-in-time view for health endpoints.
type Status struct {
	State       State `json:"state"`
	WorkerAlive bool  `json:"worker_alive"`
	WorkerPID   int   `json:"worker_pid,omitempty"`
	// WorkerStartedAt is when the warm worker was spawned.
	WorkerStartedAt time.Time `json:"worker_started_at,omitempty"`
	Invocations     uint64    `json:"invocations"`
	LastOutcome     Kind      `json:"last_outcome,omitempty"`
	LastFinishedAt  time.Time `json:"last_finished_at,omitempty"`
	CPUModel        string    `json:"cpu_model"`
}

// Supervisor serializes invocations against one worker.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	invokeMu sync.Mutex

	statusMu    sync.RWMutex
	state       State
	invocations uint64
	lastOutcome Kind
	lastAt      time.Time
}

// New validates cfg and fills defaults.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Worker == nil {
		return nil, errors.New("supervisor: worker is required")
	}
	if cfg.Handoff == nil {
		return nil, errors.New("supervisor: handoff channel is required")
	}
	if cfg.Deadlines == nil {
		cfg.Deadlines = deadline.NewController(deadline.DefaultMargin)
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = DefaultGraceWindow
	}
	if cfg.ExitCodeWait <= 0 {
		cfg.ExitCodeWait = DefaultExitCodeWait
	}
	if cfg.SubjectLimit <= 0 {
		cfg.SubjectLimit = notify.DefaultSubjectLimit
	}
	if cfg.Sink == nil {
		cfg.Sink = notify.Nop{}
	}
	if cfg.Events == nil {
		cfg.Events = nopPublisher{}
	}
	return &Supervisor{
		cfg:    cfg,
		logger: log.WithComponent("supervisor"),
		state:  StateIdle,
	}, nil
}

// Status returns a snapshot of the supervisor.
func (s *Supervisor) Status() Status {
	s.statusMu.RLock()
	st := Status{
		State:          s.state,
		Invocations:    s.invocations,
		LastOutcome:    s.lastOutcome,
		LastFinishedAt: s.lastAt,
		CPUModel:       s.cfg.CPUModel,
	}
	s.statusMu.RUnlock()

	if s.cfg.Worker.IsAlive() {
		if h := s.cfg.Worker.Current(); h != nil {
			st.WorkerAlive = true
			st.WorkerPID = h.PID()
			st.WorkerStartedAt = h.StartedAt()
		}
	}
	return st
}

func (s *Supervisor) setState(st State) {
	s.statusMu.Lock()
	s.state = st
	s.statusMu.Unlock()
}

// Shutdown stops the warm worker, waiting for any running invocation first.
func (s *Supervisor) Shutdown() {
	s.invokeMu.Lock()
	defer s.invokeMu.Unlock()
	s.cfg.Worker.Shutdown(s.cfg.GraceWindow)
	s.cfg.Metrics.SetWorkerAlive(false)
}

func (s *Supervisor) echo(text string) {
	if s.cfg.Echo != nil {
		_, _ = io.WriteString(s.cfg.Echo, text)
	}
}

// Invoke runs one invocation to completion. Calls are serialized. Failures
// are reported in the Outcome rather than as an error.
func (s *Supervisor) Invoke(ctx context.Context, inv Invocation) Outcome {
	s.invokeMu.Lock()
	defer s.invokeMu.Unlock()

	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	dl := s.cfg.Deadlines.Compute(inv.Context.RemainingTimeMillis)
	out := Outcome{
		InvocationID: inv.ID,
		StartedAt:    time.Now(),
		DeadlineAt:   dl.At(),
	}
	logger := s.logger.With("invocation_id", inv.ID, "function", inv.Context.FunctionName)

	s.cfg.Metrics.InvocationStarted()
	defer s.cfg.Metrics.InvocationFinished()

	logger.Info("invocation started",
		"request_id", inv.Context.RequestID,
		"remaining_ms", inv.Context.RemainingTimeMillis,
		"cpu_model", s.cfg.CPUModel,
	)
	s.echo(s.cfg.CPUModel + "\n")
	s.cfg.Events.Publish(events.InvocationStarted, map[string]any{
		"invocation_id": inv.ID,
		"function":      inv.Context.FunctionName,
		"deadline_at":   dl.At(),
	})

	s.run(ctx, inv, dl, &out, logger)
	s.finish(ctx, inv, &out, logger)
	return out
}

func (s *Supervisor) run(ctx context.Context, inv Invocation, dl deadline.Deadline, out *Outcome, logger *slog.Logger) {
	req := &protocol.Request{Event: inv.Event, Context: inv.Context}
	if err := s.cfg.Handoff.WriteRequest(req); err != nil {
		out.Kind = KindHandoffFailure
		out.cause = err
		out.Diagnostic = err.Error()
		return
	}

	if !s.cfg.Worker.IsAlive() {
		s.setState(StateWorkerStarting)
	}
	h, spawned, err := s.cfg.Worker.EnsureAlive(ctx)
	if err != nil {
		s.setState(StateSpawnFailed)
		out.Kind = KindSpawnFailure
		out.cause = err
		out.Diagnostic = err.Error()
		return
	}
	out.WorkerPID = h.PID()
	out.WorkerSpawned = spawned
	if spawned {
		s.cfg.Metrics.WorkerSpawned()
		s.cfg.Events.Publish(events.WorkerSpawned, map[string]any{"pid": h.PID()})
	}

	s.setState(StateAwaitingResponse)
	if err := s.cfg.Handoff.SignalReady(h.Stdin()); err != nil {
		// A dead worker also closes its stdout; the reader reports the crash.
		logger.Warn("failed to signal worker", "pid", h.PID(), "error", err)
	}

	capture := response.Read(ctx, h.Lines(), dl, s.cfg.Echo)

	switch capture.Status {
	case response.Complete:
		s.setState(StateCompleted)
		s.completed(capture, out)

	case response.Closed:
		s.setState(StateCrashed)
		code, known := s.cfg.Worker.Discard(s.cfg.ExitCodeWait)
		msg := "EOF on worker stdout!"
		if known {
			out.ExitCode = &code
			msg += " Exit code: " + strconv.Itoa(code)
		}
		out.Kind = KindCrashed
		out.Output = capture.Text()
		out.Diagnostic = msg + "\n" + out.Output + s.cfg.CPUModel
		logger.Error("worker crashed", "pid", out.WorkerPID, "exit_code_known", known, "exit_code", code)

	case response.Expired:
		s.setState(StateTimedOut)
		s.echo(timeoutMarker)
		capture.Append(timeoutMarker)
		capture.Append(s.cfg.Worker.TerminateAndDrain(s.cfg.GraceWindow, s.cfg.Echo)...)
		out.Kind = KindTimedOut
		out.Output = capture.Text()
		out.Diagnostic = out.Output + s.cfg.CPUModel
		logger.Error("invocation timed out", "pid", out.WorkerPID, "deadline_at", dl.At())
	}
}

func (s *Supervisor) completed(capture response.Capture, out *Outcome) {
	out.Output = capture.Text()
	data, ok, err := s.cfg.Handoff.ReadResult()
	if err != nil {
		out.Kind = KindHandoffFailure
		out.cause = err
		out.Diagnostic = err.Error()
		return
	}
	result := &protocol.Result{Stdout: out.Output}
	if ok {
		result.Data = &data
	}
	out.Kind = KindCompleted
	out.Result = result
}

func (s *Supervisor) finish(ctx context.Context, inv Invocation, out *Outcome, logger *slog.Logger) {
	// Reporting must not be cut short by the caller going away.
	ctx = context.WithoutCancel(ctx)

	if out.Kind == KindTimedOut || out.Kind == KindCrashed {
		s.report(ctx, inv, out, logger)
	}

	out.Duration = time.Since(out.StartedAt)
	s.cfg.Metrics.ObserveInvocation(string(out.Kind), out.Duration)
	s.cfg.Metrics.SetWorkerAlive(s.cfg.Worker.IsAlive())

	if s.cfg.Journal != nil {
		entry := journal.Entry{
			ID:            out.InvocationID,
			FunctionName:  inv.Context.FunctionName,
			RequestID:     inv.Context.RequestID,
			Outcome:       string(out.Kind),
			WorkerPID:     out.WorkerPID,
			WorkerSpawned: out.WorkerSpawned,
			ExitCode:      out.ExitCode,
			Event:         inv.Event,
			Output:        out.Output,
			HasData:       out.Result != nil && out.Result.HasData(),
			Diagnostic:    out.Diagnostic,
			StartedAt:     out.StartedAt,
			DeadlineAt:    out.DeadlineAt,
			CompletedAt:   out.StartedAt.Add(out.Duration),
			Duration:      out.Duration,
		}
		if err := s.cfg.Journal.Record(ctx, entry); err != nil {
			logger.Warn("failed to record invocation", "error", err)
		}
	}

	s.cfg.Events.Publish(eventFor(out.Kind), map[string]any{
		"invocation_id": out.InvocationID,
		"outcome":       out.Kind,
		"duration_ms":   out.Duration.Milliseconds(),
		"worker_pid":    out.WorkerPID,
	})

	s.statusMu.Lock()
	s.invocations++
	s.lastOutcome = out.Kind
	s.lastAt = time.Now()
	s.state = StateIdle
	s.statusMu.Unlock()

	level := slog.LevelInfo
	if !out.OK() {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "invocation finished",
		"outcome", out.Kind,
		"duration_ms", out.Duration.Milliseconds(),
		"worker_spawned", out.WorkerSpawned,
	)
}

// report delivers a failure notification. Nothing here can fail the invocation.
func (s *Supervisor) report(ctx context.Context, inv Invocation, out *Outcome, logger *slog.Logger) {
	kind := notify.KindError
	if out.Kind == KindTimedOut {
		kind = notify.KindTimeout
	}
	n := notify.Build(notify.Failure{
		InvocationID: out.InvocationID,
		Kind:         kind,
		Caller:       inv.Context,
		Event:        inv.Event,
		Output:       out.Output,
	}, s.cfg.SubjectLimit)

	err := notify.Deliver(ctx, logger, s.cfg.Sink, n)
	s.cfg.Metrics.NotificationResult(err)
	if err != nil {
		s.cfg.Events.Publish(events.NotificationFailed, map[string]any{
			"invocation_id": out.InvocationID,
			"error":         err.Error(),
		})
	}
	if s.cfg.Journal != nil {
		if jerr := s.cfg.Journal.RecordNotification(ctx, n, err); jerr != nil {
			logger.Warn("failed to record notification", "error", jerr)
		}
	}
}

func eventFor(k Kind) string {
	switch k {
	case KindCompleted:
		return events.InvocationCompleted
	case KindTimedOut:
		return events.InvocationTimedOut
	case KindCrashed:
		return events.InvocationCrashed
	case KindHandoffFailure:
		return events.InvocationHandoffFailed
	default:
		return events.InvocationSpawnFailed
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}

// String summarises an outcome for logs and the CLI.
func (o Outcome) String() string {
	return fmt.Sprintf("%s (%s)", o.Kind, o.Duration.Round(time.Millisecond))
}
