package supervisor

import (
	"encoding/json"
	"time"

	"github.com/mattjoyce/warmbridge/internal/protocol"
)

// Kind tags an Outcome. Exactly one applies per invocation.
type Kind string

const (
	KindCompleted    Kind = "completed"
	KindTimedOut     Kind = "timed_out"
	KindCrashed      Kind = "crashed"
	KindSpawnFailure Kind = "spawn_failed"

	// KindHandoffFailure means the handoff files could not be written or read.
	KindHandoffFailure Kind = "handoff_failed"
)

// Invocation is one call. It is not modified by the supervisor.
type Invocation struct {
	// ID identifies the invocation in logs and the journal. Generated when empty.
	ID      string
	Event   json.RawMessage
	Context protocol.CallerContext
}

// Outcome describes how an invocation ended.
type Outcome struct {
	InvocationID  string
	Kind          Kind
	Result        *protocol.Result
	Output        string
	Diagnostic    string
	ExitCode      *int
	WorkerPID     int
	WorkerSpawned bool
	StartedAt     time.Time
	DeadlineAt    time.Time
	Duration      time.Duration

	cause error
}

// OK reports whether the invocation completed.
func (o Outcome) OK() bool {
	return o.Kind == KindCompleted
}

// Err returns nil for completed invocations and an *InvocationError otherwise.
func (o Outcome) Err() error {
	if o.OK() {
		return nil
	}
	return &InvocationError{Kind: o.Kind, Diagnostic: o.Diagnostic, Cause: o.cause}
}

// InvocationError is the failure of one invocation. Its text is the diagnostic.
type InvocationError struct {
	Kind       Kind
	Diagnostic string
	Cause      error
}

func (e *InvocationError) Error() string {
	if e.Diagnostic != "" {
		return e.Diagnostic
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return string(e.Kind)
}

func (e *InvocationError) Unwrap() error {
	return e.Cause
}
