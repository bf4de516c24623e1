package api

import (
	"encoding/json"

	"github.com/mattjoyce/warmbridge/internal/journal"
	"github.com/mattjoyce/warmbridge/internal/protocol"
	"github.com/mattjoyce/warmbridge/internal/supervisor"
)

// RemainingTimeHeader carries the budget when the body does not.
const RemainingTimeHeader = "X-Remaining-Time-Ms"

// InvocationIDHeader is set on every /invoke response.
const InvocationIDHeader = "X-Invocation-Id"

// InvokeRequest is the JSON body for POST /invoke.
type InvokeRequest struct {
	Event   json.RawMessage         `json:"event"`
	Context *protocol.CallerContext `json:"context,omitempty"`
	// RemainingTimeMillis overrides context.remaining_time_ms.
	RemainingTimeMillis *int64 `json:"remaining_time_ms,omitempty"`
}

// InvokeError is returned when an invocation does not complete.
type InvokeError struct {
	Error        string          `json:"error"`
	Kind         supervisor.Kind `json:"kind"`
	Diagnostic   string          `json:"diagnostic,omitempty"`
	InvocationID string          `json:"invocation_id"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string            `json:"status"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Supervisor    supervisor.Status `json:"supervisor"`
}

// InvocationListResponse is returned by GET /invocations.
type InvocationListResponse struct {
	Invocations []journal.Entry `json:"invocations"`
}

// InvocationDetailResponse is returned by GET /invocations/{id}.
type InvocationDetailResponse struct {
	journal.Entry
	Notifications []journal.NotificationRecord `json:"notifications"`
}
