package journal

import (
	"encoding/json"
	"time"
)

// Entry is one finished invocation.
type Entry struct {
	ID            string          `json:"id"`
	FunctionName  string          `json:"function_name"`
	RequestID     string          `json:"request_id,omitempty"`
	Outcome       string          `json:"outcome"`
	WorkerPID     int             `json:"worker_pid,omitempty"`
	WorkerSpawned bool            `json:"worker_spawned"`
	ExitCode      *int            `json:"exit_code,omitempty"`
	EventDigest   string          `json:"event_digest"`
	Event         json.RawMessage `json:"event,omitempty"`
	Output        string          `json:"output"`
	HasData       bool            `json:"has_data"`
	Diagnostic    string          `json:"diagnostic,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	DeadlineAt    time.Time       `json:"deadline_at"`
	CompletedAt   time.Time       `json:"completed_at"`
	Duration      time.Duration   `json:"duration"`
}

// NotificationRecord is one attempted failure notification.
type NotificationRecord struct {
	ID           string    `json:"id"`
	InvocationID string    `json:"invocation_id"`
	Kind         string    `json:"kind"`
	Subject      string    `json:"subject"`
	DedupeKey    string    `json:"dedupe_key,omitempty"`
	Delivered    bool      `json:"delivered"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Filter narrows Recent.
type Filter struct {
	Outcome string
	Limit   int
}
