package protocol

import "encoding/json"

const (
	// Sentinel is the line a worker writes once it has finished a request.
	Sentinel = "\x00\n"

	// ReadySignal is written to the worker's stdin to announce a new request.
	ReadySignal = "\n"
)

// Request is the document written to the handoff input path.
type Request struct {
	Event   json.RawMessage `json:"event"`
	Context CallerContext   `json:"context"`
}

// CallerContext is the flattened caller metadata handed to the worker.
type CallerContext struct {
	FunctionName        string          `json:"function_name"`
	FunctionVersion     string          `json:"function_version,omitempty"`
	InvokedFunctionARN  string          `json:"invoked_function_arn"`
	MemoryLimitMB       int             `json:"memory_limit_in_mb,omitempty"`
	RequestID           string          `json:"aws_request_id"`
	LogGroupName        string          `json:"log_group_name"`
	LogStreamName       string          `json:"log_stream_name"`
	Identity            json.RawMessage `json:"identity,omitempty"`
	ClientContext       json.RawMessage `json:"client_context,omitempty"`
	RemainingTimeMillis int64           `json:"remaining_time_ms"`
}

// Result is returned to the caller after a completed invocation.
// Data is nil when the worker did not write an output artifact.
type Result struct {
	Data   *string `json:"data,omitempty"`
	Stdout string  `json:"stdout"`
}

// HasData reports whether the worker produced an output artifact.
func (r Result) HasData() bool {
	return r.Data != nil
}
