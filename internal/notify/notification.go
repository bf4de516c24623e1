package notify

import (
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/mattjoyce/warmbridge/internal/protocol"
)

// DefaultSubjectLimit is the maximum subject length in characters.
const DefaultSubjectLimit = 100

// Kind distinguishes crash reports from timeout reports.
type Kind string

const (
	KindError   Kind = "error"
	KindTimeout Kind = "timeout"
)

func (k Kind) subjectPrefix() string {
	if k == KindTimeout {
		return "Lambda Timeout: "
	}
	return "Lambda Error: "
}

// Notification is one failure report.
type Notification struct {
	ID           string    `json:"id"`
	InvocationID string    `json:"invocation_id,omitempty"`
	Kind         Kind      `json:"kind"`
	FunctionName string    `json:"function_name"`
	Subject      string    `json:"subject"`
	Message      string    `json:"message"`
	DedupeKey    string    `json:"dedupe_key"`
	CreatedAt    time.Time `json:"created_at"`
}

// Failure is the input for building a Notification.
type Failure struct {
	InvocationID string
	Kind         Kind
	Caller       protocol.CallerContext
	Event        json.RawMessage
	Output       string
}

// Build assembles the subject and body for a failed invocation. The subject
// is truncated to subjectLimit characters; zero means DefaultSubjectLimit.
func Build(f Failure, subjectLimit int) Notification {
	if subjectLimit <= 0 {
		subjectLimit = DefaultSubjectLimit
	}
	subject := TruncateSubject(f.Kind.subjectPrefix()+f.Caller.FunctionName+protocol.CompactJSON(f.Event), subjectLimit)

	var b strings.Builder
	b.WriteString(f.Caller.FunctionName)
	b.WriteString("\n")
	b.WriteString(f.Caller.InvokedFunctionARN)
	b.WriteString("\n")
	b.WriteString(f.Caller.LogGroupName)
	b.WriteString(" ")
	b.WriteString(f.Caller.LogStreamName)
	b.WriteString("\n")
	b.WriteString(protocol.PrettyJSON(f.Event))
	b.WriteString("\n\n")
	b.WriteString(f.Output)
	message := b.String()

	return Notification{
		ID:           uuid.NewString(),
		InvocationID: f.InvocationID,
		Kind:         f.Kind,
		FunctionName: f.Caller.FunctionName,
		Subject:      subject,
		Message:      message,
		DedupeKey:    dedupeKey(subject, message),
		CreatedAt:    time.Now().UTC(),
	}
}

// TruncateSubject cuts s to at most limit characters without splitting a rune.
func TruncateSubject(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

func dedupeKey(subject, message string) string {
	h := blake3.New()
	_, _ = h.Write([]byte(subject))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil)[:16])
}
