// Package response consumes a worker's output stream until the completion
// sentinel, end of stream, or the invocation deadline, whichever comes first.
package response

import (
	"context"
	"io"
	"strings"

	"github.com/mattjoyce/warmbridge/internal/deadline"
	"github.com/mattjoyce/warmbridge/internal/protocol"
)

// Status says why reading stopped.
type Status int

const (
	// Expired means the deadline passed, or the context ended, first.
	Expired Status = iota
	// Complete means the sentinel line was seen.
	Complete
	// Closed means the stream ended before the sentinel.
	Closed
)

func (s Status) String() string {
	switch s {
	case Complete:
		return "complete"
	case Closed:
		return "closed"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Capture is the ordered output collected during one invocation.
// The sentinel line is never part of it.
type Capture struct {
	Lines  []string
	Status Status
}

// Append adds lines to the capture.
func (c *Capture) Append(lines ...string) {
	c.Lines = append(c.Lines, lines...)
}

// Text joins the captured lines as they were written.
func (c Capture) Text() string {
	return strings.Join(c.Lines, "")
}

// Read consumes lines until the sentinel, the end of the stream, or d.
// Each captured line is also written to echo when it is non-nil.
//
// Lines arrive whole: a sentinel split across two writes by the worker is
// reassembled before comparison. A trailing fragment without a newline at
// end of stream is captured as-is.
func Read(ctx context.Context, lines <-chan string, d deadline.Deadline, echo io.Writer) Capture {
	var c Capture
	if d.Expired() {
		c.Status = Expired
		return c
	}

	timer := d.Timer()
	defer timer.Stop()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				c.Status = Closed
				return c
			}
			if line == protocol.Sentinel {
				c.Status = Complete
				return c
			}
			if echo != nil {
				_, _ = io.WriteString(echo, line)
			}
			c.Append(line)
		case <-timer.C:
			c.Status = Expired
			return c
		case <-ctx.Done():
			c.Status = Expired
			return c
		}
	}
}
