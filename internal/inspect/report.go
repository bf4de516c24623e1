// Package inspect renders journal entries for the terminal.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/warmbridge/internal/journal"
	"github.com/mattjoyce/warmbridge/internal/protocol"
)

// Source is the journal read side a report needs.
type Source interface {
	Get(ctx context.Context, id string) (*journal.Entry, error)
	Notifications(ctx context.Context, invocationID string) ([]journal.NotificationRecord, error)
}

// Report is the structured JSON representation of one invocation.
type Report struct {
	journal.Entry
	Notifications []journal.NotificationRecord `json:"notifications"`
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// BuildReport renders a terminal-friendly report for an invocation.
func BuildReport(ctx context.Context, src Source, id string) (string, error) {
	report, err := gatherReportData(ctx, src, id)
	if err != nil {
		return "", err
	}
	e := report.Entry

	var out strings.Builder
	fmt.Fprintf(&out, "%s\n", headerStyle.Render("Invocation Report"))
	fmt.Fprintf(&out, "ID          : %s\n", e.ID)
	fmt.Fprintf(&out, "Function    : %s\n", e.FunctionName)
	fmt.Fprintf(&out, "Request ID  : %s\n", renderUnset(e.RequestID, "<none>"))
	fmt.Fprintf(&out, "Outcome     : %s\n", renderOutcome(e.Outcome))
	fmt.Fprintf(&out, "Worker PID  : %s\n", renderPID(e.WorkerPID, e.WorkerSpawned))
	if e.ExitCode != nil {
		fmt.Fprintf(&out, "Exit code   : %d\n", *e.ExitCode)
	}
	fmt.Fprintf(&out, "Started     : %s\n", e.StartedAt.Format(time.RFC3339Nano))
	fmt.Fprintf(&out, "Deadline    : %s\n", e.DeadlineAt.Format(time.RFC3339Nano))
	fmt.Fprintf(&out, "Duration    : %s\n", e.Duration)
	fmt.Fprintf(&out, "Data        : %t\n", e.HasData)
	fmt.Fprintf(&out, "Event digest: %s\n", e.EventDigest)
	fmt.Fprintf(&out, "\n")

	writeBlock(&out, "event", protocol.PrettyJSON(e.Event))
	writeBlock(&out, "output", e.Output)
	if e.Diagnostic != "" {
		writeBlock(&out, "diagnostic", e.Diagnostic)
	}

	if len(report.Notifications) == 0 {
		fmt.Fprintf(&out, "notifications: <none>\n")
	} else {
		fmt.Fprintf(&out, "notifications:\n")
		for _, n := range report.Notifications {
			status := okStyle.Render("delivered")
			if !n.Delivered {
				status = failStyle.Render("failed: " + n.Error)
			}
			fmt.Fprintf(&out, "  - [%s] %s (%s)\n", n.Kind, n.Subject, status)
		}
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON report.
func BuildJSONReport(ctx context.Context, src Source, id string) (string, error) {
	report, err := gatherReportData(ctx, src, id)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

// FormatList renders entries as one line each, newest first as given.
func FormatList(entries []journal.Entry) string {
	if len(entries) == 0 {
		return "No invocations recorded.\n"
	}
	var out strings.Builder
	fmt.Fprintf(&out, "%s\n", headerStyle.Render(fmt.Sprintf("%-36s  %-20s  %-14s  %10s  %s",
		"ID", "STARTED", "OUTCOME", "DURATION", "FUNCTION")))
	for _, e := range entries {
		fmt.Fprintf(&out, "%-36s  %-20s  %s  %10s  %s\n",
			e.ID,
			e.StartedAt.UTC().Format("2006-01-02 15:04:05"),
			renderOutcome(fmt.Sprintf("%-14s", e.Outcome)),
			e.Duration.Round(time.Millisecond),
			e.FunctionName,
		)
	}
	return out.String()
}

func gatherReportData(ctx context.Context, src Source, id string) (*Report, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("invocation id is required")
	}

	entry, err := src.Get(ctx, id)
	if errors.Is(err, journal.ErrNotFound) {
		return nil, fmt.Errorf("invocation %q not found", id)
	}
	if err != nil {
		return nil, err
	}

	notes, err := src.Notifications(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load notifications: %w", err)
	}
	if notes == nil {
		notes = []journal.NotificationRecord{}
	}
	return &Report{Entry: *entry, Notifications: notes}, nil
}

func writeBlock(out *strings.Builder, label, body string) {
	fmt.Fprintf(out, "%s:\n", label)
	body = strings.TrimRight(body, "\n")
	if body == "" {
		fmt.Fprintf(out, "  <empty>\n\n")
		return
	}
	for _, line := range strings.Split(body, "\n") {
		fmt.Fprintf(out, "  %s\n", line)
	}
	fmt.Fprintf(out, "\n")
}

func renderOutcome(outcome string) string {
	if strings.TrimSpace(outcome) == "completed" {
		return okStyle.Render(outcome)
	}
	return failStyle.Render(outcome)
}

func renderPID(pid int, spawned bool) string {
	if pid == 0 {
		return "<none>"
	}
	if spawned {
		return fmt.Sprintf("%d (spawned)", pid)
	}
	return fmt.Sprintf("%d (warm)", pid)
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
