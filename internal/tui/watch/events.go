package watch

import (
	"fmt"
	"strings"

	"github.com/mattjoyce/warmbridge/internal/events"
)

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Local().Format("15:04:05"))
	suffix := e.Type[strings.LastIndex(e.Type, ".")+1:]
	if e.Type == events.WorkerSpawned {
		suffix = "started"
	}
	typeName := theme.outcomeStyle(suffix).Render(fmt.Sprintf("%-26s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, extractEventDesc(e))
}

func extractEventDesc(e events.Event) string {
	d := decodeEventData(e)

	var parts []string
	if d.InvocationID != "" {
		id := d.InvocationID
		if len(id) > 8 {
			id = id[:8]
		}
		parts = append(parts, fmt.Sprintf("[%s]", id))
	}
	if d.Function != "" {
		parts = append(parts, d.Function)
	}
	if d.PID > 0 {
		parts = append(parts, fmt.Sprintf("pid %d", d.PID))
	}
	if d.Outcome != "" {
		parts = append(parts, fmt.Sprintf("%s in %dms", d.Outcome, d.DurationMS))
	}
	if d.Error != "" {
		parts = append(parts, d.Error)
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}

func renderEventLines(eventLog []events.Event, theme Theme) string {
	if len(eventLog) == 0 {
		return theme.Dim.Render("Waiting for events...")
	}
	lines := make([]string, 0, len(eventLog))
	for _, e := range eventLog {
		lines = append(lines, formatEvent(e, theme))
	}
	return strings.Join(lines, "\n")
}
