package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks supervisor health from /healthz polling.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	State         string
	WorkerAlive   bool
	WorkerPID     int
	// WorkerStartedAt is zero while the worker is cold.
	WorkerStartedAt time.Time
	Invocations     uint64
	LastOutcome     string
	CPUModel        string
	Connected       bool
	LastCheck       time.Time
}

func renderHeader(health HealthState, spinner Spinner, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	statusText := theme.Healthy.Render("HEALTHY")
	if !health.Connected {
		statusText = theme.Alarm.Render("CONNECTING")
	} else if health.Status != "ok" && health.Status != "" {
		statusText = theme.Alarm.Render("DEGRADED")
	}

	worker := theme.Dim.Render("cold")
	if health.WorkerAlive {
		worker = theme.Healthy.Render(fmt.Sprintf("warm pid %d", health.WorkerPID))
		if !health.WorkerStartedAt.IsZero() {
			worker += theme.Dim.Render(" for " + formatDuration(now.Sub(health.WorkerStartedAt)))
		}
	}

	lastEvent := "never"
	if !spinner.LastEvent().IsZero() {
		lastEvent = fmt.Sprintf("%s ago", now.Sub(spinner.LastEvent()).Round(time.Second))
	}

	title := " WARMBRIDGE WATCH"
	clock := theme.Dim.Render(now.Format("15:04:05"))
	pad := max(1, innerWidth-lipgloss.Width(title)-lipgloss.Width(clock)-4)
	titleLine := title + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  up %s  state %s  worker %s  invocations %d  last %s",
		statusText,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		theme.Highlight.Render(renderUnset(health.State, "-")),
		worker,
		health.Invocations,
		theme.outcomeStyle(health.LastOutcome).Render(renderUnset(health.LastOutcome, "-")),
	)

	activityLine := fmt.Sprintf(" cpu %s  last event %s %s",
		theme.Dim.Render(renderUnset(health.CPUModel, "unknown")),
		lastEvent,
		spinner.Render(theme),
	)

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine)
	return theme.Panel.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func renderUnset(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
