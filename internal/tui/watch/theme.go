// Package watch implements "warmbridge invocation watch", a live view of one
// supervisor fed by its /events stream and /healthz.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme holds the styles of the watch screen. Each outcome kind gets its own
// color so timeouts, crashes and cold-start failures read differently.
type Theme struct {
	Healthy  lipgloss.Style
	Pending  lipgloss.Style
	Alarm    lipgloss.Style
	TimedOut lipgloss.Style
	Cold     lipgloss.Style

	Panel      lipgloss.Style
	PanelTitle lipgloss.Style
	Dim        lipgloss.Style
	Highlight  lipgloss.Style

	Pulse     lipgloss.Style
	PulseIdle lipgloss.Style
}

func NewDefaultTheme() Theme {
	fg := func(hex string) lipgloss.Style {
		return lipgloss.NewStyle().Foreground(lipgloss.Color(hex))
	}

	return Theme{
		Healthy:  fg("#5FD787"),
		Pending:  fg("#FFD75F"),
		Alarm:    fg("#FF5F5F").Bold(true),
		TimedOut: fg("#FF8700"),
		Cold:     fg("#5F87AF"),

		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#5F5FAF")),
		PanelTitle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#EEEEEE")).
			Padding(0, 1),
		Dim:       fg("#8A8A8A"),
		Highlight: fg("#D7AF5F"),

		Pulse:     fg("#5FD787"),
		PulseIdle: fg("#444444"),
	}
}

// outcomeStyle colors an outcome, or the last segment of an event type.
func (t Theme) outcomeStyle(outcome string) lipgloss.Style {
	switch outcome {
	case "completed":
		return t.Healthy
	case "started", "running":
		return t.Pending
	case "timed_out":
		return t.TimedOut
	case "spawn_failed", "handoff_failed":
		return t.Cold
	case "":
		return t.Dim
	default:
		return t.Alarm
	}
}
