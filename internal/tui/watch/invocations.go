package watch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/warmbridge/internal/events"
)

const maxTrackedInvocations = 50

// InvocationState is one row of the invocation table.
type InvocationState struct {
	ID           string
	Function     string
	Outcome      string
	StartedAt    time.Time
	Duration     time.Duration
	WorkerPID    int
	NotifyFailed bool
	NotifyError  string
}

// eventData is the union of fields lifecycle events carry.
type eventData struct {
	InvocationID string `json:"invocation_id"`
	Function     string `json:"function"`
	Outcome      string `json:"outcome"`
	DurationMS   int64  `json:"duration_ms"`
	WorkerPID    int    `json:"worker_pid"`
	PID          int    `json:"pid"`
	Error        string `json:"error"`
}

func decodeEventData(e events.Event) eventData {
	var d eventData
	_ = json.Unmarshal(e.Data, &d)
	return d
}

// trackInvocation folds e into the list, newest first. It returns the list.
func trackInvocation(list []*InvocationState, e events.Event) []*InvocationState {
	d := decodeEventData(e)
	if d.InvocationID == "" {
		return list
	}

	var inv *InvocationState
	for _, existing := range list {
		if existing.ID == d.InvocationID {
			inv = existing
			break
		}
	}
	if inv == nil {
		inv = &InvocationState{ID: d.InvocationID, StartedAt: e.At, Outcome: "running"}
		list = append([]*InvocationState{inv}, list...)
		if len(list) > maxTrackedInvocations {
			list = list[:maxTrackedInvocations]
		}
	}

	switch e.Type {
	case events.InvocationStarted:
		inv.Function = d.Function
		inv.StartedAt = e.At
	case events.NotificationFailed:
		inv.NotifyFailed = true
		inv.NotifyError = d.Error
	case events.InvocationCompleted, events.InvocationTimedOut, events.InvocationCrashed,
		events.InvocationSpawnFailed, events.InvocationHandoffFailed:
		inv.Outcome = d.Outcome
		inv.Duration = time.Duration(d.DurationMS) * time.Millisecond
		inv.WorkerPID = d.WorkerPID
	}
	return list
}

func newInvocationTable() table.Model {
	t := table.New(
		table.WithColumns(invocationColumns(80)),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func invocationColumns(width int) []table.Column {
	fixed := 9 + 14 + 10 + 8 + 6
	idWidth := max(12, width-fixed-16)
	return []table.Column{
		{Title: "Started", Width: 9},
		{Title: "Outcome", Width: 14},
		{Title: "Duration", Width: 10},
		{Title: "PID", Width: 8},
		{Title: "Note", Width: 6},
		{Title: "Invocation", Width: idWidth},
	}
}

func invocationRows(list []*InvocationState) []table.Row {
	rows := make([]table.Row, 0, len(list))
	for _, inv := range list {
		duration := "-"
		if inv.Outcome != "running" {
			duration = inv.Duration.Round(time.Millisecond).String()
		}
		pid := "-"
		if inv.WorkerPID > 0 {
			pid = fmt.Sprintf("%d", inv.WorkerPID)
		}
		note := ""
		if inv.NotifyFailed {
			note = "!"
		}
		id := inv.ID
		if inv.Function != "" {
			id = inv.Function + " " + id
		}
		rows = append(rows, table.Row{
			inv.StartedAt.Local().Format("15:04:05"),
			inv.Outcome,
			duration,
			pid,
			note,
			strings.TrimSpace(id),
		})
	}
	return rows
}
