package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/warmbridge/internal/events"
)

const maxEventLog = 50

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	health      HealthState
	invocations []*InvocationState
	eventLog    []events.Event
	lastEventID int64

	spinner Spinner
	theme   Theme

	table  table.Model
	stream viewport.Model

	hubEvents chan events.Event

	lastError string
	now       func() time.Time
}

// New creates a new watch TUI model.
func New(apiURL, apiKey string) *Model {
	return &Model{
		apiURL:    apiURL,
		apiKey:    apiKey,
		eventLog:  make([]events.Event, 0),
		hubEvents: make(chan events.Event, 100),
		theme:     NewDefaultTheme(),
		table:     newInvocationTable(),
		now:       time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.apiKey, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetColumns(invocationColumns(m.width - 6))
		m.table.SetWidth(m.width - 6)
		m.table.SetHeight(max(3, m.height/3))
		m.stream.Width = m.width - 8
		m.stream.Height = max(3, m.height/4)
		m.stream.SetContent(renderEventLines(m.eventLog, m.theme))

	case tickMsg:
		m.spinner.Decay(m.now())
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		m.applyEvent(events.Event(msg))
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.State = msg.Supervisor.State
		m.health.WorkerAlive = msg.Supervisor.WorkerAlive
		m.health.WorkerPID = msg.Supervisor.WorkerPID
		m.health.WorkerStartedAt = msg.Supervisor.WorkerStartedAt
		m.health.Invocations = msg.Supervisor.Invocations
		m.health.LastOutcome = msg.Supervisor.LastOutcome
		m.health.CPUModel = msg.Supervisor.CPUModel
		m.health.Connected = true
		m.health.LastCheck = m.now()
		m.lastError = ""

		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		// The pending receiveNextEvent keeps reading the same channel.
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.apiKey, m.lastEventID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// applyEvent records e in the log and the invocation table.
func (m *Model) applyEvent(e events.Event) {
	if e.ID > m.lastEventID {
		m.lastEventID = e.ID
	}

	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[:maxEventLog]
	}
	m.spinner.OnEvent(m.now())

	if e.Type == events.WorkerSpawned {
		d := decodeEventData(e)
		m.health.WorkerAlive = true
		m.health.WorkerPID = d.PID
		m.health.WorkerStartedAt = e.At
	}
	m.invocations = trackInvocation(m.invocations, e)
	m.table.SetRows(invocationRows(m.invocations))
	m.stream.SetContent(renderEventLines(m.eventLog, m.theme))

	m.health.Connected = true
	m.lastError = ""
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to warmbridge..."
	}

	header := renderHeader(m.health, m.spinner, m.theme, m.width, m.now())
	invocations := m.theme.Panel.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left, m.theme.PanelTitle.Render("INVOCATIONS"), m.table.View()),
	)
	stream := m.theme.Panel.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left, m.theme.PanelTitle.Render("EVENT STREAM"), m.stream.View()),
	)

	parts := []string{header, invocations, stream}
	if m.lastError != "" {
		parts = append(parts, m.theme.Alarm.Render(fmt.Sprintf(" ! %s", m.lastError)))
	}
	parts = append(parts, m.theme.Dim.Render(" [q] Quit  [up/down] Select"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
