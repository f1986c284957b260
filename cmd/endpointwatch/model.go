package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/arrowdb/conncore/internal/coreevents"
	"github.com/arrowdb/conncore/internal/ctxmeta"
	"github.com/arrowdb/conncore/internal/endpoint"
)

const logLines = 8

type tickMsg time.Time

type eventMsg coreevents.Event

// model drives a single-endpoint terminal dashboard: a state/breaker
// table refreshed on a tick, and a scrolling tail of lifecycle events
// read off the endpoint's own bus.
type model struct {
	ep       *endpoint.Endpoint
	identity ctxmeta.EndpointIdentity
	events   <-chan coreevents.Event
	cancel   context.CancelFunc

	table   table.Model
	spin    spinner.Model
	log     []string
	quit    bool
}

func newModel(ep *endpoint.Endpoint, identity ctxmeta.EndpointIdentity, events <-chan coreevents.Event, cancel context.CancelFunc) model {
	columns := []table.Column{
		{Title: "Field", Width: 18},
		{Title: "Value", Width: 40},
	}
	t := table.New(table.WithColumns(columns), table.WithHeight(7), table.WithFocused(false))

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{
		ep:       ep,
		identity: identity,
		events:   events,
		cancel:   cancel,
		table:    t,
		spin:     sp,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, tick(), waitForEvent(m.events))
}

func tick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitForEvent(ch <-chan coreevents.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quit = true
			m.cancel()
			return m, tea.Quit
		case "c":
			m.ep.Connect()
		case "d":
			m.ep.Disconnect()
		}
		return m, nil
	case tickMsg:
		m.table.SetRows(m.rows())
		return m, tick()
	case eventMsg:
		line := fmt.Sprintf("[%s] %s: %s", time.Now().Format("15:04:05"), coreevents.Event(msg).Category, coreevents.Event(msg).Description)
		m.log = append(m.log, line)
		if len(m.log) > logLines {
			m.log = m.log[len(m.log)-logLines:]
		}
		return m, waitForEvent(m.events)
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) rows() []table.Row {
	snap := m.ep.State()
	stats := m.ep.Stats()
	return []table.Row{
		{"phase", snap.Name()},
		{"identity", fmt.Sprintf("%s[%s:%d]", m.identity.ServiceType, m.identity.RemoteHost, m.identity.RemotePort)},
		{"free", fmt.Sprintf("%v", m.ep.Free())},
		{"dispatched", fmt.Sprintf("%d", stats.Dispatched)},
		{"succeeded", fmt.Sprintf("%d", stats.Succeeded)},
		{"failed", fmt.Sprintf("%d", stats.Failed)},
		{"avg latency", stats.AverageLatency.String()},
	}
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	logStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
)

func (m model) View() string {
	if m.quit {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s endpointwatch", m.spin.View())))
	b.WriteString("\n\n")
	b.WriteString(m.table.View())
	b.WriteString("\n\n")
	b.WriteString(titleStyle.Render("events"))
	b.WriteString("\n")
	for _, line := range m.log {
		b.WriteString(logStyle.Render(line))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("c connect · d disconnect · q quit"))
	return b.String()
}
