// Package watch renders a live service status table in the terminal.
package watch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cmstate/cmstate/internal/cm"
	"github.com/cmstate/cmstate/internal/engine"
)

// DefaultInterval is how often the table refreshes.
const DefaultInterval = 5 * time.Second

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")).BorderStyle(lipgloss.DoubleBorder()).BorderBottom(true).Padding(0, 1)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

type statusMsg struct {
	statuses []engine.ServiceStatus
	err      error
}

type tickMsg time.Time

// Model is the bubbletea model for the watch view.
type Model struct {
	engine   *engine.Engine
	interval time.Duration

	statuses []engine.ServiceStatus
	err      error
	updated  time.Time

	fetching bool
	spinner  spinner.Model
	quitting bool
	width    int
}

// New creates a watch model polling the engine at the given interval.
func New(eng *engine.Engine, interval time.Duration) Model {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return Model{
		engine:   eng,
		interval: interval,
		spinner:  s,
		fetching: true,
		width:    100,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			if !m.fetching {
				m.fetching = true
				return m, tea.Batch(m.spinner.Tick, m.fetch())
			}
		}
		return m, nil

	case statusMsg:
		m.fetching = false
		m.err = msg.err
		if msg.err == nil {
			m.statuses = msg.statuses
			m.updated = time.Now()
		}
		return m, m.tick()

	case tickMsg:
		if !m.fetching {
			m.fetching = true
			return m, tea.Batch(m.spinner.Tick, m.fetch())
		}
		return m, nil

	case spinner.TickMsg:
		if m.fetching {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	return m, nil
}

// fetch snapshots service status off the UI loop.
func (m Model) fetch() tea.Cmd {
	eng := m.engine
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		statuses, err := eng.Status(ctx)
		return statusMsg{statuses: statuses, err: err}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Cluster " + m.engine.Config.Cluster))
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(errStyle.Render(fmt.Sprintf("  Status fetch failed: %v", m.err)))
		b.WriteString("\n\n")
	}

	if len(m.statuses) == 0 && m.err == nil {
		if m.fetching {
			b.WriteString(fmt.Sprintf("  %s Fetching service status...\n", m.spinner.View()))
		} else {
			b.WriteString(dimStyle.Render("  No services configured.") + "\n")
		}
	} else {
		b.WriteString(headerStyle.Render(fmt.Sprintf("  %-10s %-16s %-12s %-10s %s", "KIND", "SERVICE", "STATE", "HEALTH", "ROLES")))
		b.WriteString("\n")
		for _, st := range m.statuses {
			service := st.Service
			if service == "" {
				service = "-"
			}
			health := st.Health
			if health == "" {
				health = "-"
			}
			// Pad before styling; ANSI escapes would confuse %-12s.
			state := stateStyle(st.State).Render(fmt.Sprintf("%-12s", st.State))
			line := fmt.Sprintf("  %-10s %-16s %s %-10s %s",
				st.Kind, service, state, health, roleSummary(st.Roles))
			b.WriteString(line + "\n")
		}
	}

	b.WriteString("\n")
	footer := "r: refresh  q: quit"
	if m.fetching {
		footer = m.spinner.View() + " refreshing   " + footer
	} else if !m.updated.IsZero() {
		footer = fmt.Sprintf("updated %s   %s", m.updated.Format("15:04:05"), footer)
	}
	b.WriteString(dimStyle.Render("  " + footer))
	b.WriteString("\n")

	return b.String()
}

func stateStyle(state string) lipgloss.Style {
	switch state {
	case cm.ServiceStarted:
		return okStyle
	case cm.ServiceStarting, cm.ServiceStopping:
		return warnStyle
	case cm.ServiceNotFound:
		return errStyle
	default:
		return dimStyle
	}
}

// roleSummary compresses the role list into counts per role type.
func roleSummary(roles []engine.RoleStatus) string {
	if len(roles) == 0 {
		return "-"
	}
	counts := map[string]int{}
	var order []string
	for _, r := range roles {
		if _, seen := counts[r.Type]; !seen {
			order = append(order, r.Type)
		}
		counts[r.Type]++
	}
	parts := make([]string, 0, len(order))
	for _, typ := range order {
		parts = append(parts, fmt.Sprintf("%dx %s", counts[typ], typ))
	}
	return strings.Join(parts, ", ")
}

// Run starts the watch view and blocks until the user quits.
func Run(eng *engine.Engine, interval time.Duration) error {
	p := tea.NewProgram(New(eng, interval), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
