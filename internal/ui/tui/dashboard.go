package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// DashboardView represents the available TUI views in the dashboard.
type DashboardView int

const (
	// DashboardViewNone means no view was selected (user quit).
	DashboardViewNone DashboardView = iota
	// DashboardViewPeers opens the peer list.
	DashboardViewPeers
	// DashboardViewSync sweeps every peer and enabled app.
	DashboardViewSync
	// DashboardViewCleanup removes stale remote caches.
	DashboardViewCleanup
	// DashboardViewConfig shows the effective configuration.
	DashboardViewConfig
)

// DashboardResult contains the result of the dashboard TUI interaction.
type DashboardResult struct {
	View DashboardView
}

// MenuItem represents a menu item in the dashboard.
type MenuItem struct {
	Title       string
	Description string
	View        DashboardView
}

// dashboardKeyMap defines the key bindings for the dashboard.
type dashboardKeyMap struct {
	Up     key.Binding
	Down   key.Binding
	Select key.Binding
	Help   key.Binding
	Quit   key.Binding
}

func defaultDashboardKeyMap() dashboardKeyMap {
	return dashboardKeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Select: key.NewBinding(
			key.WithKeys("enter", " "),
			key.WithHelp("enter", "select"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// DashboardModel is the BubbleTea model for the main dashboard.
type DashboardModel struct {
	items    []MenuItem
	header   string
	cursor   int
	keys     dashboardKeyMap
	result   DashboardResult
	showHelp bool
	width    int
	height   int
	quitting bool
}

// Styles for the dashboard TUI.
var dashboardStyles = struct {
	Title       lipgloss.Style
	Help        lipgloss.Style
	Item        lipgloss.Style
	Selected    lipgloss.Style
	Description lipgloss.Style
	Status      lipgloss.Style
	Border      lipgloss.Style
}{
	Title:       lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")).Padding(0, 1),
	Help:        lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	Item:        lipgloss.NewStyle().Padding(0, 2),
	Selected:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57")).Padding(0, 2),
	Description: lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Padding(0, 4),
	Status:      lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Padding(0, 1),
	Border:      lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(1, 2),
}

// defaultMenuItems returns the default menu items for the dashboard.
func defaultMenuItems() []MenuItem {
	return []MenuItem{
		{
			Title:       "Peers",
			Description: "Browse paired devices, probe them, or sync one",
			View:        DashboardViewPeers,
		},
		{
			Title:       "Sync Now",
			Description: "Mirror every enabled app with every peer",
			View:        DashboardViewSync,
		},
		{
			Title:       "Storage Cleanup",
			Description: "Remove mirrored folders of unpaired or stale callsigns",
			View:        DashboardViewCleanup,
		},
		{
			Title:       "Configuration",
			Description: "View geomirror settings",
			View:        DashboardViewConfig,
		},
	}
}

// NewDashboardModel creates a new dashboard model.
func NewDashboardModel() DashboardModel {
	return DashboardModel{
		items: defaultMenuItems(),
		keys:  defaultDashboardKeyMap(),
	}
}

// WithHeader sets a status line shown under the title, e.g. identity and peer counts.
func (m DashboardModel) WithHeader(header string) DashboardModel {
	m.header = header
	return m
}

// Init implements tea.Model.
func (m DashboardModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit

		case key.Matches(msg, m.keys.Help):
			m.showHelp = !m.showHelp
			return m, nil

		case key.Matches(msg, m.keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil

		case key.Matches(msg, m.keys.Down):
			if m.cursor < len(m.items)-1 {
				m.cursor++
			}
			return m, nil

		case key.Matches(msg, m.keys.Select):
			m.result = DashboardResult{
				View: m.items[m.cursor].View,
			}
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m DashboardModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	// Title
	title := dashboardStyles.Title.Render("🛰️  geomirror")
	b.WriteString(title)
	b.WriteString("\n")
	if m.header != "" {
		b.WriteString(dashboardStyles.Status.Render(m.header))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	// Menu items
	for i, item := range m.items {
		var line string
		if i == m.cursor {
			line = dashboardStyles.Selected.Render(fmt.Sprintf("> %s", item.Title))
		} else {
			line = dashboardStyles.Item.Render(fmt.Sprintf("  %s", item.Title))
		}
		b.WriteString(line)
		b.WriteString("\n")

		// Show description for selected item
		if i == m.cursor {
			desc := dashboardStyles.Description.Render(item.Description)
			b.WriteString(desc)
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")

	// Status bar
	status := "Use ↑/↓ to navigate, Enter to select"
	b.WriteString(dashboardStyles.Status.Render(status))
	b.WriteString("\n")

	// Help
	if m.showHelp {
		help := m.renderFullHelp()
		b.WriteString("\n")
		b.WriteString(help)
	} else {
		help := m.renderShortHelp()
		b.WriteString(help)
	}

	return b.String()
}

func (m DashboardModel) renderShortHelp() string {
	keys := []string{
		"↑/↓ navigate",
		"enter select",
		"? help",
		"q quit",
	}
	return dashboardStyles.Help.Render(strings.Join(keys, " • "))
}

func (m DashboardModel) renderFullHelp() string {
	help := `Navigation:
  ↑/k      Move up
  ↓/j      Move down

Actions:
  Enter    Select menu item
  Space    Select menu item

General:
  ?        Toggle full help
  q        Quit dashboard`
	return dashboardStyles.Help.Render(help)
}

// Result returns the result of the user interaction.
func (m DashboardModel) Result() DashboardResult {
	return m.result
}

// RunDashboard runs the interactive dashboard and returns the result.
func RunDashboard(header string) (DashboardResult, error) {
	model := NewDashboardModel().WithHeader(header)
	finalModel, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
	if err != nil {
		return DashboardResult{}, err
	}

	if m, ok := finalModel.(DashboardModel); ok {
		return m.Result(), nil
	}

	return DashboardResult{}, nil
}
