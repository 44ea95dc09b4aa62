package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/geogram-dev/geomirror/internal/sync"
)

// statusMsg carries one session update into the model.
type statusMsg sync.Status

// streamClosedMsg reports that the status channel has been closed.
type streamClosedMsg struct{}

// SyncMonitorModel shows live progress of the sessions of one sweep.
type SyncMonitorModel struct {
	updates  <-chan sync.Status
	order    []string
	sessions map[string]sync.Status
	spinner  spinner.Model
	quit     key.Binding
	done     bool
	aborted  bool
}

var syncMonitorStyles = struct {
	Title lipgloss.Style
	Done  lipgloss.Style
	Error lipgloss.Style
	Dim   lipgloss.Style
}{
	Title: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")).Padding(0, 1),
	Done:  lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
	Error: lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
	Dim:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
}

// NewSyncMonitorModel renders statuses read from updates until it is closed.
func NewSyncMonitorModel(updates <-chan sync.Status) SyncMonitorModel {
	return SyncMonitorModel{
		updates:  updates,
		sessions: make(map[string]sync.Status),
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "stop"),
		),
	}
}

func (m SyncMonitorModel) waitForStatus() tea.Msg {
	st, ok := <-m.updates
	if !ok {
		return streamClosedMsg{}
	}
	return statusMsg(st)
}

// Init implements tea.Model.
func (m SyncMonitorModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForStatus)
}

// Update implements tea.Model.
func (m SyncMonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case statusMsg:
		st := sync.Status(msg)
		id := st.PeerID + "/" + st.AppID
		if _, seen := m.sessions[id]; !seen {
			m.order = append(m.order, id)
		}
		m.sessions[id] = st
		return m, m.waitForStatus

	case streamClosedMsg:
		m.done = true
		return m, tea.Quit

	case tea.KeyMsg:
		if key.Matches(msg, m.quit) {
			m.aborted = true
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m SyncMonitorModel) View() string {
	var b strings.Builder
	b.WriteString(syncMonitorStyles.Title.Render("🔄 Syncing"))
	b.WriteString("\n\n")

	for _, id := range m.order {
		st := m.sessions[id]
		b.WriteString(m.renderSession(id, st))
		b.WriteString("\n")
	}

	if !m.done {
		b.WriteString("\n")
		b.WriteString(syncMonitorStyles.Dim.Render("q stop watching"))
	}
	return b.String()
}

func (m SyncMonitorModel) renderSession(id string, st sync.Status) string {
	switch st.State {
	case sync.StateDone:
		return syncMonitorStyles.Done.Render("✓ "+id) + syncMonitorStyles.Dim.Render(
			fmt.Sprintf("  %d files, %s", st.FilesProcessed, humanize.Bytes(uint64(max(st.BytesTransferred, 0)))))
	case sync.StateError:
		return syncMonitorStyles.Error.Render(fmt.Sprintf("✗ %s  %v", id, st.Err))
	}
	line := fmt.Sprintf("%s %s  %s %3d%%", m.spinner.View(), id, st.State, st.Percent())
	if st.CurrentFile != "" {
		line += syncMonitorStyles.Dim.Render("  " + truncateText(st.CurrentFile, 40))
	}
	return line
}

// Aborted reports whether the user stopped watching before the sweep ended.
func (m SyncMonitorModel) Aborted() bool {
	return m.aborted
}

// RunSyncMonitor renders updates until the channel closes or the user quits.
func RunSyncMonitor(updates <-chan sync.Status) (aborted bool, err error) {
	finalModel, err := tea.NewProgram(NewSyncMonitorModel(updates)).Run()
	if err != nil {
		return false, err
	}
	if m, ok := finalModel.(SyncMonitorModel); ok {
		return m.Aborted(), nil
	}
	return false, nil
}
