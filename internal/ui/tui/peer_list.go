package tui

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/geogram-dev/geomirror/internal/model"
	"github.com/geogram-dev/geomirror/internal/ui"
)

// PeerAction represents the action to perform after peer list interaction.
type PeerAction int

const (
	// PeerActionNone means no action was taken (user quit).
	PeerActionNone PeerAction = iota
	// PeerActionSync syncs every enabled app of the selected peer.
	PeerActionSync
	// PeerActionProbe checks whether the selected peer is reachable.
	PeerActionProbe
)

// PeerListResult contains the result of the peer list TUI interaction.
type PeerListResult struct {
	Action PeerAction
	Peer   model.Peer
}

// peerFilter selects peers by reachability.
type peerFilter int

const (
	peerFilterAll peerFilter = iota
	peerFilterOnline
	peerFilterOffline
)

var peerFilters = []peerFilter{peerFilterAll, peerFilterOnline, peerFilterOffline}

func (f peerFilter) String() string {
	switch f {
	case peerFilterOnline:
		return "online"
	case peerFilterOffline:
		return "offline"
	default:
		return "all"
	}
}

func (f peerFilter) matches(p model.Peer) bool {
	switch f {
	case peerFilterOnline:
		return p.IsOnline
	case peerFilterOffline:
		return !p.IsOnline
	default:
		return true
	}
}

type peerListKeyMap struct {
	Up         key.Binding
	Down       key.Binding
	Sync       key.Binding
	Probe      key.Binding
	Filter     key.Binding
	ClearFlt   key.Binding
	NextFilter key.Binding
	PrevFilter key.Binding
	Help       key.Binding
	Quit       key.Binding
}

func defaultPeerListKeyMap() peerListKeyMap {
	return peerListKeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Sync: key.NewBinding(
			key.WithKeys("enter", "s"),
			key.WithHelp("enter/s", "sync peer"),
		),
		Probe: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "probe peer"),
		),
		Filter: key.NewBinding(
			key.WithKeys("/"),
			key.WithHelp("/", "filter"),
		),
		ClearFlt: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "clear filter"),
		),
		NextFilter: key.NewBinding(
			key.WithKeys("tab", "l"),
			key.WithHelp("tab/l", "next tab"),
		),
		PrevFilter: key.NewBinding(
			key.WithKeys("shift+tab", "h"),
			key.WithHelp("S-tab/h", "prev tab"),
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

type peerListColumnWidths struct {
	name     int
	callsign int
	platform int
	online   int
	lastSync int
	apps     int
}

func defaultPeerListColumnWidths() peerListColumnWidths {
	return peerListColumnWidths{
		name:     20,
		callsign: 10,
		platform: 10,
		online:   8,
		lastSync: 16,
		apps:     30,
	}
}

// PeerListModel is the BubbleTea model for browsing paired peers.
type PeerListModel struct {
	table        table.Model
	peers        []model.Peer
	filtered     []model.Peer
	keys         peerListKeyMap
	result       PeerListResult
	filter       string
	filtering    bool
	tab          int
	showHelp     bool
	width        int
	height       int
	quitting     bool
	columnWidths peerListColumnWidths
}

var peerListStyles = struct {
	Title       lipgloss.Style
	Help        lipgloss.Style
	Filter      lipgloss.Style
	FilterInput lipgloss.Style
	Status      lipgloss.Style
	Tab         lipgloss.Style
	TabActive   lipgloss.Style
	Detail      lipgloss.Style
}{
	Title:       lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")).Padding(0, 1),
	Help:        lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	Filter:      lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
	FilterInput: lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
	Status:      lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Padding(0, 1),
	Tab:         lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Padding(0, 1),
	TabActive:   lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57")).Bold(true).Padding(0, 1),
	Detail:      lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Padding(0, 1),
}

// NewPeerListModel creates a peer list sorted by display name.
func NewPeerListModel(peers []model.Peer) PeerListModel {
	peers = slices.Clone(peers)
	slices.SortFunc(peers, func(a, b model.Peer) int {
		return strings.Compare(strings.ToLower(a.DisplayName()), strings.ToLower(b.DisplayName()))
	})

	m := PeerListModel{
		peers:        peers,
		filtered:     peers,
		keys:         defaultPeerListKeyMap(),
		columnWidths: defaultPeerListColumnWidths(),
	}

	t := table.New(
		table.WithColumns(m.columns()),
		table.WithRows(m.peersToRows(peers)),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	t.SetStyles(tableStyles())

	m.table = t
	return m
}

func (m PeerListModel) columns() []table.Column {
	w := m.columnWidths
	return []table.Column{
		{Title: "Name", Width: w.name},
		{Title: "Callsign", Width: w.callsign},
		{Title: "Platform", Width: w.platform},
		{Title: "Online", Width: w.online},
		{Title: "Last sync", Width: w.lastSync},
		{Title: "Apps", Width: w.apps},
	}
}

func (m PeerListModel) peersToRows(peers []model.Peer) []table.Row {
	w := m.columnWidths
	rows := make([]table.Row, len(peers))
	for i, p := range peers {
		online := "no"
		if p.IsOnline {
			online = "yes"
		}
		rows[i] = table.Row{
			truncateText(p.DisplayName(), w.name),
			truncateText(p.Callsign, w.callsign),
			truncateText(p.Platform, w.platform),
			online,
			truncateText(ui.RelativeTime(p.LastSyncAt), w.lastSync),
			truncateText(strings.Join(p.EnabledApps(), ","), w.apps),
		}
	}
	return rows
}

// Init implements tea.Model.
func (m PeerListModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m PeerListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(max(msg.Height-14, 5))
		m.applyColumnWidths(msg.Width)

	case tea.KeyMsg:
		if m.filtering {
			switch msg.String() {
			case "enter":
				m.filtering = false
			case "esc":
				m.filter = ""
				m.filtering = false
				m.applyFilter()
			case "backspace":
				if len(m.filter) > 0 {
					m.filter = m.filter[:len(m.filter)-1]
					m.applyFilter()
				}
			default:
				if len(msg.String()) == 1 {
					m.filter += msg.String()
					m.applyFilter()
				}
			}
			return m, nil
		}

		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit

		case key.Matches(msg, m.keys.Help):
			m.showHelp = !m.showHelp
			return m, nil

		case key.Matches(msg, m.keys.Filter):
			m.filtering = true
			return m, nil

		case key.Matches(msg, m.keys.ClearFlt):
			m.filter = ""
			m.applyFilter()
			return m, nil

		case key.Matches(msg, m.keys.NextFilter):
			m.tab = (m.tab + 1) % len(peerFilters)
			m.applyFilter()
			return m, nil

		case key.Matches(msg, m.keys.PrevFilter):
			m.tab = (m.tab + len(peerFilters) - 1) % len(peerFilters)
			m.applyFilter()
			return m, nil

		case key.Matches(msg, m.keys.Sync):
			return m.choose(PeerActionSync)

		case key.Matches(msg, m.keys.Probe):
			return m.choose(PeerActionProbe)
		}
	}

	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m PeerListModel) choose(action PeerAction) (tea.Model, tea.Cmd) {
	p, ok := m.selectedPeer()
	if !ok {
		return m, nil
	}
	m.result = PeerListResult{Action: action, Peer: p}
	m.quitting = true
	return m, tea.Quit
}

func (m *PeerListModel) applyFilter() {
	f := peerFilters[m.tab]
	needle := strings.ToLower(m.filter)

	var filtered []model.Peer
	for _, p := range m.peers {
		if !f.matches(p) {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(p.DisplayName()), needle) &&
			!strings.Contains(strings.ToLower(p.Callsign), needle) &&
			!strings.Contains(strings.ToLower(p.Platform), needle) {
			continue
		}
		filtered = append(filtered, p)
	}

	m.filtered = filtered
	m.table.SetRows(m.peersToRows(m.filtered))
}

func (m PeerListModel) selectedPeer() (model.Peer, bool) {
	cursor := m.table.Cursor()
	if cursor >= 0 && cursor < len(m.filtered) {
		return m.filtered[cursor], true
	}
	return model.Peer{}, false
}

// View implements tea.Model.
func (m PeerListModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(peerListStyles.Title.Render("📡 Peers"))
	b.WriteString("\n\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n\n")

	if m.filter != "" || m.filtering {
		filterVal := peerListStyles.FilterInput.Render(m.filter)
		if m.filtering {
			filterVal += "█"
		}
		b.WriteString(peerListStyles.Filter.Render("Filter: ") + filterVal + "\n\n")
	}

	b.WriteString(m.table.View())
	b.WriteString("\n")

	b.WriteString(peerListStyles.Status.Render(m.renderStatus()))
	b.WriteString("\n")

	if p, ok := m.selectedPeer(); ok {
		b.WriteString(peerListStyles.Detail.Render(renderPeerApps(p, max(m.width-2, 40))))
		b.WriteString("\n")
	}

	if m.showHelp {
		b.WriteString("\n")
		b.WriteString(m.renderFullHelp())
	} else {
		b.WriteString(m.renderShortHelp())
	}

	return b.String()
}

func (m PeerListModel) renderTabs() string {
	titleCaser := cases.Title(language.English)
	var tabs []string
	for i, f := range peerFilters {
		name := titleCaser.String(f.String())
		if i == m.tab {
			tabs = append(tabs, peerListStyles.TabActive.Render("["+name+"]"))
		} else {
			tabs = append(tabs, peerListStyles.Tab.Render(" "+name+" "))
		}
	}
	return strings.Join(tabs, "")
}

func (m PeerListModel) renderStatus() string {
	online := 0
	for _, p := range m.peers {
		if p.IsOnline {
			online++
		}
	}
	return fmt.Sprintf("Showing %d of %d peers | online: %d", len(m.filtered), len(m.peers), online)
}

// renderPeerApps lists each configured app with its title-cased style.
func renderPeerApps(p model.Peer, width int) string {
	if len(p.Apps) == 0 {
		return formatDetail("Apps: ", "none configured", width)
	}
	titleCaser := cases.Title(language.English)
	ids := make([]string, 0, len(p.Apps))
	for id := range p.Apps {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int { return model.AppOrder(a) - model.AppOrder(b) })

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		cfg := p.Apps[id]
		state := titleCaser.String(cfg.Style.String())
		if !cfg.Enabled {
			state = "Disabled"
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", id, state))
	}
	return formatDetail("Apps: ", strings.Join(parts, ", "), width)
}

func (m PeerListModel) renderShortHelp() string {
	keys := []string{
		"↑/↓ navigate",
		"tab online/offline",
		"enter sync",
		"p probe",
		"/ filter",
		"? help",
		"q quit",
	}
	return peerListStyles.Help.Render(strings.Join(keys, " • "))
}

func (m PeerListModel) renderFullHelp() string {
	help := `Navigation:
  ↑/k      Move up
  ↓/j      Move down

Tabs:
  Tab/l       Next tab (all, online, offline)
  Shift-Tab/h Previous tab

Actions:
  Enter/s  Sync every enabled app of the peer
  p        Probe the peer's addresses

Text Filter:
  /        Start filtering (by name, callsign, or platform)
  Esc      Clear filter
  Enter    Finish filtering

General:
  ?        Toggle full help
  q        Quit`
	return peerListStyles.Help.Render(help)
}

func (m *PeerListModel) applyColumnWidths(totalWidth int) {
	widths := defaultPeerListColumnWidths()
	if totalWidth > 0 {
		const separatorWidth = 12
		fixed := widths.name + widths.callsign + widths.platform + widths.online + widths.lastSync + separatorWidth
		widths.apps = max(totalWidth-fixed, 20)
	}
	m.columnWidths = widths
	m.table.SetColumns(m.columns())
	m.table.SetRows(m.peersToRows(m.filtered))
}

// Result returns the result of the user interaction.
func (m PeerListModel) Result() PeerListResult {
	return m.result
}

// RunPeerList runs the interactive peer list and returns the result.
func RunPeerList(peers []model.Peer) (PeerListResult, error) {
	if len(peers) == 0 {
		return PeerListResult{}, nil
	}

	finalModel, err := tea.NewProgram(NewPeerListModel(peers), tea.WithAltScreen()).Run()
	if err != nil {
		return PeerListResult{}, err
	}
	if m, ok := finalModel.(PeerListModel); ok {
		return m.Result(), nil
	}
	return PeerListResult{}, nil
}
