// Package outboxview is the terminal status view of the outbox: what is
// still waiting to sync, what is blocked, and a way to drain on demand.
package outboxview

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mail-outbox/internal/keys"
	"github.com/nhle/mail-outbox/internal/model"
	"github.com/nhle/mail-outbox/internal/outbox"
	"github.com/nhle/mail-outbox/internal/theme"
	"github.com/nhle/mail-outbox/internal/ui"
)

// refreshInterval is how often the view reloads the queues on its own.
const refreshInterval = 2 * time.Second

// Source is the part of the coordinator the view reads and drives.
type Source interface {
	Tasks(ctx context.Context) []outbox.QueuedTask
	Stalled(ctx context.Context) []model.Task
	Drain(ctx context.Context, remaining func() time.Duration) outbox.Report
	RemoveAllTasks(ctx context.Context, entityID string, match func(model.Action) bool) (int, error)
	SetHumanCheckRequired(required bool)
	HumanCheckRequired() bool
}

// TasksLoadedMsg carries a fresh snapshot of both queues.
type TasksLoadedMsg struct {
	Tasks   []outbox.QueuedTask
	Stalled map[string]bool
}

// DrainFinishedMsg is sent when a drain started from the view returns.
type DrainFinishedMsg struct {
	Report outbox.Report
}

// TasksRemovedMsg is sent after the selected entity's tasks were cancelled.
type TasksRemovedMsg struct {
	EntityID string
	Removed  int
	Err      error
}

type refreshMsg struct{}

// queueFilters are cycled by the FilterQueue key. "" shows both queues.
var queueFilters = []string{"", outbox.EntityQueue, outbox.GlobalQueue}

// Model is the outbox status view.
type Model struct {
	src     Source
	keys    *keys.KeyMap
	budget  time.Duration
	layout  ui.Layout
	table   table.Model
	spinner spinner.Model
	help    help.Model

	tasks       []outbox.QueuedTask
	visible     []outbox.QueuedTask
	stalled     map[string]bool
	filterIndex int
	draining    bool
	humanCheck  bool
	last        *outbox.Report
	status      string
}

// New creates the view. budget bounds drains started with the Drain key;
// zero means unbounded.
func New(src Source, k *keys.KeyMap, budget time.Duration, width, height int) Model {
	layout := ui.NewLayout(width, height)

	t := table.New(
		table.WithColumns(columns(width)),
		table.WithFocused(true),
		table.WithHeight(layout.ContentHeight()-2),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(theme.ColorBorder).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(theme.ColorWhite).
		Background(theme.ColorBlue)
	t.SetStyles(styles)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.ColorYellow)

	h := help.New()
	h.Width = width

	return Model{
		src:        src,
		keys:       k,
		budget:     budget,
		layout:     layout,
		table:      t,
		spinner:    sp,
		help:       h,
		stalled:    map[string]bool{},
		humanCheck: src.HumanCheckRequired(),
	}
}

func columns(width int) []table.Column {
	// Queue, action, owner and state have fixed widths; entity and deps share
	// the rest.
	rest := max(width-10-20-14-10-8, 20)
	return []table.Column{
		{Title: "Queue", Width: 8},
		{Title: "Action", Width: 18},
		{Title: "Owner", Width: 12},
		{Title: "Entity", Width: rest * 2 / 3},
		{Title: "State", Width: 8},
		{Title: "Deps", Width: rest / 3},
	}
}

// Init loads the queues and schedules the periodic refresh.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.LoadTasks(), scheduleRefresh())
}

func scheduleRefresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return refreshMsg{} })
}

// Update handles messages for the view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)
		return m, nil

	case refreshMsg:
		return m, tea.Batch(m.LoadTasks(), scheduleRefresh())

	case TasksLoadedMsg:
		m.tasks = msg.Tasks
		m.stalled = msg.Stalled
		m.applyFilter()
		return m, nil

	case DrainFinishedMsg:
		m.draining = false
		report := msg.Report
		m.last = &report
		m.status = describeReport(report)
		return m, m.LoadTasks()

	case TasksRemovedMsg:
		if msg.Err != nil {
			m.status = fmt.Sprintf("cancel failed: %v", msg.Err)
		} else {
			m.status = fmt.Sprintf("cancelled %d task(s) for %s", msg.Removed, msg.EntityID)
		}
		return m, m.LoadTasks()

	case spinner.TickMsg:
		if !m.draining {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKeys(msg)
	}

	return m, nil
}

func (m Model) handleKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		return m, m.LoadTasks()

	case key.Matches(msg, m.keys.FilterQueue):
		m.filterIndex = (m.filterIndex + 1) % len(queueFilters)
		m.applyFilter()
		return m, nil

	case key.Matches(msg, m.keys.HumanCheck):
		m.humanCheck = !m.humanCheck
		m.src.SetHumanCheckRequired(m.humanCheck)
		if m.humanCheck {
			m.status = "dispatch paused"
		} else {
			m.status = "dispatch resumed"
		}
		return m, nil

	case key.Matches(msg, m.keys.Drain):
		if m.draining {
			return m, nil
		}
		m.draining = true
		m.status = ""
		return m, tea.Batch(m.spinner.Tick, m.drain())

	case key.Matches(msg, m.keys.Remove):
		row, ok := m.selected()
		if !ok || row.Queue != outbox.EntityQueue {
			return m, nil
		}
		return m, m.removeEntity(row.Task.EntityID)
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) selected() (outbox.QueuedTask, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.visible) {
		return outbox.QueuedTask{}, false
	}
	return m.visible[i], true
}

func (m *Model) applyFilter() {
	filter := queueFilters[m.filterIndex]
	m.visible = nil
	rows := make([]table.Row, 0, len(m.tasks))
	for _, qt := range m.tasks {
		if filter != "" && qt.Queue != filter {
			continue
		}
		m.visible = append(m.visible, qt)
		rows = append(rows, m.row(qt))
	}
	m.table.SetRows(rows)
	if m.table.Cursor() >= len(rows) {
		m.table.SetCursor(max(len(rows)-1, 0))
	}
}

func (m Model) row(qt outbox.QueuedTask) table.Row {
	return table.Row{
		qt.Queue,
		string(qt.Task.Kind()),
		qt.Task.OwnerID,
		qt.Task.EntityID,
		m.state(qt),
		strings.Join(qt.Task.DependencyIDs, ","),
	}
}

func (m Model) state(qt outbox.QueuedTask) string {
	switch {
	case m.stalled[qt.Task.ID]:
		return "stalled"
	case qt.Runnable:
		return "runnable"
	default:
		return "waiting"
	}
}

// View renders the view.
func (m Model) View() string {
	header := m.layout.RenderHeader("Outbox", m.headerStatus())

	var content string
	if len(m.visible) == 0 {
		content = lipgloss.NewStyle().
			Width(m.layout.Width).
			Height(m.layout.ContentHeight()).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(theme.ColorGray).
			Render(m.emptyText())
	} else {
		content = lipgloss.JoinVertical(lipgloss.Left, m.table.View(), m.summary())
	}

	return m.layout.RenderWithFrame(header, content, m.layout.RenderStatusBar(m.help.View(m.keys)))
}

func (m Model) headerStatus() string {
	switch {
	case m.draining:
		return m.spinner.View() + " syncing"
	case m.humanCheck:
		return theme.ConnectivityStyle("paused").Render("paused")
	case m.last != nil && m.last.Offline:
		return theme.ConnectivityStyle("offline").Render("offline")
	}
	return fmt.Sprintf("%d pending", len(m.tasks))
}

func (m Model) emptyText() string {
	if queueFilters[m.filterIndex] != "" {
		return fmt.Sprintf("Nothing queued in the %s queue.", queueFilters[m.filterIndex])
	}
	if m.status != "" {
		return "All changes are synced.\n\n" + m.status
	}
	return "All changes are synced."
}

func (m Model) summary() string {
	counts := map[string]int{}
	for _, qt := range m.tasks {
		counts[m.state(qt)]++
	}

	parts := []string{
		theme.QueueLabelStyle(queueLabel(queueFilters[m.filterIndex])).Render(queueLabel(queueFilters[m.filterIndex])),
	}
	for _, s := range []string{"runnable", "waiting", "stalled"} {
		if counts[s] > 0 {
			parts = append(parts, theme.StateStyle(s).Render(fmt.Sprintf("%d %s", counts[s], s)))
		}
	}
	line := strings.Join(parts, "  ")

	if m.last != nil && m.last.Err != nil {
		line += "  " + theme.ErrorStyle.Render(m.last.Err.Error())
	} else if m.status != "" {
		line += "  " + theme.HelpStyle.Render(m.status)
	}
	return line
}

func queueLabel(filter string) string {
	if filter == "" {
		return "all"
	}
	return filter
}

func describeReport(r outbox.Report) string {
	switch {
	case r.HumanCheck:
		return "drain skipped: dispatch paused"
	case r.Offline:
		return "drain skipped: offline"
	}
	s := fmt.Sprintf("dispatched %d, removed %d, failed %d", r.Dispatched, r.Removed, r.Failed)
	if r.Paused {
		s += " (out of time)"
	}
	return s
}

// LoadTasks returns a command that snapshots both queues.
func (m Model) LoadTasks() tea.Cmd {
	src := m.src
	return func() tea.Msg {
		ctx := context.Background()
		stalled := map[string]bool{}
		for _, t := range src.Stalled(ctx) {
			stalled[t.ID] = true
		}
		return TasksLoadedMsg{Tasks: src.Tasks(ctx), Stalled: stalled}
	}
}

func (m Model) drain() tea.Cmd {
	src := m.src
	budget := m.budget
	return func() tea.Msg {
		var remaining func() time.Duration
		if budget > 0 {
			remaining = outbox.Deadline(time.Now().Add(budget))
		}
		return DrainFinishedMsg{Report: src.Drain(context.Background(), remaining)}
	}
}

func (m Model) removeEntity(entityID string) tea.Cmd {
	src := m.src
	return func() tea.Msg {
		n, err := src.RemoveAllTasks(context.Background(), entityID, func(model.Action) bool { return true })
		return TasksRemovedMsg{EntityID: entityID, Removed: n, Err: err}
	}
}

// SetSize updates the view dimensions.
func (m *Model) SetSize(width, height int) {
	m.layout = ui.NewLayout(width, height)
	m.table.SetColumns(columns(width))
	m.table.SetHeight(m.layout.ContentHeight() - 2)
	m.help.Width = width
}
