// Package tui is the terminal front end of the watch command. It renders
// the G-code tail, printer connectivity and the recovery prompt, and maps
// key presses onto panel operations.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pkt.systems/printwatch/internal/eventbus"
	"pkt.systems/printwatch/internal/logx"
	"pkt.systems/printwatch/schema"
	"pkt.systems/pslog"
)

// Controller is the set of panel operations the view drives.
type Controller interface {
	Printer() schema.PrinterID
	LastPrintStatus() (schema.PrintStatus, error)
	Refresh(ctx context.Context) error
	AdjustLine(delta int) error
	ConfirmRecover(ctx context.Context) error
	Skip(ctx context.Context) error
	Dismiss() error
}

// Options configures a Model.
type Options struct {
	Controller Controller
	Events     <-chan eventbus.Event
	Tail       *Tail
	Keys       KeyMap
	Logger     pslog.Logger
	// RenderEvery is the tail redraw interval.
	RenderEvery time.Duration
}

const (
	defaultRenderEvery = 200 * time.Millisecond
	notificationRows   = 3
	chromeRows         = 10
)

type eventMsg struct {
	event eventbus.Event
}

type renderTickMsg struct{}

type actionMsg struct {
	action string
	err    error
}

// Model is the bubbletea model of the watch view.
type Model struct {
	ctx         context.Context
	ctrl        Controller
	events      <-chan eventbus.Event
	tail        *Tail
	keys        KeyMap
	log         pslog.Logger
	renderEvery time.Duration

	spinner  spinner.Model
	progress progress.Model

	connectivity schema.Connectivity
	session      schema.RecoverySession
	status       schema.PrintStatus
	statusErr    error
	history      *notificationHistory
	pending      string
	lastErr      string
	width        int
	height       int
}

// NewModel constructs a Model. ctx bounds the panel calls issued from key
// presses.
func NewModel(ctx context.Context, opts Options) (Model, error) {
	if opts.Controller == nil {
		return Model{}, errors.New("tui: controller required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	tail := opts.Tail
	if tail == nil {
		tail = NewTail(0)
	}
	keys := opts.Keys
	if len(keys.Quit.Keys()) == 0 {
		keys = DefaultKeyMap
	}
	every := opts.RenderEvery
	if every <= 0 {
		every = defaultRenderEvery
	}
	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = busyStyle
	return Model{
		ctx:          ctx,
		ctrl:         opts.Controller,
		events:       opts.Events,
		tail:         tail,
		keys:         keys,
		log:          logx.Or(opts.Logger),
		renderEvery:  every,
		spinner:      sp,
		progress:     progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		connectivity: schema.Connectivity{State: schema.ConnectivityWaiting, Label: schema.ConnectivityWaiting},
		session:      schema.RecoverySession{Phase: schema.RecoveryIdle},
		history:      newNotificationHistory(0),
	}, nil
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, listenForEvent(m.events), m.renderTick())
}

// listenForEvent blocks until the bus delivers an event.
func listenForEvent(events <-chan eventbus.Event) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		event, ok := <-events
		if !ok {
			return nil
		}
		return eventMsg{event: event}
	}
}

func (m Model) renderTick() tea.Cmd {
	return tea.Tick(m.renderEvery, func(time.Time) tea.Msg { return renderTickMsg{} })
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = progressWidth(msg.Width)
		m.tail.Resize()
		return m, nil
	case eventMsg:
		m.applyEvent(msg.event)
		return m, listenForEvent(m.events)
	case actionMsg:
		if m.pending == msg.action {
			m.pending = ""
		}
		m.recordErr(msg.action, msg.err)
		return m, nil
	case renderTickMsg:
		m.status, m.statusErr = m.ctrl.LastPrintStatus()
		m.tail.TakeResize()
		return m, m.renderTick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.LineUp):
		m.recordErr("adjust", m.ctrl.AdjustLine(-1))
	case key.Matches(msg, m.keys.LineDown):
		m.recordErr("adjust", m.ctrl.AdjustLine(1))
	case key.Matches(msg, m.keys.Confirm):
		return m.start("recover", func(ctx context.Context) error { return m.ctrl.ConfirmRecover(ctx) })
	case key.Matches(msg, m.keys.Skip):
		return m.start("skip", func(ctx context.Context) error { return m.ctrl.Skip(ctx) })
	case key.Matches(msg, m.keys.Dismiss):
		m.recordErr("dismiss", m.ctrl.Dismiss())
	case key.Matches(msg, m.keys.Refresh):
		return m.start("refresh", func(ctx context.Context) error { return m.ctrl.Refresh(ctx) })
	case key.Matches(msg, m.keys.PageUp):
		m.tail.Scroll(m.tailRows(), m.tailRows())
	case key.Matches(msg, m.keys.PageDown):
		m.tail.Scroll(-m.tailRows(), m.tailRows())
	case key.Matches(msg, m.keys.Bottom):
		m.tail.ResetScroll()
	}
	return m, nil
}

// start runs a blocking panel call off the update loop.
func (m Model) start(action string, fn func(context.Context) error) (tea.Model, tea.Cmd) {
	if m.pending != "" {
		return m, nil
	}
	m.pending = action
	m.lastErr = ""
	ctx := m.ctx
	return m, func() tea.Msg {
		return actionMsg{action: action, err: fn(ctx)}
	}
}

func (m *Model) recordErr(action string, err error) {
	if err == nil {
		m.lastErr = ""
		return
	}
	m.log.Debug("tui action failed", "action", action, "err", err)
	m.lastErr = fmt.Sprintf("%s: %v", action, err)
}

func (m *Model) applyEvent(event eventbus.Event) {
	if printer := m.ctrl.Printer(); event.PrinterID != "" && event.PrinterID != printer {
		return
	}
	switch event.Type {
	case eventbus.EventConnectivity:
		m.connectivity = event.Connectivity
	case eventbus.EventRecovery:
		m.session = event.Recovery
	case eventbus.EventNotification:
		m.history.Append(event.Notification)
	}
}

func (m Model) tailRows() int {
	rows := m.height - chromeRows
	if m.session.Visible {
		rows -= 5
	}
	if rows < 3 {
		rows = 3
	}
	return rows
}

func progressWidth(width int) int {
	w := width - 24
	if w < 10 {
		w = 10
	}
	if w > 60 {
		w = 60
	}
	return w
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteString("\n")
	b.WriteString(m.statusView())
	b.WriteString("\n\n")
	b.WriteString(m.tailView())
	if m.session.Visible {
		b.WriteString("\n\n")
		b.WriteString(m.recoveryView())
	}
	if notes := m.history.Latest(notificationRows); len(notes) > 0 {
		b.WriteString("\n")
		for _, note := range notes {
			b.WriteString("\n")
			b.WriteString(notificationView(note))
		}
	}
	if m.lastErr != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(m.lastErr))
	}
	b.WriteString("\n\n")
	b.WriteString(m.helpView())
	return b.String()
}

func (m Model) headerView() string {
	printer := string(m.ctrl.Printer())
	if printer == "" {
		printer = "(no printer)"
	}
	conn := stateStyle(m.connectivity.Label).Render(string(m.connectivity.Label))
	if m.connectivity.Busy() {
		conn = m.spinner.View() + " " + conn
	}
	line := titleStyle.Render("printwatch") + "  " + printer + "  " + conn
	if m.connectivity.LastSeenAt != nil {
		line += faintStyle.Render("  last seen " + m.connectivity.LastSeenAt.Local().Format(time.TimeOnly))
	}
	if m.connectivity.Watchdog {
		line += faintStyle.Render("  (no updates)")
	}
	return line
}

func (m Model) statusView() string {
	if m.statusErr != nil {
		return errorStyle.Render("print status: " + m.statusErr.Error())
	}
	s := m.status
	if s.ActiveFile == "" {
		return faintStyle.Render("no active job")
	}
	state := "printing"
	switch {
	case s.LastJobHasFailed:
		state = "failed"
	case !s.HasActiveJob:
		state = "stopped"
	}
	return fmt.Sprintf("%s  %s  line %d/%d", s.ActiveFile, state, s.CurrentLine, s.LastLine)
}

func (m Model) tailView() string {
	view := m.tail.Snapshot(m.tailRows())
	if len(view.Lines) == 0 {
		return faintStyle.Render("waiting for G-code...")
	}
	body := strings.Join(view.Lines, "\n")
	if !view.AtBottom {
		body += "\n" + faintStyle.Render(fmt.Sprintf("-- %d more lines below --", view.ScrollOffset))
	}
	return body
}

func (m Model) recoveryView() string {
	s := m.session
	var b strings.Builder
	b.WriteString(titleStyle.Render("Interrupted print"))
	if s.File != "" {
		b.WriteString("  " + s.File)
	}
	b.WriteString("\n")
	switch s.Phase {
	case schema.RecoveryDetected:
		b.WriteString(m.spinner.View() + " loading recovery settings")
	case schema.RecoveryPreviewing:
		fmt.Fprintf(&b, "resume from line %d of %d (preview %d-%d)", s.LineWindow.Max, s.LastLine, s.LineWindow.Min, s.LineWindow.Max)
	case schema.RecoveryDisabled:
		b.WriteString("recovery is disabled for this printer; the job can only be skipped")
	case schema.RecoveryRecovering:
		fmt.Fprintf(&b, "%s %s\n%s %3.0f%%", m.spinner.View(), stageLabel(s.Stage), m.progress.ViewAs(s.ProgressPercent/100), s.ProgressPercent)
	case schema.RecoverySkipping:
		b.WriteString(m.spinner.View() + " discarding job")
	case schema.RecoveryResolved:
		b.WriteString(string(s.Outcome))
	}
	if s.Error != "" {
		b.WriteString("\n" + errorStyle.Render(s.Error))
	}
	return boxStyle.Render(b.String())
}

func (m Model) helpView() string {
	bindings := []key.Binding{m.keys.PageUp, m.keys.PageDown, m.keys.Bottom, m.keys.Refresh}
	if m.session.CanAdjust() {
		bindings = append(bindings, m.keys.LineUp, m.keys.LineDown, m.keys.Confirm)
	}
	if m.session.CanSkip() {
		bindings = append(bindings, m.keys.Skip)
	}
	if m.session.Visible && !m.session.Pending {
		bindings = append(bindings, m.keys.Dismiss)
	}
	bindings = append(bindings, m.keys.Quit)
	parts := make([]string, 0, len(bindings))
	for _, binding := range bindings {
		help := binding.Help()
		parts = append(parts, help.Key+" "+help.Desc)
	}
	return faintStyle.Render(strings.Join(parts, " • "))
}

func stageLabel(stage schema.RecoveryStage) string {
	switch stage {
	case schema.StageCountingLines:
		return "counting lines"
	case schema.StageParsingFile:
		return "parsing file"
	case schema.StageWaitingForServer:
		return "waiting for server"
	default:
		return "starting"
	}
}

func notificationView(n schema.Notification) string {
	if n.Level == schema.NotifyError {
		return errorStyle.Render("! " + n.Message)
	}
	return faintStyle.Render("· " + n.Message)
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	faintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	busyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	onlineStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	offlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("214")).Padding(0, 1)
)

func stateStyle(state schema.ConnectivityState) lipgloss.Style {
	switch state {
	case schema.ConnectivityOnline:
		return onlineStyle
	case schema.ConnectivityOffline:
		return offlineStyle
	default:
		return busyStyle
	}
}
