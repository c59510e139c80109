package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/linkerlin/nanoalarm.go/internal/alarm"
	"github.com/linkerlin/nanoalarm.go/internal/timemath"
	"github.com/linkerlin/nanoalarm.go/internal/wakeup"
)

// ---- Styles ----------------------------------------------------------------

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62")).Padding(0, 1)
	sidebarStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	mainStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62"))
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Padding(0, 1)
	ringingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	labelStyle   = lipgloss.NewStyle().Bold(true)
)

// DefaultInterval is how often the panel polls the daemon.
const DefaultInterval = time.Second

const callTimeout = 3 * time.Second

// Source is the daemon surface the panel drives. *rpc.Client implements it.
type Source interface {
	List(ctx context.Context) ([]wakeup.Entry, error)
	Status(ctx context.Context) (alarm.Status, error)
	Volume(ctx context.Context) (int, error)
	Stop(ctx context.Context) error
	Snooze(ctx context.Context, minutes int) error
	Cancel(ctx context.Context, alarmID int) error
	SetVolume(ctx context.Context, percent int) error
}

// ---- Messages --------------------------------------------------------------

// RefreshMsg carries a fresh snapshot of the daemon.
type RefreshMsg struct {
	Alarms []wakeup.Entry
	Status alarm.Status
	Volume int
	Err    error
}

// ResultMsg reports the outcome of a user command.
type ResultMsg struct {
	Text string
	Err  error
}

type tickMsg time.Time

// ---- Alarm list item -------------------------------------------------------

type alarmItem struct {
	entry wakeup.Entry
}

func (a alarmItem) Title() string {
	title := fmt.Sprintf("#%d %s", a.entry.Alarm.AlarmID, a.entry.Alarm.DisplayLabel())
	if a.entry.Snoozed {
		title += " (snoozed)"
	}
	return title
}

func (a alarmItem) Description() string {
	desc := a.entry.At.Local().Format("Mon 15:04")
	if mask := timemath.DayMask(a.entry.Alarm.RepeatDaysMask); mask != 0 {
		desc += " · " + mask.String()
	}
	return desc
}

func (a alarmItem) FilterValue() string { return a.entry.Alarm.DisplayLabel() }

// ---- Focus panels ----------------------------------------------------------

type panel int

const (
	panelSidebar panel = iota
	panelMain
	panelInput
)

// ---- Model -----------------------------------------------------------------

// Model is the bubbletea model for the alarm control panel.
type Model struct {
	src      Source
	interval time.Duration

	width, height int

	alarms    []wakeup.Entry
	alarmList list.Model
	status    alarm.Status
	volume    int
	err       error
	flash     string

	view        viewport.Model
	input       textarea.Model
	activePanel panel
}

// New initialises the panel model. A zero interval uses DefaultInterval.
func New(src Source, interval time.Duration) Model {
	if interval <= 0 {
		interval = DefaultInterval
	}

	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Pending alarms"
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)

	ta := textarea.New()
	ta.Placeholder = "stop | snooze [min] | cancel <id> | volume <pct>"
	ta.Focus()
	ta.CharLimit = 80
	ta.SetWidth(60)
	ta.SetHeight(1)
	ta.ShowLineNumbers = false

	return Model{
		src:         src,
		interval:    interval,
		alarmList:   l,
		view:        viewport.New(60, 10),
		input:       ta,
		activePanel: panelInput,
		status:      alarm.Status{State: alarm.Idle},
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, refresh(m.src), tick(m.interval))
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.recalcLayout()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.activePanel = (m.activePanel + 1) % 3
			if m.activePanel == panelInput {
				m.input.Focus()
				cmds = append(cmds, textarea.Blink)
			} else {
				m.input.Blur()
			}
			return m, tea.Batch(cmds...)
		case "enter":
			if m.activePanel == panelInput {
				text := strings.TrimSpace(m.input.Value())
				m.input.Reset()
				if text == "" {
					return m, nil
				}
				run, err := parseCommand(text)
				if err != nil {
					m.flash, m.err = "", err
					return m, nil
				}
				return m, exec(m.src, run)
			}
		case "x":
			if m.activePanel == panelSidebar {
				if e, ok := m.selected(); ok {
					return m, exec(m.src, cancelAlarm(e.Alarm.AlarmID))
				}
				return m, nil
			}
		}

	case tickMsg:
		return m, tea.Batch(refresh(m.src), tick(m.interval))

	case RefreshMsg:
		m.err = msg.Err
		if msg.Err == nil {
			m.alarms = msg.Alarms
			m.status = msg.Status
			m.volume = msg.Volume
			items := make([]list.Item, len(msg.Alarms))
			for i, e := range msg.Alarms {
				items[i] = alarmItem{e}
			}
			cmds = append(cmds, m.alarmList.SetItems(items))
		}
		m.view.SetContent(m.renderStatus())
		return m, tea.Batch(cmds...)

	case ResultMsg:
		m.flash, m.err = msg.Text, msg.Err
		return m, refresh(m.src)
	}

	// Delegate to active panel.
	switch m.activePanel {
	case panelSidebar:
		var listCmd tea.Cmd
		m.alarmList, listCmd = m.alarmList.Update(msg)
		cmds = append(cmds, listCmd)
	case panelMain:
		var vpCmd tea.Cmd
		m.view, vpCmd = m.view.Update(msg)
		cmds = append(cmds, vpCmd)
	case panelInput:
		var taCmd tea.Cmd
		m.input, taCmd = m.input.Update(msg)
		cmds = append(cmds, taCmd)
	}

	return m, tea.Batch(cmds...)
}

// View implements tea.Model.
func (m Model) View() string {
	if m.width == 0 {
		return "Initializing…"
	}

	sidebarW := 28
	mainW := m.width - sidebarW - 4

	m.alarmList.SetWidth(sidebarW - 2)
	m.alarmList.SetHeight(m.height - 4)
	sidebar := sidebarStyle.Width(sidebarW).Height(m.height - 2).Render(m.alarmList.View())

	header := headerStyle.Render(fmt.Sprintf("nanoalarm  ›  %s  ›  volume %d%%", m.status.State, m.volume))

	vpH := max(m.height-7, 1)
	m.view.Width = mainW - 2
	m.view.Height = vpH
	m.view.SetContent(m.renderStatus())
	vpView := mainStyle.Width(mainW).Height(vpH + 2).Render(m.view.View())

	m.input.SetWidth(mainW - 2)
	inputView := mainStyle.Width(mainW).Render(m.input.View())

	statusText := "Tab: switch panel  Enter: run  x: cancel selected  Ctrl+C: quit"
	switch {
	case m.err != nil:
		statusText = errorStyle.Render(m.err.Error()) + "  " + statusText
	case m.flash != "":
		statusText = m.flash + "  " + statusText
	}
	status := statusStyle.Render(statusText)

	right := lipgloss.JoinVertical(lipgloss.Left, header, vpView, inputView, status)
	return lipgloss.JoinHorizontal(lipgloss.Top, sidebar, right)
}

// ---- Helpers ---------------------------------------------------------------

func (m *Model) selected() (wakeup.Entry, bool) {
	if i := m.alarmList.Index(); i >= 0 && i < len(m.alarms) {
		return m.alarms[i], true
	}
	return wakeup.Entry{}, false
}

func (m *Model) recalcLayout() {
	m.view.Width = m.width - 28 - 6
	m.view.Height = max(m.height-7, 1)
}

func (m *Model) renderStatus() string {
	var sb strings.Builder
	s := m.status.Session
	if m.status.State == alarm.Playing && s != nil {
		sb.WriteString(ringingStyle.Render("⏰ "+s.Alarm.DisplayLabel()+" is ringing") + "\n")
		fmt.Fprintf(&sb, "%s #%d\n", labelStyle.Render("alarm"), s.Alarm.AlarmID)
		fmt.Fprintf(&sb, "%s %s\n", labelStyle.Render("media"), s.Media)
		fmt.Fprintf(&sb, "%s %s\n", labelStyle.Render("since"), s.StartedAt.Local().Format("15:04:05"))
		fmt.Fprintf(&sb, "%s %s\n", labelStyle.Render("shown"), s.Presentation)
	} else {
		sb.WriteString(statusStyle.Render("Nothing is ringing.") + "\n")
	}
	if n := m.status.LastNotice; n != nil {
		line := fmt.Sprintf("last: %s #%d %s", n.Kind, n.AlarmID, n.Label)
		if !n.Until.IsZero() {
			line += " until " + n.Until.Local().Format("15:04")
		}
		if n.Err != "" {
			line += " (" + n.Err + ")"
		}
		sb.WriteString(statusStyle.Render(line) + "\n")
	}
	return sb.String()
}

// ---- Commands --------------------------------------------------------------

type action struct {
	desc string
	run  func(ctx context.Context, src Source) error
}

func cancelAlarm(id int) action {
	return action{
		desc: fmt.Sprintf("cancelled #%d", id),
		run:  func(ctx context.Context, src Source) error { return src.Cancel(ctx, id) },
	}
}

var errUsage = errors.New("usage: stop | snooze [min] | cancel <id> | volume <pct>")

func parseCommand(text string) (action, error) {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return action{}, errUsage
	}
	arg := func() (int, error) {
		if len(fields) != 2 {
			return 0, errUsage
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%q is not a valid number", fields[1])
		}
		return n, nil
	}

	switch fields[0] {
	case "stop", "s":
		return action{desc: "stopped", run: func(ctx context.Context, src Source) error { return src.Stop(ctx) }}, nil
	case "snooze", "z":
		minutes := 0
		if len(fields) > 1 {
			n, err := arg()
			if err != nil {
				return action{}, err
			}
			minutes = n
		}
		return action{desc: "snoozed", run: func(ctx context.Context, src Source) error { return src.Snooze(ctx, minutes) }}, nil
	case "cancel", "c":
		id, err := arg()
		if err != nil {
			return action{}, err
		}
		return cancelAlarm(id), nil
	case "volume", "vol", "v":
		p, err := arg()
		if err != nil {
			return action{}, err
		}
		return action{desc: fmt.Sprintf("volume set to %d%%", p), run: func(ctx context.Context, src Source) error { return src.SetVolume(ctx, p) }}, nil
	case "refresh", "r":
		return action{desc: "refreshed", run: func(context.Context, Source) error { return nil }}, nil
	}
	return action{}, errUsage
}

func exec(src Source, a action) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		if err := a.run(ctx, src); err != nil {
			return ResultMsg{Err: err}
		}
		return ResultMsg{Text: a.desc}
	}
}

func refresh(src Source) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		alarms, err := src.List(ctx)
		if err != nil {
			return RefreshMsg{Err: err}
		}
		st, err := src.Status(ctx)
		if err != nil {
			return RefreshMsg{Err: err}
		}
		vol, err := src.Volume(ctx)
		if err != nil {
			return RefreshMsg{Err: err}
		}
		return RefreshMsg{Alarms: alarms, Status: st, Volume: vol}
	}
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Run starts the panel and blocks until the user quits.
func Run(src Source, interval time.Duration) error {
	_, err := tea.NewProgram(New(src, interval), tea.WithAltScreen()).Run()
	return err
}
