package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/linkerlin/nanoalarm.go/internal/alarm"
	"github.com/linkerlin/nanoalarm.go/internal/types"
	"github.com/linkerlin/nanoalarm.go/internal/wakeup"
)

type fakeSource struct {
	mu        sync.Mutex
	alarms    []wakeup.Entry
	status    alarm.Status
	volume    int
	listErr   error
	stopped   int
	snoozed   []int
	cancelled []int
	volumes   []int
}

func (f *fakeSource) List(context.Context) ([]wakeup.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alarms, f.listErr
}

func (f *fakeSource) Status(context.Context) (alarm.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, nil
}

func (f *fakeSource) Volume(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volume, nil
}

func (f *fakeSource) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

func (f *fakeSource) Snooze(_ context.Context, minutes int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snoozed = append(f.snoozed, minutes)
	return nil
}

func (f *fakeSource) Cancel(_ context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeSource) SetVolume(_ context.Context, p int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes = append(f.volumes, p)
	return nil
}

func entry(id int, label string) wakeup.Entry {
	at := time.Date(2026, 3, 2, 7, 0, 0, 0, time.Local)
	return wakeup.Entry{
		AlarmID: id,
		At:      at,
		Alarm:   types.AlarmDescriptor{AlarmID: id, TriggerAt: at.UnixMilli(), Label: label, RepeatDaysMask: 1, Hour: 7, Minute: 0},
	}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func sized(m Model) Model {
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 30})
	return next.(Model)
}

func TestRefresh(t *testing.T) {
	src := &fakeSource{
		alarms: []wakeup.Entry{entry(1, "Gym"), entry(2, "")},
		status: alarm.Status{
			State:   alarm.Playing,
			Session: &alarm.Session{ID: "s", Alarm: types.AlarmDescriptor{AlarmID: 1, Label: "Gym"}, Media: "a.mp3", Presentation: alarm.HeadsUp},
		},
		volume: 57,
	}
	m := sized(New(src, time.Second))

	msg := refresh(src)()
	m, _ = update(t, m, msg)

	if len(m.alarmList.Items()) != 2 {
		t.Fatalf("list items = %d, want 2", len(m.alarmList.Items()))
	}
	if got := m.alarmList.Items()[1].(alarmItem).Title(); got != "#2 Alarm" {
		t.Errorf("title = %q, want default label", got)
	}
	if got := m.alarmList.Items()[0].(alarmItem).Description(); !strings.Contains(got, "Mon") {
		t.Errorf("description = %q, want days", got)
	}

	view := m.View()
	for _, want := range []string{"playing", "57%", "Gym is ringing", "a.mp3"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestRefreshError(t *testing.T) {
	src := &fakeSource{listErr: errors.New("connection refused")}
	m := sized(New(src, time.Second))
	m, _ = update(t, m, refresh(src)())
	if m.err == nil {
		t.Fatal("err not recorded")
	}
	if !strings.Contains(m.View(), "connection refused") {
		t.Error("view does not show the error")
	}
}

func TestParseCommand(t *testing.T) {
	src := &fakeSource{}
	good := []string{"stop", "snooze", "snooze 10", "z 3", "cancel 4", "volume 80", "r"}
	for _, text := range good {
		a, err := parseCommand(text)
		if err != nil {
			t.Errorf("parseCommand(%q) = %v", text, err)
			continue
		}
		if err := a.run(context.Background(), src); err != nil {
			t.Errorf("run %q: %v", text, err)
		}
	}
	if src.stopped != 1 {
		t.Errorf("stopped = %d, want 1", src.stopped)
	}
	if len(src.snoozed) != 3 || src.snoozed[0] != 0 || src.snoozed[1] != 10 || src.snoozed[2] != 3 {
		t.Errorf("snoozed = %v", src.snoozed)
	}
	if len(src.cancelled) != 1 || src.cancelled[0] != 4 {
		t.Errorf("cancelled = %v", src.cancelled)
	}
	if len(src.volumes) != 1 || src.volumes[0] != 80 {
		t.Errorf("volumes = %v", src.volumes)
	}

	for _, text := range []string{"dance", "cancel", "cancel x", "volume -3", "snooze 1 2"} {
		if _, err := parseCommand(text); err == nil {
			t.Errorf("parseCommand(%q) = nil error", text)
		}
	}
}

func TestEnterRunsCommand(t *testing.T) {
	src := &fakeSource{}
	m := sized(New(src, time.Second))
	m.input.SetValue("snooze 7")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("enter returned no command")
	}
	if m.input.Value() != "" {
		t.Errorf("input not reset: %q", m.input.Value())
	}
	res, ok := cmd().(ResultMsg)
	if !ok || res.Err != nil || res.Text != "snoozed" {
		t.Fatalf("result = %+v", res)
	}
	if len(src.snoozed) != 1 || src.snoozed[0] != 7 {
		t.Errorf("snoozed = %v", src.snoozed)
	}

	m, cmd = update(t, m, res)
	if m.flash != "snoozed" || cmd == nil {
		t.Errorf("flash = %q, refresh cmd = %v", m.flash, cmd != nil)
	}
}

func TestEnterBadCommand(t *testing.T) {
	m := sized(New(&fakeSource{}, time.Second))
	m.input.SetValue("dance")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil {
		t.Error("bad command produced a cmd")
	}
	if m.err == nil {
		t.Error("bad command error not shown")
	}
}

func TestCancelSelected(t *testing.T) {
	src := &fakeSource{alarms: []wakeup.Entry{entry(5, "Run")}}
	m := sized(New(src, time.Second))
	m, _ = update(t, m, refresh(src)())

	// input -> sidebar
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	if m.activePanel != panelSidebar {
		t.Fatalf("panel = %d, want sidebar", m.activePanel)
	}
	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	if cmd == nil {
		t.Fatal("x returned no command")
	}
	cmd()
	if len(src.cancelled) != 1 || src.cancelled[0] != 5 {
		t.Errorf("cancelled = %v, want [5]", src.cancelled)
	}
}

func TestQuit(t *testing.T) {
	m := New(&fakeSource{}, time.Second)
	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("ctrl+c returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("ctrl+c did not quit")
	}
}

func TestAlarmItem_Snoozed(t *testing.T) {
	e := entry(8, "Nap")
	e.AlarmID, e.Snoozed = -9, true
	if got := (alarmItem{entry: e}).Title(); got != "#8 Nap (snoozed)" {
		t.Errorf("Title = %q", got)
	}
	if got := (alarmItem{entry: entry(8, "")}).Title(); got != "#8 Alarm" {
		t.Errorf("Title = %q", got)
	}
}
