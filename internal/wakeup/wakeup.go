// Package wakeup arms one-shot timers keyed by alarm id.
package wakeup

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/linkerlin/nanoalarm.go/internal/types"
)

// ErrClosed is returned by Arm after Close.
var ErrClosed = errors.New("wakeup: timers closed")

// Entry is one pending timer and the payload it delivers. AlarmID is the
// timer key; a snoozed instance is keyed apart from its alarm and carries
// the alarm's own id in Alarm.AlarmID.
type Entry struct {
	AlarmID int                   `json:"alarmId"`
	At      time.Time             `json:"at"`
	Alarm   types.AlarmDescriptor `json:"alarm"`
	Snoozed bool                  `json:"snoozed,omitempty"`
}

// FireFunc receives an entry when its timer expires.
type FireFunc func(Entry)

// Timers is the platform timer capability the scheduler arms.
type Timers interface {
	// Arm schedules fire for e.At, replacing any pending timer for
	// e.AlarmID. A replaced timer never fires.
	Arm(e Entry, fire FireFunc) error
	// Cancel drops the pending timer for alarmID and reports whether one
	// existed.
	Cancel(alarmID int) bool
	Pending(alarmID int) bool
	Entries() []Entry
	// FireOverdue fires every entry whose At is not after now and returns
	// how many it fired.
	FireOverdue(now time.Time) int
}

type timer struct {
	Entry
	gen  uint64
	fire FireFunc
	t    clockwork.Timer
}

// Local keeps timers in process on a clockwork.Clock.
type Local struct {
	clock clockwork.Clock
	log   *slog.Logger

	mu      sync.Mutex
	entries map[int]*timer
	gen     uint64
	closed  bool
}

// NewLocal returns Local timers driven by clock. A nil clock means the real
// clock.
func NewLocal(clock clockwork.Clock, log *slog.Logger) *Local {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Local{
		clock:   clock,
		log:     log,
		entries: make(map[int]*timer),
	}
}

func (l *Local) Arm(e Entry, fire FireFunc) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	if old, ok := l.entries[e.AlarmID]; ok {
		old.t.Stop()
	}
	l.gen++
	t := &timer{Entry: e, gen: l.gen, fire: fire}
	gen, id := l.gen, e.AlarmID
	t.t = l.clock.AfterFunc(l.clock.Until(e.At), func() { l.expire(id, gen) })
	l.entries[id] = t
	return nil
}

func (l *Local) expire(id int, gen uint64) {
	l.mu.Lock()
	t, ok := l.entries[id]
	if !ok || t.gen != gen {
		l.mu.Unlock()
		return
	}
	delete(l.entries, id)
	l.mu.Unlock()

	t.fire(t.Entry)
}

func (l *Local) Cancel(alarmID int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.entries[alarmID]
	if !ok {
		return false
	}
	t.t.Stop()
	delete(l.entries, alarmID)
	return true
}

func (l *Local) Pending(alarmID int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[alarmID]
	return ok
}

// Entries returns the pending timers ordered by At, then AlarmID.
func (l *Local) Entries() []Entry {
	l.mu.Lock()
	out := make([]Entry, 0, len(l.entries))
	for _, t := range l.entries {
		out = append(out, t.Entry)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].AlarmID < out[j].AlarmID
		}
		return out[i].At.Before(out[j].At)
	})
	return out
}

// FireOverdue catches up on timers whose wall-clock instant has passed while
// the monotonic timer has not, as after a suspend or a clock step.
func (l *Local) FireOverdue(now time.Time) int {
	l.mu.Lock()
	var due []*timer
	for id, t := range l.entries {
		if t.At.After(now) {
			continue
		}
		t.t.Stop()
		delete(l.entries, id)
		due = append(due, t)
	}
	l.mu.Unlock()

	for _, t := range due {
		l.log.Info("firing overdue alarm", "alarm_id", t.AlarmID, "at", t.At)
		go t.fire(t.Entry)
	}
	return len(due)
}

// Close stops every pending timer. Later Arm calls fail with ErrClosed.
func (l *Local) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, t := range l.entries {
		t.t.Stop()
		delete(l.entries, id)
	}
	l.closed = true
}
