package wakeup

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/linkerlin/nanoalarm.go/internal/types"
)

var epoch = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func collect() (chan Entry, FireFunc) {
	ch := make(chan Entry, 16)
	return ch, func(e Entry) { ch <- e }
}

func recv(t *testing.T, ch chan Entry) Entry {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
	return Entry{}
}

func noRecv(t *testing.T, ch chan Entry) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected fire: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func entry(id int, at time.Time, label string) Entry {
	return Entry{
		AlarmID: id,
		At:      at,
		Alarm:   types.AlarmDescriptor{AlarmID: id, TriggerAt: at.UnixMilli(), Label: label},
	}
}

func TestLocal_FiresAtInstant(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	l := NewLocal(clock, nil)
	ch, fire := collect()

	if err := l.Arm(entry(1, epoch.Add(10*time.Minute), "a"), fire); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	clock.Advance(9 * time.Minute)
	noRecv(t, ch)

	clock.Advance(time.Minute)
	if e := recv(t, ch); e.AlarmID != 1 || e.Alarm.Label != "a" {
		t.Errorf("fired %+v", e)
	}
	if l.Pending(1) {
		t.Error("entry still pending after fire")
	}
}

func TestLocal_ReplaceFiresOnce(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	l := NewLocal(clock, nil)
	ch, fire := collect()

	l.Arm(entry(7, epoch.Add(10*time.Minute), "first"), fire)
	l.Arm(entry(7, epoch.Add(20*time.Minute), "second"), fire)

	clock.Advance(30 * time.Minute)
	if e := recv(t, ch); e.Alarm.Label != "second" {
		t.Errorf("fired payload %q, want second", e.Alarm.Label)
	}
	noRecv(t, ch)
}

func TestLocal_ReplaceEarlier(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	l := NewLocal(clock, nil)
	ch, fire := collect()

	l.Arm(entry(7, epoch.Add(20*time.Minute), "late"), fire)
	l.Arm(entry(7, epoch.Add(5*time.Minute), "early"), fire)

	clock.Advance(5 * time.Minute)
	if e := recv(t, ch); e.Alarm.Label != "early" {
		t.Errorf("fired payload %q, want early", e.Alarm.Label)
	}
	clock.Advance(time.Hour)
	noRecv(t, ch)
}

func TestLocal_Cancel(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	l := NewLocal(clock, nil)
	ch, fire := collect()

	l.Arm(entry(3, epoch.Add(time.Minute), ""), fire)
	if !l.Cancel(3) {
		t.Error("Cancel of pending timer = false")
	}
	if l.Cancel(3) {
		t.Error("second Cancel = true, want false")
	}
	if l.Cancel(99) {
		t.Error("Cancel of unknown id = true, want false")
	}
	clock.Advance(time.Hour)
	noRecv(t, ch)
}

func TestLocal_PastInstantFiresImmediately(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	l := NewLocal(clock, nil)
	ch, fire := collect()

	l.Arm(entry(4, epoch.Add(-time.Minute), "late"), fire)
	if e := recv(t, ch); e.AlarmID != 4 {
		t.Errorf("fired %+v", e)
	}
}

func TestLocal_Entries(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	l := NewLocal(clock, nil)
	_, fire := collect()

	l.Arm(entry(2, epoch.Add(2*time.Hour), ""), fire)
	l.Arm(entry(1, epoch.Add(time.Hour), ""), fire)
	l.Arm(entry(3, epoch.Add(time.Hour), ""), fire)

	got := l.Entries()
	want := []int{1, 3, 2}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].AlarmID != id {
			t.Errorf("entries[%d] = %d, want %d", i, got[i].AlarmID, id)
		}
	}
}

func TestLocal_FireOverdue(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	l := NewLocal(clock, nil)
	ch, fire := collect()

	l.Arm(entry(1, epoch.Add(10*time.Minute), ""), fire)
	l.Arm(entry(2, epoch.Add(time.Hour), ""), fire)

	// Wall clock jumped while the monotonic timer still waits.
	if n := l.FireOverdue(epoch.Add(11 * time.Minute)); n != 1 {
		t.Fatalf("FireOverdue fired %d, want 1", n)
	}
	if e := recv(t, ch); e.AlarmID != 1 {
		t.Errorf("fired %d, want 1", e.AlarmID)
	}
	if !l.Pending(2) {
		t.Error("future entry should stay pending")
	}

	clock.Advance(15 * time.Minute)
	noRecv(t, ch)
}

func TestLocal_Close(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	l := NewLocal(clock, nil)
	ch, fire := collect()

	l.Arm(entry(1, epoch.Add(time.Minute), ""), fire)
	l.Close()
	clock.Advance(time.Hour)
	noRecv(t, ch)

	if err := l.Arm(entry(2, epoch.Add(time.Minute), ""), fire); !errors.Is(err, ErrClosed) {
		t.Errorf("Arm after Close = %v, want ErrClosed", err)
	}
}
