package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"github.com/linkerlin/nanoalarm.go/internal/metrics"
	"github.com/linkerlin/nanoalarm.go/internal/timemath"
	"github.com/linkerlin/nanoalarm.go/internal/types"
	"github.com/linkerlin/nanoalarm.go/internal/wakeup"
)

const (
	DefaultSweepInterval = 30 * time.Second
	DefaultRestoreGrace  = 10 * time.Minute
)

// Registry persists pending alarms so they survive a restart.
type Registry interface {
	SaveAlarm(d types.AlarmDescriptor) error
	DeleteAlarm(alarmID int) error
	ListAlarms() ([]types.AlarmDescriptor, error)
}

// Handler receives the payload of every fired alarm.
type Handler func(types.AlarmDescriptor)

// Scheduler arms, replaces and cancels wake timers keyed by alarm id.
type Scheduler struct {
	mu       sync.Mutex
	timers   wakeup.Timers
	registry Registry
	clock    clockwork.Clock
	metrics  *metrics.Metrics
	log      *slog.Logger
	sweep    time.Duration
	grace    time.Duration

	hmu     sync.RWMutex
	handler Handler

	cron *cron.Cron
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithRegistry(r Registry) Option { return func(s *Scheduler) { s.registry = r } }
func WithClock(c clockwork.Clock) Option { return func(s *Scheduler) { s.clock = c } }
func WithMetrics(m *metrics.Metrics) Option { return func(s *Scheduler) { s.metrics = m } }
func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.log = l } }
func WithSweepInterval(d time.Duration) Option { return func(s *Scheduler) { s.sweep = d } }

// WithRestoreGrace sets how late a one-shot alarm may be at Restore and
// still fire.
func WithRestoreGrace(d time.Duration) Option { return func(s *Scheduler) { s.grace = d } }

// New creates a new Scheduler on top of timers.
func New(timers wakeup.Timers, opts ...Option) *Scheduler {
	s := &Scheduler{
		timers: timers,
		clock:  clockwork.NewRealClock(),
		log:    slog.Default(),
		sweep:  DefaultSweepInterval,
		grace:  DefaultRestoreGrace,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetHandler installs the function fired alarms are delivered to.
func (s *Scheduler) SetHandler(h Handler) {
	s.hmu.Lock()
	s.handler = h
	s.hmu.Unlock()
}

// Schedule arms the timer for d.AlarmID at d.TriggerAt, replacing any
// pending timer for the same id. Arm failures are returned to the caller.
func (s *Scheduler) Schedule(d types.AlarmDescriptor) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("schedule alarm %d: %w", d.AlarmID, err)
	}
	d.MediaPaths = types.CleanPaths(d.MediaPaths)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arm(d.AlarmID, d)
}

// Snooze arms a snoozed instance of d at d.TriggerAt. It has its own timer,
// so the pending next occurrence of d.AlarmID stays armed. A later snooze of
// the same alarm replaces the earlier one.
func (s *Scheduler) Snooze(d types.AlarmDescriptor) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("snooze alarm %d: %w", d.AlarmID, err)
	}
	d.MediaPaths = types.CleanPaths(d.MediaPaths)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arm(SnoozeKey(d.AlarmID), d)
}

// SnoozeKey is the timer key of a snoozed instance of alarmID. Snooze keys
// are negative and never collide with alarm ids.
func SnoozeKey(alarmID int) int {
	return -alarmID - 1
}

// alarmOf maps a timer key back to its alarm id.
func alarmOf(key int) (alarmID int, snoozed bool) {
	if key < 0 {
		return -key - 1, true
	}
	return key, false
}

// arm must be called with s.mu held. Registry rows are stored under key.
func (s *Scheduler) arm(key int, d types.AlarmDescriptor) error {
	e := wakeup.Entry{AlarmID: key, At: d.Trigger(), Alarm: d, Snoozed: key != d.AlarmID}
	if err := s.timers.Arm(e, s.fired); err != nil {
		return fmt.Errorf("arm alarm %d: %w", d.AlarmID, err)
	}
	s.metrics.Scheduled()
	s.log.Info("alarm scheduled", "alarm_id", d.AlarmID, "at", e.At, "label", d.DisplayLabel(), "snoozed", e.Snoozed)

	if s.registry != nil {
		row := d
		row.AlarmID = key
		if err := s.registry.SaveAlarm(row); err != nil {
			s.log.Warn("persist pending alarm", "alarm_id", d.AlarmID, "err", err)
		}
	}
	return nil
}

// Cancel drops the pending timer for alarmID and any snoozed instance of it.
// Unknown ids are a no-op. A session already ringing for alarmID is not
// affected. The registry rows go first, so a failed delete leaves the timers
// armed and the caller can retry.
func (s *Scheduler) Cancel(alarmID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := []int{alarmID, SnoozeKey(alarmID)}
	if s.registry != nil {
		for _, key := range keys {
			if err := s.registry.DeleteAlarm(key); err != nil {
				return fmt.Errorf("cancel alarm %d: %w", alarmID, err)
			}
		}
	}
	for _, key := range keys {
		if s.timers.Cancel(key) {
			s.metrics.Cancelled()
			s.log.Info("alarm cancelled", "alarm_id", alarmID, "snoozed", key != alarmID)
		}
	}
	return nil
}

// List returns the pending timers ordered by trigger instant.
func (s *Scheduler) List() []wakeup.Entry {
	return s.timers.Entries()
}

// Pending reports how many timers are armed.
func (s *Scheduler) Pending() int {
	return len(s.timers.Entries())
}

func (s *Scheduler) fired(e wakeup.Entry) {
	s.mu.Lock()
	// A Schedule for the same id may have landed after expiry.
	if s.registry != nil && !s.timers.Pending(e.AlarmID) {
		if err := s.registry.DeleteAlarm(e.AlarmID); err != nil {
			s.log.Warn("drop fired alarm from registry", "alarm_id", e.AlarmID, "err", err)
		}
	}
	s.mu.Unlock()

	s.metrics.Fired()
	s.log.Info("alarm fired", "alarm_id", e.Alarm.AlarmID, "label", e.Alarm.DisplayLabel(), "snoozed", e.Snoozed)

	s.hmu.RLock()
	h := s.handler
	s.hmu.RUnlock()
	if h != nil {
		h(e.Alarm)
	}
}

// Restore re-arms the alarms left in the registry by a previous run and
// returns how many are pending afterwards. Past-due recurring alarms move to
// their next occurrence. Past-due one-shot alarms and snoozes fire now when
// they are within the restore grace and are dropped otherwise.
func (s *Scheduler) Restore() (int, error) {
	if s.registry == nil {
		return 0, nil
	}
	saved, err := s.registry.ListAlarms()
	if err != nil {
		return 0, fmt.Errorf("restore alarms: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	armed := 0
	for _, row := range saved {
		d := row
		alarmID, snoozed := alarmOf(row.AlarmID)
		d.AlarmID = alarmID

		outcome := "armed"
		switch {
		case d.Validate() != nil:
			outcome = "dropped"
		case d.Trigger().After(now):
		case !snoozed && d.CanRearm():
			next, ok := timemath.NextOccurrence(now, d.Hour, d.Minute, timemath.DayMask(d.RepeatDaysMask))
			if !ok {
				outcome = "dropped"
				break
			}
			d = d.WithTrigger(next)
			outcome = "rearmed"
		case now.Sub(d.Trigger()) <= s.grace:
			outcome = "fired"
		default:
			outcome = "dropped"
		}

		s.metrics.Restored(outcome)
		if outcome == "dropped" {
			s.log.Warn("dropping stale alarm", "alarm_id", d.AlarmID, "at", d.Trigger(), "snoozed", snoozed)
			if err := s.registry.DeleteAlarm(row.AlarmID); err != nil {
				s.log.Warn("drop stale alarm", "alarm_id", d.AlarmID, "err", err)
			}
			continue
		}
		if err := s.arm(row.AlarmID, d); err != nil {
			return armed, fmt.Errorf("restore alarms: %w", err)
		}
		armed++
	}
	return armed, nil
}

// Start begins the wall-clock sweep. It stops when ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New()
	spec := fmt.Sprintf("@every %s", s.sweep)
	if _, err := c.AddFunc(spec, s.sweepOverdue); err != nil {
		return fmt.Errorf("sweep schedule %q: %w", spec, err)
	}

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	c.Start()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the sweep. Pending timers stay armed.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		c.Stop()
	}
}

func (s *Scheduler) sweepOverdue() {
	if n := s.timers.FireOverdue(s.clock.Now()); n > 0 {
		s.log.Warn("fired alarms missed by their timers", "count", n)
	}
}
