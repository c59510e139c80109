// Package alarm turns fired alarms into playback sessions and handles the
// user's Stop and Snooze.
package alarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/linkerlin/nanoalarm.go/internal/metrics"
	"github.com/linkerlin/nanoalarm.go/internal/timemath"
	"github.com/linkerlin/nanoalarm.go/internal/types"
)

// ErrNotPlaying is returned by Stop and Snooze when nothing is ringing.
var ErrNotPlaying = errors.New("no alarm is ringing")

// State of the controller.
type State string

const (
	Idle      State = "idle"
	Resolving State = "resolving"
	Playing   State = "playing"
)

// Picker chooses the media for a fired alarm.
type Picker interface {
	PickNext(groupID string, mediaPaths []string) (string, bool)
}

// Scheduler arms alarms for re-arm and snooze. Snooze keeps a timer of its
// own so the next occurrence armed by Schedule stays pending.
type Scheduler interface {
	Schedule(d types.AlarmDescriptor) error
	Snooze(d types.AlarmDescriptor) error
}

// Player plays one media item on loop until stopped.
type Player interface {
	Start(ctx context.Context, media string) error
	Stop() error
}

// FailingPlayer is a Player whose playback can fail after Start returned.
// Failed returns a channel for the current run: it delivers the error if
// playback gives up and is closed once the run ends either way.
type FailingPlayer interface {
	Player
	Failed() <-chan error
}

// LockState reports whether the device is locked.
type LockState interface {
	Locked() bool
}

// Presenter surfaces notices to the user.
type Presenter interface {
	Present(n Notice)
}

// Session is the alarm currently ringing.
type Session struct {
	ID           string                `json:"id"`
	Alarm        types.AlarmDescriptor `json:"alarm"`
	Media        string                `json:"media"`
	StartedAt    time.Time             `json:"startedAt"`
	Presentation Presentation          `json:"presentation"`
}

// Status is a snapshot of the controller.
type Status struct {
	State      State    `json:"state"`
	Session    *Session `json:"session,omitempty"`
	LastNotice *Notice  `json:"lastNotice,omitempty"`
}

// Controller owns the single playback session.
type Controller struct {
	picker    Picker
	sched     Scheduler
	player    Player
	lock      LockState
	presenter Presenter
	clock     clockwork.Clock
	metrics   *metrics.Metrics
	log       *slog.Logger
	snooze    time.Duration

	// op serializes Fire, Stop and Snooze so stop-then-start is atomic.
	op sync.Mutex

	mu      sync.Mutex
	state   State
	session *Session
	last    *Notice
}

// Option configures a Controller.
type Option func(*Controller)

func WithClock(c clockwork.Clock) Option { return func(ctl *Controller) { ctl.clock = c } }
func WithMetrics(m *metrics.Metrics) Option { return func(ctl *Controller) { ctl.metrics = m } }
func WithLogger(l *slog.Logger) Option { return func(ctl *Controller) { ctl.log = l } }
func WithPresenter(p Presenter) Option { return func(ctl *Controller) { ctl.presenter = p } }

// WithSnooze sets the default snooze offset.
func WithSnooze(d time.Duration) Option {
	return func(ctl *Controller) {
		if d > 0 {
			ctl.snooze = d
		}
	}
}

// New returns an idle Controller.
func New(picker Picker, sched Scheduler, player Player, lock LockState, opts ...Option) *Controller {
	c := &Controller{
		picker: picker,
		sched:  sched,
		player: player,
		lock:   lock,
		clock:  clockwork.NewRealClock(),
		log:    slog.Default(),
		snooze: types.DefaultSnooze,
		state:  Idle,
	}
	for _, o := range opts {
		o(c)
	}
	if c.presenter == nil {
		c.presenter = LogPresenter{Log: c.log}
	}
	return c
}

// Fire handles an expired alarm: it re-arms the next weekly occurrence,
// picks the media and starts playback. A fire without media publishes a
// NoMedia notice and leaves any ringing session alone.
func (c *Controller) Fire(ctx context.Context, d types.AlarmDescriptor) error {
	c.op.Lock()
	defer c.op.Unlock()

	c.rearm(d)

	prev := c.setState(Resolving)
	media, ok := c.picker.PickNext(d.GroupID, d.MediaPaths)
	if !ok {
		c.setState(prev)
		c.metrics.PlaybackFailed(metrics.ReasonNoMedia)
		c.log.Warn("alarm has no media", "alarm_id", d.AlarmID, "group", d.GroupID)
		c.publish(Notice{
			Kind:         NoticeNoMedia,
			AlarmID:      d.AlarmID,
			Label:        d.DisplayLabel(),
			Presentation: Minimal,
		})
		return nil
	}

	c.stopPlayer()
	c.setState(Resolving)

	pres := DecidePresentation(c.lock.Locked(), true)
	if err := c.player.Start(ctx, media); err != nil {
		c.setState(Idle)
		c.metrics.PlaybackFailed(metrics.ReasonStart)
		c.log.Error("start playback", "alarm_id", d.AlarmID, "media", media, "err", err)
		c.publish(Notice{
			Kind:         NoticePlaybackFailed,
			AlarmID:      d.AlarmID,
			Label:        d.DisplayLabel(),
			Media:        media,
			Presentation: Minimal,
			Err:          err.Error(),
		})
		return fmt.Errorf("start playback for alarm %d: %w", d.AlarmID, err)
	}

	s := &Session{
		ID:           uuid.NewString(),
		Alarm:        d,
		Media:        media,
		StartedAt:    c.clock.Now(),
		Presentation: pres,
	}
	c.mu.Lock()
	c.state = Playing
	c.session = s
	c.mu.Unlock()
	if fp, ok := c.player.(FailingPlayer); ok {
		if failed := fp.Failed(); failed != nil {
			go c.watch(s.ID, failed)
		}
	}

	c.log.Info("alarm ringing", "alarm_id", d.AlarmID, "session", s.ID, "media", media, "presentation", pres)
	c.publish(Notice{
		Kind:         NoticeRinging,
		AlarmID:      d.AlarmID,
		Label:        d.DisplayLabel(),
		Media:        media,
		SessionID:    s.ID,
		Presentation: pres,
		Actions:      pres.Actions(),
	})
	return nil
}

// watch ends the session sessionID when its playback fails after starting.
func (c *Controller) watch(sessionID string, failed <-chan error) {
	err, ok := <-failed
	if !ok {
		return
	}

	c.op.Lock()
	defer c.op.Unlock()
	c.mu.Lock()
	s := c.session
	if s == nil || s.ID != sessionID {
		c.mu.Unlock()
		return
	}
	c.session = nil
	c.state = Idle
	c.mu.Unlock()

	if stopErr := c.player.Stop(); stopErr != nil {
		c.log.Warn("stop failed playback", "session", s.ID, "err", stopErr)
	}
	c.metrics.PlaybackFailed(metrics.ReasonPlayback)
	c.log.Error("playback failed", "alarm_id", s.Alarm.AlarmID, "session", s.ID, "media", s.Media, "err", err)
	c.publish(Notice{
		Kind:         NoticePlaybackFailed,
		AlarmID:      s.Alarm.AlarmID,
		Label:        s.Alarm.DisplayLabel(),
		Media:        s.Media,
		SessionID:    s.ID,
		Presentation: Minimal,
		Err:          err.Error(),
	})
}

func (c *Controller) rearm(d types.AlarmDescriptor) {
	if !d.CanRearm() {
		return
	}
	next, ok := timemath.NextOccurrence(c.clock.Now(), d.Hour, d.Minute, timemath.DayMask(d.RepeatDaysMask))
	if !ok {
		return
	}
	if err := c.sched.Schedule(d.WithTrigger(next)); err != nil {
		c.log.Error("re-arm recurring alarm", "alarm_id", d.AlarmID, "err", err)
		return
	}
	c.metrics.Rearmed()
	c.log.Info("recurring alarm re-armed", "alarm_id", d.AlarmID, "next", next)
}

// Stop halts the ringing alarm.
func (c *Controller) Stop() error {
	c.op.Lock()
	defer c.op.Unlock()

	s := c.current()
	if s == nil {
		return ErrNotPlaying
	}
	err := c.stopPlayer()
	c.metrics.Dismissed()
	c.publish(Notice{
		Kind:      NoticeDismissed,
		AlarmID:   s.Alarm.AlarmID,
		Label:     s.Alarm.DisplayLabel(),
		SessionID: s.ID,
	})
	return err
}

// Snooze stops the ringing alarm and schedules it again offset from now.
// A non-positive offset uses the configured default. The snoozed instance is
// armed apart from the alarm's next occurrence, which stays pending.
func (c *Controller) Snooze(offset time.Duration) error {
	c.op.Lock()
	defer c.op.Unlock()

	s := c.current()
	if s == nil {
		return ErrNotPlaying
	}
	if offset <= 0 {
		offset = c.snooze
	}
	at := c.clock.Now().Add(offset)
	schedErr := c.sched.Snooze(s.Alarm.WithTrigger(at))
	if schedErr != nil {
		c.log.Error("snooze alarm", "alarm_id", s.Alarm.AlarmID, "err", schedErr)
	} else {
		c.metrics.Snoozed()
	}

	stopErr := c.stopPlayer()
	c.publish(Notice{
		Kind:      NoticeSnoozed,
		AlarmID:   s.Alarm.AlarmID,
		Label:     s.Alarm.DisplayLabel(),
		SessionID: s.ID,
		Until:     at,
	})
	if schedErr != nil {
		return fmt.Errorf("snooze alarm %d: %w", s.Alarm.AlarmID, schedErr)
	}
	return stopErr
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{State: c.state}
	if c.session != nil {
		s := *c.session
		st.Session = &s
	}
	if c.last != nil {
		n := *c.last
		st.LastNotice = &n
	}
	return st
}

func (c *Controller) current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Playing {
		return nil
	}
	return c.session
}

func (c *Controller) setState(s State) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.state
	c.state = s
	return prev
}

// stopPlayer releases the current session, if any, and returns to Idle.
// Must be called with c.op held.
func (c *Controller) stopPlayer() error {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.state = Idle
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	if err := c.player.Stop(); err != nil {
		c.log.Warn("stop playback", "session", s.ID, "err", err)
		return fmt.Errorf("stop playback: %w", err)
	}
	return nil
}

func (c *Controller) publish(n Notice) {
	n.At = c.clock.Now()
	c.mu.Lock()
	c.last = &n
	c.mu.Unlock()
	c.presenter.Present(n)
}
