package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultLabel is used when an alarm is scheduled without a label.
	DefaultLabel = "Alarm"

	// NoTime marks Hour/Minute as unset on one-shot alarms.
	NoTime = -1

	// DefaultSnooze is the offset used by Snooze when none is given.
	DefaultSnooze = 5 * time.Minute

	// MaxDaysMask has all seven weekday bits set.
	MaxDaysMask = 0x7f
)

var (
	ErrMissingAlarmID   = errors.New("alarmId is required")
	ErrMissingTriggerAt = errors.New("triggerAt is required")
	ErrInvalidDaysMask  = errors.New("repeatDaysMask must be within 0..127")
	ErrInvalidTime      = errors.New("hour/minute out of range")

	// ErrExactTimerDenied is returned by a timer backend that cannot arm an
	// exact, wake-capable timer. Callers must surface it: the alarm may not fire.
	ErrExactTimerDenied = errors.New("exact timer capability denied")
)

// AlarmDescriptor is the payload carried by a scheduled alarm. It holds
// everything the trigger handler needs without consulting external storage.
type AlarmDescriptor struct {
	AlarmID        int      `json:"alarmId"`
	TriggerAt      int64    `json:"triggerAt"` // epoch ms
	Label          string   `json:"label"`
	GroupID        string   `json:"groupId"`
	MediaPaths     []string `json:"mediaPaths"`
	RepeatDaysMask int      `json:"repeatDaysMask"`
	Hour           int      `json:"hour"`
	Minute         int      `json:"minute"`
}

// Trigger returns TriggerAt as a time.Time in the local zone.
func (d AlarmDescriptor) Trigger() time.Time {
	return time.UnixMilli(d.TriggerAt)
}

// IsRecurring reports whether the alarm repeats on at least one weekday.
func (d AlarmDescriptor) IsRecurring() bool {
	return d.RepeatDaysMask != 0
}

// CanRearm reports whether a fired instance should schedule its next weekly
// occurrence.
func (d AlarmDescriptor) CanRearm() bool {
	return d.AlarmID >= 0 &&
		d.RepeatDaysMask != 0 &&
		d.Hour >= 0 && d.Hour <= 23 &&
		d.Minute >= 0 && d.Minute <= 59
}

// WithTrigger returns a copy scheduled at t. Recurrence metadata is kept.
func (d AlarmDescriptor) WithTrigger(t time.Time) AlarmDescriptor {
	d.TriggerAt = t.UnixMilli()
	d.MediaPaths = append([]string(nil), d.MediaPaths...)
	return d
}

// DisplayLabel returns the label, or DefaultLabel when empty.
func (d AlarmDescriptor) DisplayLabel() string {
	if strings.TrimSpace(d.Label) == "" {
		return DefaultLabel
	}
	return d.Label
}

// Validate checks the fields the scheduler relies on.
func (d AlarmDescriptor) Validate() error {
	if d.AlarmID < 0 {
		return ErrMissingAlarmID
	}
	if d.TriggerAt <= 0 {
		return ErrMissingTriggerAt
	}
	if d.RepeatDaysMask < 0 || d.RepeatDaysMask > MaxDaysMask {
		return fmt.Errorf("%w: got %d", ErrInvalidDaysMask, d.RepeatDaysMask)
	}
	if d.RepeatDaysMask != 0 {
		if d.Hour < 0 || d.Hour > 23 || d.Minute < 0 || d.Minute > 59 {
			return fmt.Errorf("%w: %d:%d", ErrInvalidTime, d.Hour, d.Minute)
		}
	}
	return nil
}

// CleanPaths drops blank entries and duplicates, keeping first-seen order.
func CleanPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
