package alarm

// Presentation is how a ringing alarm is surfaced to the user.
type Presentation string

const (
	// FullScreen wakes the screen and shows over the lock screen.
	FullScreen Presentation = "full_screen"
	// HeadsUp is a high-priority notification with inline actions.
	HeadsUp Presentation = "heads_up"
	// Minimal is a plain notice without actions.
	Minimal Presentation = "minimal"
)

// Action is a user control offered with a notice.
type Action string

const (
	ActionStop   Action = "stop"
	ActionSnooze Action = "snooze"
)

// DecidePresentation picks the surface for a firing alarm.
func DecidePresentation(locked, hasMedia bool) Presentation {
	switch {
	case !hasMedia:
		return Minimal
	case locked:
		return FullScreen
	default:
		return HeadsUp
	}
}

// Actions returns the controls offered with p, in display order.
func (p Presentation) Actions() []Action {
	switch p {
	case FullScreen:
		return []Action{ActionStop, ActionSnooze}
	case HeadsUp:
		return []Action{ActionSnooze, ActionStop}
	}
	return nil
}
