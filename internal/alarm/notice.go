package alarm

import (
	"context"
	"log/slog"
	"time"
)

// NoticeKind identifies what a notice reports.
type NoticeKind string

const (
	NoticeRinging        NoticeKind = "ringing"
	NoticeNoMedia        NoticeKind = "no_media"
	NoticePlaybackFailed NoticeKind = "playback_failed"
	NoticeDismissed      NoticeKind = "dismissed"
	NoticeSnoozed        NoticeKind = "snoozed"
)

// Notice is a user-visible event emitted by the controller.
type Notice struct {
	Kind         NoticeKind   `json:"kind"`
	AlarmID      int          `json:"alarmId"`
	Label        string       `json:"label"`
	Media        string       `json:"media,omitempty"`
	SessionID    string       `json:"sessionId,omitempty"`
	Presentation Presentation `json:"presentation,omitempty"`
	Actions      []Action     `json:"actions,omitempty"`
	Until        time.Time    `json:"until,omitzero"`
	Err          string       `json:"error,omitempty"`
	At           time.Time    `json:"at"`
}

// LogPresenter writes notices to a slog.Logger.
type LogPresenter struct {
	Log *slog.Logger
}

func (p LogPresenter) Present(n Notice) {
	l := p.Log
	if l == nil {
		l = slog.Default()
	}
	level := slog.LevelInfo
	if n.Kind == NoticeNoMedia || n.Kind == NoticePlaybackFailed {
		level = slog.LevelWarn
	}
	l.Log(context.Background(), level, "alarm notice",
		"kind", n.Kind,
		"alarm_id", n.AlarmID,
		"label", n.Label,
		"presentation", n.Presentation,
		"actions", n.Actions,
	)
}

// Presenters fans a notice out to several presenters.
type Presenters []Presenter

func (ps Presenters) Present(n Notice) {
	for _, p := range ps {
		p.Present(n)
	}
}
