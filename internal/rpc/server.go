// Package rpc exposes the alarm core over JSON-RPC 2.0.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"
	"github.com/jonboulle/clockwork"

	"github.com/linkerlin/nanoalarm.go/internal/alarm"
	"github.com/linkerlin/nanoalarm.go/internal/timemath"
	"github.com/linkerlin/nanoalarm.go/internal/types"
	"github.com/linkerlin/nanoalarm.go/internal/volume"
	"github.com/linkerlin/nanoalarm.go/internal/wakeup"
)

// JSON-RPC error codes.
const (
	CodeInvalidParams    = jrpc2.Code(-32602)
	CodeInternal         = jrpc2.Code(-32603)
	CodeExactTimerDenied = jrpc2.Code(-32010)
	CodeNotPlaying       = jrpc2.Code(-32011)
)

// Scheduler is the scheduling surface the server drives.
type Scheduler interface {
	Schedule(d types.AlarmDescriptor) error
	Cancel(alarmID int) error
	List() []wakeup.Entry
}

// Controller is the playback surface the server drives.
type Controller interface {
	Stop() error
	Snooze(offset time.Duration) error
	Status() alarm.Status
}

// PoolAdmin resets media rotations.
type PoolAdmin interface {
	ClearPool(groupID string) error
}

// Deps are the components behind the RPC methods.
type Deps struct {
	Scheduler  Scheduler
	Controller Controller
	Pool       PoolAdmin
	Mixer      volume.Mixer
	Clock      clockwork.Clock
	Log        *slog.Logger
}

// Server serves the alarm methods through a jhttp bridge.
type Server struct {
	deps   Deps
	bridge jhttp.Bridge
}

// NewServer creates a Server with method handlers and HTTP bridge.
func NewServer(deps Deps) *Server {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	s := &Server{deps: deps}

	methods := handler.Map{
		"scheduleAlarm":         handler.New(s.scheduleAlarm),
		"cancelAlarm":           handler.New(s.cancelAlarm),
		"setAlarmVolumePercent": handler.New(s.setVolume),
		"getAlarmVolumePercent": handler.New(s.getVolume),
		"listAlarms":            handler.New(s.listAlarms),
		"stopAlarm":             handler.New(s.stopAlarm),
		"snoozeAlarm":           handler.New(s.snoozeAlarm),
		"alarmStatus":           handler.New(s.alarmStatus),
		"clearPool":             handler.New(s.clearPool),
		"nextOccurrence":        handler.New(s.nextOccurrence),
	}
	s.bridge = jhttp.NewBridge(methods, nil)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.bridge.ServeHTTP(w, r)
}

// Close shuts down the jrpc2 bridge.
func (s *Server) Close() error {
	return s.bridge.Close()
}

// ScheduleParams is the input for scheduleAlarm. Several keys are accepted
// for the trigger instant and the media list.
type ScheduleParams struct {
	AlarmID         *int     `json:"alarmId"`
	TriggerAt       *int64   `json:"triggerAt,omitempty"`
	TriggerAtMillis *int64   `json:"triggerAtMillis,omitempty"`
	Label           string   `json:"label,omitempty"`
	GroupID         string   `json:"groupId,omitempty"`
	MediaPaths      []string `json:"mediaPaths,omitempty"`
	Paths           []string `json:"paths,omitempty"`
	PathsJSON       *string  `json:"pathsJson,omitempty"`
	RepeatDaysMask  int      `json:"repeatDaysMask,omitempty"`
	Hour            *int     `json:"hour,omitempty"`
	Minute          *int     `json:"minute,omitempty"`
}

// Descriptor builds the alarm the params describe.
func (p *ScheduleParams) Descriptor() (types.AlarmDescriptor, error) {
	if p.AlarmID == nil {
		return types.AlarmDescriptor{}, types.ErrMissingAlarmID
	}
	trigger := p.TriggerAt
	if trigger == nil {
		trigger = p.TriggerAtMillis
	}
	if trigger == nil {
		return types.AlarmDescriptor{}, types.ErrMissingTriggerAt
	}

	paths := p.MediaPaths
	if paths == nil {
		paths = p.Paths
	}
	if paths == nil && p.PathsJSON != nil && strings.TrimSpace(*p.PathsJSON) != "" {
		if err := json.Unmarshal([]byte(*p.PathsJSON), &paths); err != nil {
			return types.AlarmDescriptor{}, &jrpc2.Error{Code: CodeInvalidParams, Message: "pathsJson: " + err.Error()}
		}
	}

	d := types.AlarmDescriptor{
		AlarmID:        *p.AlarmID,
		TriggerAt:      *trigger,
		Label:          p.Label,
		GroupID:        p.GroupID,
		MediaPaths:     types.CleanPaths(paths),
		RepeatDaysMask: p.RepeatDaysMask,
		Hour:           types.NoTime,
		Minute:         types.NoTime,
	}
	if p.Hour != nil {
		d.Hour = *p.Hour
	}
	if p.Minute != nil {
		d.Minute = *p.Minute
	}
	return d, nil
}

func (s *Server) scheduleAlarm(_ context.Context, p *ScheduleParams) (bool, error) {
	d, err := p.Descriptor()
	if err != nil {
		return false, rpcError(err)
	}
	if err := s.deps.Scheduler.Schedule(d); err != nil {
		return false, rpcError(err)
	}
	return true, nil
}

// AlarmIDParam is a common input with just an alarm id.
type AlarmIDParam struct {
	AlarmID *int `json:"alarmId"`
}

func (s *Server) cancelAlarm(_ context.Context, p *AlarmIDParam) (bool, error) {
	if p.AlarmID == nil {
		return false, rpcError(types.ErrMissingAlarmID)
	}
	if err := s.deps.Scheduler.Cancel(*p.AlarmID); err != nil {
		return false, rpcError(err)
	}
	return true, nil
}

// VolumeParams is the input for setAlarmVolumePercent.
type VolumeParams struct {
	Percent *int `json:"percent"`
}

func (s *Server) setVolume(_ context.Context, p *VolumeParams) (bool, error) {
	if p.Percent == nil {
		return false, &jrpc2.Error{Code: CodeInvalidParams, Message: "percent is required"}
	}
	if err := volume.SetPercent(s.deps.Mixer, *p.Percent); err != nil {
		return false, rpcError(err)
	}
	return true, nil
}

func (s *Server) getVolume(_ context.Context) (int, error) {
	p, err := volume.Percent(s.deps.Mixer)
	if err != nil {
		return 0, rpcError(err)
	}
	return p, nil
}

// ListResult is the response for listAlarms.
type ListResult struct {
	Alarms []wakeup.Entry `json:"alarms"`
}

func (s *Server) listAlarms(_ context.Context) (*ListResult, error) {
	entries := s.deps.Scheduler.List()
	if entries == nil {
		entries = []wakeup.Entry{}
	}
	return &ListResult{Alarms: entries}, nil
}

func (s *Server) stopAlarm(_ context.Context) (bool, error) {
	if err := s.deps.Controller.Stop(); err != nil {
		return false, rpcError(err)
	}
	return true, nil
}

// SnoozeParams is the input for snoozeAlarm. Zero minutes uses the
// configured default.
type SnoozeParams struct {
	Minutes int `json:"minutes,omitempty"`
}

func (s *Server) snoozeAlarm(_ context.Context, p *SnoozeParams) (bool, error) {
	if p.Minutes < 0 {
		return false, &jrpc2.Error{Code: CodeInvalidParams, Message: "minutes must not be negative"}
	}
	if err := s.deps.Controller.Snooze(time.Duration(p.Minutes) * time.Minute); err != nil {
		return false, rpcError(err)
	}
	return true, nil
}

func (s *Server) alarmStatus(_ context.Context) (alarm.Status, error) {
	return s.deps.Controller.Status(), nil
}

// GroupParam is the input for clearPool.
type GroupParam struct {
	GroupID string `json:"groupId"`
}

func (s *Server) clearPool(_ context.Context, p *GroupParam) (bool, error) {
	if err := s.deps.Pool.ClearPool(p.GroupID); err != nil {
		return false, rpcError(err)
	}
	return true, nil
}

// NextParams is the input for nextOccurrence. From defaults to now.
type NextParams struct {
	Hour           int    `json:"hour"`
	Minute         int    `json:"minute"`
	RepeatDaysMask int    `json:"repeatDaysMask"`
	From           *int64 `json:"from,omitempty"`
}

// NextResult is the response for nextOccurrence.
type NextResult struct {
	Found     bool   `json:"found"`
	TriggerAt int64  `json:"triggerAt,omitempty"`
	Days      string `json:"days"`
}

func (s *Server) nextOccurrence(_ context.Context, p *NextParams) (*NextResult, error) {
	if p.Hour < 0 || p.Hour > 23 || p.Minute < 0 || p.Minute > 59 {
		return nil, rpcError(types.ErrInvalidTime)
	}
	if p.RepeatDaysMask < 0 || p.RepeatDaysMask > types.MaxDaysMask {
		return nil, rpcError(types.ErrInvalidDaysMask)
	}
	from := s.deps.Clock.Now()
	if p.From != nil {
		from = time.UnixMilli(*p.From)
	}
	mask := timemath.DayMask(p.RepeatDaysMask)
	res := &NextResult{Days: mask.String()}
	if next, ok := timemath.NextOccurrence(from, p.Hour, p.Minute, mask); ok {
		res.Found = true
		res.TriggerAt = next.UnixMilli()
	}
	return res, nil
}

// rpcError maps core errors onto JSON-RPC error codes.
func rpcError(err error) error {
	var je *jrpc2.Error
	if errors.As(err, &je) {
		return je
	}
	code := CodeInternal
	switch {
	case errors.Is(err, types.ErrExactTimerDenied):
		code = CodeExactTimerDenied
	case errors.Is(err, alarm.ErrNotPlaying):
		code = CodeNotPlaying
	case errors.Is(err, types.ErrMissingAlarmID),
		errors.Is(err, types.ErrMissingTriggerAt),
		errors.Is(err, types.ErrInvalidDaysMask),
		errors.Is(err, types.ErrInvalidTime):
		code = CodeInvalidParams
	}
	return &jrpc2.Error{Code: code, Message: err.Error()}
}
