// Package metrics exposes alarm counters for Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nanoalarm"

// Failure reasons for PlaybackFailed.
const (
	ReasonNoMedia  = "no_media"
	ReasonStart    = "start"
	ReasonPlayback = "playback"
)

// Metrics holds the alarm counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	scheduled prometheus.Counter
	cancelled prometheus.Counter
	fired     prometheus.Counter
	rearmed   prometheus.Counter
	snoozed   prometheus.Counter
	dismissed prometheus.Counter
	restored  *prometheus.CounterVec
	failures  *prometheus.CounterVec
}

// New creates the counters and registers them with reg. pending, when
// non-nil, backs the nanoalarm_pending_alarms gauge.
func New(reg prometheus.Registerer, pending func() int) *Metrics {
	m := &Metrics{
		scheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "scheduled_total",
			Help: "Alarms armed, including re-arms and snoozes.",
		}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cancelled_total",
			Help: "Pending alarms cancelled.",
		}),
		fired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "fired_total",
			Help: "Alarm timers that expired.",
		}),
		rearmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rearmed_total",
			Help: "Recurring alarms re-armed for their next occurrence.",
		}),
		snoozed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "snoozed_total",
			Help: "Ringing alarms snoozed.",
		}),
		dismissed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "dismissed_total",
			Help: "Ringing alarms stopped.",
		}),
		restored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "restored_total",
			Help: "Registry entries handled at startup, by outcome.",
		}, []string{"outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "playback_failures_total",
			Help: "Fires that did not produce audio, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.scheduled, m.cancelled, m.fired, m.rearmed,
		m.snoozed, m.dismissed, m.restored, m.failures)
	if pending != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pending_alarms",
			Help: "Timers currently armed.",
		}, func() float64 { return float64(pending()) }))
	}
	return m
}

func (m *Metrics) Scheduled() {
	if m != nil {
		m.scheduled.Inc()
	}
}

func (m *Metrics) Cancelled() {
	if m != nil {
		m.cancelled.Inc()
	}
}

func (m *Metrics) Fired() {
	if m != nil {
		m.fired.Inc()
	}
}

func (m *Metrics) Rearmed() {
	if m != nil {
		m.rearmed.Inc()
	}
}

func (m *Metrics) Snoozed() {
	if m != nil {
		m.snoozed.Inc()
	}
}

func (m *Metrics) Dismissed() {
	if m != nil {
		m.dismissed.Inc()
	}
}

// Restored counts one registry entry; outcome is "armed", "rearmed",
// "fired" or "dropped".
func (m *Metrics) Restored(outcome string) {
	if m != nil {
		m.restored.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) PlaybackFailed(reason string) {
	if m != nil {
		m.failures.WithLabelValues(reason).Inc()
	}
}
