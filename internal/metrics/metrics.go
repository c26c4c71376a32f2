package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	domain "github.com/oshokin/alarm-groups/internal/domain/alarm"
	"github.com/oshokin/alarm-groups/internal/service/events"
)

const (
	metricPrefix = "alarm_groups_"

	resultSuccess   = "success"
	resultNotFound  = "not_found"
	resultMalformed = "malformed"
	resultError     = "error"
)

var (
	registerOnce sync.Once

	commandsTotal   *prometheus.CounterVec
	commandLatency  *prometheus.HistogramVec
	eventsTotal     *prometheus.CounterVec
	activeWorkers   prometheus.Gauge
	activeAlarms    prometheus.Gauge
	announcedGroups *prometheus.CounterVec
)

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		commandsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "commands_total",
				Help: "Total commands by kind and result",
			},
			[]string{"kind", "result"},
		)
		commandLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "command_latency_seconds",
				Help:    "Command latency including worker reconciliation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		)
		eventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_total",
				Help: "Total emitted events by kind",
			},
			[]string{"kind"},
		)
		activeWorkers = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "active_workers",
				Help: "Group workers currently registered",
			},
		)
		activeAlarms = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "active_alarms",
				Help: "Alarms currently stored",
			},
		)
		announcedGroups = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "announcements_total",
				Help: "Total announcements by group",
			},
			[]string{"group"},
		)

		prometheus.MustRegister(
			commandsTotal,
			commandLatency,
			eventsTotal,
			activeWorkers,
			activeAlarms,
			announcedGroups,
		)
	})
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCommand records a command result and its latency.
func ObserveCommand(kind domain.CommandKind, result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}

	if commandsTotal != nil {
		commandsTotal.WithLabelValues(kind.String(), result).Inc()
	}

	if commandLatency != nil {
		commandLatency.WithLabelValues(kind.String()).Observe(duration.Seconds())
	}
}

// ObserveEvent updates counters and gauges from an emitted event.
func ObserveEvent(event domain.Event) {
	if eventsTotal != nil {
		eventsTotal.WithLabelValues(string(event.Kind)).Inc()
	}

	switch event.Kind {
	case domain.EventWorkerCreated:
		addGauge(activeWorkers, 1)
	case domain.EventWorkerTerminated, domain.EventWorkerAbandoned:
		addGauge(activeWorkers, -1)
	case domain.EventInserted:
		addGauge(activeAlarms, 1)
	case domain.EventCanceled:
		addGauge(activeAlarms, -1)
	case domain.EventAnnounced:
		if announcedGroups != nil {
			announcedGroups.WithLabelValues(groupLabel(event.GroupID)).Inc()
		}
	case domain.EventReplaced:
	}
}

// Sink returns an event sink feeding ObserveEvent.
//
//nolint:ireturn // The sink is consumed through the events.Sink interface.
func Sink() events.Sink {
	return events.SinkFunc(func(_ context.Context, event domain.Event) {
		ObserveEvent(event)
	})
}

// addGauge adds delta when the gauge is registered.
func addGauge(g prometheus.Gauge, delta float64) {
	if g != nil {
		g.Add(delta)
	}
}
