// Package metrics exposes Prometheus counters for connections, command
// delivery, schedules and HTTP traffic.
//
// Metrics implements connection.Observer, command.Observer and
// schedule.Observer so one value can be handed to the registry, the
// dispatcher, the sweeper and the schedule engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/devicelink-core/internal/command"
	"github.com/nerrad567/devicelink-core/internal/schedule"
)

const namespace = "devicelink"

// Metrics owns a private registry and every devicelink collector.
type Metrics struct {
	registry *prometheus.Registry

	deviceConnections  prometheus.Gauge
	commandsDispatched *prometheus.CounterVec
	commandAcks        *prometheus.CounterVec
	commandsTimedOut   prometheus.Counter
	pendingFlushed     prometheus.Counter
	scheduleFires      prometheus.Counter
	scheduleFailures   prometheus.Counter
	scheduleTick       prometheus.Histogram
	httpRequests       *prometheus.CounterVec
}

// New registers all collectors, plus the Go runtime and process collectors,
// on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		deviceConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_connections",
			Help:      "Device ids currently bound to a live connection.",
		}),
		commandsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_dispatched_total",
			Help:      "Commands dispatched by source and delivery path.",
		}, []string{"source", "path"}),
		commandAcks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_acks_total",
			Help:      "Device acknowledgements by resulting status.",
		}, []string{"status"}),
		commandsTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_timed_out_total",
			Help:      "Commands moved to timeout by the sweeper.",
		}),
		pendingFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pending_flushed_total",
			Help:      "Queued commands delivered when their device connected.",
		}),
		scheduleFires: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_fires_total",
			Help:      "Schedules fired successfully.",
		}),
		scheduleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_fire_failures_total",
			Help:      "Due schedules whose dispatch failed.",
		}),
		scheduleTick: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "schedule_tick_seconds",
			Help:      "Duration of one schedule evaluation pass.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.deviceConnections,
		m.commandsDispatched,
		m.commandAcks,
		m.commandsTimedOut,
		m.pendingFlushed,
		m.scheduleFires,
		m.scheduleFailures,
		m.scheduleTick,
		m.httpRequests,
	)
	return m
}

// Registry returns the underlying registry, for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// DeviceOnline implements connection.Observer.
func (m *Metrics) DeviceOnline(int64) { m.deviceConnections.Inc() }

// DeviceOffline implements connection.Observer.
func (m *Metrics) DeviceOffline(int64) { m.deviceConnections.Dec() }

// CommandDispatched implements command.Observer.
func (m *Metrics) CommandDispatched(cmd *command.Command, res *command.Result) {
	path := "queued"
	if res.Live {
		path = "live"
	}
	m.commandsDispatched.WithLabelValues(string(cmd.Source), path).Inc()
}

// CommandUpdated implements command.Observer.
func (m *Metrics) CommandUpdated(cmd *command.Command) {
	switch cmd.Status {
	case command.StatusAck, command.StatusFailed:
		m.commandAcks.WithLabelValues(string(cmd.Status)).Inc()
	case command.StatusTimeout:
		m.commandsTimedOut.Inc()
	case command.StatusSent:
		// Only a flush moves a logged command to sent after dispatch.
		m.pendingFlushed.Inc()
	}
}

// ScheduleFired implements schedule.Observer.
func (m *Metrics) ScheduleFired(*schedule.Schedule, *command.Result) {
	m.scheduleFires.Inc()
}

// TickCompleted implements schedule.Observer.
func (m *Metrics) TickCompleted(d time.Duration, stats schedule.TickStats) {
	m.scheduleTick.Observe(d.Seconds())
	if stats.Failed > 0 {
		m.scheduleFailures.Add(float64(stats.Failed))
	}
}

// ObserveHTTP counts one request. route is the chi route pattern.
func (m *Metrics) ObserveHTTP(route, method string, status int) {
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}
