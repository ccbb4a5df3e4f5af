// Package metrics exposes bridge instrumentation in Prometheus format.
//
// A Recorder owns its own registry so tests and multiple bridges in one
// process never collide on the default global registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pioneer"

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Recorder collects poll, command and connection metrics per receiver.
type Recorder struct {
	registry *prometheus.Registry

	polls           *prometheus.CounterVec
	pollDuration    *prometheus.HistogramVec
	commands        *prometheus.CounterVec
	connectFailures *prometheus.CounterVec
	up              *prometheus.GaugeVec
}

// Options configures a Recorder.
type Options struct {
	// IncludeRuntime adds the Go runtime and process collectors.
	IncludeRuntime bool
}

// New creates a Recorder with all collectors registered.
func New(opts Options) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Status polls by receiver and result.",
		}, []string{"device", "result"}),
		pollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Time taken by one status poll, including connection setup.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"device"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands executed by receiver, command and result.",
		}, []string{"device", "command", "result"}),
		connectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_failures_total",
			Help:      "Failed connection attempts to a receiver.",
		}, []string{"device"}),
		up: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "receiver_up",
			Help:      "1 if the last poll of the receiver succeeded.",
		}, []string{"device"}),
	}

	r.registry.MustRegister(r.polls, r.pollDuration, r.commands, r.connectFailures, r.up)
	if opts.IncludeRuntime {
		r.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return r
}

// ObservePoll records one poll outcome.
func (r *Recorder) ObservePoll(deviceID string, ok bool, duration time.Duration) {
	r.polls.WithLabelValues(deviceID, result(ok)).Inc()
	r.pollDuration.WithLabelValues(deviceID).Observe(duration.Seconds())
	if ok {
		r.up.WithLabelValues(deviceID).Set(1)
	} else {
		r.up.WithLabelValues(deviceID).Set(0)
	}
}

// ObserveCommand records one command outcome.
func (r *Recorder) ObserveCommand(deviceID, command string, ok bool) {
	r.commands.WithLabelValues(deviceID, command, result(ok)).Inc()
}

// ConnectFailure counts a failed connection attempt.
func (r *Recorder) ConnectFailure(deviceID string) {
	r.connectFailures.WithLabelValues(deviceID).Inc()
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		Registry: r.registry,
	})
}

func result(ok bool) string {
	if ok {
		return ResultOK
	}
	return ResultError
}
