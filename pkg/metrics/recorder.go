// Package metrics records poll-loop counters with Prometheus and snapshots
// them to a textfile. There is no scrape endpoint: workers are short-lived
// local processes, so each runner dumps its registry to
// <state>/metrics.prom for the host's status display to read.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds the poll-loop metrics for one worker process. Each runner
// creates its own Recorder and registry; nothing here is a global singleton.
type Recorder struct {
	registry *prometheus.Registry

	tasksClaimed     *prometheus.CounterVec
	tasksCompleted   *prometheus.CounterVec
	tasksFailed      *prometheus.CounterVec
	messagesConsumed *prometheus.CounterVec
	pollErrors       *prometheus.CounterVec
	lastPollUnix     *prometheus.GaugeVec
}

// NewRecorder creates a recorder backed by a fresh registry.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()

	r := &Recorder{
		registry: registry,
		tasksClaimed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teambridge_tasks_claimed_total",
				Help: "Total tasks claimed by team and worker",
			},
			[]string{"team", "worker"},
		),
		tasksCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teambridge_tasks_completed_total",
				Help: "Total tasks completed by team and worker",
			},
			[]string{"team", "worker"},
		),
		tasksFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teambridge_tasks_failed_total",
				Help: "Total task executions that failed by team and worker",
			},
			[]string{"team", "worker"},
		),
		messagesConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teambridge_inbox_messages_consumed_total",
				Help: "Total inbox messages consumed by team and worker",
			},
			[]string{"team", "worker"},
		),
		pollErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teambridge_poll_errors_total",
				Help: "Total poll ticks that ended in an error",
			},
			[]string{"team", "worker"},
		),
		lastPollUnix: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "teambridge_last_poll_timestamp_seconds",
				Help: "Unix time of the most recent completed poll tick",
			},
			[]string{"team", "worker"},
		),
	}

	registry.MustRegister(
		r.tasksClaimed,
		r.tasksCompleted,
		r.tasksFailed,
		r.messagesConsumed,
		r.pollErrors,
		r.lastPollUnix,
	)
	return r
}

// Registry exposes the underlying registry for snapshotting.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// TaskClaimed counts a successful claim.
func (r *Recorder) TaskClaimed(team, worker string) {
	r.tasksClaimed.WithLabelValues(team, worker).Inc()
}

// TaskCompleted counts a successful execution.
func (r *Recorder) TaskCompleted(team, worker string) {
	r.tasksCompleted.WithLabelValues(team, worker).Inc()
}

// TaskFailed counts a failed execution.
func (r *Recorder) TaskFailed(team, worker string) {
	r.tasksFailed.WithLabelValues(team, worker).Inc()
}

// MessagesConsumed counts inbox messages delivered to the worker.
func (r *Recorder) MessagesConsumed(team, worker string, n int) {
	if n > 0 {
		r.messagesConsumed.WithLabelValues(team, worker).Add(float64(n))
	}
}

// PollError counts a tick that ended in an error.
func (r *Recorder) PollError(team, worker string) {
	r.pollErrors.WithLabelValues(team, worker).Inc()
}

// PollCompleted stamps the last successful poll time.
func (r *Recorder) PollCompleted(team, worker string, at time.Time) {
	r.lastPollUnix.WithLabelValues(team, worker).Set(float64(at.Unix()))
}
