package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Farm metrics
	AgentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grange_agents_total",
			Help: "Total number of agents by state",
		},
		[]string{"state"},
	)

	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grange_jobs_total",
			Help: "Total number of jobs by state",
		},
		[]string{"state"},
	)

	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grange_tasks_total",
			Help: "Total number of tasks by state",
		},
		[]string{"state"},
	)

	QueueAssignedAgents = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grange_queue_assigned_agents",
			Help: "Agents currently committed to each job queue",
		},
		[]string{"queue"},
	)

	// Scheduler metrics
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "grange_scheduling_latency_seconds",
			Help:    "Time taken by one scheduling tick in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	QueueSchedulingLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grange_queue_scheduling_latency_seconds",
			Help:    "Time spent scheduling each job queue within a tick",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)

	TasksScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "grange_tasks_scheduled_total",
			Help: "Total number of tasks assigned to agents",
		},
	)

	TasksFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "grange_tasks_failed_total",
			Help: "Total number of failed task attempts",
		},
	)

	TasksRequeued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "grange_tasks_requeued_total",
			Help: "Total number of failed tasks returned to the queue",
		},
	)

	// Health metrics
	StaleAgents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "grange_stale_agents_total",
			Help: "Total number of agents lost to heartbeat staleness",
		},
	)

	HeartbeatsDiscarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "grange_heartbeats_discarded_total",
			Help: "Heartbeat reports discarded for arriving out of order",
		},
	)

	// Dispatch metrics
	DispatchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "grange_dispatch_failures_total",
			Help: "Assignment deliveries that failed to reach the agent",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(AgentsTotal)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(QueueAssignedAgents)
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(QueueSchedulingLatency)
	prometheus.MustRegister(TasksScheduled)
	prometheus.MustRegister(TasksFailed)
	prometheus.MustRegister(TasksRequeued)
	prometheus.MustRegister(StaleAgents)
	prometheus.MustRegister(HeartbeatsDiscarded)
	prometheus.MustRegister(DispatchFailures)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
