package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	activitiesExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_activities_total",
			Help: "Total number of activity outcomes recorded, by state.",
		},
		[]string{"state"},
	)

	activitiesReplayed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "workflow_activities_replayed_total",
			Help: "Total number of completed activities skipped on reentry.",
		},
	)

	activityDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "workflow_activity_duration_seconds",
			Help:    "Time spent inside activity methods.",
			Buckets: prometheus.DefBuckets,
		},
	)

	workflowsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_instances_total",
			Help: "Total number of workflow entries, by resulting state.",
		},
		[]string{"state"},
	)

	reentriesScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "workflow_reentries_scheduled_total",
			Help: "Total number of reentries scheduled by the engine.",
		},
	)

	alertsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_alerts_total",
			Help: "Total number of exception alerts delivered, by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(activitiesExecuted)
	prometheus.MustRegister(activitiesReplayed)
	prometheus.MustRegister(activityDuration)
	prometheus.MustRegister(workflowsFinished)
	prometheus.MustRegister(reentriesScheduled)
	prometheus.MustRegister(alertsDelivered)
}
