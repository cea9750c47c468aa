package semaphore

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for raise outcomes
const (
	outcomeRaised = "raised"
	outcomeQueued = "queued"
)

var (
	raisesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_semaphore_raises_total",
			Help: "Total number of semaphore raise attempts by outcome.",
		},
		[]string{"outcome"},
	)

	promotionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "workflow_semaphore_promotions_total",
			Help: "Total number of queued instances granted a semaphore.",
		},
	)

	expiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "workflow_semaphore_expired_total",
			Help: "Total number of expired semaphore holds released.",
		},
	)

	conflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "workflow_semaphore_conflicts_total",
			Help: "Total number of semaphore grant attempts lost to a concurrent writer.",
		},
	)
)

func init() {
	prometheus.MustRegister(raisesTotal)
	prometheus.MustRegister(promotionsTotal)
	prometheus.MustRegister(expiredTotal)
	prometheus.MustRegister(conflictsTotal)

	raisesTotal.WithLabelValues(outcomeRaised)
	raisesTotal.WithLabelValues(outcomeQueued)
}

// PromotionsTotal exposes the promotion counter for inspection
func PromotionsTotal() prometheus.Counter {
	return promotionsTotal
}
