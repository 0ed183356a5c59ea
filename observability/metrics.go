// Package observability exposes the service's Prometheus collectors.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// StoreMetrics records conversion and transfer activity.
type StoreMetrics struct {
	Conversions     *prometheus.CounterVec
	ConversionValue prometheus.Counter
	Rewards         prometheus.Counter
	RewardValue     prometheus.Counter
	Transfers       prometheus.Counter
	Registrations   prometheus.Counter
	PrunedEvents    prometheus.Counter
}

var (
	storeMetricsOnce sync.Once
	storeRegistry    *StoreMetrics
)

// Metrics returns the lazily-initialised collector set, registered on the
// default registry.
func Metrics() *StoreMetrics {
	storeMetricsOnce.Do(func() {
		storeRegistry = &StoreMetrics{
			Conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ybcstore",
				Subsystem: "ledger",
				Name:      "conversions_total",
				Help:      "Credit conversions segmented by outcome.",
			}, []string{"outcome"}),
			ConversionValue: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ybcstore",
				Subsystem: "ledger",
				Name:      "converted_credits_total",
				Help:      "Total credits converted to balance.",
			}),
			Rewards: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ybcstore",
				Subsystem: "ledger",
				Name:      "rewards_total",
				Help:      "Referral rewards credited to ancestors.",
			}),
			RewardValue: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ybcstore",
				Subsystem: "ledger",
				Name:      "reward_value_total",
				Help:      "Total referral reward value credited.",
			}),
			Transfers: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ybcstore",
				Subsystem: "ledger",
				Name:      "transfers_total",
				Help:      "Completed balance transfers.",
			}),
			Registrations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ybcstore",
				Subsystem: "users",
				Name:      "registrations_total",
				Help:      "Registered accounts.",
			}),
			PrunedEvents: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ybcstore",
				Subsystem: "audit",
				Name:      "pruned_events_total",
				Help:      "Audit rows removed by the retention sweep.",
			}),
		}
		prometheus.MustRegister(
			storeRegistry.Conversions,
			storeRegistry.ConversionValue,
			storeRegistry.Rewards,
			storeRegistry.RewardValue,
			storeRegistry.Transfers,
			storeRegistry.Registrations,
			storeRegistry.PrunedEvents,
		)
	})
	return storeRegistry
}

// ObserveConversion tallies one conversion attempt.
func (m *StoreMetrics) ObserveConversion(outcome string, amount float64, rewards int, rewardValue float64) {
	if m == nil {
		return
	}
	m.Conversions.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.ConversionValue.Add(amount)
		m.Rewards.Add(float64(rewards))
		m.RewardValue.Add(rewardValue)
	}
}
