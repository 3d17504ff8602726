// Package metrics exposes the core's Prometheus instrumentation: one small,
// purpose-named *Metrics struct per subsystem, registered exactly once via
// sync.Once.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// CommunityMetrics instruments the ledger and watcher of a single community
// operator process.
type CommunityMetrics struct {
	eventsApplied    *prometheus.CounterVec
	revenueDistributed prometheus.Gauge
	adminDust        prometheus.Gauge
	commitsTotal     prometheus.Counter
	cachePrunes      prometheus.Counter
	reorgViolations  prometheus.Counter
	replayLagSeconds prometheus.Gauge
}

var (
	communityOnce     sync.Once
	communityRegistry *CommunityMetrics
)

// Community returns the process-wide community ledger metrics, creating and
// registering them with the default Prometheus registry on first use.
func Community() *CommunityMetrics {
	communityOnce.Do(func() {
		communityRegistry = &CommunityMetrics{
			eventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "community_events_applied_total",
				Help: "Count of events applied to the ledger by kind.",
			}, []string{"kind"}),
			revenueDistributed: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "community_revenue_distributed",
				Help: "Cumulative revenue amount distributed across all onRevenue calls.",
			}),
			adminDust: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "community_admin_dust",
				Help: "Cumulative rounding remainder accrued to the admin address.",
			}),
			commitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "community_commits_total",
				Help: "Count of blocks committed by the operator.",
			}),
			cachePrunes: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "community_cache_prunes_total",
				Help: "Count of message cache pruning operations.",
			}),
			reorgViolations: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "community_reorg_violations_total",
				Help: "Count of already-applied events removed by a chain reorg.",
			}),
			replayLagSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "community_replay_lag_seconds",
				Help: "Seconds between the watcher's current timestamp and wall clock during replay.",
			}),
		}
		prometheus.MustRegister(
			communityRegistry.eventsApplied,
			communityRegistry.revenueDistributed,
			communityRegistry.adminDust,
			communityRegistry.commitsTotal,
			communityRegistry.cachePrunes,
			communityRegistry.reorgViolations,
			communityRegistry.replayLagSeconds,
		)
	})
	return communityRegistry
}

// EventApplied increments the counter for the given event kind.
func (m *CommunityMetrics) EventApplied(kind string) {
	if m == nil {
		return
	}
	m.eventsApplied.WithLabelValues(kind).Inc()
}

// RevenueDistributed adds amount, as a float64 approximation, to the
// cumulative revenue gauge. Prometheus gauges are float64-native; the
// ledger's own arithmetic never loses precision, this is an observability
// projection only.
func (m *CommunityMetrics) RevenueDistributed(amount float64) {
	if m == nil {
		return
	}
	m.revenueDistributed.Add(amount)
}

// AdminDust adds the rounding remainder accrued to the admin in one
// onRevenue call.
func (m *CommunityMetrics) AdminDust(dust float64) {
	if m == nil {
		return
	}
	m.adminDust.Add(dust)
}

// CommitRecorded increments the commit counter.
func (m *CommunityMetrics) CommitRecorded() {
	if m == nil {
		return
	}
	m.commitsTotal.Inc()
}

// CachePruneRecorded increments the cache-prune counter.
func (m *CommunityMetrics) CachePruneRecorded() {
	if m == nil {
		return
	}
	m.cachePrunes.Inc()
}

// ReorgViolationRecorded increments the reorg-violation counter.
func (m *CommunityMetrics) ReorgViolationRecorded() {
	if m == nil {
		return
	}
	m.reorgViolations.Inc()
}

// SetReplayLag records the current replay lag in seconds.
func (m *CommunityMetrics) SetReplayLag(seconds float64) {
	if m == nil {
		return
	}
	m.replayLagSeconds.Set(seconds)
}
