// Package metrics registers the prometheus collectors for vault operations,
// the feed poller and the keeper.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alanyoungcy/urbanium/internal/domain"
)

type VaultMetrics struct {
	operations  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	rejections  *prometheus.CounterVec
	totalShares *prometheus.GaugeVec
	feedUpdates *prometheus.CounterVec
	keeperRoute *prometheus.CounterVec
	archived    prometheus.Counter
}

var (
	vaultOnce     sync.Once
	vaultRegistry *VaultMetrics
)

// Vault returns the process-wide collectors, registering them on first use.
func Vault() *VaultMetrics {
	vaultOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "urbanium_vault_operations_total",
				Help: "Vault operations by operation and outcome.",
			}, []string{"operation", "outcome"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "urbanium_vault_operation_duration_seconds",
				Help:    "Latency of vault operations including lock and commit.",
				Buckets: prometheus.DefBuckets,
			}, []string{"operation"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "urbanium_vault_rejections_total",
				Help: "Rejected vault operations by operation and error name.",
			}, []string{"operation", "error"}),
			totalShares: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "urbanium_vault_total_shares",
				Help: "Outstanding shares per vault after the last committed operation.",
			}, []string{"vault"}),
			feedUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "urbanium_feed_updates_total",
				Help: "Price feed account writes by feed and outcome.",
			}, []string{"feed", "outcome"}),
			keeperRoute: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "urbanium_keeper_routes_total",
				Help: "Keeper routing attempts by destination or error.",
			}, []string{"vault", "result"}),
			archived: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "urbanium_audit_archived_total",
				Help: "Audit entries moved to object storage.",
			}),
		}
		prometheus.MustRegister(
			vaultRegistry.operations,
			vaultRegistry.duration,
			vaultRegistry.rejections,
			vaultRegistry.totalShares,
			vaultRegistry.feedUpdates,
			vaultRegistry.keeperRoute,
			vaultRegistry.archived,
		)
	})
	return vaultRegistry
}

// ObserveOperation records the outcome and latency of one operation. Coded
// vault errors are additionally counted by name.
func (m *VaultMetrics) ObserveOperation(op string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		name := "internal"
		if ve, ok := domain.AsVaultError(err); ok {
			outcome = "rejected"
			name = ve.Name
		}
		m.rejections.WithLabelValues(op, name).Inc()
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func (m *VaultMetrics) SetTotalShares(vault domain.ID, shares uint64) {
	if m == nil {
		return
	}
	m.totalShares.WithLabelValues(vault.Hex()).Set(float64(shares))
}

func (m *VaultMetrics) ObserveFeedUpdate(feed domain.ID, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.feedUpdates.WithLabelValues(feed.Hex(), outcome).Inc()
}

func (m *VaultMetrics) ObserveKeeperRoute(vault domain.ID, result string) {
	if m == nil {
		return
	}
	if result == "" {
		result = "unknown"
	}
	m.keeperRoute.WithLabelValues(vault.Hex(), result).Inc()
}

func (m *VaultMetrics) AddArchived(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.archived.Add(float64(n))
}
