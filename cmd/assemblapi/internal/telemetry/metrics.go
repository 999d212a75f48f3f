package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments of the identity and
// authorization core. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Profile merges by outcome
	Merges *prometheus.CounterVec

	// Accounts coalesced or re-parented during merges
	MergedAccounts *prometheus.CounterVec

	// Subscriptions created by materialization, by status
	MaterializedSubscriptions *prometheus.CounterVec

	// Times the locked write phase was entered
	MaterializeLocks prometheus.Counter

	// Retried read-then-write sequences, by scope kind
	ConflictRetries *prometheus.CounterVec

	// Effective permission cache lookups by result
	PermissionCache *prometheus.CounterVec

	// Duration of exposed operations
	OperationDuration *prometheus.HistogramVec

	// HTTP requests by route and status
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics registers every instrument on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Merges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "assembl_profile_merges_total",
			Help: "Profile merges by outcome",
		}, []string{"outcome"}), // outcome: "merged", "rejected", "failed"

		MergedAccounts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "assembl_merged_accounts_total",
			Help: "Accounts handled by profile merges",
		}, []string{"action"}), // action: "coalesced", "reparented"

		MaterializedSubscriptions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "assembl_materialized_subscriptions_total",
			Help: "Notification subscriptions created from discussion defaults",
		}, []string{"status"}),

		MaterializeLocks: f.NewCounter(prometheus.CounterOpts{
			Name: "assembl_materialize_lock_acquisitions_total",
			Help: "Times a materialization entered its locked write phase",
		}),

		ConflictRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "assembl_conflict_retries_total",
			Help: "Read-then-write sequences retried after a concurrent modification",
		}, []string{"scope"}),

		PermissionCache: f.NewCounterVec(prometheus.CounterOpts{
			Name: "assembl_permission_cache_lookups_total",
			Help: "Effective permission cache lookups",
		}, []string{"result"}), // result: "hit", "miss"

		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assembl_operation_duration_seconds",
			Help:    "Duration of identity and authorization operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "assembl_http_requests_total",
			Help: "HTTP requests by route pattern and status code",
		}, []string{"method", "route", "status"}),
	}
}

// IncMerge records a merge outcome.
func (m *Metrics) IncMerge(outcome string) {
	if m != nil {
		m.Merges.WithLabelValues(outcome).Inc()
	}
}

// AddMergedAccounts records accounts handled by a merge.
func (m *Metrics) AddMergedAccounts(action string, n int) {
	if m != nil && n > 0 {
		m.MergedAccounts.WithLabelValues(action).Add(float64(n))
	}
}

// AddMaterialized records created subscriptions.
func (m *Metrics) AddMaterialized(status string, n int) {
	if m != nil && n > 0 {
		m.MaterializedSubscriptions.WithLabelValues(status).Add(float64(n))
	}
}

// IncMaterializeLock records one entry into a locked write phase.
func (m *Metrics) IncMaterializeLock() {
	if m != nil {
		m.MaterializeLocks.Inc()
	}
}

// IncConflictRetry records a retried sequence.
func (m *Metrics) IncConflictRetry(scope string) {
	if m != nil {
		m.ConflictRetries.WithLabelValues(scope).Inc()
	}
}

// IncPermissionCache records a cache hit or miss.
func (m *Metrics) IncPermissionCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.PermissionCache.WithLabelValues(result).Inc()
}

// ObserveOperation records the duration of an operation started at start.
func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	if m != nil {
		m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

// IncHTTPRequest records a served request.
func (m *Metrics) IncHTTPRequest(method, route, status string) {
	if m != nil {
		m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	}
}
