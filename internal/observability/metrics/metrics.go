package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path pattern and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cliniccore_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks request latency
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cliniccore_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// TenantCacheLookups counts tenant resolver lookups by outcome:
	// local_hit, shared_hit, miss
	TenantCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cliniccore_tenant_cache_lookups_total",
			Help: "Tenant resolver cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	// ProvisionTotal counts tenant provisioning attempts by result
	ProvisionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cliniccore_tenant_provision_total",
			Help: "Tenant provisioning attempts by result",
		},
		[]string{"result"},
	)

	// ProvisionDuration tracks end-to-end provisioning latency
	ProvisionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cliniccore_tenant_provision_duration_seconds",
			Help:    "Tenant provisioning duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	// AuthOperations counts login/refresh/logout outcomes
	AuthOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cliniccore_auth_operations_total",
			Help: "Authentication operations by type and result",
		},
		[]string{"operation", "result"},
	)

	// ActiveTenants tracks the number of resolvable tenants
	ActiveTenants = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cliniccore_active_tenants",
			Help: "Number of active tenants in the registry",
		},
	)

	// SweepRuns counts background sweeper runs by result
	SweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cliniccore_tenant_sweep_runs_total",
			Help: "Tenant maintenance sweeps by result",
		},
		[]string{"result"},
	)
)

// ObserveHTTPRequest records metrics for a completed HTTP request
func ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveTenantCache records a resolver lookup outcome
func ObserveTenantCache(outcome string) {
	TenantCacheLookups.WithLabelValues(outcome).Inc()
}

// ObserveProvision records a provisioning attempt
func ObserveProvision(result string, duration time.Duration) {
	ProvisionTotal.WithLabelValues(result).Inc()
	ProvisionDuration.Observe(duration.Seconds())
}

// ObserveAuth records an authentication operation outcome
func ObserveAuth(operation, result string) {
	AuthOperations.WithLabelValues(operation, result).Inc()
}
