// Package metrics registers the Prometheus instrumentation for the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Changeset metrics
	CommitsTotal    prometheus.Counter
	CommitConflicts prometheus.Counter
	ChangesStaged   prometheus.Counter

	// Permission metrics
	PermissionDenials *prometheus.CounterVec
}

// New creates and registers the collectors against the given registerer.
// Tests pass a fresh registry to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "varstore_http_requests_total",
				Help: "Total number of HTTP requests processed",
			},
			[]string{"method", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "varstore_http_request_duration_seconds",
				Help:    "Duration of HTTP request processing",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		CommitsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "varstore_changeset_commits_total",
				Help: "Total number of committed changesets",
			},
		),
		CommitConflicts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "varstore_changeset_commit_conflicts_total",
				Help: "Total number of commits aborted by stale base versions",
			},
		),
		ChangesStaged: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "varstore_changes_staged_total",
				Help: "Total number of staged entity mutations",
			},
		),
		PermissionDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "varstore_permission_denials_total",
				Help: "Total number of denied permission checks",
			},
			[]string{"permission", "scope_kind"},
		),
	}
}
