// Package metrics exposes the prometheus counters of the identity service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	usersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "identity_users_created_total",
		Help: "Total number of users created",
	}, []string{"source"})

	usersDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "identity_users_deleted_total",
		Help: "Total number of users deleted",
	})

	authAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "identity_auth_attempts_total",
		Help: "Total number of authentication attempts",
	}, []string{"strategy", "result"})

	authDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "identity_auth_duration_seconds",
		Help:    "Duration of authentication attempts",
		Buckets: prometheus.DefBuckets,
	}, []string{"strategy"})

	invariantRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "identity_invariant_rejections_total",
		Help: "Changes rejected because they would break a server invariant",
	}, []string{"code"})

	rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "identity_rate_limited_total",
		Help: "Attempts denied by the rate limiter",
	}, []string{"action"})

	eventDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "identity_event_deliveries_total",
		Help: "Event deliveries by type and result",
	}, []string{"type", "result"})
)

// ObserveUserCreated records a new account by source (local, github, ...).
func ObserveUserCreated(source string) {
	if source == "" {
		source = "local"
	}
	usersCreated.WithLabelValues(source).Inc()
}

func ObserveUserDeleted() {
	usersDeleted.Inc()
}

// ObserveAuthAttempt records an authentication attempt with a result label.
func ObserveAuthAttempt(strategy, result string, duration time.Duration) {
	authAttempts.WithLabelValues(strategy, result).Inc()
	authDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

func ObserveInvariantRejection(code string) {
	invariantRejections.WithLabelValues(code).Inc()
}

func ObserveRateLimited(action string) {
	rateLimited.WithLabelValues(action).Inc()
}

func ObserveEventDelivery(eventType, result string) {
	eventDeliveries.WithLabelValues(eventType, result).Inc()
}
