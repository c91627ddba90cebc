// Package metrics provides Prometheus metrics for xpcore.
// Counters, gauges, and histograms for awards, badges, reconciliation,
// notifications, and health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Awards ─────────────────────────────────────────────────────────────────

// XPAwarded tracks XP applied to profiles by event type. Corrections are
// recorded as their absolute value under xp_correction.
var XPAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "xpcore",
	Name:      "xp_awarded_total",
	Help:      "Total XP applied to profiles.",
}, []string{"event_type"})

// AwardsProcessed tracks award calls by outcome (applied, duplicate, error).
var AwardsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "xpcore",
	Name:      "awards_total",
	Help:      "Total award requests by outcome.",
}, []string{"outcome"})

// AwardLatency tracks end-to-end award duration.
var AwardLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "xpcore",
	Name:      "award_latency_seconds",
	Help:      "Award duration in seconds, lock wait included.",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
})

// LevelUps tracks awards that raised a user's level.
var LevelUps = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "xpcore",
	Name:      "level_ups_total",
	Help:      "Total level-ups.",
})

// ─── Badges ─────────────────────────────────────────────────────────────────

// BadgesGranted tracks first-time grants by rarity and source (award, reconcile).
var BadgesGranted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "xpcore",
	Name:      "badges_granted_total",
	Help:      "Total badges granted.",
}, []string{"rarity", "source"})

// GrantConflicts tracks grants that found the badge already owned.
var GrantConflicts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "xpcore",
	Name:      "badge_grant_conflicts_total",
	Help:      "Grant attempts that lost to an existing award row.",
})

// ─── Reconciliation ─────────────────────────────────────────────────────────

// ReconcileRuns tracks completed sweeps.
var ReconcileRuns = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "xpcore",
	Name:      "reconcile_runs_total",
	Help:      "Total reconciliation sweeps.",
})

// ReconcileUserFailures tracks users skipped because of an error.
var ReconcileUserFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "xpcore",
	Name:      "reconcile_user_failures_total",
	Help:      "Users whose reconciliation failed.",
})

// ReconcileDrift tracks users whose cached XP disagreed with the ledger.
var ReconcileDrift = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "xpcore",
	Name:      "reconcile_xp_drift_total",
	Help:      "Users found with total_xp different from the ledger sum.",
})

// ReconcileDuration tracks sweep duration.
var ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "xpcore",
	Name:      "reconcile_duration_seconds",
	Help:      "Reconciliation sweep duration in seconds.",
	Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
})

// ─── Notifications ──────────────────────────────────────────────────────────

// NotificationsShown tracks items presented by notification queues.
var NotificationsShown = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "xpcore",
	Name:      "notifications_shown_total",
	Help:      "Notification items shown by kind.",
}, []string{"kind"})

// NotificationSubscribers tracks live notification subscribers.
var NotificationSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "xpcore",
	Name:      "notification_subscribers",
	Help:      "Number of live notification subscribers.",
})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "xpcore",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// HealthRecoveries tracks auto-recovery attempts.
var HealthRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "xpcore",
	Name:      "health_recoveries_total",
	Help:      "Total auto-recovery attempts per check.",
}, []string{"check"})
