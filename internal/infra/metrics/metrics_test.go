package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func gatheredNames(t *testing.T) map[string]bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func TestAwardMetrics(t *testing.T) {
	XPAwarded.WithLabelValues("lesson_completed").Add(10)
	AwardsProcessed.WithLabelValues("applied").Inc()
	AwardLatency.Observe(0.004)
	LevelUps.Inc()

	names := gatheredNames(t)
	for _, name := range []string{
		"xpcore_xp_awarded_total",
		"xpcore_awards_total",
		"xpcore_award_latency_seconds",
		"xpcore_level_ups_total",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestBadgeMetrics(t *testing.T) {
	before := testutil.ToFloat64(BadgesGranted.WithLabelValues("rare", "award"))
	BadgesGranted.WithLabelValues("rare", "award").Inc()
	if got := testutil.ToFloat64(BadgesGranted.WithLabelValues("rare", "award")); got != before+1 {
		t.Errorf("badges_granted = %v, want %v", got, before+1)
	}
	GrantConflicts.Inc()
	if !gatheredNames(t)["xpcore_badge_grant_conflicts_total"] {
		t.Error("xpcore_badge_grant_conflicts_total not found")
	}
}

func TestReconcileAndNotificationMetrics(t *testing.T) {
	ReconcileRuns.Inc()
	ReconcileUserFailures.Inc()
	ReconcileDrift.Inc()
	ReconcileDuration.Observe(1.2)
	NotificationsShown.WithLabelValues("badge").Inc()
	NotificationSubscribers.Set(2)
	HealthCheckStatus.WithLabelValues("store").Set(1)

	names := gatheredNames(t)
	for _, name := range []string{
		"xpcore_reconcile_runs_total",
		"xpcore_reconcile_user_failures_total",
		"xpcore_reconcile_xp_drift_total",
		"xpcore_reconcile_duration_seconds",
		"xpcore_notifications_shown_total",
		"xpcore_notification_subscribers",
		"xpcore_health_check_status",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}
