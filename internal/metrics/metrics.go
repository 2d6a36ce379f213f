package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Registrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "referral_registrations_total",
		Help: "Registration events by outcome.",
	}, []string{"outcome"})

	BonusCredited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "referral_bonus_credited_total",
		Help: "Sum of referral bonuses credited to referrers.",
	})

	TierPromotions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "referral_tier_promotions_total",
		Help: "Referrers promoted, by new tier.",
	}, []string{"tier"})

	AdminAdjustments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "referral_admin_adjustments_total",
		Help: "Administrative balance adjustments by kind and outcome.",
	}, []string{"kind", "outcome"})

	BroadcastDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "referral_broadcast_deliveries_total",
		Help: "Broadcast deliveries by status.",
	}, []string{"status"})

	ReconcileMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "referral_reconcile_mismatches_total",
		Help: "Users whose balance differed from their transaction sum.",
	})

	ReconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "referral_reconcile_runs_total",
		Help: "Reconciliation cycles by result.",
	}, []string{"result"})
)
