package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		grantsTotal,
		creditsGrantedTotal,
		creditsRefundedTotal,
		couponRedemptionsTotal,
		outboxPublishedTotal,
	)
}

var (
	grantsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_grants_total",
			Help: "Entitlement grants by kind (topup/subscription/module/refund/cancel/trial) and result.",
		},
		[]string{"kind", "result"}, // result: applied, replay, owned, failed
	)

	creditsGrantedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_credits_granted_total",
			Help: "Credits added to balances, by grant kind.",
		},
		[]string{"kind"},
	)

	creditsRefundedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_credits_refunded_total",
			Help: "Credits removed by refunds (after flooring).",
		},
	)

	couponRedemptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coupon_redemptions_total",
			Help: "Coupon applications by type and result.",
		},
		[]string{"type", "result"},
	)

	outboxPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_messages_total",
			Help: "Outbox relay attempts by result (sent/retry/failed).",
		},
		[]string{"result"},
	)
)

func IncGrant(kind, result string) {
	grantsTotal.WithLabelValues(norm(kind), norm(result)).Inc()
}

func AddCreditsGranted(kind string, credits float64) {
	if credits <= 0 {
		return
	}
	creditsGrantedTotal.WithLabelValues(norm(kind)).Add(credits)
}

func AddCreditsRefunded(credits float64) {
	if credits <= 0 {
		return
	}
	creditsRefundedTotal.Add(credits)
}

func IncCouponRedemption(couponType, result string) {
	couponRedemptionsTotal.WithLabelValues(norm(couponType), norm(result)).Inc()
}

func IncOutbox(result string) {
	outboxPublishedTotal.WithLabelValues(norm(result)).Inc()
}
