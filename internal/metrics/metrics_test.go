package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersNormalizeLabels(t *testing.T) {
	before := testutil.ToFloat64(webhookEventsTotal.WithLabelValues("thrivecart", "order.success", "granted"))
	IncWebhookEvent(" ThriveCart ", "order.success", "GRANTED")
	after := testutil.ToFloat64(webhookEventsTotal.WithLabelValues("thrivecart", "order.success", "granted"))
	if after-before != 1 {
		t.Fatalf("expected increment of 1, got %v", after-before)
	}
}

func TestCreditsGrantedIgnoresNonPositive(t *testing.T) {
	c := creditsGrantedTotal.WithLabelValues("topup")
	before := testutil.ToFloat64(c)
	AddCreditsGranted("topup", 0)
	AddCreditsGranted("topup", -5)
	AddCreditsGranted("topup", 2500)
	if got := testutil.ToFloat64(c) - before; got != 2500 {
		t.Fatalf("credits granted delta = %v, want 2500", got)
	}
}

func TestMustRegisterIsIdempotent(t *testing.T) {
	MustRegister()
	MustRegister()
}
