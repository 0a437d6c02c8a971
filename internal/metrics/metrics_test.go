package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordsDecisions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.QuotaDecision("ad", true)
	m.QuotaDecision("ad", true)
	m.QuotaDecision("ad", false)
	m.LockWait(10*time.Millisecond, false)
	m.AccessLogDropped(3)

	if got := testutil.ToFloat64(m.quotaDecisions.WithLabelValues("ad", "true")); got != 2 {
		t.Fatalf("expected 2 granted decisions, got %v", got)
	}
	if got := testutil.ToFloat64(m.lockFailures); got != 1 {
		t.Fatalf("expected 1 lock failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.accessLogDropped); got != 3 {
		t.Fatalf("expected 3 dropped entries, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.QuotaDecision("ad", true)
	m.RateDecision("ads", false)
	m.LockWait(time.Second, true)
	m.Delivery("ok")
	m.DeliveredBytes("transport", 10)
	m.AccessLogDropped(1)
	m.TransportFailure("http://backend")
}
