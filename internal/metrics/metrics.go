// Package metrics exposes the gateway's Prometheus collectors.
//
// All recording methods are safe on a nil *Metrics so components can be built without metrics in tests.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mediagw"

type Metrics struct {
	quotaDecisions    *prometheus.CounterVec
	rateDecisions     *prometheus.CounterVec
	lockFailures      prometheus.Counter
	lockWait          prometheus.Histogram
	deliveryRequests  *prometheus.CounterVec
	deliveryBytes     *prometheus.CounterVec
	accessLogDropped  prometheus.Counter
	transportFailures *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		quotaDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_decisions_total",
			Help:      "Quota increment attempts by resource and outcome.",
		}, []string{"resource", "granted"}),
		rateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Sliding-window rate limit checks by route and outcome.",
		}, []string{"route", "allowed"}),
		lockFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_failures_total",
			Help:      "Exclusive sections that could not be entered in time.",
		}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting to enter an exclusive section.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		deliveryRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_requests_total",
			Help:      "Delivery attempts by outcome.",
		}, []string{"outcome"}),
		deliveryBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_bytes_total",
			Help:      "Bytes streamed to clients by source.",
		}, []string{"source"}),
		accessLogDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_log_dropped_total",
			Help:      "Access log entries dropped because the buffer was full or the insert failed.",
		}),
		transportFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_failures_total",
			Help:      "Failed chunk fetches by backend target.",
		}, []string{"target"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.quotaDecisions,
			m.rateDecisions,
			m.lockFailures,
			m.lockWait,
			m.deliveryRequests,
			m.deliveryBytes,
			m.accessLogDropped,
			m.transportFailures,
		)
	}

	return m
}

func (m *Metrics) QuotaDecision(resource string, granted bool) {
	if m == nil {
		return
	}
	m.quotaDecisions.WithLabelValues(resource, strconv.FormatBool(granted)).Inc()
}

func (m *Metrics) RateDecision(route string, allowed bool) {
	if m == nil {
		return
	}
	m.rateDecisions.WithLabelValues(route, strconv.FormatBool(allowed)).Inc()
}

func (m *Metrics) LockWait(d time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
	if !ok {
		m.lockFailures.Inc()
	}
}

func (m *Metrics) Delivery(outcome string) {
	if m == nil {
		return
	}
	m.deliveryRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) DeliveredBytes(source string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.deliveryBytes.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) AccessLogDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.accessLogDropped.Add(float64(n))
}

func (m *Metrics) TransportFailure(target string) {
	if m == nil {
		return
	}
	m.transportFailures.WithLabelValues(target).Inc()
}
