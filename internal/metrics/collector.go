// AngelaMos | 2026
// collector.go

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so several instances can coexist in
// one process. All methods are safe on a nil receiver.
type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	ordersTotal        *prometheus.CounterVec
	paymentsTotal      *prometheus.CounterVec
	creditsGranted     *prometheus.CounterVec
	creditsDebited     prometheus.Counter
	accountsProvisions prometheus.Counter

	conversionsTotal   *prometheus.CounterVec
	conversionDuration prometheus.Histogram
}

func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,

		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		ordersTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_orders_total",
			Help:      "Payment orders requested from the gateway by result.",
		}, []string{"result"}),
		paymentsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_verifications_total",
			Help:      "Payment verifications by result.",
		}, []string{"result"}),
		creditsGranted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_granted_total",
			Help:      "Generation credits added by verified purchases.",
		}, []string{"plan"}),
		creditsDebited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_debited_total",
			Help:      "Generation credits consumed by completed conversions.",
		}),
		accountsProvisions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accounts_provisioned_total",
			Help:      "Ledger records created on first use.",
		}),

		conversionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_total",
			Help:      "Image-to-3D conversions by result.",
		}, []string{"result"}),
		conversionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversion_duration_seconds",
			Help:      "Upstream conversion latency.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 90, 120},
		}),
	}
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (c *Collector) OrderCreated(result string) {
	if c == nil {
		return
	}
	c.ordersTotal.WithLabelValues(result).Inc()
}

func (c *Collector) PaymentVerified(result string) {
	if c == nil {
		return
	}
	c.paymentsTotal.WithLabelValues(result).Inc()
}

func (c *Collector) CreditsGranted(plan string, n int) {
	if c == nil {
		return
	}
	c.creditsGranted.WithLabelValues(plan).Add(float64(n))
}

func (c *Collector) CreditDebited() {
	if c == nil {
		return
	}
	c.creditsDebited.Inc()
}

func (c *Collector) AccountProvisioned() {
	if c == nil {
		return
	}
	c.accountsProvisions.Inc()
}

func (c *Collector) ConversionFinished(result string, d time.Duration) {
	if c == nil {
		return
	}
	c.conversionsTotal.WithLabelValues(result).Inc()
	c.conversionDuration.Observe(d.Seconds())
}
