// Package metrics holds the Prometheus collectors for the domain
// authentication service.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "senderauth_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "senderauth_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	otpIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "senderauth_otp_issued_total",
		Help: "One-time codes mailed, by reason (first, rotate, resend).",
	}, []string{"reason"})

	otpVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "senderauth_otp_verifications_total",
		Help: "OTP verification attempts by result.",
	}, []string{"result"})

	dnsChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "senderauth_dns_checks_total",
		Help: "Planned record checks against live DNS by kind and result.",
	}, []string{"kind", "result"})

	dnsCheckDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "senderauth_dns_check_duration_seconds",
		Help:    "Time to check one planned record, including CNAME chain following.",
		Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"kind"})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "senderauth_status_transitions_total",
		Help: "Domain status transitions.",
	}, []string{"from", "to"})

	rechecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "senderauth_rechecks_total",
		Help: "DNS rechecks by resulting status.",
	}, []string{"status"})

	webhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "senderauth_webhook_deliveries_total",
		Help: "Webhook delivery attempts by result.",
	}, []string{"result"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		requestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		requestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler returns a Gin handler that serves Prometheus metrics.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordOTPIssued counts a mailed code.
func RecordOTPIssued(reason string) {
	otpIssuedTotal.WithLabelValues(reason).Inc()
}

// RecordOTPVerification counts a verification attempt. result is one of
// "success", "invalid", "expired" or "locked".
func RecordOTPVerification(result string) {
	otpVerificationsTotal.WithLabelValues(result).Inc()
}

// RecordDNSCheck records the outcome and latency of one record check.
func RecordDNSCheck(kind string, found bool, d time.Duration) {
	result := "missing"
	if found {
		result = "found"
	}
	dnsChecksTotal.WithLabelValues(kind, result).Inc()
	dnsCheckDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordTransition counts a status change. Calls with from == to are ignored.
func RecordTransition(from, to string) {
	if from == to {
		return
	}
	transitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordRecheck counts a completed recheck by the status it left behind.
func RecordRecheck(status string) {
	rechecksTotal.WithLabelValues(status).Inc()
}

// RecordWebhookDelivery counts one webhook delivery attempt.
func RecordWebhookDelivery(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	webhookDeliveriesTotal.WithLabelValues(result).Inc()
}
