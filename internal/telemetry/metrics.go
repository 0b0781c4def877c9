package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	UploadsSubmitted  = prometheus.NewCounter(prometheus.CounterOpts{Name: "uploads_submitted_total", Help: "Tracking records created after a successful transfer"})
	UploadFailures    = prometheus.NewCounter(prometheus.CounterOpts{Name: "uploads_failed_total", Help: "Submissions that ended in an error"})
	NotifySent        = prometheus.NewCounter(prometheus.CounterOpts{Name: "notifications_sent_total", Help: "Push messages dispatched to the gateway"})
	NotifySkipped     = prometheus.NewCounter(prometheus.CounterOpts{Name: "notifications_skipped_total", Help: "Trigger invocations that did not warrant a push"})
	NotifyFailures    = prometheus.NewCounter(prometheus.CounterOpts{Name: "notifications_failed_total", Help: "Dispatcher calls rejected by the gateway"})
	RelayEvents       = prometheus.NewCounter(prometheus.CounterOpts{Name: "relay_events_total", Help: "Status-change notifications consumed from Postgres"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "poll_rate_limit_rejects_total", Help: "Status reads rejected by the per-owner rate limiter"})
	TransfersInFlight = prometheus.NewGauge(prometheus.GaugeOpts{Name: "transfers_inflight", Help: "Binary transfers currently in progress"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			UploadsSubmitted,
			UploadFailures,
			NotifySent,
			NotifySkipped,
			NotifyFailures,
			RelayEvents,
			RateLimitRejects,
			TransfersInFlight,
		)
	})
	return promhttp.Handler()
}
