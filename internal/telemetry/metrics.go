package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	PipelinesStarted   = prometheus.NewCounter(prometheus.CounterOpts{Name: "summarizer_pipelines_started_total", Help: "Pipelines that reached awaiting_payment"})
	PaymentsAccepted   = prometheus.NewCounter(prometheus.CounterOpts{Name: "summarizer_payments_accepted_total", Help: "Payment proofs accepted and consumed"})
	PaymentsRejected   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "summarizer_payments_rejected_total", Help: "Payment proofs rejected by reason"}, []string{"reason"})
	SummariesDelivered = prometheus.NewCounter(prometheus.CounterOpts{Name: "summarizer_delivered_total", Help: "Pipelines that delivered a summary"})
	PipelinesFailed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "summarizer_failed_total", Help: "Pipelines that ended in failure"})
	JobsTimedOut       = prometheus.NewCounter(prometheus.CounterOpts{Name: "summarizer_jobs_timed_out_total", Help: "Jobs abandoned after the polling ceiling"})
	EditsAccepted      = prometheus.NewCounter(prometheus.CounterOpts{Name: "summarizer_edits_total", Help: "Accepted summary edits"})
	RateLimitRejects   = prometheus.NewCounter(prometheus.CounterOpts{Name: "summarizer_rate_limit_rejects_total", Help: "Commands rejected by rate limiter"})
	ActivePipelines    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "summarizer_active_pipelines", Help: "Pipelines currently non-terminal"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			PipelinesStarted,
			PaymentsAccepted,
			PaymentsRejected,
			SummariesDelivered,
			PipelinesFailed,
			JobsTimedOut,
			EditsAccepted,
			RateLimitRejects,
			ActivePipelines,
		)
	})
	return promhttp.Handler()
}
