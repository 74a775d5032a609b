// Package telemetry exposes the control plane's Prometheus counters and
// histograms on /metrics, using promauto package-level registration the
// way the reference pack's network proxy does.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var reloadSuccessTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "mucp_reload_success_total",
	Help: "count of generation reloads that completed successfully",
})

var reloadFailureTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "mucp_reload_failure_total",
	Help: "count of generation reloads that failed (warmup or drain)",
})

var reloadDrainDurationMsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "mucp_reload_drain_duration_ms_total",
	Help: "cumulative milliseconds spent draining the prior generation across all reloads",
})

var reloadDrainSamplesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "mucp_reload_drain_duration_samples_total",
	Help: "count of drain duration samples recorded, for computing an average alongside the duration total",
})

var duplicateSignalTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "mucp_duplicate_signal_total",
	Help: "count of reload signals coalesced onto an already-pending attempt",
})

var pipelineResultTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mucp_pipeline_result_total",
	Help: "count of pipeline results by channel and result kind",
}, []string{"channel", "kind"})

var outboxAttemptTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mucp_outbox_attempt_total",
	Help: "count of outbox delivery attempts by channel and outcome",
}, []string{"channel", "outcome"})

var outboxDeadLetterTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mucp_outbox_dead_letter_total",
	Help: "count of outbox records that exhausted their retry budget and were dead-lettered",
}, []string{"channel"})

var commandDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "mucp_command_duration_ms",
	Help:    "wall-clock time of one command pipeline run, from receipt to the result it returns",
	Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
})

// RecordReloadSuccess increments the success counter and records drainMs as
// a sample toward the average drain duration.
func RecordReloadSuccess(drainMs int64) {
	reloadSuccessTotal.Inc()
	reloadDrainDurationMsTotal.Add(float64(drainMs))
	reloadDrainSamplesTotal.Inc()
}

// RecordReloadFailure increments the failure counter. drainMs is 0 when
// the failure happened during warmup, before any drain was attempted.
func RecordReloadFailure(drainMs int64) {
	reloadFailureTotal.Inc()
	if drainMs > 0 {
		reloadDrainDurationMsTotal.Add(float64(drainMs))
		reloadDrainSamplesTotal.Inc()
	}
}

// RecordDuplicateSignal increments the coalesced-reload-signal counter.
func RecordDuplicateSignal() {
	duplicateSignalTotal.Inc()
}

// RecordPipelineResult increments the per-channel, per-kind pipeline
// result counter.
func RecordPipelineResult(channel, kind string) {
	pipelineResultTotal.WithLabelValues(channel, kind).Inc()
}

// RecordOutboxAttempt increments the per-channel outbox attempt counter.
func RecordOutboxAttempt(channel, outcome string) {
	outboxAttemptTotal.WithLabelValues(channel, outcome).Inc()
}

// RecordOutboxDeadLetter increments the per-channel dead-letter counter.
func RecordOutboxDeadLetter(channel string) {
	outboxDeadLetterTotal.WithLabelValues(channel).Inc()
}

// RecordCommandDuration observes one pipeline run's duration in
// milliseconds; a run that stops at awaiting_confirmation or deferred is
// measured up to that result, not to the command's terminal state.
func RecordCommandDuration(ms float64) {
	commandDurationMs.Observe(ms)
}

// Handler returns the standard Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
