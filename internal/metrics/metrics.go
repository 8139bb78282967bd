// Package metrics holds the Prometheus collectors for the bot.
//
// Naming follows Prometheus conventions: telegpt_ prefix, _total suffix for
// counters and _seconds suffix for histograms. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	AdmissionAdmitted = "admitted"
	AdmissionRejected = "rejected"
	AdmissionError    = "error"

	CompletionOK    = "ok"
	CompletionError = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	Admissions         *prometheus.CounterVec
	Completions        *prometheus.CounterVec
	CompletionDuration *prometheus.HistogramVec
	CompletionTokens   *prometheus.CounterVec
	Updates            *prometheus.CounterVec
	StoreErrors        *prometheus.CounterVec
	SendErrors         prometheus.Counter
	InFlight           prometheus.Gauge
}

// New builds the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Admissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telegpt_admissions_total",
				Help: "Quota admission decisions by result.",
			},
			[]string{"result"},
		),
		Completions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telegpt_completions_total",
				Help: "Completion service calls by status.",
			},
			[]string{"status"},
		),
		CompletionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "telegpt_completion_duration_seconds",
				Help:    "Completion service latency in seconds.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"status"},
		),
		CompletionTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telegpt_completion_tokens_total",
				Help: "Tokens reported by the completion service.",
			},
			[]string{"kind"},
		),
		Updates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telegpt_updates_total",
				Help: "Telegram updates received by delivery mode.",
			},
			[]string{"mode"},
		),
		StoreErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telegpt_store_errors_total",
				Help: "Quota store failures by operation.",
			},
			[]string{"op"},
		),
		SendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telegpt_send_errors_total",
			Help: "Failed outbound Telegram messages.",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telegpt_events_in_flight",
			Help: "Events currently being handled.",
		}),
	}
	m.registry.MustRegister(
		m.Admissions,
		m.Completions,
		m.CompletionDuration,
		m.CompletionTokens,
		m.Updates,
		m.StoreErrors,
		m.SendErrors,
		m.InFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveAdmission(result string) {
	if m == nil {
		return
	}
	m.Admissions.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveCompletion(err error, d time.Duration, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	status := CompletionOK
	if err != nil {
		status = CompletionError
	}
	m.Completions.WithLabelValues(status).Inc()
	m.CompletionDuration.WithLabelValues(status).Observe(d.Seconds())
	if inputTokens > 0 {
		m.CompletionTokens.WithLabelValues("input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.CompletionTokens.WithLabelValues("output").Add(float64(outputTokens))
	}
}

func (m *Metrics) ObserveUpdate(mode string) {
	if m == nil {
		return
	}
	m.Updates.WithLabelValues(mode).Inc()
}

func (m *Metrics) ObserveStoreError(op string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveSendError() {
	if m == nil {
		return
	}
	m.SendErrors.Inc()
}

// TrackInFlight increments the in-flight gauge and returns the matching
// decrement.
func (m *Metrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.InFlight.Inc()
	return m.InFlight.Dec
}
