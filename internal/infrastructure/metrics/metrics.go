// Package metrics provides Prometheus metrics for the tracking and sync pipelines.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shelfsignal/backend/internal/domain"
)

const namespace = "shelfsignal"

// Prometheus implements usecase.Metrics on its own registry
type Prometheus struct {
	registry *prometheus.Registry

	signalsTotal     *prometheus.CounterVec
	historyUpserts   prometheus.Counter
	syncWritesTotal  *prometheus.CounterVec
	productSyncTotal *prometheus.CounterVec
	queueDepth       prometheus.Gauge
	queueFlushTotal  *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

// New creates the collectors and registers them on a fresh registry
func New() *Prometheus {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Prometheus{
		registry: registry,

		// signalsTotal counts sales-signal extractions by outcome.
		signalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signals_extracted_total",
				Help:      "Total number of sales-signal extractions",
			},
			[]string{"platform", "outcome"},
		),

		historyUpserts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "history_upserts_total",
				Help:      "Total number of position history upserts",
			},
		),

		syncWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_writes_total",
				Help:      "Total number of writes performed by reconciliation",
			},
			[]string{"target"},
		),

		productSyncTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "product_syncs_total",
				Help:      "Total number of product reconciliations by status",
			},
			[]string{"status"},
		),

		queueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sync_queue_depth",
				Help:      "Number of remote operations waiting in the sync queue",
			},
		),

		queueFlushTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_queue_flushed_total",
				Help:      "Total number of queue items processed by flushes",
			},
			[]string{"outcome"},
		),

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}
}

// Registry exposes the underlying registry
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func (p *Prometheus) SignalExtracted(platform domain.PlatformID, outcome domain.SignalOutcome) {
	p.signalsTotal.WithLabelValues(string(platform), string(outcome)).Inc()
}

func (p *Prometheus) HistoryUpserted() {
	p.historyUpserts.Inc()
}

func (p *Prometheus) SyncWrite(target string) {
	p.syncWritesTotal.WithLabelValues(target).Inc()
}

func (p *Prometheus) ProductSynced(status domain.ProductSyncStatus) {
	p.productSyncTotal.WithLabelValues(string(status)).Inc()
}

func (p *Prometheus) QueueDepth(n int) {
	p.queueDepth.Set(float64(n))
}

func (p *Prometheus) QueueFlushed(outcome string) {
	p.queueFlushTotal.WithLabelValues(outcome).Inc()
}

// ObserveRequest records one served HTTP request
func (p *Prometheus) ObserveRequest(method, route string, status int, seconds float64) {
	p.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(seconds)
}
