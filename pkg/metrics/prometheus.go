package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "coinflow"

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	observations *prometheus.CounterVec
	emissions    *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	sinkWrites   *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	lastPrice    *prometheus.GaugeVec
	trackedKeys  prometheus.Gauge
	watermark    prometheus.Gauge
	latency      *prometheus.HistogramVec
}

// New creates a Recorder whose collectors are registered with reg. A nil
// reg falls back to the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		observations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "observations_total",
				Help:      "Observations accepted by the window engine",
			},
			[]string{"key"},
		),
		emissions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "emissions_total",
				Help:      "Enriched records emitted by timer firings",
			},
			[]string{"key"},
		),
		dropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dropped_total",
				Help:      "Inputs or records dropped, by reason",
			},
			[]string{"reason"},
		),
		sinkWrites: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_writes_total",
				Help:      "Rows appended to a sink backend",
			},
			[]string{"backend"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_price",
				Help:      "Last observed price for a key",
			},
			[]string{"key"},
		),
		trackedKeys: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_keys",
			Help:      "Keys holding window state",
		}),
		watermark: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watermark_seconds",
			Help:      "Current event-time watermark as unix seconds",
		}),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of operations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordObservation(key string) {
	r.observations.WithLabelValues(key).Inc()
}

func (r *Recorder) RecordEmission(key string) {
	r.emissions.WithLabelValues(key).Inc()
}

func (r *Recorder) RecordDropped(reason string) {
	r.dropped.WithLabelValues(reason).Inc()
}

func (r *Recorder) RecordSinkWrite(backend string) {
	r.sinkWrites.WithLabelValues(backend).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a key.
func (r *Recorder) RecordLastPrice(key string, price float64) {
	r.lastPrice.WithLabelValues(key).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) SetTrackedKeys(n int) {
	r.trackedKeys.Set(float64(n))
}

func (r *Recorder) SetWatermark(t time.Time) {
	if t.IsZero() {
		return
	}
	r.watermark.Set(float64(t.UnixNano()) / 1e9)
}
