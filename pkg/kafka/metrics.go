package kafka

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsRegisterer prometheus.Registerer = prometheus.DefaultRegisterer

	consumerQueueDepth    *prometheus.GaugeVec
	consumerHandleLatency *prometheus.HistogramVec
	consumerOnce          sync.Once

	producerMsgsTotal   *prometheus.CounterVec
	producerErrsTotal   *prometheus.CounterVec
	producerBytesTotal  *prometheus.CounterVec
	producerLatencyHist *prometheus.HistogramVec
	producerOnce        sync.Once
)

// SetMetricsRegisterer sets the registerer used for client metrics. It must
// be called before the first consumer or producer is created.
func SetMetricsRegisterer(reg prometheus.Registerer) {
	if reg != nil {
		metricsRegisterer = reg
	}
}

func initConsumerMetricsOnce() {
	consumerOnce.Do(func() {
		f := promauto.With(metricsRegisterer)
		consumerQueueDepth = f.NewGaugeVec(
			prometheus.GaugeOpts{Name: "coinflow_kafka_consumer_queue_depth", Help: "Messages waiting in a worker queue"},
			[]string{"topic"},
		)
		consumerHandleLatency = f.NewHistogramVec(
			prometheus.HistogramOpts{Name: "coinflow_kafka_consumer_handle_seconds", Help: "Handling time per message"},
			[]string{"topic"},
		)
	})
}

func initProducerMetricsOnce() {
	producerOnce.Do(func() {
		f := promauto.With(metricsRegisterer)
		producerMsgsTotal = f.NewCounterVec(
			prometheus.CounterOpts{Name: "coinflow_kafka_producer_messages_total", Help: "Total messages published to Kafka"},
			[]string{"topic", "compression", "result"},
		)
		producerErrsTotal = f.NewCounterVec(
			prometheus.CounterOpts{Name: "coinflow_kafka_producer_errors_total", Help: "Total producer errors"},
			[]string{"topic"},
		)
		producerBytesTotal = f.NewCounterVec(
			prometheus.CounterOpts{Name: "coinflow_kafka_producer_bytes_total", Help: "Total payload bytes published"},
			[]string{"topic", "compression"},
		)
		producerLatencyHist = f.NewHistogramVec(
			prometheus.HistogramOpts{Name: "coinflow_kafka_producer_publish_seconds", Help: "Publish latency", Buckets: prometheus.DefBuckets},
			[]string{"topic"},
		)
	})
}

func observeProducerMetrics(topic, comp string, bytes int64, count int, dur time.Duration, err error) {
	if producerMsgsTotal == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
		producerErrsTotal.WithLabelValues(topic).Inc()
	}
	producerMsgsTotal.WithLabelValues(topic, comp, result).Add(float64(count))
	producerBytesTotal.WithLabelValues(topic, comp).Add(float64(bytes))
	producerLatencyHist.WithLabelValues(topic).Observe(dur.Seconds())
}
