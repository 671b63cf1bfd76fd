package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CoinFlow/internal/codec"
	"CoinFlow/internal/domain/models"
	domrepo "CoinFlow/internal/domain/repository"
	pkgkafka "CoinFlow/pkg/kafka"
	"CoinFlow/pkg/logger"
)

// Observer accepts decoded observations. *window.Engine implements it.
type Observer interface {
	Observe(ctx context.Context, obs models.Observation) error
}

// WatermarkSource tracks event-time progress. *window.WatermarkGenerator
// implements it.
type WatermarkSource interface {
	Observe(eventTime time.Time)
	Current() time.Time
}

// ObservationHandler decodes Kafka payloads into the window engine.
type ObservationHandler struct {
	topic    string
	observer Observer
	wm       WatermarkSource
	metrics  domrepo.Metrics
	log      *logger.Logger
}

func NewObservationHandler(topic string, observer Observer, wm WatermarkSource, metrics domrepo.Metrics, log *logger.Logger) *ObservationHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &ObservationHandler{topic: topic, observer: observer, wm: wm, metrics: metrics, log: log}
}

func (h *ObservationHandler) Topic() string { return h.topic }

// Handle drops malformed payloads and returns nil for them, so they are
// committed and never reach the dead-letter topic.
func (h *ObservationHandler) Handle(ctx context.Context, b []byte) error {
	key, obs, err := codec.Decode(b)
	if err != nil {
		if errors.Is(err, models.ErrDecode) {
			if h.metrics != nil {
				h.metrics.RecordDropped("decode")
			}
			h.log.Warn("dropping undecodable observation",
				logger.String("topic", h.topic),
				logger.String("trace_id", pkgkafka.TraceIDFrom(ctx)),
				logger.Int("bytes", len(b)),
				logger.Error(err),
			)
			return nil
		}
		return err
	}

	// The observation must be queued on its shard before the watermark can
	// reflect it, so no advance built from this event time overtakes it.
	if err := h.observer.Observe(ctx, obs); err != nil {
		if h.metrics != nil {
			h.metrics.RecordError("observe")
		}
		return fmt.Errorf("observe %s: %w", key, err)
	}
	if h.wm != nil {
		h.wm.Observe(obs.ObservedAt)
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*ObservationHandler)(nil)
