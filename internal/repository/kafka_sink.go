package repository

import (
	"context"

	"CoinFlow/internal/codec"
	"CoinFlow/internal/domain/models"
	"CoinFlow/internal/domain/repository"
	pkgkafka "CoinFlow/pkg/kafka"
)

const backendKafka = "kafka"

// KafkaSink writes predicted records as JSON to an output topic, keyed by
// coin name.
type KafkaSink struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaSink(producer *pkgkafka.Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

// Init is a no-op; the writer creates missing topics on first write.
func (s *KafkaSink) Init(context.Context) error { return nil }

func (s *KafkaSink) Append(ctx context.Context, r *models.PredictedRecord) error {
	return s.AppendBatch(ctx, []*models.PredictedRecord{r})
}

func (s *KafkaSink) AppendBatch(ctx context.Context, rs []*models.PredictedRecord) error {
	msgs := make([]pkgkafka.Message, 0, len(rs))
	for _, r := range rs {
		if r == nil {
			continue
		}
		msgs = append(msgs, pkgkafka.Message{Key: []byte(r.Key), Value: codec.ToOutput(r)})
	}
	if err := s.producer.PublishBatch(ctx, s.topic, msgs); err != nil {
		return &models.SinkWriteError{Backend: backendKafka, Err: err}
	}
	return nil
}

func (s *KafkaSink) Health(context.Context) error { return nil }

func (s *KafkaSink) Close() error { return nil }

var _ repository.Sink = (*KafkaSink)(nil)
