package repository

import (
	"context"

	"CoinFlow/internal/domain/repository"
	pkgkafka "CoinFlow/pkg/kafka"
)

// KafkaPublisher implements Publisher for Kafka.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaPublisher(producer *pkgkafka.Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// Publish writes payload keyed by key, so one key always lands on one
// partition.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	return p.producer.Publish(ctx, p.topic, []byte(key), payload)
}

func (p *KafkaPublisher) Topic() string { return p.topic }

// Close leaves the shared producer open; its owner closes it.
func (p *KafkaPublisher) Close() error { return nil }

var _ repository.Publisher = (*KafkaPublisher)(nil)
