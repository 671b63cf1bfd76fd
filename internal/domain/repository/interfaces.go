package repository

import (
	"context"
	"time"

	"CoinFlow/internal/domain/models"
)

// Sink appends predicted records to durable storage.
type Sink interface {
	Init(ctx context.Context) error // create destination if absent
	Append(ctx context.Context, r *models.PredictedRecord) error
	AppendBatch(ctx context.Context, rs []*models.PredictedRecord) error
	Health(ctx context.Context) error
	Close() error
}

// Publisher sends raw observation payloads to the ingestion transport.
type Publisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
	Close() error
}

// Forecaster is the pre-trained forecasting collaborator.
type Forecaster interface {
	Predict(ctx context.Context, key string, at time.Time, horizon time.Duration) (float64, error)
}

// MarketSource fetches the current observation payload for one asset id.
type MarketSource interface {
	Fetch(ctx context.Context, assetID string) (*models.Observation, error)
}

// StateStore persists window state snapshots between restarts.
type StateStore interface {
	Save(ctx context.Context, snaps []models.KeySnapshot) error
	Load(ctx context.Context) ([]models.KeySnapshot, error)
	Close() error
}

type Metrics interface {
	RecordObservation(key string)
	RecordEmission(key string)
	RecordDropped(reason string)
	RecordError(kind string)
	RecordSinkWrite(backend string)
	RecordLastPrice(key string, price float64)
	RecordLatency(op string, seconds float64)
	SetTrackedKeys(n int)
	SetWatermark(t time.Time)
}
