package forecast

import (
	"context"
	"errors"
	"time"

	"CoinFlow/internal/domain/models"
	"CoinFlow/internal/domain/repository"
	"CoinFlow/pkg/logger"
)

// DefaultHorizon is how far past the training data a prediction may reach.
const DefaultHorizon = 5 * 24 * time.Hour

// Enricher attaches a forecast to each enriched record.
type Enricher struct {
	forecaster repository.Forecaster
	horizon    time.Duration
	metrics    repository.Metrics
	log        *logger.Logger
}

type EnricherOption func(*Enricher)

func WithHorizon(d time.Duration) EnricherOption {
	return func(e *Enricher) {
		if d > 0 {
			e.horizon = d
		}
	}
}

func WithEnricherMetrics(m repository.Metrics) EnricherOption {
	return func(e *Enricher) { e.metrics = m }
}

func WithEnricherLogger(l *logger.Logger) EnricherOption {
	return func(e *Enricher) { e.log = l }
}

func NewEnricher(f repository.Forecaster, opts ...EnricherOption) *Enricher {
	e := &Enricher{forecaster: f, horizon: DefaultHorizon, log: logger.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enrich predicts the price at the record's event time. Any collaborator
// failure is reported as a PredictionUnavailableError; callers drop the
// record.
func (e *Enricher) Enrich(ctx context.Context, rec *models.EnrichedRecord) (*models.PredictedRecord, error) {
	if e.forecaster == nil {
		return nil, e.fail(rec, &models.PredictionUnavailableError{Key: rec.Key, Reason: "model not loaded"})
	}

	start := time.Now()
	yhat, err := e.forecaster.Predict(ctx, rec.Key, rec.ObservedAt, e.horizon)
	if e.metrics != nil {
		e.metrics.RecordLatency("forecast", time.Since(start).Seconds())
	}
	if err != nil {
		var pu *models.PredictionUnavailableError
		if !errors.As(err, &pu) {
			pu = &models.PredictionUnavailableError{Key: rec.Key, Reason: "forecaster error", Err: err}
		}
		return nil, e.fail(rec, pu)
	}

	return &models.PredictedRecord{EnrichedRecord: *rec, PredictedPrice: yhat}, nil
}

func (e *Enricher) fail(rec *models.EnrichedRecord, err error) error {
	if e.metrics != nil {
		e.metrics.RecordError("prediction_unavailable")
	}
	e.log.Warn("prediction unavailable",
		logger.String("key", rec.Key),
		logger.Time("observed_at", rec.ObservedAt),
		logger.Error(err),
	)
	return err
}
