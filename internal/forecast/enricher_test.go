package forecast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"

	"CoinFlow/internal/domain/models"
	"CoinFlow/pkg/metrics"
)

type stubForecaster struct {
	value float64
	err   error
	at    time.Time
	hor   time.Duration
}

func (s *stubForecaster) Predict(_ context.Context, _ string, at time.Time, horizon time.Duration) (float64, error) {
	s.at, s.hor = at, horizon
	return s.value, s.err
}

func TestEnricher(t *testing.T) {
	Convey("Given an enriched record", t, func() {
		at := time.Date(2023, 8, 20, 10, 0, 0, 0, time.UTC)
		rec := &models.EnrichedRecord{
			Observation:    models.Observation{Key: "Bitcoin", Price: 97, ObservedAt: at},
			RollingAverage: 100,
		}
		rm := metrics.New(prometheus.NewRegistry())

		Convey("a prediction is attached at the record's event time", func() {
			f := &stubForecaster{value: 98.5}
			e := NewEnricher(f, WithHorizon(time.Hour), WithEnricherMetrics(rm))
			out, err := e.Enrich(context.Background(), rec)
			So(err, ShouldBeNil)
			So(out.PredictedPrice, ShouldEqual, 98.5)
			So(out.RollingAverage, ShouldEqual, 100.0)
			So(out.Price, ShouldEqual, 97.0)
			So(f.at, ShouldEqual, at)
			So(f.hor, ShouldEqual, time.Hour)
		})

		Convey("collaborator errors become PredictionUnavailable", func() {
			e := NewEnricher(&stubForecaster{err: errors.New("connection refused")}, WithEnricherMetrics(rm))
			out, err := e.Enrich(context.Background(), rec)
			So(out, ShouldBeNil)
			So(errors.Is(err, models.ErrPredictionUnavailable), ShouldBeTrue)
		})

		Convey("a missing model is unavailable", func() {
			_, err := NewEnricher(nil).Enrich(context.Background(), rec)
			So(errors.Is(err, models.ErrPredictionUnavailable), ShouldBeTrue)
		})
	})
}
