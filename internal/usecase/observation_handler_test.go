package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"CoinFlow/internal/codec"
	"CoinFlow/internal/domain/models"
	"CoinFlow/internal/window"
)

type captureObserver struct {
	mu   sync.Mutex
	seen []models.Observation
	err  error
}

func (c *captureObserver) Observe(_ context.Context, obs models.Observation) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, obs)
	return nil
}

func TestObservationHandler(t *testing.T) {
	Convey("Given an observation handler", t, func() {
		ctx := context.Background()
		obs := &captureObserver{}
		wm := &manualWatermark{}
		m := newFakeMetrics()
		h := NewObservationHandler("coin.observations", obs, wm, m, nil)

		o := obsAt("Bitcoin", 29100.5, 3)
		payload, err := codec.Encode(&o)
		So(err, ShouldBeNil)

		So(h.Topic(), ShouldEqual, "coin.observations")

		Convey("a valid payload reaches the observer and the watermark", func() {
			So(h.Handle(ctx, payload), ShouldBeNil)
			So(obs.seen, ShouldHaveLength, 1)
			So(obs.seen[0].Key, ShouldEqual, "Bitcoin")
			So(obs.seen[0].Price, ShouldEqual, 29100.5)
			So(wm.max.Equal(o.ObservedAt), ShouldBeTrue)
		})

		Convey("a malformed payload is dropped without an error", func() {
			So(h.Handle(ctx, []byte(`{"coin_name": "Bitcoin"`)), ShouldBeNil)
			So(h.Handle(ctx, []byte(`{"coin_name": "Bitcoin", "last_updated": "2023-08-20T10:00:00Z"}`)), ShouldBeNil)
			So(obs.seen, ShouldBeEmpty)
			So(m.count(m.dropped, "decode"), ShouldEqual, 2)
			So(wm.max.IsZero(), ShouldBeTrue)
		})

		Convey("an observer failure is returned for retry", func() {
			obs.err = errors.New("engine stopped")
			err := h.Handle(ctx, payload)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "Bitcoin")
			So(m.count(m.errs, "observe"), ShouldEqual, 1)
			So(wm.max.IsZero(), ShouldBeTrue)
		})
	})
}

// tickingObserver advances the engine to the current watermark right before
// each observation is queued, the way a pipeline tick can interleave with a
// handler.
type tickingObserver struct {
	engine *window.Engine
	wm     WatermarkSource
}

func (o tickingObserver) Observe(ctx context.Context, obs models.Observation) error {
	if wm := o.wm.Current(); !wm.IsZero() {
		if _, err := o.engine.AdvanceWatermark(ctx, wm); err != nil {
			return err
		}
	}
	return o.engine.Observe(ctx, obs)
}

func TestObservationHandlerTickOrdering(t *testing.T) {
	Convey("Given a handler feeding a real engine", t, func() {
		ctx := context.Background()
		var mu sync.Mutex
		var emitted []models.EnrichedRecord
		engine, err := window.NewEngine(window.EmitterFunc(func(_ context.Context, rec *models.EnrichedRecord) error {
			mu.Lock()
			defer mu.Unlock()
			emitted = append(emitted, *rec)
			return nil
		}), window.WithShards(1))
		So(err, ShouldBeNil)
		engine.Start()
		defer engine.Stop()

		wm := window.NewWatermarkGenerator(0, 0)
		h := NewObservationHandler("coin.observations", tickingObserver{engine: engine, wm: wm}, wm, nil, nil)

		send := func(minute int, price float64) {
			o := obsAt("Bitcoin", price, minute)
			b, err := codec.Encode(&o)
			So(err, ShouldBeNil)
			So(h.Handle(ctx, b), ShouldBeNil)
		}

		Convey("a tick between decode and observe does not fire the previous timer", func() {
			for i := 1; i <= 8; i++ {
				send(i, float64(100+i))
			}
			mu.Lock()
			So(emitted, ShouldBeEmpty)
			mu.Unlock()

			n, err := engine.AdvanceWatermark(ctx, wm.Current().Add(time.Nanosecond))
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)
			mu.Lock()
			defer mu.Unlock()
			So(emitted[0].Price, ShouldEqual, 108.0)
			So(emitted[0].RollingAverage, ShouldAlmostEqual, 105.0, 1e-9)
		})
	})
}
