package window

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"

	"CoinFlow/internal/domain/models"
	"CoinFlow/pkg/metrics"
)

type collector struct {
	mu   sync.Mutex
	recs []models.EnrichedRecord
	fail string
}

func (c *collector) Emit(_ context.Context, rec *models.EnrichedRecord) error {
	if rec.Key == c.fail {
		return errors.New("downstream closed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, *rec)
	return nil
}

func (c *collector) byKey() map[string][]models.EnrichedRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]models.EnrichedRecord)
	for _, r := range c.recs {
		out[r.Key] = append(out[r.Key], r)
	}
	return out
}

func newTestEngine(c *collector, opts ...EngineOption) *Engine {
	opts = append([]EngineOption{WithShards(4), WithMetrics(metrics.New(prometheus.NewRegistry()))}, opts...)
	e, err := NewEngine(c, opts...)
	So(err, ShouldBeNil)
	e.Start()
	return e
}

func TestEngine(t *testing.T) {
	Convey("Given a started engine", t, func() {
		ctx := context.Background()
		c := &collector{}
		e := newTestEngine(c)
		defer e.Stop()

		Convey("concurrent keys are processed independently", func() {
			keys := []string{"bitcoin", "ethereum", "litecoin", "ripple", "dogecoin", "cardano"}
			var wg sync.WaitGroup
			errs := make(chan error, len(keys)*10)
			for k, key := range keys {
				wg.Add(1)
				go func(k int, key string) {
					defer wg.Done()
					for i := 0; i < 10; i++ {
						errs <- e.Observe(ctx, obsAt(key, float64(k*100+i), i))
					}
				}(k, key)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				So(err, ShouldBeNil)
			}

			n, err := e.AdvanceWatermark(ctx, t0.Add(time.Hour))
			So(err, ShouldBeNil)
			So(n, ShouldEqual, len(keys))

			got := c.byKey()
			for k, key := range keys {
				So(got[key], ShouldHaveLength, 1)
				So(got[key][0].Price, ShouldEqual, float64(k*100+9))
				So(got[key][0].RollingAverage, ShouldAlmostEqual, float64(k*100+6), 1e-9)
			}

			listed, err := e.Keys(ctx)
			So(err, ShouldBeNil)
			sorted := append([]string(nil), keys...)
			sort.Strings(sorted)
			So(listed, ShouldResemble, sorted)
		})

		Convey("drain fires timers the watermark has not reached", func() {
			for i, v := range []float64{100, 101, 99, 102, 98, 103, 97} {
				So(e.Observe(ctx, obsAt("bitcoin", v, i+1)), ShouldBeNil)
			}
			for i := 0; i < 3; i++ {
				So(e.Observe(ctx, obsAt("ethereum", 3000, i)), ShouldBeNil)
			}
			n, err := e.Drain(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)

			got := c.byKey()
			So(got["bitcoin"][0].RollingAverage, ShouldAlmostEqual, 100.0, 1e-9)
			So(got["ethereum"], ShouldBeEmpty)

			st, err := e.Stats(ctx)
			So(err, ShouldBeNil)
			So(st.Keys, ShouldEqual, 2)
			So(st.Pending, ShouldEqual, 0)
			So(st.Fired, ShouldEqual, int64(1))
			So(st.Suppressed, ShouldEqual, int64(1))
		})

		Convey("state is readable per key", func() {
			So(e.Observe(ctx, obsAt("ripple", 0.5, 0)), ShouldBeNil)
			snap, ok, err := e.State(ctx, "ripple")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(snap.Prices, ShouldResemble, []float64{0.5})
			So(snap.PendingFire, ShouldNotBeNil)

			_, ok, err = e.State(ctx, "unknown")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("emitter failures do not count as emissions", func() {
			c.fail = "litecoin"
			for i := 0; i < 7; i++ {
				So(e.Observe(ctx, obsAt("litecoin", 70, i)), ShouldBeNil)
			}
			n, err := e.Drain(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 0)
		})

		Convey("snapshots restore into a fresh engine", func() {
			for i := 0; i < 8; i++ {
				So(e.Observe(ctx, obsAt(fmt.Sprintf("coin-%d", i%3), float64(i), i)), ShouldBeNil)
			}
			snaps, err := e.Snapshot(ctx)
			So(err, ShouldBeNil)
			So(snaps, ShouldHaveLength, 3)

			c2 := &collector{}
			e2 := newTestEngine(c2, WithShards(2))
			defer e2.Stop()
			So(e2.Restore(ctx, snaps), ShouldBeNil)

			again, err := e2.Snapshot(ctx)
			So(err, ShouldBeNil)
			So(again, ShouldResemble, snaps)
		})
	})
}

func TestEngineLifecycle(t *testing.T) {
	Convey("An engine without an emitter is a state fault", t, func() {
		_, err := NewEngine(nil)
		So(errors.Is(err, models.ErrStateFault), ShouldBeTrue)
	})

	Convey("A zero window size is a state fault", t, func() {
		_, err := NewEngine(&collector{}, WithWindowSize(0))
		So(errors.Is(err, models.ErrStateFault), ShouldBeTrue)
	})

	Convey("Calls after Stop fail", t, func() {
		e, err := NewEngine(&collector{})
		So(err, ShouldBeNil)
		e.Start()
		e.Stop()
		e.Stop()

		So(e.Observe(context.Background(), obsAt("bitcoin", 1, 0)), ShouldEqual, ErrEngineStopped)
		_, err = e.AdvanceWatermark(context.Background(), t0)
		So(errors.Is(err, ErrEngineStopped), ShouldBeTrue)
	})

	Convey("A cancelled context stops a blocked submit", t, func() {
		e, err := NewEngine(&collector{}, WithShards(1), WithQueueSize(1))
		So(err, ShouldBeNil)
		// Not started: the single-slot queue fills and the next submit blocks.
		So(e.Observe(context.Background(), obsAt("bitcoin", 1, 0)), ShouldBeNil)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		So(e.Observe(ctx, obsAt("bitcoin", 2, 1)), ShouldEqual, context.DeadlineExceeded)
		e.Stop()
	})
}
