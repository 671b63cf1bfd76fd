package usecase

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	domrepo "CoinFlow/internal/domain/repository"
	"CoinFlow/internal/window"
)

type pipelineFixture struct {
	sink   *memSink
	store  *memStore
	source *fakeSource
	wm     *manualWatermark
	engine *window.Engine
	proc   *RecordProcessor
	p      *Pipeline
}

func newPipelineFixture(cfg PipelineConfig, store *memStore) *pipelineFixture {
	f := &pipelineFixture{sink: &memSink{}, store: store, source: &fakeSource{}, wm: &manualWatermark{}}
	f.proc = NewRecordProcessor(fixedEnricher{}, f.sink, WithWorkers(2), WithSinkRetry(0, 0, 0))
	engine, err := window.NewEngine(f.proc, window.WithShards(2), window.WithWindowSize(7))
	So(err, ShouldBeNil)
	f.engine = engine
	cfg.WatermarkInterval = time.Hour
	var st domrepo.StateStore
	if store != nil {
		st = store
	}
	f.p = NewPipeline(cfg, f.source, engine, f.proc, f.wm, f.sink, st, nil, nil)
	return f
}

// feed observes n consecutive minutes of key starting at price base.
func (f *pipelineFixture) feed(ctx context.Context, key string, base float64, n int) {
	for i := 0; i < n; i++ {
		o := obsAt(key, base+float64(i), i)
		f.wm.Observe(o.ObservedAt)
		So(f.engine.Observe(ctx, o), ShouldBeNil)
	}
}

func TestPipeline(t *testing.T) {
	Convey("Given a pipeline over a real window engine", t, func() {
		ctx := context.Background()

		Convey("watermark ticks emit full windows only", func() {
			f := newPipelineFixture(PipelineConfig{}, nil)
			So(f.p.Start(ctx), ShouldBeNil)
			So(f.sink.inited, ShouldBeTrue)
			So(f.source.started, ShouldBeTrue)

			f.feed(ctx, "Bitcoin", 100, 7)
			f.feed(ctx, "Ethereum", 1800, 3)

			So(f.p.Tick(ctx), ShouldEqual, 0)

			f.wm.set(t0.Add(6 * time.Minute))
			So(f.p.Tick(ctx), ShouldEqual, 0)

			f.wm.set(t0.Add(time.Hour))
			So(f.p.Tick(ctx), ShouldEqual, 1)

			So(f.p.Shutdown(ctx), ShouldBeNil)
			So(f.source.stopped, ShouldBeTrue)
			So(f.sink.closed, ShouldBeTrue)

			recs := f.sink.records()
			So(recs, ShouldHaveLength, 1)
			So(recs[0].Key, ShouldEqual, "Bitcoin")
			So(recs[0].Price, ShouldEqual, 106.0)
			So(recs[0].RollingAverage, ShouldAlmostEqual, 103.0, 1e-9)
			So(recs[0].PredictedPrice, ShouldAlmostEqual, 104.0, 1e-9)
		})

		Convey("shutdown drains pending timers when configured", func() {
			f := newPipelineFixture(PipelineConfig{DrainOnShutdown: true}, nil)
			So(f.p.Start(ctx), ShouldBeNil)
			f.feed(ctx, "Bitcoin", 100, 7)

			So(f.p.Shutdown(ctx), ShouldBeNil)
			So(f.sink.records(), ShouldHaveLength, 1)

			Convey("and a second shutdown is a no-op", func() {
				So(f.p.Shutdown(ctx), ShouldBeNil)
			})
		})

		Convey("without drain or checkpoint pending timers are discarded", func() {
			f := newPipelineFixture(PipelineConfig{}, nil)
			So(f.p.Start(ctx), ShouldBeNil)
			f.feed(ctx, "Bitcoin", 100, 7)
			So(f.p.Shutdown(ctx), ShouldBeNil)
			So(f.sink.records(), ShouldBeEmpty)
		})

		Convey("checkpointed state survives a restart", func() {
			store := &memStore{}
			first := newPipelineFixture(PipelineConfig{Checkpoint: true}, store)
			So(first.p.Start(ctx), ShouldBeNil)
			first.feed(ctx, "Bitcoin", 100, 7)
			So(first.p.Shutdown(ctx), ShouldBeNil)

			So(first.sink.records(), ShouldBeEmpty)
			So(store.closed, ShouldBeTrue)
			So(store.snaps, ShouldHaveLength, 1)
			So(store.snaps[0].Key, ShouldEqual, "Bitcoin")
			So(store.snaps[0].Count, ShouldEqual, int64(7))
			So(store.snaps[0].PendingFire, ShouldNotBeNil)

			second := newPipelineFixture(PipelineConfig{Checkpoint: true, DrainOnShutdown: true}, store)
			So(second.p.Start(ctx), ShouldBeNil)
			snap, ok, err := second.engine.State(ctx, "Bitcoin")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(snap.Prices, ShouldHaveLength, 7)

			So(second.p.Shutdown(ctx), ShouldBeNil)
			recs := second.sink.records()
			So(recs, ShouldHaveLength, 1)
			So(recs[0].RollingAverage, ShouldAlmostEqual, 103.0, 1e-9)
		})

		Convey("health reflects the sink", func() {
			f := newPipelineFixture(PipelineConfig{}, nil)
			So(f.p.Health(ctx), ShouldBeNil)
		})
	})
}
