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
)

type stubMarket struct {
	mu      sync.Mutex
	fetches int
	fail    map[string]bool
}

func (s *stubMarket) Fetch(_ context.Context, id string) (*models.Observation, error) {
	s.mu.Lock()
	s.fetches++
	s.mu.Unlock()
	if s.fail[id] {
		return nil, errors.New("429 too many requests")
	}
	o := obsAt(id, 42, 0)
	return &o, nil
}

type captureProc struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (c *captureProc) Process(_ context.Context, o *models.Observation) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, o.Key)
	return nil
}

type capturePublisher struct {
	keys     []string
	payloads [][]byte
	err      error
	closed   bool
}

func (c *capturePublisher) Publish(_ context.Context, key string, payload []byte) error {
	if c.err != nil {
		return c.err
	}
	c.keys = append(c.keys, key)
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *capturePublisher) Close() error { c.closed = true; return nil }

func TestMarketPoller(t *testing.T) {
	Convey("Given a market poller", t, func() {
		ctx := context.Background()
		src := &stubMarket{fail: map[string]bool{"ripple": true}}
		proc := &captureProc{}
		m := newFakeMetrics()
		ids := []string{"bitcoin", "ethereum", "ripple", "litecoin"}
		poller := NewMarketPoller(src, ids, time.Hour, proc, m, nil)

		Convey("a poll skips failed ids and keeps going", func() {
			So(poller.PollOnce(ctx), ShouldEqual, 3)
			So(proc.keys, ShouldResemble, []string{"bitcoin", "ethereum", "litecoin"})
			So(m.count(m.errs, "market_fetch"), ShouldEqual, 1)
		})

		Convey("downstream failures are not counted as sent", func() {
			proc.err = errors.New("buffer full")
			So(poller.PollOnce(ctx), ShouldEqual, 0)
		})

		Convey("a cancelled context stops the poll", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			So(poller.PollOnce(cctx), ShouldEqual, 0)
			So(src.fetches, ShouldEqual, 0)
		})

		Convey("start polls immediately", func() {
			poller.Start(ctx)
			poller.Stop()
			poller.Stop()
			So(src.fetches, ShouldEqual, len(ids))
		})
	})
}

func TestObservationPublisher(t *testing.T) {
	Convey("Given an observation publisher", t, func() {
		ctx := context.Background()
		pub := &capturePublisher{}
		m := newFakeMetrics()
		op := NewObservationPublisher(pub, m)
		o := obsAt("Ethereum", 1834.25, 1)

		Convey("observations are encoded and keyed by coin name", func() {
			So(op.Process(ctx, &o), ShouldBeNil)
			So(pub.keys, ShouldResemble, []string{"Ethereum"})

			key, got, err := codec.Decode(pub.payloads[0])
			So(err, ShouldBeNil)
			So(key, ShouldEqual, "Ethereum")
			So(got.Price, ShouldEqual, 1834.25)
			So(got.ObservedAt.Equal(o.ObservedAt), ShouldBeTrue)

			So(m.count(m.obs, "Ethereum"), ShouldEqual, 1)
			So(m.last["Ethereum"], ShouldEqual, 1834.25)
		})

		Convey("publish failures are returned", func() {
			pub.err = errors.New("leader not available")
			err := op.Process(ctx, &o)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "Ethereum")
			So(m.count(m.obs, "Ethereum"), ShouldEqual, 0)
		})

		Convey("close closes the publisher", func() {
			So(op.Close(), ShouldBeNil)
			So(pub.closed, ShouldBeTrue)
		})
	})
}
