package window

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestWatermarkGenerator(t *testing.T) {
	Convey("Given a generator with 30s lateness and a 1m idle timeout", t, func() {
		wall := t0
		g := NewWatermarkGenerator(30*time.Second, time.Minute)
		g.SetClock(func() time.Time { return wall })

		Convey("it is zero before any event", func() {
			So(g.Current().IsZero(), ShouldBeTrue)
		})

		Convey("it trails the largest event time", func() {
			g.Observe(t0.Add(10 * time.Minute))
			g.Observe(t0.Add(5 * time.Minute))
			So(g.Current(), ShouldEqual, t0.Add(10*time.Minute-30*time.Second))
		})

		Convey("it jumps past the last event when idle", func() {
			g.Observe(t0.Add(10 * time.Minute))
			wall = wall.Add(time.Minute)
			So(g.Current(), ShouldEqual, t0.Add(10*time.Minute+time.Nanosecond))

			Convey("and stays monotonic when traffic resumes", func() {
				g.Observe(t0.Add(10 * time.Minute))
				So(g.Current(), ShouldEqual, t0.Add(10*time.Minute+time.Nanosecond))
			})
		})
	})

	Convey("Without an idle timeout the generator only trails", t, func() {
		g := NewWatermarkGenerator(0, 0)
		g.Observe(t0)
		So(g.Current(), ShouldEqual, t0)
	})
}
