package coingecko

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"CoinFlow/internal/service/ratelimit"
)

const bitcoinBody = `{
  "id": "bitcoin",
  "market_cap_rank": 1,
  "last_updated": "2025-01-01T10:00:00.123Z",
  "market_data": {
    "current_price": {"usd": 97000.5, "eur": 90000},
    "high_24h": {"usd": 98000},
    "low_24h": {"usd": 95000},
    "total_volume": {"usd": 123456789},
    "market_cap": {"usd": 1900000000000},
    "market_cap_change_percentage_24h": -1.25,
    "circulating_supply": 19800000,
    "total_supply": null
  }
}`

func TestClientFetch(t *testing.T) {
	Convey("Given a CoinGecko server", t, func() {
		var hits atomic.Int32
		var gotPath, gotKey string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			gotPath = r.URL.Path
			gotKey = r.Header.Get("x-cg-demo-api-key")
			switch r.URL.Path {
			case "/coins/bitcoin":
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(bitcoinBody))
			case "/coins/broken":
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"id":"broken","last_updated":"yesterday","market_data":{}}`))
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		defer srv.Close()

		now := time.Date(2025, 1, 1, 10, 0, 5, 0, time.UTC)
		c := NewClient(srv.URL, time.Second, WithAPIKey("demo"), WithClock(func() time.Time { return now }))

		Convey("A coin maps onto an observation", func() {
			o, err := c.Fetch(context.Background(), "bitcoin")
			So(err, ShouldBeNil)
			So(gotPath, ShouldEqual, "/coins/bitcoin")
			So(gotKey, ShouldEqual, "demo")
			So(o.Key, ShouldEqual, "Bitcoin")
			So(o.Price, ShouldEqual, 97000.5)
			So(o.HighPrice, ShouldEqual, 98000.0)
			So(o.LowPrice, ShouldEqual, 95000.0)
			So(o.ChangePct24h, ShouldEqual, -1.25)
			So(o.Rank, ShouldEqual, 1)
			So(o.TotalSupply, ShouldEqual, 0.0)
			So(o.ObservedAt.Equal(time.Date(2025, 1, 1, 10, 0, 0, 123000000, time.UTC)), ShouldBeTrue)
			So(o.IngestedAt.Equal(now), ShouldBeTrue)
		})

		Convey("A non-200 status is an error and is not retried", func() {
			_, err := c.Fetch(context.Background(), "dogecoin")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "status 404")
			So(hits.Load(), ShouldEqual, int32(1))
		})

		Convey("A rate limited client waits for a token", func() {
			limited := NewClient(srv.URL, time.Second, WithLimiter(ratelimit.New(), 6))
			_, err := limited.Fetch(context.Background(), "bitcoin")
			So(err, ShouldBeNil)

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			_, err = limited.Fetch(ctx, "bitcoin")
			So(err, ShouldNotBeNil)
			So(hits.Load(), ShouldEqual, int32(1))
		})

		Convey("An unparseable timestamp is an error", func() {
			_, err := c.Fetch(context.Background(), "broken")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestCapitalize(t *testing.T) {
	cases := map[string]string{
		"bitcoin":      "Bitcoin",
		"ETHEREUM":     "Ethereum",
		"bitcoin-cash": "Bitcoin-cash",
		"":             "",
	}
	for in, want := range cases {
		if got := capitalize(in); got != want {
			t.Fatalf("capitalize(%q) = %q, want %q", in, got, want)
		}
	}
}
