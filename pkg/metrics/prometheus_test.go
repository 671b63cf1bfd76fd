package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.RecordObservation("bitcoin")
	r.RecordObservation("bitcoin")
	r.RecordEmission("bitcoin")
	r.RecordDropped("decode")
	r.RecordSinkWrite("clickhouse")

	if got := testutil.ToFloat64(r.observations.WithLabelValues("bitcoin")); got != 2 {
		t.Fatalf("observations = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.emissions.WithLabelValues("bitcoin")); got != 1 {
		t.Fatalf("emissions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.dropped.WithLabelValues("decode")); got != 1 {
		t.Fatalf("dropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.sinkWrites.WithLabelValues("clickhouse")); got != 1 {
		t.Fatalf("sink writes = %v, want 1", got)
	}
}

func TestRecorderGauges(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.RecordLastPrice("ethereum", 3012.5)
	r.SetTrackedKeys(4)
	r.SetWatermark(time.Unix(1700000000, 0))
	r.SetWatermark(time.Time{})

	if got := testutil.ToFloat64(r.lastPrice.WithLabelValues("ethereum")); got != 3012.5 {
		t.Fatalf("last price = %v", got)
	}
	if got := testutil.ToFloat64(r.trackedKeys); got != 4 {
		t.Fatalf("tracked keys = %v", got)
	}
	if got := testutil.ToFloat64(r.watermark); got != 1700000000 {
		t.Fatalf("watermark = %v", got)
	}
}

func TestTwoRecordersSeparateRegistries(t *testing.T) {
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}
