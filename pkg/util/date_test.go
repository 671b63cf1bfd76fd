package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeMillisZulu(t *testing.T) {
	got, ok := ParseTime("2023-08-20T10:15:32.123Z")
	if !ok {
		t.Fatalf("expected ok")
	}
	want := time.Date(2023, 8, 20, 10, 15, 32, 123e6, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v got %v", want, got)
	}
}

func TestParseTimeNoZoneIsUTC(t *testing.T) {
	got, ok := ParseTime("2023-08-20T10:15:32.500000")
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Location() != time.UTC || got.Nanosecond() != 500e6 {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeOffset(t *testing.T) {
	got, ok := ParseTime("2023-08-20T12:00:00+02:00")
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Hour() != 10 {
		t.Fatalf("expected 10h UTC got %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestParseTimeGarbage(t *testing.T) {
	if _, ok := ParseTime("yesterday"); ok {
		t.Fatalf("expected failure")
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	got := ParseTimeDefault("", def)
	if !got.Equal(def) {
		t.Fatalf("expected default")
	}
}

func TestFormatISORoundTrip(t *testing.T) {
	in := time.Date(2023, 8, 20, 10, 15, 32, 123456000, time.UTC)
	got, ok := ParseTime(FormatISO(in))
	if !ok || !got.Equal(in) {
		t.Fatalf("expected %v got %v", in, got)
	}
}
