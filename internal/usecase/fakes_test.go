package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"CoinFlow/internal/domain/models"
)

var t0 = time.Date(2023, 8, 20, 10, 0, 0, 0, time.UTC)

func obsAt(key string, price float64, minute int) models.Observation {
	at := t0.Add(time.Duration(minute) * time.Minute)
	return models.Observation{Key: key, Price: price, ObservedAt: at, IngestedAt: at.Add(5 * time.Second)}
}

type fakeMetrics struct {
	mu      sync.Mutex
	dropped map[string]int
	errs    map[string]int
	writes  map[string]int
	obs     map[string]int
	last    map[string]float64
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		dropped: map[string]int{},
		errs:    map[string]int{},
		writes:  map[string]int{},
		obs:     map[string]int{},
		last:    map[string]float64{},
	}
}

func (m *fakeMetrics) inc(c map[string]int, k string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c[k]++
}

func (m *fakeMetrics) count(c map[string]int, k string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return c[k]
}

func (m *fakeMetrics) RecordObservation(key string)   { m.inc(m.obs, key) }
func (m *fakeMetrics) RecordEmission(string)          {}
func (m *fakeMetrics) RecordDropped(reason string)    { m.inc(m.dropped, reason) }
func (m *fakeMetrics) RecordError(kind string)        { m.inc(m.errs, kind) }
func (m *fakeMetrics) RecordSinkWrite(backend string) { m.inc(m.writes, backend) }
func (m *fakeMetrics) RecordLatency(string, float64)  {}
func (m *fakeMetrics) SetTrackedKeys(int)             {}
func (m *fakeMetrics) SetWatermark(time.Time)         {}
func (m *fakeMetrics) RecordLastPrice(key string, p float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[key] = p
}

// memSink fails the first failN appends.
type memSink struct {
	mu     sync.Mutex
	recs   []models.PredictedRecord
	failN  int
	calls  int
	inited bool
	closed bool
}

func (s *memSink) Init(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inited = true
	return nil
}

func (s *memSink) Append(_ context.Context, r *models.PredictedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failN {
		return &models.SinkWriteError{Backend: "mem", Err: errors.New("connection refused")}
	}
	s.recs = append(s.recs, *r)
	return nil
}

func (s *memSink) AppendBatch(ctx context.Context, rs []*models.PredictedRecord) error {
	for _, r := range rs {
		if err := s.Append(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (s *memSink) Health(context.Context) error { return nil }

func (s *memSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memSink) records() []models.PredictedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PredictedRecord(nil), s.recs...)
}

// fixedEnricher predicts the rolling average plus one, or fails for key skip.
type fixedEnricher struct {
	skip string
}

func (e fixedEnricher) Enrich(_ context.Context, rec *models.EnrichedRecord) (*models.PredictedRecord, error) {
	if rec.Key == e.skip {
		return nil, &models.PredictionUnavailableError{Key: rec.Key, Reason: "outside model range"}
	}
	return &models.PredictedRecord{EnrichedRecord: *rec, PredictedPrice: rec.RollingAverage + 1}, nil
}

type captureFeed struct {
	mu   sync.Mutex
	keys []string
}

func (f *captureFeed) Broadcast(r *models.PredictedRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, r.Key)
}

type memStore struct {
	mu     sync.Mutex
	snaps  []models.KeySnapshot
	saves  int
	closed bool
}

func (s *memStore) Save(_ context.Context, snaps []models.KeySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.snaps = append([]models.KeySnapshot(nil), snaps...)
	return nil
}

func (s *memStore) Load(context.Context) ([]models.KeySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.KeySnapshot(nil), s.snaps...), nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeSource struct {
	started, stopped bool
}

func (s *fakeSource) Start() error               { s.started = true; return nil }
func (s *fakeSource) Stop(context.Context) error { s.stopped = true; return nil }

// manualWatermark returns whatever the test last set.
type manualWatermark struct {
	mu  sync.Mutex
	max time.Time
	cur time.Time
}

func (w *manualWatermark) Observe(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t.After(w.max) {
		w.max = t
	}
}

func (w *manualWatermark) Current() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cur
}

func (w *manualWatermark) set(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cur = t
}
