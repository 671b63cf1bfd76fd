package window

import (
	"sync"
	"time"
)

// WatermarkGenerator estimates event-time progress from the observations
// seen so far. The watermark trails the largest observed event time by the
// allowed lateness; once the stream has been idle for idleTimeout it jumps
// just past the largest event time so the last timers can fire. It never
// moves backwards.
type WatermarkGenerator struct {
	mu          sync.Mutex
	lateness    time.Duration
	idleTimeout time.Duration
	now         func() time.Time

	maxEvent time.Time
	lastSeen time.Time
	current  time.Time
}

func NewWatermarkGenerator(lateness, idleTimeout time.Duration) *WatermarkGenerator {
	if lateness < 0 {
		lateness = 0
	}
	return &WatermarkGenerator{lateness: lateness, idleTimeout: idleTimeout, now: time.Now}
}

// SetClock replaces the wall clock used by the idle rule.
func (g *WatermarkGenerator) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// Observe records an event time.
func (g *WatermarkGenerator) Observe(eventTime time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if eventTime.After(g.maxEvent) {
		g.maxEvent = eventTime
	}
	g.lastSeen = g.now()
}

// Current returns the watermark. It is zero until an event has been seen.
func (g *WatermarkGenerator) Current() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.maxEvent.IsZero() {
		return g.current
	}
	candidate := g.maxEvent.Add(-g.lateness)
	if g.idleTimeout > 0 && g.now().Sub(g.lastSeen) >= g.idleTimeout {
		candidate = g.maxEvent.Add(time.Nanosecond)
	}
	if candidate.After(g.current) {
		g.current = candidate
	}
	return g.current
}
