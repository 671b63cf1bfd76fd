package window

import (
	"fmt"
	"sort"
	"time"

	"CoinFlow/internal/domain/models"
)

// DefaultSize is the number of trailing prices averaged per emission.
const DefaultSize = 7

// Processor is the single-owner state machine for a set of keys. It is not
// safe for concurrent use; Engine gives each Processor its own goroutine.
type Processor struct {
	size      int
	states    map[string]*KeyState
	timers    timerQueue
	watermark time.Time
	seq       uint64

	fired      int64
	suppressed int64
}

// NewProcessor returns a Processor averaging the last size prices. A
// non-positive size is a StateFault.
func NewProcessor(size int) (*Processor, error) {
	if size <= 0 {
		return nil, &models.StateFault{Reason: fmt.Sprintf("window size must be positive, got %d", size)}
	}
	return &Processor{size: size, states: make(map[string]*KeyState)}, nil
}

// OnObservation records obs for its key and re-arms the key's timer at
// obs.ObservedAt, replacing any earlier schedule. It never emits. It reports
// whether the key was seen for the first time.
func (p *Processor) OnObservation(obs models.Observation) bool {
	st, ok := p.states[obs.Key]
	if !ok {
		st = newKeyState(obs.Key, p.size)
		p.states[obs.Key] = st
	}
	st.prices.Push(obs.Price)
	st.latest = obs
	st.count++
	p.arm(st, obs.ObservedAt)
	return !ok
}

// AdvanceWatermark moves the watermark to t (it never moves back) and fires,
// in event-time order, every timer the watermark has passed.
func (p *Processor) AdvanceWatermark(t time.Time) []models.EnrichedRecord {
	if t.After(p.watermark) {
		p.watermark = t
	}
	var out []models.EnrichedRecord
	for next := p.timers.peek(); next != nil && p.watermark.After(next.pending); next = p.timers.peek() {
		if rec, ok := p.fire(p.timers.pop()); ok {
			out = append(out, rec)
		}
	}
	return out
}

// Flush fires every armed timer regardless of the watermark.
func (p *Processor) Flush() []models.EnrichedRecord {
	var out []models.EnrichedRecord
	for p.timers.Len() > 0 {
		if rec, ok := p.fire(p.timers.pop()); ok {
			out = append(out, rec)
		}
	}
	return out
}

func (p *Processor) arm(st *KeyState, at time.Time) {
	p.seq++
	st.pending = at
	st.seq = p.seq
	st.armed = true
	p.timers.schedule(st)
}

func (p *Processor) fire(st *KeyState) (models.EnrichedRecord, bool) {
	st.armed = false
	n := st.prices.Len()
	if n > p.size {
		panic(&models.StateFault{Reason: fmt.Sprintf("key %q holds %d prices, window is %d", st.key, n, p.size)})
	}
	if n < p.size {
		p.suppressed++
		return models.EnrichedRecord{}, false
	}
	p.fired++
	return models.EnrichedRecord{Observation: st.latest, RollingAverage: st.prices.Mean()}, true
}

func (p *Processor) Watermark() time.Time { return p.watermark }

func (p *Processor) Len() int { return len(p.states) }

// Pending is the number of armed timers.
func (p *Processor) Pending() int { return p.timers.Len() }

// Stats returns the number of emitting and suppressed firings so far.
func (p *Processor) Stats() (fired, suppressed int64) { return p.fired, p.suppressed }

// Keys lists tracked keys in sorted order.
func (p *Processor) Keys() []string {
	keys := make([]string, 0, len(p.states))
	for k := range p.states {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// State returns a copy of one key's state.
func (p *Processor) State(key string) (models.KeySnapshot, bool) {
	st, ok := p.states[key]
	if !ok {
		return models.KeySnapshot{}, false
	}
	return st.snapshot(), true
}

// Snapshot copies every key's state, sorted by key.
func (p *Processor) Snapshot() []models.KeySnapshot {
	out := make([]models.KeySnapshot, 0, len(p.states))
	for _, k := range p.Keys() {
		out = append(out, p.states[k].snapshot())
	}
	return out
}

// Restore replaces the state of each snapshotted key. Prices beyond the
// window are dropped oldest first; pending timers are re-armed.
func (p *Processor) Restore(snaps []models.KeySnapshot) {
	for _, snap := range snaps {
		if old, ok := p.states[snap.Key]; ok && old.index >= 0 {
			p.timers.remove(old)
		}
		st := newKeyState(snap.Key, p.size)
		for _, v := range snap.Prices {
			st.prices.Push(v)
		}
		st.latest = snap.Latest
		st.count = snap.Count
		p.states[snap.Key] = st
		if snap.PendingFire != nil {
			p.arm(st, *snap.PendingFire)
		}
	}
}
