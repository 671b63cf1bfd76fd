package window

import (
	"time"

	"CoinFlow/internal/domain/models"
)

// KeyState is the window state of one key. It is owned by exactly one
// Processor and never shared.
type KeyState struct {
	key     string
	prices  *Ring
	latest  models.Observation
	count   int64
	pending time.Time
	armed   bool
	seq     uint64 // schedule order, breaks ties between equal fire times
	index   int    // position in the timer queue, -1 when not queued
}

func newKeyState(key string, size int) *KeyState {
	return &KeyState{key: key, prices: NewRing(size), index: -1}
}

func (s *KeyState) snapshot() models.KeySnapshot {
	snap := models.KeySnapshot{
		Key:    s.key,
		Prices: s.prices.Values(),
		Count:  s.count,
		Latest: s.latest,
	}
	if s.armed {
		t := s.pending
		snap.PendingFire = &t
	}
	return snap
}
