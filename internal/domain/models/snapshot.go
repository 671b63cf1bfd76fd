package models

import "time"

// KeySnapshot is the serializable form of one key's window state.
type KeySnapshot struct {
	Key         string      `json:"key"`
	Prices      []float64   `json:"prices"`
	Count       int64       `json:"count"`
	Latest      Observation `json:"latest"`
	PendingFire *time.Time  `json:"pending_fire,omitempty"`
}
