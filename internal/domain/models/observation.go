package models

import "time"

// Observation is a single price snapshot for one asset. It is treated as
// immutable once built by the decoder.
type Observation struct {
	Key               string
	Price             float64
	HighPrice         float64
	LowPrice          float64
	Volume            float64
	MarketCap         float64
	ChangePct24h      float64
	Rank              int
	CirculatingSupply float64
	TotalSupply       float64
	ObservedAt        time.Time // last_updated, drives the event-time timer
	IngestedAt        time.Time // retrieval_time
}

// EnrichedRecord is the latest observation of a key plus the trailing mean
// of its last WindowSize prices.
type EnrichedRecord struct {
	Observation
	RollingAverage float64
}

// PredictedRecord is an EnrichedRecord with the forecast attached.
type PredictedRecord struct {
	EnrichedRecord
	PredictedPrice float64
}

// DS is the forecast date stamp written alongside each row.
func (r PredictedRecord) DS() string {
	return r.ObservedAt.UTC().Format(time.RFC3339Nano)
}
