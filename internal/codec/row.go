package codec

import (
	"time"

	"CoinFlow/internal/domain/models"
)

// Columns is the fixed sink column order.
var Columns = []string{
	"coin_name",
	"current_price_usd",
	"24h_high_usd",
	"24h_low_usd",
	"24h_trade_volume_usd",
	"market_cap_usd",
	"market_change_percentage_24h",
	"market_rank",
	"circulating_supply",
	"total_supply",
	"last_updated",
	"retrieval_time",
	"rolling_average",
	"predicted_price",
	"ds",
}

// Row returns the values of r in Columns order.
func Row(r *models.PredictedRecord) []interface{} {
	return []interface{}{
		r.Key,
		r.Price,
		r.HighPrice,
		r.LowPrice,
		r.Volume,
		r.MarketCap,
		r.ChangePct24h,
		int64(r.Rank),
		r.CirculatingSupply,
		r.TotalSupply,
		r.ObservedAt.UTC(),
		r.IngestedAt.UTC(),
		r.RollingAverage,
		r.PredictedPrice,
		r.DS(),
	}
}

// OutputRecord is the JSON shape of a predicted record, keyed like the sink columns.
type OutputRecord struct {
	CoinName          string    `json:"coin_name"`
	CurrentPrice      float64   `json:"current_price_usd"`
	High24h           float64   `json:"24h_high_usd"`
	Low24h            float64   `json:"24h_low_usd"`
	Volume24h         float64   `json:"24h_trade_volume_usd"`
	MarketCap         float64   `json:"market_cap_usd"`
	ChangePct24h      float64   `json:"market_change_percentage_24h"`
	MarketRank        int       `json:"market_rank"`
	CirculatingSupply float64   `json:"circulating_supply"`
	TotalSupply       float64   `json:"total_supply"`
	LastUpdated       time.Time `json:"last_updated"`
	RetrievalTime     time.Time `json:"retrieval_time"`
	RollingAverage    float64   `json:"rolling_average"`
	PredictedPrice    float64   `json:"predicted_price"`
	DS                string    `json:"ds"`
}

// ToOutput maps r to its JSON output shape.
func ToOutput(r *models.PredictedRecord) OutputRecord {
	return OutputRecord{
		CoinName:          r.Key,
		CurrentPrice:      r.Price,
		High24h:           r.HighPrice,
		Low24h:            r.LowPrice,
		Volume24h:         r.Volume,
		MarketCap:         r.MarketCap,
		ChangePct24h:      r.ChangePct24h,
		MarketRank:        r.Rank,
		CirculatingSupply: r.CirculatingSupply,
		TotalSupply:       r.TotalSupply,
		LastUpdated:       r.ObservedAt.UTC(),
		RetrievalTime:     r.IngestedAt.UTC(),
		RollingAverage:    r.RollingAverage,
		PredictedPrice:    r.PredictedPrice,
		DS:                r.DS(),
	}
}
