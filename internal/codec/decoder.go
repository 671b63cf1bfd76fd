// Package codec converts between ingestion payloads, domain records and sink rows.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"CoinFlow/internal/domain/models"
	"CoinFlow/pkg/util"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// payload mirrors the JSON published by the upstream producer. Pointer fields
// let the validator tell a missing value from a zero one.
type payload struct {
	CoinName          string   `json:"coin_name" validate:"required"`
	CurrentPrice      *float64 `json:"current_price_usd" validate:"required"`
	High24h           *float64 `json:"24h_high_usd"`
	Low24h            *float64 `json:"24h_low_usd"`
	Volume24h         *float64 `json:"24h_trade_volume_usd"`
	MarketCap         *float64 `json:"market_cap_usd"`
	ChangePct24h      *float64 `json:"market_change_percentage_24h"`
	MarketRank        *int     `json:"market_rank"`
	CirculatingSupply *float64 `json:"circulating_supply"`
	TotalSupply       *float64 `json:"total_supply"`
	LastUpdated       string   `json:"last_updated" validate:"required"`
	RetrievalTime     string   `json:"retrieval_time" validate:"required"`
}

// Decode parses a raw payload into its key and Observation. It has no side
// effects; any failure is a *models.DecodeError.
func Decode(b []byte) (string, models.Observation, error) {
	var p payload
	if err := json.Unmarshal(b, &p); err != nil {
		return "", models.Observation{}, &models.DecodeError{Err: err}
	}
	p.CoinName = strings.TrimSpace(p.CoinName)
	if err := validate.Struct(&p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return "", models.Observation{}, &models.DecodeError{
				Field: jsonName(verrs[0].StructField()),
				Err:   fmt.Errorf("failed %q", verrs[0].Tag()),
			}
		}
		return "", models.Observation{}, &models.DecodeError{Err: err}
	}

	observedAt, ok := util.ParseTime(p.LastUpdated)
	if !ok {
		return "", models.Observation{}, &models.DecodeError{Field: "last_updated", Err: fmt.Errorf("invalid timestamp %q", p.LastUpdated)}
	}
	ingestedAt, ok := util.ParseTime(p.RetrievalTime)
	if !ok {
		return "", models.Observation{}, &models.DecodeError{Field: "retrieval_time", Err: fmt.Errorf("invalid timestamp %q", p.RetrievalTime)}
	}

	obs := models.Observation{
		Key:               p.CoinName,
		Price:             *p.CurrentPrice,
		HighPrice:         deref(p.High24h),
		LowPrice:          deref(p.Low24h),
		Volume:            deref(p.Volume24h),
		MarketCap:         deref(p.MarketCap),
		ChangePct24h:      deref(p.ChangePct24h),
		CirculatingSupply: deref(p.CirculatingSupply),
		TotalSupply:       deref(p.TotalSupply),
		ObservedAt:        observedAt,
		IngestedAt:        ingestedAt,
	}
	if p.MarketRank != nil {
		obs.Rank = *p.MarketRank
	}
	return obs.Key, obs, nil
}

// Encode renders an Observation as an ingestion payload.
func Encode(o *models.Observation) ([]byte, error) {
	if o == nil {
		return nil, fmt.Errorf("observation is nil")
	}
	p := payload{
		CoinName:          o.Key,
		CurrentPrice:      &o.Price,
		High24h:           &o.HighPrice,
		Low24h:            &o.LowPrice,
		Volume24h:         &o.Volume,
		MarketCap:         &o.MarketCap,
		ChangePct24h:      &o.ChangePct24h,
		MarketRank:        &o.Rank,
		CirculatingSupply: &o.CirculatingSupply,
		TotalSupply:       &o.TotalSupply,
		LastUpdated:       util.FormatISO(o.ObservedAt),
		RetrievalTime:     util.FormatISO(o.IngestedAt),
	}
	return json.Marshal(p)
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func jsonName(structField string) string {
	switch structField {
	case "CoinName":
		return "coin_name"
	case "CurrentPrice":
		return "current_price_usd"
	case "LastUpdated":
		return "last_updated"
	case "RetrievalTime":
		return "retrieval_time"
	default:
		return structField
	}
}
