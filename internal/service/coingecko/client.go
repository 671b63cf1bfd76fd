package coingecko

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"

	"CoinFlow/internal/domain/models"
	"CoinFlow/internal/domain/repository"
	"CoinFlow/internal/service/ratelimit"
)

const DefaultBaseURL = "https://api.coingecko.com/api/v3"

// Client fetches coin snapshots from the CoinGecko REST API.
type Client struct {
	client  *resty.Client
	now     func() time.Time
	limiter *ratelimit.Limiter
	perSec  float64
	burst   float64
}

type Option func(*Client)

// WithAPIKey sends the demo API key header on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if key != "" {
			c.client.SetHeader("x-cg-demo-api-key", key)
		}
	}
}

// WithLimiter spreads requests to at most perMinute calls per minute.
func WithLimiter(l *ratelimit.Limiter, perMinute int) Option {
	return func(c *Client) {
		if l == nil || perMinute <= 0 {
			return
		}
		c.limiter = l
		c.perSec = float64(perMinute) / 60
		c.burst = math.Max(1, float64(perMinute)/6)
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})
	c := &Client{client: rc, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type usd struct {
	USD *float64 `json:"usd"`
}

type coinResponse struct {
	ID            string `json:"id"`
	MarketCapRank *int   `json:"market_cap_rank"`
	LastUpdated   string `json:"last_updated"`
	MarketData    struct {
		CurrentPrice                 usd      `json:"current_price"`
		High24h                      usd      `json:"high_24h"`
		Low24h                       usd      `json:"low_24h"`
		TotalVolume                  usd      `json:"total_volume"`
		MarketCap                    usd      `json:"market_cap"`
		MarketCapChangePercentage24h *float64 `json:"market_cap_change_percentage_24h"`
		CirculatingSupply            *float64 `json:"circulating_supply"`
		TotalSupply                  *float64 `json:"total_supply"`
	} `json:"market_data"`
}

// Fetch returns the current observation for one coin id, e.g. "bitcoin".
func (c *Client) Fetch(ctx context.Context, id string) (*models.Observation, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, "coingecko", c.burst, c.perSec); err != nil {
			return nil, fmt.Errorf("coingecko %s: %w", id, err)
		}
	}
	var body coinResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetQueryParams(map[string]string{
			"localization":   "false",
			"tickers":        "false",
			"community_data": "false",
			"developer_data": "false",
		}).
		SetResult(&body).
		Get("/coins/{id}")
	if err != nil {
		return nil, fmt.Errorf("coingecko %s: %w", id, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("coingecko %s: status %d", id, resp.StatusCode())
	}
	return c.toObservation(id, &body)
}

func (c *Client) toObservation(id string, b *coinResponse) (*models.Observation, error) {
	observed, err := time.Parse(time.RFC3339Nano, b.LastUpdated)
	if err != nil {
		return nil, fmt.Errorf("coingecko %s: last_updated %q: %w", id, b.LastUpdated, err)
	}
	md := b.MarketData
	o := &models.Observation{
		Key:               capitalize(id),
		Price:             val(md.CurrentPrice.USD),
		HighPrice:         val(md.High24h.USD),
		LowPrice:          val(md.Low24h.USD),
		Volume:            val(md.TotalVolume.USD),
		MarketCap:         val(md.MarketCap.USD),
		ChangePct24h:      val(md.MarketCapChangePercentage24h),
		CirculatingSupply: val(md.CirculatingSupply),
		TotalSupply:       val(md.TotalSupply),
		ObservedAt:        observed.UTC(),
		IngestedAt:        c.now().UTC(),
	}
	if b.MarketCapRank != nil {
		o.Rank = *b.MarketCapRank
	}
	return o, nil
}

func val(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// capitalize upper-cases the first letter and lower-cases the rest.
func capitalize(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[n:])
}

var _ repository.MarketSource = (*Client)(nil)
