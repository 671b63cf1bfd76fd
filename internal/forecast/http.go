package forecast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"CoinFlow/internal/domain/models"
	"CoinFlow/internal/domain/repository"
	xhttp "CoinFlow/pkg/http"
)

// HTTPForecaster asks a remote model service for predictions.
type HTTPForecaster struct {
	baseURL  string
	client   *xhttp.Client
	attempts int
}

func NewHTTPForecaster(baseURL string, timeout time.Duration, attempts int) *HTTPForecaster {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if attempts < 1 {
		attempts = 1
	}
	return &HTTPForecaster{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   xhttp.NewClient(xhttp.WithTimeout(timeout)),
		attempts: attempts,
	}
}

type forecastReq struct {
	Symbol  string `json:"symbol"`
	DS      string `json:"ds"`
	Horizon string `json:"horizon"`
}

type forecastResp struct {
	Yhat      float64 `json:"yhat"`
	Available *bool   `json:"available,omitempty"`
	Reason    string  `json:"reason,omitempty"`
	Model     string  `json:"model"`
}

func (f *HTTPForecaster) Predict(ctx context.Context, key string, at time.Time, horizon time.Duration) (float64, error) {
	if f.baseURL == "" {
		return 0, &models.PredictionUnavailableError{Key: key, Reason: "forecast service url not configured"}
	}
	req := forecastReq{Symbol: key, DS: at.UTC().Format(time.RFC3339Nano), Horizon: horizon.String()}

	var (
		resp forecastResp
		err  error
	)
retry:
	for i := 1; ; i++ {
		err = f.post(ctx, "/forecast", req, &resp)
		var se *xhttp.StatusError
		if err == nil || i >= f.attempts || (errors.As(err, &se) && !se.Retryable()) {
			break
		}
		select {
		case <-time.After(time.Duration(i) * 50 * time.Millisecond):
		case <-ctx.Done():
			err = ctx.Err()
			break retry
		}
	}
	if err != nil {
		return 0, &models.PredictionUnavailableError{Key: key, Reason: "forecast service call failed", Err: err}
	}
	if resp.Available != nil && !*resp.Available {
		return 0, &models.PredictionUnavailableError{Key: key, Reason: resp.Reason}
	}
	return resp.Yhat, nil
}

func (f *HTTPForecaster) post(ctx context.Context, path string, payload, dest interface{}) error {
	err := f.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     f.baseURL + path,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    payload,
	}, dest)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	return nil
}

var (
	_ repository.Forecaster = (*HTTPForecaster)(nil)
	_ repository.Forecaster = (*Model)(nil)
)
