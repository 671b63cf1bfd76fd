// Package forecast loads the pre-trained price model and attaches its
// predictions to enriched records.
package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"CoinFlow/internal/domain/models"
)

const secondsPerDay = 86400.0

// Duration reads a Go duration string ("120h") from JSON.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Trend is a piecewise linear growth curve over normalized time.
type Trend struct {
	K            float64   `json:"k"`
	M            float64   `json:"m"`
	Changepoints []float64 `json:"changepoints"`
	Deltas       []float64 `json:"deltas"`
}

// Seasonality is a Fourier series; Coefficients holds (cos, sin) pairs for
// orders 1..FourierOrder.
type Seasonality struct {
	Name         string    `json:"name"`
	PeriodDays   float64   `json:"period_days"`
	FourierOrder int       `json:"fourier_order"`
	Coefficients []float64 `json:"coefficients"`
}

// Artifact is the serialized model as exported after training.
type Artifact struct {
	Name          string        `json:"name"`
	Symbols       []string      `json:"symbols,omitempty"`
	Start         time.Time     `json:"start"`
	TScaleSeconds float64       `json:"t_scale_seconds"`
	YScale        float64       `json:"y_scale"`
	TrainedUntil  time.Time     `json:"trained_until"`
	Horizon       Duration      `json:"horizon"`
	Trend         Trend         `json:"trend"`
	Seasonalities []Seasonality `json:"seasonalities"`
}

func (a *Artifact) validate() error {
	switch {
	case a.Start.IsZero():
		return fmt.Errorf("start is required")
	case !a.TrainedUntil.After(a.Start):
		return fmt.Errorf("trained_until must be after start")
	case a.TScaleSeconds <= 0:
		return fmt.Errorf("t_scale_seconds must be positive")
	case a.YScale == 0:
		return fmt.Errorf("y_scale must be non-zero")
	case a.Horizon < 0:
		return fmt.Errorf("horizon must not be negative")
	case len(a.Trend.Changepoints) != len(a.Trend.Deltas):
		return fmt.Errorf("trend has %d changepoints and %d deltas", len(a.Trend.Changepoints), len(a.Trend.Deltas))
	}
	for i := 1; i < len(a.Trend.Changepoints); i++ {
		if a.Trend.Changepoints[i] < a.Trend.Changepoints[i-1] {
			return fmt.Errorf("trend changepoints must be ascending")
		}
	}
	for _, s := range a.Seasonalities {
		if s.PeriodDays <= 0 {
			return fmt.Errorf("seasonality %q: period_days must be positive", s.Name)
		}
		if len(s.Coefficients) != 2*s.FourierOrder {
			return fmt.Errorf("seasonality %q: want %d coefficients, got %d", s.Name, 2*s.FourierOrder, len(s.Coefficients))
		}
	}
	return nil
}

// Model is an immutable, loaded Artifact. It is safe for concurrent use.
type Model struct {
	a       Artifact
	symbols map[string]struct{}
}

// LoadArtifact reads and validates a model artifact from path.
func LoadArtifact(path string) (*Model, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}
	return ParseArtifact(b)
}

func ParseArtifact(b []byte) (*Model, error) {
	var a Artifact
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("decode model artifact: %w", err)
	}
	return NewModel(a)
}

func NewModel(a Artifact) (*Model, error) {
	if err := a.validate(); err != nil {
		return nil, fmt.Errorf("invalid model artifact %q: %w", a.Name, err)
	}
	m := &Model{a: a}
	m.a.Start = a.Start.UTC()
	m.a.TrainedUntil = a.TrainedUntil.UTC()
	if len(a.Symbols) > 0 {
		m.symbols = make(map[string]struct{}, len(a.Symbols))
		for _, s := range a.Symbols {
			m.symbols[strings.ToLower(s)] = struct{}{}
		}
	}
	return m, nil
}

func (m *Model) Name() string { return m.a.Name }

// Range returns the interval in which Predict answers for the given horizon.
func (m *Model) Range(horizon time.Duration) (time.Time, time.Time) {
	h := time.Duration(m.a.Horizon)
	if horizon > 0 && horizon < h {
		h = horizon
	}
	return m.a.Start, m.a.TrainedUntil.Add(h)
}

// Predict returns the model value at `at`. Times before the training start
// or beyond trained_until plus the horizon are unavailable.
func (m *Model) Predict(_ context.Context, key string, at time.Time, horizon time.Duration) (float64, error) {
	if m.symbols != nil {
		if _, ok := m.symbols[strings.ToLower(key)]; !ok {
			return 0, &models.PredictionUnavailableError{Key: key, Reason: fmt.Sprintf("model %q not trained for this key", m.a.Name)}
		}
	}
	from, to := m.Range(horizon)
	if at.Before(from) || at.After(to) {
		return 0, &models.PredictionUnavailableError{
			Key:    key,
			Reason: fmt.Sprintf("%s outside model range [%s, %s]", at.UTC().Format(time.RFC3339), from.Format(time.RFC3339), to.Format(time.RFC3339)),
		}
	}
	return m.value(at), nil
}

func (m *Model) value(at time.Time) float64 {
	t := at.Sub(m.a.Start).Seconds() / m.a.TScaleSeconds
	y := m.trend(t)
	days := float64(at.UnixNano()) / 1e9 / secondsPerDay
	for _, s := range m.a.Seasonalities {
		y += seasonal(s, days)
	}
	return y * m.a.YScale
}

func (m *Model) trend(t float64) float64 {
	k, off := m.a.Trend.K, m.a.Trend.M
	for i, cp := range m.a.Trend.Changepoints {
		if t < cp {
			break
		}
		k += m.a.Trend.Deltas[i]
		off -= cp * m.a.Trend.Deltas[i]
	}
	return k*t + off
}

func seasonal(s Seasonality, days float64) float64 {
	var y float64
	for n := 1; n <= s.FourierOrder; n++ {
		x := 2 * math.Pi * float64(n) * days / s.PeriodDays
		y += s.Coefficients[2*(n-1)]*math.Cos(x) + s.Coefficients[2*(n-1)+1]*math.Sin(x)
	}
	return y
}
