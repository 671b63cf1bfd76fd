package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"CoinFlow/internal/domain/models"
	"CoinFlow/internal/window"
	xhttp "CoinFlow/pkg/http"
	xlogger "CoinFlow/pkg/logger"
)

// EngineQuery is the read side of the window engine.
type EngineQuery interface {
	Keys(ctx context.Context) ([]string, error)
	State(ctx context.Context, key string) (models.KeySnapshot, bool, error)
	Stats(ctx context.Context) (window.Stats, error)
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// StateHandler serves the admin view of the window engine.
type StateHandler struct {
	logger  *xlogger.Logger
	engine  EngineQuery
	sink    HealthChecker
	size    int
	timeout time.Duration
}

// NewStateHandler serves engine state; size is the configured window size.
func NewStateHandler(logger *xlogger.Logger, engine EngineQuery, sink HealthChecker, size int) *StateHandler {
	if size <= 0 {
		size = window.DefaultSize
	}
	return &StateHandler{logger: logger, engine: engine, sink: sink, size: size, timeout: 2 * time.Second}
}

func (h *StateHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	g := e.Group("/api")
	g.GET("/stats", h.Stats)
	g.GET("/keys", h.Keys)
	g.GET("/keys/:key", h.Key)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Engine *window.Stats     `json:"engine,omitempty"`
}

// Health is 200 when the engine answers and the sink is reachable, 503
// otherwise.
func (h *StateHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	res := healthResponse{Status: "ok", Checks: map[string]string{}}
	if st, err := h.engine.Stats(ctx); err != nil {
		res.Status = "degraded"
		res.Checks["engine"] = err.Error()
	} else {
		res.Checks["engine"] = "ok"
		res.Engine = &st
	}
	if h.sink != nil {
		if err := h.sink.Health(ctx); err != nil {
			res.Status = "degraded"
			res.Checks["sink"] = err.Error()
		} else {
			res.Checks["sink"] = "ok"
		}
	}
	if res.Status != "ok" {
		h.logger.Warn("health check failed", xlogger.Any("checks", res.Checks))
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, res)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *StateHandler) Stats(c echo.Context) error {
	st, err := h.engine.Stats(c.Request().Context())
	if err != nil {
		h.logger.Error("engine stats", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("window engine unavailable").WithError(err))
	}
	return xhttp.SuccessResponse(c, st)
}

// Keys lists tracked keys, optionally filtered by a case-insensitive prefix.
func (h *StateHandler) Keys(c echo.Context) error {
	req := &models.KeysRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	keys, err := h.engine.Keys(c.Request().Context())
	if err != nil {
		h.logger.Error("list keys", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("window engine unavailable").WithError(err))
	}

	prefix := strings.ToLower(req.Prefix)
	rows := make([]string, 0, len(keys))
	total := 0
	for _, k := range keys {
		if prefix != "" && !strings.HasPrefix(strings.ToLower(k), prefix) {
			continue
		}
		total++
		if len(rows) < req.Limit {
			rows = append(rows, k)
		}
	}
	return xhttp.ListResponse(c, rows, int64(total))
}

type keyStateResponse struct {
	Key            string             `json:"key"`
	Prices         []float64          `json:"prices"`
	Observations   int64              `json:"observations"`
	Ready          bool               `json:"ready"`
	RollingAverage *float64           `json:"rolling_average,omitempty"`
	Latest         models.Observation `json:"latest"`
	PendingFire    *time.Time         `json:"pending_fire,omitempty"`
}

// Key returns one key's window, latest observation and pending timer.
func (h *StateHandler) Key(c echo.Context) error {
	req := &models.KeyStateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	snap, ok, err := h.engine.State(c.Request().Context(), req.Key)
	if err != nil {
		h.logger.Error("key state", xlogger.String("key", req.Key), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("window engine unavailable").WithError(err))
	}
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("key %q is not tracked", req.Key))
	}

	res := keyStateResponse{
		Key:          snap.Key,
		Prices:       snap.Prices,
		Observations: snap.Count,
		Ready:        len(snap.Prices) >= h.size,
		Latest:       snap.Latest,
		PendingFire:  snap.PendingFire,
	}
	if res.Ready {
		var sum float64
		for _, p := range snap.Prices {
			sum += p
		}
		avg := sum / float64(len(snap.Prices))
		res.RollingAverage = &avg
	}
	return xhttp.SuccessResponse(c, res)
}
