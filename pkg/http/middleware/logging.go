package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"CoinFlow/pkg/logger"
)

// RequestLogging logs every request at debug level and 5xx responses at
// error level.
func RequestLogging(l *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			status := c.Response().Status
			fields := []logger.Field{
				logger.String("method", req.Method),
				logger.String("route", routeOf(c)),
				logger.Int("status", status),
				logger.String("remote", c.RealIP()),
				logger.Duration("latency", time.Since(start)),
			}
			if status >= 500 {
				if err != nil {
					fields = append(fields, logger.Error(err))
				}
				l.Error("http request failed", fields...)
			} else {
				l.Debug("http request", fields...)
			}
			return nil
		}
	}
}

// routeOf returns the registered route template, which keeps label and log
// cardinality low.
func routeOf(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return c.Request().URL.Path
}
