package server

import (
	"fmt"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/coffersTech/lokiship/internal/model"
	"github.com/coffersTech/lokiship/internal/ship"
)

// RequestTiming derives one log record per inbound request: method, URL,
// client address, status code and elapsed duration, labeled
// log_type=http_request. The record is enqueued fire-and-forget after the
// response is produced, so the caller never waits on log delivery. A nil
// shipper disables the middleware.
func RequestTiming(shipper *ship.Shipper, log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if shipper == nil {
				return next(c)
			}

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = 500
				}
			}
			elapsed := time.Since(start)
			req := c.Request()

			rec := model.LogRecord{
				Time: start,
				Message: fmt.Sprintf("%s %s - %d - %.3fs",
					req.Method, req.URL.String(), status, elapsed.Seconds()),
				Fields: map[string]string{
					"http_method":      req.Method,
					"http_url":         req.URL.String(),
					"http_status_code": strconv.Itoa(status),
					"http_duration":    strconv.FormatFloat(elapsed.Seconds(), 'f', 3, 64),
					"client_ip":        c.RealIP(),
					"user_agent":       req.UserAgent(),
				},
				Labels: model.LabelSet{
					"log_type":    "http_request",
					"method":      req.Method,
					"status_code": strconv.Itoa(status),
				},
			}
			if qerr := shipper.Enqueue(rec); qerr != nil {
				log.Debug("request log not enqueued", zap.Error(qerr))
			}
			return err
		}
	}
}
