// Package server exposes the REST facade over the shipping pipeline and
// the query path: query, push, labels, health and example-query endpoints,
// plus the request-timing middleware that feeds one synthetic record per
// inbound request through the pipeline.
package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/coffersTech/lokiship/internal/codec"
	"github.com/coffersTech/lokiship/internal/health"
	"github.com/coffersTech/lokiship/internal/loki"
	"github.com/coffersTech/lokiship/internal/model"
	"github.com/coffersTech/lokiship/internal/ship"
)

// Options wires the facade's collaborators.
type Options struct {
	Client        *loki.Client
	Shipper       *ship.Shipper
	Checker       *health.Checker
	Logger        *zap.Logger
	DefaultLabels model.LabelSet

	GrafanaURL      string
	GrafanaUser     string
	GrafanaPassword string
}

// Server holds the Echo app and its dependencies.
type Server struct {
	echo *echo.Echo
	opts Options
	srv  *http.Server
}

type structValidator struct {
	v *validator.Validate
}

func (sv *structValidator) Validate(i interface{}) error {
	if err := sv.v.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// New builds the Echo server and registers routes.
func New(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &structValidator{v: validator.New()}
	e.Use(middleware.Recover())

	s := &Server{echo: e, opts: opts}
	e.Use(RequestTiming(opts.Shipper, opts.Logger))

	api := e.Group("/api/logs")
	api.POST("/query", s.handleQuery)
	api.GET("/query/simple", s.handleSimpleQuery)
	api.POST("/push", s.handlePush)
	api.GET("/labels", s.handleLabels)
	api.GET("/health", s.handleHealth)
	api.GET("/test", s.handleTest)
	api.GET("/examples", s.handleExamples)

	return s
}

// Echo exposes the underlying app, mainly for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Start runs the HTTP server until Shutdown.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.echo}
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

type queryRequest struct {
	Query     string     `json:"query" validate:"required"`
	Start     *time.Time `json:"start"`
	End       *time.Time `json:"end"`
	Limit     int        `json:"limit" validate:"omitempty,gte=1,lte=5000"`
	Direction string     `json:"direction" validate:"omitempty,oneof=forward backward"`
}

type queryResponse struct {
	Status string         `json:"status"`
	Result []streamResult `json:"result"`
}

type streamResult struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

func toQueryResponse(res *model.QueryResult) queryResponse {
	out := queryResponse{Status: res.Status, Result: []streamResult{}}
	for _, s := range res.Streams {
		sr := streamResult{Stream: s.Labels, Values: [][2]string{}}
		for _, e := range s.Entries {
			sr.Values = append(sr.Values, [2]string{
				time.Unix(0, e.Timestamp).UTC().Format(time.RFC3339Nano),
				e.Line,
			})
		}
		out.Result = append(out.Result, sr)
	}
	return out
}

func (s *Server) handleQuery(c echo.Context) error {
	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if req.Limit == 0 {
		req.Limit = 100
	}
	if req.Direction == "" {
		req.Direction = loki.DirectionBackward
	}

	p := loki.QueryParams{
		Query:     req.Query,
		Limit:     req.Limit,
		Direction: req.Direction,
	}
	if req.Start != nil {
		p.Start = *req.Start
	}
	if req.End != nil {
		p.End = *req.End
	}

	res := s.opts.Client.QueryRange(c.Request().Context(), p)
	if res == nil {
		return echo.NewHTTPError(http.StatusBadGateway, "failed to query logs from Loki")
	}
	return c.JSON(http.StatusOK, toQueryResponse(res))
}

func (s *Server) handleSimpleQuery(c echo.Context) error {
	query := c.QueryParam("query")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter is required")
	}
	hours := intParam(c, "hours", 1)
	if hours < 1 || hours > 168 {
		return echo.NewHTTPError(http.StatusBadRequest, "hours must be between 1 and 168")
	}
	limit := intParam(c, "limit", 100)
	if limit < 1 || limit > 1000 {
		return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 1000")
	}

	end := time.Now().UTC()
	res := s.opts.Client.QueryRange(c.Request().Context(), loki.QueryParams{
		Query:     query,
		Start:     end.Add(-time.Duration(hours) * time.Hour),
		End:       end,
		Limit:     limit,
		Direction: loki.DirectionBackward,
	})
	if res == nil {
		return echo.NewHTTPError(http.StatusBadGateway, "failed to query logs from Loki")
	}
	return c.JSON(http.StatusOK, toQueryResponse(res))
}

type pushRequest struct {
	Logs   []map[string]interface{} `json:"logs" validate:"required,min=1"`
	Labels map[string]string        `json:"labels"`
}

func (s *Server) handlePush(c echo.Context) error {
	var req pushRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	labels := s.opts.DefaultLabels.Merge(model.LabelSet(req.Labels))
	now := time.Now()
	batch := &model.PushBatch{}
	for _, raw := range req.Logs {
		batch.Add(labels, model.Entry{
			Timestamp: codec.NormalizeTimestamp(raw["timestamp"], now),
			Line:      codec.Line(raw["message"]),
		})
	}

	if !s.opts.Client.Push(c.Request().Context(), batch, 0) {
		return echo.NewHTTPError(http.StatusBadGateway, "failed to push logs to Loki")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "success",
		"logs_pushed": batch.EntryCount(),
	})
}

func (s *Server) handleLabels(c echo.Context) error {
	labels := s.opts.Client.Labels(c.Request().Context())
	if labels == nil {
		return echo.NewHTTPError(http.StatusBadGateway, "failed to retrieve labels from Loki")
	}
	return c.JSON(http.StatusOK, map[string][]string{"labels": labels})
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx := c.Request().Context()
	reports := []health.Report{
		s.opts.Checker.CheckLoki(ctx, s.opts.Client.BaseURL()),
		s.opts.Checker.CheckGrafana(ctx, s.opts.GrafanaURL, s.opts.GrafanaUser, s.opts.GrafanaPassword),
	}
	return c.JSON(http.StatusOK, reports)
}

func (s *Server) handleTest(c echo.Context) error {
	ctx := c.Request().Context()
	healthy := s.opts.Client.Ready(ctx)

	now := time.Now().UTC()
	batch := &model.PushBatch{}
	batch.Add(
		s.opts.DefaultLabels.Merge(model.LabelSet{"test": "api", "source": "integration_test"}),
		model.Entry{
			Timestamp: now.UnixNano(),
			Line:      "test log from lokiship API endpoint - " + now.Format(time.RFC3339),
		},
	)
	pushed := s.opts.Client.Push(ctx, batch, 0)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"loki_healthy":    healthy,
		"test_log_pushed": pushed,
		"test_timestamp":  now.Format(time.RFC3339),
	})
}

// Example LogQL queries for common use cases, served for documentation.
var exampleQueries = map[string]string{
	"all_logs":      `{service="lokiship"}`,
	"error_logs":    `{service="lokiship"} |= "ERROR"`,
	"api_requests":  `{log_type="http_request"}`,
	"recent_errors": `{service="lokiship"} | json | level="ERROR"`,
	"slow_requests": `{log_type="http_request"} | json | duration > 1.0`,
}

func (s *Server) handleExamples(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"examples": exampleQueries,
		"documentation": map[string]string{
			"logql_guide":       "https://grafana.com/docs/loki/latest/logql/",
			"filter_by_service": `{service="your-service"}`,
			"search_text":       `{service="your-service"} |= "search term"`,
			"regex_filter":      `{service="your-service"} |~ "regex.*pattern"`,
		},
	})
}

func intParam(c echo.Context, name string, def int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}
