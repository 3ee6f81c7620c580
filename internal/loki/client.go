// Package loki is a best-effort client for the Loki HTTP API: push,
// range queries, label listing and the readiness probe. Delivery failures
// degrade to sentinel returns with diagnostics on the span and the logger;
// they are never raised to callers, since the logging path itself depends
// on these operations.
package loki

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/coffersTech/lokiship/internal/codec"
	"github.com/coffersTech/lokiship/internal/model"
)

const (
	pushPath   = "/loki/api/v1/push"
	queryPath  = "/loki/api/v1/query_range"
	labelsPath = "/loki/api/v1/labels"
	readyPath  = "/ready"

	// maxErrBody caps how much of a rejection body is kept for diagnostics.
	maxErrBody = 1024
)

// Query directions, controlling tie-break ordering of equal timestamps.
const (
	DirectionForward  = "forward"
	DirectionBackward = "backward"
)

// Config holds the client settings. Zero durations fall back to the
// defaults below.
type Config struct {
	// BaseURL is the Loki base URL, e.g. http://localhost:3100.
	BaseURL string
	// TenantID, when set, is sent as the X-Scope-OrgID header.
	TenantID string

	// Timeout applies to caller-facing query and label operations.
	Timeout time.Duration
	// PushTimeout applies to background push operations. Kept short so a
	// degraded backend fails flushes fast instead of piling them up.
	PushTimeout time.Duration
	// HealthTimeout applies to readiness probes. Independent of Timeout
	// because health polling must stay responsive when Loki is slow.
	HealthTimeout time.Duration

	// Gzip compresses push bodies with Content-Encoding: gzip.
	Gzip bool
}

const (
	DefaultTimeout       = 30 * time.Second
	DefaultPushTimeout   = 2 * time.Second
	DefaultHealthTimeout = 3 * time.Second
)

func (c *Config) withDefaults() {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.PushTimeout <= 0 {
		c.PushTimeout = DefaultPushTimeout
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = DefaultHealthTimeout
	}
}

// Client issues stateless-per-call HTTP operations against one Loki base
// URL. The embedded http.Client is safe for concurrent use, so one Client
// serves all in-flight pushes, queries and probes.
type Client struct {
	cfg    Config
	http   *http.Client
	log    *zap.Logger
	tracer trace.Tracer
}

// QueryParams are the filter parameters of a range query. Start and End are
// optional; when zero the backend applies its own default window.
type QueryParams struct {
	Query     string
	Start     time.Time
	End       time.Time
	Limit     int
	Direction string
}

// New returns a Client for the given config. The logger must not be nil.
func New(cfg Config, log *zap.Logger) *Client {
	cfg.withDefaults()
	return &Client{
		cfg:    cfg,
		http:   &http.Client{},
		log:    log,
		tracer: otel.Tracer("lokiship/loki"),
	}
}

// BaseURL returns the normalized base URL the client targets.
func (c *Client) BaseURL() string { return c.cfg.BaseURL }

// Push sends one batch to the push endpoint and reports whether Loki
// acknowledged it with 204. Any other status, timeout or transport error
// returns false; the failure is logged and recorded on the span but never
// surfaced as an error, because delivery failures are expected and must not
// crash producers. A non-positive timeout uses the configured push timeout.
func (c *Client) Push(ctx context.Context, batch *model.PushBatch, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = c.cfg.PushTimeout
	}
	target := c.cfg.BaseURL + pushPath

	ctx, span := c.tracer.Start(ctx, "loki.push", trace.WithAttributes(
		attribute.String("loki.url", target),
		attribute.Int("loki.entry_count", batch.EntryCount()),
		attribute.Int("loki.stream_count", len(batch.Streams())),
	))
	defer span.End()

	body, err := codec.EncodePush(batch)
	if err != nil {
		c.fail(span, "encode push batch", err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var buf bytes.Buffer
	if c.cfg.Gzip {
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err == nil {
			err = zw.Close()
		}
		if err != nil {
			c.fail(span, "gzip push body", err)
			return false
		}
	} else {
		buf.Write(body)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, &buf)
	if err != nil {
		c.fail(span, "build push request", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}
	c.setTenant(req)

	resp, err := c.http.Do(req)
	if err != nil {
		c.fail(span, "push request", err)
		return false
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusNoContent {
		detail := readErrBody(resp.Body)
		span.SetStatus(codes.Error, "push rejected")
		span.SetAttributes(attribute.String("loki.error", detail))
		c.log.Warn("loki rejected push",
			zap.Int("status", resp.StatusCode),
			zap.String("body", detail))
		return false
	}

	c.log.Debug("pushed batch to loki",
		zap.Int("entries", batch.EntryCount()),
		zap.Int("streams", len(batch.Streams())))
	return true
}

// QueryRange runs a range query and returns the decoded result, or nil on
// any failure: network error, non-200 status or a malformed body.
func (c *Client) QueryRange(ctx context.Context, p QueryParams) *model.QueryResult {
	target := c.cfg.BaseURL + queryPath

	ctx, span := c.tracer.Start(ctx, "loki.query_range", trace.WithAttributes(
		attribute.String("loki.url", target),
		attribute.String("loki.query", p.Query),
		attribute.Int("loki.limit", p.Limit),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	params := url.Values{}
	params.Set("query", p.Query)
	if p.Limit > 0 {
		params.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Direction != "" {
		params.Set("direction", p.Direction)
	}
	if !p.Start.IsZero() {
		params.Set("start", strconv.FormatInt(p.Start.UnixNano(), 10))
	}
	if !p.End.IsZero() {
		params.Set("end", strconv.FormatInt(p.End.UnixNano(), 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target+"?"+params.Encode(), nil)
	if err != nil {
		c.fail(span, "build query request", err)
		return nil
	}
	c.setTenant(req)

	resp, err := c.http.Do(req)
	if err != nil {
		c.fail(span, "query request", err)
		return nil
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		detail := readErrBody(resp.Body)
		span.SetStatus(codes.Error, "query rejected")
		span.SetAttributes(attribute.String("loki.error", detail))
		c.log.Warn("loki query failed",
			zap.Int("status", resp.StatusCode),
			zap.String("body", detail))
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.fail(span, "read query response", err)
		return nil
	}
	result, err := codec.DecodeQuery(body)
	if err != nil {
		c.fail(span, "decode query response", err)
		return nil
	}

	c.log.Debug("queried loki",
		zap.String("query", p.Query),
		zap.Int("streams", len(result.Streams)))
	return result
}

// Labels returns the distinct label names known to the backend, or nil on
// any failure.
func (c *Client) Labels(ctx context.Context) []string {
	target := c.cfg.BaseURL + labelsPath

	ctx, span := c.tracer.Start(ctx, "loki.labels", trace.WithAttributes(
		attribute.String("loki.url", target),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		c.fail(span, "build labels request", err)
		return nil
	}
	c.setTenant(req)

	resp, err := c.http.Do(req)
	if err != nil {
		c.fail(span, "labels request", err)
		return nil
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		detail := readErrBody(resp.Body)
		span.SetStatus(codes.Error, "labels rejected")
		span.SetAttributes(attribute.String("loki.error", detail))
		c.log.Warn("loki labels request failed",
			zap.Int("status", resp.StatusCode),
			zap.String("body", detail))
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.fail(span, "read labels response", err)
		return nil
	}
	labels, err := codec.DecodeLabels(body)
	if err != nil {
		c.fail(span, "decode labels response", err)
		return nil
	}
	span.SetAttributes(attribute.Int("loki.label_count", len(labels)))
	return labels
}

// Ready probes the readiness endpoint under the short health timeout and
// reports whether Loki answered 200.
func (c *Client) Ready(ctx context.Context) bool {
	target := c.cfg.BaseURL + readyPath

	ctx, span := c.tracer.Start(ctx, "loki.ready", trace.WithAttributes(
		attribute.String("loki.url", target),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		c.fail(span, "build ready request", err)
		return false
	}
	c.setTenant(req)

	resp, err := c.http.Do(req)
	if err != nil {
		c.fail(span, "ready request", err)
		return false
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp.StatusCode == http.StatusOK
}

func (c *Client) setTenant(req *http.Request) {
	if c.cfg.TenantID != "" {
		req.Header.Set("X-Scope-OrgID", c.cfg.TenantID)
	}
}

// fail records the error on the span and logs it. Timeouts are
// distinguished from generic transport errors in the diagnostics.
func (c *Client) fail(span trace.Span, msg string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if errors.Is(err, context.DeadlineExceeded) {
		c.log.Warn("loki operation timed out", zap.String("op", msg), zap.Error(err))
		return
	}
	c.log.Warn("loki operation failed", zap.String("op", msg), zap.Error(err))
}

func readErrBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrBody))
	return strings.TrimSpace(string(data))
}
