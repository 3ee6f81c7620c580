// Package health probes the observability stack's auxiliary services: the
// Loki readiness endpoint, the Grafana health API and the local application
// port. Probes use a short fixed timeout so polling stays responsive even
// when a backend is degraded, and they report status instead of returning
// errors.
package health

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	StatusUp   = "up"
	StatusDown = "down"
)

// Report is one service's probe result.
type Report struct {
	Service    string                 `json:"service"`
	Status     string                 `json:"status"`
	StatusCode int                    `json:"status_code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// Checker runs the probes. Zero Timeout means 3 seconds.
type Checker struct {
	Timeout time.Duration

	http *http.Client
}

const defaultTimeout = 3 * time.Second

// NewChecker returns a Checker with the given probe timeout.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Checker{Timeout: timeout, http: &http.Client{}}
}

// CheckLoki probes {base}/ready.
func (c *Checker) CheckLoki(ctx context.Context, baseURL string) Report {
	rep := Report{Service: "loki", Status: StatusDown}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(baseURL, "/")+"/ready", nil)
	if err != nil {
		rep.Error = err.Error()
		return rep
	}
	resp, err := c.http.Do(req)
	if err != nil {
		rep.Error = err.Error()
		return rep
	}
	defer resp.Body.Close()

	rep.StatusCode = resp.StatusCode
	if resp.StatusCode == http.StatusOK {
		rep.Status = StatusUp
	}
	if body := readBody(resp.Body); body != "" {
		rep.Details = map[string]interface{}{"response": body}
	}
	return rep
}

// CheckGrafana probes {base}/api/health with basic auth, keeping the JSON
// health payload as details when the body parses.
func (c *Checker) CheckGrafana(ctx context.Context, baseURL, user, password string) Report {
	rep := Report{Service: "grafana", Status: StatusDown}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(baseURL, "/")+"/api/health", nil)
	if err != nil {
		rep.Error = err.Error()
		return rep
	}
	if user != "" {
		req.SetBasicAuth(user, password)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		rep.Error = err.Error()
		return rep
	}
	defer resp.Body.Close()

	rep.StatusCode = resp.StatusCode
	if resp.StatusCode == http.StatusOK {
		rep.Status = StatusUp
	}

	body := readBody(resp.Body)
	var details map[string]interface{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") &&
		json.Unmarshal([]byte(body), &details) == nil {
		rep.Details = details
	} else if body != "" {
		rep.Details = map[string]interface{}{"response": body}
	}
	return rep
}

// CheckApp probes the local application with a plain TCP connect.
func (c *Checker) CheckApp(ctx context.Context, addr string) Report {
	rep := Report{Service: "app", Status: StatusDown}

	d := net.Dialer{Timeout: c.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		rep.Error = err.Error()
		return rep
	}
	conn.Close()
	rep.Status = StatusUp
	return rep
}

func readBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	return strings.TrimSpace(string(data))
}
