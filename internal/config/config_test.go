package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load error: %v", err)
	}

	if cfg.Loki.URL != "http://localhost:3100" {
		t.Errorf("unexpected default loki url %q", cfg.Loki.URL)
	}
	if cfg.Buffer.Capacity != 50 {
		t.Errorf("unexpected default capacity %d", cfg.Buffer.Capacity)
	}
	if cfg.Labels.Service != "lokiship" || cfg.Labels.Environment != "development" {
		t.Errorf("unexpected default labels %+v", cfg.Labels)
	}
	if cfg.Labels.Instance == "" {
		t.Error("instance label must default to a non-empty identifier")
	}

	d := cfg.MustDurations()
	want := Durations{
		Timeout:       30 * time.Second,
		PushTimeout:   2 * time.Second,
		HealthTimeout: 3 * time.Second,
		FlushInterval: 5 * time.Second,
	}
	if d != want {
		t.Errorf("unexpected default durations %+v", d)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("LOKISHIP_LOKI__URL", "http://loki.internal:3100")
	t.Setenv("LOKISHIP_LOKI__TENANT_ID", "team-a")
	t.Setenv("LOKISHIP_LOKI__PUSH_TIMEOUT", "1s")
	t.Setenv("LOKISHIP_BUFFER__CAPACITY", "25")
	t.Setenv("LOKISHIP_BUFFER__FLUSH_INTERVAL", "10s")
	t.Setenv("LOKISHIP_LABELS__SERVICE", "checkout")
	t.Setenv("LOKISHIP_SERVER__ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load error: %v", err)
	}

	if cfg.Loki.URL != "http://loki.internal:3100" {
		t.Errorf("unexpected loki url %q", cfg.Loki.URL)
	}
	if cfg.Loki.TenantID != "team-a" {
		t.Errorf("unexpected tenant %q", cfg.Loki.TenantID)
	}
	if cfg.Buffer.Capacity != 25 {
		t.Errorf("unexpected capacity %d", cfg.Buffer.Capacity)
	}
	if cfg.Labels.Service != "checkout" {
		t.Errorf("unexpected service label %q", cfg.Labels.Service)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("unexpected addr %q", cfg.Server.Addr)
	}

	d := cfg.MustDurations()
	if d.PushTimeout != time.Second || d.FlushInterval != 10*time.Second {
		t.Errorf("unexpected durations %+v", d)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad url", "LOKISHIP_LOKI__URL", "not a url"},
		{"bad duration", "LOKISHIP_BUFFER__FLUSH_INTERVAL", "five seconds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected a config error for %s=%q", tt.key, tt.value)
			}
		})
	}
}
