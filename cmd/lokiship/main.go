package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/coffersTech/lokiship/internal/config"
	"github.com/coffersTech/lokiship/internal/health"
	"github.com/coffersTech/lokiship/internal/loki"
	"github.com/coffersTech/lokiship/internal/model"
	"github.com/coffersTech/lokiship/internal/server"
	"github.com/coffersTech/lokiship/internal/ship"
)

func main() {
	// Best effort: a missing .env just means the environment is already set.
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	durations := cfg.MustDurations()

	client := loki.New(loki.Config{
		BaseURL:       cfg.Loki.URL,
		TenantID:      cfg.Loki.TenantID,
		Timeout:       durations.Timeout,
		PushTimeout:   durations.PushTimeout,
		HealthTimeout: durations.HealthTimeout,
		Gzip:          cfg.Loki.Gzip,
	}, logger.Named("loki"))

	defaults := model.LabelSet{
		"service":     cfg.Labels.Service,
		"environment": cfg.Labels.Environment,
		"instance":    cfg.Labels.Instance,
	}

	shipper := ship.New(ship.Config{
		Capacity:      cfg.Buffer.Capacity,
		FlushInterval: durations.FlushInterval,
		Workers:       cfg.Buffer.Workers,
		QueueSize:     cfg.Buffer.QueueSize,
		DefaultLabels: defaults,
	}, client, logger.Named("ship"))

	// Route this process's own structured logs through the pipeline.
	slog.SetDefault(slog.New(ship.NewHandler(shipper, slog.LevelInfo, logger.Named("handler"))))

	srv := server.New(server.Options{
		Client:          client,
		Shipper:         shipper,
		Checker:         health.NewChecker(durations.HealthTimeout),
		Logger:          logger.Named("server"),
		DefaultLabels:   defaults,
		GrafanaURL:      cfg.Grafana.URL,
		GrafanaUser:     cfg.Grafana.User,
		GrafanaPassword: cfg.Grafana.Password,
	})

	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.Start(cfg.Server.Addr); err != nil {
			logger.Error("server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutting down", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if err := shipper.Close(ctx); err != nil {
		logger.Error("final flush incomplete", zap.Error(err))
	}
	logger.Info("exited gracefully")
}
