package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/telecare/telecare-platform/internal/appointment"
	appconfig "github.com/telecare/telecare-platform/internal/config"
	"github.com/telecare/telecare-platform/internal/db"
	"github.com/telecare/telecare-platform/internal/observability/metrics"
	"github.com/telecare/telecare-platform/pkg/logging"
)

func main() {
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting expiry worker",
		"env", cfg.Env,
		"interval", cfg.SweepInterval.String(),
		"grace_period", cfg.UnpaidGracePeriod.String(),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	repo := appointment.NewPgRepository(pool)
	sweeper := appointment.NewSweeper(repo, metrics.NewBookingMetrics(prometheus.DefaultRegisterer), logger).
		WithInterval(cfg.SweepInterval).
		WithGracePeriod(cfg.UnpaidGracePeriod)

	sweeper.Start(rootCtx)
	logger.Info("expiry worker stopped")
}
