package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/telecare/telecare-platform/internal/api/router"
	"github.com/telecare/telecare-platform/internal/appointment"
	appconfig "github.com/telecare/telecare-platform/internal/config"
	"github.com/telecare/telecare-platform/internal/db"
	"github.com/telecare/telecare-platform/internal/http/handlers"
	"github.com/telecare/telecare-platform/internal/notify"
	"github.com/telecare/telecare-platform/internal/observability/metrics"
	"github.com/telecare/telecare-platform/internal/payments"
	"github.com/telecare/telecare-platform/internal/schedule"
	"github.com/telecare/telecare-platform/pkg/logging"
)

func main() {
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting telecare API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()

	bookingMetrics := metrics.NewBookingMetrics(prometheus.DefaultRegisterer)

	velocity := payments.NewVelocityChecker(redisClient, payments.VelocityConfig{
		MaxCheckoutsPerPatient: cfg.MaxCheckoutsPerPatient,
		CheckoutWindow:         cfg.CheckoutWindow,
		Enabled:                true,
	}, logger)

	checkout := payments.NewCheckoutService(
		cfg.StripeSecretKey,
		cfg.CheckoutSuccessURL,
		cfg.CheckoutCancelURL,
		logger,
	).
		WithDryRun(cfg.StripeDryRun).
		WithCurrency(cfg.Currency).
		WithVelocityChecker(velocity)

	apptRepo := appointment.NewPgRepository(pool)
	bookingService := appointment.NewService(apptRepo, checkout, bookingMetrics, logger)
	sweeper := appointment.NewSweeper(apptRepo, bookingMetrics, logger).
		WithInterval(cfg.SweepInterval).
		WithGracePeriod(cfg.UnpaidGracePeriod)

	scheduleRepo := schedule.NewRepository(pool)
	scheduleGen := schedule.NewGenerator(scheduleRepo, logger)

	var emailSender notify.EmailSender
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		emailSender = sg
	} else {
		emailSender = notify.NewStubEmailSender(logger)
	}
	notifier := notify.NewService(emailSender, logger)

	webhook := payments.NewWebhookHandler(cfg.StripeWebhookSecret, apptRepo, logger).
		WithConfirmationSender(notifier).
		WithMetrics(bookingMetrics)

	r := router.New(&router.Config{
		Logger:              logger,
		AppointmentsHandler: handlers.NewAppointmentsHandler(bookingService, logger).WithSweeper(sweeper),
		ScheduleHandler:     handlers.NewScheduleHandler(scheduleGen, scheduleRepo, logger),
		HealthHandler:       handlers.NewHealthHandler(pool),
		StripeWebhook:       webhook,
		MetricsHandler:      promhttp.Handler(),
		JWTSecret:           cfg.JWTSecret,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		RateLimitPerSecond:  cfg.RateLimitPerSecond,
		RateLimitBurst:      cfg.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
