package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/telecare/telecare-platform/internal/appointment"
	"github.com/telecare/telecare-platform/internal/http/handlers"
	httpmiddleware "github.com/telecare/telecare-platform/internal/http/middleware"
	"github.com/telecare/telecare-platform/internal/payments"
	"github.com/telecare/telecare-platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger              *logging.Logger
	AppointmentsHandler *handlers.AppointmentsHandler
	ScheduleHandler     *handlers.ScheduleHandler
	HealthHandler       *handlers.HealthHandler
	StripeWebhook       *payments.WebhookHandler
	MetricsHandler      http.Handler
	JWTSecret           string
	CORSAllowedOrigins  []string
	RateLimitPerSecond  float64
	RateLimitBurst      int
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}
	if cfg.RateLimitPerSecond > 0 {
		r.Use(httpmiddleware.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))
	}

	// Public endpoints (webhooks, health checks)
	r.Group(func(public chi.Router) {
		if cfg.HealthHandler != nil {
			public.Get("/health", cfg.HealthHandler.Check)
		}
		if cfg.StripeWebhook != nil {
			public.Post("/webhooks/stripe", cfg.StripeWebhook.Handle)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Authenticated endpoints
	r.Group(func(auth chi.Router) {
		auth.Use(httpmiddleware.Auth(cfg.JWTSecret))

		if cfg.AppointmentsHandler != nil {
			auth.Route("/appointments", func(appts chi.Router) {
				appts.Post("/", cfg.AppointmentsHandler.Book)
				appts.Post("/pay-later", cfg.AppointmentsHandler.BookPayLater)
				appts.Get("/my", cfg.AppointmentsHandler.My)
				appts.With(adminOnly()).Get("/", cfg.AppointmentsHandler.ListAll)
				appts.Route("/{id}", func(appt chi.Router) {
					appt.Get("/", cfg.AppointmentsHandler.Get)
					appt.Post("/payment", cfg.AppointmentsHandler.InitiatePayment)
					appt.Patch("/status", cfg.AppointmentsHandler.ChangeStatus)
				})
			})
			auth.Get("/payments/{id}/status", cfg.AppointmentsHandler.PaymentStatus)
			auth.With(adminOnly()).Post("/internal/sweep", cfg.AppointmentsHandler.Sweep)
		}

		if cfg.ScheduleHandler != nil {
			auth.Route("/schedules", func(sched chi.Router) {
				sched.Use(adminOnly())
				sched.Post("/", cfg.ScheduleHandler.Generate)
				sched.Get("/", cfg.ScheduleHandler.List)
				sched.Get("/{id}", cfg.ScheduleHandler.Get)
				sched.Delete("/{id}", cfg.ScheduleHandler.Delete)
			})
			auth.Route("/doctors/{doctorID}/slots", func(slots chi.Router) {
				slots.Get("/", cfg.ScheduleHandler.DoctorSlots)
				slots.With(adminOnly()).Post("/{slotID}", cfg.ScheduleHandler.AttachDoctor)
			})
		}
	})

	return r
}

func adminOnly() func(http.Handler) http.Handler {
	return httpmiddleware.RequireRole(appointment.RoleAdmin, appointment.RoleSuperAdmin)
}
