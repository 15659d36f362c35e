package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/salon-booking-engine/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/salon-booking-engine/internal/http/middleware"
	"github.com/wolfman30/salon-booking-engine/internal/payments"
	"github.com/wolfman30/salon-booking-engine/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Health         http.Handler
	Availability   *handlers.AvailabilityHandler
	Appointments   *handlers.AppointmentsHandler
	StripeWebhook  *payments.StripeWebhookHandler
	FakePayments   *payments.FakePaymentsHandler
	MetricsHandler http.Handler

	ServiceJWTSecret   string
	ServiceJWTAudience string
	CORSAllowedOrigins []string
	// BookingLimiter throttles POST /v1/appointments per caller. Optional.
	BookingLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	// Public endpoints (webhooks, health checks, metrics)
	r.Group(func(public chi.Router) {
		if cfg.Health != nil {
			public.Handle("/health", cfg.Health)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.StripeWebhook != nil {
			public.Post("/webhooks/stripe", cfg.StripeWebhook.Handle)
		}
		if cfg.FakePayments != nil {
			public.Mount("/payments/fake", cfg.FakePayments.Routes())
		}
	})

	// Booking API for internal callers
	r.Route("/v1", func(api chi.Router) {
		api.Use(httpmiddleware.ServiceJWT(cfg.ServiceJWTSecret, cfg.ServiceJWTAudience))
		if cfg.Availability != nil {
			api.Get("/availability", cfg.Availability.Get)
		}
		if cfg.Appointments != nil {
			api.Route("/appointments", func(appts chi.Router) {
				if cfg.BookingLimiter != nil {
					appts.With(httpmiddleware.RateLimit(cfg.BookingLimiter)).Post("/", cfg.Appointments.Create)
				} else {
					appts.Post("/", cfg.Appointments.Create)
				}
				appts.Route("/{appointmentID}", func(appt chi.Router) {
					appt.Get("/", cfg.Appointments.Get)
					appt.Post("/cancel", cfg.Appointments.Cancel)
					appt.Post("/reply", cfg.Appointments.Reply)
					appt.Post("/outcome", cfg.Appointments.Outcome)
				})
			})
		}
	})

	return r
}
