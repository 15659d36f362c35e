package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	"github.com/wolfman30/salon-booking-engine/internal/appointments"
	"github.com/wolfman30/salon-booking-engine/internal/availability"
	"github.com/wolfman30/salon-booking-engine/internal/booking"
	"github.com/wolfman30/salon-booking-engine/internal/business"
	"github.com/wolfman30/salon-booking-engine/internal/calendar"
	"github.com/wolfman30/salon-booking-engine/internal/catalog"
	appconfig "github.com/wolfman30/salon-booking-engine/internal/config"
	"github.com/wolfman30/salon-booking-engine/internal/events"
	"github.com/wolfman30/salon-booking-engine/internal/http/handlers"
	"github.com/wolfman30/salon-booking-engine/internal/observability/metrics"
	"github.com/wolfman30/salon-booking-engine/internal/payments"
	"github.com/wolfman30/salon-booking-engine/internal/retry"
	"github.com/wolfman30/salon-booking-engine/pkg/logging"
)

// ProcessedTracker dedupes provider webhook deliveries.
type ProcessedTracker interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// Engine is the booking engine wired for one process.
type Engine struct {
	Config *appconfig.Config
	Logger *logging.Logger

	Pool  *pgxpool.Pool
	Redis *redis.Client

	Store     appointments.Store
	Catalog   catalog.Repository
	Business  business.Source
	Calendar  calendar.Calendar
	Gateway   payments.Gateway
	Outbox    events.Outbox
	Processed ProcessedTracker
	// FakeCheckout is set when payments run against the development gateway.
	FakeCheckout *payments.FakeCheckout

	Metrics     *metrics.BookingMetrics
	Coordinator *booking.Coordinator
	Resolver    *availability.Resolver
}

// BuildEngine wires storage, collaborators and the coordinator from cfg.
// reg receives the booking metrics; nil uses the default registerer.
func BuildEngine(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, reg prometheus.Registerer) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	e := &Engine{Config: cfg, Logger: logger}
	if err := e.buildStorage(ctx); err != nil {
		e.Close()
		return nil, err
	}
	if err := e.buildCollaborators(ctx); err != nil {
		e.Close()
		return nil, err
	}

	policy := retry.Policy{
		Timeout:        cfg.ExternalCallTimeout,
		MaxAttempts:    cfg.ExternalMaxAttempts,
		InitialBackoff: cfg.ExternalBackoffInitial,
	}
	e.Metrics = metrics.NewBookingMetrics(reg)
	e.Coordinator = booking.NewCoordinator(e.Catalog, e.Business, e.Store, e.Calendar, e.Gateway, booking.Options{
		BusinessID:         cfg.BusinessID,
		Currency:           cfg.PaymentCurrency,
		HoldTimeoutSameDay: cfg.HoldTimeoutSameDay,
		HoldTimeoutAdvance: cfg.HoldTimeoutAdvance,
		ReplyWindow:        cfg.ReplyWindow,
		Retry:              policy,
	}, logger).WithMetrics(e.Metrics)
	e.Resolver = availability.NewResolver(e.Catalog, e.Calendar, e.Store, e.Business, cfg.BusinessID, logger).
		WithRetryPolicy(policy)
	return e, nil
}

func (e *Engine) buildStorage(ctx context.Context) error {
	cfg := e.Config
	e.Redis = BuildRedisClient(ctx, cfg, e.Logger, true)
	if e.Redis != nil {
		e.Business = business.NewStore(e.Redis)
	} else {
		e.Business = business.StaticSource{Config: business.DefaultConfig(cfg.BusinessID)}
	}

	if cfg.UseMemoryStore {
		outbox := events.NewMemoryOutbox()
		cat := catalog.NewMemoryRepository()
		SeedCatalog(cat)
		store := appointments.NewMemoryStore(outbox)
		store.RestrictResources(cat.ActiveStylistIDs()...)

		e.Store = store
		e.Catalog = cat
		e.Outbox = outbox
		e.Processed = events.NewMemoryProcessedStore()
		e.Logger.Warn("using in-memory appointment store; state is lost on restart")
		return nil
	}

	pool, err := ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	e.Pool = pool
	var store appointments.Store = appointments.NewPostgresStore(pool)
	if e.Redis != nil {
		store = appointments.NewCachedStore(store, e.Redis, cfg.AppointmentCacheTTL, e.Logger)
	}
	e.Store = store
	e.Catalog = catalog.NewPostgresRepository(pool)
	e.Outbox = events.NewOutboxStore(pool)
	e.Processed = events.NewProcessedStore(pool)
	return nil
}

func (e *Engine) buildCollaborators(ctx context.Context) error {
	cfg := e.Config
	bc, err := e.Business.Get(ctx, cfg.BusinessID)
	if err != nil {
		return fmt.Errorf("bootstrap: load business config: %w", err)
	}

	switch {
	case strings.TrimSpace(cfg.GoogleCredentialsFile) != "":
		calendarID := cfg.GoogleBusinessCalendarID
		if calendarID == "" {
			calendarID = bc.CalendarID
		}
		g, err := calendar.NewGoogle(ctx, calendarID, bc.Timezone, e.Logger, option.WithCredentialsFile(cfg.GoogleCredentialsFile))
		if err != nil {
			return err
		}
		e.Calendar = g
	case cfg.IsProduction():
		return fmt.Errorf("bootstrap: GOOGLE_CALENDAR_CREDENTIALS_FILE is required in production")
	default:
		e.Logger.Warn("google calendar not configured; using in-memory calendar")
		e.Calendar = calendar.NewMemory()
	}

	switch {
	case strings.TrimSpace(cfg.StripeSecretKey) != "":
		e.Gateway = payments.NewStripeCheckout(cfg.StripeSecretKey, cfg.StripeSuccessURL, cfg.StripeCancelURL, cfg.PaymentCurrency, e.Logger)
	case cfg.AllowFakePayments || !cfg.IsProduction():
		baseURL := cfg.PublicBaseURL
		if baseURL == "" {
			baseURL = "http://localhost:" + cfg.Port
		}
		e.FakeCheckout = payments.NewFakeCheckout(baseURL, e.Logger)
		e.Gateway = e.FakeCheckout
		e.Logger.Warn("stripe not configured; using fake payment links", "base_url", baseURL)
	default:
		return fmt.Errorf("bootstrap: STRIPE_SECRET_KEY is required in production")
	}
	return nil
}

// HealthChecks probes the infrastructure this engine depends on.
func (e *Engine) HealthChecks() map[string]handlers.Check {
	checks := make(map[string]handlers.Check)
	if e.Pool != nil {
		checks["postgres"] = func(ctx context.Context) error { return e.Pool.Ping(ctx) }
	}
	if e.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return e.Redis.Ping(ctx).Err() }
	}
	return checks
}

// Close releases database and cache connections.
func (e *Engine) Close() {
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.Redis != nil {
		if err := e.Redis.Close(); err != nil {
			e.Logger.Warn("redis close failed", "error", err)
		}
	}
}
