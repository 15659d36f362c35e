// Package booking runs the booking transaction: it reserves a slot, places a
// calendar hold and requests the advance payment, compensating in reverse
// order when a step fails. It also owns the explicit lifecycle operations
// that move an existing appointment through its states.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/salon-booking-engine/internal/appointments"
	"github.com/wolfman30/salon-booking-engine/internal/business"
	"github.com/wolfman30/salon-booking-engine/internal/calendar"
	"github.com/wolfman30/salon-booking-engine/internal/catalog"
	"github.com/wolfman30/salon-booking-engine/internal/observability/metrics"
	"github.com/wolfman30/salon-booking-engine/internal/payments"
	"github.com/wolfman30/salon-booking-engine/internal/retry"
	"github.com/wolfman30/salon-booking-engine/pkg/logging"
)

var bookingTracer = otel.Tracer("salon.internal.booking")

// Request is one concrete slot chosen by the caller, usually a candidate
// returned by the availability resolver.
type Request struct {
	CustomerContact string
	CustomerName    string
	ServiceNames    []string
	ResourceID      uuid.UUID
	StartAt         time.Time
}

// Result describes the appointment created by Book.
type Result struct {
	AppointmentID   uuid.UUID           `json:"appointment_id"`
	Status          appointments.Status `json:"status"`
	ResourceID      uuid.UUID           `json:"resource_id"`
	StartAt         time.Time           `json:"start_at"`
	EndAt           time.Time           `json:"end_at"`
	DurationMinutes int                 `json:"duration_minutes"`
	TotalPriceCents int64               `json:"total_price_cents"`
	AdvanceCents    int64               `json:"advance_cents"`
	PaymentLink     string              `json:"payment_link,omitempty"`
	ExpiresAt       *time.Time          `json:"expires_at,omitempty"`
}

// Options tunes timeouts that are not part of the business configuration.
type Options struct {
	BusinessID         string
	Currency           string
	HoldTimeoutSameDay time.Duration
	HoldTimeoutAdvance time.Duration
	ReplyWindow        time.Duration
	Retry              retry.Policy
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		BusinessID:         "default",
		Currency:           "usd",
		HoldTimeoutSameDay: 30 * time.Minute,
		HoldTimeoutAdvance: 4 * time.Hour,
		ReplyWindow:        24 * time.Hour,
		Retry:              retry.DefaultPolicy(),
	}
}

// Coordinator implements the booking saga and the appointment lifecycle
// operations. It is safe for concurrent use; exclusivity is enforced by the store.
type Coordinator struct {
	catalog  catalog.Repository
	config   business.Source
	store    appointments.Store
	calendar calendar.Calendar
	payments payments.Gateway
	opts     Options
	metrics  *metrics.BookingMetrics
	logger   *logging.Logger
	now      func() time.Time
}

func NewCoordinator(cat catalog.Repository, cfg business.Source, store appointments.Store, cal calendar.Calendar, gateway payments.Gateway, opts Options, logger *logging.Logger) *Coordinator {
	if cat == nil || cfg == nil || store == nil || cal == nil || gateway == nil {
		panic("booking: coordinator requires catalog, config, store, calendar and payment gateway")
	}
	if logger == nil {
		logger = logging.Default()
	}
	defaults := DefaultOptions()
	if opts.BusinessID == "" {
		opts.BusinessID = defaults.BusinessID
	}
	if opts.Currency == "" {
		opts.Currency = defaults.Currency
	}
	if opts.HoldTimeoutSameDay <= 0 {
		opts.HoldTimeoutSameDay = defaults.HoldTimeoutSameDay
	}
	if opts.HoldTimeoutAdvance <= 0 {
		opts.HoldTimeoutAdvance = defaults.HoldTimeoutAdvance
	}
	if opts.ReplyWindow <= 0 {
		opts.ReplyWindow = defaults.ReplyWindow
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = defaults.Retry
	}
	return &Coordinator{
		catalog:  cat,
		config:   cfg,
		store:    store,
		calendar: cal,
		payments: gateway,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

func (c *Coordinator) WithMetrics(m *metrics.BookingMetrics) *Coordinator {
	c.metrics = m
	return c
}

// WithClock overrides the time source.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	if now != nil {
		c.now = now
	}
	return c
}

// Book runs the booking saga for req.
func (c *Coordinator) Book(ctx context.Context, req Request) (*Result, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.book")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.resource_id", req.ResourceID.String()),
		attribute.String("booking.start_at", req.StartAt.UTC().Format(time.RFC3339)),
	)

	res, err := c.book(ctx, span, req)
	if err != nil {
		code := CodeOf(err)
		if code == "" {
			code = "INTERNAL"
		}
		c.metrics.ObserveBooking(string(code))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(code))
		return nil, err
	}
	c.metrics.ObserveBooking("OK")
	span.SetAttributes(attribute.String("booking.appointment_id", res.AppointmentID.String()))
	return res, nil
}

type validated struct {
	cfg      *business.Config
	services []catalog.Service
	stylist  *catalog.Stylist
	quote    catalog.Quote
	start    time.Time
}

func (c *Coordinator) book(ctx context.Context, span trace.Span, req Request) (*Result, error) {
	v, err := c.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	customer, err := c.catalog.GetOrCreateCustomer(ctx, req.CustomerContact, req.CustomerName)
	if err != nil {
		if errors.Is(err, catalog.ErrInvalidContact) {
			return nil, newError(CodeInvalidRequest, false, err)
		}
		return nil, fmt.Errorf("booking: get or create customer: %w", err)
	}

	appt := &appointments.Appointment{
		ID:              uuid.New(),
		CustomerID:      customer.ID,
		ResourceID:      v.stylist.ID,
		ServiceIDs:      catalog.ServiceIDs(v.services),
		StartAt:         v.start,
		DurationMinutes: v.quote.DurationMinutes,
		BufferMinutes:   v.cfg.BufferMinutes,
		TotalPriceCents: v.quote.TotalCents,
		AdvanceCents:    v.quote.AdvanceCents,
		Status:          appointments.StatusProvisional,
		HoldExpiresAt:   c.holdExpiry(v.cfg, v.start),
	}
	span.SetAttributes(attribute.String("booking.appointment_id", appt.ID.String()))
	log := c.logger.With("appointment_id", appt.ID.String(), "resource_id", appt.ResourceID.String())

	// Step 2: reserve.
	if err := c.store.Reserve(ctx, appt); err != nil {
		switch {
		case errors.Is(err, appointments.ErrSlotTaken):
			return nil, newError(CodeSlotTaken, true, err)
		case errors.Is(err, appointments.ErrResourceUnavailable):
			return nil, newError(CodeResourceNotFound, false, err)
		}
		return nil, fmt.Errorf("booking: reserve: %w", err)
	}
	s := &saga{}
	// Set when the calendar undo fails; the row then stays as a cancelled
	// record of the event so the release scan can delete it later.
	var unreleasedRef string
	s.push("reservation", func(ctx context.Context) error {
		if unreleasedRef != "" {
			return c.store.Abandon(ctx, appt.ID, unreleasedRef)
		}
		return c.store.Discard(ctx, appt.ID)
	})

	// Step 3: calendar hold.
	hold := calendar.Hold{
		AppointmentID: appt.ID,
		CalendarID:    v.stylist.CalendarID,
		Start:         appt.StartAt,
		End:           appt.BlockedUntil(),
		Label:         holdLabel(v.services, customer),
		Description:   holdDescription(appt, customer),
	}
	ref, err := callValue(ctx, c, "calendar", "create_hold", func(ctx context.Context) (string, error) {
		return c.calendar.CreateHold(ctx, hold)
	})
	if err != nil {
		return nil, c.fail(ctx, log, s, CodeCalendarError, err)
	}
	s.push("calendar", func(ctx context.Context) error {
		err := c.call(ctx, "calendar", "delete", func(ctx context.Context) error {
			return c.calendar.Delete(ctx, ref)
		})
		if err != nil {
			unreleasedRef = ref
		}
		return err
	})
	if err := c.store.AttachCalendarEvent(ctx, appt.ID, ref); err != nil {
		return nil, c.fail(ctx, log, s, CodeCalendarError, fmt.Errorf("record calendar event: %w", err))
	}
	appt.CalendarEventRef = ref

	res := &Result{
		AppointmentID:   appt.ID,
		Status:          appointments.StatusProvisional,
		ResourceID:      appt.ResourceID,
		StartAt:         appt.StartAt,
		EndAt:           appt.EndAt(),
		DurationMinutes: appt.DurationMinutes,
		TotalPriceCents: appt.TotalPriceCents,
		AdvanceCents:    appt.AdvanceCents,
	}

	// Step 4: payment, or straight to PENDING when nothing is due.
	if appt.AdvanceCents > 0 {
		link, err := c.requestPayment(ctx, s, appt, v, customer)
		if err != nil {
			return nil, c.fail(ctx, log, s, CodePaymentError, err)
		}
		res.PaymentLink = link.URL
		expires := link.ExpiresAt.UTC()
		res.ExpiresAt = &expires
		log.Info("appointment reserved pending advance payment", "advance_cents", appt.AdvanceCents, "expires_at", expires)
		return res, nil
	}

	if err := c.call(ctx, "calendar", "mark_confirmed", func(ctx context.Context) error {
		return c.calendar.MarkConfirmed(ctx, ref)
	}); err != nil {
		return nil, c.fail(ctx, log, s, CodeCalendarError, err)
	}
	updated, err := c.transition(ctx, appt.ID, appointments.EventNoChargeDue, appointments.Input{}, "")
	if err != nil {
		return nil, c.fail(ctx, log, s, CodeTransactionFailed, fmt.Errorf("mark pending: %w", err))
	}
	res.Status = updated.Status
	log.Info("appointment booked without advance payment")
	return res, nil
}

func (c *Coordinator) validate(ctx context.Context, req Request) (*validated, error) {
	if strings.TrimSpace(req.CustomerContact) == "" {
		return nil, rejected(CodeInvalidRequest, "customer contact is required")
	}
	if len(req.ServiceNames) == 0 {
		return nil, rejected(CodeInvalidRequest, "at least one service is required")
	}
	if req.ResourceID == uuid.Nil {
		return nil, rejected(CodeInvalidRequest, "resource is required")
	}
	if req.StartAt.IsZero() {
		return nil, rejected(CodeInvalidRequest, "start time is required")
	}

	cfg, err := c.config.Get(ctx, c.opts.BusinessID)
	if err != nil {
		return nil, fmt.Errorf("booking: load business config: %w", err)
	}

	all, err := c.catalog.ListServices(ctx)
	if err != nil {
		return nil, fmt.Errorf("booking: list services: %w", err)
	}
	services, err := catalog.ResolveServices(all, req.ServiceNames)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrServiceAmbiguous):
			return nil, newError(CodeServiceAmbiguous, false, err)
		case errors.Is(err, catalog.ErrServiceNotFound):
			return nil, newError(CodeServiceNotFound, false, err)
		}
		return nil, fmt.Errorf("booking: resolve services: %w", err)
	}
	category, err := catalog.SingleCategory(services)
	if err != nil {
		return nil, newError(CodeCategoryMismatch, false, err)
	}

	stylist, err := c.catalog.GetStylist(ctx, req.ResourceID)
	if err != nil {
		if errors.Is(err, catalog.ErrStylistNotFound) {
			return nil, newError(CodeResourceNotFound, false, err)
		}
		return nil, fmt.Errorf("booking: get stylist: %w", err)
	}
	if !stylist.Active {
		return nil, rejected(CodeResourceNotFound, "stylist %s is not active", stylist.ID)
	}
	if stylist.Category != category {
		return nil, rejected(CodeCategoryMismatch, "stylist %s works %s, services are %s", stylist.ID, stylist.Category, category)
	}

	quote := catalog.QuoteFor(services, cfg.AdvancePercent)
	start := req.StartAt.In(cfg.Location())
	if earliest := c.now().Add(cfg.MinLead()); start.Before(earliest) {
		return nil, rejected(CodeDateTooSoon, "start %s is before %s", start.Format(time.RFC3339), earliest.In(cfg.Location()).Format(time.RFC3339))
	}
	if !cfg.Fits(start, time.Duration(quote.DurationMinutes)*time.Minute) {
		return nil, rejected(CodeOutsideBusinessHours, "%s for %d minutes is outside business hours", start.Format(time.RFC3339), quote.DurationMinutes)
	}

	return &validated{cfg: cfg, services: services, stylist: stylist, quote: quote, start: start}, nil
}

// holdExpiry is when an unpaid reservation for start lapses. Same-day
// bookings get the shorter window and no hold outlives the start time.
func (c *Coordinator) holdExpiry(cfg *business.Config, start time.Time) *time.Time {
	now := c.now()
	timeout := c.opts.HoldTimeoutAdvance
	if cfg.SameDay(now, start) {
		timeout = c.opts.HoldTimeoutSameDay
	}
	expires := now.Add(timeout)
	if expires.After(start) {
		expires = start
	}
	expires = expires.UTC()
	return &expires
}

func (c *Coordinator) requestPayment(ctx context.Context, s *saga, appt *appointments.Appointment, v *validated, customer *catalog.Customer) (*payments.Link, error) {
	expires := *appt.HoldExpiresAt

	preq := payments.Request{
		CorrelationKey: appt.ID.String(),
		AmountCents:    appt.AdvanceCents,
		Currency:       c.opts.Currency,
		Description:    fmt.Sprintf("Advance for %s on %s", serviceNames(v.services), appt.StartAt.Format("Mon 2 Jan 15:04")),
		ExpiresAt:      expires,
	}
	if strings.Contains(customer.Contact, "@") {
		preq.CustomerEmail = customer.Contact
	}
	link, err := callValue(ctx, c, "payments", "create_request", func(ctx context.Context) (*payments.Link, error) {
		return c.payments.CreatePaymentRequest(ctx, preq)
	})
	if err != nil {
		return nil, err
	}
	s.push("payment", func(ctx context.Context) error {
		return c.call(ctx, "payments", "cancel_request", func(ctx context.Context) error {
			return c.payments.CancelPaymentRequest(ctx, link.Ref)
		})
	})
	if link.ExpiresAt.IsZero() {
		link.ExpiresAt = expires
	}
	if err := c.store.AttachPaymentRequest(ctx, appt.ID, appointments.PaymentRequest{
		Link:          link.URL,
		SessionRef:    link.Ref,
		HoldExpiresAt: link.ExpiresAt,
	}); err != nil {
		return nil, fmt.Errorf("record payment request: %w", err)
	}
	return link, nil
}

// fail compensates every completed step and wraps cause as TRANSACTION_FAILED.
func (c *Coordinator) fail(ctx context.Context, log *logging.Logger, s *saga, code Code, cause error) error {
	retryable := retry.IsTransient(cause)
	step := cause
	if code != CodeTransactionFailed {
		step = newError(code, retryable, cause)
	}
	log.Warn("booking step failed, compensating", "code", string(code), "error", cause)
	s.compensate(ctx, func(name string, err error) {
		c.metrics.ObserveCompensation(name, err)
		if err != nil {
			log.Error("compensation failed", "step", name, "error", err)
		}
	})
	return newError(CodeTransactionFailed, retryable, step)
}

type compensation struct {
	step string
	undo func(ctx context.Context) error
}

// saga is the stack of undo actions for the steps completed so far.
type saga struct {
	steps []compensation
}

func (s *saga) push(step string, undo func(ctx context.Context) error) {
	s.steps = append(s.steps, compensation{step: step, undo: undo})
}

// compensate runs the undo actions newest first. It keeps going after a
// failure so that later steps are still released.
func (s *saga) compensate(ctx context.Context, report func(step string, err error)) {
	ctx = context.WithoutCancel(ctx)
	for i := len(s.steps) - 1; i >= 0; i-- {
		st := s.steps[i]
		report(st.step, st.undo(ctx))
	}
	s.steps = nil
}

func (c *Coordinator) call(ctx context.Context, collaborator, operation string, op func(ctx context.Context) error) error {
	_, err := callValue(ctx, c, collaborator, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func callValue[T any](ctx context.Context, c *Coordinator, collaborator, operation string, op func(ctx context.Context) (T, error)) (T, error) {
	ctx, span := bookingTracer.Start(ctx, collaborator+"."+operation)
	defer span.End()
	started := time.Now()
	res, err := retry.Value(ctx, c.opts.Retry, op)
	c.metrics.ObserveExternalCall(collaborator, operation, started, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func serviceNames(services []catalog.Service) string {
	names := make([]string, len(services))
	for i, svc := range services {
		names[i] = svc.Name
	}
	return strings.Join(names, " + ")
}

func holdLabel(services []catalog.Service, customer *catalog.Customer) string {
	who := customer.DisplayName
	if who == "" {
		who = customer.Contact
	}
	return serviceNames(services) + " - " + who
}

func holdDescription(a *appointments.Appointment, customer *catalog.Customer) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Appointment: %s\n", a.ID)
	fmt.Fprintf(&b, "Customer: %s\n", customer.Contact)
	fmt.Fprintf(&b, "Duration: %d min (+%d min buffer)\n", a.DurationMinutes, a.BufferMinutes)
	if a.AdvanceCents > 0 {
		fmt.Fprintf(&b, "Advance due: %d.%02d\n", a.AdvanceCents/100, a.AdvanceCents%100)
	}
	return b.String()
}
