package booking

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/salon-booking-engine/internal/appointments"
	"github.com/wolfman30/salon-booking-engine/internal/business"
	"github.com/wolfman30/salon-booking-engine/internal/calendar"
	"github.com/wolfman30/salon-booking-engine/internal/catalog"
	"github.com/wolfman30/salon-booking-engine/internal/events"
	"github.com/wolfman30/salon-booking-engine/internal/observability/metrics"
	"github.com/wolfman30/salon-booking-engine/internal/payments"
	"github.com/wolfman30/salon-booking-engine/internal/retry"
	"github.com/wolfman30/salon-booking-engine/pkg/logging"
)

var madrid = mustLocation("Europe/Madrid")

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

type fixture struct {
	coord    *Coordinator
	store    *appointments.MemoryStore
	outbox   *events.MemoryOutbox
	calendar *calendar.Memory
	checkout *payments.FakeCheckout
	catalog  *catalog.MemoryRepository
	stylist  catalog.Stylist
	barber   catalog.Stylist
	clock    *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Tuesday 20 October 2026, 09:00 in Madrid.
var tuesdayMorning = time.Date(2026, 10, 20, 9, 0, 0, 0, madrid)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		outbox:   events.NewMemoryOutbox(),
		calendar: calendar.NewMemory(),
		checkout: payments.NewFakeCheckout("http://localhost:8080", logging.Discard()),
		catalog:  catalog.NewMemoryRepository(),
		clock:    &testClock{now: tuesdayMorning},
	}
	f.store = appointments.NewMemoryStore(f.outbox)

	f.catalog.AddService(catalog.Service{Name: "Corte y color", Aliases: []string{"cut and colour"}, Category: "hair", DurationMinutes: 90, PriceCents: 5000, RequiresAdvance: true, Active: true})
	f.catalog.AddService(catalog.Service{Name: "Corte caballero", Category: "hair", DurationMinutes: 30, PriceCents: 0, Active: true})
	f.catalog.AddService(catalog.Service{Name: "Peinado", Category: "hair", DurationMinutes: 30, PriceCents: 2000, Active: true})
	f.catalog.AddService(catalog.Service{Name: "Manicura", Category: "nails", DurationMinutes: 45, PriceCents: 2500, RequiresAdvance: true, Active: true})
	f.catalog.AddService(catalog.Service{Name: "Mechas finas", Category: "hair", DurationMinutes: 120, PriceCents: 8000, Active: true})
	f.catalog.AddService(catalog.Service{Name: "Mechas gruesas", Category: "hair", DurationMinutes: 120, PriceCents: 8000, Active: true})
	f.stylist = f.catalog.AddStylist(catalog.Stylist{Name: "Lucia", Category: "hair", CalendarID: "lucia@salon.test", Active: true})
	f.barber = f.catalog.AddStylist(catalog.Stylist{Name: "Marta", Category: "nails", CalendarID: "marta@salon.test", Active: true})

	opts := DefaultOptions()
	opts.Currency = "eur"
	opts.Retry = retry.Policy{Timeout: time.Second, MaxAttempts: 3, InitialBackoff: time.Millisecond}
	f.coord = NewCoordinator(f.catalog, business.StaticSource{}, f.store, f.calendar, f.checkout, opts, logging.Discard()).
		WithClock(f.clock.Now).
		WithMetrics(metrics.NewBookingMetrics(prometheus.NewRegistry()))
	return f
}

func (f *fixture) request(services []string, start time.Time) Request {
	return Request{
		CustomerContact: "+34 600 111 222",
		CustomerName:    "Ana",
		ServiceNames:    services,
		ResourceID:      f.stylist.ID,
		StartAt:         start,
	}
}

func (f *fixture) notifications(t *testing.T, kind events.NotificationKind) []events.NotificationNeededV1 {
	t.Helper()
	var out []events.NotificationNeededV1
	for _, entry := range f.outbox.Entries() {
		var env events.Envelope
		require.NoError(t, json.Unmarshal(entry.Payload, &env))
		var n events.NotificationNeededV1
		require.NoError(t, json.Unmarshal(env.Payload, &n))
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func TestBook_AdvanceDueReturnsPaymentLink(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2026, 10, 22, 11, 0, 0, 0, madrid)

	res, err := f.coord.Book(context.Background(), f.request([]string{"corte y color"}, start))
	require.NoError(t, err)

	assert.Equal(t, appointments.StatusProvisional, res.Status)
	assert.Equal(t, int64(5000), res.TotalPriceCents)
	assert.Equal(t, int64(1000), res.AdvanceCents)
	assert.Equal(t, 90, res.DurationMinutes)
	assert.True(t, res.EndAt.Equal(start.Add(90*time.Minute)))
	assert.Equal(t, "http://localhost:8080/payments/fake/"+res.AppointmentID.String(), res.PaymentLink)
	require.NotNil(t, res.ExpiresAt)
	assert.True(t, res.ExpiresAt.Equal(tuesdayMorning.Add(4*time.Hour)), "advance bookings hold for four hours")

	stored, err := f.store.Get(context.Background(), res.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, appointments.StatusProvisional, stored.Status)
	assert.Equal(t, 10, stored.BufferMinutes)
	assert.Equal(t, "fake:"+res.AppointmentID.String(), stored.PaymentSessionRef)
	require.NotNil(t, stored.HoldExpiresAt)

	ev, ok := f.calendar.Event(stored.CalendarEventRef)
	require.True(t, ok)
	assert.False(t, ev.Confirmed)
	assert.True(t, ev.Hold.End.Equal(start.Add(100*time.Minute)), "hold covers the buffer")
	assert.Equal(t, "lucia@salon.test", ev.Hold.CalendarID)

	req, ok := f.checkout.Lookup(res.AppointmentID.String())
	require.True(t, ok)
	assert.Equal(t, int64(1000), req.AmountCents)
	assert.Equal(t, "eur", req.Currency)
}

func TestBook_SameDayHoldIsShorter(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2026, 10, 20, 12, 0, 0, 0, madrid)

	res, err := f.coord.Book(context.Background(), f.request([]string{"Corte y color"}, start))
	require.NoError(t, err)
	require.NotNil(t, res.ExpiresAt)
	assert.True(t, res.ExpiresAt.Equal(tuesdayMorning.Add(30*time.Minute)))
}

func TestBook_NothingDueGoesStraightToPending(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2026, 10, 22, 17, 0, 0, 0, madrid)

	res, err := f.coord.Book(context.Background(), f.request([]string{"Corte caballero"}, start))
	require.NoError(t, err)
	assert.Equal(t, appointments.StatusPending, res.Status)
	assert.Empty(t, res.PaymentLink)
	assert.Nil(t, res.ExpiresAt)
	assert.Zero(t, f.checkout.Issued())

	stored, err := f.store.Get(context.Background(), res.AppointmentID)
	require.NoError(t, err)
	ev, ok := f.calendar.Event(stored.CalendarEventRef)
	require.True(t, ok)
	assert.True(t, ev.Confirmed)
}

func TestBook_ServiceWithoutAdvanceFlagChargesNothing(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2026, 10, 22, 17, 0, 0, 0, madrid)

	res, err := f.coord.Book(context.Background(), f.request([]string{"Peinado"}, start))
	require.NoError(t, err)
	assert.Equal(t, appointments.StatusPending, res.Status)
	assert.Equal(t, int64(2000), res.TotalPriceCents)
	assert.Zero(t, res.AdvanceCents)
}

func TestBook_PreValidation(t *testing.T) {
	thursday := time.Date(2026, 10, 22, 11, 0, 0, 0, madrid)
	tests := []struct {
		name   string
		mutate func(f *fixture, r *Request)
		code   Code
	}{
		{"unknown service", func(f *fixture, r *Request) { r.ServiceNames = []string{"tattoo"} }, CodeServiceNotFound},
		{"ambiguous service", func(f *fixture, r *Request) { r.ServiceNames = []string{"mechas"} }, CodeServiceAmbiguous},
		{"mixed categories", func(f *fixture, r *Request) { r.ServiceNames = []string{"Peinado", "Manicura"} }, CodeCategoryMismatch},
		{"stylist of another category", func(f *fixture, r *Request) { r.ResourceID = f.barber.ID }, CodeCategoryMismatch},
		{"unknown stylist", func(f *fixture, r *Request) { r.ResourceID = uuid.New() }, CodeResourceNotFound},
		{"inside lead time", func(f *fixture, r *Request) { r.StartAt = tuesdayMorning.Add(30 * time.Minute) }, CodeDateTooSoon},
		{"closed weekday", func(f *fixture, r *Request) { r.StartAt = time.Date(2026, 10, 26, 11, 0, 0, 0, madrid) }, CodeOutsideBusinessHours},
		{"runs past closing", func(f *fixture, r *Request) { r.StartAt = time.Date(2026, 10, 22, 19, 0, 0, 0, madrid) }, CodeOutsideBusinessHours},
		{"missing contact", func(f *fixture, r *Request) { r.CustomerContact = " " }, CodeInvalidRequest},
		{"no services", func(f *fixture, r *Request) { r.ServiceNames = nil }, CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := f.request([]string{"Corte y color"}, thursday)
			tt.mutate(f, &req)

			_, err := f.coord.Book(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, tt.code, CodeOf(err))
			assert.False(t, IsRetryable(err))
			assert.Zero(t, f.calendar.Len())
			assert.Zero(t, f.checkout.Issued())
		})
	}
}

func TestBook_InactiveStylist(t *testing.T) {
	f := newFixture(t)
	off := f.catalog.AddStylist(catalog.Stylist{Name: "Pilar", Category: "hair", CalendarID: "pilar@salon.test", Active: false})
	req := f.request([]string{"Peinado"}, time.Date(2026, 10, 22, 11, 0, 0, 0, madrid))
	req.ResourceID = off.ID

	_, err := f.coord.Book(context.Background(), req)
	assert.Equal(t, CodeResourceNotFound, CodeOf(err))
}

func TestBook_ConcurrentRequestsForOneSlot(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2026, 10, 22, 11, 0, 0, 0, madrid)

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		booked  int
		taken   int
		unknown []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coord.Book(context.Background(), f.request([]string{"Corte y color"}, start))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				booked++
			case CodeOf(err) == CodeSlotTaken && IsRetryable(err):
				taken++
			default:
				unknown = append(unknown, err)
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, unknown)
	assert.Equal(t, 1, booked)
	assert.Equal(t, callers-1, taken)
	assert.Equal(t, 1, f.calendar.Len())
}

func TestBook_BufferIsPartOfTheExclusiveInterval(t *testing.T) {
	f := newFixture(t)
	first := time.Date(2026, 10, 22, 11, 0, 0, 0, madrid)
	_, err := f.coord.Book(context.Background(), f.request([]string{"Corte y color"}, first))
	require.NoError(t, err)

	// 11:00 + 90 min service + 10 min buffer blocks until 12:40.
	_, err = f.coord.Book(context.Background(), f.request([]string{"Peinado"}, first.Add(95*time.Minute)))
	assert.Equal(t, CodeSlotTaken, CodeOf(err))

	_, err = f.coord.Book(context.Background(), f.request([]string{"Peinado"}, first.Add(100*time.Minute)))
	assert.NoError(t, err)
}

func TestBook_PaymentFailureCompensatesEverything(t *testing.T) {
	f := newFixture(t)
	f.checkout.CreateHook = func(req payments.Request) error {
		return retry.Transient(errors.New("gateway unavailable"))
	}
	start := time.Date(2026, 10, 22, 11, 0, 0, 0, madrid)

	_, err := f.coord.Book(context.Background(), f.request([]string{"Corte y color"}, start))
	require.Error(t, err)
	assert.Equal(t, CodeTransactionFailed, CodeOf(err))
	assert.True(t, IsRetryable(err))
	assert.Equal(t, CodePaymentError, Cause(err).Code)

	assert.Zero(t, f.calendar.Len(), "calendar hold is deleted")
	assert.Equal(t, 1, f.calendar.DeleteCalls)
	blocking, err := f.store.ListBlocking(context.Background(), f.stylist.ID, start.Add(-time.Hour), start.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, blocking, "reservation is discarded")

	// The slot is free again.
	f.checkout.CreateHook = nil
	_, err = f.coord.Book(context.Background(), f.request([]string{"Corte y color"}, start))
	assert.NoError(t, err)
}

func TestBook_TransientPaymentErrorIsRetried(t *testing.T) {
	f := newFixture(t)
	var attempts int
	f.checkout.CreateHook = func(req payments.Request) error {
		attempts++
		if attempts == 1 {
			return retry.Transient(errors.New("timeout"))
		}
		return nil
	}

	res, err := f.coord.Book(context.Background(), f.request([]string{"Corte y color"}, time.Date(2026, 10, 22, 11, 0, 0, 0, madrid)))
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.NotEmpty(t, res.PaymentLink)
}

func TestBook_CalendarFailureReleasesReservation(t *testing.T) {
	f := newFixture(t)
	f.calendar.CreateHook = func(h calendar.Hold) error {
		return errors.New("forbidden")
	}
	start := time.Date(2026, 10, 22, 11, 0, 0, 0, madrid)

	_, err := f.coord.Book(context.Background(), f.request([]string{"Corte y color"}, start))
	require.Error(t, err)
	assert.Equal(t, CodeTransactionFailed, CodeOf(err))
	assert.False(t, IsRetryable(err), "permanent calendar errors are not retryable")
	assert.Equal(t, CodeCalendarError, Cause(err).Code)
	assert.Zero(t, f.checkout.Issued())

	blocking, err := f.store.ListBlocking(context.Background(), f.stylist.ID, start, start.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, blocking)
}

func TestBook_FailedCalendarUndoKeepsEventForRelease(t *testing.T) {
	f := newFixture(t)
	f.checkout.CreateHook = func(req payments.Request) error { return errors.New("card declined") }
	f.calendar.DeleteHook = func(ref string) error { return errors.New("calendar down") }
	start := time.Date(2026, 10, 22, 11, 0, 0, 0, madrid)
	ctx := context.Background()

	_, err := f.coord.Book(ctx, f.request([]string{"Corte y color"}, start))
	require.Error(t, err)
	assert.Equal(t, CodePaymentError, Cause(err).Code)

	blocking, err := f.store.ListBlocking(ctx, f.stylist.ID, start, start.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, blocking, "the slot is free again")

	unreleased, err := f.store.ListUnreleasedHolds(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unreleased, 1)
	leftover := unreleased[0]
	assert.Equal(t, appointments.StatusCancelled, leftover.Status)
	assert.Equal(t, appointments.AbandonedReason, leftover.CancelReason)
	require.NotEmpty(t, leftover.CalendarEventRef)
	assert.Equal(t, 1, f.calendar.Len())

	f.calendar.DeleteHook = nil
	require.NoError(t, f.coord.Release(ctx, &leftover))
	assert.Zero(t, f.calendar.Len())
	unreleased, err = f.store.ListUnreleasedHolds(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unreleased)
}

func TestBook_CalendarConfirmFailureForFreeBooking(t *testing.T) {
	f := newFixture(t)
	f.calendar.ConfirmHook = func(ref string) error { return errors.New("not allowed") }
	start := time.Date(2026, 10, 22, 17, 0, 0, 0, madrid)

	_, err := f.coord.Book(context.Background(), f.request([]string{"Corte caballero"}, start))
	require.Error(t, err)
	assert.Equal(t, CodeCalendarError, Cause(err).Code)
	assert.Zero(t, f.calendar.Len())
}
