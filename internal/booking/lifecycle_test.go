package booking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/salon-booking-engine/internal/appointments"
	"github.com/wolfman30/salon-booking-engine/internal/events"
)

func bookPending(t *testing.T, f *fixture) *Result {
	t.Helper()
	res, err := f.coord.Book(context.Background(), f.request([]string{"Corte caballero"}, time.Date(2026, 10, 22, 17, 0, 0, 0, madrid)))
	require.NoError(t, err)
	require.Equal(t, appointments.StatusPending, res.Status)
	return res
}

func requestConfirmation(t *testing.T, f *fixture, id uuid.UUID) {
	t.Helper()
	_, err := f.coord.Transition(context.Background(), id, appointments.EventConfirmationRequested, "", events.NotificationConfirmationRequested)
	require.NoError(t, err)
}

func TestCancel_ReleasesCalendarAndNotifies(t *testing.T) {
	f := newFixture(t)
	res := bookPending(t, f)

	a, err := f.coord.Cancel(context.Background(), res.AppointmentID, "client called")
	require.NoError(t, err)
	assert.Equal(t, appointments.StatusCancelled, a.Status)
	assert.Equal(t, "client called", a.CancelReason)
	assert.Empty(t, a.CalendarEventRef)
	assert.Zero(t, f.calendar.Len())

	stored, err := f.coord.Get(context.Background(), res.AppointmentID)
	require.NoError(t, err)
	assert.Empty(t, stored.CalendarEventRef)

	cancelled := f.notifications(t, events.NotificationCancelled)
	require.Len(t, cancelled, 1)
	assert.Equal(t, "client called", cancelled[0].Reason)
}

func TestCancel_FailedCalendarDeleteKeepsRefForRetry(t *testing.T) {
	f := newFixture(t)
	res := bookPending(t, f)
	f.calendar.DeleteHook = func(ref string) error { return assert.AnError }

	a, err := f.coord.Cancel(context.Background(), res.AppointmentID, "")
	require.NoError(t, err)
	assert.Equal(t, "cancelled", a.CancelReason)

	stored, err := f.store.Get(context.Background(), res.AppointmentID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.CalendarEventRef, "release scan picks it up later")
}

func TestCancel_ProvisionalIsRejected(t *testing.T) {
	f := newFixture(t)
	res := bookWithAdvance(t, f)

	_, err := f.coord.Cancel(context.Background(), res.AppointmentID, "")
	assert.Equal(t, CodeInvalidTransition, CodeOf(err))
}

func TestCancel_UnknownAppointment(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.Cancel(context.Background(), uuid.New(), "")
	assert.Equal(t, CodeAppointmentNotFound, CodeOf(err))
}

func TestRecordReply(t *testing.T) {
	t.Run("affirmative within window confirms", func(t *testing.T) {
		f := newFixture(t)
		res := bookPending(t, f)
		requestConfirmation(t, f, res.AppointmentID)

		f.clock.Set(tuesdayMorning.Add(2 * time.Hour))
		a, err := f.coord.RecordReply(context.Background(), res.AppointmentID, true)
		require.NoError(t, err)
		assert.Equal(t, appointments.StatusConfirmed, a.Status)
		assert.NotNil(t, a.ConfirmedAt)
	})

	t.Run("affirmative before request is rejected", func(t *testing.T) {
		f := newFixture(t)
		res := bookPending(t, f)

		_, err := f.coord.RecordReply(context.Background(), res.AppointmentID, true)
		assert.Equal(t, CodeInvalidTransition, CodeOf(err))
	})

	t.Run("affirmative after window is rejected", func(t *testing.T) {
		f := newFixture(t)
		res := bookPending(t, f)
		requestConfirmation(t, f, res.AppointmentID)

		f.clock.Set(tuesdayMorning.Add(25 * time.Hour))
		_, err := f.coord.RecordReply(context.Background(), res.AppointmentID, true)
		assert.Equal(t, CodeInvalidTransition, CodeOf(err))
	})

	t.Run("negative cancels", func(t *testing.T) {
		f := newFixture(t)
		res := bookPending(t, f)
		requestConfirmation(t, f, res.AppointmentID)

		a, err := f.coord.RecordReply(context.Background(), res.AppointmentID, false)
		require.NoError(t, err)
		assert.Equal(t, appointments.StatusCancelled, a.Status)
		assert.Equal(t, "customer_declined", a.CancelReason)
		assert.Zero(t, f.calendar.Len())
	})
}

func TestRecordOutcome(t *testing.T) {
	f := newFixture(t)
	res := bookPending(t, f)
	requestConfirmation(t, f, res.AppointmentID)
	_, err := f.coord.RecordReply(context.Background(), res.AppointmentID, true)
	require.NoError(t, err)

	_, err = f.coord.RecordOutcome(context.Background(), res.AppointmentID, true)
	assert.Equal(t, CodeInvalidTransition, CodeOf(err), "cannot close before the start")

	f.clock.Set(res.StartAt.Add(time.Hour))
	a, err := f.coord.RecordOutcome(context.Background(), res.AppointmentID, false)
	require.NoError(t, err)
	assert.Equal(t, appointments.StatusNoShow, a.Status)
	assert.NotNil(t, a.CompletedAt)
}

func TestRelease_CancelsUnpaidPaymentRequest(t *testing.T) {
	f := newFixture(t)
	res := bookWithAdvance(t, f)

	f.clock.Set(res.ExpiresAt.Add(time.Second))
	a, err := f.coord.Transition(context.Background(), res.AppointmentID, appointments.EventHoldExpired, "", events.NotificationHoldExpired)
	require.NoError(t, err)

	require.NoError(t, f.coord.Release(context.Background(), a))
	assert.True(t, f.checkout.Cancelled(a.PaymentSessionRef))
	assert.Zero(t, f.calendar.Len())

	stored, err := f.store.Get(context.Background(), res.AppointmentID)
	require.NoError(t, err)
	assert.Empty(t, stored.CalendarEventRef)

	// Releasing again is harmless.
	require.NoError(t, f.coord.Release(context.Background(), stored))
}

func TestRelease_RejectsActiveAppointment(t *testing.T) {
	f := newFixture(t)
	res := bookPending(t, f)
	a, err := f.coord.Get(context.Background(), res.AppointmentID)
	require.NoError(t, err)
	assert.Error(t, f.coord.Release(context.Background(), a))
}
