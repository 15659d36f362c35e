package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/salon-booking-engine/internal/appointments"
	"github.com/wolfman30/salon-booking-engine/internal/events"
)

// Get returns the appointment with id.
func (c *Coordinator) Get(ctx context.Context, id uuid.UUID) (*appointments.Appointment, error) {
	a, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, lifecycleError("get", err)
	}
	return a, nil
}

// Cancel cancels a booked appointment and releases its calendar hold.
func (c *Coordinator) Cancel(ctx context.Context, id uuid.UUID, reason string) (*appointments.Appointment, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("booking.appointment_id", id.String()))

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled"
	}
	a, err := c.transition(ctx, id, appointments.EventCancel, appointments.Input{Reason: reason}, events.NotificationCancelled)
	if err != nil {
		span.RecordError(err)
		return nil, lifecycleError("cancel", err)
	}
	if err := c.Release(ctx, a); err != nil {
		c.logger.Error("failed to release cancelled appointment", "appointment_id", id.String(), "error", err)
	}
	c.logger.Info("appointment cancelled", "appointment_id", id.String(), "reason", reason)
	return a, nil
}

// RecordReply applies the customer's answer to the confirmation request. A
// negative answer cancels the appointment.
func (c *Coordinator) RecordReply(ctx context.Context, id uuid.UUID, affirmative bool) (*appointments.Appointment, error) {
	if !affirmative {
		return c.Cancel(ctx, id, "customer_declined")
	}
	a, err := c.transition(ctx, id, appointments.EventCustomerConfirmed, appointments.Input{}, "")
	if err != nil {
		return nil, lifecycleError("record reply", err)
	}
	c.logger.Info("attendance confirmed", "appointment_id", id.String())
	return a, nil
}

// RecordOutcome closes a confirmed appointment once its start has passed.
func (c *Coordinator) RecordOutcome(ctx context.Context, id uuid.UUID, attended bool) (*appointments.Appointment, error) {
	ev := appointments.EventNoShow
	if attended {
		ev = appointments.EventAttended
	}
	a, err := c.transition(ctx, id, ev, appointments.Input{}, "")
	if err != nil {
		return nil, lifecycleError("record outcome", err)
	}
	return a, nil
}

// Release frees the external resources still held by a terminal
// appointment: an unpaid payment request and the calendar event. It is
// idempotent and safe to call again after a partial failure.
func (c *Coordinator) Release(ctx context.Context, a *appointments.Appointment) error {
	if !a.Status.Terminal() {
		return fmt.Errorf("booking: release: appointment %s is %s", a.ID, a.Status)
	}
	ctx = context.WithoutCancel(ctx)

	if a.Status == appointments.StatusExpired && a.PaymentSessionRef != "" && a.PaymentRef == "" {
		if err := c.call(ctx, "payments", "cancel_request", func(ctx context.Context) error {
			return c.payments.CancelPaymentRequest(ctx, a.PaymentSessionRef)
		}); err != nil {
			c.logger.Warn("failed to cancel payment request", "appointment_id", a.ID.String(), "error", err)
		}
	}

	if a.CalendarEventRef == "" {
		return nil
	}
	if err := c.call(ctx, "calendar", "delete", func(ctx context.Context) error {
		return c.calendar.Delete(ctx, a.CalendarEventRef)
	}); err != nil {
		return fmt.Errorf("booking: release calendar event: %w", err)
	}
	if err := c.store.ClearCalendarEvent(ctx, a.ID); err != nil {
		return fmt.Errorf("booking: clear calendar event: %w", err)
	}
	a.CalendarEventRef = ""
	return nil
}

// Transition applies ev to the appointment under the store's row lock and
// emits kind, if set, in the same write. Workers use it for timed events.
func (c *Coordinator) Transition(ctx context.Context, id uuid.UUID, ev appointments.Event, reason string, kind events.NotificationKind) (*appointments.Appointment, error) {
	return c.transition(ctx, id, ev, appointments.Input{Reason: reason}, kind)
}

func (c *Coordinator) transition(ctx context.Context, id uuid.UUID, ev appointments.Event, in appointments.Input, kind events.NotificationKind) (*appointments.Appointment, error) {
	if in.Now.IsZero() {
		in.Now = c.now()
	}
	if in.ReplyWindow == 0 {
		in.ReplyWindow = c.opts.ReplyWindow
	}
	a, err := c.store.Mutate(ctx, id, func(a *appointments.Appointment) ([]events.NotificationNeededV1, error) {
		if err := appointments.Apply(a, ev, in); err != nil {
			return nil, err
		}
		if kind == "" {
			return nil, nil
		}
		return []events.NotificationNeededV1{appointments.Notify(a, kind, in.Now)}, nil
	})
	if err != nil {
		return nil, err
	}
	c.metrics.ObserveTransition(string(ev), string(a.Status))
	return a, nil
}

func lifecycleError(op string, err error) error {
	var te *appointments.TransitionError
	switch {
	case errors.Is(err, appointments.ErrNotFound):
		return newError(CodeAppointmentNotFound, false, err)
	case errors.As(err, &te):
		return newError(CodeInvalidTransition, false, err)
	}
	return fmt.Errorf("booking: %s: %w", op, err)
}
