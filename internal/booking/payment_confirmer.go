package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/salon-booking-engine/internal/appointments"
	"github.com/wolfman30/salon-booking-engine/internal/events"
	"github.com/wolfman30/salon-booking-engine/internal/payments"
)

var _ payments.Confirmer = (*Coordinator)(nil)

// Confirm records a completed advance payment. Only a PROVISIONAL
// appointment moves; later deliveries of the same payment are no-ops, and a
// payment that lands after the hold was released is surfaced as a
// payment_after_release notification so it can be refunded.
func (c *Coordinator) Confirm(ctx context.Context, correlationKey, paymentRef string) error {
	ctx, span := bookingTracer.Start(ctx, "booking.confirm_payment")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.appointment_id", correlationKey),
		attribute.String("booking.payment_ref", paymentRef),
	)

	id, err := uuid.Parse(correlationKey)
	if err != nil {
		return fmt.Errorf("%w: %q", payments.ErrUnknownCorrelationKey, correlationKey)
	}
	log := c.logger.With("appointment_id", id.String(), "payment_ref", paymentRef)

	now := c.now()
	var released bool
	appt, err := c.store.Mutate(ctx, id, func(a *appointments.Appointment) ([]events.NotificationNeededV1, error) {
		switch a.Status {
		case appointments.StatusProvisional:
			return nil, appointments.Apply(a, appointments.EventPaymentConfirmed, appointments.Input{
				Now:            now,
				CorrelationKey: correlationKey,
				PaymentRef:     paymentRef,
			})
		case appointments.StatusExpired, appointments.StatusCancelled:
			if a.PaymentRef == paymentRef {
				return nil, appointments.ErrNoChange
			}
			a.PaymentRef = paymentRef
			a.UpdatedAt = now.UTC()
			released = true
			return []events.NotificationNeededV1{appointments.Notify(a, events.NotificationPaymentAfterRelease, now)}, nil
		default:
			return nil, appointments.ErrNoChange
		}
	})
	switch {
	case errors.Is(err, appointments.ErrNotFound):
		return fmt.Errorf("%w: %s", payments.ErrUnknownCorrelationKey, correlationKey)
	case errors.Is(err, appointments.ErrNoChange):
		log.Info("payment already applied", "status", string(appt.Status))
		return nil
	case err != nil:
		span.RecordError(err)
		return fmt.Errorf("booking: confirm payment: %w", err)
	}

	if released {
		log.Warn("payment received for released appointment", "status", string(appt.Status))
		return nil
	}
	c.metrics.ObserveTransition(string(appointments.EventPaymentConfirmed), string(appt.Status))

	if appt.CalendarEventRef != "" {
		// The booking stands even if the calendar keeps the provisional look.
		if err := c.call(ctx, "calendar", "mark_confirmed", func(ctx context.Context) error {
			return c.calendar.MarkConfirmed(ctx, appt.CalendarEventRef)
		}); err != nil {
			log.Error("failed to mark calendar event confirmed", "error", err)
		}
	}
	log.Info("advance payment confirmed", "status", string(appt.Status))
	return nil
}
