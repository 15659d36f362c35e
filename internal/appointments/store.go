package appointments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/salon-booking-engine/internal/events"
)

var (
	ErrNotFound = errors.New("appointments: not found")
	// ErrSlotTaken means another active appointment overlaps the requested interval.
	ErrSlotTaken = errors.New("appointments: slot taken")
	// ErrResourceUnavailable means the stylist row is missing or inactive.
	ErrResourceUnavailable = errors.New("appointments: resource unavailable")
	// ErrNoChange aborts a Mutate without writing anything.
	ErrNoChange = errors.New("appointments: no change")
)

// AbandonedReason is the cancel reason recorded by Abandon.
const AbandonedReason = "booking_failed"

// DefaultHoldTimeout bounds a reservation stored without an explicit hold
// expiry, so every PROVISIONAL row is eventually picked up by the hold-expiry scan.
const DefaultHoldTimeout = 4 * time.Hour

// MutateFunc edits a locked appointment in place and returns the notifications
// to emit atomically with the change. Returning an error rolls back.
type MutateFunc func(a *Appointment) ([]events.NotificationNeededV1, error)

// PaymentRequest is what the coordinator stores after requesting a payment link.
type PaymentRequest struct {
	Link          string
	SessionRef    string
	HoldExpiresAt time.Time
}

// Store is the single source of truth for appointment state.
type Store interface {
	// Reserve inserts a PROVISIONAL appointment if no active appointment on the
	// same resource overlaps its buffered interval. Returns ErrSlotTaken otherwise.
	// A nil HoldExpiresAt is set to creation time plus DefaultHoldTimeout.
	Reserve(ctx context.Context, a *Appointment) error
	// Discard removes a reservation created earlier in the same booking attempt.
	Discard(ctx context.Context, id uuid.UUID) error
	// Abandon cancels a PROVISIONAL reservation whose booking attempt failed but
	// whose calendar event could not be removed. The event ref is kept so the
	// calendar release scan can retry the delete.
	Abandon(ctx context.Context, id uuid.UUID, calendarRef string) error
	AttachCalendarEvent(ctx context.Context, id uuid.UUID, ref string) error
	ClearCalendarEvent(ctx context.Context, id uuid.UUID) error
	AttachPaymentRequest(ctx context.Context, id uuid.UUID, req PaymentRequest) error
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// Mutate locks the row, runs fn and persists the result together with its notifications.
	Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*Appointment, error)

	// ListBlocking returns active appointments on resourceID overlapping [from, to).
	ListBlocking(ctx context.Context, resourceID uuid.UUID, from, to time.Time) ([]Appointment, error)
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]Appointment, error)
	ListConfirmationDue(ctx context.Context, startFrom, startTo time.Time, limit int) ([]Appointment, error)
	ListReplyOverdue(ctx context.Context, requestedBefore time.Time, limit int) ([]Appointment, error)
	// ListUnreleasedHolds returns terminal appointments still holding a calendar event.
	ListUnreleasedHolds(ctx context.Context, limit int) ([]Appointment, error)
}

// Notify builds a notification for a in its current state.
func Notify(a *Appointment, kind events.NotificationKind, now time.Time) events.NotificationNeededV1 {
	return events.NotificationNeededV1{
		Kind:          kind,
		AppointmentID: a.ID.String(),
		CustomerID:    a.CustomerID.String(),
		ResourceID:    a.ResourceID.String(),
		StartAt:       a.StartAt,
		Status:        string(a.Status),
		Reason:        a.CancelReason,
		PaymentRef:    a.PaymentRef,
		OccurredAt:    now.UTC(),
	}
}
