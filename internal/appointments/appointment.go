// Package appointments holds the appointment record, its lifecycle state
// machine and the stores that persist it.
package appointments

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusProvisional Status = "PROVISIONAL"
	StatusPending     Status = "PENDING"
	StatusConfirmed   Status = "CONFIRMED"
	StatusCompleted   Status = "COMPLETED"
	StatusCancelled   Status = "CANCELLED"
	StatusExpired     Status = "EXPIRED"
	StatusNoShow      Status = "NO_SHOW"
)

// AllStatuses lists every state in lifecycle order.
var AllStatuses = []Status{
	StatusProvisional, StatusPending, StatusConfirmed,
	StatusCompleted, StatusCancelled, StatusExpired, StatusNoShow,
}

// ActiveStatuses are the states that occupy a resource's time.
var ActiveStatuses = []Status{StatusProvisional, StatusPending, StatusConfirmed}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired, StatusNoShow:
		return true
	}
	return false
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusProvisional, StatusPending, StatusConfirmed,
		StatusCompleted, StatusCancelled, StatusExpired, StatusNoShow:
		return true
	}
	return false
}

// Appointment is a booked time slot for one customer with one stylist.
type Appointment struct {
	ID              uuid.UUID   `json:"id"`
	CustomerID      uuid.UUID   `json:"customer_id"`
	ResourceID      uuid.UUID   `json:"resource_id"`
	ServiceIDs      []uuid.UUID `json:"service_ids"`
	StartAt         time.Time   `json:"start_at"`
	DurationMinutes int         `json:"duration_minutes"`
	BufferMinutes   int         `json:"buffer_minutes"`
	TotalPriceCents int64       `json:"total_price_cents"`
	AdvanceCents    int64       `json:"advance_cents"`
	Status          Status      `json:"status"`

	CalendarEventRef  string `json:"calendar_event_ref,omitempty"`
	PaymentLink       string `json:"payment_link,omitempty"`
	PaymentSessionRef string `json:"payment_session_ref,omitempty"`
	PaymentRef        string `json:"payment_ref,omitempty"`

	HoldExpiresAt           *time.Time `json:"hold_expires_at,omitempty"`
	ConfirmationRequestedAt *time.Time `json:"confirmation_requested_at,omitempty"`
	ConfirmedAt             *time.Time `json:"confirmed_at,omitempty"`
	CancelledAt             *time.Time `json:"cancelled_at,omitempty"`
	ExpiredAt               *time.Time `json:"expired_at,omitempty"`
	CompletedAt             *time.Time `json:"completed_at,omitempty"`
	CancelReason            string     `json:"cancel_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EndAt is when the service itself finishes.
func (a *Appointment) EndAt() time.Time {
	return a.StartAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// BlockedUntil is the end of the exclusivity interval, buffer included.
func (a *Appointment) BlockedUntil() time.Time {
	return a.EndAt().Add(time.Duration(a.BufferMinutes) * time.Minute)
}

// Blocks reports whether a occupies any part of [start, end) on its resource.
func (a *Appointment) Blocks(start, end time.Time) bool {
	if a.Status.Terminal() {
		return false
	}
	return a.StartAt.Before(end) && start.Before(a.BlockedUntil())
}

// Clone returns a deep copy safe to hand out of a store.
func (a *Appointment) Clone() *Appointment {
	if a == nil {
		return nil
	}
	cp := *a
	cp.ServiceIDs = append([]uuid.UUID(nil), a.ServiceIDs...)
	cp.HoldExpiresAt = cloneTime(a.HoldExpiresAt)
	cp.ConfirmationRequestedAt = cloneTime(a.ConfirmationRequestedAt)
	cp.ConfirmedAt = cloneTime(a.ConfirmedAt)
	cp.CancelledAt = cloneTime(a.CancelledAt)
	cp.ExpiredAt = cloneTime(a.ExpiredAt)
	cp.CompletedAt = cloneTime(a.CompletedAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}
