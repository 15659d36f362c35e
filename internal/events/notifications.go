package events

import (
	"time"
)

// NotificationKind names a customer-facing situation the messaging layer must act on.
type NotificationKind string

const (
	NotificationHoldExpired           NotificationKind = "hold_expired"
	NotificationConfirmationRequested NotificationKind = "confirmation_requested"
	NotificationCancelledNoReply      NotificationKind = "cancelled_no_reply"
	NotificationCancelled             NotificationKind = "cancelled"
	NotificationPaymentAfterRelease   NotificationKind = "payment_after_release"
)

// NotificationNeededV1 is emitted whenever an appointment transition requires
// the customer to be told something. Wording is owned by the consumer.
type NotificationNeededV1 struct {
	Kind          NotificationKind `json:"kind"`
	AppointmentID string           `json:"appointment_id"`
	CustomerID    string           `json:"customer_id"`
	ResourceID    string           `json:"resource_id"`
	StartAt       time.Time        `json:"start_at"`
	Status        string           `json:"status"`
	Reason        string           `json:"reason,omitempty"`
	PaymentRef    string           `json:"payment_ref,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

// EventType implements CanonicalEvent.
func (n NotificationNeededV1) EventType() string {
	return "booking.notification." + string(n.Kind) + ".v1"
}

// Aggregate is the outbox aggregate key for the notification.
func (n NotificationNeededV1) Aggregate() string {
	return "appointment:" + n.AppointmentID
}

// OccurredTime stamps the envelope with the transition time rather than the write time.
func (n NotificationNeededV1) OccurredTime() time.Time {
	return n.OccurredAt
}
