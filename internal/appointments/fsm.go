package appointments

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is something that can move an appointment between states.
type Event string

const (
	EventPaymentConfirmed      Event = "payment_confirmed"
	EventNoChargeDue           Event = "no_charge_due"
	EventHoldExpired           Event = "hold_expired"
	EventConfirmationRequested Event = "confirmation_requested"
	EventCustomerConfirmed     Event = "customer_confirmed"
	EventReplyTimeout          Event = "reply_timeout"
	EventCancel                Event = "cancel"
	EventAttended              Event = "attended"
	EventNoShow                Event = "no_show"
)

var (
	// ErrIllegalTransition means the event has no meaning in the current state.
	ErrIllegalTransition = errors.New("appointments: illegal transition")
	// ErrGuardFailed means the transition exists but its condition does not hold.
	ErrGuardFailed = errors.New("appointments: transition guard failed")
)

// TransitionError describes a rejected transition.
type TransitionError struct {
	From   Status
	Event  Event
	Reason string
	kind   error
}

func (e *TransitionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %s on %s", e.kind, e.Event, e.From)
	}
	return fmt.Sprintf("%s: %s on %s: %s", e.kind, e.Event, e.From, e.Reason)
}

func (e *TransitionError) Unwrap() error { return e.kind }

// Facts is everything a guard may look at. It is built from the stored
// appointment plus the data carried by the event.
type Facts struct {
	Now                     time.Time
	AppointmentID           uuid.UUID
	CorrelationKey          string
	RecordedPaymentRef      string
	AdvanceCents            int64
	HoldExpiresAt           *time.Time
	ConfirmationRequestedAt *time.Time
	ReplyWindow             time.Duration
	StartAt                 time.Time
}

type guard func(Facts) string

type rule struct {
	to    Status
	guard guard
}

var transitions = map[Status]map[Event]rule{
	StatusProvisional: {
		EventPaymentConfirmed: {to: StatusPending, guard: correlationMatches},
		EventNoChargeDue:      {to: StatusPending, guard: nothingToCharge},
		EventHoldExpired:      {to: StatusExpired, guard: holdLapsedUnpaid},
	},
	StatusPending: {
		EventConfirmationRequested: {to: StatusPending, guard: confirmationNotYetRequested},
		EventCustomerConfirmed:     {to: StatusConfirmed, guard: withinReplyWindow},
		EventReplyTimeout:          {to: StatusCancelled, guard: replyWindowElapsed},
		EventCancel:                {to: StatusCancelled},
	},
	StatusConfirmed: {
		EventCancel:   {to: StatusCancelled},
		EventAttended: {to: StatusCompleted, guard: startReached},
		EventNoShow:   {to: StatusNoShow, guard: startReached},
	},
}

// Next returns the state reached by applying ev in state from. It performs
// no I/O and never mutates anything.
func Next(from Status, ev Event, f Facts) (Status, error) {
	r, ok := transitions[from][ev]
	if !ok {
		return from, &TransitionError{From: from, Event: ev, kind: ErrIllegalTransition}
	}
	if r.guard != nil {
		if reason := r.guard(f); reason != "" {
			return from, &TransitionError{From: from, Event: ev, Reason: reason, kind: ErrGuardFailed}
		}
	}
	return r.to, nil
}

// Input carries the event payload for Apply.
type Input struct {
	Now            time.Time
	CorrelationKey string
	PaymentRef     string
	ReplyWindow    time.Duration
	Reason         string
}

// FactsFor builds guard facts from a stored appointment and an event payload.
func FactsFor(a *Appointment, in Input) Facts {
	return Facts{
		Now:                     in.Now,
		AppointmentID:           a.ID,
		CorrelationKey:          in.CorrelationKey,
		RecordedPaymentRef:      a.PaymentRef,
		AdvanceCents:            a.AdvanceCents,
		HoldExpiresAt:           a.HoldExpiresAt,
		ConfirmationRequestedAt: a.ConfirmationRequestedAt,
		ReplyWindow:             in.ReplyWindow,
		StartAt:                 a.StartAt,
	}
}

// Apply runs the transition on a and stamps the lifecycle fields it implies.
// On error a is left untouched.
func Apply(a *Appointment, ev Event, in Input) error {
	to, err := Next(a.Status, ev, FactsFor(a, in))
	if err != nil {
		return err
	}
	now := in.Now.UTC()
	switch ev {
	case EventPaymentConfirmed:
		a.PaymentRef = in.PaymentRef
	case EventConfirmationRequested:
		a.ConfirmationRequestedAt = timePtr(now)
	case EventCustomerConfirmed:
		a.ConfirmedAt = timePtr(now)
	case EventHoldExpired:
		a.ExpiredAt = timePtr(now)
	case EventReplyTimeout, EventCancel:
		a.CancelledAt = timePtr(now)
		a.CancelReason = in.Reason
	case EventAttended, EventNoShow:
		a.CompletedAt = timePtr(now)
	}
	a.Status = to
	a.UpdatedAt = now
	return nil
}

func correlationMatches(f Facts) string {
	if f.CorrelationKey != f.AppointmentID.String() {
		return "correlation key does not match appointment"
	}
	return ""
}

func nothingToCharge(f Facts) string {
	if f.AdvanceCents != 0 {
		return "advance payment is due"
	}
	return ""
}

func holdLapsedUnpaid(f Facts) string {
	if f.RecordedPaymentRef != "" {
		return "payment already recorded"
	}
	if f.HoldExpiresAt == nil || f.Now.Before(*f.HoldExpiresAt) {
		return "hold has not expired"
	}
	return ""
}

func confirmationNotYetRequested(f Facts) string {
	if f.ConfirmationRequestedAt != nil {
		return "confirmation already requested"
	}
	return ""
}

func withinReplyWindow(f Facts) string {
	if f.ConfirmationRequestedAt == nil {
		return "confirmation was never requested"
	}
	if !f.Now.Before(f.ConfirmationRequestedAt.Add(f.ReplyWindow)) {
		return "reply window elapsed"
	}
	return ""
}

func replyWindowElapsed(f Facts) string {
	if f.ConfirmationRequestedAt == nil {
		return "confirmation was never requested"
	}
	if f.Now.Before(f.ConfirmationRequestedAt.Add(f.ReplyWindow)) {
		return "reply window still open"
	}
	return ""
}

func startReached(f Facts) string {
	if f.Now.Before(f.StartAt) {
		return "appointment has not started"
	}
	return ""
}
