// Package payments is the payment collaborator: it issues payment links for
// appointment advances and turns gateway callbacks into payment confirmations.
package payments

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownCorrelationKey is returned by a Confirmer when no appointment
// matches the key carried by a payment.
var ErrUnknownCorrelationKey = errors.New("payments: unknown correlation key")

// Request asks the gateway for a payment link.
type Request struct {
	// CorrelationKey is echoed back on completion. It is the appointment id.
	CorrelationKey string
	AmountCents    int64
	Currency       string
	Description    string
	CustomerEmail  string
	ExpiresAt      time.Time
}

// Link is an issued payment request.
type Link struct {
	URL       string
	Ref       string
	ExpiresAt time.Time
}

// Gateway is implemented by StripeCheckout and FakeCheckout.
type Gateway interface {
	CreatePaymentRequest(ctx context.Context, req Request) (*Link, error)
	// CancelPaymentRequest invalidates an unpaid link. Cancelling an already
	// closed request is not an error.
	CancelPaymentRequest(ctx context.Context, ref string) error
}

// Confirmer receives completed payments.
type Confirmer interface {
	Confirm(ctx context.Context, correlationKey, paymentRef string) error
}

type processedTracker interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}
