package payments

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/salon-booking-engine/internal/retry"
	"github.com/wolfman30/salon-booking-engine/pkg/logging"
)

var stripeTracer = otel.Tracer("booking.internal.payments.stripe")

// Stripe refuses checkout sessions that expire sooner than this.
const stripeMinSessionLifetime = 30 * time.Minute

type checkoutSessions interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Expire(id string, params *stripe.CheckoutSessionExpireParams) (*stripe.CheckoutSession, error)
}

// StripeCheckout issues Stripe Checkout Sessions for appointment advances.
type StripeCheckout struct {
	sessions   checkoutSessions
	successURL string
	cancelURL  string
	currency   string
	logger     *logging.Logger
	now        func() time.Time
}

// NewStripeCheckout creates a new Stripe checkout gateway.
func NewStripeCheckout(secretKey, successURL, cancelURL, currency string, logger *logging.Logger) *StripeCheckout {
	sessions := &checkoutsession.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey}
	return newStripeCheckout(sessions, successURL, cancelURL, currency, logger)
}

func newStripeCheckout(sessions checkoutSessions, successURL, cancelURL, currency string, logger *logging.Logger) *StripeCheckout {
	if logger == nil {
		logger = logging.Default()
	}
	if currency == "" {
		currency = "usd"
	}
	return &StripeCheckout{
		sessions:   sessions,
		successURL: successURL,
		cancelURL:  cancelURL,
		currency:   strings.ToLower(currency),
		logger:     logger,
		now:        time.Now,
	}
}

func (s *StripeCheckout) CreatePaymentRequest(ctx context.Context, req Request) (*Link, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.create_checkout_session")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.appointment_id", req.CorrelationKey),
		attribute.Int64("booking.amount_cents", req.AmountCents),
	)

	if req.CorrelationKey == "" {
		return nil, fmt.Errorf("payments: stripe checkout requires correlation key")
	}
	if req.AmountCents <= 0 {
		return nil, fmt.Errorf("payments: stripe checkout requires a positive amount")
	}
	currency := req.Currency
	if currency == "" {
		currency = s.currency
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "Appointment advance"
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.CorrelationKey),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(req.AmountCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(description),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"appointment_id": req.CorrelationKey},
		},
	}
	if s.successURL != "" {
		params.SuccessURL = stripe.String(s.successURL)
	}
	if s.cancelURL != "" {
		params.CancelURL = stripe.String(s.cancelURL)
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	expiresAt := req.ExpiresAt
	if !expiresAt.IsZero() {
		if floor := s.now().Add(stripeMinSessionLifetime + time.Minute); expiresAt.Before(floor) {
			expiresAt = floor
		}
		params.ExpiresAt = stripe.Int64(expiresAt.Unix())
	}
	params.AddMetadata("appointment_id", req.CorrelationKey)
	params.Context = ctx
	params.IdempotencyKey = stripe.String("appointment-advance-" + req.CorrelationKey)

	sess, err := s.sessions.New(params)
	if err != nil {
		return nil, classifyStripe(fmt.Errorf("payments: stripe create session: %w", err))
	}
	if sess.URL == "" {
		return nil, fmt.Errorf("payments: stripe response missing checkout url")
	}
	link := &Link{URL: sess.URL, Ref: sess.ID, ExpiresAt: req.ExpiresAt}
	if sess.ExpiresAt > 0 && req.ExpiresAt.IsZero() {
		link.ExpiresAt = time.Unix(sess.ExpiresAt, 0).UTC()
	}
	return link, nil
}

func (s *StripeCheckout) CancelPaymentRequest(ctx context.Context, ref string) error {
	ctx, span := stripeTracer.Start(ctx, "stripe.expire_checkout_session")
	defer span.End()
	span.SetAttributes(attribute.String("booking.payment_session_ref", ref))

	if ref == "" {
		return nil
	}
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	params.IdempotencyKey = stripe.String("expire-" + ref)
	_, err := s.sessions.Expire(ref, params)
	if err == nil {
		return nil
	}
	var serr *stripe.Error
	if errors.As(err, &serr) && (serr.HTTPStatusCode == http.StatusNotFound || serr.HTTPStatusCode == http.StatusBadRequest) {
		// Already expired or completed.
		s.logger.Warn("stripe checkout session not open", "session_id", ref, "error", serr.Msg)
		return nil
	}
	return classifyStripe(fmt.Errorf("payments: stripe expire session: %w", err))
}

func classifyStripe(err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		if serr.HTTPStatusCode == http.StatusTooManyRequests || serr.HTTPStatusCode >= 500 {
			return retry.Transient(err)
		}
		return err
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return retry.Transient(err)
	}
	return err
}
