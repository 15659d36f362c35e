package payments

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/wolfman30/salon-booking-engine/pkg/logging"
)

const maxWebhookBody = 1 << 20

// StripeWebhookHandler turns Stripe checkout events into payment confirmations.
type StripeWebhookHandler struct {
	webhookSecret string
	confirmer     Confirmer
	processed     processedTracker
	logger        *logging.Logger
}

// NewStripeWebhookHandler creates a new handler for Stripe webhooks. An empty
// secret disables signature verification and is only accepted outside production.
func NewStripeWebhookHandler(webhookSecret string, confirmer Confirmer, processed processedTracker, logger *logging.Logger) *StripeWebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &StripeWebhookHandler{
		webhookSecret: webhookSecret,
		confirmer:     confirmer,
		processed:     processed,
		logger:        logger,
	}
}

// Handle processes incoming Stripe webhook events.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	evt, err := h.constructEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("stripe webhook rejected", "error", err)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if evt.ID == "" {
		http.Error(w, "missing event id", http.StatusBadRequest)
		return
	}

	switch evt.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
	default:
		w.WriteHeader(http.StatusOK)
		return
	}

	if processed, err := h.processed.AlreadyProcessed(r.Context(), "stripe", evt.ID); err != nil {
		h.logger.Error("processed lookup failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	} else if processed {
		w.WriteHeader(http.StatusOK)
		return
	}

	var session stripe.CheckoutSession
	if evt.Data == nil || json.Unmarshal(evt.Data.Raw, &session) != nil {
		h.logger.Error("stripe webhook invalid checkout session payload", "event_id", evt.ID)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		// Delayed payment methods complete later with async_payment_succeeded.
		h.logger.Info("stripe checkout completed without payment", "event_id", evt.ID, "session_id", session.ID, "payment_status", session.PaymentStatus)
		w.WriteHeader(http.StatusOK)
		return
	}

	key := strings.TrimSpace(session.ClientReferenceID)
	if key == "" {
		key = strings.TrimSpace(session.Metadata["appointment_id"])
	}
	if key == "" {
		h.logger.Warn("stripe webhook missing correlation key", "event_id", evt.ID, "session_id", session.ID)
		// Acknowledge to prevent retries but can't progress workflow
		w.WriteHeader(http.StatusOK)
		return
	}

	paymentRef := session.ID
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		paymentRef = session.PaymentIntent.ID
	}

	if err := h.confirmer.Confirm(r.Context(), key, paymentRef); err != nil {
		if !errors.Is(err, ErrUnknownCorrelationKey) {
			h.logger.Error("payment confirmation failed", "error", err, "appointment_id", key, "event_id", evt.ID)
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		h.logger.Warn("payment for unknown appointment", "appointment_id", key, "payment_ref", paymentRef, "event_id", evt.ID)
	}

	if _, err := h.processed.MarkProcessed(r.Context(), "stripe", evt.ID); err != nil {
		h.logger.Error("failed to record processed event", "error", err)
	}
	w.WriteHeader(http.StatusOK)
}

func (h *StripeWebhookHandler) constructEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	if h.webhookSecret == "" {
		// development only
		var evt stripe.Event
		err := json.Unmarshal(payload, &evt)
		return evt, err
	}
	return webhook.ConstructEventWithOptions(payload, sigHeader, h.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}
