package payments

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/salon-booking-engine/pkg/logging"
)

// FakePaymentsHandler exposes a tiny demo UI to "complete" advances without Stripe.
// Only mount this handler when ALLOW_FAKE_PAYMENTS=true.
type FakePaymentsHandler struct {
	checkout  *FakeCheckout
	confirmer Confirmer
	processed processedTracker
	logger    *logging.Logger
}

func NewFakePaymentsHandler(checkout *FakeCheckout, confirmer Confirmer, processed processedTracker, logger *logging.Logger) *FakePaymentsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &FakePaymentsHandler{
		checkout:  checkout,
		confirmer: confirmer,
		processed: processed,
		logger:    logger,
	}
}

func (h *FakePaymentsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{appointmentID}", h.HandleCheckout)
	r.Post("/{appointmentID}/complete", h.HandleComplete)
	r.Get("/{appointmentID}/success", h.HandleSuccess)
	return r
}

func (h *FakePaymentsHandler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "appointmentID")
	if !ok {
		return
	}
	req, found := h.checkout.Lookup(id.String())
	if !found {
		http.Error(w, "payment not found", http.StatusNotFound)
		return
	}

	amount := float64(req.AmountCents) / 100.0
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>Demo Advance Checkout</title>
    <style>
      body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Ubuntu,Cantarell,Noto Sans,sans-serif;max-width:680px;margin:40px auto;padding:0 16px;}
      .card{border:1px solid #e5e7eb;border-radius:12px;padding:18px;}
      .btn{display:inline-block;background:#111827;color:#fff;padding:12px 16px;border-radius:10px;text-decoration:none;border:0;cursor:pointer;}
      .muted{color:#6b7280;font-size:14px;}
      code{background:#f3f4f6;padding:2px 6px;border-radius:6px;}
    </style>
  </head>
  <body>
    <h1>Demo Advance Checkout</h1>
    <div class="card">
      <p><strong>%s</strong></p>
      <p><strong>Amount:</strong> %.2f %s</p>
      <p class="muted">This is a demo-only payment page (no real payment is processed).</p>
      <form method="POST" action="/payments/fake/%s/complete">
        <button class="btn" type="submit">Pay Advance</button>
      </form>
      <p class="muted">Appointment: <code>%s</code></p>
    </div>
  </body>
</html>`, html.EscapeString(req.Description), amount, html.EscapeString(strings.ToUpper(req.Currency)), id, id)
}

func (h *FakePaymentsHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "appointmentID")
	if !ok {
		return
	}
	if err := h.completePayment(r.Context(), id); err != nil {
		if errors.Is(err, ErrUnknownCorrelationKey) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		h.logger.Error("fake payment completion failed", "error", err, "appointment_id", id)
		http.Error(w, "failed to complete payment", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, fmt.Sprintf("/payments/fake/%s/success", id), http.StatusSeeOther)
}

func (h *FakePaymentsHandler) HandleSuccess(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "appointmentID")
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!doctype html>
<html>
  <head><meta charset="utf-8" /><title>Advance Paid</title></head>
  <body style="font-family:system-ui,sans-serif;max-width:680px;margin:40px auto;padding:0 16px;">
    <h1>Advance Paid</h1>
    <p>Your demo advance is marked as paid. Your appointment is booked.</p>
    <p>Appointment: <code>%s</code></p>
  </body>
</html>`, id)
}

func (h *FakePaymentsHandler) completePayment(ctx context.Context, id uuid.UUID) error {
	if h.confirmer == nil {
		return fmt.Errorf("payments: fake handler missing confirmer")
	}
	paymentRef := "fake:" + id.String()
	if h.processed != nil {
		already, err := h.processed.AlreadyProcessed(ctx, "fake", paymentRef)
		if err == nil && already {
			return nil
		}
	}
	if err := h.confirmer.Confirm(ctx, id.String(), paymentRef); err != nil {
		return fmt.Errorf("payments: fake confirm: %w", err)
	}
	if h.processed != nil {
		if _, err := h.processed.MarkProcessed(ctx, "fake", paymentRef); err != nil {
			h.logger.Warn("payments: failed to record processed fake payment", "error", err, "appointment_id", id)
		}
	}
	return nil
}

func parseUUIDParam(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, key))
	if raw == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return parsed, true
}
