package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wolfman30/salon-booking-engine/internal/availability"
	"github.com/wolfman30/salon-booking-engine/internal/booking"
	"github.com/wolfman30/salon-booking-engine/internal/catalog"
	"github.com/wolfman30/salon-booking-engine/pkg/logging"
)

// errorResponse is the body of every non-2xx API response.
type errorResponse struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Retryable  bool     `json:"retryable"`
	Candidates []string `json:"candidates,omitempty"`
}

var statusByCode = map[booking.Code]int{
	booking.CodeInvalidRequest:       http.StatusBadRequest,
	booking.CodeServiceNotFound:      http.StatusUnprocessableEntity,
	booking.CodeServiceAmbiguous:     http.StatusUnprocessableEntity,
	booking.CodeCategoryMismatch:     http.StatusUnprocessableEntity,
	booking.CodeDateTooSoon:          http.StatusUnprocessableEntity,
	booking.CodeOutsideBusinessHours: http.StatusUnprocessableEntity,
	booking.CodeResourceNotFound:     http.StatusNotFound,
	booking.CodeAppointmentNotFound:  http.StatusNotFound,
	booking.CodeSlotTaken:            http.StatusConflict,
	booking.CodeInvalidTransition:    http.StatusConflict,
	booking.CodeCalendarError:        http.StatusBadGateway,
	booking.CodePaymentError:         http.StatusBadGateway,
	booking.CodeTransactionFailed:    http.StatusBadGateway,
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeError maps domain errors to HTTP. Anything unrecognised is logged
// and reported as INTERNAL without leaking details.
func writeError(w http.ResponseWriter, logger *logging.Logger, err error) {
	var amb *catalog.AmbiguousError
	if errors.As(err, &amb) {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Code:       string(booking.CodeServiceAmbiguous),
			Message:    err.Error(),
			Candidates: amb.Candidates,
		})
		return
	}

	if code := booking.CodeOf(err); code != "" {
		status, ok := statusByCode[code]
		if !ok {
			status = http.StatusInternalServerError
		}
		if code == booking.CodeTransactionFailed && booking.IsRetryable(err) {
			status = http.StatusServiceUnavailable
		}
		if status >= http.StatusInternalServerError {
			logger.Error("booking request failed", "code", string(code), "error", err)
		}
		writeJSON(w, status, errorResponse{Code: string(code), Message: err.Error(), Retryable: booking.IsRetryable(err)})
		return
	}

	switch {
	case errors.Is(err, availability.ErrClosed):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Code: "CLOSED", Message: err.Error()})
	case errors.Is(err, availability.ErrFullyBooked):
		writeJSON(w, http.StatusConflict, errorResponse{Code: "FULLY_BOOKED", Message: err.Error()})
	case errors.Is(err, availability.ErrNoResources):
		writeJSON(w, http.StatusNotFound, errorResponse{Code: string(booking.CodeResourceNotFound), Message: err.Error()})
	case errors.Is(err, catalog.ErrServiceNotFound):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Code: string(booking.CodeServiceNotFound), Message: err.Error()})
	case errors.Is(err, catalog.ErrCategoryMismatch):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Code: string(booking.CodeCategoryMismatch), Message: err.Error()})
	default:
		logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Code: "INTERNAL", Message: "internal error", Retryable: true})
	}
}
