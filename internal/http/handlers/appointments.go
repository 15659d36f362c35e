package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/salon-booking-engine/internal/appointments"
	"github.com/wolfman30/salon-booking-engine/internal/booking"
	"github.com/wolfman30/salon-booking-engine/pkg/logging"
)

const maxRequestBody = 64 << 10

type bookingService interface {
	Book(ctx context.Context, req booking.Request) (*booking.Result, error)
	Get(ctx context.Context, id uuid.UUID) (*appointments.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*appointments.Appointment, error)
	RecordReply(ctx context.Context, id uuid.UUID, affirmative bool) (*appointments.Appointment, error)
	RecordOutcome(ctx context.Context, id uuid.UUID, attended bool) (*appointments.Appointment, error)
}

// AppointmentsHandler exposes booking and the lifecycle operations.
type AppointmentsHandler struct {
	service bookingService
	logger  *logging.Logger
}

func NewAppointmentsHandler(service bookingService, logger *logging.Logger) *AppointmentsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AppointmentsHandler{service: service, logger: logger}
}

// Routes mounts under /v1/appointments.
func (h *AppointmentsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Route("/{appointmentID}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Post("/cancel", h.Cancel)
		r.Post("/reply", h.Reply)
		r.Post("/outcome", h.Outcome)
	})
	return r
}

type createAppointmentRequest struct {
	CustomerContact string    `json:"customer_contact"`
	CustomerName    string    `json:"customer_name"`
	Services        []string  `json:"services"`
	ResourceID      string    `json:"resource_id"`
	StartAt         time.Time `json:"start_at"`
}

func (h *AppointmentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body createAppointmentRequest
	if !decodeBody(w, r, &body) {
		return
	}
	resourceID, err := uuid.Parse(strings.TrimSpace(body.ResourceID))
	if err != nil {
		jsonError(w, http.StatusBadRequest, string(booking.CodeInvalidRequest), "resource_id must be a UUID")
		return
	}

	res, err := h.service.Book(r.Context(), booking.Request{
		CustomerContact: body.CustomerContact,
		CustomerName:    body.CustomerName,
		ServiceNames:    body.Services,
		ResourceID:      resourceID,
		StartAt:         body.StartAt,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *AppointmentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}
	a, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *AppointmentsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 && !decodeBody(w, r, &body) {
		return
	}
	a, err := h.service.Cancel(r.Context(), id, body.Reason)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *AppointmentsHandler) Reply(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}
	var body struct {
		Affirmative *bool `json:"affirmative"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Affirmative == nil {
		jsonError(w, http.StatusBadRequest, string(booking.CodeInvalidRequest), "affirmative is required")
		return
	}
	a, err := h.service.RecordReply(r.Context(), id, *body.Affirmative)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *AppointmentsHandler) Outcome(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}
	var body struct {
		Attended *bool `json:"attended"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Attended == nil {
		jsonError(w, http.StatusBadRequest, string(booking.CodeInvalidRequest), "attended is required")
		return
	}
	a, err := h.service.RecordOutcome(r.Context(), id, *body.Attended)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, string(booking.CodeInvalidRequest), "appointment id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		jsonError(w, http.StatusBadRequest, string(booking.CodeInvalidRequest), "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
