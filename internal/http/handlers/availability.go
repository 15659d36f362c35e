package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/salon-booking-engine/internal/availability"
	"github.com/wolfman30/salon-booking-engine/internal/booking"
	"github.com/wolfman30/salon-booking-engine/internal/business"
	"github.com/wolfman30/salon-booking-engine/internal/catalog"
	"github.com/wolfman30/salon-booking-engine/pkg/logging"
)

type slotResolver interface {
	Resolve(ctx context.Context, q availability.Query) ([]availability.Candidate, error)
}

type serviceLister interface {
	ListServices(ctx context.Context) ([]catalog.Service, error)
}

// AvailabilityHandler answers "when can these services be done on this day".
type AvailabilityHandler struct {
	resolver   slotResolver
	services   serviceLister
	config     business.Source
	businessID string
	logger     *logging.Logger
}

func NewAvailabilityHandler(resolver slotResolver, services serviceLister, config business.Source, businessID string, logger *logging.Logger) *AvailabilityHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AvailabilityHandler{
		resolver:   resolver,
		services:   services,
		config:     config,
		businessID: businessID,
		logger:     logger,
	}
}

type availabilityResponse struct {
	Date            string                   `json:"date"`
	Services        []string                 `json:"services"`
	DurationMinutes int                      `json:"duration_minutes"`
	TotalPriceCents int64                    `json:"total_price_cents"`
	AdvanceCents    int64                    `json:"advance_cents"`
	Candidates      []availability.Candidate `json:"candidates"`
}

// Get handles GET /v1/availability?date=YYYY-MM-DD&service=...&service=...&resource_id=...
func (h *AvailabilityHandler) Get(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	names := q["service"]
	if len(names) == 0 {
		jsonError(w, http.StatusBadRequest, string(booking.CodeInvalidRequest), "at least one service is required")
		return
	}

	cfg, err := h.config.Get(r.Context(), h.businessID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	day, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(q.Get("date")), cfg.Location())
	if err != nil {
		jsonError(w, http.StatusBadRequest, string(booking.CodeInvalidRequest), "date must be YYYY-MM-DD")
		return
	}
	var preferred uuid.UUID
	if raw := strings.TrimSpace(q.Get("resource_id")); raw != "" {
		if preferred, err = uuid.Parse(raw); err != nil {
			jsonError(w, http.StatusBadRequest, string(booking.CodeInvalidRequest), "resource_id must be a UUID")
			return
		}
	}

	all, err := h.services.ListServices(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	services, err := catalog.ResolveServices(all, names)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	category, err := catalog.SingleCategory(services)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	quote := catalog.QuoteFor(services, cfg.AdvancePercent)

	candidates, err := h.resolver.Resolve(r.Context(), availability.Query{
		Date:              day,
		DurationMinutes:   quote.DurationMinutes,
		Category:          category,
		PreferredResource: preferred,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	resolved := make([]string, len(services))
	for i, svc := range services {
		resolved[i] = svc.Name
	}
	writeJSON(w, http.StatusOK, availabilityResponse{
		Date:            day.Format(time.DateOnly),
		Services:        resolved,
		DurationMinutes: quote.DurationMinutes,
		TotalPriceCents: quote.TotalCents,
		AdvanceCents:    quote.AdvanceCents,
		Candidates:      candidates,
	})
}
