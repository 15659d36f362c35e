// Package catalog provides the read-only service and stylist catalog and
// get-or-create access to customers.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrServiceNotFound  = errors.New("catalog: service not found")
	ErrServiceAmbiguous = errors.New("catalog: service ambiguous")
	ErrCategoryMismatch = errors.New("catalog: services span more than one category")
	ErrStylistNotFound  = errors.New("catalog: stylist not found")
	ErrInvalidContact   = errors.New("catalog: customer contact required")
)

// Service is a bookable treatment.
type Service struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Aliases         []string  `json:"aliases,omitempty"`
	Category        string    `json:"category"`
	DurationMinutes int       `json:"duration_minutes"`
	PriceCents      int64     `json:"price_cents"`
	RequiresAdvance bool      `json:"requires_advance"`
	Active          bool      `json:"active"`
}

// Stylist is a bookable resource. Each stylist has a single category and
// their own external calendar.
type Stylist struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Category   string    `json:"category"`
	CalendarID string    `json:"calendar_id"`
	Active     bool      `json:"active"`
}

type Customer struct {
	ID          uuid.UUID `json:"id"`
	Contact     string    `json:"contact"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// Repository is the catalog as seen by the booking engine.
type Repository interface {
	ListServices(ctx context.Context) ([]Service, error)
	GetStylist(ctx context.Context, id uuid.UUID) (*Stylist, error)
	// ListStylists returns active stylists of category, or all active ones when category is empty.
	ListStylists(ctx context.Context, category string) ([]Stylist, error)
	GetOrCreateCustomer(ctx context.Context, contact, displayName string) (*Customer, error)
}

// AmbiguousError lists the services a requested name could refer to.
type AmbiguousError struct {
	Query      string
	Candidates []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("%s: %q matches %s", ErrServiceAmbiguous, e.Query, strings.Join(e.Candidates, ", "))
}

func (e *AmbiguousError) Unwrap() error { return ErrServiceAmbiguous }

func normalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// NormalizeContact canonicalizes a phone number or email so lookups match.
func NormalizeContact(contact string) string {
	c := strings.ToLower(strings.TrimSpace(contact))
	if strings.Contains(c, "@") {
		return c
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '+':
			return r
		}
		return -1
	}, c)
}

// ResolveServices maps requested names onto active services, preserving the
// requested order. A name matches a service exactly by name or alias first;
// failing that, by substring in either direction. More than one distinct
// match is ambiguous.
func ResolveServices(all []Service, names []string) ([]Service, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no services requested", ErrServiceNotFound)
	}
	out := make([]Service, 0, len(names))
	for _, name := range names {
		svc, err := resolveOne(all, name)
		if err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, nil
}

func resolveOne(all []Service, name string) (Service, error) {
	key := normalizeKey(name)
	if key == "" {
		return Service{}, fmt.Errorf("%w: empty name", ErrServiceNotFound)
	}

	var exact, partial []Service
	for _, svc := range all {
		if !svc.Active {
			continue
		}
		keys := append([]string{svc.Name}, svc.Aliases...)
		matchedExact, matchedPartial := false, false
		for _, k := range keys {
			k = normalizeKey(k)
			if k == "" {
				continue
			}
			if k == key {
				matchedExact = true
				break
			}
			if strings.Contains(k, key) || strings.Contains(key, k) {
				matchedPartial = true
			}
		}
		switch {
		case matchedExact:
			exact = append(exact, svc)
		case matchedPartial:
			partial = append(partial, svc)
		}
	}

	candidates := exact
	if len(candidates) == 0 {
		candidates = partial
	}
	switch len(candidates) {
	case 0:
		return Service{}, fmt.Errorf("%w: %q", ErrServiceNotFound, name)
	case 1:
		return candidates[0], nil
	}
	names := make([]string, 0, len(candidates))
	for _, c := range candidates {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return Service{}, &AmbiguousError{Query: name, Candidates: names}
}

// SingleCategory returns the one category shared by services.
func SingleCategory(services []Service) (string, error) {
	if len(services) == 0 {
		return "", fmt.Errorf("%w: no services", ErrServiceNotFound)
	}
	category := services[0].Category
	for _, svc := range services[1:] {
		if svc.Category != category {
			return "", fmt.Errorf("%w: %s and %s", ErrCategoryMismatch, category, svc.Category)
		}
	}
	return category, nil
}

// Quote is the commercial summary of a booking.
type Quote struct {
	DurationMinutes int
	TotalCents      int64
	AdvanceCents    int64
}

// QuoteFor sums duration and price and charges advancePercent of the price
// of every service that requires an advance, rounded half up to the cent.
func QuoteFor(services []Service, advancePercent int) Quote {
	var q Quote
	advanceBase := decimal.Zero
	for _, svc := range services {
		q.DurationMinutes += svc.DurationMinutes
		q.TotalCents += svc.PriceCents
		if svc.RequiresAdvance {
			advanceBase = advanceBase.Add(decimal.NewFromInt(svc.PriceCents))
		}
	}
	pct := decimal.NewFromInt(int64(advancePercent)).Div(decimal.NewFromInt(100))
	q.AdvanceCents = advanceBase.Mul(pct).Round(0).IntPart()
	return q
}

// ServiceIDs returns the ids of services in order.
func ServiceIDs(services []Service) []uuid.UUID {
	ids := make([]uuid.UUID, len(services))
	for i, svc := range services {
		ids[i] = svc.ID
	}
	return ids
}
