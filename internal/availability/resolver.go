// Package availability computes candidate appointment slots per stylist.
// Results are advisory: the booking coordinator re-checks under lock.
package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/salon-booking-engine/internal/appointments"
	"github.com/wolfman30/salon-booking-engine/internal/business"
	"github.com/wolfman30/salon-booking-engine/internal/calendar"
	"github.com/wolfman30/salon-booking-engine/internal/catalog"
	"github.com/wolfman30/salon-booking-engine/internal/retry"
	"github.com/wolfman30/salon-booking-engine/pkg/logging"
)

var (
	// ErrClosed means the business does not open on the requested date.
	ErrClosed = errors.New("availability: closed on requested date")
	// ErrFullyBooked means the business is open but nothing fits.
	ErrFullyBooked = errors.New("availability: fully booked on requested date")
	// ErrNoResources means no active stylist can perform the category.
	ErrNoResources = errors.New("availability: no stylist available for category")
)

// Query describes the slot being looked for.
type Query struct {
	Date              time.Time
	DurationMinutes   int
	Category          string
	PreferredResource uuid.UUID
}

// Candidate is a free [Start, End) window on one stylist. End excludes the buffer.
type Candidate struct {
	ResourceID   uuid.UUID `json:"resource_id"`
	ResourceName string    `json:"resource_name"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
}

type stylistSource interface {
	GetStylist(ctx context.Context, id uuid.UUID) (*catalog.Stylist, error)
	ListStylists(ctx context.Context, category string) ([]catalog.Stylist, error)
}

type blockingLister interface {
	ListBlocking(ctx context.Context, resourceID uuid.UUID, from, to time.Time) ([]appointments.Appointment, error)
}

// Resolver computes availability from the external calendar and the store.
type Resolver struct {
	stylists   stylistSource
	calendar   calendar.Calendar
	store      blockingLister
	config     business.Source
	businessID string
	policy     retry.Policy
	logger     *logging.Logger
	now        func() time.Time
}

func NewResolver(stylists stylistSource, cal calendar.Calendar, store blockingLister, config business.Source, businessID string, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{
		stylists:   stylists,
		calendar:   cal,
		store:      store,
		config:     config,
		businessID: businessID,
		policy:     retry.DefaultPolicy(),
		logger:     logger,
		now:        time.Now,
	}
}

// WithRetryPolicy overrides the policy for calendar lookups.
func (r *Resolver) WithRetryPolicy(p retry.Policy) *Resolver {
	r.policy = p
	return r
}

// WithClock overrides the time source.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	if now != nil {
		r.now = now
	}
	return r
}

type resourceDay struct {
	stylist  catalog.Stylist
	busy     []calendar.Interval
	busyMins int
}

// Resolve returns candidates ordered by start time, then by the stylist with
// the least booked time that day, then by stylist id.
func (r *Resolver) Resolve(ctx context.Context, q Query) ([]Candidate, error) {
	if q.DurationMinutes <= 0 {
		return nil, fmt.Errorf("availability: duration must be positive")
	}
	cfg, err := r.config.Get(ctx, r.businessID)
	if err != nil {
		return nil, fmt.Errorf("availability: load business config: %w", err)
	}

	opens, closes, ok := cfg.HoursOn(q.Date)
	if !ok {
		return nil, ErrClosed
	}
	dayStart := cfg.StartOfDay(q.Date)
	dayEnd := dayStart.AddDate(0, 0, 1)
	closed, err := retry.Value(ctx, r.policy, func(ctx context.Context) (bool, error) {
		return r.calendar.IsClosed(ctx, dayStart, dayEnd, cfg.ClosedMarker)
	})
	if err != nil {
		return nil, fmt.Errorf("availability: closed-day lookup: %w", err)
	}
	if closed {
		return nil, ErrClosed
	}

	stylists, err := r.candidateStylists(ctx, q)
	if err != nil {
		return nil, err
	}

	days := make([]resourceDay, 0, len(stylists))
	for _, st := range stylists {
		day, err := r.loadDay(ctx, st, dayStart, dayEnd, opens, closes)
		if err != nil {
			return nil, err
		}
		days = append(days, day)
	}

	duration := time.Duration(q.DurationMinutes) * time.Minute
	blocked := duration + cfg.Buffer()
	earliest := r.now().Add(cfg.MinLead())
	step := cfg.Granularity()

	type ranked struct {
		Candidate
		load int
	}
	var found []ranked
	for _, day := range days {
		for start := opens; !start.Add(duration).After(closes); start = start.Add(step) {
			if start.Before(earliest) {
				continue
			}
			if conflicts(day.busy, start, start.Add(blocked)) {
				continue
			}
			found = append(found, ranked{
				Candidate: Candidate{
					ResourceID:   day.stylist.ID,
					ResourceName: day.stylist.Name,
					Start:        start,
					End:          start.Add(duration),
				},
				load: day.busyMins,
			})
		}
	}
	if len(found) == 0 {
		return nil, ErrFullyBooked
	}

	sort.SliceStable(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if a.load != b.load {
			return a.load < b.load
		}
		return a.ResourceID.String() < b.ResourceID.String()
	})

	limit := cfg.MaxCandidates
	if limit <= 0 || limit > len(found) {
		limit = len(found)
	}
	out := make([]Candidate, limit)
	for i := range out {
		out[i] = found[i].Candidate
	}
	return out, nil
}

func (r *Resolver) candidateStylists(ctx context.Context, q Query) ([]catalog.Stylist, error) {
	if q.PreferredResource != uuid.Nil {
		st, err := r.stylists.GetStylist(ctx, q.PreferredResource)
		if err != nil {
			if errors.Is(err, catalog.ErrStylistNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrNoResources, q.PreferredResource)
			}
			return nil, fmt.Errorf("availability: load stylist: %w", err)
		}
		if !st.Active || (q.Category != "" && st.Category != q.Category) {
			return nil, fmt.Errorf("%w: %s does not offer %q", ErrNoResources, st.Name, q.Category)
		}
		return []catalog.Stylist{*st}, nil
	}
	stylists, err := r.stylists.ListStylists(ctx, q.Category)
	if err != nil {
		return nil, fmt.Errorf("availability: list stylists: %w", err)
	}
	if len(stylists) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoResources, q.Category)
	}
	return stylists, nil
}

func (r *Resolver) loadDay(ctx context.Context, st catalog.Stylist, dayStart, dayEnd, opens, closes time.Time) (resourceDay, error) {
	day := resourceDay{stylist: st}

	if st.CalendarID != "" {
		busy, err := retry.Value(ctx, r.policy, func(ctx context.Context) ([]calendar.Interval, error) {
			return r.calendar.Busy(ctx, st.CalendarID, dayStart, dayEnd)
		})
		if err != nil {
			return day, fmt.Errorf("availability: busy lookup for %s: %w", st.Name, err)
		}
		day.busy = append(day.busy, busy...)
	}

	held, err := r.store.ListBlocking(ctx, st.ID, dayStart, dayEnd)
	if err != nil {
		return day, fmt.Errorf("availability: list appointments for %s: %w", st.Name, err)
	}
	for _, a := range held {
		day.busy = append(day.busy, calendar.Interval{Start: a.StartAt, End: a.BlockedUntil()})
	}

	day.busyMins = busyMinutes(day.busy, opens, closes)
	return day, nil
}

func conflicts(busy []calendar.Interval, start, end time.Time) bool {
	for _, iv := range busy {
		if iv.Overlaps(start, end) {
			return true
		}
	}
	return false
}

// busyMinutes is the union of busy time clipped to [from, to).
func busyMinutes(busy []calendar.Interval, from, to time.Time) int {
	clipped := make([]calendar.Interval, 0, len(busy))
	for _, iv := range busy {
		s, e := iv.Start, iv.End
		if s.Before(from) {
			s = from
		}
		if e.After(to) {
			e = to
		}
		if e.After(s) {
			clipped = append(clipped, calendar.Interval{Start: s, End: e})
		}
	}
	sort.Slice(clipped, func(i, j int) bool { return clipped[i].Start.Before(clipped[j].Start) })

	var total time.Duration
	var cur calendar.Interval
	for i, iv := range clipped {
		if i == 0 {
			cur = iv
			continue
		}
		if !iv.Start.After(cur.End) {
			if iv.End.After(cur.End) {
				cur.End = iv.End
			}
			continue
		}
		total += cur.End.Sub(cur.Start)
		cur = iv
	}
	if len(clipped) > 0 {
		total += cur.End.Sub(cur.Start)
	}
	return int(total / time.Minute)
}
