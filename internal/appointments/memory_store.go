package appointments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/salon-booking-engine/internal/events"
)

type eventAppender interface {
	Append(ctx context.Context, aggregate string, evt events.CanonicalEvent) (events.Envelope, error)
}

// MemoryStore is an in-process Store for development and tests. The mutex
// stands in for the row locks the Postgres store relies on.
type MemoryStore struct {
	mu        sync.Mutex
	items     map[uuid.UUID]*Appointment
	resources map[uuid.UUID]bool
	outbox    eventAppender
	now       func() time.Time
}

// NewMemoryStore creates an empty store. outbox may be nil.
func NewMemoryStore(outbox eventAppender) *MemoryStore {
	return &MemoryStore{
		items:  make(map[uuid.UUID]*Appointment),
		outbox: outbox,
		now:    time.Now,
	}
}

// WithClock overrides the time source used for creation and update stamps.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	if now != nil {
		s.now = now
	}
	return s
}

// RestrictResources makes Reserve reject stylists outside ids, mirroring the
// stylist row lock. Without it every resource is accepted.
func (s *MemoryStore) RestrictResources(ids ...uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources = make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		s.resources[id] = true
	}
}

func (s *MemoryStore) Reserve(ctx context.Context, a *Appointment) error {
	if a == nil {
		return fmt.Errorf("appointments: reserve: nil appointment")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resources != nil && !s.resources[a.ResourceID] {
		return ErrResourceUnavailable
	}
	for _, existing := range s.items {
		if existing.ResourceID != a.ResourceID {
			continue
		}
		if existing.Blocks(a.StartAt, a.BlockedUntil()) {
			return ErrSlotTaken
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if _, exists := s.items[a.ID]; exists {
		return fmt.Errorf("appointments: reserve: duplicate id %s", a.ID)
	}
	now := s.now().UTC()
	a.Status = StatusProvisional
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.HoldExpiresAt == nil {
		a.HoldExpiresAt = timePtr(now.Add(DefaultHoldTimeout))
	}
	s.items[a.ID] = a.Clone()
	return nil
}

func (s *MemoryStore) Discard(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

func (s *MemoryStore) Abandon(ctx context.Context, id uuid.UUID, calendarRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[id]
	if !ok || a.Status != StatusProvisional {
		return ErrNotFound
	}
	now := s.now().UTC()
	a.Status = StatusCancelled
	a.CancelReason = AbandonedReason
	a.CancelledAt = timePtr(now)
	a.CalendarEventRef = calendarRef
	a.UpdatedAt = now
	return nil
}

func (s *MemoryStore) AttachCalendarEvent(ctx context.Context, id uuid.UUID, ref string) error {
	return s.update(id, func(a *Appointment) { a.CalendarEventRef = ref })
}

func (s *MemoryStore) ClearCalendarEvent(ctx context.Context, id uuid.UUID) error {
	return s.update(id, func(a *Appointment) { a.CalendarEventRef = "" })
}

func (s *MemoryStore) AttachPaymentRequest(ctx context.Context, id uuid.UUID, req PaymentRequest) error {
	return s.update(id, func(a *Appointment) {
		a.PaymentLink = req.Link
		a.PaymentSessionRef = req.SessionRef
		a.HoldExpiresAt = timePtr(req.HoldExpiresAt.UTC())
	})
}

func (s *MemoryStore) update(id uuid.UUID, fn func(*Appointment)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	fn(a)
	a.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (s *MemoryStore) Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	working := current.Clone()
	notes, err := fn(working)
	if err != nil {
		if errors.Is(err, ErrNoChange) {
			return current.Clone(), err
		}
		return nil, err
	}
	if s.outbox != nil {
		for _, n := range notes {
			if _, err := s.outbox.Append(ctx, n.Aggregate(), n); err != nil {
				return nil, fmt.Errorf("appointments: append notification: %w", err)
			}
		}
	}
	s.items[id] = working
	return working.Clone(), nil
}

func (s *MemoryStore) ListBlocking(ctx context.Context, resourceID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	return s.list(0, func(a *Appointment) bool {
		return a.ResourceID == resourceID && a.Blocks(from, to)
	}), nil
}

func (s *MemoryStore) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]Appointment, error) {
	return s.list(limit, func(a *Appointment) bool {
		return a.Status == StatusProvisional && a.PaymentRef == "" &&
			a.HoldExpiresAt != nil && !a.HoldExpiresAt.After(now)
	}), nil
}

func (s *MemoryStore) ListConfirmationDue(ctx context.Context, startFrom, startTo time.Time, limit int) ([]Appointment, error) {
	return s.list(limit, func(a *Appointment) bool {
		return a.Status == StatusPending && a.ConfirmationRequestedAt == nil &&
			!a.StartAt.Before(startFrom) && !a.StartAt.After(startTo)
	}), nil
}

func (s *MemoryStore) ListReplyOverdue(ctx context.Context, requestedBefore time.Time, limit int) ([]Appointment, error) {
	return s.list(limit, func(a *Appointment) bool {
		return a.Status == StatusPending && a.ConfirmationRequestedAt != nil &&
			!a.ConfirmationRequestedAt.After(requestedBefore)
	}), nil
}

func (s *MemoryStore) ListUnreleasedHolds(ctx context.Context, limit int) ([]Appointment, error) {
	return s.list(limit, func(a *Appointment) bool {
		return (a.Status == StatusExpired || a.Status == StatusCancelled) && a.CalendarEventRef != ""
	}), nil
}

func (s *MemoryStore) list(limit int, keep func(*Appointment) bool) []Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Appointment
	for _, a := range s.items {
		if keep(a) {
			out = append(out, *a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartAt.Equal(out[j].StartAt) {
			return out[i].StartAt.Before(out[j].StartAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
