package appointments

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/salon-booking-engine/internal/events"
)

func TestMemoryReserveConcurrentOverlapsOneWinner(t *testing.T) {
	store := NewMemoryStore(nil)
	resource := uuid.New()
	start := time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC)

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			a := &Appointment{
				ResourceID:      resource,
				CustomerID:      uuid.New(),
				StartAt:         start.Add(time.Duration(offset%3) * 15 * time.Minute),
				DurationMinutes: 60,
				BufferMinutes:   10,
			}
			results <- store.Reserve(context.Background(), a)
		}(i)
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrSlotTaken)
	}
	assert.Equal(t, 1, wins)
}

func TestMemoryReserveRespectsBuffer(t *testing.T) {
	store := NewMemoryStore(nil)
	resource := uuid.New()
	start := time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	first := &Appointment{ResourceID: resource, StartAt: start, DurationMinutes: 60, BufferMinutes: 10}
	require.NoError(t, store.Reserve(ctx, first))

	inBuffer := &Appointment{ResourceID: resource, StartAt: start.Add(65 * time.Minute), DurationMinutes: 30, BufferMinutes: 10}
	assert.ErrorIs(t, store.Reserve(ctx, inBuffer), ErrSlotTaken)

	afterBuffer := &Appointment{ResourceID: resource, StartAt: start.Add(70 * time.Minute), DurationMinutes: 30, BufferMinutes: 10}
	assert.NoError(t, store.Reserve(ctx, afterBuffer))

	otherStylist := &Appointment{ResourceID: uuid.New(), StartAt: start, DurationMinutes: 60}
	assert.NoError(t, store.Reserve(ctx, otherStylist))
}

func TestMemoryReserveFreesSlotAfterTerminalState(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	expires := now.Add(-time.Minute)
	a := &Appointment{ResourceID: uuid.New(), StartAt: now.Add(24 * time.Hour), DurationMinutes: 60, AdvanceCents: 500, HoldExpiresAt: &expires}
	require.NoError(t, store.Reserve(ctx, a))

	_, err := store.Mutate(ctx, a.ID, func(cur *Appointment) ([]events.NotificationNeededV1, error) {
		return nil, Apply(cur, EventHoldExpired, Input{Now: now})
	})
	require.NoError(t, err)

	again := &Appointment{ResourceID: a.ResourceID, StartAt: a.StartAt, DurationMinutes: 60}
	assert.NoError(t, store.Reserve(ctx, again))
}

func TestMemoryRestrictResources(t *testing.T) {
	store := NewMemoryStore(nil)
	known := uuid.New()
	store.RestrictResources(known)

	err := store.Reserve(context.Background(), &Appointment{ResourceID: uuid.New(), StartAt: time.Now(), DurationMinutes: 30})
	assert.ErrorIs(t, err, ErrResourceUnavailable)
	assert.NoError(t, store.Reserve(context.Background(), &Appointment{ResourceID: known, StartAt: time.Now(), DurationMinutes: 30}))
}

func TestMemoryMutateEmitsNotificationsOnlyOnCommit(t *testing.T) {
	outbox := events.NewMemoryOutbox()
	store := NewMemoryStore(outbox)
	ctx := context.Background()
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

	a := &Appointment{ResourceID: uuid.New(), StartAt: now.Add(48 * time.Hour), DurationMinutes: 60}
	require.NoError(t, store.Reserve(ctx, a))
	_, err := store.Mutate(ctx, a.ID, func(cur *Appointment) ([]events.NotificationNeededV1, error) {
		return nil, Apply(cur, EventNoChargeDue, Input{Now: now})
	})
	require.NoError(t, err)

	request := func(cur *Appointment) ([]events.NotificationNeededV1, error) {
		if err := Apply(cur, EventConfirmationRequested, Input{Now: now}); err != nil {
			return nil, err
		}
		return []events.NotificationNeededV1{Notify(cur, events.NotificationConfirmationRequested, now)}, nil
	}

	updated, err := store.Mutate(ctx, a.ID, request)
	require.NoError(t, err)
	require.NotNil(t, updated.ConfirmationRequestedAt)

	_, err = store.Mutate(ctx, a.ID, request)
	require.ErrorIs(t, err, ErrGuardFailed)

	entries := outbox.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "booking.notification.confirmation_requested.v1", entries[0].EventType)
}

func TestMemoryScansSelectByGate(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	expired := &Appointment{ResourceID: uuid.New(), StartAt: now.Add(5 * time.Hour), DurationMinutes: 30, AdvanceCents: 100, HoldExpiresAt: &past}
	live := &Appointment{ResourceID: uuid.New(), StartAt: now.Add(6 * time.Hour), DurationMinutes: 30, AdvanceCents: 100, HoldExpiresAt: &future}
	require.NoError(t, store.Reserve(ctx, expired))
	require.NoError(t, store.Reserve(ctx, live))

	holds, err := store.ListExpiredHolds(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, holds, 1)
	assert.Equal(t, expired.ID, holds[0].ID)

	due := &Appointment{ResourceID: uuid.New(), StartAt: now.Add(48 * time.Hour), DurationMinutes: 30}
	require.NoError(t, store.Reserve(ctx, due))
	_, err = store.Mutate(ctx, due.ID, func(cur *Appointment) ([]events.NotificationNeededV1, error) {
		return nil, Apply(cur, EventNoChargeDue, Input{Now: now})
	})
	require.NoError(t, err)

	window, err := store.ListConfirmationDue(ctx, now.Add(47*time.Hour), now.Add(49*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, due.ID, window[0].ID)

	require.NoError(t, store.AttachCalendarEvent(ctx, expired.ID, "cal#evt"))
	_, err = store.Mutate(ctx, expired.ID, func(cur *Appointment) ([]events.NotificationNeededV1, error) {
		return nil, Apply(cur, EventHoldExpired, Input{Now: now})
	})
	require.NoError(t, err)
	unreleased, err := store.ListUnreleasedHolds(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unreleased, 1)

	require.NoError(t, store.ClearCalendarEvent(ctx, expired.ID))
	unreleased, err = store.ListUnreleasedHolds(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unreleased)
}

func TestMemoryDiscardAndGet(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()
	a := &Appointment{ResourceID: uuid.New(), StartAt: time.Now().Add(time.Hour), DurationMinutes: 30}
	require.NoError(t, store.Reserve(ctx, a))

	got, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	got.Status = StatusCancelled
	again, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProvisional, again.Status, "Get must return copies")

	require.NoError(t, store.Discard(ctx, a.ID))
	_, err = store.Get(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryReserveDefaultsHoldExpiry(t *testing.T) {
	created := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	store := NewMemoryStore(nil).WithClock(func() time.Time { return created })
	ctx := context.Background()

	a := &Appointment{ResourceID: uuid.New(), StartAt: created.Add(48 * time.Hour), DurationMinutes: 30, AdvanceCents: 500}
	require.NoError(t, store.Reserve(ctx, a))
	require.NotNil(t, a.HoldExpiresAt)
	assert.Equal(t, created.Add(DefaultHoldTimeout), *a.HoldExpiresAt)

	holds, err := store.ListExpiredHolds(ctx, created.Add(DefaultHoldTimeout-time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, holds)

	holds, err = store.ListExpiredHolds(ctx, created.Add(DefaultHoldTimeout), 10)
	require.NoError(t, err)
	require.Len(t, holds, 1)
	assert.Equal(t, a.ID, holds[0].ID)
}
