package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryHoldLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	id := uuid.New()
	start := time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC)

	ref, err := m.CreateHold(ctx, Hold{AppointmentID: id, CalendarID: "marta", Start: start, End: start.Add(time.Hour)})
	require.NoError(t, err)
	again, err := m.CreateHold(ctx, Hold{AppointmentID: id, CalendarID: "marta", Start: start, End: start.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, ref, again)
	assert.Equal(t, 1, m.Len())

	require.NoError(t, m.MarkConfirmed(ctx, ref))
	ev, ok := m.Event(ref)
	require.True(t, ok)
	assert.True(t, ev.Confirmed)

	require.NoError(t, m.Delete(ctx, ref))
	require.NoError(t, m.Delete(ctx, ref), "second delete is a no-op")
	assert.Zero(t, m.Len())
}

func TestMemoryHooksInjectFailures(t *testing.T) {
	m := NewMemory()
	boom := errors.New("calendar down")
	m.CreateHook = func(Hold) error { return boom }

	_, err := m.CreateHold(context.Background(), Hold{AppointmentID: uuid.New(), CalendarID: "marta"})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, m.Len())
}

func TestMemoryBusyAndClosed(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	day := time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)
	m.AddBusy("marta", day.Add(15*time.Hour), day.Add(16*time.Hour))
	m.AddBusy("marta", day.Add(10*time.Hour), day.Add(11*time.Hour))
	m.AddBusy("marta", day.Add(30*time.Hour), day.Add(31*time.Hour))

	busy, err := m.Busy(ctx, "marta", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, busy, 2)
	assert.True(t, busy[0].Start.Before(busy[1].Start))

	m.MarkClosed(day)
	closed, err := m.IsClosed(ctx, day, day.Add(24*time.Hour), "CLOSED")
	require.NoError(t, err)
	assert.True(t, closed)
	closed, err = m.IsClosed(ctx, day.Add(24*time.Hour), day.Add(48*time.Hour), "CLOSED")
	require.NoError(t, err)
	assert.False(t, closed)
}
