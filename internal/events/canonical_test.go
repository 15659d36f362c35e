package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExec struct {
	args []any
}

func (s *stubExec) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.args = args
	return pgconn.CommandTag{}, nil
}

type rawEvent string

func (e rawEvent) EventType() string { return string(e) }

func sampleNotification() NotificationNeededV1 {
	return NotificationNeededV1{
		Kind:          NotificationHoldExpired,
		AppointmentID: "a6c1c7bc-6b3f-4f55-8d7e-2d8f0f3b9d11",
		CustomerID:    "c-1",
		ResourceID:    "r-1",
		StartAt:       time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC),
		Status:        "EXPIRED",
		OccurredAt:    time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC),
	}
}

func TestNewEnvelopeUsesTransitionTime(t *testing.T) {
	id := uuid.MustParse("9a20d7d1-bf6a-4d33-bd55-5d25a816f1a8")
	n := sampleNotification()
	env, err := NewEnvelope(n.Aggregate(), "corr-1", n, WithEventID(id))
	require.NoError(t, err)

	assert.Equal(t, id, env.EventID)
	assert.Equal(t, n.OccurredAt, env.OccurredAt)
	assert.Equal(t, "booking.notification.hold_expired.v1", env.EventType)
	assert.Equal(t, 1, env.SchemaVersion)
	assert.Equal(t, "appointment:"+n.AppointmentID, env.Aggregate)
	assert.Equal(t, "corr-1", env.CorrelationID)

	var decoded NotificationNeededV1
	require.NoError(t, json.Unmarshal(env.Payload, &decoded))
	assert.Equal(t, n.AppointmentID, decoded.AppointmentID)
}

func TestNewEnvelopeFallsBackToClock(t *testing.T) {
	fixed := time.Date(2026, 10, 20, 7, 0, 0, 0, time.UTC)
	prev := clock
	clock = func() time.Time { return fixed }
	defer func() { clock = prev }()

	env, err := NewEnvelope("appointment:1", "", rawEvent("booking.test.v3"))
	require.NoError(t, err)
	assert.Equal(t, fixed, env.OccurredAt)
	assert.Equal(t, 3, env.SchemaVersion)
}

func TestNewEnvelopeValidation(t *testing.T) {
	_, err := NewEnvelope(" ", "", sampleNotification())
	assert.ErrorIs(t, err, ErrMissingAggregate)

	_, err = NewEnvelope("appointment:1", "", nil)
	assert.ErrorIs(t, err, ErrNilEvent)

	for _, eventType := range []string{"", "booking.test", "booking.test.v0", "booking.test.vx"} {
		_, err = NewEnvelope("appointment:1", "", rawEvent(eventType))
		assert.ErrorIs(t, err, ErrUnversionedEvent, eventType)
	}
}

func TestAppendCanonicalEvent(t *testing.T) {
	exec := &stubExec{}
	n := sampleNotification()
	env, err := AppendCanonicalEvent(context.Background(), exec, n.Aggregate(), n.AppointmentID, n)
	require.NoError(t, err)
	require.Len(t, exec.args, 6)
	assert.Equal(t, env.EventID, exec.args[0])
	assert.Equal(t, env.Aggregate, exec.args[1])
	assert.Equal(t, env.EventType, exec.args[2])
	assert.Equal(t, n.AppointmentID, exec.args[3])
	assert.Equal(t, n.OccurredAt, exec.args[4])

	var stored Envelope
	require.NoError(t, json.Unmarshal(exec.args[5].([]byte), &stored))
	assert.Equal(t, env.EventID, stored.EventID)

	_, err = AppendCanonicalEvent(context.Background(), nil, n.Aggregate(), "", n)
	assert.Error(t, err)
}
