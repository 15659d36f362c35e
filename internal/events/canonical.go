package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// CanonicalEvent is a versioned domain event. Event types end in ".v<N>".
type CanonicalEvent interface {
	EventType() string
}

// timedEvent is implemented by events that carry their own occurrence time.
type timedEvent interface {
	OccurredTime() time.Time
}

// Envelope is what lands in the outbox and on the wire.
type Envelope struct {
	EventID       uuid.UUID       `json:"event_id"`
	EventType     string          `json:"event_type"`
	SchemaVersion int             `json:"schema_version"`
	Aggregate     string          `json:"aggregate"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

// EnvelopeOption adjusts a new envelope.
type EnvelopeOption func(*Envelope)

// WithEventID pins the event id, making redelivery of the same fact dedupable downstream.
func WithEventID(id uuid.UUID) EnvelopeOption {
	return func(e *Envelope) {
		if id != uuid.Nil {
			e.EventID = id
		}
	}
}

var (
	ErrMissingAggregate = errors.New("events: aggregate is required")
	ErrNilEvent         = errors.New("events: canonical event required")
	ErrUnversionedEvent = errors.New("events: event type must end in .v<N>")

	clock = time.Now
)

// NewEnvelope wraps evt for aggregate without persisting it.
func NewEnvelope(aggregate, correlationID string, evt CanonicalEvent, opts ...EnvelopeOption) (Envelope, error) {
	aggregate = strings.TrimSpace(aggregate)
	if aggregate == "" {
		return Envelope{}, ErrMissingAggregate
	}
	if evt == nil {
		return Envelope{}, ErrNilEvent
	}
	eventType := strings.TrimSpace(evt.EventType())
	version, err := schemaVersion(eventType)
	if err != nil {
		return Envelope{}, err
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal %s: %w", eventType, err)
	}

	occurred := clock()
	if te, ok := evt.(timedEvent); ok && !te.OccurredTime().IsZero() {
		occurred = te.OccurredTime()
	}
	env := Envelope{
		EventID:       uuid.New(),
		EventType:     eventType,
		SchemaVersion: version,
		Aggregate:     aggregate,
		CorrelationID: strings.TrimSpace(correlationID),
		OccurredAt:    occurred.UTC().Truncate(time.Microsecond),
		Payload:       payload,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&env)
		}
	}
	return env, nil
}

func schemaVersion(eventType string) (int, error) {
	i := strings.LastIndex(eventType, ".v")
	if i <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnversionedEvent, eventType)
	}
	v, err := strconv.Atoi(eventType[i+2:])
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%w: %q", ErrUnversionedEvent, eventType)
	}
	return v, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const insertOutbox = `
	INSERT INTO outbox (id, aggregate, event_type, correlation_id, occurred_at, payload)
	VALUES ($1, $2, $3, $4, $5, $6)`

// AppendCanonicalEvent writes evt to the outbox through exec. Pass the
// transaction that carries the state change so both commit together.
func AppendCanonicalEvent(ctx context.Context, exec execer, aggregate, correlationID string, evt CanonicalEvent, opts ...EnvelopeOption) (Envelope, error) {
	if exec == nil {
		return Envelope{}, fmt.Errorf("events: exec required")
	}
	env, err := NewEnvelope(aggregate, correlationID, evt, opts...)
	if err != nil {
		return Envelope{}, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal envelope: %w", err)
	}
	if _, err := exec.Exec(ctx, insertOutbox, env.EventID, env.Aggregate, env.EventType, env.CorrelationID, env.OccurredAt, data); err != nil {
		return Envelope{}, fmt.Errorf("events: append %s: %w", env.EventType, err)
	}
	return env, nil
}
