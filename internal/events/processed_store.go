package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// dedupeDB is the part of a pgx pool the processed store needs.
type dedupeDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore remembers payment provider deliveries keyed by
// (provider, event id). Webhook handlers mark an event only after the
// confirmation it carries has committed, so a failed one is redelivered.
type ProcessedStore struct {
	db dedupeDB
}

func NewProcessedStore(db dedupeDB) *ProcessedStore {
	if db == nil {
		panic("events: processed store requires a database")
	}
	return &ProcessedStore{db: db}
}

func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	var seen bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE provider = $1 AND event_id = $2)`,
		provider, eventID,
	).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("events: lookup %s delivery %s: %w", provider, eventID, err)
	}
	return seen, nil
}

// MarkProcessed reports whether this call recorded the event; false means
// another delivery got there first.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO processed_events (provider, event_id) VALUES ($1, $2) ON CONFLICT (provider, event_id) DO NOTHING`,
		provider, eventID,
	)
	if err != nil {
		return false, fmt.Errorf("events: record %s delivery %s: %w", provider, eventID, err)
	}
	return tag.RowsAffected() == 1, nil
}

type deliveryKey struct {
	provider string
	eventID  string
}

// MemoryProcessedStore is the in-process variant used with the memory appointment store.
type MemoryProcessedStore struct {
	mu   sync.Mutex
	seen map[deliveryKey]bool
}

func NewMemoryProcessedStore() *MemoryProcessedStore {
	return &MemoryProcessedStore{seen: make(map[deliveryKey]bool)}
}

func (s *MemoryProcessedStore) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[deliveryKey{provider, eventID}], nil
}

func (s *MemoryProcessedStore) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := deliveryKey{provider, eventID}
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	return true, nil
}
