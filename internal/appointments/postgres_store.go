package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/salon-booking-engine/internal/events"
)

// DB abstracts the pgx pool so the store can run against pgxmock.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists appointments in Postgres. Exclusivity relies on the
// stylist row lock taken in Reserve, backed by the appointments_no_overlap
// exclusion constraint.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	if db == nil {
		panic("appointments: db required")
	}
	return &PostgresStore{db: db}
}

const appointmentColumns = `id, customer_id, resource_id, service_ids, start_at, duration_minutes, buffer_minutes,
	total_price_cents, advance_cents, status, calendar_event_ref, payment_link, payment_session_ref, payment_ref,
	hold_expires_at, confirmation_requested_at, confirmed_at, cancelled_at, expired_at, completed_at, cancel_reason,
	created_at, updated_at`

var activeStatusNames = []string{string(StatusProvisional), string(StatusPending), string(StatusConfirmed)}

const pgExclusionViolation = "23P01"

func (s *PostgresStore) Reserve(ctx context.Context, a *Appointment) error {
	if a == nil {
		return fmt.Errorf("appointments: reserve: nil appointment")
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("appointments: reserve: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM stylists WHERE id = $1 AND active FOR UPDATE`, a.ResourceID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrResourceUnavailable
	}
	if err != nil {
		return fmt.Errorf("appointments: reserve: lock stylist: %w", err)
	}

	var conflict uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT id FROM appointments
		WHERE resource_id = $1 AND status = ANY($2) AND start_at < $4 AND blocked_until > $3
		LIMIT 1`,
		a.ResourceID, activeStatusNames, a.StartAt, a.BlockedUntil(),
	).Scan(&conflict)
	switch {
	case err == nil:
		return ErrSlotTaken
	case !errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("appointments: reserve: overlap check: %w", err)
	}

	now := time.Now().UTC()
	a.Status = StatusProvisional
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.HoldExpiresAt == nil {
		expires := now.Add(DefaultHoldTimeout)
		a.HoldExpiresAt = &expires
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO appointments (id, customer_id, resource_id, service_ids, start_at, duration_minutes, buffer_minutes,
			blocked_until, total_price_cents, advance_cents, status, hold_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		a.ID, a.CustomerID, a.ResourceID, serviceIDStrings(a.ServiceIDs), a.StartAt, a.DurationMinutes, a.BufferMinutes,
		a.BlockedUntil(), a.TotalPriceCents, a.AdvanceCents, string(a.Status), a.HoldExpiresAt, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isExclusionViolation(err) {
			return ErrSlotTaken
		}
		return fmt.Errorf("appointments: reserve: insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		if isExclusionViolation(err) {
			return ErrSlotTaken
		}
		return fmt.Errorf("appointments: reserve: commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) Discard(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `DELETE FROM appointments WHERE id = $1 AND status = ANY($2)`, id, activeStatusNames)
	if err != nil {
		return fmt.Errorf("appointments: discard: %w", err)
	}
	return nil
}

func (s *PostgresStore) Abandon(ctx context.Context, id uuid.UUID, calendarRef string) error {
	return s.execOne(ctx, "abandon", `
		UPDATE appointments
		SET status = 'CANCELLED', cancel_reason = $2, cancelled_at = now(), calendar_event_ref = $3, updated_at = now()
		WHERE id = $1 AND status = 'PROVISIONAL'`, id, AbandonedReason, calendarRef)
}

func (s *PostgresStore) AttachCalendarEvent(ctx context.Context, id uuid.UUID, ref string) error {
	return s.execOne(ctx, "attach calendar event",
		`UPDATE appointments SET calendar_event_ref = $2, updated_at = now() WHERE id = $1`, id, ref)
}

func (s *PostgresStore) ClearCalendarEvent(ctx context.Context, id uuid.UUID) error {
	return s.execOne(ctx, "clear calendar event",
		`UPDATE appointments SET calendar_event_ref = '', updated_at = now() WHERE id = $1`, id)
}

func (s *PostgresStore) AttachPaymentRequest(ctx context.Context, id uuid.UUID, req PaymentRequest) error {
	return s.execOne(ctx, "attach payment request", `
		UPDATE appointments
		SET payment_link = $2, payment_session_ref = $3, hold_expires_at = $4, updated_at = now()
		WHERE id = $1`, id, req.Link, req.SessionRef, req.HoldExpiresAt.UTC())
}

func (s *PostgresStore) execOne(ctx context.Context, op, query string, args ...any) error {
	ct, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("appointments: %s: %w", op, err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := s.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	a, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: get: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*Appointment, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("appointments: mutate: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id)
	a, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: mutate: load: %w", err)
	}

	original := a.Clone()
	notes, err := fn(a)
	if err != nil {
		if errors.Is(err, ErrNoChange) {
			return original, err
		}
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2, payment_ref = $3, confirmation_requested_at = $4, confirmed_at = $5,
			cancelled_at = $6, expired_at = $7, completed_at = $8, cancel_reason = $9, updated_at = now()
		WHERE id = $1`,
		a.ID, string(a.Status), a.PaymentRef, a.ConfirmationRequestedAt, a.ConfirmedAt,
		a.CancelledAt, a.ExpiredAt, a.CompletedAt, a.CancelReason,
	)
	if err != nil {
		return nil, fmt.Errorf("appointments: mutate: update: %w", err)
	}
	for _, n := range notes {
		if _, err := events.AppendCanonicalEvent(ctx, tx, n.Aggregate(), a.ID.String(), n); err != nil {
			return nil, fmt.Errorf("appointments: mutate: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("appointments: mutate: commit: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListBlocking(ctx context.Context, resourceID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	return s.list(ctx, "list blocking", `
		WHERE resource_id = $1 AND status = ANY($2) AND start_at < $4 AND blocked_until > $3
		ORDER BY start_at`, resourceID, activeStatusNames, from, to)
}

func (s *PostgresStore) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]Appointment, error) {
	return s.list(ctx, "list expired holds", `
		WHERE status = 'PROVISIONAL' AND payment_ref = '' AND hold_expires_at <= $1
		ORDER BY hold_expires_at
		LIMIT $2`, now, limit)
}

func (s *PostgresStore) ListConfirmationDue(ctx context.Context, startFrom, startTo time.Time, limit int) ([]Appointment, error) {
	return s.list(ctx, "list confirmation due", `
		WHERE status = 'PENDING' AND confirmation_requested_at IS NULL AND start_at BETWEEN $1 AND $2
		ORDER BY start_at
		LIMIT $3`, startFrom, startTo, limit)
}

func (s *PostgresStore) ListReplyOverdue(ctx context.Context, requestedBefore time.Time, limit int) ([]Appointment, error) {
	return s.list(ctx, "list reply overdue", `
		WHERE status = 'PENDING' AND confirmation_requested_at IS NOT NULL AND confirmation_requested_at <= $1
		ORDER BY confirmation_requested_at
		LIMIT $2`, requestedBefore, limit)
}

func (s *PostgresStore) ListUnreleasedHolds(ctx context.Context, limit int) ([]Appointment, error) {
	return s.list(ctx, "list unreleased holds", `
		WHERE status IN ('EXPIRED', 'CANCELLED') AND calendar_event_ref <> ''
		ORDER BY updated_at
		LIMIT $1`, limit)
}

func (s *PostgresStore) list(ctx context.Context, op, where string, args ...any) ([]Appointment, error) {
	rows, err := s.db.Query(ctx, `SELECT `+appointmentColumns+` FROM appointments `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("appointments: %s: %w", op, err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("appointments: %s: scan: %w", op, err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("appointments: %s: %w", op, err)
	}
	return out, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string
	var serviceIDs []string
	err := row.Scan(
		&a.ID, &a.CustomerID, &a.ResourceID, &serviceIDs, &a.StartAt, &a.DurationMinutes, &a.BufferMinutes,
		&a.TotalPriceCents, &a.AdvanceCents, &status, &a.CalendarEventRef, &a.PaymentLink, &a.PaymentSessionRef, &a.PaymentRef,
		&a.HoldExpiresAt, &a.ConfirmationRequestedAt, &a.ConfirmedAt, &a.CancelledAt, &a.ExpiredAt, &a.CompletedAt, &a.CancelReason,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = Status(status)
	for _, raw := range serviceIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("service id %q: %w", raw, err)
		}
		a.ServiceIDs = append(a.ServiceIDs, id)
	}
	return &a, nil
}

func serviceIDStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation
}
