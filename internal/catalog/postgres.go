package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DB is the subset of pgxpool.Pool the repository needs.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository reads the catalog tables maintained by the admin tools.
type PostgresRepository struct {
	db DB
}

func NewPostgresRepository(db DB) *PostgresRepository {
	if db == nil {
		panic("catalog: db required")
	}
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) ListServices(ctx context.Context) ([]Service, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, aliases, category, duration_minutes, price_cents, requires_advance, active
		FROM services WHERE active ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list services: %w", err)
	}
	defer rows.Close()

	var out []Service
	for rows.Next() {
		var svc Service
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.Aliases, &svc.Category, &svc.DurationMinutes,
			&svc.PriceCents, &svc.RequiresAdvance, &svc.Active); err != nil {
			return nil, fmt.Errorf("catalog: scan service: %w", err)
		}
		out = append(out, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: list services: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) GetStylist(ctx context.Context, id uuid.UUID) (*Stylist, error) {
	var st Stylist
	err := r.db.QueryRow(ctx, `
		SELECT id, name, category, calendar_id, active FROM stylists WHERE id = $1`, id,
	).Scan(&st.ID, &st.Name, &st.Category, &st.CalendarID, &st.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStylistNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get stylist: %w", err)
	}
	return &st, nil
}

func (r *PostgresRepository) ListStylists(ctx context.Context, category string) ([]Stylist, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, category, calendar_id, active FROM stylists
		WHERE active AND ($1 = '' OR category = $1)
		ORDER BY name`, category)
	if err != nil {
		return nil, fmt.Errorf("catalog: list stylists: %w", err)
	}
	defer rows.Close()

	var out []Stylist
	for rows.Next() {
		var st Stylist
		if err := rows.Scan(&st.ID, &st.Name, &st.Category, &st.CalendarID, &st.Active); err != nil {
			return nil, fmt.Errorf("catalog: scan stylist: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: list stylists: %w", err)
	}
	return out, nil
}

// GetOrCreateCustomer inserts the customer on first contact and otherwise
// returns the existing row untouched.
func (r *PostgresRepository) GetOrCreateCustomer(ctx context.Context, contact, displayName string) (*Customer, error) {
	key := NormalizeContact(contact)
	if key == "" {
		return nil, ErrInvalidContact
	}
	var c Customer
	err := r.db.QueryRow(ctx, `
		INSERT INTO customers (id, contact, display_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (contact) DO UPDATE SET contact = EXCLUDED.contact
		RETURNING id, contact, display_name, created_at`,
		uuid.New(), key, displayName,
	).Scan(&c.ID, &c.Contact, &c.DisplayName, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("catalog: get or create customer: %w", err)
	}
	return &c, nil
}
