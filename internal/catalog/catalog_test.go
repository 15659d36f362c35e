package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServices() []Service {
	return []Service{
		{ID: uuid.New(), Name: "Women's Haircut", Aliases: []string{"corte mujer"}, Category: "hair", DurationMinutes: 45, PriceCents: 3500, Active: true},
		{ID: uuid.New(), Name: "Men's Haircut", Category: "hair", DurationMinutes: 30, PriceCents: 2000, Active: true},
		{ID: uuid.New(), Name: "Full Colour", Aliases: []string{"tinte"}, Category: "hair", DurationMinutes: 90, PriceCents: 5000, RequiresAdvance: true, Active: true},
		{ID: uuid.New(), Name: "Manicure", Category: "nails", DurationMinutes: 40, PriceCents: 2500, Active: true},
		{ID: uuid.New(), Name: "Pedicure", Category: "nails", DurationMinutes: 50, PriceCents: 3000, Active: false},
	}
}

func TestResolveServices(t *testing.T) {
	all := testServices()

	tests := []struct {
		name    string
		query   []string
		want    []string
		wantErr error
	}{
		{name: "exact name", query: []string{"manicure"}, want: []string{"Manicure"}},
		{name: "alias", query: []string{"Tinte"}, want: []string{"Full Colour"}},
		{name: "substring", query: []string{"colour"}, want: []string{"Full Colour"}},
		{name: "order preserved", query: []string{"tinte", "men's haircut"}, want: []string{"Full Colour", "Men's Haircut"}},
		{name: "exact beats substring", query: []string{"men's haircut"}, want: []string{"Men's Haircut"}},
		{name: "ambiguous", query: []string{"haircut"}, wantErr: ErrServiceAmbiguous},
		{name: "unknown", query: []string{"massage"}, wantErr: ErrServiceNotFound},
		{name: "inactive ignored", query: []string{"pedicure"}, wantErr: ErrServiceNotFound},
		{name: "empty request", query: nil, wantErr: ErrServiceNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveServices(all, tt.query)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			var names []string
			for _, svc := range got {
				names = append(names, svc.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestResolveServicesAmbiguousListsCandidates(t *testing.T) {
	_, err := ResolveServices(testServices(), []string{"haircut"})
	var amb *AmbiguousError
	require.True(t, errors.As(err, &amb))
	assert.Equal(t, []string{"Men's Haircut", "Women's Haircut"}, amb.Candidates)
}

func TestSingleCategory(t *testing.T) {
	all := testServices()
	cat, err := SingleCategory(all[:3])
	require.NoError(t, err)
	assert.Equal(t, "hair", cat)

	_, err = SingleCategory([]Service{all[0], all[3]})
	assert.ErrorIs(t, err, ErrCategoryMismatch)
}

func TestQuoteFor(t *testing.T) {
	all := testServices()

	q := QuoteFor([]Service{all[2]}, 20)
	assert.Equal(t, 90, q.DurationMinutes)
	assert.Equal(t, int64(5000), q.TotalCents)
	assert.Equal(t, int64(1000), q.AdvanceCents)

	q = QuoteFor([]Service{all[0], all[2]}, 15)
	assert.Equal(t, 135, q.DurationMinutes)
	assert.Equal(t, int64(8500), q.TotalCents)
	assert.Equal(t, int64(750), q.AdvanceCents, "only services requiring an advance count")

	q = QuoteFor([]Service{{PriceCents: 333, RequiresAdvance: true}}, 50)
	assert.Equal(t, int64(167), q.AdvanceCents, "half cents round up")

	q = QuoteFor([]Service{all[1]}, 20)
	assert.Zero(t, q.AdvanceCents)
}

func TestNormalizeContact(t *testing.T) {
	assert.Equal(t, "+34600111222", NormalizeContact(" +34 600-111-222 "))
	assert.Equal(t, "ana@example.com", NormalizeContact("Ana@Example.com "))
	assert.Empty(t, NormalizeContact("   "))
}

func TestMemoryRepository(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	a := repo.AddStylist(Stylist{Name: "Marta", Category: "hair", Active: true})
	repo.AddStylist(Stylist{Name: "Luis", Category: "nails", Active: true})
	repo.AddStylist(Stylist{Name: "Ines", Category: "hair", Active: false})

	hair, err := repo.ListStylists(ctx, "hair")
	require.NoError(t, err)
	require.Len(t, hair, 1)
	assert.Equal(t, a.ID, hair[0].ID)

	_, err = repo.GetStylist(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrStylistNotFound)

	c1, err := repo.GetOrCreateCustomer(ctx, "+34 600 111 222", "Ana")
	require.NoError(t, err)
	c2, err := repo.GetOrCreateCustomer(ctx, "+34600111222", "Someone else")
	require.NoError(t, err)
	assert.Equal(t, c1.ID, c2.ID)
	assert.Equal(t, "Ana", c2.DisplayName)

	_, err = repo.GetOrCreateCustomer(ctx, "", "x")
	assert.ErrorIs(t, err, ErrInvalidContact)
}
