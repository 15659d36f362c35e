package bootstrap

import (
	"github.com/wolfman30/salon-booking-engine/internal/catalog"
)

// SeedCatalog fills an in-memory catalog with a small salon so the
// development server can take bookings without a database.
func SeedCatalog(repo *catalog.MemoryRepository) {
	for _, st := range []catalog.Stylist{
		{Name: "Lucia", Category: "hair", CalendarID: "lucia@salon.local", Active: true},
		{Name: "Carmen", Category: "hair", CalendarID: "carmen@salon.local", Active: true},
		{Name: "Marta", Category: "nails", CalendarID: "marta@salon.local", Active: true},
	} {
		repo.AddStylist(st)
	}
	for _, svc := range []catalog.Service{
		{Name: "Corte caballero", Category: "hair", DurationMinutes: 30, PriceCents: 1500, Active: true},
		{Name: "Corte y peinado", Aliases: []string{"corte mujer"}, Category: "hair", DurationMinutes: 60, PriceCents: 3500, Active: true},
		{Name: "Corte y color", Aliases: []string{"tinte"}, Category: "hair", DurationMinutes: 90, PriceCents: 6000, RequiresAdvance: true, Active: true},
		{Name: "Mechas", Category: "hair", DurationMinutes: 120, PriceCents: 8000, RequiresAdvance: true, Active: true},
		{Name: "Manicura", Category: "nails", DurationMinutes: 45, PriceCents: 2000, Active: true},
		{Name: "Pedicura", Category: "nails", DurationMinutes: 60, PriceCents: 2800, Active: true},
	} {
		repo.AddService(svc)
	}
}
