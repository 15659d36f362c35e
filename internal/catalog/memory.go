package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process catalog used by the dev server and tests.
type MemoryRepository struct {
	mu        sync.RWMutex
	services  []Service
	stylists  map[uuid.UUID]Stylist
	customers map[string]Customer
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		stylists:  make(map[uuid.UUID]Stylist),
		customers: make(map[string]Customer),
	}
}

func (r *MemoryRepository) AddService(svc Service) Service {
	r.mu.Lock()
	defer r.mu.Unlock()
	if svc.ID == uuid.Nil {
		svc.ID = uuid.New()
	}
	r.services = append(r.services, svc)
	return svc
}

func (r *MemoryRepository) AddStylist(st Stylist) Stylist {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st.ID == uuid.Nil {
		st.ID = uuid.New()
	}
	r.stylists[st.ID] = st
	return st
}

func (r *MemoryRepository) ListServices(ctx context.Context) ([]Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Service(nil), r.services...), nil
}

func (r *MemoryRepository) GetStylist(ctx context.Context, id uuid.UUID) (*Stylist, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.stylists[id]
	if !ok {
		return nil, ErrStylistNotFound
	}
	return &st, nil
}

func (r *MemoryRepository) ListStylists(ctx context.Context, category string) ([]Stylist, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Stylist
	for _, st := range r.stylists {
		if !st.Active || (category != "" && st.Category != category) {
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ActiveStylistIDs lists every active stylist id.
func (r *MemoryRepository) ActiveStylistIDs() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []uuid.UUID
	for id, st := range r.stylists {
		if st.Active {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *MemoryRepository) GetOrCreateCustomer(ctx context.Context, contact, displayName string) (*Customer, error) {
	key := NormalizeContact(contact)
	if key == "" {
		return nil, ErrInvalidContact
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.customers[key]; ok {
		return &c, nil
	}
	c := Customer{ID: uuid.New(), Contact: key, DisplayName: displayName, CreatedAt: time.Now().UTC()}
	r.customers[key] = c
	return &c, nil
}
