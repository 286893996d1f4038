package registration

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store for dev and tests, with the same
// conditional-update transition semantics as the Postgres repository.
type MemStore struct {
	mu    sync.Mutex
	camps map[string]*Camp
	regs  map[string]*Registration
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{camps: make(map[string]*Camp), regs: make(map[string]*Registration)}
}

// AddCamp seeds a camp.
func (m *MemStore) AddCamp(camp Camp) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := camp
	m.camps[camp.ID] = &copied
}

// Seed inserts a registration in an arbitrary status.
func (m *MemStore) Seed(campID, athleteID, status string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.regs[id] = &Registration{ID: id, CampID: campID, AthleteID: athleteID, Status: status}
	return id
}

func (m *MemStore) CreateCamp(_ context.Context, c Camp) (Camp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now().UTC()
	copied := c
	m.camps[c.ID] = &copied
	return c, nil
}

func (m *MemStore) GetCamp(_ context.Context, campID string) (*Camp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	camp, ok := m.camps[campID]
	if !ok {
		return nil, nil
	}
	copied := *camp
	return &copied, nil
}

func (m *MemStore) Get(_ context.Context, id string) (*Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.regs[id]
	if !ok {
		return nil, nil
	}
	copied := *reg
	return &copied, nil
}

func (m *MemStore) CreateConfirmed(_ context.Context, campID, athleteID string, now time.Time) (Registration, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	camp, ok := m.camps[campID]
	if !ok {
		return Registration{}, false, nil
	}
	taken := 0
	for _, reg := range m.regs {
		if reg.CampID != campID {
			continue
		}
		switch reg.Status {
		case StatusConfirmed, StatusAccepted:
			taken++
		case StatusOffered:
			if reg.OfferExpiresAt != nil && reg.OfferExpiresAt.After(now) {
				taken++
			}
		}
	}
	if camp.Capacity <= taken {
		return Registration{}, false, nil
	}
	reg := &Registration{
		ID: uuid.NewString(), CampID: campID, AthleteID: athleteID,
		Status: StatusConfirmed, CreatedAt: now, UpdatedAt: now,
	}
	m.regs[reg.ID] = reg
	return *reg, true, nil
}

func (m *MemStore) SetStatus(_ context.Context, id, from, to string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.regs[id]
	if !ok || reg.Status != from {
		return false, nil
	}
	reg.Status = to
	reg.UpdatedAt = now
	return true, nil
}

func (m *MemStore) CapacityFor(_ context.Context, campID string, now time.Time) (Capacity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := Capacity{CampID: campID}
	if camp, ok := m.camps[campID]; ok {
		c.Capacity = camp.Capacity
	}
	for _, reg := range m.regs {
		if reg.CampID != campID {
			continue
		}
		switch reg.Status {
		case StatusConfirmed, StatusAccepted:
			c.Consumed++
		case StatusOffered:
			if reg.OfferExpiresAt != nil && reg.OfferExpiresAt.After(now) {
				c.LiveOffers++
			}
		}
	}
	c.Free = c.Capacity - c.Consumed - c.LiveOffers
	if c.Free < 0 {
		c.Free = 0
	}
	return c, nil
}
