package registration

import (
	"context"
	"time"

	"camphq/internal/fault"
)

// Store is the persistence surface the service needs. *Repository satisfies
// it; tests use an in-memory fake.
type Store interface {
	GetCamp(ctx context.Context, campID string) (*Camp, error)
	CreateCamp(ctx context.Context, c Camp) (Camp, error)
	Get(ctx context.Context, id string) (*Registration, error)
	CreateConfirmed(ctx context.Context, campID, athleteID string, now time.Time) (Registration, bool, error)
	SetStatus(ctx context.Context, id, from, to string, now time.Time) (bool, error)
	CapacityFor(ctx context.Context, campID string, now time.Time) (Capacity, error)
}

// Service owns the confirmed-registration side of capacity accounting: it is
// the capacity oracle the other engines read, and the only mutator of the
// confirmed count besides offer acceptance.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a service backed by a store.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// CreateCamp provisions a camp. Capacity is a hard ceiling from day one.
func (s *Service) CreateCamp(ctx context.Context, c Camp) (Camp, error) {
	if c.Name == "" || c.Capacity <= 0 {
		return Camp{}, fault.New(fault.InvalidTransition, "camp", "name and positive capacity required")
	}
	return s.store.CreateCamp(ctx, c)
}

// Capacity reports the camp's slot accounting.
func (s *Service) Capacity(ctx context.Context, campID string) (Capacity, error) {
	camp, err := s.store.GetCamp(ctx, campID)
	if err != nil {
		return Capacity{}, err
	}
	if camp == nil {
		return Capacity{}, fault.New(fault.NotFound, "camp", campID)
	}
	return s.store.CapacityFor(ctx, campID, s.now().UTC())
}

// Register creates a confirmed registration when a slot is free. Full camps
// go through the waitlist instead. The slot check happens inside the insert
// itself, so two concurrent signups observing the same free slot cannot both
// claim it.
func (s *Service) Register(ctx context.Context, campID, athleteID string) (Registration, error) {
	camp, err := s.store.GetCamp(ctx, campID)
	if err != nil {
		return Registration{}, err
	}
	if camp == nil {
		return Registration{}, fault.New(fault.NotFound, "camp", campID)
	}
	reg, ok, err := s.store.CreateConfirmed(ctx, campID, athleteID, s.now().UTC())
	if err != nil {
		return Registration{}, err
	}
	if !ok {
		return Registration{}, fault.New(fault.CapacityUnavailable, "camp", "no free slots; join the waitlist")
	}
	return reg, nil
}

// Confirm finalizes an accepted offer once the payment collaborator reports
// the checkout complete: accepted -> confirmed.
func (s *Service) Confirm(ctx context.Context, registrationID string) error {
	ok, err := s.store.SetStatus(ctx, registrationID, StatusAccepted, StatusConfirmed, s.now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return s.transitionFault(ctx, registrationID, StatusAccepted)
	}
	return nil
}

// Cancel releases a confirmed registration's slot: confirmed -> cancelled.
// The freed slot is picked up by the next waitlist sweep or manual offer.
func (s *Service) Cancel(ctx context.Context, registrationID string) error {
	ok, err := s.store.SetStatus(ctx, registrationID, StatusConfirmed, StatusCancelled, s.now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return s.transitionFault(ctx, registrationID, StatusConfirmed)
	}
	return nil
}

func (s *Service) transitionFault(ctx context.Context, registrationID, wanted string) error {
	reg, err := s.store.Get(ctx, registrationID)
	if err != nil {
		return err
	}
	if reg == nil {
		return fault.New(fault.NotFound, "registration", registrationID)
	}
	return fault.New(fault.InvalidTransition, "registration", "status is "+reg.Status+", want "+wanted)
}
