package waitlist

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"camphq/internal/registration"
)

type memEntry struct {
	Entry
	digest string
}

// MemStore is an in-memory Store and CapacityOracle for dev and tests. It
// reproduces the Postgres repository's conditional-update semantics, in
// particular the single-step capacity check inside MarkOffered.
type MemStore struct {
	mu      sync.Mutex
	caps    map[string]int // campID -> capacity
	emails  map[string]string
	entries map[string]*memEntry // registrationID -> entry
	seq     int64
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		caps:    make(map[string]int),
		emails:  make(map[string]string),
		entries: make(map[string]*memEntry),
	}
}

// SetCamp seeds a camp's capacity.
func (m *MemStore) SetCamp(campID string, capacity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caps[campID] = capacity
}

// SetGuardianEmail seeds an athlete's guardian contact.
func (m *MemStore) SetGuardianEmail(athleteID, email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emails[athleteID] = email
}

// SeedRegistration inserts a registration in an arbitrary status, for
// example confirmed rows that consume capacity without being queue members.
func (m *MemStore) SeedRegistration(campID, athleteID, status string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := uuid.NewString()
	m.entries[id] = &memEntry{Entry: Entry{
		RegistrationID: id, CampID: campID, AthleteID: athleteID,
		Status: status, WaitlistedAt: time.Now().UTC(), Seq: m.seq,
	}}
	return id
}

// SetStatus force-sets a registration's status (cancellations in tests).
func (m *MemStore) SetStatus(registrationID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[registrationID]; ok {
		e.Status = status
	}
}

func (m *MemStore) Append(_ context.Context, campID, athleteID string, at time.Time) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := uuid.NewString()
	e := &memEntry{Entry: Entry{
		RegistrationID: id, CampID: campID, AthleteID: athleteID,
		GuardianEmail: m.emails[athleteID],
		Status:        registration.StatusWaitlisted, WaitlistedAt: at, Seq: m.seq,
	}}
	m.entries[id] = e
	return e.Entry, nil
}

func (m *MemStore) Get(_ context.Context, registrationID string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[registrationID]
	if !ok {
		return nil, nil
	}
	copied := e.Entry
	return &copied, nil
}

func (m *MemStore) Find(_ context.Context, campID, athleteID string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.CampID == campID && e.AthleteID == athleteID {
			copied := e.Entry
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *MemStore) ordered(campID string, statuses ...string) []*memEntry {
	want := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []*memEntry
	for _, e := range m.entries {
		if e.CampID == campID && want[e.Status] {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].WaitlistedAt.Equal(out[j].WaitlistedAt) {
			return out[i].WaitlistedAt.Before(out[j].WaitlistedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

func (m *MemStore) List(_ context.Context, campID string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []Entry
	for _, e := range m.ordered(campID, registration.StatusWaitlisted, registration.StatusOffered) {
		copied := e.Entry
		copied.Position = len(entries) + 1
		entries = append(entries, copied)
	}
	return entries, nil
}

func (m *MemStore) NextWaitlisted(_ context.Context, campID string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	queue := m.ordered(campID, registration.StatusWaitlisted)
	if len(queue) == 0 {
		return nil, nil
	}
	copied := queue[0].Entry
	return &copied, nil
}

func (m *MemStore) CampsWithWaitlisted(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var camps []string
	for _, e := range m.entries {
		if e.Status == registration.StatusWaitlisted && !seen[e.CampID] {
			seen[e.CampID] = true
			camps = append(camps, e.CampID)
		}
	}
	sort.Strings(camps)
	return camps, nil
}

func (m *MemStore) Rejoin(_ context.Context, registrationID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[registrationID]
	if !ok {
		return false, nil
	}
	switch e.Status {
	case registration.StatusCancelled, registration.StatusExpired, registration.StatusRemoved:
	default:
		return false, nil
	}
	m.seq++
	e.Status = registration.StatusWaitlisted
	e.WaitlistedAt = at
	e.Seq = m.seq
	e.digest = ""
	e.OfferIssuedAt = nil
	e.OfferExpiresAt = nil
	return true, nil
}

// slotsTaken counts confirmed/accepted registrations plus offers still live
// at the given instant.
func (m *MemStore) slotsTaken(campID string, now time.Time) int {
	taken := 0
	for _, e := range m.entries {
		if e.CampID != campID {
			continue
		}
		switch e.Status {
		case registration.StatusConfirmed, registration.StatusAccepted:
			taken++
		case registration.StatusOffered:
			if e.OfferExpiresAt != nil && e.OfferExpiresAt.After(now) {
				taken++
			}
		}
	}
	return taken
}

func (m *MemStore) MarkOffered(_ context.Context, registrationID, digest string, issuedAt, expiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[registrationID]
	if !ok || e.Status != registration.StatusWaitlisted {
		return false, nil
	}
	if m.caps[e.CampID] <= m.slotsTaken(e.CampID, issuedAt) {
		return false, nil
	}
	e.Status = registration.StatusOffered
	e.digest = digest
	issued, expires := issuedAt, expiresAt
	e.OfferIssuedAt = &issued
	e.OfferExpiresAt = &expires
	return true, nil
}

func (m *MemStore) AcceptByDigest(_ context.Context, digest string, now time.Time) (AcceptOutcome, *Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var e *memEntry
	for _, candidate := range m.entries {
		if candidate.digest != "" && candidate.digest == digest {
			e = candidate
			break
		}
	}
	if e == nil {
		return AcceptNotFound, nil, nil
	}

	switch e.Status {
	case registration.StatusAccepted, registration.StatusConfirmed:
		copied := e.Entry
		return AcceptAlreadyUsed, &copied, nil
	case registration.StatusExpired:
		copied := e.Entry
		return AcceptExpired, &copied, nil
	case registration.StatusOffered:
	default:
		copied := e.Entry
		return AcceptNotOffered, &copied, nil
	}

	if e.OfferExpiresAt != nil && !now.Before(*e.OfferExpiresAt) {
		e.Status = registration.StatusExpired
		copied := e.Entry
		return AcceptExpired, &copied, nil
	}
	e.Status = registration.StatusAccepted
	copied := e.Entry
	return AcceptOK, &copied, nil
}

func (m *MemStore) ExpireOverdue(_ context.Context, now time.Time) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []Entry
	for _, e := range m.entries {
		if e.Status == registration.StatusOffered && e.OfferExpiresAt != nil && !now.Before(*e.OfferExpiresAt) {
			e.Status = registration.StatusExpired
			expired = append(expired, e.Entry)
		}
	}
	return expired, nil
}

func (m *MemStore) MarkRemoved(_ context.Context, registrationID string, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[registrationID]
	if !ok || (e.Status != registration.StatusWaitlisted && e.Status != registration.StatusOffered) {
		return false, nil
	}
	e.Status = registration.StatusRemoved
	return true, nil
}

// CapacityFor reports the camp's slot accounting, satisfying CapacityOracle.
func (m *MemStore) CapacityFor(_ context.Context, campID string, now time.Time) (registration.Capacity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := registration.Capacity{CampID: campID, Capacity: m.caps[campID]}
	for _, e := range m.entries {
		if e.CampID != campID {
			continue
		}
		switch e.Status {
		case registration.StatusConfirmed, registration.StatusAccepted:
			c.Consumed++
		case registration.StatusOffered:
			if e.OfferExpiresAt != nil && e.OfferExpiresAt.After(now) {
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
