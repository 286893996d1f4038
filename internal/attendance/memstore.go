package attendance

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is a minimal in-memory Store for dev and tests. It honors the
// same conditional-update semantics as the Postgres repository: every
// transition checks the current status and reports false when the
// precondition fails.
type MemStore struct {
	mu        sync.Mutex
	days      map[string]*Day
	records   map[string]*Record
	confirmed map[string]map[string]bool // campID -> athleteID
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		days:      make(map[string]*Day),
		records:   make(map[string]*Record),
		confirmed: make(map[string]map[string]bool),
	}
}

func recordKey(campDayID, athleteID string) string { return campDayID + "|" + athleteID }

// AddDay seeds a camp day.
func (m *MemStore) AddDay(day Day) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if day.Status == "" {
		day.Status = DayNotStarted
	}
	copied := day
	m.days[day.ID] = &copied
}

// AddConfirmed seeds a confirmed registration.
func (m *MemStore) AddConfirmed(campID, athleteID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.confirmed[campID] == nil {
		m.confirmed[campID] = make(map[string]bool)
	}
	m.confirmed[campID][athleteID] = true
}

// DropConfirmed removes a confirmed registration (cancellation).
func (m *MemStore) DropConfirmed(campID, athleteID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.confirmed[campID], athleteID)
}

func (m *MemStore) CreateDay(_ context.Context, campID string, date time.Time, dayNumber int) (*Day, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	day := &Day{
		ID: uuid.NewString(), CampID: campID, Date: date, DayNumber: dayNumber,
		Status: DayNotStarted, CreatedAt: time.Now().UTC(),
	}
	m.days[day.ID] = day
	copied := *day
	return &copied, nil
}

func (m *MemStore) GetDay(_ context.Context, campDayID string) (*Day, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	day, ok := m.days[campDayID]
	if !ok {
		return nil, nil
	}
	copied := *day
	return &copied, nil
}

func (m *MemStore) SetDayStatus(_ context.Context, campDayID, to string, from ...string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	day, ok := m.days[campDayID]
	if !ok {
		return false, nil
	}
	if len(from) > 0 {
		matched := false
		for _, f := range from {
			if day.Status == f {
				matched = true
				break
			}
		}
		if !matched {
			return false, nil
		}
	}
	day.Status = to
	return true, nil
}

func (m *MemStore) SaveRecap(_ context.Context, campDayID string, recap []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if day, ok := m.days[campDayID]; ok {
		day.Recap = append([]byte(nil), recap...)
	}
	return nil
}

func (m *MemStore) EnsureRoster(_ context.Context, campDayID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	day, ok := m.days[campDayID]
	if !ok {
		return 0, nil
	}
	created := 0
	for athleteID := range m.confirmed[day.CampID] {
		key := recordKey(campDayID, athleteID)
		if _, exists := m.records[key]; exists {
			continue
		}
		m.records[key] = &Record{
			ID: uuid.NewString(), CampDayID: campDayID, AthleteID: athleteID,
			Status: StatusNotArrived, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		}
		created++
	}
	return created, nil
}

func (m *MemStore) EnsureRecord(_ context.Context, campDayID, athleteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	day, ok := m.days[campDayID]
	if !ok || !m.confirmed[day.CampID][athleteID] {
		return nil
	}
	key := recordKey(campDayID, athleteID)
	if _, exists := m.records[key]; !exists {
		m.records[key] = &Record{
			ID: uuid.NewString(), CampDayID: campDayID, AthleteID: athleteID,
			Status: StatusNotArrived, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		}
	}
	return nil
}

func (m *MemStore) Confirmed(_ context.Context, campDayID, athleteID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	day, ok := m.days[campDayID]
	if !ok {
		return false, nil
	}
	return m.confirmed[day.CampID][athleteID], nil
}

func (m *MemStore) Get(_ context.Context, campDayID, athleteID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordKey(campDayID, athleteID)]
	if !ok {
		return nil, nil
	}
	copied := *rec
	return &copied, nil
}

func (m *MemStore) Roster(_ context.Context, campDayID string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var roster []Record
	for _, rec := range m.records {
		if rec.CampDayID == campDayID {
			roster = append(roster, *rec)
		}
	}
	return roster, nil
}

func (m *MemStore) CheckedIn(_ context.Context, campDayID string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var recs []Record
	for _, rec := range m.records {
		if rec.CampDayID == campDayID && rec.Status == StatusCheckedIn {
			recs = append(recs, *rec)
		}
	}
	return recs, nil
}

func (m *MemStore) SetCheckedIn(_ context.Context, campDayID, athleteID string, at time.Time, method, actor string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordKey(campDayID, athleteID)]
	if !ok || (rec.Status != StatusNotArrived && rec.Status != StatusAbsent) {
		return false, nil
	}
	rec.Status = StatusCheckedIn
	rec.CheckInAt = &at
	rec.CheckInMethod = method
	rec.CheckInActor = actor
	rec.UpdatedAt = at
	return true, nil
}

func (m *MemStore) SetAbsent(_ context.Context, campDayID, athleteID string, at time.Time, actor, notes string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordKey(campDayID, athleteID)]
	if !ok || rec.Status != StatusNotArrived {
		return false, nil
	}
	rec.Status = StatusAbsent
	rec.CheckInActor = actor
	rec.Notes = notes
	rec.UpdatedAt = at
	return true, nil
}

func (m *MemStore) SetNotArrived(_ context.Context, campDayID, athleteID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordKey(campDayID, athleteID)]
	if !ok || rec.Status != StatusAbsent {
		return false, nil
	}
	rec.Status = StatusNotArrived
	rec.UpdatedAt = at
	return true, nil
}

func (m *MemStore) SetCheckedOut(_ context.Context, campDayID, athleteID string, at time.Time, pickup PickupPerson, verification, actor, note string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordKey(campDayID, athleteID)]
	if !ok || rec.Status != StatusCheckedIn {
		return false, nil
	}
	rec.Status = StatusCheckedOut
	rec.CheckOutAt = &at
	rec.PickupName = pickup.Name
	rec.PickupRelationship = pickup.Relationship
	rec.VerificationMethod = verification
	rec.CheckOutActor = actor
	if note != "" {
		if rec.Notes == "" {
			rec.Notes = note
		} else {
			rec.Notes += "\n" + note
		}
	}
	rec.UpdatedAt = at
	return true, nil
}

func (m *MemStore) StatusCounts(_ context.Context, campDayID string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[string]int{}
	for _, rec := range m.records {
		if rec.CampDayID == campDayID {
			counts[rec.Status]++
		}
	}
	return counts, nil
}
