package attendance

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"camphq/internal/fault"
	"camphq/internal/metrics"
	"camphq/internal/queue"
)

// Store is the persistence surface the tracker needs. *Repository satisfies
// it; tests use an in-memory fake.
type Store interface {
	GetDay(ctx context.Context, campDayID string) (*Day, error)
	CreateDay(ctx context.Context, campID string, date time.Time, dayNumber int) (*Day, error)
	SetDayStatus(ctx context.Context, campDayID, to string, from ...string) (bool, error)
	SaveRecap(ctx context.Context, campDayID string, recap []byte) error
	EnsureRoster(ctx context.Context, campDayID string) (int, error)
	EnsureRecord(ctx context.Context, campDayID, athleteID string) error
	Confirmed(ctx context.Context, campDayID, athleteID string) (bool, error)
	Get(ctx context.Context, campDayID, athleteID string) (*Record, error)
	Roster(ctx context.Context, campDayID string) ([]Record, error)
	CheckedIn(ctx context.Context, campDayID string) ([]Record, error)
	SetCheckedIn(ctx context.Context, campDayID, athleteID string, at time.Time, method, actor string) (bool, error)
	SetAbsent(ctx context.Context, campDayID, athleteID string, at time.Time, actor, notes string) (bool, error)
	SetNotArrived(ctx context.Context, campDayID, athleteID string, at time.Time) (bool, error)
	SetCheckedOut(ctx context.Context, campDayID, athleteID string, at time.Time, pickup PickupPerson, verification, actor, note string) (bool, error)
	StatusCounts(ctx context.Context, campDayID string) (map[string]int, error)
}

// Service owns the per-athlete presence state machine and the day lifecycle.
type Service struct {
	store   Store
	notifyQ queue.Queue
	now     func() time.Time
}

// NewService creates a service backed by a store. notifyQ may be nil when
// day-recap notifications are not wanted (tests, one-off tools).
func NewService(store Store, notifyQ queue.Queue) *Service {
	return &Service{store: store, notifyQ: notifyQ, now: time.Now}
}

func (s *Service) day(ctx context.Context, campDayID string) (*Day, error) {
	day, err := s.store.GetDay(ctx, campDayID)
	if err != nil {
		return nil, err
	}
	if day == nil {
		return nil, fault.New(fault.NotFound, "camp_day", campDayID)
	}
	return day, nil
}

// Roster returns the day's records, lazily materializing default not_arrived
// rows for every confirmed athlete the first time the day is viewed.
func (s *Service) Roster(ctx context.Context, campDayID string) ([]Record, error) {
	if _, err := s.day(ctx, campDayID); err != nil {
		return nil, err
	}
	if _, err := s.store.EnsureRoster(ctx, campDayID); err != nil {
		return nil, err
	}
	return s.store.Roster(ctx, campDayID)
}

// Record returns one athlete's record for the day.
func (s *Service) Record(ctx context.Context, campDayID, athleteID string) (*Record, error) {
	rec, err := s.store.Get(ctx, campDayID, athleteID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fault.New(fault.NotFound, "attendance", "no record for athlete on this day")
	}
	return rec, nil
}

// CheckedIn returns the day's currently checked_in records.
func (s *Service) CheckedIn(ctx context.Context, campDayID string) ([]Record, error) {
	if _, err := s.day(ctx, campDayID); err != nil {
		return nil, err
	}
	return s.store.CheckedIn(ctx, campDayID)
}

// Day returns the camp day itself.
func (s *Service) Day(ctx context.Context, campDayID string) (*Day, error) {
	return s.day(ctx, campDayID)
}

// CreateDay provisions one operating day on a camp's schedule, in not_started.
func (s *Service) CreateDay(ctx context.Context, campID string, date time.Time, dayNumber int) (*Day, error) {
	if campID == "" || date.IsZero() {
		return nil, fault.New(fault.InvalidTransition, "camp_day", "camp id and date required")
	}
	return s.store.CreateDay(ctx, campID, date, dayNumber)
}

// CheckIn transitions an athlete to checked_in. Re-check-in is rejected, not
// silently accepted: a second check-in timestamp would corrupt attendance
// statistics.
func (s *Service) CheckIn(ctx context.Context, campDayID, athleteID, method, actor string) (*Record, error) {
	if _, err := s.day(ctx, campDayID); err != nil {
		return nil, err
	}
	confirmed, err := s.store.Confirmed(ctx, campDayID, athleteID)
	if err != nil {
		return nil, err
	}
	if !confirmed {
		return nil, fault.New(fault.NotFound, "registration", "no confirmed registration for this camp")
	}
	if err := s.store.EnsureRecord(ctx, campDayID, athleteID); err != nil {
		return nil, err
	}
	ok, err := s.store.SetCheckedIn(ctx, campDayID, athleteID, s.now().UTC(), method, actor)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.transitionFault(ctx, campDayID, athleteID, "not_arrived or absent")
	}
	metrics.CheckIns.WithLabelValues(method).Inc()
	return s.store.Get(ctx, campDayID, athleteID)
}

// MarkAbsent records a no-show. Only valid from not_arrived; terminal for
// the day unless reverted.
func (s *Service) MarkAbsent(ctx context.Context, campDayID, athleteID, actor, notes string) (*Record, error) {
	if _, err := s.day(ctx, campDayID); err != nil {
		return nil, err
	}
	if err := s.store.EnsureRecord(ctx, campDayID, athleteID); err != nil {
		return nil, err
	}
	ok, err := s.store.SetAbsent(ctx, campDayID, athleteID, s.now().UTC(), actor, notes)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.transitionFault(ctx, campDayID, athleteID, StatusNotArrived)
	}
	metrics.Absences.Inc()
	return s.store.Get(ctx, campDayID, athleteID)
}

// RevertAbsence undoes a mistaken absent mark.
func (s *Service) RevertAbsence(ctx context.Context, campDayID, athleteID string) (*Record, error) {
	ok, err := s.store.SetNotArrived(ctx, campDayID, athleteID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.transitionFault(ctx, campDayID, athleteID, StatusAbsent)
	}
	return s.store.Get(ctx, campDayID, athleteID)
}

// CheckOut releases a checked_in athlete to the named adult. This is the
// single mutation point for every release path: typed-name at the desk,
// token redemption, manual override and the day-end sweep all write through
// here, so they share one audit trail and one first-writer-wins guard.
func (s *Service) CheckOut(ctx context.Context, campDayID, athleteID string, pickup PickupPerson, verification, actor, note string) (*Record, error) {
	if pickup.Name == "" {
		return nil, fault.New(fault.InvalidTransition, "attendance", "pickup person name required")
	}
	ok, err := s.store.SetCheckedOut(ctx, campDayID, athleteID, s.now().UTC(), pickup, verification, actor, note)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.transitionFault(ctx, campDayID, athleteID, StatusCheckedIn)
	}
	metrics.CheckOuts.WithLabelValues(verification).Inc()
	return s.store.Get(ctx, campDayID, athleteID)
}

// StartDay opens the day and materializes its roster.
func (s *Service) StartDay(ctx context.Context, campDayID string) (*Day, error) {
	if _, err := s.day(ctx, campDayID); err != nil {
		return nil, err
	}
	ok, err := s.store.SetDayStatus(ctx, campDayID, DayInProgress, DayNotStarted)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fault.New(fault.InvalidTransition, "camp_day", "day is not in not_started")
	}
	if _, err := s.store.EnsureRoster(ctx, campDayID); err != nil {
		return nil, err
	}
	return s.store.GetDay(ctx, campDayID)
}

// EndDay closes the day. With AutoCheckOut, every still-checked_in athlete
// is swept out with a day_end_sweep verification; per-athlete failures are
// reported individually and never block closing the day for the rest.
func (s *Service) EndDay(ctx context.Context, campDayID, actor string, opts EndOptions) (*EndResult, error) {
	if _, err := s.day(ctx, campDayID); err != nil {
		return nil, err
	}
	from := []string{DayInProgress}
	if opts.Force {
		from = nil
	}
	ok, err := s.store.SetDayStatus(ctx, campDayID, DayFinished, from...)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fault.New(fault.InvalidTransition, "camp_day", "day is not in in_progress (use force to re-close)")
	}

	result := &EndResult{}
	if opts.AutoCheckOut {
		stragglers, err := s.store.CheckedIn(ctx, campDayID)
		if err != nil {
			return nil, err
		}
		for _, rec := range stragglers {
			_, err := s.CheckOut(ctx, campDayID, rec.AthleteID,
				PickupPerson{Name: actor, Relationship: "staff"}, VerifyDayEndSweep, actor, "closed out at day end")
			outcome := Outcome{AthleteID: rec.AthleteID, OK: err == nil}
			if err != nil {
				if fault.CodeOf(err) == "" {
					return nil, err
				}
				outcome.Error = err.Error()
			} else {
				result.Recap.SweptOut++
			}
			result.Outcomes = append(result.Outcomes, outcome)
		}
	}

	counts, err := s.store.StatusCounts(ctx, campDayID)
	if err != nil {
		return nil, err
	}
	result.Recap.CheckedOut = counts[StatusCheckedOut]
	result.Recap.Absent = counts[StatusAbsent]
	result.Recap.NoShows = counts[StatusNotArrived]
	result.Recap.Notes = opts.Notes
	result.Recap.ClosedAt = s.now().UTC()
	result.Recap.ClosedBy = actor

	payload, err := json.Marshal(result.Recap)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveRecap(ctx, campDayID, payload); err != nil {
		return nil, err
	}

	day, err := s.store.GetDay(ctx, campDayID)
	if err != nil {
		return nil, err
	}
	result.Day = *day

	if opts.Notify && s.notifyQ != nil {
		if err := s.notifyQ.Publish(ctx, queue.Message{Type: "day_recap", Body: payload}); err != nil {
			log.Printf("day recap enqueue failed for %s: %v", campDayID, err)
		}
	}
	return result, nil
}

// MarkAbsentSweep marks every still-not_arrived athlete absent, reporting
// per-athlete outcomes.
func (s *Service) MarkAbsentSweep(ctx context.Context, campDayID, actor string) ([]Outcome, error) {
	roster, err := s.Roster(ctx, campDayID)
	if err != nil {
		return nil, err
	}
	var outcomes []Outcome
	for _, rec := range roster {
		if rec.Status != StatusNotArrived {
			continue
		}
		_, err := s.MarkAbsent(ctx, campDayID, rec.AthleteID, actor, "no-show sweep")
		outcome := Outcome{AthleteID: rec.AthleteID, OK: err == nil}
		if err != nil {
			if fault.CodeOf(err) == "" {
				return nil, err
			}
			outcome.Error = err.Error()
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (s *Service) transitionFault(ctx context.Context, campDayID, athleteID, wanted string) error {
	rec, err := s.store.Get(ctx, campDayID, athleteID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fault.New(fault.NotFound, "attendance", "no record for athlete on this day")
	}
	return fault.New(fault.InvalidTransition, "attendance", "status is "+rec.Status+", want "+wanted)
}
