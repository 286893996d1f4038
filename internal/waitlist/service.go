package waitlist

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"camphq/internal/fault"
	"camphq/internal/metrics"
	"camphq/internal/queue"
	"camphq/internal/registration"
	"camphq/internal/secret"
)

// Store is the persistence surface the engine needs. *Repository satisfies
// it; tests use an in-memory fake.
type Store interface {
	Append(ctx context.Context, campID, athleteID string, at time.Time) (Entry, error)
	Get(ctx context.Context, registrationID string) (*Entry, error)
	Find(ctx context.Context, campID, athleteID string) (*Entry, error)
	List(ctx context.Context, campID string) ([]Entry, error)
	NextWaitlisted(ctx context.Context, campID string) (*Entry, error)
	CampsWithWaitlisted(ctx context.Context) ([]string, error)
	Rejoin(ctx context.Context, registrationID string, at time.Time) (bool, error)
	MarkOffered(ctx context.Context, registrationID, digest string, issuedAt, expiresAt time.Time) (bool, error)
	AcceptByDigest(ctx context.Context, digest string, now time.Time) (AcceptOutcome, *Entry, error)
	ExpireOverdue(ctx context.Context, now time.Time) ([]Entry, error)
	MarkRemoved(ctx context.Context, registrationID string, now time.Time) (bool, error)
}

// CapacityOracle reads the camp's slot accounting; the registration
// repository provides it. Used only to diagnose why an offer was refused;
// the authoritative capacity check rides inside MarkOffered.
type CapacityOracle interface {
	CapacityFor(ctx context.Context, campID string, now time.Time) (registration.Capacity, error)
}

// Service keeps the waitlist moving: FIFO joins, capacity-guarded offers,
// acceptance, and the idempotent expiry sweep.
type Service struct {
	store   Store
	oracle  CapacityOracle
	notifyQ queue.Queue
	window  time.Duration
	now     func() time.Time
}

// NewService creates a service. window is the offer acceptance window;
// notifyQ may be nil when offer notifications are not wanted.
func NewService(store Store, oracle CapacityOracle, notifyQ queue.Queue, window time.Duration) *Service {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Service{store: store, oracle: oracle, notifyQ: notifyQ, window: window, now: time.Now}
}

// Join appends a family to the back of the camp's FIFO queue. A pair whose
// earlier registration ended terminally (cancelled, expired, removed) re-enters
// at the back by reusing its row; any stale offer token dies with the rejoin.
func (s *Service) Join(ctx context.Context, campID, athleteID string) (Entry, error) {
	existing, err := s.store.Find(ctx, campID, athleteID)
	if err != nil {
		return Entry{}, err
	}
	if existing == nil {
		return s.store.Append(ctx, campID, athleteID, s.now().UTC())
	}
	switch existing.Status {
	case registration.StatusCancelled, registration.StatusExpired, registration.StatusRemoved:
		ok, err := s.store.Rejoin(ctx, existing.RegistrationID, s.now().UTC())
		if err != nil {
			return Entry{}, err
		}
		if !ok {
			return Entry{}, fault.New(fault.InvalidTransition, "waitlist", "registration changed underway, retry join")
		}
		entry, err := s.store.Get(ctx, existing.RegistrationID)
		if err != nil {
			return Entry{}, err
		}
		return *entry, nil
	default:
		return Entry{}, fault.New(fault.InvalidTransition, "waitlist", "athlete already has an active registration for this camp")
	}
}

// Entries returns the camp's queue in promotion order.
func (s *Service) Entries(ctx context.Context, campID string) ([]Entry, error) {
	return s.store.List(ctx, campID)
}

// SendOffer promotes one waitlisted entry to offered, if the camp has a free
// slot not already covered by a live offer. CapacityUnavailable is a normal
// outcome for a full camp, not something to alarm on. Returns the entry and
// the plain offer token (handed out once; only the digest is stored).
func (s *Service) SendOffer(ctx context.Context, registrationID string) (Entry, string, error) {
	plain, digest, err := secret.New()
	if err != nil {
		return Entry{}, "", err
	}
	now := s.now().UTC()
	ok, err := s.store.MarkOffered(ctx, registrationID, digest, now, now.Add(s.window))
	if err != nil {
		return Entry{}, "", err
	}
	if !ok {
		return Entry{}, "", s.offerFault(ctx, registrationID, now)
	}
	entry, err := s.store.Get(ctx, registrationID)
	if err != nil {
		return Entry{}, "", err
	}
	metrics.OffersIssued.Inc()
	s.publishOffer(ctx, *entry, plain)
	return *entry, plain, nil
}

func (s *Service) offerFault(ctx context.Context, registrationID string, now time.Time) error {
	entry, err := s.store.Get(ctx, registrationID)
	if err != nil {
		return err
	}
	if entry == nil {
		return fault.New(fault.NotFound, "waitlist", registrationID)
	}
	if entry.Status != registration.StatusWaitlisted {
		return fault.New(fault.InvalidTransition, "waitlist", "status is "+entry.Status+", want waitlisted")
	}
	return fault.New(fault.CapacityUnavailable, "camp", "no free slot for a new offer")
}

// Accept converts an offered entry to accepted, reserving its slot while the
// family completes the registration checkout with the payment collaborator.
// An abandoned checkout never re-enters the queue on its own: auto-reverting
// to waitlisted could double-offer the slot, so it stays a manual decision.
func (s *Service) Accept(ctx context.Context, plainToken string) (Entry, error) {
	digest := secret.Digest(plainToken)
	outcome, entry, err := s.store.AcceptByDigest(ctx, digest, s.now().UTC())
	if err != nil {
		return Entry{}, err
	}
	switch outcome {
	case AcceptOK:
		metrics.OffersAccepted.Inc()
		return *entry, nil
	case AcceptAlreadyUsed:
		return Entry{}, fault.New(fault.AlreadyRedeemed, "offer", "offer already used")
	case AcceptExpired:
		return Entry{}, fault.New(fault.Expired, "offer", "offer window has passed")
	case AcceptNotOffered:
		return Entry{}, fault.New(fault.InvalidTransition, "offer", "entry is no longer offered")
	default:
		return Entry{}, fault.New(fault.NotFound, "offer", "unknown offer token")
	}
}

// ExpireStaleOffers is the scheduled sweep: lapsed offers flip to expired,
// then every camp with a queue gets a promotion pass. The pass covers all
// waitlisted camps, not just the ones that lost an offer this run, so slots
// freed by cancellations between sweeps are filled here too. Safe to run
// repeatedly and concurrently; a re-run, or an overlap with an acceptance,
// finds nothing left to do.
func (s *Service) ExpireStaleOffers(ctx context.Context) (SweepResult, error) {
	metrics.SweepRuns.WithLabelValues("waitlist_offers").Inc()
	now := s.now().UTC()
	expired, err := s.store.ExpireOverdue(ctx, now)
	if err != nil {
		return SweepResult{}, err
	}
	result := SweepResult{Expired: len(expired)}
	metrics.OffersExpired.Add(float64(len(expired)))

	camps, err := s.store.CampsWithWaitlisted(ctx)
	if err != nil {
		return result, err
	}
	for _, campID := range camps {
		promoted, err := s.promote(ctx, campID)
		if err != nil {
			return result, err
		}
		if promoted > 0 {
			result.Promoted += promoted
			result.Camps = append(result.Camps, campID)
		}
	}
	return result, nil
}

// PromoteCamp fills a camp's free slots from the front of its queue. Used by
// the sweep and exposed for the path where a cancellation frees a slot.
func (s *Service) PromoteCamp(ctx context.Context, campID string) (int, error) {
	return s.promote(ctx, campID)
}

func (s *Service) promote(ctx context.Context, campID string) (int, error) {
	promoted := 0
	lastID := ""
	for {
		next, err := s.store.NextWaitlisted(ctx, campID)
		if err != nil {
			return promoted, err
		}
		if next == nil || next.RegistrationID == lastID {
			return promoted, nil
		}
		lastID = next.RegistrationID
		_, _, err = s.SendOffer(ctx, next.RegistrationID)
		if err != nil {
			switch fault.CodeOf(err) {
			case fault.CapacityUnavailable:
				return promoted, nil
			case fault.InvalidTransition, fault.NotFound:
				// Entry changed under us (removed, or raced another sweep);
				// move on to the next candidate.
				continue
			default:
				return promoted, err
			}
		}
		promoted++
	}
}

// Remove terminally withdraws an entry (family withdrew, staff cleanup).
// Deliberately does not promote a successor: a family mid-consideration of
// its own offer should not be surprised by queue movement.
func (s *Service) Remove(ctx context.Context, registrationID, actor string) (Entry, error) {
	ok, err := s.store.MarkRemoved(ctx, registrationID, s.now().UTC())
	if err != nil {
		return Entry{}, err
	}
	if !ok {
		entry, err := s.store.Get(ctx, registrationID)
		if err != nil {
			return Entry{}, err
		}
		if entry == nil {
			return Entry{}, fault.New(fault.NotFound, "waitlist", registrationID)
		}
		return Entry{}, fault.New(fault.InvalidTransition, "waitlist", "status is "+entry.Status+", want waitlisted or offered")
	}
	log.Printf("waitlist entry %s removed by %s", registrationID, actor)
	entry, err := s.store.Get(ctx, registrationID)
	if err != nil {
		return Entry{}, err
	}
	return *entry, nil
}

// Capacity reports the camp's slot accounting via the oracle.
func (s *Service) Capacity(ctx context.Context, campID string) (registration.Capacity, error) {
	return s.oracle.CapacityFor(ctx, campID, s.now().UTC())
}

func (s *Service) publishOffer(ctx context.Context, entry Entry, plainToken string) {
	if s.notifyQ == nil {
		return
	}
	body, err := json.Marshal(map[string]any{
		"registration_id": entry.RegistrationID,
		"camp_id":         entry.CampID,
		"recipient":       entry.GuardianEmail,
		"offer_token":     plainToken,
		"expires_at":      entry.OfferExpiresAt,
	})
	if err != nil {
		return
	}
	if err := s.notifyQ.Publish(ctx, queue.Message{Type: "waitlist_offer", Body: body}); err != nil {
		log.Printf("offer notification enqueue failed for %s: %v", entry.RegistrationID, err)
	}
}
