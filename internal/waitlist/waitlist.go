package waitlist

import "time"

// Entry is a family's place in line for a full camp. It is a registration in
// a waitlist status, joined with the athlete's guardian contact; promotion
// mutates the registration in place.
type Entry struct {
	RegistrationID string     `json:"registration_id"`
	CampID         string     `json:"camp_id"`
	AthleteID      string     `json:"athlete_id"`
	GuardianEmail  string     `json:"guardian_email,omitempty"`
	Status         string     `json:"status"`
	WaitlistedAt   time.Time  `json:"waitlisted_at"`
	Seq            int64      `json:"-"`
	OfferIssuedAt  *time.Time `json:"offer_issued_at,omitempty"`
	OfferExpiresAt *time.Time `json:"offer_expires_at,omitempty"`
	Position       int        `json:"position,omitempty"`
}

// AcceptOutcome classifies an offer acceptance attempt at the store level.
type AcceptOutcome int

const (
	AcceptOK AcceptOutcome = iota
	AcceptNotFound
	AcceptExpired
	AcceptAlreadyUsed
	AcceptNotOffered
)

// SweepResult reports one expiry sweep run.
type SweepResult struct {
	Expired  int      `json:"expired"`
	Promoted int      `json:"promoted"`
	Camps    []string `json:"camps,omitempty"`
}
