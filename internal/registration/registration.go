package registration

import "time"

// Registration statuses. A waitlist entry is a registration in one of the
// waitlist statuses; promotion mutates it in place, it is never copied.
const (
	StatusConfirmed  = "confirmed"
	StatusCancelled  = "cancelled"
	StatusWaitlisted = "waitlisted"
	StatusOffered    = "offered"
	StatusAccepted   = "accepted"
	StatusExpired    = "expired"
	StatusRemoved    = "removed"
)

// Camp is the capacity-bearing parent of registrations and camp days.
type Camp struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Capacity  int       `json:"capacity"`
	StartsOn  time.Time `json:"starts_on"`
	EndsOn    time.Time `json:"ends_on"`
	CreatedAt time.Time `json:"created_at"`
}

// Registration is one enrollment record.
type Registration struct {
	ID             string     `json:"id"`
	CampID         string     `json:"camp_id"`
	AthleteID      string     `json:"athlete_id"`
	Status         string     `json:"status"`
	OfferIssuedAt  *time.Time `json:"offer_issued_at,omitempty"`
	OfferExpiresAt *time.Time `json:"offer_expires_at,omitempty"`
	WaitlistedAt   *time.Time `json:"waitlisted_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Capacity is a point-in-time view of a camp's slot accounting. Slots are
// consumed by confirmed and accepted registrations and reserved by live
// offers, so Free is what the promotion engine may still hand out.
type Capacity struct {
	CampID     string `json:"camp_id"`
	Capacity   int    `json:"capacity"`
	Consumed   int    `json:"consumed"`
	LiveOffers int    `json:"live_offers"`
	Free       int    `json:"free"`
}
