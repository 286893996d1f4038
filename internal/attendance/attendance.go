package attendance

import (
	"encoding/json"
	"time"
)

// Attendance record statuses. checked_out is terminal for the day; absent is
// terminal unless staff explicitly reverts it.
const (
	StatusNotArrived = "not_arrived"
	StatusCheckedIn  = "checked_in"
	StatusCheckedOut = "checked_out"
	StatusAbsent     = "absent"
)

// Camp day lifecycle statuses.
const (
	DayNotStarted = "not_started"
	DayInProgress = "in_progress"
	DayFinished   = "finished"
	DayCancelled  = "cancelled"
)

// Check-in methods.
const (
	MethodStaff = "staff"
	MethodKiosk = "kiosk"
)

// Check-out verification methods. Every release path writes through the same
// record, so the audit trail distinguishes how the adult was verified.
const (
	VerifyTypedName      = "typed_name"
	VerifyPickupToken    = "token_redemption"
	VerifyManualOverride = "manual_override"
	VerifyDayEndSweep    = "day_end_sweep"
)

// Day is one operating day of a camp.
type Day struct {
	ID        string          `json:"id"`
	CampID    string          `json:"camp_id"`
	Date      time.Time       `json:"date"`
	DayNumber int             `json:"day_number"`
	Status    string          `json:"status"`
	Notes     string          `json:"notes"`
	Recap     json.RawMessage `json:"recap,omitempty"`
	Retired   bool            `json:"retired"`
	CreatedAt time.Time       `json:"created_at"`
}

// PickupPerson is the adult an athlete is released to.
type PickupPerson struct {
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
}

// Record is the per-(athlete, camp day) presence state machine row.
type Record struct {
	ID                 string     `json:"id"`
	CampDayID          string     `json:"camp_day_id"`
	AthleteID          string     `json:"athlete_id"`
	Status             string     `json:"status"`
	CheckInAt          *time.Time `json:"check_in_at,omitempty"`
	CheckInMethod      string     `json:"check_in_method,omitempty"`
	CheckInActor       string     `json:"check_in_actor,omitempty"`
	CheckOutAt         *time.Time `json:"check_out_at,omitempty"`
	PickupName         string     `json:"pickup_name,omitempty"`
	PickupRelationship string     `json:"pickup_relationship,omitempty"`
	VerificationMethod string     `json:"verification_method,omitempty"`
	CheckOutActor      string     `json:"check_out_actor,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Outcome is one athlete's result within a batch operation. Batches report
// per-athlete outcomes and keep going; one bad record never blocks the rest.
type Outcome struct {
	AthleteID string `json:"athlete_id"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// Recap is the end-of-day summary persisted on the camp day.
type Recap struct {
	CheckedOut int       `json:"checked_out"`
	Absent     int       `json:"absent"`
	NoShows    int       `json:"no_shows"`
	SweptOut   int       `json:"swept_out"`
	Notes      string    `json:"notes,omitempty"`
	ClosedAt   time.Time `json:"closed_at"`
	ClosedBy   string    `json:"closed_by"`
}

// EndOptions controls the day-end sweep.
type EndOptions struct {
	Force        bool   `json:"force"`
	AutoCheckOut bool   `json:"auto_check_out"`
	Notes        string `json:"notes"`
	Notify       bool   `json:"notify"`
}

// EndResult reports the day-end transition and the per-athlete sweep.
type EndResult struct {
	Day      Day       `json:"day"`
	Recap    Recap     `json:"recap"`
	Outcomes []Outcome `json:"outcomes,omitempty"`
}
