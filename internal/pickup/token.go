package pickup

import "time"

// Token statuses. Tokens are never deleted; redemption, expiry and
// supersession all flip status so the audit trail survives.
const (
	StatusActive   = "active"
	StatusRedeemed = "redeemed"
	StatusExpired  = "expired"
	StatusRevoked  = "revoked"
)

// Token is one pickup authorization credential bound to (athlete, camp day).
// Only the secret's digest is persisted.
type Token struct {
	ID           string     `json:"id"`
	CampDayID    string     `json:"camp_day_id"`
	AthleteID    string     `json:"athlete_id"`
	SecretDigest string     `json:"-"`
	Status       string     `json:"status"`
	IssuedAt     time.Time  `json:"issued_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	RedeemedAt   *time.Time `json:"redeemed_at,omitempty"`
	RedeemedBy   string     `json:"redeemed_by,omitempty"`
}

// Issued pairs a fresh token with its plain secret. The secret exists only
// in this value; it is handed to the caller once and never stored.
type Issued struct {
	AthleteID string    `json:"athlete_id"`
	Secret    string    `json:"secret"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RedeemOutcome classifies a redemption attempt at the store level.
type RedeemOutcome int

const (
	RedeemOK RedeemOutcome = iota
	RedeemNotFound
	RedeemRevoked
	RedeemAlreadyRedeemed
	RedeemExpired
	RedeemNotCheckedIn
)
