package pickup

import (
	"context"
	"sync"
	"time"

	"camphq/internal/attendance"
)

// MemStore is an in-memory Store for dev and tests. Redemption writes the
// checkout through the attendance store the same way the Postgres repository
// does inside its transaction: the token is only marked redeemed after the
// checkout succeeds, and a failed checkout leaves it active.
type MemStore struct {
	mu     sync.Mutex
	tokens map[string]*Token // id -> token
	att    *attendance.MemStore
}

// NewMemStore creates an empty store writing checkouts through att.
func NewMemStore(att *attendance.MemStore) *MemStore {
	return &MemStore{tokens: make(map[string]*Token), att: att}
}

func (m *MemStore) IssueBatch(_ context.Context, campDayID string, tokens []Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fresh := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		fresh[t.AthleteID] = true
	}
	for _, t := range m.tokens {
		if t.CampDayID == campDayID && t.Status == StatusActive && fresh[t.AthleteID] {
			t.Status = StatusRevoked
		}
	}
	for _, t := range tokens {
		copied := t
		m.tokens[t.ID] = &copied
	}
	return nil
}

func (m *MemStore) ListForDay(_ context.Context, campDayID string) ([]Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Token
	for _, t := range m.tokens {
		if t.CampDayID == campDayID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *MemStore) Redeem(ctx context.Context, digest string, now time.Time, actor string) (RedeemOutcome, *Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var token *Token
	for _, t := range m.tokens {
		if t.SecretDigest == digest {
			token = t
			break
		}
	}
	if token == nil {
		return RedeemNotFound, nil, nil
	}

	switch token.Status {
	case StatusRevoked:
		copied := *token
		return RedeemRevoked, &copied, nil
	case StatusRedeemed:
		copied := *token
		return RedeemAlreadyRedeemed, &copied, nil
	case StatusExpired:
		copied := *token
		return RedeemExpired, &copied, nil
	}

	if !now.Before(token.ExpiresAt) {
		token.Status = StatusExpired
		copied := *token
		return RedeemExpired, &copied, nil
	}

	ok, err := m.att.SetCheckedOut(ctx, token.CampDayID, token.AthleteID, now,
		attendance.PickupPerson{Name: "pickup token holder", Relationship: "authorized pickup"},
		attendance.VerifyPickupToken, actor, "")
	if err != nil {
		return RedeemNotFound, nil, err
	}
	if !ok {
		copied := *token
		return RedeemNotCheckedIn, &copied, nil
	}

	token.Status = StatusRedeemed
	at := now
	token.RedeemedAt = &at
	token.RedeemedBy = actor
	copied := *token
	return RedeemOK, &copied, nil
}

func (m *MemStore) ExpireOverdue(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.tokens {
		if t.Status == StatusActive && !now.Before(t.ExpiresAt) {
			t.Status = StatusExpired
			n++
		}
	}
	return n, nil
}
