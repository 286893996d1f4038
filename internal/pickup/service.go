package pickup

import (
	"context"
	"time"

	"github.com/google/uuid"

	"camphq/internal/attendance"
	"camphq/internal/fault"
	"camphq/internal/metrics"
	"camphq/internal/secret"
)

// Store is the persistence surface the service needs. *Repository satisfies
// it; tests use an in-memory fake.
type Store interface {
	IssueBatch(ctx context.Context, campDayID string, tokens []Token) error
	ListForDay(ctx context.Context, campDayID string) ([]Token, error)
	Redeem(ctx context.Context, digest string, now time.Time, actor string) (RedeemOutcome, *Token, error)
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

// Service issues and redeems pickup authorization tokens. It leans on the
// attendance tracker for eligibility (only checked_in athletes get tokens)
// and for the checkout itself.
type Service struct {
	store Store
	att   *attendance.Service
	ttl   time.Duration
	now   func() time.Time
}

// NewService creates a service. ttl is how long a generated token stays
// redeemable; it should stay within the camp day.
func NewService(store Store, att *attendance.Service, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	return &Service{store: store, att: att, ttl: ttl, now: time.Now}
}

// Generate issues one fresh token per currently checked_in athlete on the
// day. Prior active tokens for those athletes are revoked in the same
// transaction, so a stale, previously displayed code cannot outlive a
// regeneration. The plain secrets are returned once and never stored.
func (s *Service) Generate(ctx context.Context, campDayID string) ([]Issued, error) {
	checkedIn, err := s.att.CheckedIn(ctx, campDayID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	tokens := make([]Token, 0, len(checkedIn))
	issued := make([]Issued, 0, len(checkedIn))
	for _, rec := range checkedIn {
		plain, digest, err := secret.New()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, Token{
			ID:           uuid.NewString(),
			CampDayID:    campDayID,
			AthleteID:    rec.AthleteID,
			SecretDigest: digest,
			Status:       StatusActive,
			IssuedAt:     now,
			ExpiresAt:    now.Add(s.ttl),
		})
		issued = append(issued, Issued{AthleteID: rec.AthleteID, Secret: plain, ExpiresAt: now.Add(s.ttl)})
	}
	if err := s.store.IssueBatch(ctx, campDayID, tokens); err != nil {
		return nil, err
	}
	metrics.TokensIssued.Add(float64(len(tokens)))
	return issued, nil
}

// Redeem releases the athlete behind a bearer secret. The distinction among
// failure reasons matters at the front desk: not_found means regenerate,
// already_redeemed means the child has already been released.
func (s *Service) Redeem(ctx context.Context, plainSecret, actor string) (*Token, *attendance.Record, error) {
	digest := secret.Digest(plainSecret)
	outcome, token, err := s.store.Redeem(ctx, digest, s.now().UTC(), actor)
	if err != nil {
		return nil, nil, err
	}
	if token != nil && !secret.Match(plainSecret, token.SecretDigest) {
		outcome = RedeemNotFound
		token = nil
	}

	switch outcome {
	case RedeemOK:
		metrics.TokenRedemptions.WithLabelValues("ok").Inc()
		rec, err := s.att.Record(ctx, token.CampDayID, token.AthleteID)
		return token, rec, err
	case RedeemRevoked:
		metrics.TokenRedemptions.WithLabelValues("revoked").Inc()
		return nil, nil, fault.New(fault.NotFound, "pickup_token", "token superseded by a newer batch")
	case RedeemAlreadyRedeemed:
		metrics.TokenRedemptions.WithLabelValues("already_redeemed").Inc()
		return nil, nil, fault.New(fault.AlreadyRedeemed, "pickup_token", "token already used")
	case RedeemExpired:
		metrics.TokenRedemptions.WithLabelValues("expired").Inc()
		return nil, nil, fault.New(fault.Expired, "pickup_token", "token expired")
	case RedeemNotCheckedIn:
		metrics.TokenRedemptions.WithLabelValues("not_checked_in").Inc()
		return nil, nil, fault.New(fault.InvalidTransition, "attendance", "athlete is not checked in")
	default:
		metrics.TokenRedemptions.WithLabelValues("not_found").Inc()
		return nil, nil, fault.New(fault.NotFound, "pickup_token", "unknown token")
	}
}

// Override is the staff escape hatch for lost or undeliverable tokens. The
// justification is mandatory and lands in the record's notes, so the audit
// trail separates overrides from token-mediated releases.
func (s *Service) Override(ctx context.Context, campDayID, athleteID string, pickup attendance.PickupPerson, actor, reason string) (*attendance.Record, error) {
	if reason == "" {
		return nil, fault.New(fault.InvalidTransition, "attendance", "override requires a justification")
	}
	return s.att.CheckOut(ctx, campDayID, athleteID, pickup, attendance.VerifyManualOverride, actor, "override: "+reason)
}

// ListForDay returns the day's token audit trail.
func (s *Service) ListForDay(ctx context.Context, campDayID string) ([]Token, error) {
	return s.store.ListForDay(ctx, campDayID)
}

// ExpireSweep flips overdue active tokens to expired. Idempotent; invoked on
// an interval by the external scheduler.
func (s *Service) ExpireSweep(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireOverdue(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	metrics.SweepRuns.WithLabelValues("pickup_tokens").Inc()
	return n, nil
}
