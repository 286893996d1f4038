package pickup

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"camphq/internal/attendance"
)

// Repository persists pickup tokens in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const tokenColumns = `id, camp_day_id, athlete_id, secret_digest, status, issued_at, expires_at, redeemed_at, COALESCE(redeemed_by,'')`

func scanToken(scan func(dest ...any) error) (Token, error) {
	var t Token
	err := scan(&t.ID, &t.CampDayID, &t.AthleteID, &t.SecretDigest, &t.Status,
		&t.IssuedAt, &t.ExpiresAt, &t.RedeemedAt, &t.RedeemedBy)
	return t, err
}

// IssueBatch revokes any prior active tokens for the batch's athletes on the
// day and inserts the fresh ones, in one transaction: after a regeneration,
// only the latest code per athlete is live.
func (r *Repository) IssueBatch(ctx context.Context, campDayID string, tokens []Token) error {
	if len(tokens) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	athleteIDs := make([]string, len(tokens))
	for i, t := range tokens {
		athleteIDs[i] = t.AthleteID
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE pickup_tokens SET status = 'revoked'
		WHERE camp_day_id = $1 AND athlete_id = ANY($2) AND status = 'active'
	`, campDayID, athleteIDs)
	if err != nil {
		return err
	}
	for _, t := range tokens {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pickup_tokens (id, camp_day_id, athlete_id, secret_digest, status, issued_at, expires_at)
			VALUES ($1,$2,$3,$4,'active',$5,$6)
		`, t.ID, t.CampDayID, t.AthleteID, t.SecretDigest, t.IssuedAt, t.ExpiresAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListForDay returns the day's tokens, newest first (audit view; secrets are
// not recoverable).
func (r *Repository) ListForDay(ctx context.Context, campDayID string) ([]Token, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+tokenColumns+` FROM pickup_tokens
		WHERE camp_day_id = $1
		ORDER BY issued_at DESC
	`, campDayID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tokens []Token
	for rows.Next() {
		t, err := scanToken(rows.Scan)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// Redeem attempts to redeem the token behind a secret digest and check the
// athlete out, atomically. The row lock on the token serializes concurrent
// redemptions; losing the checkout race rolls the redemption back so the
// token stays usable only if nothing was released.
func (r *Repository) Redeem(ctx context.Context, digest string, now time.Time, actor string) (RedeemOutcome, *Token, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return RedeemNotFound, nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+tokenColumns+` FROM pickup_tokens
		WHERE secret_digest = $1
		FOR UPDATE
	`, digest)
	token, err := scanToken(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RedeemNotFound, nil, nil
		}
		return RedeemNotFound, nil, err
	}

	switch token.Status {
	case StatusRevoked:
		return RedeemRevoked, &token, nil
	case StatusRedeemed:
		return RedeemAlreadyRedeemed, &token, nil
	case StatusExpired:
		return RedeemExpired, &token, nil
	}

	if !now.Before(token.ExpiresAt) {
		// Lazy expiry: mark it on the way out.
		_, err = tx.ExecContext(ctx,
			`UPDATE pickup_tokens SET status = 'expired' WHERE id = $1`, token.ID)
		if err != nil {
			return RedeemExpired, &token, err
		}
		if err := tx.Commit(); err != nil {
			return RedeemExpired, &token, err
		}
		token.Status = StatusExpired
		return RedeemExpired, &token, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE pickup_tokens
		SET status = 'redeemed', redeemed_at = $2, redeemed_by = $3
		WHERE id = $1
	`, token.ID, now, actor)
	if err != nil {
		return RedeemNotFound, &token, err
	}

	ok, err := attendance.CheckOutTx(ctx, tx, token.CampDayID, token.AthleteID, now,
		attendance.PickupPerson{Name: "pickup token holder", Relationship: "authorized pickup"},
		attendance.VerifyPickupToken, actor, "")
	if err != nil {
		return RedeemNotFound, &token, err
	}
	if !ok {
		// Athlete is no longer checked_in (manual override won the race, or
		// never arrived). Roll everything back; nothing was released.
		return RedeemNotCheckedIn, &token, nil
	}

	if err := tx.Commit(); err != nil {
		return RedeemNotFound, &token, err
	}
	token.Status = StatusRedeemed
	token.RedeemedAt = &now
	token.RedeemedBy = actor
	return RedeemOK, &token, nil
}

// ExpireOverdue flips every active token past its expiry to expired.
// Safe to re-run; already-expired rows no longer match.
func (r *Repository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE pickup_tokens SET status = 'expired'
		WHERE status = 'active' AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
