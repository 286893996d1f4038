package waitlist

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository persists waitlist entries (registrations in waitlist statuses)
// in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const entryColumns = `r.id, r.camp_id, r.athlete_id, COALESCE(a.guardian_email,''), r.status,
	COALESCE(r.waitlisted_at, r.created_at), r.seq, r.offer_issued_at, r.offer_expires_at`

const entryFrom = ` FROM registrations r JOIN athletes a ON a.id = r.athlete_id `

func scanEntry(scan func(dest ...any) error) (Entry, error) {
	var e Entry
	err := scan(&e.RegistrationID, &e.CampID, &e.AthleteID, &e.GuardianEmail, &e.Status,
		&e.WaitlistedAt, &e.Seq, &e.OfferIssuedAt, &e.OfferExpiresAt)
	return e, err
}

// Append inserts a new waitlisted registration at the back of the queue.
func (r *Repository) Append(ctx context.Context, campID, athleteID string, at time.Time) (Entry, error) {
	id := uuid.NewString()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO registrations (id, camp_id, athlete_id, status, waitlisted_at)
		VALUES ($1,$2,$3,'waitlisted',$4)
	`, id, campID, athleteID, at)
	if err != nil {
		return Entry{}, err
	}
	entry, err := r.Get(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	return *entry, nil
}

// Get returns one entry by registration id.
func (r *Repository) Get(ctx context.Context, registrationID string) (*Entry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+entryFrom+`WHERE r.id = $1`, registrationID)
	e, err := scanEntry(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// Find returns the entry for a (camp, athlete) pair regardless of status.
func (r *Repository) Find(ctx context.Context, campID, athleteID string) (*Entry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+entryFrom+`WHERE r.camp_id = $1 AND r.athlete_id = $2`, campID, athleteID)
	e, err := scanEntry(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// List returns the camp's queue in FIFO order: waitlisted and offered
// entries, oldest first, ties broken by insertion sequence.
func (r *Repository) List(ctx context.Context, campID string) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+entryColumns+entryFrom+`
		WHERE r.camp_id = $1 AND r.status IN ('waitlisted','offered')
		ORDER BY COALESCE(r.waitlisted_at, r.created_at), r.seq
	`, campID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		e.Position = len(entries) + 1
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// NextWaitlisted returns the oldest waitlisted entry for a camp, or nil.
func (r *Repository) NextWaitlisted(ctx context.Context, campID string) (*Entry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+entryFrom+`
		WHERE r.camp_id = $1 AND r.status = 'waitlisted'
		ORDER BY COALESCE(r.waitlisted_at, r.created_at), r.seq
		LIMIT 1
	`, campID)
	e, err := scanEntry(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// CampsWithWaitlisted returns the camps that currently have a queue, for the
// sweep's promotion pass.
func (r *Repository) CampsWithWaitlisted(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT camp_id FROM registrations WHERE status = 'waitlisted'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var camps []string
	for rows.Next() {
		var campID string
		if err := rows.Scan(&campID); err != nil {
			return nil, err
		}
		camps = append(camps, campID)
	}
	return camps, rows.Err()
}

// Rejoin reuses a terminally ended registration as a fresh waitlist entry at
// the back of the line. The offer token digest is cleared so a lapsed token
// can never match this row again.
func (r *Repository) Rejoin(ctx context.Context, registrationID string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE registrations
		SET status = 'waitlisted', waitlisted_at = $2, updated_at = $2,
		    offer_token_digest = NULL, offer_issued_at = NULL, offer_expires_at = NULL
		WHERE id = $1 AND status IN ('cancelled','expired','removed')
	`, registrationID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkOffered flips waitlisted -> offered only while the camp still has a
// slot not consumed by a confirmed/accepted registration or reserved by a
// live offer. The capacity re-check and the flip happen in one statement, so
// two concurrent sweeps cannot both take the last slot.
func (r *Repository) MarkOffered(ctx context.Context, registrationID, digest string, issuedAt, expiresAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE registrations r
		SET status = 'offered', offer_token_digest = $2, offer_issued_at = $3,
		    offer_expires_at = $4, updated_at = $3
		WHERE r.id = $1 AND r.status = 'waitlisted'
		  AND (SELECT c.capacity FROM camps c WHERE c.id = r.camp_id) >
		      (SELECT count(*) FROM registrations x
		        WHERE x.camp_id = r.camp_id
		          AND (x.status IN ('confirmed','accepted')
		               OR (x.status = 'offered' AND x.offer_expires_at > $3)))
	`, registrationID, digest, issuedAt, expiresAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// AcceptByDigest flips an offered, unexpired entry to accepted. Lapsed
// offers are expired lazily on the way out.
func (r *Repository) AcceptByDigest(ctx context.Context, digest string, now time.Time) (AcceptOutcome, *Entry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+entryFrom+`WHERE r.offer_token_digest = $1`, digest)
	e, err := scanEntry(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AcceptNotFound, nil, nil
		}
		return AcceptNotFound, nil, err
	}

	switch e.Status {
	case "accepted", "confirmed":
		return AcceptAlreadyUsed, &e, nil
	case "expired":
		return AcceptExpired, &e, nil
	case "offered":
		// fall through to the conditional flip below
	default:
		return AcceptNotOffered, &e, nil
	}

	if e.OfferExpiresAt != nil && !now.Before(*e.OfferExpiresAt) {
		_, err = r.db.ExecContext(ctx, `
			UPDATE registrations SET status = 'expired', updated_at = $2
			WHERE id = $1 AND status = 'offered'
		`, e.RegistrationID, now)
		if err != nil {
			return AcceptExpired, &e, err
		}
		return AcceptExpired, &e, nil
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE registrations SET status = 'accepted', updated_at = $2
		WHERE id = $1 AND status = 'offered' AND offer_expires_at > $2
	`, e.RegistrationID, now)
	if err != nil {
		return AcceptNotFound, &e, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return AcceptNotFound, &e, err
	}
	if n == 0 {
		// Raced with the sweep or another acceptance between read and write.
		return AcceptNotOffered, &e, nil
	}
	e.Status = "accepted"
	return AcceptOK, &e, nil
}

// ExpireOverdue flips every lapsed offer to expired and returns the touched
// entries so the sweep can promote successors. Re-running matches nothing.
func (r *Repository) ExpireOverdue(ctx context.Context, now time.Time) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE registrations r
		SET status = 'expired', updated_at = $1
		FROM athletes a
		WHERE a.id = r.athlete_id AND r.status = 'offered' AND r.offer_expires_at <= $1
		RETURNING `+entryColumns, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkRemoved terminally withdraws an entry from waitlisted or offered.
func (r *Repository) MarkRemoved(ctx context.Context, registrationID string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE registrations SET status = 'removed', updated_at = $2
		WHERE id = $1 AND status IN ('waitlisted','offered')
	`, registrationID, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
