package registration

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository persists camps and registrations in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// GetCamp returns a camp by id.
func (r *Repository) GetCamp(ctx context.Context, campID string) (*Camp, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, capacity, starts_on, ends_on, created_at
		FROM camps WHERE id = $1
	`, campID)
	var c Camp
	if err := row.Scan(&c.ID, &c.Name, &c.Capacity, &c.StartsOn, &c.EndsOn, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// CreateCamp inserts a camp.
func (r *Repository) CreateCamp(ctx context.Context, c Camp) (Camp, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO camps (id, name, capacity, starts_on, ends_on)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at
	`, c.ID, c.Name, c.Capacity, c.StartsOn, c.EndsOn)
	if err := row.Scan(&c.CreatedAt); err != nil {
		return Camp{}, err
	}
	return c, nil
}

// Get returns a registration by id.
func (r *Repository) Get(ctx context.Context, id string) (*Registration, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, camp_id, athlete_id, status, offer_issued_at, offer_expires_at, waitlisted_at, created_at, updated_at
		FROM registrations WHERE id = $1
	`, id)
	var reg Registration
	err := row.Scan(&reg.ID, &reg.CampID, &reg.AthleteID, &reg.Status,
		&reg.OfferIssuedAt, &reg.OfferExpiresAt, &reg.WaitlistedAt, &reg.CreatedAt, &reg.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &reg, nil
}

// CreateConfirmed inserts a paid registration directly (the normal signup
// path when the camp still has room). The capacity re-check and the insert
// ride one statement, so two concurrent signups cannot both take the last
// slot; a false return means no slot was free.
func (r *Repository) CreateConfirmed(ctx context.Context, campID, athleteID string, now time.Time) (Registration, bool, error) {
	reg := Registration{ID: uuid.NewString(), CampID: campID, AthleteID: athleteID, Status: StatusConfirmed}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO registrations (id, camp_id, athlete_id, status)
		SELECT $1, $2, $3, 'confirmed'
		WHERE (SELECT c.capacity FROM camps c WHERE c.id = $2) >
		      (SELECT count(*) FROM registrations x
		        WHERE x.camp_id = $2
		          AND (x.status IN ('confirmed','accepted')
		               OR (x.status = 'offered' AND x.offer_expires_at > $4)))
		RETURNING created_at, updated_at
	`, reg.ID, campID, athleteID, now)
	if err := row.Scan(&reg.CreatedAt, &reg.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Registration{}, false, nil
		}
		return Registration{}, false, err
	}
	return reg, true, nil
}

// SetStatus flips a registration between two statuses in one conditional
// statement. Returns false when the precondition did not hold.
func (r *Repository) SetStatus(ctx context.Context, id, from, to string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE registrations SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`, id, from, to, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CapacityFor computes the camp's slot accounting in one query. Live offers
// are offers whose window has not yet passed; lapsed ones stop reserving a
// slot even before the sweep flips them to expired.
func (r *Repository) CapacityFor(ctx context.Context, campID string, now time.Time) (Capacity, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT c.capacity,
		       count(*) FILTER (WHERE r.status IN ('confirmed','accepted')),
		       count(*) FILTER (WHERE r.status = 'offered' AND r.offer_expires_at > $2)
		FROM camps c
		LEFT JOIN registrations r ON r.camp_id = c.id
		WHERE c.id = $1
		GROUP BY c.capacity
	`, campID, now)
	cap := Capacity{CampID: campID}
	if err := row.Scan(&cap.Capacity, &cap.Consumed, &cap.LiveOffers); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Capacity{}, sql.ErrNoRows
		}
		return Capacity{}, err
	}
	cap.Free = cap.Capacity - cap.Consumed - cap.LiveOffers
	if cap.Free < 0 {
		cap.Free = 0
	}
	return cap, nil
}
