package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"camphq/internal/store"
)

// Repository persists camp days and attendance records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const dayColumns = `id, camp_id, day_date, day_number, status, notes, recap, retired, created_at`

func scanDay(row *sql.Row) (*Day, error) {
	var d Day
	var recap sql.NullString
	err := row.Scan(&d.ID, &d.CampID, &d.Date, &d.DayNumber, &d.Status, &d.Notes, &recap, &d.Retired, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if recap.Valid {
		d.Recap = []byte(recap.String)
	}
	return &d, nil
}

// GetDay returns a camp day by id.
func (r *Repository) GetDay(ctx context.Context, campDayID string) (*Day, error) {
	return scanDay(r.db.QueryRowContext(ctx,
		`SELECT `+dayColumns+` FROM camp_days WHERE id = $1`, campDayID))
}

// CreateDay materializes one day of a camp's schedule.
func (r *Repository) CreateDay(ctx context.Context, campID string, date time.Time, dayNumber int) (*Day, error) {
	return scanDay(r.db.QueryRowContext(ctx, `
		INSERT INTO camp_days (id, camp_id, day_date, day_number)
		VALUES ($1,$2,$3,$4)
		RETURNING `+dayColumns, uuid.NewString(), campID, date, dayNumber))
}

// SetDayStatus transitions the day when its current status is one of from.
// An empty from list drops the guard (forced transition).
func (r *Repository) SetDayStatus(ctx context.Context, campDayID, to string, from ...string) (bool, error) {
	query := `UPDATE camp_days SET status = $2 WHERE id = $1`
	args := []any{campDayID, to}
	if len(from) > 0 {
		placeholders := make([]string, len(from))
		for i, f := range from {
			placeholders[i] = fmt.Sprintf("$%d", i+3)
			args = append(args, f)
		}
		query += ` AND status IN (` + strings.Join(placeholders, ",") + `)`
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SaveRecap stores the end-of-day recap payload and notes.
func (r *Repository) SaveRecap(ctx context.Context, campDayID string, recap []byte) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE camp_days SET recap = $2 WHERE id = $1`, campDayID, recap)
	return err
}

// EnsureRoster lazily creates a default not_arrived record for every athlete
// with a confirmed registration on the day's camp. The uniqueness constraint
// on (camp_day_id, athlete_id) makes this safe under concurrent first
// viewers; re-running never touches existing rows.
func (r *Repository) EnsureRoster(ctx context.Context, campDayID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, camp_day_id, athlete_id)
		SELECT gen_random_uuid(), d.id, reg.athlete_id
		FROM camp_days d
		JOIN registrations reg ON reg.camp_id = d.camp_id AND reg.status = 'confirmed'
		WHERE d.id = $1
		ON CONFLICT (camp_day_id, athlete_id) DO NOTHING
	`, campDayID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// EnsureRecord lazily creates the single record for one athlete, if they
// hold a confirmed registration on the day's camp.
func (r *Repository) EnsureRecord(ctx context.Context, campDayID, athleteID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, camp_day_id, athlete_id)
		SELECT $3, d.id, $2
		FROM camp_days d
		WHERE d.id = $1
		  AND EXISTS (
			SELECT 1 FROM registrations reg
			WHERE reg.camp_id = d.camp_id AND reg.athlete_id = $2 AND reg.status = 'confirmed'
		  )
		ON CONFLICT (camp_day_id, athlete_id) DO NOTHING
	`, campDayID, athleteID, uuid.NewString())
	return err
}

// Confirmed reports whether the athlete has a confirmed registration on the
// day's parent camp.
func (r *Repository) Confirmed(ctx context.Context, campDayID, athleteID string) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM camp_days d
			JOIN registrations reg ON reg.camp_id = d.camp_id
			WHERE d.id = $1 AND reg.athlete_id = $2 AND reg.status = 'confirmed'
		)
	`, campDayID, athleteID).Scan(&ok)
	return ok, err
}

const recordColumns = `id, camp_day_id, athlete_id, status,
	check_in_at, COALESCE(check_in_method,''), COALESCE(check_in_actor,''),
	check_out_at, COALESCE(pickup_name,''), COALESCE(pickup_relationship,''),
	COALESCE(verification_method,''), COALESCE(check_out_actor,''), notes, created_at, updated_at`

func scanRecord(scan func(dest ...any) error) (Record, error) {
	var rec Record
	err := scan(&rec.ID, &rec.CampDayID, &rec.AthleteID, &rec.Status,
		&rec.CheckInAt, &rec.CheckInMethod, &rec.CheckInActor,
		&rec.CheckOutAt, &rec.PickupName, &rec.PickupRelationship,
		&rec.VerificationMethod, &rec.CheckOutActor, &rec.Notes, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, err
}

// Get returns the record for one (camp day, athlete) pair.
func (r *Repository) Get(ctx context.Context, campDayID, athleteID string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM attendance_records
		WHERE camp_day_id = $1 AND athlete_id = $2
	`, campDayID, athleteID)
	rec, err := scanRecord(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Roster returns all records for a day.
func (r *Repository) Roster(ctx context.Context, campDayID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM attendance_records
		WHERE camp_day_id = $1
		ORDER BY created_at, athlete_id
	`, campDayID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roster []Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		roster = append(roster, rec)
	}
	return roster, rows.Err()
}

// CheckedIn returns the day's records currently in checked_in.
func (r *Repository) CheckedIn(ctx context.Context, campDayID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM attendance_records
		WHERE camp_day_id = $1 AND status = 'checked_in'
		ORDER BY check_in_at
	`, campDayID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// SetCheckedIn transitions not_arrived|absent -> checked_in. Returns false
// when the precondition did not hold.
func (r *Repository) SetCheckedIn(ctx context.Context, campDayID, athleteID string, at time.Time, method, actor string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET status = 'checked_in', check_in_at = $3, check_in_method = $4, check_in_actor = $5, updated_at = $3
		WHERE camp_day_id = $1 AND athlete_id = $2 AND status IN ('not_arrived','absent')
	`, campDayID, athleteID, at, method, actor)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetAbsent transitions not_arrived -> absent.
func (r *Repository) SetAbsent(ctx context.Context, campDayID, athleteID string, at time.Time, actor, notes string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET status = 'absent', check_in_actor = $4, notes = $5, updated_at = $3
		WHERE camp_day_id = $1 AND athlete_id = $2 AND status = 'not_arrived'
	`, campDayID, athleteID, at, actor, notes)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetNotArrived reverts absent -> not_arrived (explicit staff action).
func (r *Repository) SetNotArrived(ctx context.Context, campDayID, athleteID string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET status = 'not_arrived', updated_at = $3
		WHERE camp_day_id = $1 AND athlete_id = $2 AND status = 'absent'
	`, campDayID, athleteID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetCheckedOut transitions checked_in -> checked_out.
func (r *Repository) SetCheckedOut(ctx context.Context, campDayID, athleteID string, at time.Time, pickup PickupPerson, verification, actor, note string) (bool, error) {
	return CheckOutTx(ctx, r.db, campDayID, athleteID, at, pickup, verification, actor, note)
}

// CheckOutTx is the single checkout mutation, exposed on a DBTX so the
// pickup token redemption can run it inside its own transaction. First
// writer wins: a concurrent second attempt matches zero rows.
func CheckOutTx(ctx context.Context, q store.DBTX, campDayID, athleteID string, at time.Time, pickup PickupPerson, verification, actor, note string) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE attendance_records
		SET status = 'checked_out', check_out_at = $3, pickup_name = $4,
		    pickup_relationship = $5, verification_method = $6, check_out_actor = $7, updated_at = $3,
		    notes = CASE WHEN $8 = '' THEN notes WHEN notes = '' THEN $8 ELSE notes || E'\n' || $8 END
		WHERE camp_day_id = $1 AND athlete_id = $2 AND status = 'checked_in'
	`, campDayID, athleteID, at, pickup.Name, pickup.Relationship, verification, actor, note)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// StatusCounts tallies the day's records by status for the recap.
func (r *Repository) StatusCounts(ctx context.Context, campDayID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, count(*) FROM attendance_records
		WHERE camp_day_id = $1 GROUP BY status
	`, campDayID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
