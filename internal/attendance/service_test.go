package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camphq/internal/fault"
)

func newTestService(t *testing.T) (*Service, *MemStore) {
	t.Helper()
	store := NewMemStore()
	svc := NewService(store, nil)
	svc.now = func() time.Time { return time.Date(2026, 7, 6, 9, 0, 0, 0, time.UTC) }
	return svc, store
}

func seedDay(store *MemStore, dayID, campID string, athletes ...string) {
	store.AddDay(Day{ID: dayID, CampID: campID, Status: DayInProgress})
	for _, a := range athletes {
		store.AddConfirmed(campID, a)
	}
}

func TestRosterLazyCreation(t *testing.T) {
	svc, store := newTestService(t)
	seedDay(store, "day1", "camp1", "ath1", "ath2")
	ctx := context.Background()

	roster, err := svc.Roster(ctx, "day1")
	require.NoError(t, err)
	require.Len(t, roster, 2)
	for _, rec := range roster {
		assert.Equal(t, StatusNotArrived, rec.Status)
	}

	ids := map[string]string{}
	for _, rec := range roster {
		ids[rec.AthleteID] = rec.ID
	}

	// A second view must not create duplicate records.
	again, err := svc.Roster(ctx, "day1")
	require.NoError(t, err)
	require.Len(t, again, 2)
	for _, rec := range again {
		assert.Equal(t, ids[rec.AthleteID], rec.ID)
	}
}

func TestRosterUnknownDay(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Roster(context.Background(), "nope")
	assert.Equal(t, fault.NotFound, fault.CodeOf(err))
}

func TestCheckIn(t *testing.T) {
	svc, store := newTestService(t)
	seedDay(store, "day1", "camp1", "ath1")
	ctx := context.Background()

	rec, err := svc.CheckIn(ctx, "day1", "ath1", MethodStaff, "counselor-amy")
	require.NoError(t, err)
	assert.Equal(t, StatusCheckedIn, rec.Status)
	assert.Equal(t, MethodStaff, rec.CheckInMethod)
	assert.Equal(t, "counselor-amy", rec.CheckInActor)
	require.NotNil(t, rec.CheckInAt)

	// Double check-in is rejected, not silently accepted.
	_, err = svc.CheckIn(ctx, "day1", "ath1", MethodStaff, "counselor-amy")
	assert.Equal(t, fault.InvalidTransition, fault.CodeOf(err))
}

func TestCheckInUnregisteredAthlete(t *testing.T) {
	svc, store := newTestService(t)
	seedDay(store, "day1", "camp1", "ath1")

	_, err := svc.CheckIn(context.Background(), "day1", "stranger", MethodStaff, "amy")
	assert.Equal(t, fault.NotFound, fault.CodeOf(err))
}

func TestCheckInAfterAbsence(t *testing.T) {
	svc, store := newTestService(t)
	seedDay(store, "day1", "camp1", "ath1")
	ctx := context.Background()

	_, err := svc.MarkAbsent(ctx, "day1", "ath1", "amy", "called in sick")
	require.NoError(t, err)

	// Late arrival after an absent mark is a valid correction.
	rec, err := svc.CheckIn(ctx, "day1", "ath1", MethodKiosk, "kiosk-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCheckedIn, rec.Status)
}

func TestMarkAbsentAndRevert(t *testing.T) {
	svc, store := newTestService(t)
	seedDay(store, "day1", "camp1", "ath1")
	ctx := context.Background()

	rec, err := svc.MarkAbsent(ctx, "day1", "ath1", "amy", "no call")
	require.NoError(t, err)
	assert.Equal(t, StatusAbsent, rec.Status)
	assert.Equal(t, "no call", rec.Notes)

	rec, err = svc.RevertAbsence(ctx, "day1", "ath1")
	require.NoError(t, err)
	assert.Equal(t, StatusNotArrived, rec.Status)

	// Reverting a record that is not absent fails.
	_, err = svc.RevertAbsence(ctx, "day1", "ath1")
	assert.Equal(t, fault.InvalidTransition, fault.CodeOf(err))
}

func TestMarkAbsentRequiresNotArrived(t *testing.T) {
	svc, store := newTestService(t)
	seedDay(store, "day1", "camp1", "ath1")
	ctx := context.Background()

	_, err := svc.CheckIn(ctx, "day1", "ath1", MethodStaff, "amy")
	require.NoError(t, err)

	_, err = svc.MarkAbsent(ctx, "day1", "ath1", "amy", "")
	assert.Equal(t, fault.InvalidTransition, fault.CodeOf(err))
}

func TestCheckOut(t *testing.T) {
	svc, store := newTestService(t)
	seedDay(store, "day1", "camp1", "ath1")
	ctx := context.Background()

	_, err := svc.CheckIn(ctx, "day1", "ath1", MethodStaff, "amy")
	require.NoError(t, err)

	rec, err := svc.CheckOut(ctx, "day1", "ath1",
		PickupPerson{Name: "Dana Reyes", Relationship: "mother"}, VerifyTypedName, "amy", "")
	require.NoError(t, err)
	assert.Equal(t, StatusCheckedOut, rec.Status)
	assert.Equal(t, "Dana Reyes", rec.PickupName)
	assert.Equal(t, VerifyTypedName, rec.VerificationMethod)
	require.NotNil(t, rec.CheckOutAt)

	// checked_out is terminal: a second release attempt loses.
	_, err = svc.CheckOut(ctx, "day1", "ath1",
		PickupPerson{Name: "Sam Reyes", Relationship: "father"}, VerifyTypedName, "amy", "")
	assert.Equal(t, fault.InvalidTransition, fault.CodeOf(err))

	// The first writer's audit trail stands.
	rec, err = svc.Record(ctx, "day1", "ath1")
	require.NoError(t, err)
	assert.Equal(t, "Dana Reyes", rec.PickupName)
}

func TestCheckOutRequiresCheckedIn(t *testing.T) {
	svc, store := newTestService(t)
	seedDay(store, "day1", "camp1", "ath1")
	ctx := context.Background()

	_, err := svc.Roster(ctx, "day1")
	require.NoError(t, err)

	_, err = svc.CheckOut(ctx, "day1", "ath1",
		PickupPerson{Name: "Dana", Relationship: "mother"}, VerifyTypedName, "amy", "")
	assert.Equal(t, fault.InvalidTransition, fault.CodeOf(err))
}

func TestCheckOutRequiresPickupName(t *testing.T) {
	svc, store := newTestService(t)
	seedDay(store, "day1", "camp1", "ath1")

	_, err := svc.CheckOut(context.Background(), "day1", "ath1",
		PickupPerson{Relationship: "mother"}, VerifyTypedName, "amy", "")
	assert.Equal(t, fault.InvalidTransition, fault.CodeOf(err))
}

func TestStartDay(t *testing.T) {
	svc, store := newTestService(t)
	store.AddDay(Day{ID: "day1", CampID: "camp1", Status: DayNotStarted})
	store.AddConfirmed("camp1", "ath1")
	ctx := context.Background()

	day, err := svc.StartDay(ctx, "day1")
	require.NoError(t, err)
	assert.Equal(t, DayInProgress, day.Status)

	roster, err := svc.Roster(ctx, "day1")
	require.NoError(t, err)
	assert.Len(t, roster, 1)

	_, err = svc.StartDay(ctx, "day1")
	assert.Equal(t, fault.InvalidTransition, fault.CodeOf(err))
}

func TestEndDaySweep(t *testing.T) {
	svc, store := newTestService(t)
	seedDay(store, "day1", "camp1", "ath1", "ath2", "ath3")
	ctx := context.Background()

	_, err := svc.Roster(ctx, "day1")
	require.NoError(t, err)
	_, err = svc.CheckIn(ctx, "day1", "ath1", MethodStaff, "amy")
	require.NoError(t, err)
	_, err = svc.CheckIn(ctx, "day1", "ath2", MethodStaff, "amy")
	require.NoError(t, err)
	_, err = svc.CheckOut(ctx, "day1", "ath2",
		PickupPerson{Name: "Dana", Relationship: "mother"}, VerifyTypedName, "amy", "")
	require.NoError(t, err)

	result, err := svc.EndDay(ctx, "day1", "amy", EndOptions{AutoCheckOut: true, Notes: "rainy day"})
	require.NoError(t, err)
	assert.Equal(t, DayFinished, result.Day.Status)
	assert.Equal(t, 1, result.Recap.SweptOut)
	assert.Equal(t, 2, result.Recap.CheckedOut)
	assert.Equal(t, 1, result.Recap.NoShows)
	assert.Equal(t, "rainy day", result.Recap.Notes)
	assert.Equal(t, "amy", result.Recap.ClosedBy)
	require.Len(t, result.Outcomes, 1)
	assert.True(t, result.Outcomes[0].OK)

	rec, err := svc.Record(ctx, "day1", "ath1")
	require.NoError(t, err)
	assert.Equal(t, StatusCheckedOut, rec.Status)
	assert.Equal(t, VerifyDayEndSweep, rec.VerificationMethod)

	day, err := svc.Day(ctx, "day1")
	require.NoError(t, err)
	assert.NotEmpty(t, day.Recap)
}

func TestEndDayRejectsDoubleClose(t *testing.T) {
	svc, store := newTestService(t)
	seedDay(store, "day1", "camp1")
	ctx := context.Background()

	_, err := svc.EndDay(ctx, "day1", "amy", EndOptions{})
	require.NoError(t, err)

	_, err = svc.EndDay(ctx, "day1", "amy", EndOptions{})
	assert.Equal(t, fault.InvalidTransition, fault.CodeOf(err))

	// Force allows re-closing an already finished day.
	result, err := svc.EndDay(ctx, "day1", "amy", EndOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, DayFinished, result.Day.Status)
}

func TestMarkAbsentSweep(t *testing.T) {
	svc, store := newTestService(t)
	seedDay(store, "day1", "camp1", "ath1", "ath2")
	ctx := context.Background()

	_, err := svc.CheckIn(ctx, "day1", "ath1", MethodStaff, "amy")
	require.NoError(t, err)

	outcomes, err := svc.MarkAbsentSweep(ctx, "day1", "amy")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "ath2", outcomes[0].AthleteID)
	assert.True(t, outcomes[0].OK)

	rec, err := svc.Record(ctx, "day1", "ath2")
	require.NoError(t, err)
	assert.Equal(t, StatusAbsent, rec.Status)

	// Running the sweep again finds nothing to do.
	outcomes, err = svc.MarkAbsentSweep(ctx, "day1", "amy")
	require.NoError(t, err)
	assert.Empty(t, outcomes)

	rec, err = svc.Record(ctx, "day1", "ath1")
	require.NoError(t, err)
	assert.Equal(t, StatusCheckedIn, rec.Status)
}
