package registration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camphq/internal/fault"
)

func newTestService(capacity int) (*Service, *MemStore) {
	store := NewMemStore()
	store.AddCamp(Camp{ID: "camp1", Name: "July Session", Capacity: capacity})
	svc := NewService(store)
	svc.now = func() time.Time { return time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC) }
	return svc, store
}

func TestRegister(t *testing.T) {
	svc, _ := newTestService(2)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "camp1", "ath1")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, reg.Status)

	c, err := svc.Capacity(ctx, "camp1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Consumed)
	assert.Equal(t, 1, c.Free)
}

func TestRegisterFullCamp(t *testing.T) {
	svc, store := newTestService(1)
	store.Seed("camp1", "ath1", StatusConfirmed)

	_, err := svc.Register(context.Background(), "camp1", "ath2")
	assert.Equal(t, fault.CapacityUnavailable, fault.CodeOf(err))
}

func TestRegisterLastSlotTakenOnce(t *testing.T) {
	svc, _ := newTestService(1)
	ctx := context.Background()

	_, err := svc.Register(ctx, "camp1", "ath1")
	require.NoError(t, err)

	// The slot check rides the insert: a second signup cannot also claim it.
	_, err = svc.Register(ctx, "camp1", "ath2")
	assert.Equal(t, fault.CapacityUnavailable, fault.CodeOf(err))
}

func TestRegisterCountsLiveOffers(t *testing.T) {
	svc, store := newTestService(1)
	id := store.Seed("camp1", "ath1", StatusOffered)
	future := time.Date(2026, 7, 2, 10, 0, 0, 0, time.UTC)
	store.mu.Lock()
	store.regs[id].OfferExpiresAt = &future
	store.mu.Unlock()

	// A live offer reserves the slot against direct signups.
	_, err := svc.Register(context.Background(), "camp1", "ath2")
	assert.Equal(t, fault.CapacityUnavailable, fault.CodeOf(err))
}

func TestRegisterUnknownCamp(t *testing.T) {
	svc, _ := newTestService(1)
	_, err := svc.Register(context.Background(), "nope", "ath1")
	assert.Equal(t, fault.NotFound, fault.CodeOf(err))
}

func TestConfirmAcceptedOffer(t *testing.T) {
	svc, store := newTestService(1)
	id := store.Seed("camp1", "ath1", StatusAccepted)
	ctx := context.Background()

	require.NoError(t, svc.Confirm(ctx, id))

	reg, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, reg.Status)

	// Confirming twice is rejected.
	err = svc.Confirm(ctx, id)
	assert.Equal(t, fault.InvalidTransition, fault.CodeOf(err))
}

func TestCancelFreesSlot(t *testing.T) {
	svc, store := newTestService(1)
	id := store.Seed("camp1", "ath1", StatusConfirmed)
	ctx := context.Background()

	require.NoError(t, svc.Cancel(ctx, id))

	c, err := svc.Capacity(ctx, "camp1")
	require.NoError(t, err)
	assert.Equal(t, 0, c.Consumed)
	assert.Equal(t, 1, c.Free)

	err = svc.Cancel(ctx, id)
	assert.Equal(t, fault.InvalidTransition, fault.CodeOf(err))

	err = svc.Cancel(ctx, "unknown")
	assert.Equal(t, fault.NotFound, fault.CodeOf(err))
}

func TestCapacityExcludesLapsedOffers(t *testing.T) {
	svc, store := newTestService(2)
	id := store.Seed("camp1", "ath1", StatusOffered)
	past := time.Date(2026, 6, 30, 10, 0, 0, 0, time.UTC)
	store.mu.Lock()
	store.regs[id].OfferExpiresAt = &past
	store.mu.Unlock()

	c, err := svc.Capacity(context.Background(), "camp1")
	require.NoError(t, err)
	assert.Equal(t, 0, c.LiveOffers)
	assert.Equal(t, 2, c.Free)
}
