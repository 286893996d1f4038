package waitlist

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camphq/internal/fault"
	"camphq/internal/queue"
	"camphq/internal/registration"
)

// captureQueue records published messages for assertions.
type captureQueue struct {
	msgs []queue.Message
}

func (q *captureQueue) Publish(_ context.Context, msg queue.Message) error {
	q.msgs = append(q.msgs, msg)
	return nil
}

func (q *captureQueue) Consume(context.Context) (<-chan queue.Message, error) {
	return nil, nil
}

type fixture struct {
	svc   *Service
	store *MemStore
	q     *captureQueue
	now   time.Time
}

func newFixture(t *testing.T, capacity int) *fixture {
	t.Helper()
	f := &fixture{
		store: NewMemStore(),
		q:     &captureQueue{},
		now:   time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC),
	}
	f.store.SetCamp("camp1", capacity)
	f.svc = NewService(f.store, f.store, f.q, 24*time.Hour)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) join(t *testing.T, athletes ...string) []Entry {
	t.Helper()
	var entries []Entry
	for _, a := range athletes {
		e, err := f.svc.Join(context.Background(), "camp1", a)
		require.NoError(t, err)
		entries = append(entries, e)
		f.now = f.now.Add(time.Minute)
	}
	return entries
}

func (f *fixture) offerToken(t *testing.T, i int) string {
	t.Helper()
	require.Greater(t, len(f.q.msgs), i)
	var job struct {
		OfferToken string `json:"offer_token"`
	}
	require.NoError(t, json.Unmarshal(f.q.msgs[i].Body, &job))
	require.NotEmpty(t, job.OfferToken)
	return job.OfferToken
}

func TestJoinFIFO(t *testing.T) {
	f := newFixture(t, 0)
	f.join(t, "ath1", "ath2", "ath3")

	entries, err := f.svc.Entries(context.Background(), "camp1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "ath1", entries[0].AthleteID)
	assert.Equal(t, "ath2", entries[1].AthleteID)
	assert.Equal(t, "ath3", entries[2].AthleteID)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Position)
		assert.Equal(t, registration.StatusWaitlisted, e.Status)
	}
}

func TestJoinRejectsDuplicate(t *testing.T) {
	f := newFixture(t, 0)
	f.join(t, "ath1")

	_, err := f.svc.Join(context.Background(), "camp1", "ath1")
	assert.Equal(t, fault.InvalidTransition, fault.CodeOf(err))
}

func TestSendOfferRefusedWhenFull(t *testing.T) {
	f := newFixture(t, 2)
	f.store.SeedRegistration("camp1", "c1", registration.StatusConfirmed)
	f.store.SeedRegistration("camp1", "c2", registration.StatusConfirmed)
	entries := f.join(t, "ath1")

	_, _, err := f.svc.SendOffer(context.Background(), entries[0].RegistrationID)
	assert.Equal(t, fault.CapacityUnavailable, fault.CodeOf(err))

	// The entry keeps its place in line.
	e, err := f.store.Get(context.Background(), entries[0].RegistrationID)
	require.NoError(t, err)
	assert.Equal(t, registration.StatusWaitlisted, e.Status)
}

func TestCancellationFreesSlotForOffer(t *testing.T) {
	f := newFixture(t, 2)
	f.store.SeedRegistration("camp1", "c1", registration.StatusConfirmed)
	c2 := f.store.SeedRegistration("camp1", "c2", registration.StatusConfirmed)
	entries := f.join(t, "ath1")
	ctx := context.Background()

	_, _, err := f.svc.SendOffer(ctx, entries[0].RegistrationID)
	require.Equal(t, fault.CapacityUnavailable, fault.CodeOf(err))

	f.store.SetStatus(c2, registration.StatusCancelled)

	entry, token, err := f.svc.SendOffer(ctx, entries[0].RegistrationID)
	require.NoError(t, err)
	assert.Equal(t, registration.StatusOffered, entry.Status)
	assert.NotEmpty(t, token)
	require.NotNil(t, entry.OfferExpiresAt)
	assert.Equal(t, f.now.Add(24*time.Hour), entry.OfferExpiresAt.UTC())
}

func TestPromotionNeverExceedsFreeSlots(t *testing.T) {
	f := newFixture(t, 2)
	f.join(t, "ath1", "ath2", "ath3")
	ctx := context.Background()

	promoted, err := f.svc.PromoteCamp(ctx, "camp1")
	require.NoError(t, err)
	assert.Equal(t, 2, promoted)

	entries, err := f.svc.Entries(ctx, "camp1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, registration.StatusOffered, entries[0].Status)
	assert.Equal(t, registration.StatusOffered, entries[1].Status)
	assert.Equal(t, registration.StatusWaitlisted, entries[2].Status)

	c, err := f.svc.Capacity(ctx, "camp1")
	require.NoError(t, err)
	assert.Equal(t, 2, c.LiveOffers)
	assert.Equal(t, 0, c.Free)

	// Re-promoting with no free slots is a no-op.
	promoted, err = f.svc.PromoteCamp(ctx, "camp1")
	require.NoError(t, err)
	assert.Equal(t, 0, promoted)
}

func TestAccept(t *testing.T) {
	f := newFixture(t, 1)
	entries := f.join(t, "ath1")
	ctx := context.Background()

	_, token, err := f.svc.SendOffer(ctx, entries[0].RegistrationID)
	require.NoError(t, err)

	accepted, err := f.svc.Accept(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, registration.StatusAccepted, accepted.Status)

	// The token is single-use.
	_, err = f.svc.Accept(ctx, token)
	assert.Equal(t, fault.AlreadyRedeemed, fault.CodeOf(err))
}

func TestAcceptUnknownToken(t *testing.T) {
	f := newFixture(t, 1)
	_, err := f.svc.Accept(context.Background(), "NOT-A-TOKEN")
	assert.Equal(t, fault.NotFound, fault.CodeOf(err))
}

func TestAcceptExpiredOffer(t *testing.T) {
	f := newFixture(t, 1)
	entries := f.join(t, "ath1")
	ctx := context.Background()

	_, token, err := f.svc.SendOffer(ctx, entries[0].RegistrationID)
	require.NoError(t, err)

	f.now = f.now.Add(25 * time.Hour)
	_, err = f.svc.Accept(ctx, token)
	assert.Equal(t, fault.Expired, fault.CodeOf(err))

	e, err := f.store.Get(ctx, entries[0].RegistrationID)
	require.NoError(t, err)
	assert.Equal(t, registration.StatusExpired, e.Status)
}

func TestExpirySweepPromotesSuccessor(t *testing.T) {
	f := newFixture(t, 1)
	entries := f.join(t, "ath1", "ath2")
	ctx := context.Background()

	_, firstToken, err := f.svc.SendOffer(ctx, entries[0].RegistrationID)
	require.NoError(t, err)

	f.now = f.now.Add(25 * time.Hour)
	result, err := f.svc.ExpireStaleOffers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Expired)
	assert.Equal(t, 1, result.Promoted)
	assert.Equal(t, []string{"camp1"}, result.Camps)

	next, err := f.store.Get(ctx, entries[1].RegistrationID)
	require.NoError(t, err)
	assert.Equal(t, registration.StatusOffered, next.Status)

	// The successor got its own token; the lapsed one no longer works.
	require.Len(t, f.q.msgs, 2)
	secondToken := f.offerToken(t, 1)
	assert.NotEqual(t, firstToken, secondToken)

	_, err = f.svc.Accept(ctx, firstToken)
	assert.Equal(t, fault.Expired, fault.CodeOf(err))

	accepted, err := f.svc.Accept(ctx, secondToken)
	require.NoError(t, err)
	assert.Equal(t, entries[1].RegistrationID, accepted.RegistrationID)
}

func TestSweepPromotesAfterCancellation(t *testing.T) {
	f := newFixture(t, 1)
	confirmed := f.store.SeedRegistration("camp1", "c1", registration.StatusConfirmed)
	entries := f.join(t, "ath1")
	ctx := context.Background()

	_, _, err := f.svc.SendOffer(ctx, entries[0].RegistrationID)
	require.Equal(t, fault.CapacityUnavailable, fault.CodeOf(err))

	f.store.SetStatus(confirmed, registration.StatusCancelled)

	// No offer expired this run; the freed slot still gets filled.
	result, err := f.svc.ExpireStaleOffers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Expired)
	assert.Equal(t, 1, result.Promoted)
	assert.Equal(t, []string{"camp1"}, result.Camps)

	e, err := f.store.Get(ctx, entries[0].RegistrationID)
	require.NoError(t, err)
	assert.Equal(t, registration.StatusOffered, e.Status)
}

func TestRejoinAfterExpiredOffer(t *testing.T) {
	f := newFixture(t, 1)
	entries := f.join(t, "ath1", "ath2")
	ctx := context.Background()

	_, token, err := f.svc.SendOffer(ctx, entries[0].RegistrationID)
	require.NoError(t, err)

	f.now = f.now.Add(25 * time.Hour)
	_, err = f.svc.ExpireStaleOffers(ctx)
	require.NoError(t, err)

	// The family re-enters at the back of the line, reusing its row.
	rejoined, err := f.svc.Join(ctx, "camp1", "ath1")
	require.NoError(t, err)
	assert.Equal(t, entries[0].RegistrationID, rejoined.RegistrationID)
	assert.Equal(t, registration.StatusWaitlisted, rejoined.Status)

	queue, err := f.svc.Entries(ctx, "camp1")
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, "ath2", queue[0].AthleteID)
	assert.Equal(t, "ath1", queue[1].AthleteID)

	// The lapsed offer token died with the rejoin.
	_, err = f.svc.Accept(ctx, token)
	assert.Equal(t, fault.NotFound, fault.CodeOf(err))
}

func TestRejoinAfterCancellation(t *testing.T) {
	f := newFixture(t, 1)
	cancelled := f.store.SeedRegistration("camp1", "ath1", registration.StatusCancelled)
	ctx := context.Background()

	entry, err := f.svc.Join(ctx, "camp1", "ath1")
	require.NoError(t, err)
	assert.Equal(t, cancelled, entry.RegistrationID)
	assert.Equal(t, registration.StatusWaitlisted, entry.Status)
}

func TestExpirySweepIdempotent(t *testing.T) {
	f := newFixture(t, 1)
	entries := f.join(t, "ath1")
	ctx := context.Background()

	_, _, err := f.svc.SendOffer(ctx, entries[0].RegistrationID)
	require.NoError(t, err)

	f.now = f.now.Add(25 * time.Hour)
	first, err := f.svc.ExpireStaleOffers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Expired)

	second, err := f.svc.ExpireStaleOffers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Expired)
	assert.Equal(t, 0, second.Promoted)
}

func TestRemove(t *testing.T) {
	f := newFixture(t, 1)
	entries := f.join(t, "ath1", "ath2")
	ctx := context.Background()

	removed, err := f.svc.Remove(ctx, entries[0].RegistrationID, "amy")
	require.NoError(t, err)
	assert.Equal(t, registration.StatusRemoved, removed.Status)

	// Removal is terminal.
	_, err = f.svc.Remove(ctx, entries[0].RegistrationID, "amy")
	assert.Equal(t, fault.InvalidTransition, fault.CodeOf(err))

	_, err = f.svc.Remove(ctx, "unknown", "amy")
	assert.Equal(t, fault.NotFound, fault.CodeOf(err))
}

func TestRemoveOfferedDoesNotPromote(t *testing.T) {
	f := newFixture(t, 1)
	entries := f.join(t, "ath1", "ath2")
	ctx := context.Background()

	_, _, err := f.svc.SendOffer(ctx, entries[0].RegistrationID)
	require.NoError(t, err)

	_, err = f.svc.Remove(ctx, entries[0].RegistrationID, "amy")
	require.NoError(t, err)

	// Queue movement stays a deliberate staff action.
	next, err := f.store.Get(ctx, entries[1].RegistrationID)
	require.NoError(t, err)
	assert.Equal(t, registration.StatusWaitlisted, next.Status)
}

func TestOfferNotificationPayload(t *testing.T) {
	f := newFixture(t, 1)
	f.store.SetGuardianEmail("ath1", "guardian@example.com")
	entries := f.join(t, "ath1")

	_, token, err := f.svc.SendOffer(context.Background(), entries[0].RegistrationID)
	require.NoError(t, err)

	require.Len(t, f.q.msgs, 1)
	assert.Equal(t, "waitlist_offer", f.q.msgs[0].Type)

	var job struct {
		RegistrationID string `json:"registration_id"`
		CampID         string `json:"camp_id"`
		Recipient      string `json:"recipient"`
		OfferToken     string `json:"offer_token"`
	}
	require.NoError(t, json.Unmarshal(f.q.msgs[0].Body, &job))
	assert.Equal(t, entries[0].RegistrationID, job.RegistrationID)
	assert.Equal(t, "camp1", job.CampID)
	assert.Equal(t, "guardian@example.com", job.Recipient)
	assert.Equal(t, token, job.OfferToken)
}
