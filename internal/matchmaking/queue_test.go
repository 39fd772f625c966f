// internal/matchmaking/queue_test.go
package matchmaking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skirmish-gg/skirmish/internal/models"
	"github.com/skirmish-gg/skirmish/internal/party"
	"github.com/skirmish-gg/skirmish/internal/rating"
)

// testQueue wires a queue against an in-memory store with a controllable
// clock.
func testQueue(t *testing.T) (*Queue, *rating.MemoryStore, *time.Time) {
	t.Helper()
	store := rating.NewMemoryStore()
	q := NewQueue("s1", store, nil)
	now := time.Now()
	q.SetClock(func() time.Time { return now })
	return q, store, &now
}

func mustJoin(t *testing.T, q *Queue, playerID string, mmr float64) *models.RankedTicket {
	t.Helper()
	tk, err := q.Join(context.Background(), playerID, models.ModeDuel, "Global", mmr, "")
	require.NoError(t, err)
	require.Equal(t, models.TicketQueued, tk.Status)
	return tk
}

func TestJoinDefaultsToStoredOrBaselineMMR(t *testing.T) {
	q, store, _ := testQueue(t)

	rec := rating.NewRecord("s1", "vet", "Vet")
	rec.Rating = 1874
	require.NoError(t, store.Upsert(context.Background(), rec))

	vet := mustJoin(t, q, "vet", 0)
	assert.Equal(t, 1874.0, vet.MMR)

	fresh := mustJoin(t, q, "newbie", 0)
	assert.Equal(t, rating.DefaultRating, fresh.MMR)
}

func TestJoinReplacesExistingTicket(t *testing.T) {
	q, _, _ := testQueue(t)

	first := mustJoin(t, q, "p1", 1500)
	second := mustJoin(t, q, "p1", 1500)

	require.NotEqual(t, first.ID, second.ID)
	_, ok := q.Get(first.ID)
	assert.False(t, ok, "replaced ticket must be gone")
	_, ok = q.Get(second.ID)
	assert.True(t, ok)
}

func TestPairWithinBaseTolerance(t *testing.T) {
	q, _, _ := testQueue(t)
	confirmedGap := make(chan ConfirmedMatch, 1)
	q.OnConfirmed(func(cm ConfirmedMatch) { confirmedGap <- cm })

	a := mustJoin(t, q, "a", 1500)
	b := mustJoin(t, q, "b", 1550)
	q.Pair()

	ta, ok := q.Get(a.ID)
	require.True(t, ok)
	tb, ok := q.Get(b.ID)
	require.True(t, ok)
	assert.Equal(t, models.TicketMatchProposed, ta.Status)
	assert.Equal(t, models.TicketMatchProposed, tb.Status)
	assert.Equal(t, ta.MatchID, tb.MatchID)
	assert.NotEmpty(t, ta.AcceptToken)
	assert.NotEqual(t, ta.AcceptToken, tb.AcceptToken)
	assert.Len(t, confirmedGap, 0, "proposal alone must not confirm")
}

func TestPairSkipsGapBeyondTolerance(t *testing.T) {
	q, _, now := testQueue(t)

	a := mustJoin(t, q, "a", 1500)
	b := mustJoin(t, q, "b", 1700)
	q.Pair()

	ta, _ := q.Get(a.ID)
	assert.Equal(t, models.TicketQueued, ta.Status, "200 gap exceeds base tolerance")

	// After 4 seconds each window is 100 + 25*4 = 200, covering the gap.
	*now = now.Add(4 * time.Second)
	q.Pair()

	ta, _ = q.Get(a.ID)
	tb, _ := q.Get(b.ID)
	assert.Equal(t, models.TicketMatchProposed, ta.Status)
	assert.Equal(t, models.TicketMatchProposed, tb.Status)
}

func TestPairPrefersClosestCandidate(t *testing.T) {
	q, _, now := testQueue(t)

	a := mustJoin(t, q, "a", 1500)
	*now = now.Add(time.Millisecond)
	far := mustJoin(t, q, "far", 1590)
	*now = now.Add(time.Millisecond)
	near := mustJoin(t, q, "near", 1510)
	q.Pair()

	ta, _ := q.Get(a.ID)
	tn, _ := q.Get(near.ID)
	require.Equal(t, models.TicketMatchProposed, ta.Status)
	assert.Equal(t, ta.MatchID, tn.MatchID, "closest MMR should be chosen")
	tf, _ := q.Get(far.ID)
	assert.Equal(t, models.TicketQueued, tf.Status)
}

func TestAcceptBothSidesConfirms(t *testing.T) {
	q, _, _ := testQueue(t)
	var confirmed []ConfirmedMatch
	q.OnConfirmed(func(cm ConfirmedMatch) { confirmed = append(confirmed, cm) })

	a := mustJoin(t, q, "a", 1500)
	b := mustJoin(t, q, "b", 1500)
	q.Pair()
	ta, _ := q.Get(a.ID)
	tb, _ := q.Get(b.ID)

	got, err := q.Accept("a", ta.MatchID, ta.ID, ta.AcceptToken)
	require.NoError(t, err)
	assert.Equal(t, models.TicketAccepted, got.Status)
	assert.Empty(t, confirmed, "waiting on the other side")

	_, err = q.Accept("b", tb.MatchID, tb.ID, tb.AcceptToken)
	require.NoError(t, err)

	require.Len(t, confirmed, 1)
	assert.Equal(t, ta.MatchID, confirmed[0].MatchID)
	assert.ElementsMatch(t, []string{"a", "b"}, confirmed[0].Players)

	// Confirmed tickets are terminal and gone.
	_, ok := q.Get(ta.ID)
	assert.False(t, ok)
	_, ok = q.Get(tb.ID)
	assert.False(t, ok)
}

func TestAcceptRejectsBadToken(t *testing.T) {
	q, _, _ := testQueue(t)

	a := mustJoin(t, q, "a", 1500)
	mustJoin(t, q, "b", 1500)
	q.Pair()
	ta, _ := q.Get(a.ID)

	_, err := q.Accept("a", ta.MatchID, ta.ID, "forged-token")
	assert.ErrorIs(t, err, ErrTokenInvalid)

	// The real token still works after a failed attempt.
	_, err = q.Accept("a", ta.MatchID, ta.ID, ta.AcceptToken)
	assert.NoError(t, err)
}

func TestAcceptTokenSingleUse(t *testing.T) {
	q, _, _ := testQueue(t)

	a := mustJoin(t, q, "a", 1500)
	mustJoin(t, q, "b", 1500)
	q.Pair()
	ta, _ := q.Get(a.ID)

	_, err := q.Accept("a", ta.MatchID, ta.ID, ta.AcceptToken)
	require.NoError(t, err)
	_, err = q.Accept("a", ta.MatchID, ta.ID, ta.AcceptToken)
	assert.Error(t, err, "a spent token must not be replayable")
}

func TestAcceptAfterWindowFailsClosed(t *testing.T) {
	q, _, now := testQueue(t)

	a := mustJoin(t, q, "a", 1500)
	mustJoin(t, q, "b", 1500)
	q.Pair()
	ta, _ := q.Get(a.ID)

	*now = now.Add(proposalTTL + time.Second)
	_, err := q.Accept("a", ta.MatchID, ta.ID, ta.AcceptToken)
	assert.ErrorIs(t, err, ErrMatchExpired)
}

func TestDeclineRequeuesOtherSide(t *testing.T) {
	q, _, now := testQueue(t)

	enqueue := *now
	a := mustJoin(t, q, "a", 1500)
	b := mustJoin(t, q, "b", 1500)
	*now = now.Add(3 * time.Second)
	q.Pair()
	ta, _ := q.Get(a.ID)

	got := q.Decline("a", ta.MatchID, ta.ID)
	require.NotNil(t, got)
	assert.Equal(t, models.TicketDeclined, got.Status)

	_, ok := q.Get(a.ID)
	assert.False(t, ok, "decliner is removed from the queue")

	tb, ok := q.Get(b.ID)
	require.True(t, ok, "other side must be requeued")
	assert.Equal(t, models.TicketQueued, tb.Status)
	assert.Equal(t, uuid.Nil, tb.MatchID)
	assert.Empty(t, tb.AcceptToken)
	assert.True(t, tb.EnqueuedAt.Equal(enqueue), "requeue keeps original wait time")
}

func TestDeclineAfterOwnAcceptStillCancels(t *testing.T) {
	q, _, _ := testQueue(t)

	a := mustJoin(t, q, "a", 1500)
	b := mustJoin(t, q, "b", 1500)
	q.Pair()
	ta, _ := q.Get(a.ID)

	_, err := q.Accept("a", ta.MatchID, ta.ID, ta.AcceptToken)
	require.NoError(t, err)

	// Until the other side confirms, an accept can still be withdrawn.
	got := q.Decline("a", ta.MatchID, ta.ID)
	require.NotNil(t, got)
	assert.Equal(t, models.TicketDeclined, got.Status)
	_, ok := q.Get(a.ID)
	assert.False(t, ok, "withdrawing decliner is removed")

	tb, ok := q.Get(b.ID)
	require.True(t, ok)
	assert.Equal(t, models.TicketQueued, tb.Status, "partner returns to the pool")
}

func TestDeclineIdempotent(t *testing.T) {
	q, _, _ := testQueue(t)

	a := mustJoin(t, q, "a", 1500)
	mustJoin(t, q, "b", 1500)
	q.Pair()
	ta, _ := q.Get(a.ID)

	first := q.Decline("a", ta.MatchID, ta.ID)
	require.NotNil(t, first)
	second := q.Decline("a", ta.MatchID, ta.ID)
	assert.Nil(t, second, "declining a gone ticket is a no-op")
}

func TestExpiryBehavesLikeDecline(t *testing.T) {
	q, _, now := testQueue(t)

	enqueue := *now
	a := mustJoin(t, q, "a", 1500)
	b := mustJoin(t, q, "b", 1500)
	q.Pair()
	ta, _ := q.Get(a.ID)

	// a accepts in time, b never answers.
	_, err := q.Accept("a", ta.MatchID, ta.ID, ta.AcceptToken)
	require.NoError(t, err)

	*now = now.Add(proposalTTL + time.Second)
	q.ExpireProposals()

	// The silent side is removed, same as if it had declined.
	_, ok := q.Get(b.ID)
	assert.False(t, ok)

	// The accepting side goes back into the pool with seniority intact.
	ta2, ok := q.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, models.TicketQueued, ta2.Status)
	assert.True(t, ta2.EnqueuedAt.Equal(enqueue))
}

func TestLeaveIdempotent(t *testing.T) {
	q, _, _ := testQueue(t)

	tk := mustJoin(t, q, "a", 1500)
	q.Leave("a", tk.ID)
	_, ok := q.Get(tk.ID)
	assert.False(t, ok)

	q.Leave("a", tk.ID) // second leave must not panic or error
}

func TestLeaveDuringProposalUnwindsMatch(t *testing.T) {
	q, _, _ := testQueue(t)

	a := mustJoin(t, q, "a", 1500)
	b := mustJoin(t, q, "b", 1500)
	q.Pair()

	q.Leave("a", a.ID)

	tb, ok := q.Get(b.ID)
	require.True(t, ok)
	assert.Equal(t, models.TicketQueued, tb.Status, "abandoned partner returns to the pool")
}

func TestLeaveWrongOwnerIgnored(t *testing.T) {
	q, _, _ := testQueue(t)

	tk := mustJoin(t, q, "a", 1500)
	q.Leave("mallory", tk.ID)
	_, ok := q.Get(tk.ID)
	assert.True(t, ok, "only the owner may cancel a ticket")
}

func TestPartyJoinFansOut(t *testing.T) {
	store := rating.NewMemoryStore()
	parties := party.NewRegistry()
	q := NewQueue("s1", store, parties)

	p := parties.CreateParty("leader", "Leader")
	_, err := parties.JoinParty(p.Code, "buddy", "Buddy")
	require.NoError(t, err)

	tk, err := q.Join(context.Background(), "leader", models.ModeDuel, "Global", 0, "Leader")
	require.NoError(t, err)
	assert.Equal(t, "leader", tk.PlayerID)

	q.Pair()
	got, ok := q.Get(tk.ID)
	require.True(t, ok)
	// Both members are queued, so the pairing pass matches them together.
	assert.Equal(t, models.TicketMatchProposed, got.Status)
}

func TestQueueChurnNeverTouchesRatings(t *testing.T) {
	q, store, now := testQueue(t)

	a := mustJoin(t, q, "a", 1500)
	mustJoin(t, q, "b", 1500)
	q.Pair()
	ta, _ := q.Get(a.ID)
	q.Decline("a", ta.MatchID, ta.ID)

	mustJoin(t, q, "a", 1500)
	c := mustJoin(t, q, "c", 1500)
	q.Pair()
	*now = now.Add(proposalTTL + time.Second)
	q.ExpireProposals()
	q.Leave("c", c.ID)

	for _, id := range []string{"a", "b", "c"} {
		_, found, err := store.Get(context.Background(), "s1", id)
		require.NoError(t, err)
		assert.False(t, found, "queue churn wrote a rating for %s", id)
	}
}
