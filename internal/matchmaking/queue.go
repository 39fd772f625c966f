// internal/matchmaking/queue.go
package matchmaking

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/skirmish-gg/skirmish/internal/models"
	"github.com/skirmish-gg/skirmish/internal/party"
	"github.com/skirmish-gg/skirmish/internal/rating"
)

var (
	// ErrTicketNotFound is returned when a ticket ID has no live ticket.
	ErrTicketNotFound = errors.New("ticket not found")
	// ErrMatchNotFound is returned when a match ID has no pending proposal.
	ErrMatchNotFound = errors.New("match not found")
	// ErrTokenInvalid is returned for an accept with a mismatched or reused
	// token. Fails closed: the caller is never silently matched.
	ErrTokenInvalid = errors.New("invalid accept token")
	// ErrMatchExpired is returned for an accept arriving after the window.
	ErrMatchExpired = errors.New("match proposal expired")
)

const (
	// pairInterval is how often each bucket attempts pairing.
	pairInterval = 2 * time.Second
	// proposalTTL is the accept/decline window for a proposed match.
	proposalTTL = 15 * time.Second
	// baseTolerance is the initial acceptable MMR gap for a fresh ticket.
	baseTolerance = 100.0
	// tolerancePerSecond widens a ticket's window as it waits, so every
	// ticket is eventually pairable.
	tolerancePerSecond = 25.0
)

// bucketKey identifies one pairing bucket.
type bucketKey struct {
	mode   models.GameMode
	region string
}

// ConfirmedMatch is handed to the orchestrator once every side of a proposal
// has accepted in time.
type ConfirmedMatch struct {
	MatchID uuid.UUID
	Mode    models.GameMode
	Region  string
	Players []string
}

// Queue is the ranked matchmaking queue. One Queue owns every ticket and
// pending proposal; all mutations happen under its mutex, which keeps the
// check-capacity-then-transition sequences of the ticket state machine safe.
type Queue struct {
	mu       sync.Mutex
	tickets  map[uuid.UUID]*models.RankedTicket
	byPlayer map[string]uuid.UUID
	matches  map[uuid.UUID]*models.RankedMatch

	seasonID string
	store    rating.Store
	parties  *party.Registry
	now      func() time.Time

	// onConfirmed receives fully-accepted matches. Called outside the lock.
	onConfirmed func(ConfirmedMatch)
}

// NewQueue creates an empty queue for one season.
func NewQueue(seasonID string, store rating.Store, parties *party.Registry) *Queue {
	return &Queue{
		tickets:  make(map[uuid.UUID]*models.RankedTicket),
		byPlayer: make(map[string]uuid.UUID),
		matches:  make(map[uuid.UUID]*models.RankedMatch),
		seasonID: seasonID,
		store:    store,
		parties:  parties,
		now:      time.Now,
	}
}

// SetClock overrides the queue's time source. Intended for tests.
func (q *Queue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

// OnConfirmed registers the callback invoked for each confirmed match.
func (q *Queue) OnConfirmed(fn func(ConfirmedMatch)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onConfirmed = fn
}

// SeasonID returns the season this queue writes ratings for.
func (q *Queue) SeasonID() string { return q.seasonID }

// Join enqueues a player, and with them every member of their party.
// Joining with a live ticket replaces it rather than duplicating it. The
// caller's own ticket is returned.
func (q *Queue) Join(ctx context.Context, playerID string, mode models.GameMode, region string, mmr float64, username string) (*models.RankedTicket, error) {
	memberIDs := []string{playerID}
	if q.parties != nil {
		memberIDs = q.parties.GetAllPartyMemberIDs(playerID)
	}

	// Resolve an MMR per member before taking the queue lock: the caller may
	// supply a hint, everyone else gets their stored rating.
	mmrs := make(map[string]float64, len(memberIDs))
	for _, id := range memberIDs {
		if id == playerID && mmr > 0 {
			mmrs[id] = mmr
			continue
		}
		rec, found, err := q.store.Get(ctx, q.seasonID, id)
		if err != nil {
			return nil, err
		}
		if found {
			mmrs[id] = rec.Rating
		} else {
			mmrs[id] = rating.DefaultRating
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var callerTicket *models.RankedTicket
	now := q.now()
	for _, id := range memberIDs {
		q.removePlayerTicketUnsafe(id, models.TicketCancelled)

		t := &models.RankedTicket{
			ID:         uuid.New(),
			PlayerID:   id,
			Mode:       mode,
			Region:     region,
			MMR:        mmrs[id],
			Status:     models.TicketQueued,
			EnqueuedAt: now,
		}
		if id == playerID {
			t.Username = username
			callerTicket = t
		}
		q.tickets[t.ID] = t
		q.byPlayer[id] = t.ID
	}

	log.WithFields(log.Fields{
		"player": playerID, "mode": mode, "region": region, "members": len(memberIDs),
	}).Info("ranked queue join")
	return copyTicket(callerTicket), nil
}

// Get returns a snapshot of a ticket.
func (q *Queue) Get(ticketID uuid.UUID) (*models.RankedTicket, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tickets[ticketID]
	if !ok {
		return nil, false
	}
	return copyTicket(t), true
}

// Leave removes a ticket. A ticket that is already gone is treated as
// success, because client retries and double-submits are routine.
func (q *Queue) Leave(playerID string, ticketID uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tickets[ticketID]
	if !ok || t.PlayerID != playerID {
		return
	}
	q.removeTicketUnsafe(t, models.TicketCancelled)
	log.WithFields(log.Fields{"player": playerID, "ticket": ticketID}).Info("ranked queue leave")
}

// Accept records one side's acceptance of a proposed match. The token must be
// the single-use token issued for exactly this (match, ticket) pair, and the
// window must still be open. When every side has accepted, the match is
// confirmed and handed to the orchestrator.
func (q *Queue) Accept(playerID string, matchID, ticketID uuid.UUID, acceptToken string) (*models.RankedTicket, error) {
	q.mu.Lock()

	t, ok := q.tickets[ticketID]
	if !ok || t.PlayerID != playerID {
		q.mu.Unlock()
		return nil, ErrTicketNotFound
	}
	if t.Status != models.TicketMatchProposed || t.MatchID != matchID {
		q.mu.Unlock()
		return nil, ErrMatchNotFound
	}
	m, ok := q.matches[matchID]
	if !ok {
		q.mu.Unlock()
		return nil, ErrMatchNotFound
	}
	if q.now().After(m.ExpiresAt) {
		// The sweep will cancel it momentarily; fail closed now.
		q.mu.Unlock()
		return nil, ErrMatchExpired
	}
	if subtle.ConstantTimeCompare([]byte(t.AcceptToken), []byte(acceptToken)) != 1 {
		q.mu.Unlock()
		return nil, ErrTokenInvalid
	}

	t.Status = models.TicketAccepted
	t.AcceptToken = "" // single use
	m.Accepted[ticketID] = true

	var confirmed *ConfirmedMatch
	if m.AllAccepted() {
		cm := ConfirmedMatch{MatchID: m.ID, Mode: m.Mode, Region: m.Region}
		for _, tid := range m.TicketIDs {
			if mt, ok := q.tickets[tid]; ok {
				cm.Players = append(cm.Players, mt.PlayerID)
			}
		}
		// Tickets reach their terminal state once the match is materialized.
		for _, tid := range m.TicketIDs {
			if mt, ok := q.tickets[tid]; ok {
				q.deleteTicketUnsafe(mt)
			}
		}
		delete(q.matches, matchID)
		confirmed = &cm
	}

	snap := copyTicket(t)
	cb := q.onConfirmed
	q.mu.Unlock()

	if confirmed != nil {
		log.WithField("match", matchID).Info("ranked match confirmed")
		if cb != nil {
			cb(*confirmed)
		}
	}
	return snap, nil
}

// Decline cancels a pending match proposal. An accept is not a commitment:
// until the match is confirmed, a side that already accepted may still back
// out. The declining ticket is removed; every other ticket in the match
// returns to Queued with its original wait time, so nobody else is penalized.
// Idempotent: declining a gone ticket is a no-op.
func (q *Queue) Decline(playerID string, matchID, ticketID uuid.UUID) *models.RankedTicket {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tickets[ticketID]
	if !ok || t.PlayerID != playerID {
		return nil
	}
	pendingProposal := t.Status == models.TicketMatchProposed || t.Status == models.TicketAccepted
	if !pendingProposal || t.MatchID != matchID {
		return copyTicket(t)
	}
	q.cancelMatchUnsafe(matchID, ticketID, models.TicketDeclined)
	log.WithFields(log.Fields{"player": playerID, "match": matchID}).Info("ranked match declined")
	return &models.RankedTicket{ID: ticketID, PlayerID: playerID, Status: models.TicketDeclined}
}

// Pair runs one pairing pass over every (mode, region) bucket, proposing
// matches for tickets whose MMR windows overlap. A ticket's window widens the
// longer it has waited.
func (q *Queue) Pair() {
	q.mu.Lock()

	buckets := make(map[bucketKey][]*models.RankedTicket)
	for _, t := range q.tickets {
		if t.Status == models.TicketQueued {
			k := bucketKey{mode: t.Mode, region: t.Region}
			buckets[k] = append(buckets[k], t)
		}
	}

	now := q.now()
	proposed := 0
	for _, bucket := range buckets {
		// Longest-waiting first, so the widest windows get first pick.
		sort.Slice(bucket, func(i, j int) bool {
			return bucket[i].EnqueuedAt.Before(bucket[j].EnqueuedAt)
		})
		used := make(map[uuid.UUID]bool)
		for i, a := range bucket {
			if used[a.ID] {
				continue
			}
			best := -1
			bestGap := 0.0
			for j := i + 1; j < len(bucket); j++ {
				b := bucket[j]
				if used[b.ID] {
					continue
				}
				gap := a.MMR - b.MMR
				if gap < 0 {
					gap = -gap
				}
				if gap <= q.toleranceUnsafe(a, now) && gap <= q.toleranceUnsafe(b, now) {
					if best == -1 || gap < bestGap {
						best = j
						bestGap = gap
					}
				}
			}
			if best >= 0 {
				q.proposeUnsafe(a, bucket[best], now)
				used[a.ID] = true
				used[bucket[best].ID] = true
				proposed++
			}
		}
	}
	q.mu.Unlock()

	if proposed > 0 {
		log.WithField("matches", proposed).Debug("pairing pass proposed matches")
	}
}

// toleranceUnsafe is the acceptable MMR gap for a ticket given its wait time.
func (q *Queue) toleranceUnsafe(t *models.RankedTicket, now time.Time) float64 {
	waited := now.Sub(t.EnqueuedAt).Seconds()
	if waited < 0 {
		waited = 0
	}
	return baseTolerance + tolerancePerSecond*waited
}

// proposeUnsafe transitions two tickets to MatchProposed under a shared match
// with fresh single-use tokens. Assumes the lock is held.
func (q *Queue) proposeUnsafe(a, b *models.RankedTicket, now time.Time) {
	m := &models.RankedMatch{
		ID:         uuid.New(),
		Mode:       a.Mode,
		Region:     a.Region,
		TicketIDs:  []uuid.UUID{a.ID, b.ID},
		ProposedAt: now,
		ExpiresAt:  now.Add(proposalTTL),
		Accepted:   make(map[uuid.UUID]bool),
	}
	q.matches[m.ID] = m

	for _, t := range []*models.RankedTicket{a, b} {
		t.Status = models.TicketMatchProposed
		t.MatchID = m.ID
		t.AcceptToken = newAcceptToken()
		t.ExpiresAt = m.ExpiresAt
	}
	log.WithFields(log.Fields{
		"match": m.ID, "a": a.PlayerID, "b": b.PlayerID,
	}).Info("ranked match proposed")
}

// ExpireProposals cancels every proposal past its window. For the sides that
// never accepted this behaves exactly like a decline; sides that did accept
// return to Queued.
func (q *Queue) ExpireProposals() {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for id, m := range q.matches {
		if now.After(m.ExpiresAt) {
			q.cancelMatchUnsafe(id, uuid.Nil, models.TicketExpired)
			log.WithField("match", id).Info("ranked match proposal expired")
		}
	}
}

// cancelMatchUnsafe tears a proposal down. The ticket with culpritID (or any
// ticket that never accepted, for expiry) is removed with terminalStatus;
// everyone else goes back to Queued keeping their original enqueue time.
// Assumes the lock is held.
func (q *Queue) cancelMatchUnsafe(matchID, culpritID uuid.UUID, terminalStatus models.TicketStatus) {
	m, ok := q.matches[matchID]
	if !ok {
		return
	}
	for _, tid := range m.TicketIDs {
		t, ok := q.tickets[tid]
		if !ok {
			continue
		}
		removed := tid == culpritID || (culpritID == uuid.Nil && !m.Accepted[tid])
		if removed {
			t.Status = terminalStatus
			q.deleteTicketUnsafe(t)
		} else {
			t.Status = models.TicketQueued
			t.MatchID = uuid.Nil
			t.AcceptToken = ""
			t.ExpiresAt = time.Time{}
		}
	}
	delete(q.matches, matchID)
}

// removePlayerTicketUnsafe drops a player's live ticket, if any, cancelling
// any proposal it participates in. Assumes the lock is held.
func (q *Queue) removePlayerTicketUnsafe(playerID string, terminalStatus models.TicketStatus) {
	tid, ok := q.byPlayer[playerID]
	if !ok {
		return
	}
	if t, ok := q.tickets[tid]; ok {
		q.removeTicketUnsafe(t, terminalStatus)
	}
}

// removeTicketUnsafe deletes a ticket, unwinding a pending proposal first.
// Assumes the lock is held.
func (q *Queue) removeTicketUnsafe(t *models.RankedTicket, terminalStatus models.TicketStatus) {
	if t.Status == models.TicketMatchProposed || t.Status == models.TicketAccepted {
		if _, ok := q.matches[t.MatchID]; ok {
			// Delete the ticket first so the cancel pass only re-queues the
			// other sides.
			q.deleteTicketUnsafe(t)
			q.cancelMatchUnsafe(t.MatchID, t.ID, terminalStatus)
			return
		}
	}
	q.deleteTicketUnsafe(t)
}

// deleteTicketUnsafe removes a ticket from both indexes. Assumes the lock is
// held.
func (q *Queue) deleteTicketUnsafe(t *models.RankedTicket) {
	delete(q.tickets, t.ID)
	if cur, ok := q.byPlayer[t.PlayerID]; ok && cur == t.ID {
		delete(q.byPlayer, t.PlayerID)
	}
}

// Leaderboard is a read-only projection over rating records, ranked by
// rating descending. An empty seasonID means the queue's current season.
func (q *Queue) Leaderboard(ctx context.Context, seasonID string, limit, offset int) ([]models.LeaderboardEntry, error) {
	if seasonID == "" {
		seasonID = q.seasonID
	}
	return q.store.Leaderboard(ctx, seasonID, limit, offset)
}

// History returns a player's completed matches, most recent first. An empty
// seasonID means the queue's current season.
func (q *Queue) History(ctx context.Context, playerID, seasonID string, limit, offset int) ([]models.MatchHistoryEntry, error) {
	if seasonID == "" {
		seasonID = q.seasonID
	}
	return q.store.History(ctx, seasonID, playerID, limit, offset)
}

// Run drives pairing and proposal expiry until stop is closed.
func (q *Queue) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(pairInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			q.ExpireProposals()
			q.Pair()
		case <-stop:
			return
		}
	}
}

// newAcceptToken mints a single-use random token binding one accept call to
// one (match, ticket) pair.
func newAcceptToken() string {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process is in bad shape.
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

func copyTicket(t *models.RankedTicket) *models.RankedTicket {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
