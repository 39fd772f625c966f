// internal/matchmaking/results.go
package matchmaking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/skirmish-gg/skirmish/internal/models"
	"github.com/skirmish-gg/skirmish/internal/rating"
)

var (
	// ErrBadOutcome is returned when a reported result names an unknown
	// outcome.
	ErrBadOutcome = errors.New("unknown match outcome")
	// ErrMatchUnknown is returned for a result against a match that was never
	// confirmed by the queue.
	ErrMatchUnknown = errors.New("match was never confirmed")
	// ErrWrongPlayers is returned when the reported players are not the
	// participants the match was confirmed with.
	ErrWrongPlayers = errors.New("players do not match the confirmed match")
	// ErrResultRecorded is returned when a match's result has already been
	// applied. Ratings move at most once per match.
	ErrResultRecorded = errors.New("result already recorded for this match")
)

// ResultPublisher forwards completed results to the asynchronous recorder.
// Delivery is best effort; the authoritative write is the rating store.
type ResultPublisher interface {
	PublishMatchResult(ctx context.Context, rec models.MatchHistoryEntry) error
}

// Results applies terminal match outcomes. It is the sole writer of rating
// records: declines, cancels and expiries never reach it, and a result is
// only accepted for a match the queue confirmed, from its own participants,
// at most once.
type Results struct {
	seasonID  string
	store     rating.Store
	publisher ResultPublisher
	now       func() time.Time

	mu sync.Mutex
	// pending maps a confirmed match to its participants until its result
	// arrives.
	pending map[uuid.UUID][]string
	// applied holds matches whose result has been recorded, so replays of the
	// same matchID never move ratings twice.
	applied map[uuid.UUID]bool
}

// NewResults builds a Results service. publisher may be nil.
func NewResults(seasonID string, store rating.Store, publisher ResultPublisher) *Results {
	return &Results{
		seasonID:  seasonID,
		store:     store,
		publisher: publisher,
		now:       time.Now,
		pending:   make(map[uuid.UUID][]string),
		applied:   make(map[uuid.UUID]bool),
	}
}

// SetClock overrides the time source. Intended for tests.
func (r *Results) SetClock(now func() time.Time) { r.now = now }

// RegisterMatch records a confirmed match so its result can later be applied.
// Wired alongside the orchestrator on the queue's OnConfirmed callback.
func (r *Results) RegisterMatch(matchID uuid.UUID, players []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applied[matchID] {
		return
	}
	r.pending[matchID] = append([]string(nil), players...)
}

// claimMatch validates and consumes a pending match for the two reported
// players. On success the match is marked applied, so a concurrent or
// repeated report fails.
func (r *Results) claimMatch(matchID uuid.UUID, playerA, playerB string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applied[matchID] {
		return ErrResultRecorded
	}
	players, ok := r.pending[matchID]
	if !ok {
		return ErrMatchUnknown
	}
	if len(players) != 2 || !containsBoth(players, playerA, playerB) {
		return ErrWrongPlayers
	}
	delete(r.pending, matchID)
	r.applied[matchID] = true
	return nil
}

// releaseMatch undoes a claim after a storage failure, so the report can be
// retried.
func (r *Results) releaseMatch(matchID uuid.UUID, players []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.applied, matchID)
	r.pending[matchID] = players
}

func containsBoth(players []string, a, b string) bool {
	if a == b {
		return false
	}
	return (players[0] == a && players[1] == b) || (players[0] == b && players[1] == a)
}

// Complete records the outcome of a finished ranked match between two
// players and updates both ratings with a Glicko-2 step. outcome is from
// playerA's perspective. The match must have been registered via
// RegisterMatch with exactly these players, and a match's result is applied
// at most once.
func (r *Results) Complete(ctx context.Context, matchID uuid.UUID, playerA, playerB string, outcome models.MatchOutcome) error {
	switch outcome {
	case models.OutcomeWin, models.OutcomeLoss, models.OutcomeDraw:
	default:
		return ErrBadOutcome
	}
	if err := r.claimMatch(matchID, playerA, playerB); err != nil {
		return err
	}
	claimed := []string{playerA, playerB}

	recA, err := r.loadOrInit(ctx, playerA)
	if err != nil {
		r.releaseMatch(matchID, claimed)
		return err
	}
	recB, err := r.loadOrInit(ctx, playerB)
	if err != nil {
		r.releaseMatch(matchID, claimed)
		return err
	}

	now := r.now()
	beforeA, beforeB := recA.Rating, recB.Rating
	recA, recB = rating.UpdatePair(recA, recB, outcome, now)
	recA.LastMatchID = matchID
	recB.LastMatchID = matchID

	if err := r.store.Upsert(ctx, recA, recB); err != nil {
		r.releaseMatch(matchID, claimed)
		return err
	}

	entryA := models.MatchHistoryEntry{
		MatchID:      matchID,
		SeasonID:     r.seasonID,
		PlayerID:     playerA,
		OpponentID:   playerB,
		Outcome:      outcome,
		RatingBefore: beforeA,
		RatingAfter:  recA.Rating,
		CompletedAt:  now,
	}
	entryB := models.MatchHistoryEntry{
		MatchID:      matchID,
		SeasonID:     r.seasonID,
		PlayerID:     playerB,
		OpponentID:   playerA,
		Outcome:      invert(outcome),
		RatingBefore: beforeB,
		RatingAfter:  recB.Rating,
		CompletedAt:  now,
	}
	// The rating write above is the authoritative one; once it lands the
	// match stays consumed even if the history write fails, so a retry can
	// never move ratings twice.
	if err := r.store.AppendHistory(ctx, entryA, entryB); err != nil {
		return err
	}

	if r.publisher != nil {
		for _, e := range []models.MatchHistoryEntry{entryA, entryB} {
			if err := r.publisher.PublishMatchResult(ctx, e); err != nil {
				log.WithError(err).Warn("match result publish failed")
			}
		}
	}

	log.WithFields(log.Fields{
		"match": matchID, "a": playerA, "b": playerB, "outcome": outcome,
	}).Info("ranked match completed")
	return nil
}

func (r *Results) loadOrInit(ctx context.Context, playerID string) (models.RatingRecord, error) {
	rec, found, err := r.store.Get(ctx, r.seasonID, playerID)
	if err != nil {
		return models.RatingRecord{}, err
	}
	if !found {
		rec = rating.NewRecord(r.seasonID, playerID, "")
	}
	return rec, nil
}

func invert(o models.MatchOutcome) models.MatchOutcome {
	switch o {
	case models.OutcomeWin:
		return models.OutcomeLoss
	case models.OutcomeLoss:
		return models.OutcomeWin
	default:
		return models.OutcomeDraw
	}
}
