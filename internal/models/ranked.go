// internal/models/ranked.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// GameMode identifies a ranked queue bucket (together with a region).
type GameMode string

const (
	ModeDuel GameMode = "Duel"
)

// TicketStatus is the lifecycle state of a ranked queue ticket.
type TicketStatus string

const (
	TicketQueued        TicketStatus = "Queued"
	TicketMatchProposed TicketStatus = "MatchProposed"
	TicketAccepted      TicketStatus = "Accepted"
	TicketDeclined      TicketStatus = "Declined"
	TicketExpired       TicketStatus = "Expired"
	TicketCancelled     TicketStatus = "Cancelled"
)

// RankedTicket is a player's standing request to be matched in ranked play.
// MatchID, AcceptToken and ExpiresAt are only populated once a match has been
// proposed for this ticket.
type RankedTicket struct {
	ID       uuid.UUID    `json:"ticketId"`
	PlayerID string       `json:"playerId"`
	Username string       `json:"username,omitempty"`
	Mode     GameMode     `json:"mode"`
	Region   string       `json:"region"`
	MMR      float64      `json:"mmr"`
	Status   TicketStatus `json:"status"`

	EnqueuedAt  time.Time `json:"enqueuedAt"`
	MatchID     uuid.UUID `json:"matchId,omitempty"`
	AcceptToken string    `json:"acceptToken,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt,omitempty"`
}

// RankedMatch pairs two (or more, for team modes) tickets pending mutual
// acceptance within a bounded window.
type RankedMatch struct {
	ID         uuid.UUID   `json:"matchId"`
	Mode       GameMode    `json:"mode"`
	Region     string      `json:"region"`
	TicketIDs  []uuid.UUID `json:"ticketIds"`
	ProposedAt time.Time   `json:"proposedAt"`
	ExpiresAt  time.Time   `json:"expiresAt"`

	// Accepted tracks which tickets have confirmed, keyed by ticket ID.
	Accepted map[uuid.UUID]bool `json:"-"`
}

// AllAccepted reports whether every ticket in the match has confirmed.
func (m *RankedMatch) AllAccepted() bool {
	for _, tid := range m.TicketIDs {
		if !m.Accepted[tid] {
			return false
		}
	}
	return true
}

// MatchOutcome is the terminal result of a completed ranked match, from the
// perspective of the first player.
type MatchOutcome string

const (
	OutcomeWin  MatchOutcome = "win"
	OutcomeLoss MatchOutcome = "loss"
	OutcomeDraw MatchOutcome = "draw"
)

// RatingRecord is a player's persistent skill state for one season. It is
// only ever mutated by a completed match, never by queue churn.
type RatingRecord struct {
	PlayerID      string    `json:"playerId"`
	SeasonID      string    `json:"seasonId"`
	Username      string    `json:"username,omitempty"`
	Rating        float64   `json:"rating"`
	RD            float64   `json:"rd"`
	Volatility    float64   `json:"volatility"`
	MatchesPlayed int       `json:"matchesPlayed"`
	Wins          int       `json:"wins"`
	Losses        int       `json:"losses"`
	Streak        int       `json:"streak"`
	LastActiveAt  time.Time `json:"lastActiveAt"`
	LastMatchID   uuid.UUID `json:"lastMatchId,omitempty"`
}

// LeaderboardEntry is a read-only ranking projection over RatingRecords.
type LeaderboardEntry struct {
	Rank     int     `json:"rank"`
	PlayerID string  `json:"playerId"`
	Username string  `json:"username,omitempty"`
	Rating   float64 `json:"rating"`
	RD       float64 `json:"rd"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
}

// MatchHistoryEntry is one completed match as seen by one of its players.
type MatchHistoryEntry struct {
	MatchID      uuid.UUID    `json:"matchId"`
	SeasonID     string       `json:"seasonId"`
	PlayerID     string       `json:"playerId"`
	OpponentID   string       `json:"opponentId"`
	Outcome      MatchOutcome `json:"outcome"`
	RatingBefore float64      `json:"ratingBefore"`
	RatingAfter  float64      `json:"ratingAfter"`
	CompletedAt  time.Time    `json:"completedAt"`
}
