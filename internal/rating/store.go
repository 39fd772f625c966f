// internal/rating/store.go
package rating

import (
	"context"

	"github.com/skirmish-gg/skirmish/internal/models"
)

// Store persists rating records and completed-match history. The master runs
// against Postgres in production and the in-memory implementation otherwise.
type Store interface {
	// Get returns the record for (seasonID, playerID). found is false for a
	// player who has never completed a match this season.
	Get(ctx context.Context, seasonID, playerID string) (rec models.RatingRecord, found bool, err error)

	// Upsert writes the given records atomically.
	Upsert(ctx context.Context, recs ...models.RatingRecord) error

	// AppendHistory records completed-match rows.
	AppendHistory(ctx context.Context, entries ...models.MatchHistoryEntry) error

	// Leaderboard returns entries ranked by rating descending; ties break by
	// lower RD, then earlier last-active time, then player ID.
	Leaderboard(ctx context.Context, seasonID string, limit, offset int) ([]models.LeaderboardEntry, error)

	// History returns a player's completed matches, most recent first.
	History(ctx context.Context, seasonID, playerID string, limit, offset int) ([]models.MatchHistoryEntry, error)
}
