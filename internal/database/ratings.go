// internal/database/ratings.go
package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skirmish-gg/skirmish/internal/models"
)

// PGStore is the Postgres-backed rating.Store used by the master and the
// recorder.
//
// Schema:
//
//	CREATE TABLE ranked_ratings (
//	    season_id      text NOT NULL,
//	    player_id      text NOT NULL,
//	    username       text NOT NULL DEFAULT '',
//	    rating         double precision NOT NULL,
//	    rd             double precision NOT NULL,
//	    volatility     double precision NOT NULL,
//	    matches_played int NOT NULL DEFAULT 0,
//	    wins           int NOT NULL DEFAULT 0,
//	    losses         int NOT NULL DEFAULT 0,
//	    streak         int NOT NULL DEFAULT 0,
//	    last_active_at timestamptz,
//	    last_match_id  uuid,
//	    PRIMARY KEY (season_id, player_id)
//	);
//
//	CREATE TABLE ranked_match_history (
//	    match_id      uuid NOT NULL,
//	    season_id     text NOT NULL,
//	    player_id     text NOT NULL,
//	    opponent_id   text NOT NULL,
//	    outcome       text NOT NULL,
//	    rating_before double precision NOT NULL,
//	    rating_after  double precision NOT NULL,
//	    completed_at  timestamptz NOT NULL,
//	    PRIMARY KEY (match_id, player_id)
//	);
//
// The history primary key makes AppendHistory idempotent per (match, player):
// the master's synchronous write and the recorder's queue-driven write land
// as one row.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore builds a PGStore over a connection pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Get(ctx context.Context, seasonID, playerID string) (models.RatingRecord, bool, error) {
	q := `
		SELECT season_id, player_id, username, rating, rd, volatility,
		       matches_played, wins, losses, streak,
		       COALESCE(last_active_at, 'epoch'::timestamptz),
		       COALESCE(last_match_id, '00000000-0000-0000-0000-000000000000'::uuid)
		FROM ranked_ratings
		WHERE season_id = $1 AND player_id = $2
	`
	var rec models.RatingRecord
	err := s.pool.QueryRow(ctx, q, seasonID, playerID).Scan(
		&rec.SeasonID, &rec.PlayerID, &rec.Username, &rec.Rating, &rec.RD, &rec.Volatility,
		&rec.MatchesPlayed, &rec.Wins, &rec.Losses, &rec.Streak,
		&rec.LastActiveAt, &rec.LastMatchID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.RatingRecord{}, false, nil
	}
	if err != nil {
		return models.RatingRecord{}, false, err
	}
	return rec, true, nil
}

func (s *PGStore) Upsert(ctx context.Context, recs ...models.RatingRecord) error {
	q := `
		INSERT INTO ranked_ratings
			(season_id, player_id, username, rating, rd, volatility,
			 matches_played, wins, losses, streak, last_active_at, last_match_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (season_id, player_id) DO UPDATE SET
			username = EXCLUDED.username,
			rating = EXCLUDED.rating,
			rd = EXCLUDED.rd,
			volatility = EXCLUDED.volatility,
			matches_played = EXCLUDED.matches_played,
			wins = EXCLUDED.wins,
			losses = EXCLUDED.losses,
			streak = EXCLUDED.streak,
			last_active_at = EXCLUDED.last_active_at,
			last_match_id = EXCLUDED.last_match_id
	`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, rec := range recs {
			_, err := tx.Exec(ctx, q,
				rec.SeasonID, rec.PlayerID, rec.Username, rec.Rating, rec.RD, rec.Volatility,
				rec.MatchesPlayed, rec.Wins, rec.Losses, rec.Streak, rec.LastActiveAt, rec.LastMatchID,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PGStore) AppendHistory(ctx context.Context, entries ...models.MatchHistoryEntry) error {
	q := `
		INSERT INTO ranked_match_history
			(match_id, season_id, player_id, opponent_id, outcome,
			 rating_before, rating_after, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (match_id, player_id) DO NOTHING
	`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, e := range entries {
			_, err := tx.Exec(ctx, q,
				e.MatchID, e.SeasonID, e.PlayerID, e.OpponentID, string(e.Outcome),
				e.RatingBefore, e.RatingAfter, e.CompletedAt,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PGStore) Leaderboard(ctx context.Context, seasonID string, limit, offset int) ([]models.LeaderboardEntry, error) {
	q := `
		SELECT player_id, username, rating, rd, wins, losses
		FROM ranked_ratings
		WHERE season_id = $1
		ORDER BY rating DESC, rd ASC, last_active_at ASC, player_id ASC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.pool.Query(ctx, q, seasonID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LeaderboardEntry
	rank := offset
	for rows.Next() {
		rank++
		e := models.LeaderboardEntry{Rank: rank}
		if err := rows.Scan(&e.PlayerID, &e.Username, &e.Rating, &e.RD, &e.Wins, &e.Losses); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PGStore) History(ctx context.Context, seasonID, playerID string, limit, offset int) ([]models.MatchHistoryEntry, error) {
	q := `
		SELECT match_id, season_id, player_id, opponent_id, outcome,
		       rating_before, rating_after, completed_at
		FROM ranked_match_history
		WHERE season_id = $1 AND ($2 = '' OR player_id = $2)
		ORDER BY completed_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := s.pool.Query(ctx, q, seasonID, playerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.MatchHistoryEntry
	for rows.Next() {
		var e models.MatchHistoryEntry
		var outcome string
		if err := rows.Scan(&e.MatchID, &e.SeasonID, &e.PlayerID, &e.OpponentID, &outcome,
			&e.RatingBefore, &e.RatingAfter, &e.CompletedAt); err != nil {
			return nil, err
		}
		e.Outcome = models.MatchOutcome(outcome)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
