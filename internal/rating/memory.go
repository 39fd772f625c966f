// internal/rating/memory.go
package rating

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/skirmish-gg/skirmish/internal/models"
)

// MemoryStore is an in-memory Store. It backs the master when no database is
// configured and every rating test.
type MemoryStore struct {
	mu sync.Mutex
	// records maps seasonID -> playerID -> record.
	records map[string]map[string]models.RatingRecord
	// history maps seasonID -> completed matches, append order.
	history map[string][]models.MatchHistoryEntry
	// historySeen dedupes history rows per (matchID, playerID), matching the
	// Postgres store's primary key.
	historySeen map[historyKey]bool
}

type historyKey struct {
	matchID  uuid.UUID
	playerID string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:     make(map[string]map[string]models.RatingRecord),
		history:     make(map[string][]models.MatchHistoryEntry),
		historySeen: make(map[historyKey]bool),
	}
}

func (s *MemoryStore) Get(_ context.Context, seasonID, playerID string) (models.RatingRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[seasonID][playerID]
	return rec, ok, nil
}

func (s *MemoryStore) Upsert(_ context.Context, recs ...models.RatingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		season, ok := s.records[rec.SeasonID]
		if !ok {
			season = make(map[string]models.RatingRecord)
			s.records[rec.SeasonID] = season
		}
		season[rec.PlayerID] = rec
	}
	return nil
}

func (s *MemoryStore) AppendHistory(_ context.Context, entries ...models.MatchHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		k := historyKey{matchID: e.MatchID, playerID: e.PlayerID}
		if s.historySeen[k] {
			continue
		}
		s.historySeen[k] = true
		s.history[e.SeasonID] = append(s.history[e.SeasonID], e)
	}
	return nil
}

func (s *MemoryStore) Leaderboard(_ context.Context, seasonID string, limit, offset int) ([]models.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := make([]models.RatingRecord, 0, len(s.records[seasonID]))
	for _, rec := range s.records[seasonID] {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		if a.RD != b.RD {
			return a.RD < b.RD
		}
		if !a.LastActiveAt.Equal(b.LastActiveAt) {
			return a.LastActiveAt.Before(b.LastActiveAt)
		}
		return a.PlayerID < b.PlayerID
	})

	entries := make([]models.LeaderboardEntry, 0, limit)
	for i := offset; i < len(recs) && len(entries) < limit; i++ {
		rec := recs[i]
		entries = append(entries, models.LeaderboardEntry{
			Rank:     i + 1,
			PlayerID: rec.PlayerID,
			Username: rec.Username,
			Rating:   rec.Rating,
			RD:       rec.RD,
			Wins:     rec.Wins,
			Losses:   rec.Losses,
		})
	}
	return entries, nil
}

func (s *MemoryStore) History(_ context.Context, seasonID, playerID string, limit, offset int) ([]models.MatchHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.history[seasonID]
	var mine []models.MatchHistoryEntry
	for i := len(all) - 1; i >= 0; i-- { // most recent first
		if playerID == "" || all[i].PlayerID == playerID {
			mine = append(mine, all[i])
		}
	}
	if offset >= len(mine) {
		return nil, nil
	}
	mine = mine[offset:]
	if len(mine) > limit {
		mine = mine[:limit]
	}
	return mine, nil
}
