// internal/orchestrator/orchestrator.go
package orchestrator

import (
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/skirmish-gg/skirmish/internal/matchmaking"
	"github.com/skirmish-gg/skirmish/internal/models"
	"github.com/skirmish-gg/skirmish/internal/shard"
)

// Orchestrator glues matchmaking output and manual lobby creation onto the
// worker fleet: it mints game IDs and asks the lobby router to materialize
// sessions on the deterministic owning worker.
type Orchestrator struct {
	registry *shard.Registry
}

// New builds an orchestrator over the given worker registry.
func New(registry *shard.Registry) *Orchestrator {
	return &Orchestrator{registry: registry}
}

// HandleConfirmedMatch turns a fully-accepted ranked match into a hosted
// lobby. Wired as the queue's OnConfirmed callback.
func (o *Orchestrator) HandleConfirmedMatch(cm matchmaking.ConfirmedMatch) {
	cfg := models.GameConfig{
		Mode:       cm.Mode,
		Region:     cm.Region,
		MaxPlayers: len(cm.Players),
		Ranked:     true,
	}
	gameID := newGameID()
	if err := o.registry.ScheduleGame(gameID, cfg, models.PublicGameRanked); err != nil {
		// The players' clients poll for their lobby; on the next confirmed
		// proposal the fleet may be healthy again.
		log.WithError(err).WithFields(log.Fields{
			"match": cm.MatchID, "game": gameID,
		}).Error("failed to schedule ranked game")
		return
	}
	log.WithFields(log.Fields{
		"match": cm.MatchID, "game": gameID, "players": cm.Players,
	}).Info("ranked lobby scheduled")
}

// CreatePublicGame schedules a manually created public lobby and returns its
// game ID.
func (o *Orchestrator) CreatePublicGame(cfg models.GameConfig, gameType models.PublicGameType) (string, error) {
	gameID := newGameID()
	if err := o.registry.ScheduleGame(gameID, cfg, gameType); err != nil {
		return "", err
	}
	return gameID, nil
}

// UpdateGameSchedule moves a scheduled game's start time on its owning
// worker.
func (o *Orchestrator) UpdateGameSchedule(gameID string, startsAt time.Time) error {
	return o.registry.UpdateGameSchedule(gameID, startsAt)
}

// WorkerPathFor returns the routed path prefix for a game's owning worker.
func (o *Orchestrator) WorkerPathFor(gameID string) string {
	return shard.WorkerPath(gameID, o.registry.NumWorkers())
}

// newGameID mints an opaque game identifier.
func newGameID() string {
	return uuid.NewString()
}
