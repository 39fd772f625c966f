// internal/handlers/lobbies.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/skirmish-gg/skirmish/internal/models"
	"github.com/skirmish-gg/skirmish/internal/shard"
)

// handlePublicLobbies implements GET /api/public_lobbies: the master's merged
// view of every worker's reported lobbies. The view is eventually consistent;
// a lobby may appear with a slightly stale participant count between reports.
func (s *Server) handlePublicLobbies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lobbies": s.Workers.MergedLobbies(),
	})
}

// handleCreateGame implements POST /api/game: schedule a new public game on
// its deterministic owning worker.
func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requirePlayer(w, r, ""); !ok {
		return
	}
	var req struct {
		Config models.GameConfig     `json:"gameConfig"`
		Type   models.PublicGameType `json:"publicGameType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad game payload")
		return
	}
	if req.Type == "" {
		req.Type = models.PublicGameStandard
	}
	gameID, err := s.Orchestrator.CreatePublicGame(req.Config, req.Type)
	if err != nil {
		if errors.Is(err, shard.ErrWorkerUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "no worker available for this game")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to schedule game")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"gameID":     gameID,
		"workerPath": s.Orchestrator.WorkerPathFor(gameID),
	})
}

// handleGameRoute implements GET /api/game/:id/worker (routing lookup) and
// PUT /api/game/:id/schedule (move a scheduled start).
func (s *Server) handleGameRoute(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/game/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	gameID := parts[0]

	switch {
	case parts[1] == "worker" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{
			"gameID":     gameID,
			"workerPath": s.Orchestrator.WorkerPathFor(gameID),
		})
	case parts[1] == "schedule" && r.Method == http.MethodPut:
		if _, ok := requirePlayer(w, r, ""); !ok {
			return
		}
		var req struct {
			StartsAt time.Time `json:"startsAt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad schedule payload")
			return
		}
		if err := s.Orchestrator.UpdateGameSchedule(gameID, req.StartsAt); err != nil {
			if errors.Is(err, shard.ErrWorkerUnavailable) {
				writeError(w, http.StatusServiceUnavailable, "owning worker is not connected")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to update schedule")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}
