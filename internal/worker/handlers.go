// internal/worker/handlers.go
package worker

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/skirmish-gg/skirmish/internal/models"
)

// Server exposes this worker's lobby CRUD over HTTP. Clients reach it through
// the routed worker path derived from the game ID, so every request here is
// for a game this worker owns.
type Server struct {
	Store *Store
	Link  *MasterLink
}

// NewServer wires the worker HTTP surface over a store and master link.
func NewServer(store *Store, link *MasterLink) *Server {
	return &Server{Store: store, Link: link}
}

// Mux builds the worker's route table.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/public_lobbies", s.handlePublicLobbies)
	mux.HandleFunc("/api/game/", s.handleGame)
	return mux
}

// handlePublicLobbies serves the latest master broadcast, so any worker can
// answer a browse request with the fleet-wide view.
func (s *Server) handlePublicLobbies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lobbies": s.Link.PublicGames(),
	})
}

// handleGame dispatches /api/game/{id} and /api/game/{id}/{action}.
func (s *Server) handleGame(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/game/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}
	gameID := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.getGame(w, gameID)
	case action == "" && r.Method == http.MethodPost:
		s.createGame(w, r, gameID)
	case action == "" && r.Method == http.MethodPut:
		s.updateGame(w, r, gameID)
	case action == "exists" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]bool{"exists": s.Store.Exists(gameID)})
	case action == "join" && r.Method == http.MethodPost:
		s.joinGame(w, r, gameID)
	case action == "leave" && r.Method == http.MethodPost:
		s.leaveGame(w, r, gameID)
	case action == "start" && r.Method == http.MethodPost:
		s.startGame(w, gameID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) getGame(w http.ResponseWriter, gameID string) {
	l, ok := s.Store.Get(gameID)
	if !ok {
		http.Error(w, "game not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) createGame(w http.ResponseWriter, r *http.Request, gameID string) {
	var req struct {
		Config   models.GameConfig     `json:"gameConfig"`
		Type     models.PublicGameType `json:"publicGameType"`
		StartsAt time.Time             `json:"startsAt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad create payload", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		req.Type = models.PublicGameStandard
	}
	l := s.Store.CreateGame(gameID, req.Config, req.Type, req.StartsAt)
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) updateGame(w http.ResponseWriter, r *http.Request, gameID string) {
	var req struct {
		Config models.GameConfig `json:"gameConfig"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad update payload", http.StatusBadRequest)
		return
	}
	if err := s.Store.UpdateConfig(gameID, req.Config); err != nil {
		writeStoreError(w, err)
		return
	}
	l, _ := s.Store.Get(gameID)
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) joinGame(w http.ResponseWriter, r *http.Request, gameID string) {
	var req struct {
		ClientID string `json:"clientID"`
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientID == "" {
		http.Error(w, "bad join payload", http.StatusBadRequest)
		return
	}
	l, err := s.Store.Join(gameID, req.ClientID, req.Username)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) leaveGame(w http.ResponseWriter, r *http.Request, gameID string) {
	var req struct {
		ClientID string `json:"clientID"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientID == "" {
		http.Error(w, "bad leave payload", http.StatusBadRequest)
		return
	}
	s.Store.Leave(gameID, req.ClientID)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) startGame(w http.ResponseWriter, gameID string) {
	if err := s.Store.StartGame(gameID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrGameNotFound):
		http.Error(w, "game not found", http.StatusNotFound)
	case errors.Is(err, ErrGameFull):
		http.Error(w, "game is full", http.StatusConflict)
	case errors.Is(err, ErrGameStarted):
		http.Error(w, "game already started", http.StatusConflict)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("response encode failed")
	}
}
