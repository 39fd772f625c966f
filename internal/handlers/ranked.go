// internal/handlers/ranked.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/skirmish-gg/skirmish/internal/auth"
	"github.com/skirmish-gg/skirmish/internal/matchmaking"
	"github.com/skirmish-gg/skirmish/internal/models"
)

// requirePlayer authenticates the bearer credential on a ranked request. If
// the body names a playerId it must match the token's subject.
func requirePlayer(w http.ResponseWriter, r *http.Request, claimed string) (string, bool) {
	playerID, err := auth.FromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
		return "", false
	}
	if claimed != "" && claimed != playerID {
		writeError(w, http.StatusForbidden, "playerId does not match credential")
		return "", false
	}
	return playerID, true
}

// handleQueueJoin implements POST /api/ranked/queue.
func (s *Server) handleQueueJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		PlayerID string  `json:"playerId"`
		Mode     string  `json:"mode"`
		Region   string  `json:"region"`
		MMR      float64 `json:"mmr"`
		Username string  `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad queue payload")
		return
	}
	playerID, ok := requirePlayer(w, r, req.PlayerID)
	if !ok {
		return
	}
	if req.Mode == "" {
		req.Mode = string(models.ModeDuel)
	}
	if req.Region == "" {
		req.Region = "Global"
	}
	ticket, err := s.Queue.Join(r.Context(), playerID, models.GameMode(req.Mode), req.Region, req.MMR, req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to join ranked queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ticket": ticket})
}

// handleQueueTicket implements GET and DELETE /api/ranked/queue/:ticketId.
func (s *Server) handleQueueTicket(w http.ResponseWriter, r *http.Request) {
	idStr := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/ranked/queue/"), "/")
	ticketID, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ticket id")
		return
	}
	playerID, ok := requirePlayer(w, r, "")
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		ticket, found := s.Queue.Get(ticketID)
		if !found || ticket.PlayerID != playerID {
			writeError(w, http.StatusNotFound, "ticket not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"ticket": ticket})
	case http.MethodDelete:
		// Deleting an already-gone ticket is success; callers retry freely.
		s.Queue.Leave(playerID, ticketID)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleMatchAction implements POST /api/ranked/match/:matchId/accept,
// .../decline and .../result.
func (s *Server) handleMatchAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/ranked/match/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	matchID, err := uuid.Parse(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid match id")
		return
	}

	switch parts[1] {
	case "accept":
		s.handleMatchAccept(w, r, matchID)
	case "decline":
		s.handleMatchDecline(w, r, matchID)
	case "result":
		s.handleMatchResult(w, r, matchID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleMatchAccept(w http.ResponseWriter, r *http.Request, matchID uuid.UUID) {
	var req struct {
		PlayerID    string    `json:"playerId"`
		TicketID    uuid.UUID `json:"ticketId"`
		AcceptToken string    `json:"acceptToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AcceptToken == "" {
		writeError(w, http.StatusBadRequest, "bad accept payload")
		return
	}
	playerID, ok := requirePlayer(w, r, req.PlayerID)
	if !ok {
		return
	}
	ticket, err := s.Queue.Accept(playerID, matchID, req.TicketID, req.AcceptToken)
	if err != nil {
		switch {
		case errors.Is(err, matchmaking.ErrTicketNotFound), errors.Is(err, matchmaking.ErrMatchNotFound):
			writeError(w, http.StatusNotFound, "match or ticket not found")
		case errors.Is(err, matchmaking.ErrMatchExpired):
			writeError(w, http.StatusGone, "match proposal expired")
		case errors.Is(err, matchmaking.ErrTokenInvalid):
			writeError(w, http.StatusForbidden, "invalid accept token")
		default:
			writeError(w, http.StatusInternalServerError, "failed to accept match")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ticket": ticket})
}

func (s *Server) handleMatchDecline(w http.ResponseWriter, r *http.Request, matchID uuid.UUID) {
	var req struct {
		PlayerID string    `json:"playerId"`
		TicketID uuid.UUID `json:"ticketId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad decline payload")
		return
	}
	playerID, ok := requirePlayer(w, r, req.PlayerID)
	if !ok {
		return
	}
	ticket := s.Queue.Decline(playerID, matchID, req.TicketID)
	if ticket == nil {
		// Already gone: declining twice is success, not an error.
		ticket = &models.RankedTicket{ID: req.TicketID, PlayerID: playerID, Status: models.TicketDeclined}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ticket": ticket})
}

// handleMatchResult records the terminal outcome of a completed ranked game.
// This is the only path that moves ratings.
func (s *Server) handleMatchResult(w http.ResponseWriter, r *http.Request, matchID uuid.UUID) {
	var req struct {
		PlayerA string `json:"playerA"`
		PlayerB string `json:"playerB"`
		Outcome string `json:"outcome"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerA == "" || req.PlayerB == "" {
		writeError(w, http.StatusBadRequest, "bad result payload")
		return
	}
	if _, ok := requirePlayer(w, r, ""); !ok {
		return
	}
	err := s.Results.Complete(r.Context(), matchID, req.PlayerA, req.PlayerB, models.MatchOutcome(req.Outcome))
	if err != nil {
		switch {
		case errors.Is(err, matchmaking.ErrBadOutcome):
			writeError(w, http.StatusBadRequest, "unknown match outcome")
		case errors.Is(err, matchmaking.ErrMatchUnknown):
			writeError(w, http.StatusNotFound, "match not found")
		case errors.Is(err, matchmaking.ErrWrongPlayers):
			writeError(w, http.StatusForbidden, "players do not match this match")
		case errors.Is(err, matchmaking.ErrResultRecorded):
			writeError(w, http.StatusConflict, "result already recorded")
		default:
			writeError(w, http.StatusInternalServerError, "failed to record result")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleLeaderboard implements GET /api/ranked/leaderboard.
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	seasonID := r.URL.Query().Get("seasonId")
	limit := queryInt(r, "limit", 50, 200)
	offset := queryInt(r, "offset", 0, 0)

	entries, err := s.Queue.Leaderboard(r.Context(), seasonID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}
	if seasonID == "" {
		seasonID = s.Queue.SeasonID()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"seasonId": seasonID,
		"entries":  entries,
	})
}

// handleHistory implements GET /api/ranked/history.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	playerID, ok := requirePlayer(w, r, "")
	if !ok {
		return
	}
	seasonID := r.URL.Query().Get("seasonId")
	limit := queryInt(r, "limit", 20, 100)
	offset := queryInt(r, "offset", 0, 0)

	matches, err := s.Queue.History(r.Context(), playerID, seasonID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load match history")
		return
	}
	if seasonID == "" {
		seasonID = s.Queue.SeasonID()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"seasonId": seasonID,
		"matches":  matches,
	})
}
