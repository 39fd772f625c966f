// internal/handlers/session.go
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/skirmish-gg/skirmish/internal/auth"
)

// handleSession implements POST /api/session: it mints an ephemeral player
// identity and the bearer token every ranked endpoint requires. Without this
// credential, ranked calls are rejected before touching any state.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Username string `json:"username"`
	}
	// An empty body is fine; username is only a display hint.
	_ = json.NewDecoder(r.Body).Decode(&req)

	playerID := uuid.NewString()
	token, err := auth.IssueToken(playerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"playerId": playerID,
		"username": req.Username,
		"token":    token,
	})
}
