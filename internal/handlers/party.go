// internal/handlers/party.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/skirmish-gg/skirmish/internal/party"
)

// handlePartyCreate implements POST /api/party/create.
func (s *Server) handlePartyCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		PersistentID string `json:"persistentID"`
		Username     string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PersistentID == "" {
		writeError(w, http.StatusBadRequest, "persistentID is required")
		return
	}
	p := s.Parties.CreateParty(req.PersistentID, req.Username)
	writeJSON(w, http.StatusOK, p)
}

// handlePartyJoin implements POST /api/party/join.
func (s *Server) handlePartyJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Code         string `json:"code"`
		PersistentID string `json:"persistentID"`
		Username     string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PersistentID == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "code and persistentID are required")
		return
	}
	p, err := s.Parties.JoinParty(strings.ToUpper(req.Code), req.PersistentID, req.Username)
	if err != nil {
		switch {
		case errors.Is(err, party.ErrNotFound):
			writeError(w, http.StatusNotFound, "Party not found")
		case errors.Is(err, party.ErrFull):
			writeError(w, http.StatusConflict, "Party is full")
		default:
			writeError(w, http.StatusInternalServerError, "failed to join party")
		}
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handlePartyLeave implements POST /api/party/leave. Leaving while not in a
// party is a success; client retries are expected.
func (s *Server) handlePartyLeave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		PersistentID string `json:"persistentID"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PersistentID == "" {
		writeError(w, http.StatusBadRequest, "persistentID is required")
		return
	}
	s.Parties.LeaveParty(req.PersistentID)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handlePartyGet implements GET /api/party/:code.
func (s *Server) handlePartyGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	code := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/party/"), "/")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing party code")
		return
	}
	p, ok := s.Parties.GetParty(strings.ToUpper(code))
	if !ok {
		writeError(w, http.StatusNotFound, "Party not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handlePartyMember implements GET /api/party/member/:persistentID.
func (s *Server) handlePartyMember(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/party/member/"), "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing persistentID")
		return
	}
	p, ok := s.Parties.GetPartyByMember(id)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"inParty": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"inParty": true,
		"party":   p,
	})
}
