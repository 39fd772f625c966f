// internal/handlers/api.go
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/skirmish-gg/skirmish/internal/matchmaking"
	"github.com/skirmish-gg/skirmish/internal/orchestrator"
	"github.com/skirmish-gg/skirmish/internal/party"
	"github.com/skirmish-gg/skirmish/internal/shard"
)

// Server holds the master's services and exposes the client HTTP surface.
type Server struct {
	Parties      *party.Registry
	Queue        *matchmaking.Queue
	Results      *matchmaking.Results
	Orchestrator *orchestrator.Orchestrator
	Workers      *shard.Registry
}

// NewServer wires the master API over its services.
func NewServer(parties *party.Registry, queue *matchmaking.Queue, results *matchmaking.Results, orch *orchestrator.Orchestrator, workers *shard.Registry) *Server {
	return &Server{
		Parties:      parties,
		Queue:        queue,
		Results:      results,
		Orchestrator: orch,
		Workers:      workers,
	}
}

// Mux builds the master's route table.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/session", s.handleSession)

	mux.HandleFunc("/api/party/create", s.handlePartyCreate)
	mux.HandleFunc("/api/party/join", s.handlePartyJoin)
	mux.HandleFunc("/api/party/leave", s.handlePartyLeave)
	mux.HandleFunc("/api/party/member/", s.handlePartyMember)
	mux.HandleFunc("/api/party/", s.handlePartyGet)

	mux.HandleFunc("/api/ranked/queue", s.handleQueueJoin)
	mux.HandleFunc("/api/ranked/queue/", s.handleQueueTicket)
	mux.HandleFunc("/api/ranked/match/", s.handleMatchAction)
	mux.HandleFunc("/api/ranked/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("/api/ranked/history", s.handleHistory)

	mux.HandleFunc("/api/public_lobbies", s.handlePublicLobbies)
	mux.HandleFunc("/api/game", s.handleCreateGame)
	mux.HandleFunc("/api/game/", s.handleGameRoute)

	return mux
}

// writeJSON writes v as a JSON response body.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("response encode failed")
	}
}

// writeError writes the short, specific error shape clients show verbatim.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// queryInt parses an integer query param with a default and bounds.
func queryInt(r *http.Request, key string, def, max int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}
