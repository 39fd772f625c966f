// internal/shard/messages.go
package shard

import (
	"time"

	"github.com/skirmish-gg/skirmish/internal/models"
)

// Message types exchanged on the master<->worker link. Every frame is a JSON
// Envelope discriminated by Type.
const (
	// worker -> master
	MsgWorkerReady = "workerReady"
	MsgLobbyList   = "lobbyList"

	// master -> worker
	MsgLobbiesBroadcast = "lobbiesBroadcast"
	MsgCreateGame       = "createGame"
	MsgUpdateLobby      = "updateLobby"
)

// Envelope is the single frame shape on the worker link. Fields are populated
// according to Type; everything else stays zero and is omitted on the wire.
type Envelope struct {
	Type     string `json:"type"`
	WorkerID int    `json:"workerId,omitempty"`

	// MsgLobbyList: the reporting worker's full current lobby slice.
	Lobbies []models.PublicGameInfo `json:"lobbies,omitempty"`

	// MsgLobbiesBroadcast: the merged registry across all workers.
	PublicGames []models.PublicGameInfo `json:"publicGames,omitempty"`

	// MsgCreateGame / MsgUpdateLobby
	GameID         string                `json:"gameID,omitempty"`
	GameConfig     *models.GameConfig    `json:"gameConfig,omitempty"`
	PublicGameType models.PublicGameType `json:"publicGameType,omitempty"`
	StartsAt       time.Time             `json:"startsAt,omitempty"`
}
