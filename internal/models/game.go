// internal/models/game.go
package models

import "time"

// GameStatus is the coarse lifecycle of a worker-hosted game lobby.
type GameStatus string

const (
	GameCreated    GameStatus = "created"
	GameInProgress GameStatus = "in_progress"
	GameFinished   GameStatus = "finished"
)

// PublicGameType distinguishes how a public game was scheduled.
type PublicGameType string

const (
	PublicGameStandard PublicGameType = "standard"
	PublicGameRanked   PublicGameType = "ranked"
)

// GameConfig is the snapshot of settings a lobby is created with.
type GameConfig struct {
	Mode       GameMode `json:"mode"`
	Region     string   `json:"region,omitempty"`
	MapName    string   `json:"mapName,omitempty"`
	MaxPlayers int      `json:"maxPlayers"`
	Ranked     bool     `json:"ranked"`
}

// PublicGameInfo is one lobby as reported by its owning worker and as merged
// into the master's public registry.
type PublicGameInfo struct {
	GameID     string     `json:"gameID"`
	WorkerID   int        `json:"workerID"`
	Config     GameConfig `json:"gameConfig"`
	Status     GameStatus `json:"status"`
	NumClients int        `json:"numClients"`
	StartsAt   time.Time  `json:"startsAt,omitempty"`
}
