// internal/shard/registry.go
package shard

import (
	"errors"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/skirmish-gg/skirmish/internal/models"
)

// ErrWorkerUnavailable is returned when a game's owning worker has no live
// link to the master.
var ErrWorkerUnavailable = errors.New("owning worker is not connected")

const (
	// BroadcastInterval is how often the merged registry is pushed to workers.
	BroadcastInterval = 5 * time.Second
	// missedReports is how many report intervals a worker may go silent for
	// before its lobby slice is evicted from the merged view.
	missedReports = 3
)

// Sender delivers a frame to one connected worker. The websocket handler
// provides the real implementation; tests substitute their own.
type Sender interface {
	Send(Envelope) error
}

// workerState is the master's view of one worker: its live link, readiness,
// last report time and the last lobby slice it reported.
type workerState struct {
	id         int
	ready      bool
	lastReport time.Time
	lobbies    []models.PublicGameInfo
	sender     Sender
}

// Registry is the master-side worker registry and lobby router. It merges
// per-worker lobby reports (last report wins, keyed by worker so a dead
// worker's slice is a single map delete) and routes game-scoped commands to
// the deterministic owner.
type Registry struct {
	mu      sync.Mutex
	workers map[int]*workerState

	// numWorkers is the fixed fleet size used for deterministic routing.
	numWorkers int
	now        func() time.Time
}

// NewRegistry creates a registry for a fleet of numWorkers workers.
func NewRegistry(numWorkers int) *Registry {
	return &Registry{
		workers:    make(map[int]*workerState),
		numWorkers: numWorkers,
		now:        time.Now,
	}
}

// SetClock overrides the registry's time source. Intended for tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// NumWorkers returns the fleet size this registry routes across.
func (r *Registry) NumWorkers() int { return r.numWorkers }

// Attach registers a live link for a worker, replacing any previous one.
func (r *Registry) Attach(workerID int, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws := r.workers[workerID]
	if ws == nil {
		ws = &workerState{id: workerID}
		r.workers[workerID] = ws
	}
	ws.sender = s
	ws.lastReport = r.now()
	log.WithField("worker", workerID).Info("worker link attached")
}

// Detach drops a worker's link and evicts its lobby slice from the merged
// view. Safe to call for unknown workers.
func (r *Registry) Detach(workerID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workers[workerID]; ok {
		delete(r.workers, workerID)
		log.WithField("worker", workerID).Info("worker link detached")
	}
}

// WorkerReady marks a worker eligible for new-game assignment. Idempotent.
func (r *Registry) WorkerReady(workerID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws := r.workers[workerID]
	if ws == nil {
		ws = &workerState{id: workerID}
		r.workers[workerID] = ws
	}
	if !ws.ready {
		ws.ready = true
		log.WithField("worker", workerID).Info("worker ready")
	}
	ws.lastReport = r.now()
}

// ReportLobbies replaces a worker's slice of the merged registry with its
// latest report. Last report wins; partial updates are never merged.
func (r *Registry) ReportLobbies(workerID int, lobbies []models.PublicGameInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws := r.workers[workerID]
	if ws == nil {
		ws = &workerState{id: workerID}
		r.workers[workerID] = ws
	}
	for i := range lobbies {
		lobbies[i].WorkerID = workerID
	}
	ws.lobbies = lobbies
	ws.lastReport = r.now()
}

// MergedLobbies returns the union of all workers' reported lobbies, keyed by
// game ID, in a stable order.
func (r *Registry) MergedLobbies() []models.PublicGameInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mergedUnsafe()
}

// mergedUnsafe recomputes the merged view. Assumes the lock is held.
func (r *Registry) mergedUnsafe() []models.PublicGameInfo {
	byGame := make(map[string]models.PublicGameInfo)
	for _, ws := range r.workers {
		for _, lob := range ws.lobbies {
			byGame[lob.GameID] = lob
		}
	}
	merged := make([]models.PublicGameInfo, 0, len(byGame))
	for _, lob := range byGame {
		merged = append(merged, lob)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].GameID < merged[j].GameID })
	return merged
}

// BroadcastLobbies pushes the merged registry to every connected worker.
// Broadcasts are not ordered relative to individual reports; consumers get an
// eventually-consistent view.
func (r *Registry) BroadcastLobbies() {
	r.mu.Lock()
	merged := r.mergedUnsafe()
	senders := make([]Sender, 0, len(r.workers))
	for _, ws := range r.workers {
		if ws.sender != nil {
			senders = append(senders, ws.sender)
		}
	}
	r.mu.Unlock()

	msg := Envelope{Type: MsgLobbiesBroadcast, PublicGames: merged}
	for _, s := range senders {
		if err := s.Send(msg); err != nil {
			log.WithError(err).Warn("lobby broadcast send failed")
		}
	}
}

// EvictStale drops the lobby slice and link of any worker that has not
// reported within missedReports broadcast intervals, so dead workers' lobbies
// stop being presented. Returns the evicted worker IDs.
func (r *Registry) EvictStale() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-missedReports * BroadcastInterval)
	var evicted []int
	for id, ws := range r.workers {
		if ws.lastReport.Before(cutoff) {
			delete(r.workers, id)
			evicted = append(evicted, id)
			log.WithField("worker", id).Warn("evicting silent worker")
		}
	}
	return evicted
}

// ScheduleGame routes a create-game command to the deterministic owner of
// gameID. The same derivation (WorkerIndex) is used by every later call that
// addresses this game.
func (r *Registry) ScheduleGame(gameID string, cfg models.GameConfig, gameType models.PublicGameType) error {
	target := WorkerIndex(gameID, r.numWorkers)

	r.mu.Lock()
	ws := r.workers[target]
	var sender Sender
	if ws != nil && ws.ready {
		sender = ws.sender
	}
	r.mu.Unlock()

	if sender == nil {
		return ErrWorkerUnavailable
	}
	log.WithFields(log.Fields{"game": gameID, "worker": target}).Info("scheduling game")
	return sender.Send(Envelope{
		Type:           MsgCreateGame,
		GameID:         gameID,
		GameConfig:     &cfg,
		PublicGameType: gameType,
	})
}

// UpdateGameSchedule tells the owning worker to move a scheduled start time.
func (r *Registry) UpdateGameSchedule(gameID string, startsAt time.Time) error {
	target := WorkerIndex(gameID, r.numWorkers)

	r.mu.Lock()
	ws := r.workers[target]
	var sender Sender
	if ws != nil {
		sender = ws.sender
	}
	r.mu.Unlock()

	if sender == nil {
		return ErrWorkerUnavailable
	}
	return sender.Send(Envelope{
		Type:     MsgUpdateLobby,
		GameID:   gameID,
		StartsAt: startsAt,
	})
}

// Run drives the periodic broadcast and stale-worker eviction until stop is
// closed.
func (r *Registry) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(BroadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.EvictStale()
			r.BroadcastLobbies()
		case <-stop:
			return
		}
	}
}
