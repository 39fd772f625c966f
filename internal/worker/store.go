// internal/worker/store.go
package worker

import (
	"errors"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/skirmish-gg/skirmish/internal/models"
)

var (
	// ErrGameNotFound is returned for operations against an unknown game ID.
	ErrGameNotFound = errors.New("game not found")
	// ErrGameFull is returned when a join would exceed the config's cap.
	ErrGameFull = errors.New("game is full")
	// ErrGameStarted is returned for joins after the game left the lobby
	// phase.
	ErrGameStarted = errors.New("game already started")
)

// HostedLobby is one game session hosted by this worker process.
type HostedLobby struct {
	GameID       string                `json:"gameID"`
	Config       models.GameConfig     `json:"gameConfig"`
	Type         models.PublicGameType `json:"publicGameType"`
	Status       models.GameStatus     `json:"status"`
	Participants map[string]string     `json:"participants"`
	CreatedAt    time.Time             `json:"createdAt"`
	StartsAt     time.Time             `json:"startsAt,omitempty"`
}

// Store manages the lobbies hosted by this worker. The worker reports the
// store's snapshot to the master on every report tick; the master owns the
// merged cross-worker view.
type Store struct {
	mu       sync.Mutex
	workerID int
	lobbies  map[string]*HostedLobby
	// startTimers holds the pending auto-start timer per scheduled game.
	startTimers map[string]*time.Timer
}

// NewStore initializes an empty hosted-lobby store for this worker.
func NewStore(workerID int) *Store {
	return &Store{
		workerID:    workerID,
		lobbies:     make(map[string]*HostedLobby),
		startTimers: make(map[string]*time.Timer),
	}
}

// CreateGame installs a new lobby. Creating a game ID that already exists is
// idempotent: the existing lobby wins, because the master may resend a
// createGame after a link flap.
func (s *Store) CreateGame(gameID string, cfg models.GameConfig, gameType models.PublicGameType, startsAt time.Time) *HostedLobby {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.lobbies[gameID]; ok {
		return snapshotLobby(existing)
	}
	if cfg.MaxPlayers <= 0 {
		cfg.MaxPlayers = 2
	}
	l := &HostedLobby{
		GameID:       gameID,
		Config:       cfg,
		Type:         gameType,
		Status:       models.GameCreated,
		Participants: make(map[string]string),
		CreatedAt:    time.Now(),
		StartsAt:     startsAt,
	}
	s.lobbies[gameID] = l
	s.armStartTimerUnsafe(l)
	log.WithFields(log.Fields{"game": gameID, "type": gameType}).Info("lobby created")
	return snapshotLobby(l)
}

// armStartTimerUnsafe schedules the auto-start for a lobby with a future
// start time, cancelling any previous timer. Assumes the lock is held.
func (s *Store) armStartTimerUnsafe(l *HostedLobby) {
	if t, ok := s.startTimers[l.GameID]; ok {
		t.Stop()
		delete(s.startTimers, l.GameID)
	}
	if l.StartsAt.IsZero() {
		return
	}
	delay := time.Until(l.StartsAt)
	if delay < 0 {
		delay = 0
	}
	gameID := l.GameID
	s.startTimers[gameID] = time.AfterFunc(delay, func() {
		if err := s.StartGame(gameID); err != nil && !errors.Is(err, ErrGameNotFound) {
			log.WithError(err).WithField("game", gameID).Warn("scheduled start failed")
		}
	})
}

// UpdateSchedule moves a lobby's scheduled start and re-arms its timer.
func (s *Store) UpdateSchedule(gameID string, startsAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lobbies[gameID]
	if !ok {
		return ErrGameNotFound
	}
	l.StartsAt = startsAt
	s.armStartTimerUnsafe(l)
	log.WithFields(log.Fields{"game": gameID, "startsAt": startsAt}).Info("lobby schedule updated")
	return nil
}

// UpdateConfig replaces a lobby's config snapshot while it is still open.
func (s *Store) UpdateConfig(gameID string, cfg models.GameConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lobbies[gameID]
	if !ok {
		return ErrGameNotFound
	}
	if l.Status != models.GameCreated {
		return ErrGameStarted
	}
	if cfg.MaxPlayers <= 0 {
		cfg.MaxPlayers = l.Config.MaxPlayers
	}
	l.Config = cfg
	return nil
}

// Get returns a snapshot of a hosted lobby.
func (s *Store) Get(gameID string) (*HostedLobby, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lobbies[gameID]
	if !ok {
		return nil, false
	}
	return snapshotLobby(l), true
}

// Exists reports whether this worker hosts the game.
func (s *Store) Exists(gameID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.lobbies[gameID]
	return ok
}

// Join adds a client to an open lobby. Re-joining is idempotent.
func (s *Store) Join(gameID, clientID, username string) (*HostedLobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lobbies[gameID]
	if !ok {
		return nil, ErrGameNotFound
	}
	if l.Status != models.GameCreated {
		return nil, ErrGameStarted
	}
	if _, already := l.Participants[clientID]; !already && len(l.Participants) >= l.Config.MaxPlayers {
		return nil, ErrGameFull
	}
	l.Participants[clientID] = username
	return snapshotLobby(l), nil
}

// Leave removes a client. Removing an absent client is a no-op.
func (s *Store) Leave(gameID, clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.lobbies[gameID]; ok {
		delete(l.Participants, clientID)
	}
}

// StartGame transitions a lobby to in-progress.
func (s *Store) StartGame(gameID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lobbies[gameID]
	if !ok {
		return ErrGameNotFound
	}
	if l.Status != models.GameCreated {
		return nil // idempotent
	}
	l.Status = models.GameInProgress
	if t, ok := s.startTimers[gameID]; ok {
		t.Stop()
		delete(s.startTimers, gameID)
	}
	log.WithField("game", gameID).Info("game started")
	return nil
}

// FinishGame marks a lobby finished; the next report cycle lets the master
// drop it from the public view, then Delete reclaims it locally.
func (s *Store) FinishGame(gameID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lobbies[gameID]
	if !ok {
		return ErrGameNotFound
	}
	l.Status = models.GameFinished
	return nil
}

// Delete removes a lobby outright and cancels its timer.
func (s *Store) Delete(gameID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.startTimers[gameID]; ok {
		t.Stop()
		delete(s.startTimers, gameID)
	}
	delete(s.lobbies, gameID)
}

// Shutdown cancels every pending start timer.
func (s *Store) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.startTimers {
		t.Stop()
		delete(s.startTimers, id)
	}
}

// Snapshot returns this worker's current lobby slice for a report frame.
// Finished games are omitted so they age out of the public view.
func (s *Store) Snapshot() []models.PublicGameInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]models.PublicGameInfo, 0, len(s.lobbies))
	for _, l := range s.lobbies {
		if l.Status == models.GameFinished {
			continue
		}
		infos = append(infos, models.PublicGameInfo{
			GameID:     l.GameID,
			WorkerID:   s.workerID,
			Config:     l.Config,
			Status:     l.Status,
			NumClients: len(l.Participants),
			StartsAt:   l.StartsAt,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].GameID < infos[j].GameID })
	return infos
}

func snapshotLobby(l *HostedLobby) *HostedLobby {
	cp := *l
	cp.Participants = make(map[string]string, len(l.Participants))
	for k, v := range l.Participants {
		cp.Participants[k] = v
	}
	return &cp
}
