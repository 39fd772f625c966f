// internal/worker/link.go
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	log "github.com/sirupsen/logrus"

	"github.com/skirmish-gg/skirmish/internal/models"
	"github.com/skirmish-gg/skirmish/internal/shard"
)

const (
	// reportInterval is how often the worker pushes its lobby slice.
	reportInterval = 5 * time.Second
	// maxBackoff caps the reconnect delay after repeated dial failures.
	maxBackoff = 30 * time.Second
)

// MasterLink is the worker side of the master<->worker protocol: it dials the
// master, announces readiness, streams lobby reports, and applies the
// master's commands to the local store.
type MasterLink struct {
	workerID  int
	masterURL string
	store     *Store

	mu sync.Mutex
	// publicGames is the latest merged registry broadcast by the master,
	// served to clients browsing lobbies through this worker.
	publicGames []models.PublicGameInfo
}

// NewMasterLink builds a link for workerID against the master's worker
// websocket endpoint.
func NewMasterLink(workerID int, masterURL string, store *Store) *MasterLink {
	return &MasterLink{
		workerID:  workerID,
		masterURL: masterURL,
		store:     store,
	}
}

// PublicGames returns the last merged lobby list broadcast by the master.
func (l *MasterLink) PublicGames() []models.PublicGameInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.PublicGameInfo, len(l.publicGames))
	copy(out, l.publicGames)
	return out
}

// Run keeps the link alive until ctx is done, reconnecting with capped
// backoff. Lost reports are tolerated: the next cycle self-heals the
// master's view.
func (l *MasterLink) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		err := l.session(ctx)
		if ctx.Err() != nil {
			return
		}
		log.WithError(err).WithField("backoff", backoff).Warn("master link lost, reconnecting")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// session runs one connected lifetime of the link.
func (l *MasterLink) session(ctx context.Context) error {
	url := fmt.Sprintf("%s?workerId=%d", l.masterURL, l.workerID)
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{"worker"},
	})
	if err != nil {
		return fmt.Errorf("dial master: %w", err)
	}
	defer c.Close(websocket.StatusInternalError, "session ended")

	if err := wsjson.Write(ctx, c, shard.Envelope{Type: shard.MsgWorkerReady, WorkerID: l.workerID}); err != nil {
		return fmt.Errorf("send workerReady: %w", err)
	}
	log.WithField("worker", l.workerID).Info("linked to master")

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Report pump: fire-and-forget sends; a failure tears the session down
	// and the reconnect loop takes over.
	errc := make(chan error, 1)
	go func() {
		ticker := time.NewTicker(reportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				msg := shard.Envelope{
					Type:     shard.MsgLobbyList,
					WorkerID: l.workerID,
					Lobbies:  l.store.Snapshot(),
				}
				if err := wsjson.Write(sessionCtx, c, msg); err != nil {
					errc <- fmt.Errorf("send lobbyList: %w", err)
					return
				}
			case <-sessionCtx.Done():
				errc <- sessionCtx.Err()
				return
			}
		}
	}()

	// Read pump: apply master commands until the connection drops.
	for {
		var msg shard.Envelope
		if err := wsjson.Read(sessionCtx, c, &msg); err != nil {
			cancel()
			<-errc
			return fmt.Errorf("read: %w", err)
		}
		l.handleMessage(msg)

		select {
		case err := <-errc:
			return err
		default:
		}
	}
}

// handleMessage applies one master frame.
func (l *MasterLink) handleMessage(msg shard.Envelope) {
	switch msg.Type {
	case shard.MsgLobbiesBroadcast:
		l.mu.Lock()
		l.publicGames = msg.PublicGames
		l.mu.Unlock()
	case shard.MsgCreateGame:
		var cfg models.GameConfig
		if msg.GameConfig != nil {
			cfg = *msg.GameConfig
		}
		l.store.CreateGame(msg.GameID, cfg, msg.PublicGameType, msg.StartsAt)
	case shard.MsgUpdateLobby:
		if err := l.store.UpdateSchedule(msg.GameID, msg.StartsAt); err != nil {
			log.WithError(err).WithField("game", msg.GameID).Warn("updateLobby for unknown game")
		}
	default:
		log.WithField("type", msg.Type).Warn("unknown master message")
	}
}
