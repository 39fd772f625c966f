// internal/handlers/worker_ws.go
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	log "github.com/sirupsen/logrus"

	"github.com/skirmish-gg/skirmish/internal/shard"
)

// wsSender adapts one worker websocket into a shard.Sender. Writes are
// serialized; a send failure surfaces to the registry which logs and moves
// on, trusting the next report cycle to self-heal.
type wsSender struct {
	mu   sync.Mutex
	ctx  context.Context
	conn *websocket.Conn
}

func (s *wsSender) Send(msg shard.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wsjson.Write(s.ctx, s.conn, msg)
}

// HandleWorkerWS accepts a worker's persistent link and pumps its report
// frames into the worker registry until the link drops. Mounted outside the
// logging middleware so the connection hijack is unobstructed.
func (s *Server) HandleWorkerWS(w http.ResponseWriter, r *http.Request) {
	workerID, err := strconv.Atoi(r.URL.Query().Get("workerId"))
	if err != nil || workerID < 0 {
		http.Error(w, "missing or invalid workerId", http.StatusBadRequest)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{"worker"},
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.WithError(err).Warn("worker websocket accept failed")
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")

	if c.Subprotocol() != "worker" {
		c.Close(websocket.StatusPolicyViolation, "client must speak the worker subprotocol")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s.Workers.Attach(workerID, &wsSender{ctx: ctx, conn: c})
	defer s.Workers.Detach(workerID)

	log.WithFields(log.Fields{"worker": workerID, "remote": r.RemoteAddr}).Info("worker connected")

	for {
		var msg shard.Envelope
		if err := wsjson.Read(ctx, c, &msg); err != nil {
			log.WithError(err).WithField("worker", workerID).Info("worker link closed")
			return
		}
		switch msg.Type {
		case shard.MsgWorkerReady:
			s.Workers.WorkerReady(workerID)
		case shard.MsgLobbyList:
			s.Workers.ReportLobbies(workerID, msg.Lobbies)
		default:
			log.WithFields(log.Fields{"worker": workerID, "type": msg.Type}).Warn("unknown worker message")
		}
	}
}
