package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ayusman/airdrums/internal/input"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

const writeWait = time.Second

// StateHandler broadcasts engine snapshots over WebSocket and turns client
// key messages into input actions.
type StateHandler struct {
	snapshots SnapshotSource
	queue     *input.Queue
	interval  time.Duration
	log       zerolog.Logger

	clients map[*websocket.Conn]*sync.Mutex
	mu      sync.RWMutex
	stop    chan struct{}
	once    sync.Once
}

// NewStateHandler creates a StateHandler and starts its broadcaster. A nil
// queue makes the socket read-only.
func NewStateHandler(snapshots SnapshotSource, queue *input.Queue, interval time.Duration, log zerolog.Logger) *StateHandler {
	h := &StateHandler{
		snapshots: snapshots,
		queue:     queue,
		interval:  interval,
		log:       log,
		clients:   make(map[*websocket.Conn]*sync.Mutex),
		stop:      make(chan struct{}),
	}
	go h.broadcast()
	return h
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *StateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.clients[conn] = &sync.Mutex{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleMessage(data)
	}
}

func (h *StateHandler) handleMessage(data []byte) {
	var msg keyMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.log.Debug().Err(err).Msg("ignoring malformed client message")
		return
	}
	a, ok := msg.action()
	if !ok || h.queue == nil {
		return
	}
	h.queue.Push(a)
	h.log.Debug().Str("action", a.String()).Msg("client action")
}

// broadcast sends each new snapshot to all connected clients.
func (h *StateHandler) broadcast() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
		}

		h.mu.RLock()
		n := len(h.clients)
		h.mu.RUnlock()
		if n == 0 {
			continue
		}

		snap, seq := h.snapshots.Snapshot()
		if seq == 0 || seq == last {
			continue
		}
		last = seq

		msg, err := json.Marshal(snap)
		if err != nil {
			h.log.Error().Err(err).Msg("encoding snapshot")
			continue
		}

		h.mu.RLock()
		for conn, wmu := range h.clients {
			wmu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Debug().Err(err).Msg("websocket write")
			}
			wmu.Unlock()
		}
		h.mu.RUnlock()
	}
}

// Close stops the broadcaster.
func (h *StateHandler) Close() {
	h.once.Do(func() { close(h.stop) })
}
