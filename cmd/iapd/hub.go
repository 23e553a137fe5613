package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"iapkeeper/internal/store"
)

const (
	writeWait  = 20 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

type hubLogger interface {
	Infof(string, ...interface{})
	Errorf(string, ...interface{})
}

// eventHub streams store events to websocket clients.
type eventHub struct {
	logger   hubLogger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[uuid.UUID]*websocket.Conn
	locks map[uuid.UUID]*sync.Mutex
}

// eventMessage is the frame sent for every event.
type eventMessage struct {
	Event string      `json:"event"`
	Data  store.Event `json:"data"`
}

func newEventHub(logger hubLogger) *eventHub {
	return &eventHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[uuid.UUID]*websocket.Conn),
		locks: make(map[uuid.UUID]*sync.Mutex),
	}
}

func (h *eventHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("ws upgrade failed: %v", err)
		return
	}
	id := uuid.New()

	h.mu.Lock()
	h.conns[id] = conn
	h.locks[id] = &sync.Mutex{}
	h.mu.Unlock()

	h.logger.Infof("ws %s connected", id)

	go h.pingLoop(id, conn)
	go h.readLoop(id, conn)
}

// Run broadcasts events until the channel closes or ctx ends.
func (h *eventHub) Run(ctx context.Context, events <-chan store.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.broadcast(eventMessage{Event: ev.Name(), Data: ev})
		}
	}
}

func (h *eventHub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *eventHub) pingLoop(id uuid.UUID, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		h.mu.RLock()
		alive := h.conns[id] == conn
		h.mu.RUnlock()
		if !alive {
			return
		}
		h.safeWrite(id, func(c *websocket.Conn) error {
			return c.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		})
	}
}

func (h *eventHub) readLoop(id uuid.UUID, conn *websocket.Conn) {
	defer h.closeConn(id, conn)

	conn.SetReadLimit(4 << 10)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		mt, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if mt == websocket.TextMessage && strings.EqualFold(strings.TrimSpace(string(message)), "ping") {
			h.safeWrite(id, func(c *websocket.Conn) error {
				return c.WriteMessage(websocket.TextMessage, []byte("pong"))
			})
		}
	}
}

func (h *eventHub) closeConn(id uuid.UUID, conn *websocket.Conn) {
	_ = conn.Close()
	h.mu.Lock()
	if current, ok := h.conns[id]; ok && current == conn {
		delete(h.conns, id)
		delete(h.locks, id)
	}
	h.mu.Unlock()
}

func (h *eventHub) closeAll() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[uuid.UUID]*websocket.Conn)
	h.locks = make(map[uuid.UUID]*sync.Mutex)
	h.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (h *eventHub) safeWrite(id uuid.UUID, fn func(*websocket.Conn) error) {
	h.mu.RLock()
	conn := h.conns[id]
	mu := h.locks[id]
	h.mu.RUnlock()
	if conn == nil || mu == nil {
		return
	}

	mu.Lock()
	defer mu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := fn(conn); err != nil {
		h.logger.Errorf("ws %s write failed: %v", id, err)
		h.closeConn(id, conn)
	}
}

func (h *eventHub) broadcast(payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Errorf("ws marshal failed: %v", err)
		return
	}
	h.mu.RLock()
	ids := make([]uuid.UUID, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	for _, id := range ids {
		h.safeWrite(id, func(conn *websocket.Conn) error {
			return conn.WriteMessage(websocket.TextMessage, data)
		})
	}
}
