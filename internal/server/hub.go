package server

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const readTimeout = 60 * time.Second

// Hub fans HMR messages out to every connected page
type Hub struct {
	zap *zap.Logger

	mutex sync.RWMutex
	conns map[*websocket.Conn]bool

	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	closeOnce  sync.Once

	upgrader websocket.Upgrader
}

func NewHub(z *zap.Logger) *Hub {
	if z == nil {
		z = zap.NewNop()
	}
	h := &Hub{
		zap:        z,
		conns:      make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin:     localOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	go h.run()
	return h
}

// Pages served from another host never get to listen for updates
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return u.Host == r.Host
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			return

		case conn := <-h.register:
			h.mutex.Lock()
			h.conns[conn] = true
			count := len(h.conns)
			h.mutex.Unlock()
			h.zap.Debug("client connected", zap.Int("clients", count))

		case conn := <-h.unregister:
			h.mutex.Lock()
			if h.conns[conn] {
				delete(h.conns, conn)
				conn.Close()
			}
			count := len(h.conns)
			h.mutex.Unlock()
			h.zap.Debug("client disconnected", zap.Int("clients", count))

		case msg := <-h.broadcast:
			h.sendToAll(msg)
		}
	}
}

func (h *Hub) sendToAll(msg []byte) {
	var failed []*websocket.Conn
	h.mutex.RLock()
	for conn := range h.conns {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.zap.Debug("write failed", zap.Error(err))
			failed = append(failed, conn)
		}
	}
	h.mutex.RUnlock()

	if len(failed) > 0 {
		h.mutex.Lock()
		for _, conn := range failed {
			if h.conns[conn] {
				delete(h.conns, conn)
				conn.Close()
			}
		}
		h.mutex.Unlock()
	}
}

// Broadcast queues a message for every client. Messages sent after Close are
// dropped.
func (h *Hub) Broadcast(msg []byte) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.zap.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}
	go h.read(conn)
}

// Clients never send anything meaningful. Reading keeps pongs and close
// frames flowing.
func (h *Hub) read(conn *websocket.Conn) {
	defer func() {
		select {
		case h.unregister <- conn:
		case <-h.done:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.zap.Debug("websocket error", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) ConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.conns)
}

func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		h.mutex.Lock()
		defer h.mutex.Unlock()
		for conn := range h.conns {
			conn.Close()
		}
		h.conns = make(map[*websocket.Conn]bool)
	})
}
