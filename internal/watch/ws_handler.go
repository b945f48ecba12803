package watch

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// WriteTimeout is the timeout for writing to WebSocket
	WriteTimeout = 10 * time.Second

	// PingInterval is how often to send ping messages
	PingInterval = 30 * time.Second

	// PongTimeout is how long a connection may stay silent before it is dropped
	PongTimeout = 2 * time.Minute

	// MaxConcurrentConnections caps simultaneous change feed connections
	MaxConcurrentConnections = 100
)

// WSHandler streams hub events to browsers over WebSocket.
type WSHandler struct {
	hub          *Hub
	upgrader     websocket.Upgrader
	activeConns  int32
	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewWSHandler creates a change feed handler for hub.
func NewWSHandler(hub *Hub) *WSHandler {
	return &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     isAllowedOrigin,
		},
		shutdownChan: make(chan struct{}),
	}
}

// isAllowedOrigin accepts same-host and localhost origins, plus clients that
// send no Origin at all.
func isAllowedOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		log.Warn("Rejected WebSocket origin: %s (host: %s)", origin, r.Host)
		return false
	}
	if u.Host == r.Host {
		return true
	}
	hostname := u.Hostname()
	if hostname == "localhost" || net.ParseIP(hostname).IsLoopback() {
		return true
	}
	log.Warn("Rejected WebSocket origin: %s (host: %s)", origin, r.Host)
	return false
}

// Handle upgrades the request and forwards events until either side leaves.
func (h *WSHandler) Handle(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.shutdownChan:
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	if atomic.LoadInt32(&h.activeConns) >= MaxConcurrentConnections {
		log.Warn("Too many change feed connections")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	atomic.AddInt32(&h.activeConns, 1)
	defer atomic.AddInt32(&h.activeConns, -1)

	events, leave := h.hub.Subscribe()
	defer leave()

	// The client never sends anything we need; reading keeps pongs and close
	// frames flowing.
	clientGone := make(chan struct{})
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(PongTimeout))
	})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-clientGone:
			return
		case <-h.shutdownChan:
			conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"))
			return
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				log.Debug("Change feed write failed: %v", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ActiveConnections returns the number of open change feed connections.
func (h *WSHandler) ActiveConnections() int {
	return int(atomic.LoadInt32(&h.activeConns))
}

// Shutdown closes every connection and waits for them to finish or ctx to end.
func (h *WSHandler) Shutdown(ctx context.Context) {
	h.shutdownOnce.Do(func() { close(h.shutdownChan) })

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if atomic.LoadInt32(&h.activeConns) == 0 {
			log.Info("All change feed connections closed")
			return
		}
		select {
		case <-ctx.Done():
			log.Warn("Shutdown timeout, %d change feed connections still active", atomic.LoadInt32(&h.activeConns))
			return
		case <-ticker.C:
		}
	}
}
