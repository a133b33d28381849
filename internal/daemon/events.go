package daemon

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leonletto/msgbridge/internal/types"
)

// Event is one frame on the event stream.
type Event struct {
	Type     string          `json:"type"`
	Messages []types.Message `json:"messages,omitempty"`
	At       time.Time       `json:"at"`
}

// EventNewMessage announces rows the watcher found past its watermark.
const EventNewMessage = "message.new"

const eventWriteWait = 5 * time.Second

// EventHub serves the localhost WebSocket event stream. Clients connect to
// /events and receive every broadcast; a client that cannot keep up is
// dropped rather than back-pressuring the watcher.
type EventHub struct {
	portFile string
	logger   *log.Logger

	httpServer *http.Server
	port       int

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func NewEventHub(portFile string, logger *log.Logger) *EventHub {
	if logger == nil {
		logger = log.Default()
	}
	return &EventHub{
		portFile: portFile,
		logger:   logger,
		clients:  make(map[*websocket.Conn]struct{}),
	}
}

// Start binds a loopback port, records it in the port file, and serves
// until Stop.
func (h *EventHub) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen for event stream: %w", err)
	}
	h.port = listener.Addr().(*net.TCPAddr).Port

	if h.portFile != "" {
		if err := WritePortFile(h.portFile, h.port); err != nil {
			_ = listener.Close()
			return err
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/events", h.handleEvents)
	h.httpServer = &http.Server{Handler: mux}

	go func() {
		if err := h.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			h.logger.Printf("event stream: %v", err)
		}
	}()
	h.logger.Printf("event stream on 127.0.0.1:%d", h.port)
	return nil
}

// Port returns the bound port, valid after Start.
func (h *EventHub) Port() int { return h.port }

// Stop disconnects clients, shuts the server down, and removes the port
// file.
func (h *EventHub) Stop(ctx context.Context) error {
	h.mu.Lock()
	for conn := range h.clients {
		_ = conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()

	if h.httpServer != nil {
		if err := h.httpServer.Shutdown(ctx); err != nil {
			return err
		}
	}
	if h.portFile != "" {
		return RemovePortFile(h.portFile)
	}
	return nil
}

var eventUpgrader = websocket.Upgrader{
	// The hub binds loopback only; any local client may subscribe.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (h *EventHub) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := eventUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("event stream: upgrade: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Printf("event stream: client connected (%d total)", n)

	// Drain the read side so pings and close frames are processed. The
	// stream is one-way; anything the client sends is ignored.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(conn)
				return
			}
		}
	}()
}

// Broadcast sends one event to every connected client.
func (h *EventHub) Broadcast(ev Event) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
		if err := conn.WriteJSON(ev); err != nil {
			h.drop(conn)
		}
	}
}

// BroadcastNewMessages is the watcher callback shape.
func (h *EventHub) BroadcastNewMessages(msgs []types.Message) {
	h.Broadcast(Event{Type: EventNewMessage, Messages: msgs, At: time.Now().UTC()})
}

func (h *EventHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	_, present := h.clients[conn]
	delete(h.clients, conn)
	h.mu.Unlock()
	if present {
		_ = conn.Close()
		h.logger.Printf("event stream: client disconnected")
	}
}
