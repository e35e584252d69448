// Package livereload tells open preview tabs to refresh when files in the
// content root change. A polling Watcher detects changes, a Server pushes
// them to browsers over WebSocket and Inject adds the client script to
// rendered pages.
package livereload

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultPath is where the reload WebSocket is served.
const DefaultPath = "/_frond/reload"

const writeTimeout = 5 * time.Second

// MessageType is the kind of reload a browser should perform.
type MessageType string

const (
	TypeReload MessageType = "reload"
	TypeCSS    MessageType = "css"
)

// Message is sent to browsers as JSON.
type Message struct {
	Type  MessageType `json:"type"`
	Files []string    `json:"files,omitempty"`
}

// Config enables live reload and tunes polling.
type Config struct {
	Enabled    bool     `json:"enabled"`
	IntervalMs int      `json:"poll_interval_ms"`
	Ignore     []string `json:"ignore"`
}

// DefaultConfig polls twice a second.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		IntervalMs: 500,
		Ignore:     DefaultIgnore,
	}
}

// Server keeps the set of connected browsers.
type Server struct {
	clients  map[*websocket.Conn]bool
	mu       sync.RWMutex
	writeMu  sync.Mutex
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer creates a reload server.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Previews are opened from arbitrary local hostnames.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeHTTP upgrades the request and holds the connection until the
// browser goes away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("Reload upgrade failed", "error", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()
	s.logger.Debug("Reload client connected", "clients", s.ClientCount())

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.drop(conn)
}

// Notify sends msg to every connected browser.
func (s *Server) Notify(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.mu.RUnlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for _, client := range clients {
		client.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			s.drop(client)
		}
	}
}

// NotifyChanges picks the reload type for a batch of changes: CSS-only
// batches swap stylesheets, anything else reloads the page.
func (s *Server) NotifyChanges(changes []Change) {
	if len(changes) == 0 {
		return
	}
	msg := Message{Type: TypeCSS}
	for _, c := range changes {
		msg.Files = append(msg.Files, c.Path)
		if c.Kind != ChangeCSS {
			msg.Type = TypeReload
		}
	}
	s.logger.Info("Content changed, notifying browsers", "files", len(changes), "type", msg.Type, "clients", s.ClientCount())
	s.Notify(msg)
}

func (s *Server) drop(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

// ClientCount returns the number of connected browsers.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Close disconnects every browser.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		client.Close()
		delete(s.clients, client)
	}
}
