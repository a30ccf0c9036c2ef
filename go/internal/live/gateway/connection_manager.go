package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/dartslive/go/internal/live/events"
)

// TournamentRoom is the room tag for everyone following a tournament.
func TournamentRoom(code string) string { return "tournament-" + code }

// MatchRoom is the room tag for everyone following a single match.
func MatchRoom(matchID string) string { return "match-" + matchID }

// ConnectionManager tracks websocket connections and the rooms they joined
type ConnectionManager struct {
	// room tag -> members
	rooms map[string]map[*Connection]bool
	// every registered connection
	conns map[*Connection]bool
	mu    sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  64 * 1024, // leg summaries carry full throw logs
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// ConnectionStats is served on the stats endpoint
type ConnectionStats struct {
	TotalConnections int            `json:"totalConnections"`
	ActiveRooms      int            `json:"activeRooms"`
	Rooms            map[string]int `json:"rooms"`
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = DefaultConnectionConfig().SendBufferSize
	}
	return &ConnectionManager{
		rooms: make(map[string]map[*Connection]bool),
		conns: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and starts its
// pumps. Inbound envelopes are passed to handler.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, handler MessageHandler) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := cm.newConnection(conn, handler)
	c.RemoteAddr = r.RemoteAddr
	cm.register(c)

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.ID).
		Str("remote_addr", c.RemoteAddr).
		Msg("WebSocket connection established")

	return c, nil
}

func (cm *ConnectionManager) newConnection(conn *websocket.Conn, handler MessageHandler) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		manager:     cm,
		handler:     handler,
		rooms:       make(map[string]bool),
		ctx:         ctx,
		cancel:      cancel,
		ConnectedAt: time.Now(),
	}
}

func (cm *ConnectionManager) register(c *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.conns[c] = true
}

// unregister drops the connection from every room it joined and closes its
// send channel. Safe to call more than once.
func (cm *ConnectionManager) unregister(c *Connection) {
	cm.mu.Lock()
	if !cm.conns[c] {
		cm.mu.Unlock()
		return
	}
	delete(cm.conns, c)
	rooms := len(c.rooms)
	for room := range c.rooms {
		cm.removeMember(room, c)
	}
	c.rooms = make(map[string]bool)
	close(c.Send)
	cm.mu.Unlock()

	c.cancel()

	log.Info().
		Str("connection_id", c.ID).
		Int("rooms_released", rooms).
		Msg("connection unregistered")
}

// removeMember must be called with cm.mu held.
func (cm *ConnectionManager) removeMember(room string, c *Connection) {
	members, ok := cm.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(cm.rooms, room)
	}
}

// Join adds the connection to a room. Joining twice is a no-op. It reports
// false if the connection is already closed.
func (cm *ConnectionManager) Join(c *Connection, room string) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.conns[c] {
		return false
	}
	members, ok := cm.rooms[room]
	if !ok {
		members = make(map[*Connection]bool)
		cm.rooms[room] = members
	}
	members[c] = true
	c.rooms[room] = true

	log.Debug().
		Str("connection_id", c.ID).
		Str("room", room).
		Int("members", len(members)).
		Msg("joined room")
	return true
}

// Leave removes the connection from a room.
func (cm *ConnectionManager) Leave(c *Connection, room string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !c.rooms[room] {
		return
	}
	delete(c.rooms, room)
	cm.removeMember(room, c)

	log.Debug().
		Str("connection_id", c.ID).
		Str("room", room).
		Msg("left room")
}

// Broadcast sends an event to every member of room except exclude and returns
// how many connections it was queued for. A room with no members is a no-op.
// A json.RawMessage payload is forwarded without re-encoding.
func (cm *ConnectionManager) Broadcast(room string, event events.Name, payload any, exclude *Connection) int {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		log.Error().Err(err).Str("room", room).Msg("failed to marshal event for broadcast")
		return 0
	}

	var slow []*Connection
	delivered := 0

	cm.mu.RLock()
	for c := range cm.rooms[room] {
		if c == exclude {
			continue
		}
		select {
		case c.Send <- frame:
			delivered++
		default:
			slow = append(slow, c)
		}
	}
	cm.mu.RUnlock()

	for _, c := range slow {
		log.Warn().
			Str("connection_id", c.ID).
			Str("room", room).
			Msg("connection send buffer full, closing connection")
		cm.evict(c)
	}

	log.Debug().
		Str("event", string(event)).
		Str("room", room).
		Int("connections", delivered).
		Msg("event broadcasted")

	return delivered
}

// SendTo queues an event for a single connection.
func (cm *ConnectionManager) SendTo(c *Connection, event events.Name, payload any) error {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}

	cm.mu.RLock()
	if !cm.conns[c] {
		cm.mu.RUnlock()
		return fmt.Errorf("connection %s is closed", c.ID)
	}
	var full bool
	select {
	case c.Send <- frame:
	default:
		full = true
	}
	cm.mu.RUnlock()

	if full {
		cm.evict(c)
		return fmt.Errorf("connection %s send buffer full", c.ID)
	}
	return nil
}

func (cm *ConnectionManager) evict(c *Connection) {
	cm.unregister(c)
	c.closeTransport()
}

// Members reports how many connections are in room.
func (cm *ConnectionManager) Members(room string) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.rooms[room])
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	rooms := make(map[string]int, len(cm.rooms))
	for room, members := range cm.rooms {
		rooms[room] = len(members)
	}
	return ConnectionStats{
		TotalConnections: len(cm.conns),
		ActiveRooms:      len(cm.rooms),
		Rooms:            rooms,
	}
}

// CloseAll disconnects every connection.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.conns))
	for c := range cm.conns {
		conns = append(conns, c)
	}
	cm.mu.RUnlock()

	for _, c := range conns {
		cm.evict(c)
	}
}

func encodeFrame(event events.Name, payload any) ([]byte, error) {
	env, err := events.NewEnvelope(event, payload)
	if err != nil {
		return nil, err
	}
	return env.Encode()
}
