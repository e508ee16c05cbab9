package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/race/protocol"
)

// Handler receives connection lifecycle events and inbound frames. Calls are
// made from the connection goroutines.
type Handler interface {
	Connected(connID string, p Principal)
	Disconnected(connID string)
	HandleMessage(connID string, raw []byte)
}

// ConnectionManager manages race WebSocket connections and their rooms.
type ConnectionManager struct {
	connections map[string]*Connection
	rooms       map[string]map[string]struct{}
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	handler  Handler

	broadcastCh chan outbound
}

// Connection is a single client socket.
type Connection struct {
	ID          string
	Principal   Principal
	Conn        *websocket.Conn
	ConnectedAt time.Time

	send    chan []byte
	manager *ConnectionManager
	rooms   map[string]struct{}
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration              `yaml:"write_timeout"`
	ReadTimeout     time.Duration              `yaml:"read_timeout"`
	PingInterval    time.Duration              `yaml:"ping_interval"`
	MaxMessageSize  int64                      `yaml:"max_message_size"`
	ReadBufferSize  int                        `yaml:"read_buffer_size"`
	WriteBufferSize int                        `yaml:"write_buffer_size"`
	SendBuffer      int                        `yaml:"send_buffer"`
	CheckOrigin     func(r *http.Request) bool `yaml:"-"`
}

// outbound is a message with its recipients resolved at enqueue time.
type outbound struct {
	targets []string
	msg     protocol.Message
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*Connection),
		rooms:       make(map[string]map[string]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan outbound, 4096),
	}
}

// SetHandler installs the receiver of connection events. It must be called
// before the first connection is accepted.
func (cm *ConnectionManager) SetHandler(h Handler) {
	cm.handler = h
}

// Start delivers queued messages until ctx is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.deliver(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, p Principal) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.NewString(),
		Principal:   p,
		Conn:        conn,
		ConnectedAt: time.Now(),
		send:        make(chan []byte, cm.config.SendBuffer),
		manager:     cm,
		rooms:       make(map[string]struct{}),
	}

	cm.register(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Bool("authenticated", p.Authenticated()).
		Msg("WebSocket connection established")

	return nil
}

func (cm *ConnectionManager) register(conn *Connection) {
	cm.mu.Lock()
	cm.connections[conn.ID] = conn
	total := len(cm.connections)
	cm.mu.Unlock()

	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", total).
		Msg("connection registered")

	if cm.handler != nil {
		cm.handler.Connected(conn.ID, conn.Principal)
	}
}

// unregister removes a connection and its room memberships. Only the first
// call for a connection has any effect.
func (cm *ConnectionManager) unregister(conn *Connection) {
	cm.mu.Lock()
	if cm.connections[conn.ID] != conn {
		cm.mu.Unlock()
		return
	}
	delete(cm.connections, conn.ID)
	for room := range conn.rooms {
		cm.leaveLocked(conn.ID, room)
	}
	close(conn.send)
	cm.mu.Unlock()

	log.Info().
		Str("connection_id", conn.ID).
		Dur("connected_for", time.Since(conn.ConnectedAt)).
		Msg("connection unregistered")

	if cm.handler != nil {
		cm.handler.Disconnected(conn.ID)
	}
}

// Send queues a message for a single connection.
func (cm *ConnectionManager) Send(connID string, msg protocol.Message) {
	cm.enqueue(outbound{targets: []string{connID}, msg: msg})
}

// Broadcast queues a message for every open connection.
func (cm *ConnectionManager) Broadcast(msg protocol.Message) {
	cm.mu.RLock()
	targets := make([]string, 0, len(cm.connections))
	for id := range cm.connections {
		targets = append(targets, id)
	}
	cm.mu.RUnlock()

	cm.enqueue(outbound{targets: targets, msg: msg})
}

// BroadcastRoom queues a message for the current members of room. Members
// that join or leave afterwards are not affected.
func (cm *ConnectionManager) BroadcastRoom(room string, msg protocol.Message) {
	cm.mu.RLock()
	members := cm.rooms[room]
	targets := make([]string, 0, len(members))
	for id := range members {
		targets = append(targets, id)
	}
	cm.mu.RUnlock()

	if len(targets) == 0 {
		return
	}
	cm.enqueue(outbound{targets: targets, msg: msg})
}

// JoinRoom adds an open connection to room.
func (cm *ConnectionManager) JoinRoom(connID, room string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	conn, ok := cm.connections[connID]
	if !ok {
		return
	}
	if cm.rooms[room] == nil {
		cm.rooms[room] = make(map[string]struct{})
	}
	cm.rooms[room][connID] = struct{}{}
	conn.rooms[room] = struct{}{}
}

func (cm *ConnectionManager) LeaveRoom(connID, room string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.leaveLocked(connID, room)
}

// CloseRoom drops every membership of room.
func (cm *ConnectionManager) CloseRoom(room string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for id := range cm.rooms[room] {
		if conn, ok := cm.connections[id]; ok {
			delete(conn.rooms, room)
		}
	}
	delete(cm.rooms, room)
}

func (cm *ConnectionManager) leaveLocked(connID, room string) {
	members, ok := cm.rooms[room]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(cm.rooms, room)
	}
	if conn, ok := cm.connections[connID]; ok {
		delete(conn.rooms, room)
	}
}

// RoomMembers returns the number of connections in room.
func (cm *ConnectionManager) RoomMembers(room string) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.rooms[room])
}

func (cm *ConnectionManager) enqueue(o outbound) {
	select {
	case cm.broadcastCh <- o:
	default:
		log.Warn().
			Str("event_type", string(o.msg.Type)).
			Int("targets", len(o.targets)).
			Msg("broadcast channel full, dropping message")
	}
}

func (cm *ConnectionManager) deliver(o outbound) {
	data, err := json.Marshal(o.msg)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(o.msg.Type)).Msg("failed to marshal event")
		return
	}

	var slow []*Connection
	cm.mu.RLock()
	for _, id := range o.targets {
		conn, ok := cm.connections[id]
		if !ok {
			continue
		}
		select {
		case conn.send <- data:
		default:
			slow = append(slow, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Msg("connection send buffer full, closing connection")
		cm.unregister(conn)
		conn.Conn.Close()
	}

	log.Debug().
		Str("event_type", string(o.msg.Type)).
		Int("connections", len(o.targets)).
		Msg("event delivered")
}

// Stats summarises open connections and rooms.
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	RoomConnections  map[string]int `json:"room_connections"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() Stats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	rooms := make(map[string]int, len(cm.rooms))
	for room, members := range cm.rooms {
		rooms[room] = len(members)
	}
	return Stats{
		TotalConnections: len(cm.connections),
		ActiveRooms:      len(cm.rooms),
		RoomConnections:  rooms,
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.manager.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.manager.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		if c.manager.handler != nil {
			c.manager.handler.HandleMessage(c.ID, message)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	}
}
