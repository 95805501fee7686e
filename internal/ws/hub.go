package ws

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"messenger-service/internal/models"
	"messenger-service/internal/observability"
)

// serverFrame is the wire shape of every server-to-client message.
type serverFrame struct {
	Event string          `json:"event"`
	Data  models.Envelope `json:"data"`
}

// Client is one live websocket connection bound to an authenticated user.
// Writes are serialized through a mutex; gorilla connections allow only one
// concurrent writer.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	Info    ConnInfo
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, info ConnInfo) *Client {
	return &Client{conn: conn, Info: info}
}

// Emit sends one envelope to this connection under the given event name.
func (c *Client) Emit(event string, payload models.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(serverFrame{Event: event, Data: payload})
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Hub is the process-wide connection registry and room membership state.
// users maps a user id to that user's live connections (multi-device);
// rooms maps a conversation id to the connections that should receive its
// broadcasts. memberships is the reverse index used for O(rooms-per-conn)
// cleanup on disconnect. All three are only ever touched under mu.
type Hub struct {
	mu          sync.RWMutex
	users       map[int64]map[*Client]struct{}
	rooms       map[int64]map[*Client]struct{}
	memberships map[*Client]map[int64]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		users:       make(map[int64]map[*Client]struct{}),
		rooms:       make(map[int64]map[*Client]struct{}),
		memberships: make(map[*Client]map[int64]struct{}),
	}
}

// Register records the connection under its bound user.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.users[client.Info.UserID] == nil {
		h.users[client.Info.UserID] = make(map[*Client]struct{})
	}
	h.users[client.Info.UserID][client] = struct{}{}
}

// Unregister removes the connection from the registry and from every room
// it joined. Safe to call more than once.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.users[client.Info.UserID]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.users, client.Info.UserID)
		}
	}
	for roomID := range h.memberships[client] {
		if conns, ok := h.rooms[roomID]; ok {
			delete(conns, client)
			if len(conns) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	delete(h.memberships, client)
}

// ConnectionsForUsers returns the live connections of the given users.
// Users without connections simply contribute nothing.
func (h *Hub) ConnectionsForUsers(userIDs []int64) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var clients []*Client
	for _, uid := range userIDs {
		for client := range h.users[uid] {
			clients = append(clients, client)
		}
	}
	return clients
}

// JoinRoom adds the connections to a room. Idempotent; a connection
// already in the room is a no-op.
func (h *Hub) JoinRoom(clients []*Client, roomID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range clients {
		if h.rooms[roomID] == nil {
			h.rooms[roomID] = make(map[*Client]struct{})
		}
		h.rooms[roomID][client] = struct{}{}
		if h.memberships[client] == nil {
			h.memberships[client] = make(map[int64]struct{})
		}
		h.memberships[client][roomID] = struct{}{}
	}
}

// EmitToRoom delivers one envelope to every connection currently in the
// room. Delivery order across connections is unspecified. Connections that
// fail to write are closed and dropped.
func (h *Hub) EmitToRoom(roomID int64, event string, payload models.Envelope) {
	h.mu.RLock()
	conns := make([]*Client, 0, len(h.rooms[roomID]))
	for client := range h.rooms[roomID] {
		conns = append(conns, client)
	}
	h.mu.RUnlock()

	for _, client := range conns {
		if err := client.Emit(event, payload); err != nil {
			log.Printf("websocket write error room=%d user=%d: %v", roomID, client.Info.UserID, err)
			client.Close()
			h.Unregister(client)
			continue
		}
		observability.IncWSBroadcast(event)
	}
}

// RoomSize reports how many connections a room currently holds.
func (h *Hub) RoomSize(roomID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// UserConnections reports how many live connections a user holds.
func (h *Hub) UserConnections(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// CloseAll tears down every connection; called on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, conns := range h.users {
		for client := range conns {
			client.Close()
		}
	}
	h.users = make(map[int64]map[*Client]struct{})
	h.rooms = make(map[int64]map[*Client]struct{})
	h.memberships = make(map[*Client]map[int64]struct{})
}
