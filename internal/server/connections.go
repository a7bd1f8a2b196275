package server

import (
	"sort"
	"sync"
)

type Role string

const (
	RoleMaster Role = "master"
	RolePlayer Role = "player"
)

// Binding ties a connection to the session it joined and the role it holds
// there.
type Binding struct {
	SessionID string
	Role      Role
	PlayerID  string
}

// Member is a room member together with its binding.
type Member struct {
	Client  *Client
	Binding Binding
	Bound   bool
}

// ConnectionManager is the connection registry: live clients, their session
// bindings and the broadcast room each one sits in. A connection is in at
// most one room at a time.
type ConnectionManager struct {
	clients  map[string]*Client            // connectionID → client
	bindings map[string]Binding            // connectionID → binding
	rooms    map[string]map[string]*Client // sessionID → connectionID → client
	roomOf   map[string]string             // connectionID → sessionID
	mu       sync.RWMutex
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		clients:  make(map[string]*Client),
		bindings: make(map[string]Binding),
		rooms:    make(map[string]map[string]*Client),
		roomOf:   make(map[string]string),
	}
}

func (cm *ConnectionManager) AddClient(c *Client) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.clients[c.ID()] = c
}

// RemoveClient forgets the connection entirely and returns the binding it
// held, if any.
func (cm *ConnectionManager) RemoveClient(id string) (Binding, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	b, bound := cm.bindings[id]
	cm.leaveLocked(id)
	delete(cm.clients, id)
	delete(cm.bindings, id)
	return b, bound
}

// Register binds the connection and moves it into the session's room. The
// previous binding is returned so the caller can clean up after it.
func (cm *ConnectionManager) Register(id string, b Binding) (Binding, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	prev, had := cm.bindings[id]
	cm.bindings[id] = b
	if c, ok := cm.clients[id]; ok {
		cm.joinLocked(id, b.SessionID, c)
	}
	return prev, had
}

func (cm *ConnectionManager) Binding(id string) (Binding, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	b, ok := cm.bindings[id]
	return b, ok
}

// LeaveRoom takes the connection out of the session's room. The binding is
// kept.
func (cm *ConnectionManager) LeaveRoom(id, sessionID string) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.roomOf[id] != sessionID {
		return false
	}
	cm.leaveLocked(id)
	return true
}

func (cm *ConnectionManager) Room(id string) string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.roomOf[id]
}

// Members returns a snapshot of the room, ordered by connection id.
func (cm *ConnectionManager) Members(sessionID string) []Member {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	room := cm.rooms[sessionID]
	members := make([]Member, 0, len(room))
	for id, c := range room {
		b, ok := cm.bindings[id]
		members = append(members, Member{Client: c, Binding: b, Bound: ok})
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].Client.ID() < members[j].Client.ID()
	})
	return members
}

func (cm *ConnectionManager) Client(id string) *Client {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.clients[id]
}

// Clients returns every live client.
func (cm *ConnectionManager) Clients() []*Client {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	out := make([]*Client, 0, len(cm.clients))
	for _, c := range cm.clients {
		out = append(out, c)
	}
	return out
}

func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.clients)
}

func (cm *ConnectionManager) joinLocked(id, sessionID string, c *Client) {
	if cm.roomOf[id] == sessionID {
		return
	}
	cm.leaveLocked(id)
	room, ok := cm.rooms[sessionID]
	if !ok {
		room = make(map[string]*Client)
		cm.rooms[sessionID] = room
	}
	room[id] = c
	cm.roomOf[id] = sessionID
}

func (cm *ConnectionManager) leaveLocked(id string) {
	sessionID, ok := cm.roomOf[id]
	if !ok {
		return
	}
	delete(cm.roomOf, id)
	room := cm.rooms[sessionID]
	delete(room, id)
	if len(room) == 0 {
		delete(cm.rooms, sessionID)
	}
}
