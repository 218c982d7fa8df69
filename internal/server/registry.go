package server

import (
	"sync"
)

// RoomID names a broadcast group. Personal and conversation rooms live in
// separate namespaces so a conversation id can never alias a user's room.
type RoomID string

func UserRoom(userId string) RoomID {
	return RoomID("user:" + userId)
}

func ChatRoom(conversationId string) RoomID {
	return RoomID("chat:" + conversationId)
}

// Registry tracks live connections, the user each one is bound to, and the
// rooms each one has joined. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	userMap     map[string]map[*Client]struct{}
	rooms       map[RoomID]map[*Client]struct{}
	memberships map[*Client]map[RoomID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		clients:     make(map[*Client]struct{}),
		userMap:     make(map[string]map[*Client]struct{}),
		rooms:       make(map[RoomID]map[*Client]struct{}),
		memberships: make(map[*Client]map[RoomID]struct{}),
	}
}

// Add registers c and reports whether it is the user's first live connection.
func (r *Registry) Add(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c]; ok {
		return false
	}

	r.clients[c] = struct{}{}
	r.memberships[c] = make(map[RoomID]struct{})

	userId := c.session.UserId
	first := len(r.userMap[userId]) == 0
	if r.userMap[userId] == nil {
		r.userMap[userId] = make(map[*Client]struct{})
	}
	r.userMap[userId][c] = struct{}{}

	return first
}

// Remove drops c from every room it joined. It reports whether c was
// registered and whether the user has no live connections left.
func (r *Registry) Remove(c *Client) (removed, offline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c]; !ok {
		return false, false
	}

	for room := range r.memberships[c] {
		r.leaveLocked(c, room)
	}
	delete(r.memberships, c)
	delete(r.clients, c)

	userId := c.session.UserId
	if userClients, ok := r.userMap[userId]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(r.userMap, userId)
			return true, true
		}
	}

	return true, false
}

// Join adds c to room. It returns false if c is unregistered or already a
// member.
func (r *Registry) Join(c *Client, room RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined, ok := r.memberships[c]
	if !ok {
		return false
	}
	if _, ok := joined[room]; ok {
		return false
	}

	joined[room] = struct{}{}
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[*Client]struct{})
	}
	r.rooms[room][c] = struct{}{}

	return true
}

func (r *Registry) Leave(c *Client, room RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined, ok := r.memberships[c]
	if !ok {
		return false
	}
	if _, ok := joined[room]; !ok {
		return false
	}

	delete(joined, room)
	r.leaveLocked(c, room)
	return true
}

func (r *Registry) leaveLocked(c *Client, room RoomID) {
	if members, ok := r.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

// Broadcast queues msg on every connection in room except skip and returns
// the number of connections it was queued on.
func (r *Registry) Broadcast(room RoomID, msg *ServerMessage, skip *Client) int {
	r.mu.RLock()
	targets := make([]*Client, 0, len(r.rooms[room]))
	for c := range r.rooms[room] {
		if c == skip {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if c.queueMessage(msg) {
			sent++
		}
	}

	return sent
}

func (r *Registry) InRoom(c *Client, room RoomID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rooms[room][c]
	return ok
}

// RoomSize returns the number of connections in room.
func (r *Registry) RoomSize(room RoomID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms[room])
}

func (r *Registry) Online(userId string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.userMap[userId]) > 0
}

// Clients returns the live connections bound to userId.
func (r *Registry) Clients(userId string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.userMap[userId]))
	for c := range r.userMap[userId] {
		clients = append(clients, c)
	}
	return clients
}

func (r *Registry) all() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	return clients
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.clients)
}
