package ws

import (
	"log"
	"sync"
)

// Registry is the process-wide mapping from session id to the set of
// connected clients for that session. Rooms are derived state: created on
// first subscribe, evicted when the last client leaves.
type Registry struct {
	mu    sync.RWMutex
	rooms map[uint64]map[*Client]struct{}
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[uint64]map[*Client]struct{})}
}

func (r *Registry) Subscribe(sessionID uint64, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[sessionID]
	if !ok {
		room = make(map[*Client]struct{})
		r.rooms[sessionID] = room
	}
	room[c] = struct{}{}
}

// Unsubscribe is an idempotent no-op when the client is already gone.
func (r *Registry) Unsubscribe(sessionID uint64, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[sessionID]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(r.rooms, sessionID)
	}
}

// Broadcast delivers payload to every subscribed client except exclude.
// A client whose send buffer is full is dropped and logged; delivery to the
// rest continues.
func (r *Registry) Broadcast(sessionID uint64, payload []byte, exclude *Client) {
	if payload == nil {
		return
	}

	r.mu.RLock()
	members := make([]*Client, 0, len(r.rooms[sessionID]))
	for c := range r.rooms[sessionID] {
		if c != exclude {
			members = append(members, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range members {
		if !c.enqueue(payload) {
			log.Printf("dropping slow connection user=%d session=%d", c.userID, c.sessionID)
			c.closeSlow()
		}
	}
}

// RoomSize reports the number of connected clients for a session.
func (r *Registry) RoomSize(sessionID uint64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[sessionID])
}
