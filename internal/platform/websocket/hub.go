// Package websocket streams alerts to connected professionals. Each
// connection is bound to the authenticated professional and receives only
// that professional's alerts.
package websocket

import (
	"sync"

	"github.com/google/uuid"
)

// sendBuffer is how many frames a slow client may fall behind before
// frames are dropped for it.
const sendBuffer = 64

// Client is one open connection.
type Client struct {
	ID             uuid.UUID
	ProfessionalID uuid.UUID
	Send           chan []byte
}

func NewClient(professionalID uuid.UUID) *Client {
	return &Client{
		ID:             uuid.New(),
		ProfessionalID: professionalID,
		Send:           make(chan []byte, sendBuffer),
	}
}

// Hub tracks open clients per professional.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]map[*Client]struct{}
	dropped int
}

func NewHub() *Hub {
	return &Hub{clients: make(map[uuid.UUID]map[*Client]struct{})}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.ProfessionalID]
	if set == nil {
		set = make(map[*Client]struct{})
		h.clients[c.ProfessionalID] = set
	}
	set[c] = struct{}{}
}

// Unregister removes c and closes its Send channel. Unregistering twice is
// a no-op.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.ProfessionalID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.ProfessionalID)
	}
	close(c.Send)
}

// Broadcast queues frame for every client of professionalID and reports how
// many accepted it. Clients with a full buffer are skipped.
func (h *Hub) Broadcast(professionalID uuid.UUID, frame []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for c := range h.clients[professionalID] {
		select {
		case c.Send <- frame:
			n++
		default:
			h.dropped++
		}
	}
	return n
}

// ClientCount returns the number of open connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// Connections returns the open connections for one professional.
func (h *Hub) Connections(professionalID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[professionalID])
}

// Dropped returns how many frames were skipped for slow clients.
func (h *Hub) Dropped() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}
