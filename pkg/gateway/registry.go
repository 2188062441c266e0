package gateway

import (
	"sync"
	"time"

	"github.com/harun/winagent/internal/observability"
)

// idleAfter marks a client idle in ClientInfo.
const idleAfter = 5 * time.Minute

// ClientRegistry manages connected clients and the sessions each one created.
// A session has at most one owning client.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	// session ID -> owning client ID
	owners map[string]string
}

// NewClientRegistry creates a new client registry
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
		owners:  make(map[string]string),
	}
}

// Add adds a client to the registry
func (r *ClientRegistry) Add(client *Client) {
	r.mu.Lock()
	r.clients[client.ID] = client
	count := len(r.clients)
	r.mu.Unlock()

	observability.SetGatewayClients(count)
}

// Remove removes a client from the registry and returns the sessions it
// owned. The caller is responsible for closing them.
func (r *ClientRegistry) Remove(clientID string) []string {
	r.mu.Lock()
	delete(r.clients, clientID)
	orphaned := r.sessionsLocked(clientID)
	for _, id := range orphaned {
		delete(r.owners, id)
	}
	count := len(r.clients)
	r.mu.Unlock()

	observability.SetGatewayClients(count)
	return orphaned
}

// Get retrieves a client by ID
func (r *ClientRegistry) Get(clientID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, exists := r.clients[clientID]
	return client, exists
}

// GetAll returns all clients
func (r *ClientRegistry) GetAll() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	return clients
}

// GetAuthenticatedClients returns only authenticated clients
func (r *ClientRegistry) GetAuthenticatedClients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0)
	for _, client := range r.clients {
		if client.Authenticated {
			clients = append(clients, client)
		}
	}
	return clients
}

// Count returns the number of connected clients
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.clients)
}

// Own records clientID as the owner of sessionID. It is false when the
// client is not connected.
func (r *ClientRegistry) Own(clientID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[clientID]; !ok {
		return false
	}
	r.owners[sessionID] = clientID
	return true
}

// Disown forgets the owner of sessionID.
func (r *ClientRegistry) Disown(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.owners, sessionID)
}

// OwnerOf returns the client that created sessionID, if it is still
// connected.
func (r *ClientRegistry) OwnerOf(sessionID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clientID, ok := r.owners[sessionID]
	if !ok {
		return nil, false
	}
	client, ok := r.clients[clientID]
	return client, ok
}

// Sessions returns the IDs of the sessions clientID owns.
func (r *ClientRegistry) Sessions(clientID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sessionsLocked(clientID)
}

func (r *ClientRegistry) sessionsLocked(clientID string) []string {
	ids := make([]string, 0)
	for sessionID, owner := range r.owners {
		if owner == clientID {
			ids = append(ids, sessionID)
		}
	}
	return ids
}

// GetConnectedClients returns client information for all connected clients
func (r *ClientRegistry) GetConnectedClients() []ClientInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owned := make(map[string]int, len(r.clients))
	for _, owner := range r.owners {
		owned[owner]++
	}

	now := time.Now()
	infos := make([]ClientInfo, 0, len(r.clients))

	for _, client := range r.clients {
		infos = append(infos, ClientInfo{
			ID:            client.ID,
			Authenticated: client.Authenticated,
			ConnectedAt:   client.ConnectedAt,
			LastActivity:  client.LastActivity,
			IPAddress:     client.IPAddress,
			Idle:          now.Sub(client.LastActivity) > idleAfter,
			Sessions:      owned[client.ID],
		})
	}

	return infos
}

// UpdateActivity updates the last activity time for a client
func (r *ClientRegistry) UpdateActivity(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, exists := r.clients[clientID]; exists {
		client.LastActivity = time.Now()
	}
}
