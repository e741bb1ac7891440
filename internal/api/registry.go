package api

import (
	"sync"

	"github.com/kwilde42/shadow-core/internal/infrastructure/logging"
)

// ConnectionRegistry tracks which WebSocket clients are watching which device.
//
// Subscriptions have set semantics: subscribing the same client to the same
// device twice is a no-op, and a client is either subscribed or not. The
// registry is injected into the server rather than held as package state so
// tests can run isolated instances side by side.
//
// Lock ordering: the registry lock is released before any per-client send,
// so a slow client can never stall bookkeeping for the rest.
type ConnectionRegistry struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Client]struct{}
	logger      *logging.Logger
}

// NewRegistry creates an empty connection registry.
func NewRegistry(logger *logging.Logger) *ConnectionRegistry {
	return &ConnectionRegistry{
		subscribers: make(map[string]map[*Client]struct{}),
		logger:      logger,
	}
}

// Subscribe adds a client to a device's subscriber set. Idempotent.
func (reg *ConnectionRegistry) Subscribe(deviceID string, c *Client) {
	reg.mu.Lock()
	set, ok := reg.subscribers[deviceID]
	if !ok {
		set = make(map[*Client]struct{})
		reg.subscribers[deviceID] = set
	}
	set[c] = struct{}{}
	reg.mu.Unlock()

	reg.logger.Debug("client subscribed", "device_id", deviceID, "client_id", c.id)
}

// Unsubscribe removes a client from a device's subscriber set.
// Removing a client that is not subscribed is a no-op. Empty device entries
// are dropped so the map does not accumulate dead keys.
func (reg *ConnectionRegistry) Unsubscribe(deviceID string, c *Client) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	set, ok := reg.subscribers[deviceID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(reg.subscribers, deviceID)
	}
}

// Drop removes a client from every device's subscriber set.
// Returns true if the client was subscribed anywhere; the caller that
// receives true owns closing the client's send channel.
func (reg *ConnectionRegistry) Drop(c *Client) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	removed := false
	for deviceID, set := range reg.subscribers {
		if _, ok := set[c]; ok {
			delete(set, c)
			removed = true
			if len(set) == 0 {
				delete(reg.subscribers, deviceID)
			}
		}
	}
	return removed
}

// Broadcast delivers data to every client subscribed to the device, except
// the client whose ID matches excludeID (the originator of the change, which
// receives a direct acknowledgement instead).
//
// Delivery is best-effort: a client whose buffer is full or whose connection
// has gone away is evicted from the registry so one dead peer cannot block
// updates to the rest. Returns the number of successful deliveries.
func (reg *ConnectionRegistry) Broadcast(deviceID string, data []byte, excludeID string) int {
	// Snapshot the subscriber set under the read lock, then release it
	// before touching any client.
	reg.mu.RLock()
	clients := make([]*Client, 0, len(reg.subscribers[deviceID]))
	for c := range reg.subscribers[deviceID] {
		clients = append(clients, c)
	}
	reg.mu.RUnlock()

	sent := 0
	for _, c := range clients {
		if c.id == excludeID {
			continue
		}
		if c.trySend(data) {
			sent++
			continue
		}
		// Failed delivery: evict so the next broadcast doesn't retry a
		// dead or hopelessly slow client.
		reg.logger.Warn("evicting unresponsive client", "device_id", deviceID, "client_id", c.id)
		if reg.Drop(c) {
			close(c.send)
		}
		if c.conn != nil {
			c.conn.Close()
		}
	}
	return sent
}

// BroadcastAll delivers data to every connected client regardless of which
// device it watches. Used for service-wide announcements such as shutdown.
// Failed deliveries are evicted the same way as Broadcast.
func (reg *ConnectionRegistry) BroadcastAll(data []byte) int {
	reg.mu.RLock()
	seen := make(map[*Client]struct{})
	clients := make([]*Client, 0, len(reg.subscribers))
	for _, set := range reg.subscribers {
		for c := range set {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			clients = append(clients, c)
		}
	}
	reg.mu.RUnlock()

	sent := 0
	for _, c := range clients {
		if c.trySend(data) {
			sent++
			continue
		}
		reg.logger.Warn("evicting unresponsive client", "client_id", c.id)
		if reg.Drop(c) {
			close(c.send)
		}
		if c.conn != nil {
			c.conn.Close()
		}
	}
	return sent
}

// Subscribers returns the number of clients watching a device.
func (reg *ConnectionRegistry) Subscribers(deviceID string) int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.subscribers[deviceID])
}

// ClientCount returns the number of distinct connected clients.
func (reg *ConnectionRegistry) ClientCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	seen := make(map[*Client]struct{})
	for _, set := range reg.subscribers {
		for c := range set {
			seen[c] = struct{}{}
		}
	}
	return len(seen)
}

// closeAll evicts every client and closes their send channels so writePump
// goroutines can exit cleanly during shutdown.
func (reg *ConnectionRegistry) closeAll() {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	closed := make(map[*Client]struct{})
	for deviceID, set := range reg.subscribers {
		for c := range set {
			if _, done := closed[c]; !done {
				close(c.send)
				if c.conn != nil {
					c.conn.Close()
				}
				closed[c] = struct{}{}
			}
		}
		delete(reg.subscribers, deviceID)
	}
}
