package websocket

import (
	"encoding/json"
	"log"
	"sync"
)

// Hub tracks connected devices per user and pushes sync events to them.
type Hub struct {
	// users maps userID -> deviceID -> client
	users map[string]map[string]*Client

	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		users:      make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			devices, ok := h.users[client.UserID]
			if !ok {
				devices = make(map[string]*Client)
				h.users[client.UserID] = devices
			}
			// A device reconnecting replaces its old connection.
			if old, exists := devices[client.DeviceID]; exists {
				close(old.send)
			}
			devices[client.DeviceID] = client
			log.Printf("ws: device connected user=%s device=%s", client.UserID, client.DeviceID)
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if devices, ok := h.users[client.UserID]; ok {
				if current, exists := devices[client.DeviceID]; exists && current == client {
					delete(devices, client.DeviceID)
					close(client.send)
					log.Printf("ws: device disconnected user=%s device=%s", client.UserID, client.DeviceID)
				}
				if len(devices) == 0 {
					delete(h.users, client.UserID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// SyncEvent tells a device that another device finished a sync and a pull
// would pick up fresh state.
type SyncEvent struct {
	Type       string `json:"type"`
	DeviceID   string `json:"deviceId"`
	ServerTime int64  `json:"serverTime"`
}

// NotifySync pushes a sync_completed event to every device of userID except
// the one that triggered the merge. Implements reconciler.Notifier.
func (h *Hub) NotifySync(userID, sourceDevice string, serverTime int64) {
	msg, err := json.Marshal(SyncEvent{
		Type:       "sync_completed",
		DeviceID:   sourceDevice,
		ServerTime: serverTime,
	})
	if err != nil {
		log.Printf("ws: marshal sync event: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for deviceID, client := range h.users[userID] {
		if deviceID == sourceDevice {
			continue
		}
		select {
		case client.send <- msg:
		default:
			// Buffer full or client dead; the next poll catches up.
		}
	}
}

// ConnectedDevices returns the number of live connections for a user.
func (h *Hub) ConnectedDevices(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}
