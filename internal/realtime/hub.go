package realtime

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

type Client struct {
	ID       string
	Send     chan []byte
	ClinicID string
}

// Hub tracks connected clients and the clinic each one follows.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  zerolog.Logger
}

type SubscribeMessage struct {
	Action   string `json:"action"`
	ClinicID string `json:"clinic_id"`
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

// Unregister removes the client and closes its Send channel. It returns the
// clinic the client was following.
func (h *Hub) Unregister(client *Client) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return ""
	}
	delete(h.clients, client.ID)
	close(client.Send)
	return client.ClinicID
}

// UpdateSubscription points the client at clinicID (empty to unsubscribe)
// and returns the clinic it followed before.
func (h *Hub) UpdateSubscription(client *Client, clinicID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	previous := client.ClinicID
	client.ClinicID = clinicID
	return previous
}

// Broadcast queues payload for every client following clinicID. A client
// whose buffer is full misses the message.
func (h *Hub) Broadcast(payload []byte, clinicID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.ClinicID == "" || client.ClinicID != clinicID {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			h.logger.Warn().Str("client_id", client.ID).Str("clinic_id", clinicID).Msg("drop message for slow client")
		}
	}
}

// Send queues payload for one client.
func (h *Hub) Send(client *Client, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	select {
	case client.Send <- payload:
	default:
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	msg.ClinicID = strings.TrimSpace(msg.ClinicID)
	switch msg.Action {
	case "subscribe":
		return msg, msg.ClinicID != ""
	case "unsubscribe":
		return msg, true
	}
	return SubscribeMessage{}, false
}
