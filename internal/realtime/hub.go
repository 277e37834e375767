package realtime

import (
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/buddychat/buddychat-api/internal/observability"
)

const sendBufferSize = 32

// Hub tracks live connections per user identity. Every connection a user
// holds (multi-device) joins the same channel and receives every event
// published to it. Delivery is best-effort: no channel, no delivery.
type Hub struct {
	mu       sync.RWMutex
	channels map[uint]map[*hubClient]struct{}
	log      zerolog.Logger
}

type hubClient struct {
	conn   *websocket.Conn
	send   chan Event
	userID uint
	subID  string
	hub    *Hub
	closed chan struct{}
	once   sync.Once
}

// NewHub creates an empty connection registry.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		channels: make(map[uint]map[*hubClient]struct{}),
		log:      logger.With().Str("component", "realtime_hub").Logger(),
	}
}

// ServeConnection registers an authenticated connection on its owner's
// channel, acknowledges it, and blocks until the connection closes.
func (h *Hub) ServeConnection(conn *websocket.Conn, userID uint, subscriptionID string) {
	if subscriptionID == "" {
		subscriptionID = "1"
	}

	client := &hubClient{
		conn:   conn,
		send:   make(chan Event, sendBufferSize),
		userID: userID,
		subID:  subscriptionID,
		hub:    h,
		closed: make(chan struct{}),
	}

	h.register(client)
	observability.ConnectionsTotal().Inc()

	client.send <- Event{Type: TypeConnectionAck}

	go client.writer()
	client.reader()
}

// Publish enqueues an event for every live connection of the user. An absent
// channel silently drops the event; a full client buffer drops it with a log.
func (h *Hub) Publish(userID uint, payload Payload) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.channels[userID]
	for client := range clients {
		event := Event{Type: TypeNext, ID: client.subID, Payload: &payload}
		select {
		case client.send <- event:
		default:
			h.log.Warn().
				Uint("user_id", userID).
				Str("operation", string(payload.Operation)).
				Msg("dropping event for slow client")
		}
	}
}

// Connections reports how many live connections a user currently holds.
func (h *Hub) Connections(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[userID])
}

func (h *Hub) register(client *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.channels[client.userID]; !exists {
		h.channels[client.userID] = make(map[*hubClient]struct{})
	}
	h.channels[client.userID][client] = struct{}{}
	h.log.Debug().Uint("user_id", client.userID).Msg("realtime client connected")
}

func (h *Hub) unregister(client *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.channels[client.userID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.channels, client.userID)
		}
	}
	h.log.Debug().Uint("user_id", client.userID).Msg("realtime client disconnected")
}

func (c *hubClient) reader() {
	defer c.close()

	// Inbound frames carry no mutations; the read loop only detects closure.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.hub.log.Debug().Err(err).Msg("realtime read loop ended")
			return
		}
	}
}

func (c *hubClient) writer() {
	defer c.close()

	for {
		select {
		case event, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				c.hub.log.Debug().Err(err).Msg("realtime write loop terminated")
				return
			}
		case <-time.After(30 * time.Second):
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.hub.log.Debug().Err(err).Msg("realtime ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *hubClient) close() {
	c.once.Do(func() {
		close(c.closed)
		c.hub.unregister(c)
		_ = c.conn.Close()
	})
}
