// Package websocket pushes live queue changes to clinic screens. Clients
// subscribe to topics and receive every event broadcast to those topics.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medcrm/medcrm/internal/platform/auth"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Event is one change pushed to subscribers.
type Event struct {
	Type       string          `json:"type"`
	Topic      string          `json:"topic"`
	ClinicID   string          `json:"clinic_id,omitempty"`
	ResourceID string          `json:"resource_id,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Publisher is implemented by Hub; services depend on it so tests can record events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// QueueTopic is the topic carrying queue events of one clinic.
func QueueTopic(clinicID uuid.UUID) string {
	return "queue:" + clinicID.String()
}

// Client is one websocket connection.
type Client struct {
	ID     string
	Topics []string
	Send   chan []byte
}

// Hub tracks connected clients and their topic subscriptions.
type Hub struct {
	mu      sync.RWMutex
	topics  map[string]map[*Client]struct{}
	all     map[*Client]struct{}
	logger  zerolog.Logger
	dropped atomic.Int64
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		topics: make(map[string]map[*Client]struct{}),
		all:    make(map[*Client]struct{}),
		logger: logger,
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		if h.topics[topic] == nil {
			h.topics[topic] = make(map[*Client]struct{})
		}
		h.topics[topic][client] = struct{}{}
	}
}

// Unregister removes the client from every topic and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		if subs, ok := h.topics[topic]; ok {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	delete(h.all, client)
	close(client.Send)
}

// Broadcast delivers event to every subscriber of topic. Slow clients with a
// full buffer miss the event instead of blocking the caller.
func (h *Hub) Broadcast(topic string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("marshal websocket event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.topics[topic] {
		select {
		case client.Send <- data:
		default:
			h.dropped.Add(1)
			h.logger.Warn().Str("client_id", client.ID).Str("topic", topic).Msg("websocket buffer full, event dropped")
		}
	}
}

// Publish broadcasts to the event's topic.
func (h *Hub) Publish(_ context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	h.Broadcast(event.Topic, event)
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// QueueBoardHandler upgrades /ws/queue requests and streams the queue of one clinic.
type QueueBoardHandler struct {
	hub      *Hub
	logger   zerolog.Logger
	upgrader gorillawebsocket.Upgrader
}

// NewQueueBoardHandler accepts upgrades from allowedOrigins; "*" or an empty
// list accepts any origin.
func NewQueueBoardHandler(hub *Hub, logger zerolog.Logger, allowedOrigins []string) *QueueBoardHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	anyOrigin := len(allowedOrigins) == 0
	for _, o := range allowedOrigins {
		if o == "*" {
			anyOrigin = true
		}
		allowed[o] = true
	}
	return &QueueBoardHandler{
		hub:    hub,
		logger: logger,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return anyOrigin || origin == "" || allowed[origin]
			},
		},
	}
}

// RegisterRoutes mounts the board on an authenticated group.
func (h *QueueBoardHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws/queue", h.HandleConnect, auth.RequireRole(auth.RoleClinic))
}

// HandleConnect subscribes the connection to the queue of ?clinic_id, or of
// the authenticated clinic when the parameter is absent.
func (h *QueueBoardHandler) HandleConnect(c echo.Context) error {
	clinicID, err := auth.ActorID(c)
	if err != nil {
		return err
	}
	if raw := c.QueryParam("clinic_id"); raw != "" {
		clinicID, err = uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic_id")
		}
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:     uuid.NewString(),
		Topics: []string{QueueTopic(clinicID)},
		Send:   make(chan []byte, sendBuffer),
	}
	h.hub.Register(client)
	h.logger.Debug().Str("client_id", client.ID).Str("clinic_id", clinicID.String()).Msg("queue board connected")

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

// readPump only drains control frames; the board is push-only.
func (h *QueueBoardHandler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(512)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *QueueBoardHandler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
