package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medcrm/medcrm/internal/platform/auth"
)

func newClient(id string, topics ...string) *Client {
	return &Client{ID: id, Topics: topics, Send: make(chan []byte, sendBuffer)}
}

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	topic := QueueTopic(uuid.New())
	client := newClient("c1", topic)

	hub.Register(client)
	if hub.ClientCount() != 1 || hub.TopicCount(topic) != 1 {
		t.Fatalf("expected client registered on %s", topic)
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 || hub.TopicCount(topic) != 0 {
		t.Fatalf("expected client removed")
	}
	if _, ok := <-client.Send; ok {
		t.Error("expected Send channel to be closed")
	}

	// second unregister is a no-op
	hub.Unregister(client)
}

func TestHub_BroadcastOnlyToTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	clinicA, clinicB := uuid.New(), uuid.New()
	subA := newClient("a", QueueTopic(clinicA))
	subB := newClient("b", QueueTopic(clinicB))
	hub.Register(subA)
	hub.Register(subB)

	hub.Broadcast(QueueTopic(clinicA), Event{Type: "queue.called", Topic: QueueTopic(clinicA), ResourceID: "e1"})

	select {
	case msg := <-subA.Send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev.Type != "queue.called" || ev.ResourceID != "e1" {
			t.Errorf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("expected subscriber of clinic A to receive the event")
	}

	select {
	case <-subB.Send:
		t.Fatal("clinic B should not receive clinic A events")
	default:
	}
}

func TestHub_BroadcastDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	topic := QueueTopic(uuid.New())
	client := &Client{ID: "slow", Topics: []string{topic}, Send: make(chan []byte, 1)}
	hub.Register(client)

	hub.Broadcast(topic, Event{Type: "one"})
	hub.Broadcast(topic, Event{Type: "two"})

	if len(client.Send) != 1 {
		t.Fatalf("expected exactly one buffered message, got %d", len(client.Send))
	}
	if hub.dropped.Load() != 1 {
		t.Errorf("expected one dropped event, got %d", hub.dropped.Load())
	}
}

func TestHub_PublishStampsTimestamp(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	topic := QueueTopic(uuid.New())
	client := newClient("c", topic)
	hub.Register(client)

	if err := hub.Publish(context.Background(), Event{Type: "queue.created", Topic: topic}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var ev Event
	if err := json.Unmarshal(<-client.Send, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	topic := QueueTopic(uuid.New())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newClient(uuid.NewString(), topic)
			hub.Register(c)
			hub.Broadcast(topic, Event{Type: "tick"})
			hub.Unregister(c)
		}()
	}
	wg.Wait()

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestQueueBoardHandler_RequiresWebSocket(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	h := NewQueueBoardHandler(hub, zerolog.Nop(), nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws/queue", nil)
	req = req.WithContext(auth.WithUser(req.Context(), uuid.NewString(), []string{auth.RoleClinic}))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	_ = h.HandleConnect(c)
	if hub.ClientCount() != 0 {
		t.Error("plain HTTP request must not register a client")
	}
}

func TestQueueBoardHandler_InvalidClinicID(t *testing.T) {
	h := NewQueueBoardHandler(NewHub(zerolog.Nop()), zerolog.Nop(), nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws/queue?clinic_id=nope", nil)
	req = req.WithContext(auth.WithUser(req.Context(), uuid.NewString(), []string{auth.RoleClinic}))
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.HandleConnect(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestQueueBoardHandler_FullUpgrade(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	h := NewQueueBoardHandler(hub, zerolog.Nop(), []string{"*"})
	clinicID := uuid.New()

	e := echo.New()
	g := e.Group("", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithUser(c.Request().Context(), clinicID.String(), []string{auth.RoleClinic})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	h.RegisterRoutes(g)

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/queue"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	topic := QueueTopic(clinicID)
	deadline := time.Now().Add(2 * time.Second)
	for hub.TopicCount(topic) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.TopicCount(topic) != 1 {
		t.Fatalf("expected subscriber on %s", topic)
	}

	hub.Broadcast(topic, Event{Type: "queue.created", Topic: topic, ResourceID: "entry-1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if received.Type != "queue.created" || received.ResourceID != "entry-1" {
		t.Fatalf("unexpected event: %+v", received)
	}
}
