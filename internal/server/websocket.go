package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kode4food/caravan/topic"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/events"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/log"
)

type (
	// Client represents a WebSocket client connection for event streaming
	Client struct {
		conn     *websocket.Conn
		consumer topic.Consumer[*api.Event]
		filter   events.EventFilter
		getState StateFunc
	}

	// StateFunc retrieves the current projected engine state
	StateFunc func() *api.EngineState
)

const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	maxMessageSize     = 512
	wsBufferSize       = 1024
	incomingBufferSize = 16

	subscribeType  = "subscribe"
	subscribedType = "subscribed"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleWebSocket upgrades an HTTP connection to WebSocket and starts
// streaming events based on client subscriptions. It returns the client,
// or nil when the upgrade failed
func HandleWebSocket(
	hub *events.Hub, w http.ResponseWriter, r *http.Request, st StateFunc,
) *Client {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed",
			log.Error(err))
		return nil
	}

	return &Client{
		conn:     conn,
		consumer: hub.NewConsumer(),
		filter:   func(*api.Event) bool { return false },
		getState: st,
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	var st StateFunc
	if s.projection != nil {
		st = s.projection.State
	}
	client := HandleWebSocket(s.engine.Events(), c.Writer, c.Request, st)
	if client == nil {
		return
	}
	s.registerWebSocket(client)
	go func() {
		defer s.unregisterWebSocket(client)
		client.run()
	}()
}

// Close terminates the client connection, ending its event stream
func (c *Client) Close() {
	_ = c.conn.Close()
}

func (c *Client) run() {
	defer func() {
		c.consumer.Close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	incoming := make(chan []byte, incomingBufferSize)
	go c.readMessages(incoming)

	for {
		select {
		case message, ok := <-incoming:
			if !ok {
				return
			}
			c.handleSubscribe(message)

		case event, ok := <-c.consumer.Receive():
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.sendEventIfMatched(event) {
				return
			}

		case <-ticker.C:
			if !c.sendPing() {
				return
			}
		}
	}
}

func (c *Client) readMessages(incoming chan []byte) {
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			close(incoming)
			return
		}
		incoming <- message
	}
}

func (c *Client) handleSubscribe(message []byte) {
	var sub api.SubscribeRequest
	if err := json.Unmarshal(message, &sub); err != nil {
		slog.Error("Failed to parse WebSocket message",
			log.Error(err))
		return
	}

	if sub.Type != subscribeType {
		return
	}

	c.filter = events.BuildFilter(&sub.Data)
	c.sendSubscribeState(sub.Data.InstanceIDs)
}

func (c *Client) sendSubscribeState(ids []api.WorkflowInstanceID) {
	if c.getState == nil {
		return
	}

	state := c.getState()
	if len(ids) > 0 {
		next := *state
		next.ActiveInstances = map[api.WorkflowInstanceID]*api.ActiveInstanceInfo{}
		for _, id := range ids {
			if info, ok := state.ActiveInstances[id]; ok {
				next.ActiveInstances[id] = info
			}
		}
		state = &next
	}

	data, err := json.Marshal(state)
	if err != nil {
		slog.Error("Failed to marshal state",
			log.Error(err))
		return
	}

	msg := api.SubscribedResult{
		Type:        subscribedType,
		InstanceIDs: ids,
		Data:        data,
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		slog.Error("WebSocket write failed",
			slog.String("context", subscribedType),
			log.Error(err))
	}
}

func (c *Client) sendEventIfMatched(event *api.Event) bool {
	if !c.filter(event) {
		return true
	}

	wsEvent := &api.WebSocketEvent{
		Type:      event.Type,
		Data:      event.Data,
		Timestamp: event.Timestamp.UnixMilli(),
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(wsEvent); err != nil {
		slog.Error("WebSocket write failed",
			log.Error(err))
		return false
	}
	return true
}

func (c *Client) sendPing() bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(websocket.PingMessage, nil)
	return err == nil
}
