package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-webthing/internal/auth"
	"github.com/nerrad567/gray-logic-webthing/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-webthing/internal/thing"
)

// Inbound WebSocket message types.
const (
	WSTypeSetProperty          = "setProperty"
	WSTypeRequestAction        = "requestAction"
	WSTypeAddEventSubscription = "addEventSubscription"
	WSTypeError                = "error"
)

// Fallback WebSocket timings when the configuration leaves them unset.
const (
	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 10 * time.Second
	defaultSendBuffer   = 256

	// wsRequestTimeout bounds a property write issued over a WebSocket.
	wsRequestTimeout = 10 * time.Second
)

// wsRequest is an inbound frame: {"messageType": ..., "data": {...}}.
type wsRequest struct {
	MessageType string                     `json:"messageType"`
	Data        map[string]json.RawMessage `json:"data"`
}

// Hub tracks open WebSocket connections so they can be counted and closed
// on shutdown. Notifications do not pass through the hub; each client is
// subscribed directly to its Thing.
type Hub struct {
	logger  *logging.Logger
	gauge   prometheus.Gauge
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// NewHub creates a new WebSocket hub. gauge may be nil.
func NewHub(logger *logging.Logger, gauge prometheus.Gauge) *Hub {
	return &Hub{
		logger:  logger,
		gauge:   gauge,
		clients: make(map[*WSClient]struct{}),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	if h.gauge != nil {
		h.gauge.Set(float64(count))
	}
	h.logger.Debug("websocket client connected", "client_id", client.id, "clients", count)
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	delete(h.clients, client)
	count := len(h.clients)
	h.mu.Unlock()

	if h.gauge != nil {
		h.gauge.Set(float64(count))
	}
	h.logger.Debug("websocket client disconnected", "client_id", client.id, "clients", count)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll closes every client's queue so its writePump sends a close
// frame and exits.
func (h *Hub) closeAll() {
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.queue.Close()
	}
}

// WSClient is one WebSocket connection subscribed to one Thing.
//
// It implements thing.Subscriber. Notifications go into a bounded queue
// drained by writePump; when the queue is full the Thing drops the client
// and the connection is closed.
type WSClient struct {
	id     string
	hub    *Hub
	server *Server
	thing  *thing.Thing
	conn   *websocket.Conn
	queue  *thing.ChanSubscriber
	claims *auth.Claims

	kicked   chan struct{}
	kickOnce sync.Once
}

// ID implements thing.Subscriber.
func (c *WSClient) ID() string {
	return c.id
}

// Send implements thing.Subscriber.
func (c *WSClient) Send(msg thing.Message) error {
	if err := c.queue.Send(msg); err != nil {
		c.kick()
		return err
	}
	return nil
}

// kick asks writePump to close a client that fell behind.
func (c *WSClient) kick() {
	c.kickOnce.Do(func() { close(c.kicked) })
}

// handleWebSocket upgrades the request to a WebSocket subscribed to t.
// Authentication and the thing:read permission were checked by middleware.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, t *thing.Thing) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.isAllowedOrigin(origin)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			"error", err,
			"request_id", requestIDFrom(r.Context()),
		)
		return
	}

	buffer := s.cfg.WebSocket.SendBuffer
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	id := "ws-" + uuid.NewString()
	client := &WSClient{
		id:     id,
		hub:    s.hub,
		server: s,
		thing:  t,
		conn:   conn,
		queue:  thing.NewChanSubscriber(id, buffer),
		claims: auth.ClaimsFromContext(r.Context()),
		kicked: make(chan struct{}),
	}

	s.hub.Register(client)
	t.Subscribe(client)

	go client.writePump()
	go client.readPump()
}

// timings returns the ping interval and pong timeout.
func (c *WSClient) timings() (time.Duration, time.Duration) {
	ping, pong := c.server.cfg.GetPingInterval(), c.server.cfg.GetPongTimeout()
	if ping <= 0 {
		ping = defaultPingInterval
	}
	if pong <= 0 {
		pong = defaultPongTimeout
	}
	return ping, pong
}

// readPump reads frames until the connection fails, then tears the
// client down.
func (c *WSClient) readPump() {
	defer func() {
		c.thing.Unsubscribe(c.id)
		c.queue.Close()
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	if limit := c.server.cfg.WebSocket.MaxMessageSize; limit > 0 {
		c.conn.SetReadLimit(int64(limit))
	}
	pingInterval, pongWait := c.timings()
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "client_id", c.id, "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "client_id", c.id, "error", err)
			}
			return
		}
		// Any client message resets the read deadline.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump drains the queue onto the connection and sends pings.
func (c *WSClient) writePump() {
	pingInterval, pongWait := c.timings()
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.queue.Messages():
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(pongWait))
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				c.hub.logger.Error("failed to marshal websocket message", "client_id", c.id, "error", err)
				continue
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.kicked:
			c.hub.logger.Warn("websocket client too slow, disconnecting", "client_id", c.id)
			//nolint:errcheck // Best-effort close message
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "send queue full"),
				time.Now().Add(pongWait))
			return
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches one inbound frame.
func (c *WSClient) handleMessage(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError(http.StatusBadRequest, "Parsing request failed")
		return
	}
	if req.MessageType == "" || req.Data == nil {
		c.sendError(http.StatusBadRequest, "Invalid message")
		return
	}

	switch req.MessageType {
	case WSTypeSetProperty:
		c.handleSetProperty(req.Data)
	case WSTypeRequestAction:
		c.handleRequestAction(req.Data)
	case WSTypeAddEventSubscription:
		c.handleAddEventSubscription(req.Data)
	default:
		c.sendError(http.StatusBadRequest, "Unknown messageType: "+req.MessageType)
	}
}

// handleSetProperty applies each {name: value} pair. The resulting
// propertyStatus notification is the acknowledgement.
func (c *WSClient) handleSetProperty(data map[string]json.RawMessage) {
	if !c.can(auth.PermPropertyWrite) {
		return
	}
	for name, raw := range data {
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			c.sendError(http.StatusBadRequest, fmt.Sprintf("Invalid value for %s", name))
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), wsRequestTimeout)
		_, err := c.thing.SetProperty(ctx, name, value)
		cancel()
		if err != nil {
			c.sendThingError(err)
		}
	}
}

// handleRequestAction requests each {name: {"input": ...}} action.
func (c *WSClient) handleRequestAction(data map[string]json.RawMessage) {
	if !c.can(auth.PermActionRequest) {
		return
	}
	for name, raw := range data {
		var req actionRequest
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &req); err != nil {
				c.sendError(http.StatusBadRequest, "Invalid action request")
				continue
			}
		}
		if _, err := c.thing.RequestAction(name, req.Input); err != nil {
			c.sendThingError(err)
		}
	}
}

// handleAddEventSubscription restricts this client to the named events.
func (c *WSClient) handleAddEventSubscription(data map[string]json.RawMessage) {
	if !c.can(auth.PermThingRead) {
		return
	}
	for name := range data {
		if err := c.thing.SubscribeEvent(c.id, name); err != nil {
			c.sendThingError(err)
		}
	}
}

// can checks perm and reports a 403 frame when it is missing.
func (c *WSClient) can(perm auth.Permission) bool {
	if !c.server.cfg.Security.JWT.Enabled || c.claims.Can(perm) {
		return true
	}
	c.sendError(http.StatusForbidden, fmt.Sprintf("permission %s required", perm))
	return false
}

// sendThingError reports a runtime error as an error frame.
func (c *WSClient) sendThingError(err error) {
	status, _ := classifyError(err)
	if status == http.StatusInternalServerError {
		c.hub.logger.Error("websocket request failed", "client_id", c.id, "error", err)
		c.sendError(status, "internal server error")
		return
	}
	c.sendError(status, err.Error())
}

// sendError queues an error frame. Errors share the notification queue so
// they stay ordered with the notifications around them.
func (c *WSClient) sendError(status int, message string) {
	err := c.Send(thing.Message{
		ThingID:     c.thing.ID(),
		MessageType: WSTypeError,
		Data: map[string]any{
			"status":  fmt.Sprintf("%d %s", status, http.StatusText(status)),
			"message": message,
		},
	})
	if err != nil && !errors.Is(err, thing.ErrSubscriberClosed) {
		c.hub.logger.Debug("websocket error frame dropped", "client_id", c.id, "error", err)
	}
}
