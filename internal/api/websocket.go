package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-pioneer/internal/auth"
	"github.com/nerrad567/gray-logic-pioneer/internal/bridges/pioneer"
	"github.com/nerrad567/gray-logic-pioneer/internal/infrastructure/config"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypeCommand     = "command"
	WSTypeAck         = "ack"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// EventReceiverStateChanged carries a pioneer.StateMessage payload.
	EventReceiverStateChanged = "receiver.state_changed"
)

// wsQueueSize is the per-session outbound queue length. Events beyond it
// are dropped for that session.
const wsQueueSize = 256

// WSMessage is the envelope for every frame the server sends.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsRequest is an incoming frame. Payload is decoded per type.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe and unsubscribe.
// DeviceIDs narrows receiver events to the listed receivers; an empty
// filter means all receivers.
type WSSubscribePayload struct {
	Channels  []string `json:"channels"`
	DeviceIDs []string `json:"device_ids,omitempty"`
}

// WSCommandPayload is the payload of a command frame.
type WSCommandPayload struct {
	DeviceID   string         `json:"device_id"`
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// wsLimits are the effective read limit and keepalive timings.
type wsLimits struct {
	maxMessage int64
	ping       time.Duration
	pongWait   time.Duration
}

// limitsFrom fills zero config values with defaults so a bare
// WebSocketConfig never yields a zero ticker interval.
func limitsFrom(cfg config.WebSocketConfig) wsLimits {
	l := wsLimits{
		maxMessage: 8192,
		ping:       30 * time.Second,
		pongWait:   10 * time.Second,
	}
	if cfg.MaxMessageSize > 0 {
		l.maxMessage = int64(cfg.MaxMessageSize)
	}
	if cfg.PingInterval > 0 {
		l.ping = time.Duration(cfg.PingInterval) * time.Second
	}
	if cfg.PongTimeout > 0 {
		l.pongWait = time.Duration(cfg.PongTimeout) * time.Second
	}
	return l
}

func (l wsLimits) readDeadline() time.Time {
	return time.Now().Add(l.ping + l.pongWait)
}

// Origin is enforced by the CORS middleware, not the upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsSession is one upgraded connection.
type wsSession struct {
	hub     *Hub
	conn    *websocket.Conn
	service ReceiverService
	limits  wsLimits
	out     chan []byte

	subject string
	role    auth.Role

	// ctx is cancelled when the read loop exits; in-flight commands use it.
	ctx      context.Context
	cancel   context.CancelFunc
	commands sync.WaitGroup

	mu       sync.RWMutex
	channels map[string]struct{}
	devices  map[string]struct{}
}

// handleWebSocket authenticates from ?token= (a JWT) or ?ticket= (from
// POST /auth/ws-ticket) and upgrades the connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, reason := s.wsClaims(r)
	if claims == nil {
		writeUnauthorized(w, reason)
		return
	}
	if !claims.Role.Can(auth.PermReceiverRead) {
		writeForbidden(w, "role cannot read receivers")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &wsSession{
		hub:      s.hub,
		conn:     conn,
		service:  s.service,
		limits:   limitsFrom(s.wsCfg),
		out:      make(chan []byte, wsQueueSize),
		subject:  claims.Subject,
		role:     claims.Role,
		ctx:      ctx,
		cancel:   cancel,
		channels: make(map[string]struct{}),
		devices:  make(map[string]struct{}),
	}
	s.hub.add(sess)

	go sess.writeLoop()
	go sess.readLoop()
}

// wsClaims returns the caller's claims, or nil and a reason.
func (s *Server) wsClaims(r *http.Request) (*auth.Claims, string) {
	query := r.URL.Query()
	if token := query.Get("token"); token != "" {
		claims, err := auth.ParseToken(token, s.secCfg.JWT.Secret)
		if err != nil {
			return nil, "invalid or expired token"
		}
		return claims, ""
	}
	if ticket := query.Get("ticket"); ticket != "" {
		claims, ok := s.tickets.redeem(ticket)
		if !ok {
			return nil, "invalid or expired ticket"
		}
		return claims, ""
	}
	return nil, "token or ticket query parameter is required"
}

func (c *wsSession) readLoop() {
	defer func() {
		c.cancel()
		c.commands.Wait()
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.limits.maxMessage)
	//nolint:errcheck // the next read surfaces a broken conn
	c.conn.SetReadDeadline(c.limits.readDeadline())
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(c.limits.readDeadline())
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read failed", "subject", c.subject, "error", err)
			}
			return
		}
		//nolint:errcheck // any frame proves the peer is alive
		c.conn.SetReadDeadline(c.limits.readDeadline())
		c.dispatch(frame)
	}
}

func (c *wsSession) writeLoop() {
	keepalive := time.NewTicker(c.limits.ping)
	defer func() {
		keepalive.Stop()
		c.conn.Close()
	}()

	for {
		var (
			kind int
			data []byte
		)
		select {
		case frame, open := <-c.out:
			if !open {
				//nolint:errcheck // connection is going away regardless
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			kind, data = websocket.TextMessage, frame
		case <-keepalive.C:
			kind = websocket.PingMessage
		}
		//nolint:errcheck // write error is checked below
		c.conn.SetWriteDeadline(time.Now().Add(c.limits.pongWait))
		if err := c.conn.WriteMessage(kind, data); err != nil {
			return
		}
	}
}

func (c *wsSession) dispatch(frame []byte) {
	var req wsRequest
	if err := json.Unmarshal(frame, &req); err != nil {
		c.fail("", "invalid JSON message")
		return
	}

	switch req.Type {
	case WSTypeSubscribe:
		c.subscribe(req)
	case WSTypeUnsubscribe:
		c.unsubscribe(req)
	case WSTypeCommand:
		c.command(req)
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	default:
		c.fail(req.ID, "unknown message type: "+req.Type)
	}
}

func (c *wsSession) subscribe(req wsRequest) {
	var sub WSSubscribePayload
	if err := decodePayload(req.Payload, &sub); err != nil {
		c.fail(req.ID, "invalid subscribe payload")
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		c.channels[ch] = struct{}{}
	}
	for _, id := range sub.DeviceIDs {
		c.devices[id] = struct{}{}
	}
	c.mu.Unlock()

	c.hub.logger.Debug("websocket subscribed",
		"subject", c.subject,
		"channels", sub.Channels,
		"device_ids", sub.DeviceIDs,
	)

	// Current state lets the client render before the next change arrives.
	snapshot := make([]pioneer.ReceiverStatus, 0)
	for _, status := range c.service.Receivers() {
		if c.wants(EventReceiverStateChanged, status.ID) {
			snapshot = append(snapshot, status)
		}
	}
	c.reply(req.ID, WSTypeResponse, map[string]any{
		"subscribed": sub.Channels,
		"device_ids": sub.DeviceIDs,
		"receivers":  snapshot,
	})
}

func (c *wsSession) unsubscribe(req wsRequest) {
	var sub WSSubscribePayload
	if err := decodePayload(req.Payload, &sub); err != nil {
		c.fail(req.ID, "invalid unsubscribe payload")
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		delete(c.channels, ch)
	}
	for _, id := range sub.DeviceIDs {
		delete(c.devices, id)
	}
	c.mu.Unlock()

	c.reply(req.ID, WSTypeResponse, map[string]any{
		"unsubscribed": sub.Channels,
		"device_ids":   sub.DeviceIDs,
	})
}

// command runs a receiver command off the read loop and replies with the
// ack once the bridge is done with it.
func (c *wsSession) command(req wsRequest) {
	if !c.role.Can(auth.PermReceiverControl) {
		c.fail(req.ID, "role cannot control receivers")
		return
	}

	var p WSCommandPayload
	dec := json.NewDecoder(bytes.NewReader(req.Payload))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		c.fail(req.ID, "invalid command payload")
		return
	}
	if p.DeviceID == "" || p.Command == "" {
		c.fail(req.ID, "device_id and command are required")
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	cmd := pioneer.CommandMessage{
		ID:         id,
		Timestamp:  time.Now().UTC(),
		DeviceID:   p.DeviceID,
		Command:    p.Command,
		Parameters: p.Parameters,
		Source:     "websocket",
		UserID:     c.subject,
	}

	c.commands.Add(1)
	go func() {
		defer c.commands.Done()
		ack := c.service.Execute(c.ctx, cmd)
		c.reply(req.ID, WSTypeAck, ack)
	}()
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// wants reports whether an event on channel about deviceID should reach
// this session.
func (c *wsSession) wants(channel, deviceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.channels[channel]; !ok {
		return false
	}
	if deviceID == "" || len(c.devices) == 0 {
		return true
	}
	_, ok := c.devices[deviceID]
	return ok
}

// enqueue never blocks. A full queue drops the frame, and a queue closed
// by the hub during shutdown is tolerated.
func (c *wsSession) enqueue(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on closed queue during shutdown
	}()

	select {
	case c.out <- data:
	default:
		c.hub.logger.Debug("websocket queue full, frame dropped", "subject", c.subject)
	}
}

func (c *wsSession) reply(id, kind string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      kind,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		c.hub.logger.Error("failed to encode websocket reply", "type", kind, "error", err)
		return
	}
	c.enqueue(data)
}

func (c *wsSession) fail(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
