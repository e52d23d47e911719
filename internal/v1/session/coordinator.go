// Package session implements spec.md §4.D's ConnectionCoordinator: the
// WebSocket transport that binds a socket to a session, runs the heartbeat,
// decodes/encodes the JSON envelope protocol, and dispatches requests to
// AuthService/UserService/RoomService wrapped in PluginHook.
//
// Grounded on the teacher's internal/v1/session/hub.go (ServeWs's JWT-gated
// upgrade, origin checking, WriteBufferPool) and internal/v1/session/client.go
// (the readPump/writePump goroutine pair, buffered send channel). The wire
// format is generalized from the teacher's protobuf pb.WebSocketMessage to
// a JSON envelope (spec.md §6); the teacher's session package has no real
// ping/pong heartbeat to ground on (session/room.go's EventPing case is a
// silent no-op), so HeartbeatInterval/HeartbeatTimeout follow the standard
// gorilla/websocket ping/pong recipe instead.
package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/yummyio/yummy/internal/v1/authservice"
	"github.com/yummyio/yummy/internal/v1/bus"
	"github.com/yummyio/yummy/internal/v1/logging"
	"github.com/yummyio/yummy/internal/v1/model"
	"github.com/yummyio/yummy/internal/v1/plugin"
	"github.com/yummyio/yummy/internal/v1/roomservice"
	"github.com/yummyio/yummy/internal/v1/statestore"
	"github.com/yummyio/yummy/internal/v1/userservice"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// wsConnection narrows *websocket.Conn to what Coordinator needs, the same
// seam the teacher cuts in session/client.go so tests can inject a fake.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// connection is the (socket, session) binding spec.md §4.D describes. It
// starts unbound (no user/session) until the first successful Auth*/Restore
// envelope. While unbound, the Auth* types, RefreshToken, RestoreToken,
// RoomListRequest and GetRoomRequest (at anonymous access) are served; every
// other envelope type is answered with TokenNotValid.
type connection struct {
	conn wsConnection
	send chan []byte

	mu      sync.RWMutex
	userID  model.UserID
	session model.SessionID
	closed  bool
}

func (c *connection) bind(userID model.UserID, session model.SessionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID, c.session = userID, session
}

func (c *connection) identity() (model.UserID, model.SessionID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID, c.session, c.session != ""
}

func (c *connection) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *connection) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *connection) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "connection send buffer full, dropping message")
	}
}

// Coordinator is spec.md §4.D's ConnectionCoordinator.
type Coordinator struct {
	auth    *authservice.Service
	users   *userservice.Service
	rooms   *roomservice.Service
	store   statestore.StateStore
	bus     bus.MessageBus
	plugins *plugin.Host

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	allowedOrigins    []string

	mu    sync.Mutex
	conns map[model.SessionID]*connection
}

// NewCoordinator wires the three domain services plus the plugin host
// behind a single WebSocket endpoint.
func NewCoordinator(authSvc *authservice.Service, users *userservice.Service, rooms *roomservice.Service, store statestore.StateStore, messageBus bus.MessageBus, plugins *plugin.Host, heartbeatInterval, heartbeatTimeout time.Duration, allowedOrigins []string) *Coordinator {
	return &Coordinator{
		auth:              authSvc,
		users:             users,
		rooms:             rooms,
		store:             store,
		bus:               messageBus,
		plugins:           plugins,
		heartbeatInterval: heartbeatInterval,
		heartbeatTimeout:  heartbeatTimeout,
		allowedOrigins:    allowedOrigins,
		conns:             make(map[model.SessionID]*connection),
	}
}

func (co *Coordinator) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range co.allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return true
		}
	}
	return false
}

// ServeWs upgrades the HTTP request to a WebSocket and starts the
// connection's read/write pumps. Authentication happens over the socket
// protocol itself (an Auth* envelope), except for the optional `token`
// query parameter used to restore a still-online session immediately on
// reconnect, the same "token on the wire, upgrade first" shape as the
// teacher's ServeWs.
func (co *Coordinator) ServeWs(c *gin.Context) {
	upgrader := websocket.Upgrader{
		CheckOrigin: co.checkOrigin,
		WriteBufferPool: &sync.Pool{
			New: func() any { return make([]byte, 4096) },
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	wc := &connection{conn: conn, send: make(chan []byte, 256)}
	go co.writePump(wc)

	if token := c.Query("token"); token != "" {
		co.handleRestore(c.Request.Context(), wc, token)
	}

	co.readPump(wc)
}

func (co *Coordinator) handleRestore(ctx context.Context, wc *connection, token string) {
	result, err := co.auth.RestoreToken(ctx, token)
	if err != nil {
		return
	}
	co.registerSession(wc, result.UserID, result.SessionID)
	co.sendEvent(wc, "RestoreToken", "", map[string]any{
		"token": result.Token, "user_id": result.UserID, "session_id": result.SessionID,
	})
}

func (co *Coordinator) registerSession(wc *connection, userID model.UserID, session model.SessionID) {
	wc.bind(userID, session)

	co.mu.Lock()
	co.conns[session] = wc
	co.mu.Unlock()

	co.bus.SubscribeUser(context.Background(), string(userID), func(p bus.PubSubPayload) {
		if wc.isClosed() {
			return
		}
		if p.Event == authservice.EventUserConnected || p.Event == authservice.EventRoomUserDisconnect {
			return
		}
		env := map[string]any{"type": p.Event, "status": true}
		if len(p.Payload) > 0 {
			var fields map[string]any
			if err := json.Unmarshal(p.Payload, &fields); err == nil {
				for k, v := range fields {
					env[k] = v
				}
			}
		}
		data, err := json.Marshal(env)
		if err != nil {
			return
		}
		wc.enqueue(data)
	})
}

func (co *Coordinator) readPump(wc *connection) {
	defer func() {
		co.handleDisconnect(wc)
		wc.conn.Close()
		wc.markClosed()
		close(wc.send)
	}()

	wc.conn.SetReadDeadline(time.Now().Add(co.heartbeatTimeout))
	wc.conn.SetPongHandler(func(string) error {
		wc.conn.SetReadDeadline(time.Now().Add(co.heartbeatTimeout))
		return nil
	})

	for {
		_, data, err := wc.conn.ReadMessage()
		if err != nil {
			return
		}
		co.handleEnvelope(context.Background(), wc, data)
	}
}

func (co *Coordinator) writePump(wc *connection) {
	ticker := time.NewTicker(co.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-wc.send:
			wc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				wc.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := wc.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			wc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleDisconnect implements spec.md §4.D's transport-detach: arm the
// reconnect grace timer rather than tearing the session down immediately.
func (co *Coordinator) handleDisconnect(wc *connection) {
	userID, session, bound := wc.identity()
	if !bound {
		return
	}
	co.mu.Lock()
	delete(co.conns, session)
	co.mu.Unlock()
	co.auth.StartUserTimeout(userID, session)
}

func (co *Coordinator) sendEvent(wc *connection, typ, requestID string, fields map[string]any) {
	env := map[string]any{"type": typ, "status": true}
	if requestID != "" {
		env["request_id"] = requestID
	}
	for k, v := range fields {
		env[k] = v
	}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	wc.enqueue(data)
}

func (co *Coordinator) sendError(wc *connection, typ, requestID string, err error) {
	env := map[string]any{"type": typ, "status": false, "error": err.Error()}
	if requestID != "" {
		env["request_id"] = requestID
	}
	data, marshalErr := json.Marshal(env)
	if marshalErr != nil {
		return
	}
	wc.enqueue(data)
}

// handleEnvelope decodes one inbound JSON message, runs it through the
// plugin pre/post hooks, dispatches it to the matching domain service, and
// replies with a status:true/status:false envelope (spec.md §4.G/§6).
func (co *Coordinator) handleEnvelope(ctx context.Context, wc *connection, raw []byte) {
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		co.sendError(wc, "", "", model.NewValidationError("malformed envelope"))
		return
	}

	typ, _ := decoded["type"].(string)
	requestID, _ := decoded["request_id"].(string)
	delete(decoded, "type")
	delete(decoded, "request_id")

	m := plugin.Model(decoded)
	if err := co.plugins.PreHook(ctx, typ, m); err != nil {
		co.sendError(wc, typ, requestID, err)
		return
	}

	result, dispatchErr := co.dispatch(ctx, wc, typ, m)

	if postErr := co.plugins.PostHook(ctx, typ, m, dispatchErr == nil); postErr != nil {
		co.sendError(wc, typ, requestID, postErr)
		return
	}
	if dispatchErr != nil {
		co.sendError(wc, typ, requestID, dispatchErr)
		return
	}
	co.sendEvent(wc, typ, requestID, result)
}
