package session

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yummyio/yummy/internal/v1/auth"
	"github.com/yummyio/yummy/internal/v1/authservice"
	"github.com/yummyio/yummy/internal/v1/bus"
	"github.com/yummyio/yummy/internal/v1/db"
	"github.com/yummyio/yummy/internal/v1/plugin"
	"github.com/yummyio/yummy/internal/v1/roomservice"
	"github.com/yummyio/yummy/internal/v1/statestore"
	"github.com/yummyio/yummy/internal/v1/userservice"
)

// fakeWsConn is an in-process stand-in for *websocket.Conn, letting tests
// drive Coordinator.handleEnvelope without a real socket, through the same
// wsConnection seam the teacher cut for client.go.
type fakeWsConn struct {
	mu     sync.Mutex
	writes [][]byte
	closed bool
	// queue is the connection's send channel; lastEnvelope drains it into
	// writes, standing in for the writePump that these tests do not start.
	queue chan []byte
}

func (f *fakeWsConn) ReadMessage() (int, []byte, error)      { return 0, nil, nil }
func (f *fakeWsConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.writes = append(f.writes, cp)
	return nil
}
func (f *fakeWsConn) Close() error                     { f.closed = true; return nil }
func (f *fakeWsConn) SetReadDeadline(time.Time) error  { return nil }
func (f *fakeWsConn) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeWsConn) SetPongHandler(func(string) error) {}

func httpRequestWithOrigin(origin string) *http.Request {
	req, _ := http.NewRequest(http.MethodGet, "/ws", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	return req
}

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	database, err := db.Connect(":memory:")
	require.NoError(t, err)
	store := statestore.NewMemory()
	messageBus := bus.NewLocal()
	tokens, err := auth.NewHS256TokenService("test-secret-at-least-32-bytes-long!", "yummy-test", time.Hour)
	require.NoError(t, err)
	authSvc := authservice.New(store, database, tokens, messageBus, 50*time.Millisecond)
	users := userservice.New(database, 10)
	rooms := roomservice.New(store, database, messageBus, 10)
	pluginHost, err := plugin.NewHost("", users)
	require.NoError(t, err)
	return NewCoordinator(authSvc, users, rooms, store, messageBus, pluginHost, time.Minute, time.Minute, nil)
}

func newTestConnection() (*connection, *fakeWsConn) {
	fc := &fakeWsConn{}
	wc := &connection{conn: fc, send: make(chan []byte, 16)}
	fc.queue = wc.send
	return wc, fc
}

func lastEnvelope(t *testing.T, fc *fakeWsConn) map[string]any {
	t.Helper()
	fc.mu.Lock()
	defer fc.mu.Unlock()
	for drained := false; !drained; {
		select {
		case data := <-fc.queue:
			fc.writes = append(fc.writes, data)
		default:
			drained = true
		}
	}
	require.NotEmpty(t, fc.writes)
	var out map[string]any
	require.NoError(t, json.Unmarshal(fc.writes[len(fc.writes)-1], &out))
	return out
}

func TestHandleEnvelope_EmailAuthBindsSession(t *testing.T) {
	co := newTestCoordinator(t)
	wc, fc := newTestConnection()

	raw, err := json.Marshal(map[string]any{
		"type": "EmailAuth", "request_id": "r1",
		"email": "alice@example.com", "password": "pw", "if_not_exist_create": true,
	})
	require.NoError(t, err)

	co.handleEnvelope(context.Background(), wc, raw)

	env := lastEnvelope(t, fc)
	assert.Equal(t, "EmailAuth", env["type"])
	assert.Equal(t, true, env["status"])
	assert.Equal(t, "r1", env["request_id"])
	assert.NotEmpty(t, env["token"])

	_, _, bound := wc.identity()
	assert.True(t, bound, "a successful auth envelope must bind the connection to a session")
}

func TestHandleEnvelope_RejectsUnauthenticatedMe(t *testing.T) {
	co := newTestCoordinator(t)
	wc, fc := newTestConnection()

	raw, err := json.Marshal(map[string]any{"type": "Me", "request_id": "r2"})
	require.NoError(t, err)

	co.handleEnvelope(context.Background(), wc, raw)

	env := lastEnvelope(t, fc)
	assert.Equal(t, false, env["status"])
	assert.NotEmpty(t, env["error"])
}

func TestHandleEnvelope_MalformedJSON(t *testing.T) {
	co := newTestCoordinator(t)
	wc, fc := newTestConnection()

	co.handleEnvelope(context.Background(), wc, []byte("not json"))

	env := lastEnvelope(t, fc)
	assert.Equal(t, false, env["status"])
}

func TestHandleEnvelope_UnknownType(t *testing.T) {
	co := newTestCoordinator(t)
	wc, fc := newTestConnection()

	raw, err := json.Marshal(map[string]any{"type": "NotARealOp"})
	require.NoError(t, err)
	co.handleEnvelope(context.Background(), wc, raw)

	env := lastEnvelope(t, fc)
	assert.Equal(t, false, env["status"])
}

func TestHandleEnvelope_CreateRoomAfterAuth(t *testing.T) {
	co := newTestCoordinator(t)
	wc, fc := newTestConnection()

	authRaw, err := json.Marshal(map[string]any{
		"type": "EmailAuth", "email": "bob@example.com", "password": "pw", "if_not_exist_create": true,
	})
	require.NoError(t, err)
	co.handleEnvelope(context.Background(), wc, authRaw)

	createRaw, err := json.Marshal(map[string]any{
		"type": "CreateRoom", "request_id": "r3", "name": "general", "max_user": 5,
	})
	require.NoError(t, err)
	co.handleEnvelope(context.Background(), wc, createRaw)

	env := lastEnvelope(t, fc)
	assert.Equal(t, true, env["status"])
	assert.NotEmpty(t, env["room_id"])
}

func TestCheckOrigin_EmptyOriginAllowed(t *testing.T) {
	co := newTestCoordinator(t)
	co.allowedOrigins = []string{"https://example.com"}
	assert.True(t, co.checkOrigin(httpRequestWithOrigin("")))
}

func TestCheckOrigin_MatchingOriginAllowed(t *testing.T) {
	co := newTestCoordinator(t)
	co.allowedOrigins = []string{"https://example.com"}
	assert.True(t, co.checkOrigin(httpRequestWithOrigin("https://example.com")))
}

func TestCheckOrigin_RejectsUnlistedOrigin(t *testing.T) {
	co := newTestCoordinator(t)
	co.allowedOrigins = []string{"https://example.com"}
	assert.False(t, co.checkOrigin(httpRequestWithOrigin("https://evil.example")))
}
