package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/adwski/chatroom-server/backend/auth"
	"github.com/adwski/chatroom-server/backend/identity"
	"github.com/adwski/chatroom-server/backend/model"
	"github.com/adwski/chatroom-server/backend/ratelimit"
	"github.com/adwski/chatroom-server/backend/service"
	"github.com/adwski/chatroom-server/backend/storage/memory"
	_switch "github.com/adwski/chatroom-server/backend/switch"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	Type string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

type testEnv struct {
	ts  *httptest.Server
	jwt *auth.JWTManager
	svc *service.Service
}

func newTestEnv(t *testing.T, maxEvents int) *testEnv {
	t.Helper()
	logger := zerolog.Nop()
	jwtManager := auth.NewJWTManager(auth.JWTConfig{Secret: "test-secret"})
	svc := service.NewService(service.Config{
		Logger:        &logger,
		Verifier:      jwtManager,
		Limiter:       ratelimit.NewLimiter(ratelimit.Config{MaxEvents: maxEvents, Window: time.Minute}),
		Identities:    identity.NewRegistry(),
		Rooms:         memory.NewMemStore(memory.StoreConfig{}),
		Conversations: memory.NewConversationStore(memory.StoreConfig{}),
		Switch:        _switch.NewSwitch(&logger),
		TypingTTL:     time.Hour,
	})
	srv := NewServer(Config{
		Logger:         &logger,
		SessionService: svc,
	})
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(func() {
		srv.sessCancel()
		ts.Close()
		svc.Close()
	})
	return &testEnv{ts: ts, jwt: jwtManager, svc: svc}
}

func (e *testEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func (e *testEnv) dialAs(t *testing.T, username string) *websocket.Conn {
	t.Helper()
	token, err := e.jwt.Issue(username)
	require.NoError(t, err)
	return e.dial(t, token)
}

func send(t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(model.Event{Type: typ, Data: b}))
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestServer_JoinAndMessage(t *testing.T) {
	env := newTestEnv(t, 100)
	alice := env.dialAs(t, "alice")

	send(t, alice, model.EventJoinRoom, model.JoinRoomData{Room: "lobby", Username: "alice"})
	f := read(t, alice)
	require.Equal(t, model.AnnouncementRoomUsers, f.Type)
	var members []model.Member
	require.NoError(t, json.Unmarshal(f.Data, &members))
	require.Len(t, members, 1)
	assert.Equal(t, "alice", members[0].Username)

	send(t, alice, model.EventSendMessage, model.SendMessageData{Room: "lobby", Text: "hello"})
	f = read(t, alice)
	require.Equal(t, model.AnnouncementReceiveMessage, f.Type)
	var msg model.Message
	require.NoError(t, json.Unmarshal(f.Data, &msg))
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, "alice", msg.Username)
}

func TestServer_QueryToken(t *testing.T) {
	env := newTestEnv(t, 100)
	token, err := env.jwt.Issue("alice")
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() {
		_ = conn.Close()
	}()

	send(t, conn, model.EventRequestPrivateHistory, model.PrivateHistoryData{OtherUsername: "bob"})
	f := read(t, conn)
	require.Equal(t, model.AnnouncementPrivateMessageHistory, f.Type)
	var history model.PrivateHistory
	require.NoError(t, json.Unmarshal(f.Data, &history))
	assert.Equal(t, "bob", history.OtherUsername)
	assert.Empty(t, history.History)
}

func TestServer_RejectsInvalidToken(t *testing.T) {
	env := newTestEnv(t, 100)
	conn := env.dial(t, "not-a-token")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
}

func TestServer_RejectsMissingToken(t *testing.T) {
	env := newTestEnv(t, 100)
	conn := env.dial(t, "")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
}

func TestServer_RateLimitClosesSilently(t *testing.T) {
	env := newTestEnv(t, 5)
	bob := env.dialAs(t, "bob")
	send(t, bob, model.EventJoinRoom, model.JoinRoomData{Room: "lobby", Username: "bob"})
	require.Equal(t, model.AnnouncementRoomUsers, read(t, bob).Type)

	mallory := env.dialAs(t, "mallory")
	send(t, mallory, model.EventJoinRoom, model.JoinRoomData{Room: "lobby", Username: "mallory"})
	require.Equal(t, model.AnnouncementRoomUsers, read(t, mallory).Type)
	require.Equal(t, model.AnnouncementRoomUsers, read(t, bob).Type)

	// connect and join used two of five slots
	for i := 0; i < 4; i++ {
		send(t, mallory, model.EventRequestPrivateHistory, model.PrivateHistoryData{OtherUsername: "bob"})
	}

	var types []string
	require.NoError(t, mallory.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var f frame
		if err := mallory.ReadJSON(&f); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		types = append(types, f.Type)
	}
	// three admitted requests, nothing about the rejection
	assert.Equal(t, []string{
		model.AnnouncementPrivateMessageHistory,
		model.AnnouncementPrivateMessageHistory,
		model.AnnouncementPrivateMessageHistory,
	}, types)

	f := read(t, bob)
	require.Equal(t, model.AnnouncementRoomUsers, f.Type)
	var members []model.Member
	require.NoError(t, json.Unmarshal(f.Data, &members))
	require.Len(t, members, 1)
	assert.Equal(t, "bob", members[0].Username)
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=abc", nil)
	assert.Equal(t, "abc", bearerToken(r))

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Bearer xyz")
	assert.Equal(t, "xyz", bearerToken(r))

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Basic xyz")
	assert.Equal(t, "", bearerToken(r))
}

func TestCheckOrigin(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "http://evil.example")
	assert.True(t, checkOrigin("")(r))
	assert.False(t, checkOrigin("http://localhost:3000")(r))

	r.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, checkOrigin("http://localhost:3000")(r))
}
