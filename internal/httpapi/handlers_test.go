package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/kuhhandel/internal/dispatcher"
	"github.com/DoyleJ11/kuhhandel/internal/hub"
	"github.com/DoyleJ11/kuhhandel/internal/transport"
	"github.com/DoyleJ11/kuhhandel/internal/transport/memory"
	"github.com/DoyleJ11/kuhhandel/internal/types"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	bus := memory.NewBus()
	h := hub.NewHub(ctx, hub.Options{
		Dial: func(_ context.Context, channel string) (transport.Transport, error) {
			return bus.Connect(channel), nil
		},
		Logger: zap.NewNop(),
		Base: dispatcher.Config{
			ReconcileInterval: 50 * time.Millisecond,
			RequestStateAfter: 100 * time.Millisecond,
		},
	})
	srv := httptest.NewServer(SetupRoutes(h, Player{ID: "alice", Name: "Alice"}, zap.NewNop()))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv
}

func createRoom(t *testing.T, srv *httptest.Server) joinResponse {
	t.Helper()
	resp, err := http.Post(srv.URL+"/rooms", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out joinResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func getState(t *testing.T, srv *httptest.Server, code string) (int, types.ServerMessage) {
	t.Helper()
	resp, err := http.Get(srv.URL + "/rooms/" + code + "/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	var msg types.ServerMessage
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&msg))
	}
	return resp.StatusCode, msg
}

func postAction(t *testing.T, srv *httptest.Server, code string, body any) int {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/rooms/"+code+"/actions", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestGenerateCode(t *testing.T) {
	code, err := GenerateCode()
	require.NoError(t, err)
	assert.Len(t, code, 6)
	assert.Equal(t, strings.ToUpper(code), code)
}

func TestHealthz(t *testing.T) {
	srv := newServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateRoom_ServesState(t *testing.T) {
	srv := newServer(t)
	room := createRoom(t, srv)
	assert.Len(t, room.Code, 6)
	assert.Equal(t, "alice", room.PlayerID)

	require.Eventually(t, func() bool {
		status, msg := getState(t, srv, room.Code)
		return status == http.StatusOK && msg.IsHost && msg.State != nil && len(msg.State.Players) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestJoinRoom_NamedPlayer(t *testing.T) {
	srv := newServer(t)
	resp, err := http.Post(srv.URL+"/rooms/ABC123/join", "application/json",
		strings.NewReader(`{"player_id":"Bob!","name":"  Bob  "}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out joinResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "ABC123", out.Code)
	assert.Equal(t, "bob", out.PlayerID)
}

func TestState_UnknownRoom(t *testing.T) {
	srv := newServer(t)
	status, _ := getState(t, srv, "NOPE00")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, http.StatusNotFound, postAction(t, srv, "NOPE00", types.ClientMessage{Type: "startGame"}))
}

func TestPostAction(t *testing.T) {
	srv := newServer(t)
	room := createRoom(t, srv)

	assert.Equal(t, http.StatusAccepted, postAction(t, srv, room.Code, types.ClientMessage{Type: "passBid"}))
	assert.Equal(t, http.StatusUnprocessableEntity, postAction(t, srv, room.Code, types.ClientMessage{Type: "LockPick"}))
	assert.Equal(t, http.StatusBadRequest, postAction(t, srv, room.Code, types.ClientMessage{Type: "selectCowTarget"}))

	resp, err := http.Post(srv.URL+"/rooms/"+room.Code+"/actions", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocket_StreamsSnapshots(t *testing.T) {
	srv := newServer(t)
	room := createRoom(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?code=" + room.Code
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	read := func() types.ServerMessage {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var msg types.ServerMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}

	first := read()
	assert.Equal(t, "StateSnapshot", first.Type)
	assert.Equal(t, "alice", first.Self)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"LockPick"}`)))
	for {
		msg := read()
		if msg.Type == "Error" {
			assert.Contains(t, msg.Error, "unknown action")
			break
		}
	}
}

func TestWebSocket_UnknownRoom(t *testing.T) {
	srv := newServer(t)
	resp, err := http.Get(srv.URL + "/ws?code=NOPE00")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
