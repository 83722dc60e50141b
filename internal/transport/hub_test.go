package transport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/crowd-engine/internal/engine"
	"github.com/atmx/crowd-engine/internal/gate"
	"github.com/atmx/crowd-engine/internal/protocol"
	"github.com/atmx/crowd-engine/internal/transport"
)

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func startServer(t *testing.T, origins ...string) (*httptest.Server, *engine.Engine, *transport.Hub) {
	t.Helper()
	e := engine.New(engine.Config{}, engine.Deps{Gate: gate.NewAllowList(nil)})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Run(ctx)
	}()

	hub := transport.NewHub(e, origins)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		hub.CloseAll()
		srv.Close()
		cancel()
		<-done
	})
	return srv, e, hub
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func write(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": typ, "payload": payload}))
}

// readUntil reads frames until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == typ {
			return f
		}
	}
}

func TestHub_LoginOverWebSocket(t *testing.T) {
	srv, e, hub := startServer(t)
	conn := dial(t, srv)

	write(t, conn, protocol.TypeLogin, map[string]string{"identity": "alice"})
	f := readUntil(t, conn, protocol.TypeLoginSuccess)

	var success struct {
		Identity string `json:"identity"`
		Balance  string `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(f.Payload, &success))
	assert.Equal(t, "alice", success.Identity)
	assert.Equal(t, "1000", success.Balance)

	readUntil(t, conn, protocol.TypeChatHistory)
	assert.Equal(t, 1, hub.Count())

	state, err := e.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, state.Connected)
}

func TestHub_MalformedFrameReported(t *testing.T) {
	srv, _, _ := startServer(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	f := readUntil(t, conn, protocol.TypeError)

	var report protocol.ErrorReport
	require.NoError(t, json.Unmarshal(f.Payload, &report))
	assert.Equal(t, "MalformedFrame", report.Code)
}

func TestHub_ReLoginClosesPreviousSocket(t *testing.T) {
	srv, e, _ := startServer(t)
	first := dial(t, srv)
	write(t, first, protocol.TypeLogin, map[string]string{"identity": "alice"})
	readUntil(t, first, protocol.TypeLoginSuccess)

	second := dial(t, srv)
	write(t, second, protocol.TypeLogin, map[string]string{"identity": "alice"})
	readUntil(t, second, protocol.TypeLoginSuccess)

	f := readUntil(t, first, protocol.TypeError)
	var report protocol.ErrorReport
	require.NoError(t, json.Unmarshal(f.Payload, &report))
	assert.Equal(t, "SessionReplaced", report.Code)

	first.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := first.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	state, err := e.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, state.Connected)
}

func TestHub_DisconnectReachesEngine(t *testing.T) {
	srv, e, hub := startServer(t)
	conn := dial(t, srv)
	write(t, conn, protocol.TypeLogin, map[string]string{"identity": "alice"})
	readUntil(t, conn, protocol.TypeLoginSuccess)

	conn.Close()

	require.Eventually(t, func() bool {
		state, err := e.Snapshot(context.Background())
		return err == nil && state.Connected == 0 && hub.Count() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	srv, _, _ := startServer(t, "https://fans.example")
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://fans.example")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}
