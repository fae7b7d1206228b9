package gateway

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/goldstream/internal/history"
	"github.com/rickgao/goldstream/internal/hub"
	"github.com/rickgao/goldstream/internal/model"
)

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, hubCfg hub.Config) (*httptest.Server, *hub.Registry) {
	t.Helper()
	registry := hub.NewRegistry(hubCfg, history.NewBuffer(100), nil)
	server := httptest.NewServer(NewHandler(Config{SendBuffer: 8}, registry, nil))
	t.Cleanup(server.Close)
	return server, registry
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readEnvelope(t *testing.T, ws *websocket.Conn) envelope {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_WelcomeAndReplay(t *testing.T) {
	server, registry := newTestServer(t, hub.DefaultConfig())
	ws := dial(t, server)

	welcome := readEnvelope(t, ws)
	assert.Equal(t, hub.TypeConnectionEstablished, welcome.Type)

	var data struct {
		ConnectionID string `json:"connection_id"`
	}
	require.NoError(t, json.Unmarshal(welcome.Data, &data))
	assert.NotEmpty(t, data.ConnectionID)
	assert.True(t, registry.Has(data.ConnectionID))

	replay := readEnvelope(t, ws)
	assert.Equal(t, hub.TypePriceHistory, replay.Type)
}

func TestHandler_PingPong(t *testing.T) {
	server, _ := newTestServer(t, hub.DefaultConfig())
	ws := dial(t, server)
	readEnvelope(t, ws)
	readEnvelope(t, ws)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	assert.Equal(t, hub.TypePong, readEnvelope(t, ws).Type)
}

func TestHandler_ReceivesBroadcast(t *testing.T) {
	server, registry := newTestServer(t, hub.DefaultConfig())
	ws := dial(t, server)
	readEnvelope(t, ws)
	readEnvelope(t, ws)

	registry.FanOut(model.Tick{
		Epic:      "GOLD",
		Timestamp: time.Now(),
		Bid:       decimal.NewNullDecimal(decimal.RequireFromString("2650.10")),
		Ask:       decimal.NewNullDecimal(decimal.RequireFromString("2650.50")),
		Mid:       decimal.NewNullDecimal(decimal.RequireFromString("2650.30")),
	})

	env := readEnvelope(t, ws)
	assert.Equal(t, hub.TypePriceUpdate, env.Type)
	assert.Contains(t, string(env.Data), "2650.3")
}

func TestHandler_CapacityRefusal(t *testing.T) {
	cfg := hub.DefaultConfig()
	cfg.MaxConnections = 1
	server, registry := newTestServer(t, cfg)

	first := dial(t, server)
	readEnvelope(t, first)

	second := dial(t, server)
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := second.ReadMessage()

	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, CloseReasonCapacity, closeErr.Text)
	assert.Equal(t, 1, registry.Len())
}

func TestHandler_ClientCloseUnregisters(t *testing.T) {
	server, registry := newTestServer(t, hub.DefaultConfig())
	ws := dial(t, server)
	readEnvelope(t, ws)
	waitFor(t, func() bool { return registry.Len() == 1 })

	ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	ws.Close()

	waitFor(t, func() bool { return registry.Len() == 0 })
}

func TestHandler_ServerUnregisterClosesSocket(t *testing.T) {
	server, registry := newTestServer(t, hub.DefaultConfig())
	ws := dial(t, server)

	welcome := readEnvelope(t, ws)
	var data struct {
		ConnectionID string `json:"connection_id"`
	}
	require.NoError(t, json.Unmarshal(welcome.Data, &data))

	registry.Unregister(data.ConnectionID)

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "err = %v", err)
			return
		}
	}
}

func TestConn_SendFailsWhenFullOrClosed(t *testing.T) {
	c := &Conn{send: make(chan []byte, 1), done: make(chan struct{})}

	require.NoError(t, c.Send([]byte("a")))
	assert.ErrorIs(t, c.Send([]byte("b")), hub.ErrSendFailed)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Send([]byte("c")), hub.ErrSendFailed)
}

func TestNewHandler_Defaults(t *testing.T) {
	h := NewHandler(Config{PongWait: 10 * time.Second, PingPeriod: time.Minute}, nil, nil)
	assert.Equal(t, 256, h.cfg.SendBuffer)
	assert.Equal(t, 9*time.Second, h.cfg.PingPeriod)
	assert.Equal(t, int64(64*1024), h.cfg.MaxMessageSize)
}
