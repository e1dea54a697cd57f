package ipc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWebSocketBackend(t *testing.T, handle func(conn *websocket.Conn)) string {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWebSocketChannelRoundTrip(t *testing.T) {
	url := newWebSocketBackend(t, func(conn *websocket.Conn) {
		var request map[string]any
		if err := conn.ReadJSON(&request); err != nil {
			return
		}
		_ = conn.WriteJSON(map[string]any{"type": TypeDeviceLost, "device_id": "gone"})
		_ = conn.WriteJSON(Response{
			Type:      TypeResponse,
			RequestID: request["request_id"].(string),
			Success:   true,
			Data:      json.RawMessage(`{"devices":[{"device_id":"A","device_name":"Phone"}]}`),
		})
		_, _, _ = conn.ReadMessage()
	})

	logger, _ := logtest.NewNullLogger()
	ch, err := DialWebSocket(context.Background(), url, nil, ChannelOptions{Logger: logger})
	require.NoError(t, err)
	defer ch.Close()

	pushes := make(chan []byte, 1)
	ch.OnMessage(func(payload []byte) {
		pushes <- payload
	})
	ch.Start()

	devices, err := NewClient(ch, WithClientLogger(logger)).ScanDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "Phone", devices[0].DeviceName)

	select {
	case payload := <-pushes:
		assert.JSONEq(t, `{"type":"device_lost","device_id":"gone"}`, string(payload))
	default:
		t.Fatal("push was not delivered before the response")
	}
}

func TestDialWebSocketFailure(t *testing.T) {
	_, err := DialWebSocket(context.Background(), "ws://127.0.0.1:1/none", nil, ChannelOptions{})
	assert.Error(t, err)
}
