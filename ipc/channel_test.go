package ipc

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipeChannel(t *testing.T) (*Channel, net.Conn) {
	t.Helper()

	local, remote := net.Pipe()
	logger, _ := logtest.NewNullLogger()
	ch := NewChannel(local, ChannelOptions{Logger: logger})
	t.Cleanup(func() {
		_ = ch.Close()
		_ = remote.Close()
	})
	return ch, remote
}

func readRequest(t *testing.T, conn net.Conn) map[string]any {
	t.Helper()

	payload, err := ReadFrame(conn)
	require.NoError(t, err)
	var request map[string]any
	require.NoError(t, json.Unmarshal(payload, &request))
	return request
}

func writeMessage(t *testing.T, conn net.Conn, message any) {
	t.Helper()

	payload, err := json.Marshal(message)
	require.NoError(t, err)
	require.NoError(t, WriteFrame(conn, payload))
}

func mustEnvelope(t *testing.T, msgType string, payload any) Envelope {
	t.Helper()
	env, err := NewEnvelope(msgType, payload, time.Now())
	require.NoError(t, err)
	return env
}

func TestChannelCorrelatesResponse(t *testing.T) {
	ch, backend := newPipeChannel(t)
	ch.Start()

	go func() {
		request := readRequest(t, backend)
		writeMessage(t, backend, Response{
			Type:      TypeResponse,
			RequestID: request["request_id"].(string),
			Success:   true,
			Data:      json.RawMessage(`{"echo":"` + request["type"].(string) + `"}`),
		})
	}()

	resp, err := ch.Send(context.Background(), mustEnvelope(t, TypeScanDevices, nil))
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.JSONEq(t, `{"echo":"scan_devices"}`, string(resp.Data))
}

func TestChannelMatchesOutOfOrderResponses(t *testing.T) {
	ch, backend := newPipeChannel(t)
	ch.Start()

	go func() {
		first := readRequest(t, backend)
		second := readRequest(t, backend)
		for _, request := range []map[string]any{second, first} {
			writeMessage(t, backend, Response{
				Type:      TypeResponse,
				RequestID: request["request_id"].(string),
				Success:   true,
				Data:      json.RawMessage(`"` + request["transfer_id"].(string) + `"`),
			})
		}
	}()

	results := make(chan string, 2)
	for _, id := range []string{"T1", "T2"} {
		id := id
		go func() {
			resp, err := ch.Send(context.Background(), mustEnvelope(t, TypeGetTransferStatus, transferPayload{TransferID: id}))
			if err != nil {
				results <- "error: " + err.Error()
				return
			}
			results <- id + "=" + string(resp.Data)
		}()
	}

	got := []string{<-results, <-results}
	assert.ElementsMatch(t, []string{`T1="T1"`, `T2="T2"`}, got)
}

func TestChannelForwardsPushMessagesToHandler(t *testing.T) {
	ch, backend := newPipeChannel(t)
	received := make(chan []byte, 1)
	ch.OnMessage(func(payload []byte) {
		received <- payload
	})
	ch.Start()

	writeMessage(t, backend, map[string]any{"type": TypeDeviceLost, "device_id": "A"})

	select {
	case payload := <-received:
		assert.JSONEq(t, `{"type":"device_lost","device_id":"A"}`, string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("push message not delivered")
	}
}

func TestChannelResolvesResponsesWithHandlerRegistered(t *testing.T) {
	ch, backend := newPipeChannel(t)
	frames := make(chan []byte, 4)
	ch.OnMessage(func(payload []byte) {
		frames <- payload
	})
	ch.Start()

	go func() {
		request := readRequest(t, backend)
		writeMessage(t, backend, map[string]any{"type": TypeDeviceLost, "device_id": "A"})
		writeMessage(t, backend, Response{
			Type:      TypeResponse,
			RequestID: request["request_id"].(string),
			Success:   true,
			Data:      json.RawMessage(`{"devices":[]}`),
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := ch.Send(ctx, mustEnvelope(t, TypeScanDevices, nil))
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.JSONEq(t, `{"devices":[]}`, string(resp.Data))

	select {
	case payload := <-frames:
		assert.JSONEq(t, `{"type":"device_lost","device_id":"A"}`, string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("push message not delivered")
	}
	select {
	case payload := <-frames:
		t.Fatalf("handler received unexpected frame: %s", payload)
	default:
	}
}

func TestChannelFailsPendingRequestWhenBackendCloses(t *testing.T) {
	ch, backend := newPipeChannel(t)
	ch.Start()

	go func() {
		readRequest(t, backend)
		_ = backend.Close()
	}()

	_, err := ch.Send(context.Background(), mustEnvelope(t, TypeExit, nil))
	assert.ErrorIs(t, err, ErrChannelClosed)

	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}
	_, err = ch.Send(context.Background(), mustEnvelope(t, TypeExit, nil))
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestChannelContextReleasesCaller(t *testing.T) {
	ch, backend := newPipeChannel(t)
	ch.Start()

	go func() {
		readRequest(t, backend)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := ch.Send(ctx, mustEnvelope(t, TypeScanDevices, nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	ch.pendingMu.Lock()
	defer ch.pendingMu.Unlock()
	assert.Empty(t, ch.pending)
}

func TestChannelResolveUnknownRequest(t *testing.T) {
	ch, _ := newPipeChannel(t)
	assert.False(t, ch.Resolve(Response{RequestID: "nobody"}))
}
