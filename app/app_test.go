package app

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lansend/ipc"
	"lansend/models"
	"lansend/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()

	store, _, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func newTestApp(t *testing.T, history HistoryStore) (*App, net.Conn) {
	t.Helper()

	local, remote := net.Pipe()
	logger, _ := logtest.NewNullLogger()
	channel := ipc.NewChannel(local, ipc.ChannelOptions{Logger: logger})

	a := New(channel, Options{Logger: logger, History: history})
	a.Start()
	t.Cleanup(func() {
		a.Stop()
		_ = remote.Close()
	})
	return a, remote
}

func push(t *testing.T, conn net.Conn, message map[string]any) {
	t.Helper()

	payload, err := json.Marshal(message)
	require.NoError(t, err)
	require.NoError(t, ipc.WriteFrame(conn, payload))
}

func answerNext(t *testing.T, conn net.Conn, success bool, errText string) <-chan map[string]any {
	t.Helper()

	requests := make(chan map[string]any, 1)
	go func() {
		payload, err := ipc.ReadFrame(conn)
		if err != nil {
			close(requests)
			return
		}
		var request map[string]any
		if err := json.Unmarshal(payload, &request); err != nil {
			close(requests)
			return
		}
		requests <- request

		response, _ := json.Marshal(ipc.Response{
			Type:      ipc.TypeResponse,
			RequestID: request["request_id"].(string),
			Success:   success,
			Error:     errText,
		})
		_ = ipc.WriteFrame(conn, response)
	}()
	return requests
}

func TestAppRecordsTransferLifecycle(t *testing.T) {
	store := newTestStore(t)
	a, backend := newTestApp(t, store)

	push(t, backend, map[string]any{
		"type":          "transfer_request",
		"transfer_id":   "t-1",
		"source_device": "peer-1",
		"target_device": "local",
		"files":         []map[string]any{{"name": "a.txt", "size": 100}},
		"total_size":    100,
	})
	push(t, backend, map[string]any{
		"type":             "transfer_update",
		"transfer_id":      "t-1",
		"status":           "completed",
		"transferred_size": 100,
	})

	require.Eventually(t, func() bool {
		transfer, err := store.GetTransfer("t-1")
		return err == nil && transfer.Status == models.TransferCompleted
	}, 2*time.Second, 10*time.Millisecond)

	saved, err := store.GetTransfer("t-1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, saved.Progress)
	assert.NotNil(t, saved.EndTime)
	require.Len(t, saved.Files, 1)
	assert.Equal(t, "a.txt", saved.Files[0].Name)

	history, err := a.History(storage.TransferFilter{})
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestAppRecordsDevices(t *testing.T) {
	store := newTestStore(t)
	a, backend := newTestApp(t, store)

	push(t, backend, map[string]any{
		"type": "device_discovered",
		"device": map[string]any{
			"device_id":   "d-1",
			"device_name": "Phone",
			"ip":          "192.168.1.5",
		},
	})

	require.Eventually(t, func() bool {
		_, err := store.GetDevice("d-1")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	device, ok := a.Devices.Get("d-1")
	require.True(t, ok)
	assert.Equal(t, "Phone", device.DeviceName)
}

func TestAppDeleteTransferClearsLedgerAndHistory(t *testing.T) {
	store := newTestStore(t)
	a, backend := newTestApp(t, store)

	push(t, backend, map[string]any{
		"type":        "transfer_request",
		"transfer_id": "t-1",
		"files":       []map[string]any{{"name": "a.txt", "size": 1}},
	})
	require.Eventually(t, func() bool {
		_, err := store.GetTransfer("t-1")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	requests := answerNext(t, backend, true, "")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.DeleteTransfer(ctx, "t-1"))

	request := <-requests
	assert.Equal(t, "delete_transfer", request["type"])
	assert.Equal(t, "t-1", request["transfer_id"])

	_, ok := a.Transfers.Get("t-1")
	assert.False(t, ok)
	require.Eventually(t, func() bool {
		_, err := store.GetTransfer("t-1")
		return errors.Is(err, storage.ErrNotFound)
	}, 2*time.Second, 10*time.Millisecond)
}

type historyOp struct {
	kind string
	id   string
}

type orderedHistory struct {
	mu  sync.Mutex
	ops []historyOp
}

func (h *orderedHistory) record(kind, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ops = append(h.ops, historyOp{kind: kind, id: id})
}

func (h *orderedHistory) last() (historyOp, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.ops) == 0 {
		return historyOp{}, 0
	}
	return h.ops[len(h.ops)-1], len(h.ops)
}

func (h *orderedHistory) SaveTransfer(transfer models.Transfer) error {
	h.record("save", transfer.ID)
	return nil
}

func (h *orderedHistory) DeleteTransfer(transferID string) error {
	h.record("delete", transferID)
	return nil
}

func (h *orderedHistory) ListTransfers(storage.TransferFilter) ([]models.Transfer, error) {
	return nil, nil
}

func (h *orderedHistory) PruneTransfers(time.Time) (int64, error) { return 0, nil }

func (h *orderedHistory) UpsertDevice(models.Device, time.Time) error { return nil }

func (h *orderedHistory) RecordBackendEvent(storage.BackendEvent) error { return nil }

func TestAppDeleteTransferRunsAfterQueuedSaves(t *testing.T) {
	history := &orderedHistory{}
	a, backend := newTestApp(t, history)

	push(t, backend, map[string]any{
		"type":        "transfer_request",
		"transfer_id": "t-1",
		"files":       []map[string]any{{"name": "a.txt", "size": 100}},
	})
	for i := 1; i <= 20; i++ {
		push(t, backend, map[string]any{
			"type":             "transfer_update",
			"transfer_id":      "t-1",
			"status":           "in_progress",
			"transferred_size": i,
		})
	}

	answerNext(t, backend, true, "")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.DeleteTransfer(ctx, "t-1"))

	require.Eventually(t, func() bool {
		op, _ := history.last()
		return op == historyOp{kind: "delete", id: "t-1"}
	}, 2*time.Second, 10*time.Millisecond)

	a.Stop()
	op, count := history.last()
	assert.Equal(t, historyOp{kind: "delete", id: "t-1"}, op)
	assert.Greater(t, count, 1)
}

func TestAppDeleteTransferKeepsStateOnBackendFailure(t *testing.T) {
	a, backend := newTestApp(t, nil)

	push(t, backend, map[string]any{
		"type":        "transfer_request",
		"transfer_id": "t-1",
	})
	require.Eventually(t, func() bool {
		_, ok := a.Transfers.Get("t-1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	answerNext(t, backend, false, "transfer still running")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := a.DeleteTransfer(ctx, "t-1")
	require.Error(t, err)
	var backendErr *ipc.BackendError
	require.True(t, errors.As(err, &backendErr))
	assert.Equal(t, "transfer still running", backendErr.Message)

	_, ok := a.Transfers.Get("t-1")
	assert.True(t, ok)
}

func TestAppPublishesAndRecordsBackendErrors(t *testing.T) {
	store := newTestStore(t)
	a, backend := newTestApp(t, store)

	notices, cancel := a.Errors(4)
	defer cancel()

	push(t, backend, map[string]any{
		"type":        "error",
		"error":       "peer refused",
		"transfer_id": "t-9",
	})

	select {
	case notice := <-notices:
		assert.Equal(t, "peer refused", notice.Message)
		assert.Equal(t, "t-9", notice.TransferID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected backend error notice")
	}

	require.Eventually(t, func() bool {
		events, err := store.ListBackendEvents(storage.BackendEventFilter{TransferID: "t-9"})
		return err == nil && len(events) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAppHistoryDisabled(t *testing.T) {
	a, _ := newTestApp(t, nil)

	_, err := a.History(storage.TransferFilter{})
	assert.ErrorIs(t, err, ErrHistoryDisabled)
}
