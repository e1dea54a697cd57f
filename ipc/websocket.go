package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const closeGracePeriod = time.Second

// wsConn carries one JSON frame per websocket text message.
type wsConn struct {
	conn *websocket.Conn

	closeOnce sync.Once
}

// DialWebSocket connects to a backend that serves the channel over a
// websocket. The returned channel has not been started.
func DialWebSocket(ctx context.Context, url string, header http.Header, options ChannelOptions) (*Channel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial backend websocket %q: %w", url, err)
	}
	conn.SetReadLimit(MaxFrameSize)
	return NewWebSocketChannel(conn, options), nil
}

// NewWebSocketChannel wraps an established websocket connection.
func NewWebSocketChannel(conn *websocket.Conn, options ChannelOptions) *Channel {
	return newChannel(&wsConn{conn: conn}, options)
}

func (w *wsConn) ReadFrame() ([]byte, error) {
	for {
		msgType, payload, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, fmt.Errorf("read websocket frame: %w: %v", net.ErrClosed, err)
			}
			return nil, fmt.Errorf("read websocket frame: %w", err)
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		return payload, nil
	}
}

func (w *wsConn) WriteFrame(payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	if err := w.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write websocket frame: %w", err)
	}
	return nil
}

func (w *wsConn) Close() error {
	var err error
	w.closeOnce.Do(func() {
		_ = w.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod),
		)
		err = w.conn.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	})
	return err
}
