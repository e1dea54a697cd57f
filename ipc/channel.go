package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Transport carries request envelopes to the backend and hands every
// push frame to a registered handler. Responses are correlated by the
// transport itself.
type Transport interface {
	// Send writes env and waits for the correlated response. The context
	// only releases the caller; the request is not withdrawn.
	Send(ctx context.Context, env Envelope) (Response, error)
	// OnMessage registers the handler for push frames.
	OnMessage(handler func(payload []byte))
	Close() error
}

// frameConn moves whole frames over an underlying connection.
type frameConn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(payload []byte) error
	Close() error
}

// ChannelOptions controls Channel behavior.
type ChannelOptions struct {
	Logger logrus.FieldLogger
	// NewRequestID generates correlation ids. Defaults to uuid.NewString.
	NewRequestID func() string
}

// Channel is a framed, full-duplex link to the backend. Requests are matched
// to responses by request_id inside the channel; all other frames go to the
// OnMessage handler.
type Channel struct {
	conn         frameConn
	logger       logrus.FieldLogger
	newRequestID func() string

	sendMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan Response

	handlerMu sync.RWMutex
	handler   func([]byte)

	startOnce sync.Once
	closeOnce sync.Once
	closed    chan struct{}

	errMu    sync.RWMutex
	closeErr error
}

var _ Transport = (*Channel)(nil)

// NewChannel frames messages over a single bidirectional stream.
func NewChannel(conn io.ReadWriteCloser, options ChannelOptions) *Channel {
	return newChannel(&streamConn{r: conn, w: conn, closers: []io.Closer{conn}}, options)
}

// NewStreamChannel frames messages over a separate reader and writer, such
// as a child process's stdout and stdin.
func NewStreamChannel(r io.Reader, w io.Writer, closers []io.Closer, options ChannelOptions) *Channel {
	return newChannel(&streamConn{r: r, w: w, closers: closers}, options)
}

func newChannel(conn frameConn, options ChannelOptions) *Channel {
	logger := options.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	newID := options.NewRequestID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Channel{
		conn:         conn,
		logger:       logger,
		newRequestID: newID,
		pending:      make(map[string]chan Response),
		closed:       make(chan struct{}),
	}
}

// Start begins reading inbound frames. It is idempotent; Send calls it too.
// Register the OnMessage handler before starting to see every push.
func (c *Channel) Start() {
	c.startOnce.Do(func() {
		go c.readLoop()
	})
}

// OnMessage registers handler for push frames. Response frames are always
// resolved by the channel and never reach the handler. The handler runs on
// the read goroutine and must not wait on this channel.
func (c *Channel) OnMessage(handler func(payload []byte)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handler = handler
}

// Send writes env with a fresh request_id and waits for its response.
func (c *Channel) Send(ctx context.Context, env Envelope) (Response, error) {
	c.Start()

	if env.RequestID == "" {
		env.RequestID = c.newRequestID()
	}
	payload, err := EncodeJSON(env)
	if err != nil {
		return Response{}, err
	}

	waiter := make(chan Response, 1)
	c.pendingMu.Lock()
	select {
	case <-c.closed:
		c.pendingMu.Unlock()
		return Response{}, c.closedError()
	default:
	}
	c.pending[env.RequestID] = waiter
	c.pendingMu.Unlock()
	defer c.forget(env.RequestID)

	if err := c.writeFrame(payload); err != nil {
		return Response{}, err
	}

	select {
	case resp := <-waiter:
		return resp, nil
	case <-c.closed:
		select {
		case resp := <-waiter:
			return resp, nil
		default:
		}
		return Response{}, c.closedError()
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Resolve delivers resp to the request waiting on its request_id. It
// reports false when no such request is pending.
func (c *Channel) Resolve(resp Response) bool {
	c.pendingMu.Lock()
	waiter, ok := c.pending[resp.RequestID]
	if ok {
		delete(c.pending, resp.RequestID)
	}
	c.pendingMu.Unlock()

	if !ok {
		return false
	}
	select {
	case waiter <- resp:
	default:
	}
	return true
}

// Done is closed when the channel is closed.
func (c *Channel) Done() <-chan struct{} {
	return c.closed
}

// LastError returns the terminal read or write error, if any.
func (c *Channel) LastError() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.closeErr
}

// Close terminates the channel. Pending requests fail with ErrChannelClosed.
func (c *Channel) Close() error {
	c.closeWithError(nil)
	return nil
}

func (c *Channel) writeFrame(payload []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.conn.WriteFrame(payload); err != nil {
		c.closeWithError(fmt.Errorf("write frame: %w", err))
		return fmt.Errorf("%w: %w", ErrChannelClosed, err)
	}
	return nil
}

func (c *Channel) readLoop() {
	for {
		payload, err := c.conn.ReadFrame()
		if err != nil {
			if isCleanClose(err) {
				c.closeWithError(nil)
				return
			}
			c.closeWithError(fmt.Errorf("read frame: %w", err))
			return
		}
		if len(payload) == 0 {
			continue
		}
		c.deliver(payload)
	}
}

func (c *Channel) deliver(payload []byte) {
	msgType, err := DecodeMessageType(payload)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"function": "deliver",
			"error":    err.Error(),
		}).Warn("Dropping undecodable frame")
		return
	}

	if msgType == TypeResponse {
		c.deliverResponse(payload)
		return
	}

	c.handlerMu.RLock()
	handler := c.handler
	c.handlerMu.RUnlock()

	if handler == nil {
		c.logger.WithFields(logrus.Fields{
			"function": "deliver",
			"type":     msgType,
		}).Debug("No handler registered for push message")
		return
	}
	handler(payload)
}

func (c *Channel) deliverResponse(payload []byte) {
	msg, err := DecodeInbound(payload)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"function": "deliverResponse",
			"error":    err.Error(),
		}).Warn("Dropping malformed response")
		return
	}
	resp := msg.(Response)
	if !c.Resolve(resp) {
		c.logger.WithFields(logrus.Fields{
			"function":   "deliverResponse",
			"request_id": resp.RequestID,
		}).Debug("Dropping response for request no longer pending")
	}
}

func (c *Channel) forget(requestID string) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	delete(c.pending, requestID)
}

func (c *Channel) closedError() error {
	if err := c.LastError(); err != nil {
		return fmt.Errorf("%w: %w", ErrChannelClosed, err)
	}
	return ErrChannelClosed
}

func (c *Channel) closeWithError(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.closeErr = err
		c.errMu.Unlock()

		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"function": "closeWithError",
				"error":    err.Error(),
			}).Warn("Backend channel closed")
		}

		c.pendingMu.Lock()
		close(c.closed)
		c.pendingMu.Unlock()
		_ = c.conn.Close()
	})
}

func isCleanClose(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrClosed)
}

type streamConn struct {
	r       io.Reader
	w       io.Writer
	closers []io.Closer
}

func (s *streamConn) ReadFrame() ([]byte, error) {
	return ReadFrame(s.r)
}

func (s *streamConn) WriteFrame(payload []byte) error {
	return WriteFrame(s.w, payload)
}

func (s *streamConn) Close() error {
	var errs []error
	for _, closer := range s.closers {
		if closer == nil {
			continue
		}
		if err := closer.Close(); err != nil && !isCleanClose(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
