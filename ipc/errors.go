package ipc

import (
	"errors"
	"fmt"
)

// GenericBackendMessage is reported when the backend gave no error text or
// could not be reached.
const GenericBackendMessage = "failed to communicate with backend"

var (
	// ErrChannelClosed indicates the transport channel is closed.
	ErrChannelClosed = errors.New("ipc: channel closed")
	// ErrNoTransport indicates a client was built without a transport.
	ErrNoTransport = errors.New("ipc: transport unavailable")
	// ErrMalformedResponse indicates a response frame could not be decoded.
	ErrMalformedResponse = errors.New("ipc: malformed response")
	// ErrMalformedPayload indicates a push notification could not be decoded.
	ErrMalformedPayload = errors.New("ipc: malformed payload")
)

// BackendError is returned by every failed request. Message carries the
// backend's own error text verbatim, or GenericBackendMessage.
type BackendError struct {
	Type    string
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Type == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// IsBackendError reports whether err is or wraps a *BackendError.
func IsBackendError(err error) bool {
	var backendErr *BackendError
	return errors.As(err, &backendErr)
}

func transportFailure(msgType string, cause error) *BackendError {
	return &BackendError{Type: msgType, Message: GenericBackendMessage, Err: cause}
}

func backendFailure(msgType, message string) *BackendError {
	if message == "" {
		message = GenericBackendMessage
	}
	return &BackendError{Type: msgType, Message: message}
}
