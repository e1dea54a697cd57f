package ipc

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	// MaxFrameSize is the maximum accepted frame payload size (10 MB).
	MaxFrameSize = 10 * 1024 * 1024
	// TimestampLayout is the ISO-8601 form used for envelope timestamps.
	TimestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Request types sent by the client.
const (
	TypeScanDevices               = "scan_devices"
	TypeSendRequest               = "send_request"
	TypeConnectToDevice           = "connect_to_device"
	TypeAcceptTransfer            = "accept_transfer"
	TypeRejectTransfer            = "reject_transfer"
	TypeCancelTransfer            = "cancel_transfer"
	TypeCancelSend                = "cancel_send"
	TypeCancelWaitForConfirmation = "cancel_wait_for_confirmation"
	TypeRespondToReceiveRequest   = "respond_to_receive_request"
	TypeCancelReceive             = "cancel_receive"
	TypeGetTransferStatus         = "get_transfer_status"
	TypeGetActiveTransfers        = "get_active_transfers"
	TypeUpdateSettings            = "update_settings"
	TypeExit                      = "exit"
	TypeOpenFileLocation          = "open_file_location"
	TypeDeleteTransfer            = "delete_transfer"
)

// Message types pushed by the backend.
const (
	TypeResponse            = "response"
	TypeDeviceDiscovered    = "device_discovered"
	TypeScanDevicesResponse = "scan_devices_response"
	TypeDeviceLost          = "device_lost"
	TypeTransferRequest     = "transfer_request"
	TypeTransferUpdate      = "transfer_update"
	TypeConnectedToDevice   = "connected_to_device"
	TypeSettings            = "settings"
	TypeError               = "error"
)

var (
	// ErrFrameTooLarge indicates payload exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("ipc: frame exceeds max size")
	// ErrInvalidMessageType indicates the message type is missing.
	ErrInvalidMessageType = errors.New("ipc: invalid message type")
	// ErrPayloadNotObject indicates a request payload did not encode to a JSON object.
	ErrPayloadNotObject = errors.New("ipc: payload must encode to a JSON object")
)

// reserved keys are owned by the envelope and never taken from a payload.
var reservedKeys = []string{"type", "request_id", "timestamp"}

// Envelope is an outbound request: the type tag, payload fields flattened
// beside it, a correlation id and the send timestamp.
type Envelope struct {
	Type      string
	RequestID string
	Timestamp string
	Fields    map[string]json.RawMessage
}

// NewEnvelope flattens payload into an envelope of msgType stamped with now.
// payload may be nil or any value that marshals to a JSON object.
func NewEnvelope(msgType string, payload any, now time.Time) (Envelope, error) {
	if msgType == "" {
		return Envelope{}, ErrInvalidMessageType
	}
	fields, err := flattenPayload(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Type:      msgType,
		Timestamp: FormatTimestamp(now),
		Fields:    fields,
	}, nil
}

// MarshalJSON writes the envelope as a single flat JSON object.
func (e Envelope) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+3)
	for key, value := range e.Fields {
		out[key] = value
	}
	out["type"] = e.Type
	if e.RequestID != "" {
		out["request_id"] = e.RequestID
	}
	out["timestamp"] = e.Timestamp
	return json.Marshal(out)
}

// Field decodes one payload field into dst.
func (e Envelope) Field(key string, dst any) error {
	raw, ok := e.Fields[key]
	if !ok {
		return fmt.Errorf("envelope field %q missing", key)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode envelope field %q: %w", key, err)
	}
	return nil
}

// Response is the backend reply correlated to one request.
type Response struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// FormatTimestamp renders t in UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// EncodeJSON marshals a protocol message to JSON.
func EncodeJSON(message any) ([]byte, error) {
	payload, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("marshal protocol message: %w", err)
	}
	return payload, nil
}

// DecodeMessageType extracts the "type" field from a payload.
func DecodeMessageType(payload []byte) (string, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.Type == "" {
		return "", ErrInvalidMessageType
	}
	return envelope.Type, nil
}

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}

	length := binary.BigEndian.Uint32(header)
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	if length == 0 {
		return []byte{}, nil
	}

	payload := make([]byte, int(length))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}

	return payload, nil
}

func flattenPayload(payload any) (map[string]json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if string(raw) == "null" {
		return nil, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadNotObject, err)
	}
	for _, key := range reservedKeys {
		delete(fields, key)
	}
	return fields, nil
}
