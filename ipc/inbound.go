package ipc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"lansend/models"
)

// Inbound is any message the backend sends to the client. The set of
// implementations is closed; Unknown covers types this client does not know.
type Inbound interface {
	inboundType() string
}

// DeviceDiscovered announces a new or refreshed device.
type DeviceDiscovered struct {
	Device models.Device
}

// ScanDevicesResponse carries the device list produced by a scan.
type ScanDevicesResponse struct {
	Devices []models.Device
}

// DeviceLost announces that a device disappeared.
type DeviceLost struct {
	DeviceID string
}

// TransferRequest announces a new transfer.
type TransferRequest struct {
	TransferID   string
	SourceDevice string
	TargetDevice string
	Files        []models.FileEntry
	TotalSize    int64
}

// TransferUpdate reports progress or a state change. Nil fields were absent.
type TransferUpdate struct {
	TransferID      string
	Status          *models.TransferStatus
	TransferredSize *int64
	Error           *string
}

// ConnectedToDevice reports a successful connect_to_device handshake.
type ConnectedToDevice struct {
	DeviceID   string
	DeviceName string
}

// SettingsNotice carries the backend's current settings.
type SettingsNotice struct {
	Settings models.Settings
}

// ErrorNotice is an unsolicited backend error.
type ErrorNotice struct {
	Message    string
	DeviceID   string
	TransferID string
}

// Unknown is any message with an unrecognized type.
type Unknown struct {
	Type    string
	Payload json.RawMessage
}

func (Response) inboundType() string            { return TypeResponse }
func (DeviceDiscovered) inboundType() string    { return TypeDeviceDiscovered }
func (ScanDevicesResponse) inboundType() string { return TypeScanDevicesResponse }
func (DeviceLost) inboundType() string          { return TypeDeviceLost }
func (TransferRequest) inboundType() string     { return TypeTransferRequest }
func (TransferUpdate) inboundType() string      { return TypeTransferUpdate }
func (ConnectedToDevice) inboundType() string   { return TypeConnectedToDevice }
func (SettingsNotice) inboundType() string      { return TypeSettings }
func (ErrorNotice) inboundType() string         { return TypeError }
func (u Unknown) inboundType() string           { return u.Type }

// InboundType returns the wire type tag of msg.
func InboundType(msg Inbound) string {
	return msg.inboundType()
}

type deviceDiscoveredWire struct {
	Device *models.Device `json:"device"`
}

type scanDevicesWire struct {
	Data *struct {
		Devices json.RawMessage `json:"devices"`
	} `json:"data"`
}

type deviceLostWire struct {
	DeviceID string `json:"device_id"`
}

type transferRequestWire struct {
	TransferID   string             `json:"transfer_id"`
	SourceDevice string             `json:"source_device"`
	TargetDevice string             `json:"target_device"`
	Files        []models.FileEntry `json:"files"`
	TotalSize    int64              `json:"total_size"`
}

type transferUpdateWire struct {
	TransferID      string                 `json:"transfer_id"`
	Status          *models.TransferStatus `json:"status"`
	TransferredSize *int64                 `json:"transferred_size"`
	Error           *string                `json:"error"`
}

type connectedWire struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
}

type settingsWire struct {
	Settings models.Settings `json:"settings"`
}

type errorWire struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	DeviceID   string `json:"device_id"`
	TransferID string `json:"transfer_id"`
}

// DecodeInbound parses one frame into its typed message. Frames of a known
// type with an unusable shape fail with ErrMalformedPayload.
func DecodeInbound(payload []byte) (Inbound, error) {
	msgType, err := DecodeMessageType(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	switch msgType {
	case TypeResponse:
		var resp Response
		if err := json.Unmarshal(payload, &resp); err != nil {
			return nil, malformed(msgType, err)
		}
		if resp.RequestID == "" {
			return nil, malformed(msgType, "missing request_id")
		}
		return resp, nil
	case TypeDeviceDiscovered:
		var wire deviceDiscoveredWire
		if err := json.Unmarshal(payload, &wire); err != nil {
			return nil, malformed(msgType, err)
		}
		if wire.Device == nil || wire.Device.DeviceID == "" {
			return nil, malformed(msgType, "missing device.device_id")
		}
		return DeviceDiscovered{Device: *wire.Device}, nil
	case TypeScanDevicesResponse:
		return decodeScanDevices(payload)
	case TypeDeviceLost:
		var wire deviceLostWire
		if err := json.Unmarshal(payload, &wire); err != nil {
			return nil, malformed(msgType, err)
		}
		if wire.DeviceID == "" {
			return nil, malformed(msgType, "missing device_id")
		}
		return DeviceLost{DeviceID: wire.DeviceID}, nil
	case TypeTransferRequest:
		var wire transferRequestWire
		if err := json.Unmarshal(payload, &wire); err != nil {
			return nil, malformed(msgType, err)
		}
		if wire.TransferID == "" {
			return nil, malformed(msgType, "missing transfer_id")
		}
		return TransferRequest{
			TransferID:   wire.TransferID,
			SourceDevice: wire.SourceDevice,
			TargetDevice: wire.TargetDevice,
			Files:        wire.Files,
			TotalSize:    wire.TotalSize,
		}, nil
	case TypeTransferUpdate:
		var wire transferUpdateWire
		if err := json.Unmarshal(payload, &wire); err != nil {
			return nil, malformed(msgType, err)
		}
		if wire.TransferID == "" {
			return nil, malformed(msgType, "missing transfer_id")
		}
		return TransferUpdate{
			TransferID:      wire.TransferID,
			Status:          wire.Status,
			TransferredSize: wire.TransferredSize,
			Error:           wire.Error,
		}, nil
	case TypeConnectedToDevice:
		var wire connectedWire
		if err := json.Unmarshal(payload, &wire); err != nil {
			return nil, malformed(msgType, err)
		}
		if wire.DeviceID == "" {
			return nil, malformed(msgType, "missing device_id")
		}
		return ConnectedToDevice{DeviceID: wire.DeviceID, DeviceName: wire.DeviceName}, nil
	case TypeSettings:
		var wire settingsWire
		if err := json.Unmarshal(payload, &wire); err != nil {
			return nil, malformed(msgType, err)
		}
		return SettingsNotice{Settings: wire.Settings}, nil
	case TypeError:
		var wire errorWire
		if err := json.Unmarshal(payload, &wire); err != nil {
			return nil, malformed(msgType, err)
		}
		message := wire.Error
		if message == "" {
			message = wire.Message
		}
		return ErrorNotice{Message: message, DeviceID: wire.DeviceID, TransferID: wire.TransferID}, nil
	default:
		return Unknown{Type: msgType, Payload: append(json.RawMessage(nil), payload...)}, nil
	}
}

func decodeScanDevices(payload []byte) (Inbound, error) {
	var wire scanDevicesWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, malformed(TypeScanDevicesResponse, err)
	}
	if wire.Data == nil {
		return nil, malformed(TypeScanDevicesResponse, "data missing")
	}
	raw := bytes.TrimSpace(wire.Data.Devices)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, malformed(TypeScanDevicesResponse, "data.devices is not an array")
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil, malformed(TypeScanDevicesResponse, "data.devices is not an array")
	}

	devices := make([]models.Device, 0, len(elements))
	for _, element := range elements {
		var device models.Device
		if err := json.Unmarshal(element, &device); err != nil || device.DeviceID == "" {
			continue
		}
		devices = append(devices, device)
	}
	return ScanDevicesResponse{Devices: devices}, nil
}

func malformed(msgType string, cause any) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, msgType, cause)
}
