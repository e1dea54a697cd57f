// Package dispatch routes messages pushed by the backend into the device
// registry and transfer ledger.
package dispatch

import (
	"sync"

	"github.com/sirupsen/logrus"

	"lansend/ipc"
	"lansend/models"
	"lansend/transfers"
)

// DefaultErrorBuffer is the capacity of the Errors channel.
const DefaultErrorBuffer = 32

// DeviceStore is the registry surface the dispatcher writes to.
type DeviceStore interface {
	Upsert(device models.Device) error
	Remove(deviceID string) bool
	Get(deviceID string) (models.Device, bool)
}

// TransferStore is the ledger surface the dispatcher writes to.
type TransferStore interface {
	Create(req transfers.CreateRequest) bool
	Update(update transfers.Update) bool
}

// ResponseSink completes pending requests.
type ResponseSink interface {
	Resolve(resp ipc.Response) bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithResponseSink routes response frames to sink. Channels resolve their
// own responses, so this is only needed for frames fed in from elsewhere.
func WithResponseSink(sink ResponseSink) Option {
	return func(d *Dispatcher) {
		d.responses = sink
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithErrorBuffer sets the capacity of the Errors channel.
func WithErrorBuffer(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.errors = make(chan ipc.ErrorNotice, size)
		}
	}
}

// Dispatcher is the single writer for push-driven state. Nothing it
// handles propagates an error back to the transport.
type Dispatcher struct {
	devices   DeviceStore
	transfers TransferStore
	responses ResponseSink
	logger    logrus.FieldLogger

	errors chan ipc.ErrorNotice

	settingsMu sync.RWMutex
	settings   *models.Settings
}

// New creates a dispatcher writing to the given stores.
func New(deviceStore DeviceStore, transferStore TransferStore, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		devices:   deviceStore,
		transfers: transferStore,
		logger:    logrus.StandardLogger(),
		errors:    make(chan ipc.ErrorNotice, DefaultErrorBuffer),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HandleFrame decodes a raw inbound frame and dispatches it. Malformed
// frames are logged and dropped.
func (d *Dispatcher) HandleFrame(payload []byte) {
	msg, err := ipc.DecodeInbound(payload)
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"function": "HandleFrame",
			"error":    err.Error(),
		}).Warn("Ignoring malformed backend message")
		return
	}
	d.Dispatch(msg)
}

// Dispatch applies one decoded message.
func (d *Dispatcher) Dispatch(msg ipc.Inbound) {
	switch m := msg.(type) {
	case ipc.Response:
		d.handleResponse(m)
	case ipc.DeviceDiscovered:
		d.upsertDevice(m.Device)
	case ipc.ScanDevicesResponse:
		for _, device := range m.Devices {
			d.upsertDevice(device)
		}
	case ipc.DeviceLost:
		d.devices.Remove(m.DeviceID)
	case ipc.TransferRequest:
		d.transfers.Create(transfers.CreateRequest{
			ID:           m.TransferID,
			SourceDevice: m.SourceDevice,
			TargetDevice: m.TargetDevice,
			Files:        m.Files,
			TotalSize:    m.TotalSize,
		})
	case ipc.TransferUpdate:
		d.transfers.Update(transfers.Update{
			ID:              m.TransferID,
			Status:          m.Status,
			TransferredSize: m.TransferredSize,
			Error:           m.Error,
		})
	case ipc.ConnectedToDevice:
		d.markConnected(m)
	case ipc.SettingsNotice:
		d.settingsMu.Lock()
		settings := m.Settings
		d.settings = &settings
		d.settingsMu.Unlock()
	case ipc.ErrorNotice:
		d.reportError(m)
	case ipc.Unknown:
		d.logger.WithFields(logrus.Fields{
			"function": "Dispatch",
			"type":     m.Type,
		}).Info("Ignoring unhandled backend message type")
	default:
		d.logger.WithFields(logrus.Fields{
			"function": "Dispatch",
			"type":     ipc.InboundType(msg),
		}).Warn("No route for backend message")
	}
}

// Errors delivers unsolicited backend errors. Notices are dropped when the
// buffer is full.
func (d *Dispatcher) Errors() <-chan ipc.ErrorNotice {
	return d.errors
}

// Settings returns the most recent settings pushed by the backend.
func (d *Dispatcher) Settings() (models.Settings, bool) {
	d.settingsMu.RLock()
	defer d.settingsMu.RUnlock()
	if d.settings == nil {
		return models.Settings{}, false
	}
	return *d.settings, true
}

func (d *Dispatcher) handleResponse(resp ipc.Response) {
	if d.responses == nil {
		d.logger.WithFields(logrus.Fields{
			"function":   "handleResponse",
			"request_id": resp.RequestID,
		}).Debug("Dropping response with no response sink")
		return
	}
	if !d.responses.Resolve(resp) {
		d.logger.WithFields(logrus.Fields{
			"function":   "handleResponse",
			"request_id": resp.RequestID,
		}).Debug("Dropping response for request no longer pending")
	}
}

func (d *Dispatcher) upsertDevice(device models.Device) {
	if err := d.devices.Upsert(device); err != nil {
		d.logger.WithFields(logrus.Fields{
			"function": "upsertDevice",
			"error":    err.Error(),
		}).Warn("Ignoring device")
	}
}

func (d *Dispatcher) markConnected(m ipc.ConnectedToDevice) {
	device, ok := d.devices.Get(m.DeviceID)
	if !ok {
		d.logger.WithFields(logrus.Fields{
			"function":  "markConnected",
			"device_id": m.DeviceID,
		}).Debug("Connected device is not in the registry")
		return
	}
	device.Connected = true
	if m.DeviceName != "" {
		device.DeviceName = m.DeviceName
	}
	d.upsertDevice(device)
}

func (d *Dispatcher) reportError(notice ipc.ErrorNotice) {
	d.logger.WithFields(logrus.Fields{
		"function":    "reportError",
		"device_id":   notice.DeviceID,
		"transfer_id": notice.TransferID,
	}).Error(notice.Message)

	select {
	case d.errors <- notice:
	default:
	}
}
