// Package devices keeps the ordered set of peers reported by the backend.
package devices

import (
	"errors"
	"sync"

	"lansend/events"
	"lansend/models"
)

const (
	// EventDeviceUpserted is emitted when a device appears or its metadata changes.
	EventDeviceUpserted EventType = "device_upserted"
	// EventDeviceRemoved is emitted when a known device is removed.
	EventDeviceRemoved EventType = "device_removed"
)

// ErrMissingDeviceID rejects devices without identity.
var ErrMissingDeviceID = errors.New("devices: device_id is required")

// EventType identifies registry changes.
type EventType string

// Event carries one registry change.
type Event struct {
	Type   EventType
	Device models.Device
}

// Upsert returns a copy of list where the entry with device.DeviceID is
// replaced in place, or device is appended when no entry matches.
func Upsert(list []models.Device, device models.Device) []models.Device {
	out := make([]models.Device, len(list), len(list)+1)
	copy(out, list)
	for i := range out {
		if out[i].DeviceID == device.DeviceID {
			out[i] = device
			return out
		}
	}
	return append(out, device)
}

// Remove returns a copy of list without deviceID and whether it was present.
func Remove(list []models.Device, deviceID string) ([]models.Device, bool) {
	out := make([]models.Device, 0, len(list))
	removed := false
	for _, device := range list {
		if device.DeviceID == deviceID {
			removed = true
			continue
		}
		out = append(out, device)
	}
	return out, removed
}

// Registry owns the current device list. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	devices []models.Device

	events *events.Hub[Event]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{events: events.NewHub[Event]()}
}

// Upsert inserts device or replaces the entry with the same device_id,
// keeping its position.
func (r *Registry) Upsert(device models.Device) error {
	if device.DeviceID == "" {
		return ErrMissingDeviceID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.findLocked(device.DeviceID); ok && existing == device {
		return nil
	}
	r.devices = Upsert(r.devices, device)
	r.events.Publish(Event{Type: EventDeviceUpserted, Device: device})
	return nil
}

// Remove drops deviceID if present and reports whether it was.
func (r *Registry) Remove(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.findLocked(deviceID)
	if !ok {
		return false
	}
	r.devices, _ = Remove(r.devices, deviceID)
	r.events.Publish(Event{Type: EventDeviceRemoved, Device: existing})
	return true
}

// Get returns the device with deviceID.
func (r *Registry) Get(deviceID string) (models.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findLocked(deviceID)
}

// List returns a snapshot in insertion order.
func (r *Registry) List() []models.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.Device(nil), r.devices...)
}

// Len returns the number of known devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Subscribe returns a change feed. Call cancel to release it.
func (r *Registry) Subscribe(buffer int) (<-chan Event, func()) {
	return r.events.Subscribe(buffer)
}

// Close ends all subscriptions.
func (r *Registry) Close() {
	r.events.Close()
}

func (r *Registry) findLocked(deviceID string) (models.Device, bool) {
	for _, device := range r.devices {
		if device.DeviceID == deviceID {
			return device, true
		}
	}
	return models.Device{}, false
}
