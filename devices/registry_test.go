package devices

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lansend/models"
)

func testDevice(id, name string) models.Device {
	return models.Device{DeviceID: id, DeviceName: name, IP: "192.168.1.10"}
}

func TestUpsertIsIdempotent(t *testing.T) {
	registry := NewRegistry()
	device := testDevice("A", "Laptop")

	require.NoError(t, registry.Upsert(device))
	once := registry.List()
	require.NoError(t, registry.Upsert(device))

	assert.Equal(t, once, registry.List())
	assert.Equal(t, 1, registry.Len())
}

func TestUpsertReplacesInPlace(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Upsert(testDevice("A", "first")))
	require.NoError(t, registry.Upsert(testDevice("B", "second")))
	require.NoError(t, registry.Upsert(testDevice("C", "third")))

	renamed := testDevice("B", "renamed")
	renamed.Connected = true
	require.NoError(t, registry.Upsert(renamed))

	list := registry.List()
	require.Len(t, list, 3)
	assert.Equal(t, "A", list[0].DeviceID)
	assert.Equal(t, renamed, list[1])
	assert.Equal(t, "C", list[2].DeviceID)
}

func TestUpsertRejectsMissingID(t *testing.T) {
	registry := NewRegistry()
	err := registry.Upsert(models.Device{DeviceName: "nameless"})
	assert.ErrorIs(t, err, ErrMissingDeviceID)
	assert.Zero(t, registry.Len())
}

func TestRemoveAbsentIsNoOp(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Upsert(testDevice("A", "Laptop")))
	before := registry.List()

	assert.False(t, registry.Remove("missing"))
	assert.Equal(t, before, registry.List())

	assert.True(t, registry.Remove("A"))
	assert.Empty(t, registry.List())
}

func TestPureHelpersDoNotMutateInput(t *testing.T) {
	original := []models.Device{testDevice("A", "one"), testDevice("B", "two")}

	updated := Upsert(original, testDevice("A", "changed"))
	assert.Equal(t, "one", original[0].DeviceName)
	assert.Equal(t, "changed", updated[0].DeviceName)

	appended := Upsert(original, testDevice("C", "three"))
	assert.Len(t, original, 2)
	assert.Len(t, appended, 3)

	trimmed, removed := Remove(original, "A")
	assert.True(t, removed)
	assert.Len(t, original, 2)
	assert.Equal(t, []models.Device{testDevice("B", "two")}, trimmed)

	_, removed = Remove(original, "Z")
	assert.False(t, removed)
}

func TestSubscribeReceivesChanges(t *testing.T) {
	registry := NewRegistry()
	events, cancel := registry.Subscribe(8)
	defer cancel()

	device := testDevice("A", "Laptop")
	require.NoError(t, registry.Upsert(device))
	require.NoError(t, registry.Upsert(device))
	registry.Remove("A")
	registry.Remove("A")

	require.Len(t, events, 2)
	first := <-events
	assert.Equal(t, EventDeviceUpserted, first.Type)
	assert.Equal(t, device, first.Device)
	second := <-events
	assert.Equal(t, EventDeviceRemoved, second.Type)
	assert.Equal(t, "A", second.Device.DeviceID)
}

func TestDisplayDefaults(t *testing.T) {
	device := testDevice("A", "Laptop")
	assert.Equal(t, "unknown", device.DisplayModel())
	assert.Equal(t, "unknown", device.DisplayPlatform())

	device.DeviceModel = "ThinkPad"
	device.DevicePlatform = "linux"
	assert.Equal(t, "ThinkPad", device.DisplayModel())
	assert.Equal(t, "linux", device.DisplayPlatform())
}
