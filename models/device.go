package models

// UnknownAttribute is shown for optional device attributes the backend did not report.
const UnknownAttribute = "unknown"

// Device represents a peer reported by the backend's discovery engine.
type Device struct {
	DeviceID       string `json:"device_id"`
	DeviceName     string `json:"device_name"`
	DeviceModel    string `json:"device_model,omitempty"`
	DevicePlatform string `json:"device_platform,omitempty"`
	IP             string `json:"ip"`
	Port           int    `json:"port,omitempty"`
	Connected      bool   `json:"connected"`
}

// DisplayModel returns the device model or "unknown".
func (d Device) DisplayModel() string {
	if d.DeviceModel == "" {
		return UnknownAttribute
	}
	return d.DeviceModel
}

// DisplayPlatform returns the device platform or "unknown".
func (d Device) DisplayPlatform() string {
	if d.DevicePlatform == "" {
		return UnknownAttribute
	}
	return d.DevicePlatform
}
