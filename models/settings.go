package models

// Settings is the backend configuration accepted by update_settings.
// Nil fields are left unchanged by the backend.
type Settings struct {
	DeviceName *string `json:"device_name,omitempty"`
	Port       *int    `json:"port,omitempty"`
	AuthCode   *string `json:"auth_code,omitempty"`
	AutoSave   *bool   `json:"auto_save,omitempty"`
	SaveDir    *string `json:"save_dir,omitempty"`
	HTTPS      *bool   `json:"https,omitempty"`
}
