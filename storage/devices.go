package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"lansend/models"
)

// UpsertDevice records the latest known attributes of device.
func (s *Store) UpsertDevice(device models.Device, seenAt time.Time) error {
	if strings.TrimSpace(device.DeviceID) == "" {
		return errors.New("device_id is required")
	}
	if seenAt.IsZero() {
		seenAt = time.Now()
	}

	_, err := s.db.Exec(
		`INSERT INTO devices (
			device_id,
			device_name,
			device_model,
			device_platform,
			last_known_ip,
			last_known_port,
			last_seen
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			device_name = excluded.device_name,
			device_model = excluded.device_model,
			device_platform = excluded.device_platform,
			last_known_ip = excluded.last_known_ip,
			last_known_port = excluded.last_known_port,
			last_seen = excluded.last_seen`,
		device.DeviceID,
		device.DeviceName,
		device.DeviceModel,
		device.DevicePlatform,
		device.IP,
		device.Port,
		toUnixMilli(seenAt),
	)
	if err != nil {
		return fmt.Errorf("upsert device %q: %w", device.DeviceID, err)
	}
	return nil
}

// GetDevice returns one remembered device.
func (s *Store) GetDevice(deviceID string) (*KnownDevice, error) {
	row := s.db.QueryRow(
		`SELECT
			device_id,
			device_name,
			device_model,
			device_platform,
			last_known_ip,
			last_known_port,
			last_seen
		FROM devices
		WHERE device_id = ?`,
		deviceID,
	)

	device, err := scanKnownDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get device %q: %w", deviceID, err)
	}
	return device, nil
}

// ListDevices returns remembered devices, most recently seen first.
func (s *Store) ListDevices() ([]KnownDevice, error) {
	rows, err := s.db.Query(
		`SELECT
			device_id,
			device_name,
			device_model,
			device_platform,
			last_known_ip,
			last_known_port,
			last_seen
		FROM devices
		ORDER BY last_seen DESC, device_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	devices := make([]KnownDevice, 0)
	for rows.Next() {
		device, err := scanKnownDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device row: %w", err)
		}
		devices = append(devices, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate device rows: %w", err)
	}
	return devices, nil
}

func scanKnownDevice(row scanner) (*KnownDevice, error) {
	var known KnownDevice
	if err := row.Scan(
		&known.Device.DeviceID,
		&known.Device.DeviceName,
		&known.Device.DeviceModel,
		&known.Device.DevicePlatform,
		&known.Device.IP,
		&known.Device.Port,
		&known.LastSeen,
	); err != nil {
		return nil, err
	}
	return &known, nil
}
