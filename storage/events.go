package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SetEventRetention configures how long backend events are kept.
func (s *Store) SetEventRetention(retention time.Duration) {
	if retention <= 0 {
		retention = DefaultBackendEventRetention
	}
	s.eventRetention = retention
}

// RecordBackendEvent inserts one backend notice and prunes expired rows.
func (s *Store) RecordBackendEvent(event BackendEvent) error {
	if strings.TrimSpace(event.Kind) == "" {
		return errors.New("kind is required")
	}
	if event.Timestamp == 0 {
		event.Timestamp = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO backend_events (
			kind,
			device_id,
			transfer_id,
			message,
			timestamp
		) VALUES (?, ?, ?, ?, ?)`,
		event.Kind,
		nullString(trimmedPtr(event.DeviceID)),
		nullString(trimmedPtr(event.TransferID)),
		event.Message,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert backend event %q: %w", event.Kind, err)
	}

	if s.eventRetention > 0 {
		cutoff := time.Now().Add(-s.eventRetention).UnixMilli()
		if _, err := s.PruneBackendEvents(cutoff); err != nil {
			return fmt.Errorf("prune backend events: %w", err)
		}
	}
	return nil
}

// ListBackendEvents returns recent backend events, newest first.
func (s *Store) ListBackendEvents(filter BackendEventFilter) ([]BackendEvent, error) {
	limit, offset := clampPage(filter.Limit, filter.Offset)

	query := strings.Builder{}
	query.WriteString(`SELECT
		id,
		kind,
		device_id,
		transfer_id,
		message,
		timestamp
	FROM backend_events`)

	where := make([]string, 0, 3)
	args := make([]any, 0, 5)
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.DeviceID != "" {
		where = append(where, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.TransferID != "" {
		where = append(where, "transfer_id = ?")
		args = append(args, filter.TransferID)
	}
	if len(where) > 0 {
		query.WriteString(" WHERE ")
		query.WriteString(strings.Join(where, " AND "))
	}
	query.WriteString(" ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?")
	args = append(args, limit, offset)

	rows, err := s.db.Query(query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list backend events: %w", err)
	}
	defer rows.Close()

	events := make([]BackendEvent, 0)
	for rows.Next() {
		event, err := scanBackendEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backend event row: %w", err)
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backend event rows: %w", err)
	}
	return events, nil
}

// PruneBackendEvents removes events older than cutoffTimestamp.
func (s *Store) PruneBackendEvents(cutoffTimestamp int64) (int64, error) {
	if cutoffTimestamp <= 0 {
		return 0, errors.New("cutoff timestamp must be > 0")
	}

	res, err := s.db.Exec(`DELETE FROM backend_events WHERE timestamp < ?`, cutoffTimestamp)
	if err != nil {
		return 0, fmt.Errorf("prune backend events: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for backend event prune: %w", err)
	}
	return rowsAffected, nil
}

func scanBackendEvent(row scanner) (*BackendEvent, error) {
	var (
		event      BackendEvent
		deviceID   sql.NullString
		transferID sql.NullString
	)
	if err := row.Scan(
		&event.ID,
		&event.Kind,
		&deviceID,
		&transferID,
		&event.Message,
		&event.Timestamp,
	); err != nil {
		return nil, err
	}

	event.DeviceID = stringPtr(deviceID)
	event.TransferID = stringPtr(transferID)
	return &event, nil
}

func trimmedPtr(ptr *string) *string {
	if ptr == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*ptr)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
