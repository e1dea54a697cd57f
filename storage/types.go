package storage

import (
	"database/sql"
	"errors"
	"time"

	"lansend/models"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

const (
	// BackendEventError is recorded for unsolicited backend error notices.
	BackendEventError = "error"
)

// KnownDevice is a device the client has seen, with the time it was last reported.
type KnownDevice struct {
	Device   models.Device
	LastSeen int64
}

// TransferFilter narrows ListTransfers results.
type TransferFilter struct {
	Status   models.TransferStatus
	DeviceID string
	Limit    int
	Offset   int
}

// BackendEvent stores one backend notice worth keeping.
type BackendEvent struct {
	ID         int64
	Kind       string
	DeviceID   *string
	TransferID *string
	Message    string
	Timestamp  int64
}

// BackendEventFilter narrows ListBackendEvents results.
type BackendEventFilter struct {
	Kind       string
	DeviceID   string
	TransferID string
	Limit      int
	Offset     int
}

type scanner interface {
	Scan(dest ...any) error
}

func nullString(ptr *string) sql.NullString {
	if ptr == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *ptr, Valid: true}
}

func nullInt64(ptr *int64) sql.NullInt64 {
	if ptr == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *ptr, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func stringPointer(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func toUnixMilli(t time.Time) int64 {
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
