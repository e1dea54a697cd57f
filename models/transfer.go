package models

import "time"

// TransferStatus is the backend-declared state of a transfer.
type TransferStatus string

const (
	TransferPending    TransferStatus = "pending"
	TransferInProgress TransferStatus = "in_progress"
	TransferCompleted  TransferStatus = "completed"
	TransferFailed     TransferStatus = "failed"
)

// Valid reports whether s is one of the known transfer states.
func (s TransferStatus) Valid() bool {
	switch s {
	case TransferPending, TransferInProgress, TransferCompleted, TransferFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether s ends the transfer lifecycle.
func (s TransferStatus) Terminal() bool {
	return s == TransferCompleted || s == TransferFailed
}

// FileEntry is one file announced in a transfer request.
type FileEntry struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Transfer is the client-side record of one backend transfer.
type Transfer struct {
	ID           string         `json:"id"`
	SourceDevice string         `json:"sourceDevice"`
	TargetDevice string         `json:"targetDevice"`
	Files        []FileEntry    `json:"files"`
	TotalSize    int64          `json:"totalSize"`
	Status       TransferStatus `json:"status"`
	Progress     float64        `json:"progress"`
	StartTime    time.Time      `json:"startTime"`
	EndTime      *time.Time     `json:"endTime,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// Clone returns a deep copy so callers cannot alias ledger state.
func (t Transfer) Clone() Transfer {
	out := t
	out.Files = append([]FileEntry(nil), t.Files...)
	if t.EndTime != nil {
		end := *t.EndTime
		out.EndTime = &end
	}
	return out
}

// SumFileSizes returns the total byte count of files.
func SumFileSizes(files []FileEntry) int64 {
	var total int64
	for _, file := range files {
		total += file.Size
	}
	return total
}
