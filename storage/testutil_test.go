package storage

import (
	"testing"
	"time"

	"lansend/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustSaveTransfer(t *testing.T, store *Store, id string, status models.TransferStatus, start time.Time) models.Transfer {
	t.Helper()

	transfer := models.Transfer{
		ID:           id,
		SourceDevice: "local",
		TargetDevice: "peer-" + id,
		Files: []models.FileEntry{
			{Name: id + "-a.txt", Size: 10},
			{Name: id + "-b.txt", Size: 20},
		},
		TotalSize: 30,
		Status:    status,
		StartTime: start,
	}
	if status.Terminal() {
		end := start.Add(time.Second)
		transfer.EndTime = &end
		transfer.Progress = 100
	}
	if err := store.SaveTransfer(transfer); err != nil {
		t.Fatalf("save transfer %q: %v", id, err)
	}
	return transfer
}
