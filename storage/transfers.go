package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"lansend/models"
)

// SaveTransfer inserts or replaces the history row for transfer and its file list.
func (s *Store) SaveTransfer(transfer models.Transfer) error {
	if transfer.ID == "" {
		return errors.New("transfer_id is required")
	}
	if transfer.Status == "" {
		transfer.Status = models.TransferPending
	}
	if !transfer.Status.Valid() {
		return fmt.Errorf("invalid transfer status %q", transfer.Status)
	}
	if transfer.StartTime.IsZero() {
		transfer.StartTime = time.Now()
	}

	var endTime *int64
	if transfer.EndTime != nil {
		ms := toUnixMilli(*transfer.EndTime)
		endTime = &ms
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save transfer %q: %w", transfer.ID, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.Exec(
		`INSERT INTO transfers (
			transfer_id,
			source_device,
			target_device,
			total_size,
			status,
			progress,
			error,
			start_time,
			end_time,
			updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transfer_id) DO UPDATE SET
			source_device = excluded.source_device,
			target_device = excluded.target_device,
			total_size = excluded.total_size,
			status = excluded.status,
			progress = excluded.progress,
			error = excluded.error,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			updated_at = excluded.updated_at`,
		transfer.ID,
		transfer.SourceDevice,
		transfer.TargetDevice,
		transfer.TotalSize,
		string(transfer.Status),
		transfer.Progress,
		nullString(stringPointer(transfer.Error)),
		toUnixMilli(transfer.StartTime),
		nullInt64(endTime),
		nowUnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert transfer %q: %w", transfer.ID, err)
	}

	if _, err := tx.Exec(`DELETE FROM transfer_files WHERE transfer_id = ?`, transfer.ID); err != nil {
		return fmt.Errorf("clear transfer files %q: %w", transfer.ID, err)
	}
	for i, file := range transfer.Files {
		if _, err := tx.Exec(
			`INSERT INTO transfer_files (transfer_id, position, name, size) VALUES (?, ?, ?, ?)`,
			transfer.ID,
			i,
			file.Name,
			file.Size,
		); err != nil {
			return fmt.Errorf("insert transfer file %q/%d: %w", transfer.ID, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save transfer %q: %w", transfer.ID, err)
	}
	return nil
}

// GetTransfer fetches one transfer with its files.
func (s *Store) GetTransfer(transferID string) (*models.Transfer, error) {
	row := s.db.QueryRow(
		`SELECT
			transfer_id,
			source_device,
			target_device,
			total_size,
			status,
			progress,
			error,
			start_time,
			end_time
		FROM transfers
		WHERE transfer_id = ?`,
		transferID,
	)

	transfer, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transfer %q: %w", transferID, err)
	}

	files, err := s.loadTransferFiles(transferID)
	if err != nil {
		return nil, err
	}
	transfer.Files = files
	return transfer, nil
}

// ListTransfers returns history newest first, optionally filtered by status
// or by a device on either end.
func (s *Store) ListTransfers(filter TransferFilter) ([]models.Transfer, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("invalid transfer status %q", filter.Status)
	}
	limit, offset := clampPage(filter.Limit, filter.Offset)

	query := strings.Builder{}
	query.WriteString(`SELECT
		transfer_id,
		source_device,
		target_device,
		total_size,
		status,
		progress,
		error,
		start_time,
		end_time
	FROM transfers`)

	where := make([]string, 0, 2)
	args := make([]any, 0, 5)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.DeviceID != "" {
		where = append(where, "(source_device = ? OR target_device = ?)")
		args = append(args, filter.DeviceID, filter.DeviceID)
	}
	if len(where) > 0 {
		query.WriteString(" WHERE ")
		query.WriteString(strings.Join(where, " AND "))
	}
	query.WriteString(" ORDER BY start_time DESC, transfer_id LIMIT ? OFFSET ?")
	args = append(args, limit, offset)

	rows, err := s.db.Query(query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}

	transfers := make([]models.Transfer, 0)
	for rows.Next() {
		transfer, scanErr := scanTransfer(rows)
		if scanErr != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan transfer row: %w", scanErr)
		}
		transfers = append(transfers, *transfer)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate transfer rows: %w", err)
	}
	_ = rows.Close()

	for i := range transfers {
		files, err := s.loadTransferFiles(transfers[i].ID)
		if err != nil {
			return nil, err
		}
		transfers[i].Files = files
	}
	return transfers, nil
}

// DeleteTransfer removes a transfer and its files.
func (s *Store) DeleteTransfer(transferID string) error {
	if transferID == "" {
		return errors.New("transfer_id is required")
	}

	res, err := s.db.Exec(`DELETE FROM transfers WHERE transfer_id = ?`, transferID)
	if err != nil {
		return fmt.Errorf("delete transfer %q: %w", transferID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for delete transfer %q: %w", transferID, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PruneTransfers removes finished transfers that ended before cutoff.
func (s *Store) PruneTransfers(cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, errors.New("cutoff is required")
	}

	res, err := s.db.Exec(
		`DELETE FROM transfers
		WHERE status IN ('completed', 'failed')
		  AND end_time IS NOT NULL
		  AND end_time < ?`,
		toUnixMilli(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("prune transfers: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for transfer prune: %w", err)
	}
	return rowsAffected, nil
}

func (s *Store) loadTransferFiles(transferID string) ([]models.FileEntry, error) {
	rows, err := s.db.Query(
		`SELECT name, size
		FROM transfer_files
		WHERE transfer_id = ?
		ORDER BY position`,
		transferID,
	)
	if err != nil {
		return nil, fmt.Errorf("list transfer files %q: %w", transferID, err)
	}
	defer rows.Close()

	files := make([]models.FileEntry, 0)
	for rows.Next() {
		var file models.FileEntry
		if err := rows.Scan(&file.Name, &file.Size); err != nil {
			return nil, fmt.Errorf("scan transfer file row: %w", err)
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfer file rows: %w", err)
	}
	return files, nil
}

func scanTransfer(row scanner) (*models.Transfer, error) {
	var (
		transfer  models.Transfer
		status    string
		errorText sql.NullString
		startTime int64
		endTime   sql.NullInt64
	)

	if err := row.Scan(
		&transfer.ID,
		&transfer.SourceDevice,
		&transfer.TargetDevice,
		&transfer.TotalSize,
		&status,
		&transfer.Progress,
		&errorText,
		&startTime,
		&endTime,
	); err != nil {
		return nil, err
	}

	transfer.Status = models.TransferStatus(status)
	if errorText.Valid {
		transfer.Error = errorText.String
	}
	transfer.StartTime = fromUnixMilli(startTime)
	if endTime.Valid {
		end := fromUnixMilli(endTime.Int64)
		transfer.EndTime = &end
	}
	return &transfer, nil
}
