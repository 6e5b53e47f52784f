package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jaakkos/statebridge/internal/domain"
)

// CreateBackup appends one snapshot row to the backup table and reports
// success. Backups are advisory, so every failure (including calling before
// Connect) is logged and reported as false rather than returned.
func (s *Session) CreateBackup(ctx context.Context, state json.RawMessage) bool {
	client, err := s.tableClient()
	if err != nil {
		s.logger.Printf("Warning: backup skipped: %v", err)
		return false
	}
	rec := domain.BackupRecord{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Data:      state,
	}
	if err := client.InsertBackup(ctx, rec); err != nil {
		s.logger.Printf("Warning: backup insert failed: %v", err)
		return false
	}
	return true
}

// ListBackups returns all snapshots, newest first. Any failure yields an
// empty list, never an error.
func (s *Session) ListBackups(ctx context.Context) []domain.BackupRecord {
	client, err := s.tableClient()
	if err != nil {
		s.logger.Printf("Warning: list backups skipped: %v", err)
		return nil
	}
	rows, err := client.SelectBackups(ctx)
	if err != nil {
		s.logger.Printf("Warning: list backups failed: %v", err)
		return nil
	}
	return rows
}

// RestoreBackup looks up the snapshot by id and writes it back to the
// primary table byte-for-byte. An unknown id returns (false, nil) and
// performs no primary write; lookup or write failures are returned.
func (s *Session) RestoreBackup(ctx context.Context, id string) (bool, error) {
	client, err := s.tableClient()
	if err != nil {
		return false, err
	}
	rec, err := client.SelectBackup(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := client.UpsertState(ctx, domain.StateRecord{ID: domain.StateRowID, Data: rec.Data}); err != nil {
		return false, err
	}
	s.updateCache(rec.Data)
	return true, nil
}
