// Package liveness records per-folder sync heartbeats for accounts and
// clears them once an account is gone.
package liveness

import (
	"context"
	"fmt"
	"time"

	"github.com/wesm/mailcore/internal/store"
)

// Tracker is the liveness side of account deletion.
type Tracker interface {
	// Clear forgets every heartbeat of the account.
	Clear(ctx context.Context, accountID int64) error
}

// FolderStatus is the last heartbeat of one synced folder.
type FolderStatus struct {
	Folder    string
	UpdatedAt time.Time
}

// StoreTracker keeps heartbeats in the heartbeat_status table.
type StoreTracker struct {
	st *store.Store
}

// NewStoreTracker creates a tracker backed by st.
func NewStoreTracker(st *store.Store) *StoreTracker {
	return &StoreTracker{st: st}
}

// Beat records that folder of the account synced at at.
func (t *StoreTracker) Beat(ctx context.Context, accountID int64, folder string, at time.Time) error {
	_, err := t.st.DB().ExecContext(ctx, t.st.Rebind(`
		INSERT INTO heartbeat_status (account_id, folder_name, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (account_id, folder_name) DO UPDATE SET updated_at = excluded.updated_at
	`), accountID, folder, at.UTC())
	if err != nil {
		return fmt.Errorf("record heartbeat: %w", err)
	}
	return nil
}

// Status returns the account's heartbeats ordered by folder name.
func (t *StoreTracker) Status(ctx context.Context, accountID int64) ([]FolderStatus, error) {
	rows, err := t.st.DB().QueryContext(ctx, t.st.Rebind(`
		SELECT folder_name, updated_at
		FROM heartbeat_status
		WHERE account_id = ?
		ORDER BY folder_name
	`), accountID)
	if err != nil {
		return nil, fmt.Errorf("query heartbeats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []FolderStatus
	for rows.Next() {
		var fs FolderStatus
		if err := rows.Scan(&fs.Folder, &fs.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan heartbeat: %w", err)
		}
		fs.UpdatedAt = fs.UpdatedAt.UTC()
		out = append(out, fs)
	}
	return out, rows.Err()
}

// Clear deletes the account's heartbeats. Clearing an account without
// heartbeats is not an error.
func (t *StoreTracker) Clear(ctx context.Context, accountID int64) error {
	if _, err := t.st.DB().ExecContext(ctx, t.st.Rebind(
		`DELETE FROM heartbeat_status WHERE account_id = ?`,
	), accountID); err != nil {
		return fmt.Errorf("clear heartbeats for account %d: %w", accountID, err)
	}
	return nil
}
