package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wesm/mailcore/internal/publicid"
)

// Account discriminators. Anything other than AccountTypeEAS uses the
// default IMAP-style sync tables.
const (
	AccountTypeIMAP  = "imapaccount"
	AccountTypeGmail = "gmailaccount"
	AccountTypeEAS   = "easaccount"
)

// Account represents a synced mail account.
type Account struct {
	ID            int64
	PublicID      string
	Discriminator string
	EmailAddress  string
	SyncShouldRun bool
	IsDeleted     bool
	SecretID      sql.NullInt64
	CreatedAt     time.Time
}

// IsEAS reports whether the account syncs over Exchange ActiveSync.
func (a *Account) IsEAS() bool {
	return a.Discriminator == AccountTypeEAS
}

// Namespace is the ownership scope of every user-visible object. There is
// exactly one namespace per account.
type Namespace struct {
	ID           int64
	PublicID     string
	AccountID    int64
	EmailAddress string
}

// DeletionTarget identifies an account marked for deletion and the
// namespace it owns.
type DeletionTarget struct {
	AccountID   int64
	NamespaceID int64
}

// CreateAccount inserts an account with its secret and namespace.
// An empty discriminator defaults to AccountTypeIMAP.
func (s *Store) CreateAccount(ctx context.Context, email, discriminator string, secret []byte) (*Account, *Namespace, error) {
	if discriminator == "" {
		discriminator = AccountTypeIMAP
	}
	acct := &Account{
		PublicID:      publicid.New(),
		Discriminator: discriminator,
		EmailAddress:  email,
		SyncShouldRun: true,
		CreatedAt:     time.Now().UTC(),
	}
	ns := &Namespace{
		PublicID:     publicid.New(),
		EmailAddress: email,
	}

	err := s.WithTx(ctx, func(tx *Tx) error {
		var secretID int64
		if err := tx.QueryRowContext(ctx,
			`INSERT INTO secrets (secret_type, secret) VALUES ('password', ?) RETURNING id`,
			secret,
		).Scan(&secretID); err != nil {
			return fmt.Errorf("insert secret: %w", err)
		}
		acct.SecretID = sql.NullInt64{Int64: secretID, Valid: true}

		if err := tx.QueryRowContext(ctx, `
			INSERT INTO accounts (public_id, discriminator, email_address, sync_should_run, is_deleted, secret_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			RETURNING id
		`, acct.PublicID, acct.Discriminator, acct.EmailAddress, true, false, secretID, acct.CreatedAt,
		).Scan(&acct.ID); err != nil {
			return fmt.Errorf("insert account: %w", err)
		}

		ns.AccountID = acct.ID
		if err := tx.QueryRowContext(ctx,
			`INSERT INTO namespaces (public_id, account_id, email_address) VALUES (?, ?, ?) RETURNING id`,
			ns.PublicID, ns.AccountID, ns.EmailAddress,
		).Scan(&ns.ID); err != nil {
			return fmt.Errorf("insert namespace: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return acct, ns, nil
}

// GetAccount returns the account with the given id, or ErrNotFound.
func (s *Store) GetAccount(ctx context.Context, id int64) (*Account, error) {
	row := s.db.QueryRowContext(ctx, s.Rebind(`
		SELECT id, public_id, discriminator, email_address,
		       sync_should_run, is_deleted, secret_id, created_at
		FROM accounts
		WHERE id = ?
	`), id)

	var a Account
	err := row.Scan(&a.ID, &a.PublicID, &a.Discriminator, &a.EmailAddress,
		&a.SyncShouldRun, &a.IsDeleted, &a.SecretID, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %d: %w", id, err)
	}
	return &a, nil
}

// GetNamespaceByAccount returns the namespace owned by an account.
func (s *Store) GetNamespaceByAccount(ctx context.Context, accountID int64) (*Namespace, error) {
	var ns Namespace
	var email sql.NullString
	err := s.db.QueryRowContext(ctx, s.Rebind(`
		SELECT id, public_id, account_id, email_address
		FROM namespaces
		WHERE account_id = ?
	`), accountID).Scan(&ns.ID, &ns.PublicID, &ns.AccountID, &email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("namespace for account %d: %w", accountID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get namespace: %w", err)
	}
	ns.EmailAddress = email.String
	return &ns, nil
}

// GetNamespaceByPublicID resolves a namespace public id.
func (s *Store) GetNamespaceByPublicID(ctx context.Context, publicID string) (*Namespace, error) {
	var ns Namespace
	var email sql.NullString
	err := s.db.QueryRowContext(ctx, s.Rebind(`
		SELECT id, public_id, account_id, email_address
		FROM namespaces
		WHERE public_id = ?
	`), publicID).Scan(&ns.ID, &ns.PublicID, &ns.AccountID, &email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("namespace %q: %w", publicID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get namespace: %w", err)
	}
	ns.EmailAddress = email.String
	return &ns, nil
}

// MarkAccountDeleted flags an account for deletion and stops its sync.
func (s *Store) MarkAccountDeleted(ctx context.Context, accountID int64) error {
	res, err := s.db.ExecContext(ctx, s.Rebind(
		`UPDATE accounts SET is_deleted = ?, sync_should_run = ? WHERE id = ?`,
	), true, false, accountID)
	if err != nil {
		return fmt.Errorf("mark account deleted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("account %d: %w", accountID, ErrNotFound)
	}
	return nil
}

// SetSyncShouldRun toggles whether sync workers pick up an account.
func (s *Store) SetSyncShouldRun(ctx context.Context, accountID int64, run bool) error {
	_, err := s.db.ExecContext(ctx, s.Rebind(
		`UPDATE accounts SET sync_should_run = ? WHERE id = ?`,
	), run, accountID)
	if err != nil {
		return fmt.Errorf("set sync_should_run: %w", err)
	}
	return nil
}

// AccountsToDelete snapshots every account that is marked deleted and no
// longer syncing, paired with its namespace.
func (s *Store) AccountsToDelete(ctx context.Context) ([]DeletionTarget, error) {
	rows, err := s.db.QueryContext(ctx, s.Rebind(`
		SELECT a.id, n.id
		FROM accounts a
		JOIN namespaces n ON n.account_id = a.id
		WHERE a.is_deleted = ? AND a.sync_should_run = ?
		ORDER BY a.id
	`), true, false)
	if err != nil {
		return nil, fmt.Errorf("query accounts to delete: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var targets []DeletionTarget
	for rows.Next() {
		var t DeletionTarget
		if err := rows.Scan(&t.AccountID, &t.NamespaceID); err != nil {
			return nil, fmt.Errorf("scan deletion target: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// DeleteAccount removes an account row together with its secret.
func (s *Store) DeleteAccount(ctx context.Context, accountID int64) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		var secretID sql.NullInt64
		err := tx.QueryRowContext(ctx,
			`SELECT secret_id FROM accounts WHERE id = ?`, accountID,
		).Scan(&secretID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("account %d: %w", accountID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load account: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, accountID); err != nil {
			return fmt.Errorf("delete account: %w", err)
		}
		if secretID.Valid {
			if _, err := tx.ExecContext(ctx, `DELETE FROM secrets WHERE id = ?`, secretID.Int64); err != nil {
				return fmt.Errorf("delete secret: %w", err)
			}
		}
		return nil
	})
}
