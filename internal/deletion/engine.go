// Package deletion removes everything a deleted account owns, table by
// table in bounded batches, and prunes the transaction log. Both jobs
// yield to a Throttle before every batch.
package deletion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rotisserie/eris"

	"github.com/wesm/mailcore/internal/liveness"
	"github.com/wesm/mailcore/internal/store"
)

const (
	// DefaultChunkSize sets how many batches a table gets: ceil(rows/chunk).
	DefaultChunkSize = 1000
	// DefaultBatchLimit caps the rows one batch statement deletes.
	DefaultBatchLimit = 2000
)

// Options configures one deletion run.
type Options struct {
	// DryRun counts, batches and throttles as usual but deletes nothing.
	DryRun bool
}

// scope addresses the rows of one table owned by a namespace or account.
type scope struct {
	table  string
	column string
	id     int64
}

func (s scope) countSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", s.table, s.column)
}

func (s scope) batchSQL() string {
	return fmt.Sprintf("DELETE FROM %[1]s WHERE id IN (SELECT id FROM %[1]s WHERE %[2]s = ? LIMIT ?)", s.table, s.column)
}

func (s scope) bulkSQL() string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = ?", s.table, s.column)
}

// batchedScopes lists the high-volume tables in deletion order, followed
// by the sync tables of the account's type.
func batchedScopes(acct *store.Account, namespaceID int64) []scope {
	var out []scope
	for _, t := range []string{
		"messages", "blocks", "threads", "transactions", "action_log",
		"contacts", "events", "data_processing_cache",
	} {
		out = append(out, scope{table: t, column: "namespace_id", id: namespaceID})
	}
	if acct.IsEAS() {
		return append(out,
			scope{table: "eas_uids", column: "easaccount_id", id: acct.ID},
			scope{table: "eas_folder_sync_status", column: "account_id", id: acct.ID},
		)
	}
	return append(out,
		scope{table: "imap_uids", column: "account_id", id: acct.ID},
		scope{table: "imap_folder_sync_status", column: "account_id", id: acct.ID},
		scope{table: "imap_folder_info", column: "account_id", id: acct.ID},
	)
}

// bulkScopes lists the low-volume tables deleted with one statement each.
// The namespace row goes last.
func bulkScopes(accountID, namespaceID int64) []scope {
	return []scope{
		{table: "categories", column: "namespace_id", id: namespaceID},
		{table: "calendars", column: "namespace_id", id: namespaceID},
		{table: "folders", column: "account_id", id: accountID},
		{table: "labels", column: "account_id", id: accountID},
		{table: "namespaces", column: "id", id: namespaceID},
	}
}

// messageDependents are deleted together with each batch of messages.
var messageDependents = []string{"message_contact_associations", "message_categories", "parts"}

// Engine deletes the namespaces of accounts marked for deletion.
//
// Each batch is its own short transaction. A namespace is not deleted
// atomically; running the same deletion again resumes where it stopped.
type Engine struct {
	st         *store.Store
	tracker    liveness.Tracker
	throttle   *Throttle
	chunkSize  int
	batchLimit int
	logger     *slog.Logger
	now        func() time.Time
}

// NewEngine creates a deletion engine that never throttles.
func NewEngine(st *store.Store, tracker liveness.Tracker) *Engine {
	return &Engine{
		st:         st,
		tracker:    tracker,
		throttle:   Disabled(),
		chunkSize:  DefaultChunkSize,
		batchLimit: DefaultBatchLimit,
		logger:     slog.Default(),
		now:        time.Now,
	}
}

// WithThrottle sets the throttle consulted before every batch.
func (e *Engine) WithThrottle(t *Throttle) *Engine {
	e.throttle = t
	return e
}

// WithLogger sets the logger.
func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	e.logger = logger
	return e
}

// WithClock sets the time source for reports and timings.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithChunkSize sets the divisor for the batch count. Non-positive
// values are ignored.
func (e *Engine) WithChunkSize(n int) *Engine {
	if n > 0 {
		e.chunkSize = n
	}
	return e
}

// WithBatchLimit sets the per-statement row cap. Non-positive values are
// ignored.
func (e *Engine) WithBatchLimit(n int) *Engine {
	if n > 0 {
		e.batchLimit = n
	}
	return e
}

// AccountsToDelete snapshots the accounts that are marked deleted and no
// longer syncing.
func (e *Engine) AccountsToDelete(ctx context.Context) ([]store.DeletionTarget, error) {
	return e.st.AccountsToDelete(ctx)
}

// DeleteMarkedAccounts deletes every target in turn. Targets whose
// account is gone or no longer eligible are skipped. A failure in one
// namespace is logged and the run moves on, so the returned report is
// the only outcome.
func (e *Engine) DeleteMarkedAccounts(ctx context.Context, targets []store.DeletionTarget, opts Options) *Report {
	start := e.now()
	rep := NewReport("delete-accounts", opts.DryRun, start)

	for _, t := range targets {
		if ctx.Err() != nil {
			e.logger.Warn("deletion interrupted", "error", ctx.Err())
			break
		}
		if err := e.deleteTarget(ctx, t, opts, rep); err != nil {
			e.logger.Error("unexpected error deleting account",
				"account_id", t.AccountID,
				"namespace_id", t.NamespaceID,
				"error", eris.ToString(err, true),
			)
		}
	}

	end := e.now()
	rep.finish(end)
	e.logger.Info("all data deleted",
		"duration", end.Sub(start),
		"count", rep.Deleted(),
		"dry_run", opts.DryRun,
	)
	return rep
}

// deleteTarget deletes one account. Precondition failures and table
// failures are handled here; anything else, including a panic, is
// returned with a stack for the caller to log.
func (e *Engine) deleteTarget(ctx context.Context, t store.DeletionTarget, opts Options, rep *Report) (err error) {
	var nsr *NamespaceReport
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("panic deleting account %d: %v", t.AccountID, r)
		}
		if err != nil && nsr != nil && nsr.Error == "" {
			nsr.Error = err.Error()
		}
	}()

	acct, err := e.st.GetAccount(ctx, t.AccountID)
	if errors.Is(err, store.ErrNotFound) {
		e.logger.Error("account does not exist", "account_id", t.AccountID)
		rep.skip(t.AccountID, "account does not exist")
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "verify account %d", t.AccountID)
	}
	if acct.SyncShouldRun || !acct.IsDeleted {
		e.logger.Warn("account not marked for deletion, will not delete", "account_id", acct.ID)
		rep.skip(acct.ID, "not marked for deletion")
		return nil
	}

	e.logger.Info("deleting account", "account_id", acct.ID, "namespace_id", t.NamespaceID)
	nsr = rep.namespace(acct.ID, t.NamespaceID, acct.Discriminator)
	if err := e.deleteNamespace(ctx, acct, t.NamespaceID, opts, nsr); err != nil {
		e.logger.Error("database data deletion failed",
			"account_id", acct.ID,
			"namespace_id", t.NamespaceID,
			"critical", true,
			"error", err,
		)
		nsr.Error = err.Error()
		return nil
	}

	if !opts.DryRun {
		e.logger.Debug("deleting liveness data", "account_id", acct.ID)
		if err := e.tracker.Clear(ctx, acct.ID); err != nil {
			return eris.Wrapf(err, "clear liveness for account %d", acct.ID)
		}
	}
	nsr.Completed = true
	return nil
}

// DeleteNamespace deletes every row owned by the account's namespace and
// then the account itself. It does not check the deletion precondition.
// Repeating it on an already deleted namespace deletes nothing and
// succeeds.
func (e *Engine) DeleteNamespace(ctx context.Context, acct *store.Account, namespaceID int64, opts Options) (*NamespaceReport, error) {
	nsr := &NamespaceReport{AccountID: acct.ID, NamespaceID: namespaceID, Discriminator: acct.Discriminator}
	err := e.deleteNamespace(ctx, acct, namespaceID, opts, nsr)
	nsr.Completed = err == nil
	return nsr, err
}

func (e *Engine) deleteNamespace(ctx context.Context, acct *store.Account, namespaceID int64, opts Options, nsr *NamespaceReport) error {
	start := e.now()
	defer func() { nsr.Duration = Duration(e.now().Sub(start)) }()

	for _, s := range batchedScopes(acct, namespaceID) {
		n, err := e.batchDelete(ctx, s, opts)
		if err != nil {
			return fmt.Errorf("batch delete %s: %w", s.table, err)
		}
		nsr.add(s.table, n)
	}
	for _, s := range bulkScopes(acct.ID, namespaceID) {
		n, err := e.bulkDelete(ctx, s, opts)
		if err != nil {
			return fmt.Errorf("bulk delete %s: %w", s.table, err)
		}
		nsr.add(s.table, n)
	}

	if opts.DryRun {
		return nil
	}
	// The account goes through the store so its secret goes with it.
	err := e.st.DeleteAccount(ctx, acct.ID)
	if errors.Is(err, store.ErrNotFound) {
		e.logger.Debug("account row already deleted", "account_id", acct.ID)
		nsr.add("accounts", 0)
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	nsr.add("accounts", 1)
	return nil
}

func (e *Engine) count(ctx context.Context, s scope) (int64, error) {
	var n int64
	err := e.st.DB().QueryRowContext(ctx, e.st.Rebind(s.countSQL()), s.id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", s.table, err)
	}
	return n, nil
}

// batchDelete deletes s in ceil(count/chunk) batches. It returns the rows
// deleted, or the rows counted in a dry run.
func (e *Engine) batchDelete(ctx context.Context, s scope, opts Options) (int64, error) {
	logger := e.logger.With("table", s.table)
	count, err := e.count(ctx, s)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		logger.Info("completed batch deletion", "count", 0)
		return 0, nil
	}

	batches := int((count + int64(e.chunkSize) - 1) / int64(e.chunkSize))
	logger.Info("starting batch deletion", "count", count, "batches", batches)
	start := e.now()

	var deleted int64
	for i := 0; i < batches; i++ {
		if err := e.throttle.Wait(ctx); err != nil {
			return deleted, err
		}
		if opts.DryRun {
			logger.Debug("dry run", "statement", s.batchSQL(), "batch", i+1)
			continue
		}
		n, err := e.deleteBatch(ctx, s)
		if err != nil {
			return deleted, err
		}
		deleted += n
		if n == 0 {
			break
		}
	}
	if opts.DryRun {
		deleted = count
	}

	logger.Info("completed batch deletion", "count", deleted, "duration", e.now().Sub(start))
	return deleted, nil
}

func (e *Engine) deleteBatch(ctx context.Context, s scope) (int64, error) {
	if s.table == "messages" {
		return e.deleteMessageBatch(ctx, s.id)
	}
	res, err := e.st.DB().ExecContext(ctx, e.st.Rebind(s.batchSQL()), s.id, e.batchLimit)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// deleteMessageBatch deletes the newest batch of messages, with the rows
// that reference them, in one transaction. Messages must go in
// descending received_date order.
func (e *Engine) deleteMessageBatch(ctx context.Context, namespaceID int64) (int64, error) {
	var n int64
	err := e.st.WithTx(ctx, func(tx *store.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id FROM messages
			WHERE namespace_id = ?
			ORDER BY received_date DESC, id DESC
			LIMIT ?
		`, namespaceID, e.batchLimit)
		if err != nil {
			return fmt.Errorf("select message batch: %w", err)
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		for _, dep := range messageDependents {
			if _, err := tx.ExecInChunks(ctx, ids, "DELETE FROM "+dep+" WHERE message_id IN (%s)"); err != nil {
				return fmt.Errorf("delete %s: %w", dep, err)
			}
		}
		n, err = tx.ExecInChunks(ctx, ids, "DELETE FROM messages WHERE id IN (%s)")
		return err
	})
	return n, err
}

// bulkDelete removes s with a single statement.
func (e *Engine) bulkDelete(ctx context.Context, s scope, opts Options) (int64, error) {
	logger := e.logger.With("table", s.table)
	logger.Info("performing bulk deletion")
	start := e.now()

	if err := e.throttle.Wait(ctx); err != nil {
		return 0, err
	}
	if opts.DryRun {
		logger.Debug("dry run", "statement", s.bulkSQL())
		n, err := e.count(ctx, s)
		if err != nil {
			return 0, err
		}
		logger.Info("completed bulk deletion", "count", n, "duration", e.now().Sub(start))
		return n, nil
	}

	res, err := e.st.DB().ExecContext(ctx, e.st.Rebind(s.bulkSQL()), s.id)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	logger.Info("completed bulk deletion", "count", n, "duration", e.now().Sub(start))
	return n, nil
}
