package deletion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wesm/mailcore/internal/store"
)

const (
	// DefaultPurgeDays is how long transactions are kept.
	DefaultPurgeDays = 60
	// DefaultPurgeLimit caps the rows one purge batch deletes.
	DefaultPurgeLimit = 1000
)

// PurgeOptions configures PurgeTransactions.
type PurgeOptions struct {
	// Days keeps transactions newer than this many days. Zero means
	// DefaultPurgeDays.
	Days int
	// Limit is the batch size. Zero means DefaultPurgeLimit.
	Limit  int
	DryRun bool
}

// Purger prunes old rows from the transaction log.
type Purger struct {
	st       *store.Store
	throttle *Throttle
	logger   *slog.Logger
	now      func() time.Time
}

// NewPurger creates a purger. A nil throttle never pauses.
func NewPurger(st *store.Store, throttle *Throttle) *Purger {
	if throttle == nil {
		throttle = Disabled()
	}
	return &Purger{st: st, throttle: throttle, logger: slog.Default(), now: time.Now}
}

// WithLogger sets the logger.
func (p *Purger) WithLogger(logger *slog.Logger) *Purger {
	p.logger = logger
	return p
}

// WithClock sets the time source for the cutoff.
func (p *Purger) WithClock(now func() time.Time) *Purger {
	p.now = now
	return p
}

// PurgeTransactions deletes transactions created before now minus
// opts.Days, opts.Limit rows at a time, until a batch finds nothing. It
// returns the number of rows deleted, or matched in a dry run.
func (p *Purger) PurgeTransactions(ctx context.Context, opts PurgeOptions) (int64, error) {
	if opts.Days <= 0 {
		opts.Days = DefaultPurgeDays
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultPurgeLimit
	}
	cutoff := p.now().UTC().AddDate(0, 0, -opts.Days)
	logger := p.logger.With("cutoff", cutoff, "limit", opts.Limit, "dry_run", opts.DryRun)
	logger.Info("purging transactions")

	var total int64
	for {
		if err := p.throttle.Wait(ctx); err != nil {
			return total, err
		}
		start := p.now()
		var n int64
		var err error
		if opts.DryRun {
			n, err = p.countBatch(ctx, cutoff, opts.Limit, total)
		} else {
			n, err = p.deleteBatch(ctx, cutoff, opts.Limit)
		}
		if err != nil {
			return total, fmt.Errorf("purge transactions: %w", err)
		}
		if n == 0 {
			break
		}
		total += n
		logger.Info("purged transactions batch", "count", n, "total", total, "duration", p.now().Sub(start))
	}

	logger.Info("finished purging transactions", "count", total)
	return total, nil
}

func (p *Purger) deleteBatch(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	res, err := p.st.DB().ExecContext(ctx, p.st.Rebind(`
		DELETE FROM transactions WHERE id IN (
			SELECT id FROM transactions WHERE created_at < ? LIMIT ?
		)
	`), cutoff, limit)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// countBatch pages through the rows a real purge would delete.
func (p *Purger) countBatch(ctx context.Context, cutoff time.Time, limit int, offset int64) (int64, error) {
	rows, err := p.st.DB().QueryContext(ctx, p.st.Rebind(`
		SELECT id FROM transactions WHERE created_at < ?
		ORDER BY id LIMIT ? OFFSET ?
	`), cutoff, limit, offset)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rows.Close() }()
	var n int64
	for rows.Next() {
		n++
	}
	return n, rows.Err()
}
