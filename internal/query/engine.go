package query

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/wesm/mailcore/internal/store"
)

// DefaultLimit applies when a Page has no limit.
const DefaultLimit = 100

// Engine runs list queries against a store. One Engine should be shared
// per database so its plan cache is reused across requests.
type Engine struct {
	db           *sql.DB
	dialect      store.Dialect
	plans        *PlanCache
	defaultLimit int
	now          func() time.Time
	logger       *slog.Logger
}

// NewEngine creates an Engine over st.
func NewEngine(st *store.Store) *Engine {
	return &Engine{
		db:           st.DB(),
		dialect:      st.Dialect(),
		plans:        NewPlanCache(),
		defaultLimit: DefaultLimit,
		now:          time.Now,
		logger:       slog.Default(),
	}
}

// WithLogger sets the logger for the engine.
func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	e.logger = logger
	return e
}

// WithDefaultLimit sets the limit used when a Page has none.
func (e *Engine) WithDefaultLimit(n int) *Engine {
	if n > 0 {
		e.defaultLimit = n
	}
	return e
}

// WithClock sets the clock that bounds open-ended recurring expansion.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Plans exposes the plan cache.
func (e *Engine) Plans() *PlanCache { return e.plans }

// Close releases cached statements.
func (e *Engine) Close() error {
	return e.plans.Close()
}

func (e *Engine) limit(p Page) int {
	if p.Limit > 0 {
		return p.Limit
	}
	return e.defaultLimit
}

// built is a rendered statement ready to run. A non-empty key routes it
// through the plan cache.
type built struct {
	text string
	args []interface{}
	key  string
}

func (e *Engine) query(ctx context.Context, q built) (*sql.Rows, error) {
	text := store.Rebind(e.dialect, q.text)
	if q.key == "" {
		return e.db.QueryContext(ctx, text, q.args...)
	}
	st, err := e.plans.stmt(ctx, e.db, q.key, text)
	if err != nil {
		return nil, err
	}
	return st.QueryContext(ctx, q.args...)
}

func (e *Engine) count(ctx context.Context, q built) (int64, error) {
	text := store.Rebind(e.dialect, q.text)
	var n int64
	if q.key == "" {
		err := e.db.QueryRowContext(ctx, text, q.args...).Scan(&n)
		return n, err
	}
	st, err := e.plans.stmt(ctx, e.db, q.key, text)
	if err != nil {
		return 0, err
	}
	err = st.QueryRowContext(ctx, q.args...).Scan(&n)
	return n, err
}

// queryIDs runs a query projecting one string column.
func (e *Engine) queryIDs(ctx context.Context, q built) ([]string, error) {
	rows, err := e.query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// shape describes how a resource renders each view.
type shape struct {
	resource    string
	countExpr   string
	idColumn    string
	fullColumns string
	orderBy     string
}

// render turns an assembled builder into a statement for view. Calls
// whose filters were all cacheable get a plan key.
func (e *Engine) render(sh shape, sel *selectBuilder, a assembled, view View, page Page, cacheable bool) built {
	var q built
	switch view {
	case ViewCount:
		q.text, q.args = sel.countSQL(sh.countExpr)
	case ViewIDs:
		q.text, q.args = sel.selectSQL(sh.idColumn, sh.orderBy, e.limit(page), page.Offset)
	default:
		q.text, q.args = sel.selectSQL(sh.fullColumns, sh.orderBy, e.limit(page), page.Offset)
	}
	if cacheable && a.cacheable {
		q.key = planKey(sh.resource, view, a.names, page.Offset > 0)
	}
	return q
}

func checkView(view View) error {
	if !view.valid() {
		return fmt.Errorf("%w: %s", ErrInvalidView, view)
	}
	return nil
}
