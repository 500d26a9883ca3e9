package query

import (
	"context"
	"database/sql"
	"fmt"
)

// metadataOperators maps a query_type to its SQL comparison.
var metadataOperators = map[string]string{
	">":  ">",
	">=": ">=",
	"<":  "<",
	"<=": "<=",
	"==": "=",
	"!=": "!=",
}

const metadataColumns = `md.id, md.public_id, md.app_id, md.object_public_id, md.object_type,
	COALESCE(md.value, ''), md.queryable_value, md.version`

var metadataShape = shape{
	resource:    "metadata",
	countExpr:   "md.id",
	idColumn:    "md.object_public_id",
	fullColumns: metadataColumns,
	orderBy:     "md.id DESC",
}

// Metadata lists metadata entries with a value, newest first. The ids
// view returns the public ids of the objects the entries describe.
func (e *Engine) Metadata(ctx context.Context, namespaceID int64, f MetadataFilter, view View, page Page) (Result, error) {
	if err := checkView(view); err != nil {
		return nil, err
	}

	sel := newSelect("metadata md")
	sel.and("md.namespace_id = ?", namespaceID)
	sel.and("md.value IS NOT NULL")
	if f.AppID != nil {
		sel.and("md.app_id = ?", *f.AppID)
	}
	q := e.render(metadataShape, sel, assembled{}, view, page, false)

	switch view {
	case ViewCount:
		n, err := e.count(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("count metadata: %w", err)
		}
		return Count{N: n}, nil
	case ViewIDs:
		ids, err := e.queryIDs(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("list metadata ids: %w", err)
		}
		return IDs{IDs: ids}, nil
	}

	items, err := e.fetchMetadata(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list metadata: %w", err)
	}
	return Items[MetadataItem]{Items: items}, nil
}

// MetadataQuery is the input of MetadataForApp.
type MetadataQuery struct {
	AppID      string
	Limit      int
	Last       *int64  // only entries with id > Last
	QueryValue *int64  // compared against queryable_value
	QueryType  *string // one of > >= < <= == !=
}

// MetadataForApp pages through all metadata of one app across
// namespaces in id order, optionally comparing queryable_value. It
// returns ErrMissingAppID without an app id and ErrInvalidOperator for an
// unknown QueryType.
func (e *Engine) MetadataForApp(ctx context.Context, mq MetadataQuery) ([]MetadataItem, error) {
	if mq.AppID == "" {
		return nil, ErrMissingAppID
	}

	sel := newSelect("metadata md")
	sel.and("md.app_id = ?", mq.AppID)
	if mq.Last != nil {
		sel.and("md.id > ?", *mq.Last)
	}
	if mq.QueryType != nil {
		op, ok := metadataOperators[*mq.QueryType]
		if !ok {
			return nil, fmt.Errorf("%w %q: must be one of >, >=, <, <=, ==, !=", ErrInvalidOperator, *mq.QueryType)
		}
		var v interface{}
		if mq.QueryValue != nil {
			v = *mq.QueryValue
		}
		sel.and("md.queryable_value "+op+" ?", v)
	}

	text, args := sel.selectSQL(metadataColumns, "md.id ASC", e.limit(Page{Limit: mq.Limit}), 0)
	items, err := e.fetchMetadata(ctx, built{text: text, args: args})
	if err != nil {
		return nil, fmt.Errorf("metadata for app: %w", err)
	}
	return items, nil
}

func (e *Engine) fetchMetadata(ctx context.Context, q built) ([]MetadataItem, error) {
	rows, err := e.query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []MetadataItem{}
	for rows.Next() {
		var it MetadataItem
		var qv sql.NullInt64
		if err := rows.Scan(&it.ID, &it.PublicID, &it.AppID, &it.ObjectPublicID, &it.ObjectType,
			&it.Value, &qv, &it.Version); err != nil {
			return nil, err
		}
		if qv.Valid {
			v := qv.Int64
			it.QueryableValue = &v
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
