package query

import (
	"context"
	"fmt"
)

// A block is a real attachment when no part references it (an upload) or
// when some part gives it a content disposition. Each condition is an
// EXISTS test so a block with several parts is still one row.
const attachmentCondition = `(NOT EXISTS (SELECT 1 FROM parts p WHERE p.block_id = b.id)
	OR EXISTS (SELECT 1 FROM parts p WHERE p.block_id = b.id AND p.content_disposition IS NOT NULL))`

var fileShape = shape{
	resource:    "files",
	countExpr:   "b.id",
	idColumn:    "b.public_id",
	fullColumns: "b.id, b.public_id, COALESCE(b.filename, ''), COALESCE(b.content_type, ''), b.size",
	orderBy:     "b.id ASC",
}

// Files lists attachments and uploads in a namespace in insertion order.
func (e *Engine) Files(ctx context.Context, namespaceID int64, f FileFilter, view View, page Page) (Result, error) {
	if err := checkView(view); err != nil {
		return nil, err
	}

	sel := newSelect("blocks b")
	sel.and("b.namespace_id = ?", namespaceID)
	sel.and(attachmentCondition)
	a := assemble(sel, fileFilters(), &scoped[FileFilter]{ns: namespaceID, f: f})
	q := e.render(fileShape, sel, a, view, page, false)

	switch view {
	case ViewCount:
		n, err := e.count(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("count files: %w", err)
		}
		return Count{N: n}, nil
	case ViewIDs:
		ids, err := e.queryIDs(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("list file ids: %w", err)
		}
		return IDs{IDs: ids}, nil
	}

	rows, err := e.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	items := []FileItem{}
	for rows.Next() {
		var it FileItem
		if err := rows.Scan(&it.ID, &it.PublicID, &it.Filename, &it.ContentType, &it.Size); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	rows.Close()

	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	owners, err := e.fetchBlockMessages(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load file messages: %w", err)
	}
	for i := range items {
		items[i].MessageIDs = owners[items[i].ID]
	}
	return Items[FileItem]{Items: items}, nil
}
