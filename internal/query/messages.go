package query

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

const messageColumns = `m.id, m.public_id, t.public_id, COALESCE(m.subject, ''), COALESCE(m.snippet, ''),
	m.received_date, m.is_draft, m.is_read, m.is_starred, COALESCE(m.message_id_header, '')`

var messageShape = shape{
	resource:    "messages",
	countExpr:   "m.id",
	idColumn:    "m.public_id",
	fullColumns: messageColumns,
	orderBy:     "m.received_date DESC, m.id DESC",
}

// Messages lists messages in a namespace, most recently received first.
// f.Drafts switches the listing to drafts.
func (e *Engine) Messages(ctx context.Context, namespaceID int64, f MessageFilter, view View, page Page) (Result, error) {
	if err := checkView(view); err != nil {
		return nil, err
	}

	sel := newSelect("messages m")
	sel.join("JOIN threads t ON t.id = m.thread_id")
	sel.and("m.namespace_id = ?", namespaceID)
	sel.and("m.is_draft = ?", f.Drafts)
	a := assemble(sel, messageFilters(), &scoped[MessageFilter]{ns: namespaceID, f: f})
	q := e.render(messageShape, sel, a, view, page, true)

	switch view {
	case ViewCount:
		n, err := e.count(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("count messages: %w", err)
		}
		return Count{N: n}, nil
	case ViewIDs:
		ids, err := e.queryIDs(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("list message ids: %w", err)
		}
		return IDs{IDs: ids}, nil
	}

	rows, err := e.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := []MessageItem{}
	for rows.Next() {
		var m MessageItem
		if err := rows.Scan(&m.ID, &m.PublicID, &m.ThreadPublicID, &m.Subject, &m.Snippet,
			&m.ReceivedDate, &m.IsDraft, &m.IsRead, &m.IsStarred, &m.MessageIDHeader); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	rows.Close()

	if err := e.loadMessageRelations(ctx, items); err != nil {
		return nil, err
	}
	return Items[MessageItem]{Items: items}, nil
}

// Drafts lists drafts; it is Messages with f.Drafts set.
func (e *Engine) Drafts(ctx context.Context, namespaceID int64, f MessageFilter, view View, page Page) (Result, error) {
	f.Drafts = true
	return e.Messages(ctx, namespaceID, f, view, page)
}

// loadMessageRelations batch-loads participants, categories, files and
// events for a page of messages, one query per collection in parallel.
func (e *Engine) loadMessageRelations(ctx context.Context, msgs []MessageItem) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}

	var (
		people map[int64]*participants
		cats   map[int64][]CategoryRef
		files  map[int64][]FileRef
		events map[int64][]string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		people, err = e.fetchParticipants(gctx, ids)
		return err
	})
	g.Go(func() error {
		var err error
		cats, err = e.fetchMessageCategories(gctx, ids)
		return err
	})
	g.Go(func() error {
		var err error
		files, err = e.fetchMessageFiles(gctx, ids)
		return err
	})
	g.Go(func() error {
		var err error
		events, err = e.fetchMessageEvents(gctx, ids)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("load message relations: %w", err)
	}

	for i := range msgs {
		m := &msgs[i]
		if p := people[m.ID]; p != nil {
			m.From, m.To, m.Cc, m.Bcc = p.From, p.To, p.Cc, p.Bcc
		}
		m.Categories = cats[m.ID]
		m.Files = files[m.ID]
		m.EventIDs = events[m.ID]
	}
	return nil
}
