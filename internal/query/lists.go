package query

import (
	"context"
	"fmt"
	"time"
)

// Categories lists the folders and labels of a namespace that have not
// been deleted.
func (e *Engine) Categories(ctx context.Context, namespaceID int64, view View, page Page) (Result, error) {
	if err := checkView(view); err != nil {
		return nil, err
	}
	sel := newSelect("categories c")
	sel.and("c.namespace_id = ?", namespaceID)
	sel.and("c.deleted_at IS NULL")
	q := e.render(shape{
		resource:    "categories",
		countExpr:   "c.id",
		idColumn:    "c.public_id",
		fullColumns: "c.public_id, c.name, c.display_name, c.type",
		orderBy:     "c.id ASC",
	}, sel, assembled{}, view, page, false)

	return listView(ctx, e, q, view, "categories", func(s scanner) (CategoryItem, error) {
		var c CategoryItem
		err := s.Scan(&c.PublicID, &c.Name, &c.DisplayName, &c.Type)
		return c, err
	})
}

// Contacts lists the contacts of a namespace in creation order. A
// non-nil email restricts the list to that address.
func (e *Engine) Contacts(ctx context.Context, namespaceID int64, email *string, view View, page Page) (Result, error) {
	if err := checkView(view); err != nil {
		return nil, err
	}
	sel := newSelect("contacts c")
	sel.and("c.namespace_id = ?", namespaceID)
	if email != nil {
		sel.and("c.email_address = ?", normalizeEmail(*email))
	}
	q := e.render(shape{
		resource:    "contacts",
		countExpr:   "c.id",
		idColumn:    "c.public_id",
		fullColumns: "c.public_id, COALESCE(c.name, ''), c.email_address",
		orderBy:     "c.created_at ASC, c.id ASC",
	}, sel, assembled{}, view, page, false)

	return listView(ctx, e, q, view, "contacts", func(s scanner) (ContactItem, error) {
		var c ContactItem
		err := s.Scan(&c.PublicID, &c.Name, &c.Email)
		return c, err
	})
}

// Calendars lists the calendars of a namespace.
func (e *Engine) Calendars(ctx context.Context, namespaceID int64, view View, page Page) (Result, error) {
	if err := checkView(view); err != nil {
		return nil, err
	}
	sel := newSelect("calendars cal")
	sel.and("cal.namespace_id = ?", namespaceID)
	q := e.render(shape{
		resource:    "calendars",
		countExpr:   "cal.id",
		idColumn:    "cal.public_id",
		fullColumns: "cal.public_id, cal.name, cal.read_only",
		orderBy:     "cal.id ASC",
	}, sel, assembled{}, view, page, false)

	return listView(ctx, e, q, view, "calendars", func(s scanner) (CalendarItem, error) {
		var c CalendarItem
		err := s.Scan(&c.PublicID, &c.Name, &c.ReadOnly)
		return c, err
	})
}

// listView runs q for a flat resource without related collections.
func listView[T any](ctx context.Context, e *Engine, q built, view View, what string, scan func(scanner) (T, error)) (Result, error) {
	switch view {
	case ViewCount:
		n, err := e.count(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", what, err)
		}
		return Count{N: n}, nil
	case ViewIDs:
		ids, err := e.queryIDs(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("list %s ids: %w", what, err)
		}
		return IDs{IDs: ids}, nil
	}

	rows, err := e.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", what, err)
	}
	defer rows.Close()

	items := []T{}
	for rows.Next() {
		it, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", what, err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", what, err)
	}
	return Items[T]{Items: items}, nil
}

// MessagesForContactScores returns the non-draft messages in the
// namespace's "sent" category, with their recipients, for ranking
// contacts. A non-nil startsAfter keeps only messages received after it.
func (e *Engine) MessagesForContactScores(ctx context.Context, namespaceID int64, startsAfter *time.Time) ([]ScoredMessage, error) {
	sel := newSelect("messages m")
	sel.join("JOIN message_categories mc ON mc.message_id = m.id")
	sel.join("JOIN categories c ON c.id = mc.category_id")
	sel.and("m.namespace_id = ?", namespaceID)
	sel.and("c.namespace_id = ?", namespaceID)
	sel.and("c.name = 'sent'")
	sel.and("m.is_draft = ?", false)
	if startsAfter != nil {
		sel.and("m.received_date > ?", startsAfter.UTC())
	}
	text, args := sel.selectSQL("m.id, m.received_date", "m.received_date DESC, m.id DESC", 0, 0)

	rows, err := e.query(ctx, built{text: text, args: args})
	if err != nil {
		return nil, fmt.Errorf("messages for contact scores: %w", err)
	}
	defer rows.Close()

	var out []ScoredMessage
	for rows.Next() {
		var m ScoredMessage
		if err := rows.Scan(&m.ID, &m.Date); err != nil {
			return nil, fmt.Errorf("scan scored message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scored messages: %w", err)
	}
	rows.Close()

	ids := make([]int64, len(out))
	for i, m := range out {
		ids[i] = m.ID
	}
	people, err := e.fetchParticipants(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load recipients: %w", err)
	}
	for i := range out {
		if p := people[out[i].ID]; p != nil {
			out[i].To, out[i].Cc, out[i].Bcc = p.To, p.Cc, p.Bcc
		}
	}
	return out, nil
}
