package query

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sort"

	"github.com/wesm/mailcore/internal/recurrence"
	"github.com/wesm/mailcore/internal/store"
)

// DiscriminatorInstance marks an event materialized from a recurring
// template. Instances are never stored.
const DiscriminatorInstance = "inflatedevent"

const eventColumns = `e.id, e.public_id, cal.public_id, COALESCE(e.title, ''), COALESCE(e.description, ''),
	COALESCE(e.location, ''), e.busy, e.status, e.start_time, e.end_time, e.all_day, e.discriminator,
	COALESCE(e.recurrence, ''), COALESCE(e.start_timezone, ''), e.until_time,
	COALESCE(me.public_id, ''), e.original_start_time`

var eventShape = shape{
	resource:    "events",
	countExpr:   "e.id",
	idColumn:    "e.public_id",
	fullColumns: eventColumns,
	orderBy:     "e.start_time ASC, e.id ASC",
}

// eventRow is an event plus the columns only expansion needs.
type eventRow struct {
	item     EventItem
	timezone string
	until    sql.NullTime
	rule     string
}

func newEventSelect(namespaceID int64) *selectBuilder {
	sel := newSelect("events e")
	sel.join("JOIN calendars cal ON cal.id = e.calendar_id")
	sel.join("LEFT JOIN events me ON me.id = e.master_event_id")
	sel.and("e.namespace_id = ?", namespaceID)
	sel.and("e.source = 'local'")
	return sel
}

// Events lists events in a namespace by ascending start time.
//
// Without expansion, recurring templates and their overrides are returned
// as stored; cancelled events are hidden unless f.ShowCancelled, except
// cancelled overrides which clients need to expand recurrences
// themselves. With f.ExpandRecurring, templates are replaced by their
// instances in the window and the merged list is counted, sorted and
// paginated in memory.
func (e *Engine) Events(ctx context.Context, namespaceID int64, f EventFilter, view View, page Page) (Result, error) {
	if err := checkView(view); err != nil {
		return nil, err
	}
	if f.ExpandRecurring {
		return e.expandedEvents(ctx, namespaceID, f, view, page)
	}

	sc := &scoped[EventFilter]{ns: namespaceID, f: f}
	sel := newEventSelect(namespaceID)
	a := assemble(sel, eventFilters(), sc)
	assemble(sel, eventWindowFilters(), sc)
	if !f.ShowCancelled {
		sel.and("(e.discriminator = 'recurringeventoverride' OR e.status != 'cancelled')")
	}
	q := e.render(eventShape, sel, a, view, page, false)

	switch view {
	case ViewCount:
		n, err := e.count(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("count events: %w", err)
		}
		return Count{N: n}, nil
	case ViewIDs:
		ids, err := e.queryIDs(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("list event ids: %w", err)
		}
		return IDs{IDs: ids}, nil
	}

	rows, err := e.fetchEvents(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	items := make([]EventItem, len(rows))
	for i, r := range rows {
		items[i] = r.item
	}
	return Items[EventItem]{Items: items}, nil
}

func (e *Engine) expandedEvents(ctx context.Context, namespaceID int64, f EventFilter, view View, page Page) (Result, error) {
	sc := &scoped[EventFilter]{ns: namespaceID, f: f}

	single := newEventSelect(namespaceID)
	assemble(single, eventFilters(), sc)
	assemble(single, eventWindowFilters(), sc)
	if !f.ShowCancelled {
		single.and("e.status != 'cancelled'")
	}
	single.and("e.discriminator = ?", store.EventKindSingle)
	q, args := single.selectSQL(eventColumns, eventShape.orderBy, 0, 0)
	singles, err := e.fetchEvents(ctx, built{text: q, args: args})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	instances, err := e.recurringInstances(ctx, namespaceID, f)
	if err != nil {
		return nil, err
	}

	all := make([]EventItem, 0, len(singles)+len(instances))
	for _, r := range singles {
		all = append(all, r.item)
	}
	all = append(all, instances...)

	if view == ViewCount {
		return Count{N: int64(len(all))}, nil
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Start.Before(all[j].Start) })
	all = paginate(all, page.Offset, e.limit(page))

	if view == ViewIDs {
		ids := make([]string, len(all))
		for i, ev := range all {
			ids[i] = ev.PublicID
		}
		return IDs{IDs: ids}, nil
	}
	return Items[EventItem]{Items: all}, nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return items[:0]
	}
	end := offset + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

// recurringInstances selects the recurring templates that can have an
// instance in f's window and materializes those instances.
func (e *Engine) recurringInstances(ctx context.Context, namespaceID int64, f EventFilter) ([]EventItem, error) {
	sc := &scoped[EventFilter]{ns: namespaceID, f: f}
	sel := newEventSelect(namespaceID)
	assemble(sel, eventFilters(), sc)
	if !f.ShowCancelled {
		sel.and("e.status != 'cancelled'")
	}
	assemble(sel, templateWindowFilters(), sc)
	sel.and("e.discriminator = ?", store.EventKindRecurring)
	q, args := sel.selectSQL(eventColumns, eventShape.orderBy, 0, 0)
	templates, err := e.fetchEvents(ctx, built{text: q, args: args})
	if err != nil {
		return nil, fmt.Errorf("list recurring events: %w", err)
	}
	if len(templates) == 0 {
		return nil, nil
	}

	overrides, err := e.fetchOverrides(ctx, namespaceID, templates)
	if err != nil {
		return nil, err
	}

	now := e.now()
	var out []EventItem
	for _, t := range templates {
		tmpl, err := toTemplate(t)
		if err != nil {
			e.logger.Warn("skipping recurring event with bad rule", "event", t.item.PublicID, "error", err)
			continue
		}

		// Instances are generated by start time, so an end-side bound
		// becomes a start-side one for this template only.
		win := recurrence.Window{After: f.StartsAfter, Before: f.StartsBefore}
		if f.EndsBefore != nil && f.StartsBefore == nil {
			b := f.EndsBefore.Add(-tmpl.Length())
			win.Before = &b
		}
		if f.EndsAfter != nil && f.StartsAfter == nil {
			a := f.EndsAfter.Add(-tmpl.Length())
			win.After = &a
		}

		rows := overrides[t.item.ID]
		ovs := make([]recurrence.Override, len(rows))
		byID := make(map[int64]EventItem, len(rows))
		for i, r := range rows {
			orig := r.item.Start
			if r.item.OriginalStart != nil {
				orig = *r.item.OriginalStart
			}
			ovs[i] = recurrence.Override{
				ID:            r.item.ID,
				OriginalStart: orig,
				Start:         r.item.Start,
				End:           r.item.End,
				Cancelled:     r.item.Status == "cancelled",
			}
			byID[r.item.ID] = r.item
		}

		insts, err := recurrence.Expand(tmpl, ovs, win, f.ShowCancelled, now)
		if err != nil {
			e.logger.Warn("skipping recurring event with bad rule", "event", t.item.PublicID, "error", err)
			continue
		}
		for _, in := range insts {
			if in.Override != nil {
				out = append(out, byID[in.Override.ID])
				continue
			}
			ev := t.item
			ev.PublicID = in.PublicID
			ev.Start = in.Start
			ev.End = in.End
			ev.Discriminator = DiscriminatorInstance
			ev.Recurrence = nil
			ev.MasterPublicID = t.item.PublicID
			orig := in.Start
			ev.OriginalStart = &orig
			out = append(out, ev)
		}
	}
	return out, nil
}

func toTemplate(r eventRow) (recurrence.Template, error) {
	lines, err := recurrence.ParseLines(r.rule)
	if err != nil {
		return recurrence.Template{}, err
	}
	return recurrence.Template{
		PublicID:   r.item.PublicID,
		Start:      r.item.Start,
		End:        r.item.End,
		AllDay:     r.item.AllDay,
		Timezone:   r.timezone,
		Recurrence: lines,
	}, nil
}

// fetchOverrides loads the overrides of templates, keyed by template id.
func (e *Engine) fetchOverrides(ctx context.Context, namespaceID int64, templates []eventRow) (map[int64][]eventRow, error) {
	ids := make([]int64, len(templates))
	for i, t := range templates {
		ids[i] = t.item.ID
	}
	out := make(map[int64][]eventRow)
	for chunk := range slices.Chunk(ids, store.InChunkSize) {
		sel := newEventSelect(namespaceID)
		sel.and("e.discriminator = ?", store.EventKindOverride)
		sel.and("e.master_event_id IN ("+placeholders(len(chunk))+")", int64Args(chunk)...)
		q, args := sel.selectSQL(eventColumns+", e.master_event_id", eventShape.orderBy, 0, 0)
		if err := e.scanOverrides(ctx, built{text: q, args: args}, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (e *Engine) scanOverrides(ctx context.Context, q built, out map[int64][]eventRow) error {
	rows, err := e.query(ctx, q)
	if err != nil {
		return fmt.Errorf("list overrides: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r eventRow
		var master int64
		if err := scanEvent(rows, &r, &master); err != nil {
			return fmt.Errorf("scan override: %w", err)
		}
		out[master] = append(out[master], r)
	}
	return rows.Err()
}

func (e *Engine) fetchEvents(ctx context.Context, q built) ([]eventRow, error) {
	rows, err := e.query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []eventRow{}
	for rows.Next() {
		var r eventRow
		if err := scanEvent(rows, &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanEvent reads eventColumns into r, followed by any extra columns.
func scanEvent(s scanner, r *eventRow, extra ...interface{}) error {
	var orig sql.NullTime
	it := &r.item
	dest := []interface{}{
		&it.ID, &it.PublicID, &it.CalendarPublicID, &it.Title, &it.Description,
		&it.Location, &it.Busy, &it.Status, &it.Start, &it.End, &it.AllDay, &it.Discriminator,
		&r.rule, &r.timezone, &r.until,
		&it.MasterPublicID, &orig,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return err
	}
	it.Start = it.Start.UTC()
	it.End = it.End.UTC()
	if orig.Valid {
		t := orig.Time.UTC()
		it.OriginalStart = &t
	}
	if r.rule != "" {
		lines, err := recurrence.ParseLines(r.rule)
		if err == nil {
			it.Recurrence = lines
		}
	}
	return nil
}
