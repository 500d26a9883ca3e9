package query

import (
	"time"

	"github.com/wesm/mailcore/internal/store"
)

// ThreadFilter restricts a thread listing. Nil fields do not restrict.
type ThreadFilter struct {
	ThreadPublicID    *string
	Subject           *string
	StartedBefore     *time.Time
	StartedAfter      *time.Time
	LastMessageBefore *time.Time
	LastMessageAfter  *time.Time

	From     *string
	To       *string
	Cc       *string
	Bcc      *string
	AnyEmail []string

	Filename *string
	In       *string // category name, display name or public id
	Unread   *bool
	Starred  *bool
}

// MessageFilter restricts a message or draft listing. Nil fields do not
// restrict. Drafts selects drafts instead of messages.
type MessageFilter struct {
	Drafts bool

	ThreadPublicID    *string
	Subject           *string
	StartedBefore     *time.Time
	StartedAfter      *time.Time
	LastMessageBefore *time.Time
	LastMessageAfter  *time.Time
	ReceivedBefore    *time.Time // inclusive
	ReceivedAfter     *time.Time

	From     *string
	To       *string
	Cc       *string
	Bcc      *string
	AnyEmail []string

	Filename *string
	In       *string
	Unread   *bool
	Starred  *bool
}

// FileFilter restricts a file listing.
type FileFilter struct {
	MessagePublicID *string
	Filename        *string
	ContentType     *string
}

// EventFilter restricts an event listing. With ExpandRecurring set,
// recurring events are returned as their concrete instances.
type EventFilter struct {
	EventPublicID    *string
	CalendarPublicID *string
	Title            *string // substring
	Description      *string // substring
	Location         *string // substring
	Busy             *bool

	StartsBefore *time.Time
	StartsAfter  *time.Time
	EndsBefore   *time.Time
	EndsAfter    *time.Time

	ExpandRecurring bool
	ShowCancelled   bool
}

// MetadataFilter restricts a metadata listing.
type MetadataFilter struct {
	AppID *string
}

// scoped pairs a filter with the namespace it is evaluated in, so the
// filter tables can bind the namespace inside subqueries.
type scoped[F any] struct {
	ns int64
	f  F
}

func threadFilters() []filterSpec[scoped[ThreadFilter]] {
	type s = scoped[ThreadFilter]
	specs := []filterSpec[s]{
		{name: "thread_public_id", present: func(x *s) bool { return isSet(x.f.ThreadPublicID) },
			apply: func(b *selectBuilder, x *s) { b.and("t.public_id = ?", *x.f.ThreadPublicID) }},
		{name: "started_before", present: func(x *s) bool { return isSet(x.f.StartedBefore) },
			apply: func(b *selectBuilder, x *s) { b.and("t.subjectdate < ?", x.f.StartedBefore.UTC()) }},
		{name: "started_after", present: func(x *s) bool { return isSet(x.f.StartedAfter) },
			apply: func(b *selectBuilder, x *s) { b.and("t.subjectdate > ?", x.f.StartedAfter.UTC()) }},
		{name: "last_message_before", present: func(x *s) bool { return isSet(x.f.LastMessageBefore) },
			apply: func(b *selectBuilder, x *s) { b.and("t.recentdate < ?", x.f.LastMessageBefore.UTC()) }},
		{name: "last_message_after", present: func(x *s) bool { return isSet(x.f.LastMessageAfter) },
			apply: func(b *selectBuilder, x *s) { b.and("t.recentdate > ?", x.f.LastMessageAfter.UTC()) }},
		{name: "subject", present: func(x *s) bool { return isSet(x.f.Subject) },
			apply: func(b *selectBuilder, x *s) { b.and("t.subject = ?", *x.f.Subject) }},
	}
	for _, role := range contactRoles {
		get := threadRoleField(role)
		specs = append(specs, filterSpec[s]{
			name:       role,
			present:    func(x *s) bool { return isSet(get(&x.f)) },
			apply:      func(b *selectBuilder, x *s) { restrictRole(b, "t.id", roleThreadIDs, role, *get(&x.f), x.ns) },
			correlated: true,
		})
	}
	specs = append(specs,
		filterSpec[s]{name: "any_email", present: func(x *s) bool { return len(x.f.AnyEmail) > 0 },
			apply:      func(b *selectBuilder, x *s) { restrictAnyEmail(b, "t.id", "thread_id", x.f.AnyEmail, x.ns) },
			correlated: true},
		filterSpec[s]{name: "filename", present: func(x *s) bool { return isSet(x.f.Filename) },
			apply: func(b *selectBuilder, x *s) {
				b.and(`t.id IN (SELECT m.thread_id
	FROM messages m
	JOIN parts p ON p.message_id = m.id
	JOIN blocks bl ON bl.id = p.block_id
	WHERE bl.filename = ? AND bl.namespace_id = ?)`, *x.f.Filename, x.ns)
			}},
		filterSpec[s]{name: "in", present: func(x *s) bool { return isSet(x.f.In) },
			apply:      func(b *selectBuilder, x *s) { restrictThreadCategory(b, *x.f.In, x.ns) },
			correlated: true},
		filterSpec[s]{name: "unread", present: func(x *s) bool { return isSet(x.f.Unread) },
			apply: func(b *selectBuilder, x *s) {
				b.and("t.id IN (SELECT thread_id FROM messages WHERE namespace_id = ? AND is_read = ?)", x.ns, !*x.f.Unread)
			}},
		filterSpec[s]{name: "starred", present: func(x *s) bool { return isSet(x.f.Starred) },
			apply: func(b *selectBuilder, x *s) {
				b.and("t.id IN (SELECT thread_id FROM messages WHERE namespace_id = ? AND is_starred = ?)", x.ns, *x.f.Starred)
			}},
	)
	return specs
}

func threadRoleField(role string) func(*ThreadFilter) *string {
	switch role {
	case store.RoleFrom:
		return func(f *ThreadFilter) *string { return f.From }
	case store.RoleTo:
		return func(f *ThreadFilter) *string { return f.To }
	case store.RoleCc:
		return func(f *ThreadFilter) *string { return f.Cc }
	default:
		return func(f *ThreadFilter) *string { return f.Bcc }
	}
}

func messageFilters() []filterSpec[scoped[MessageFilter]] {
	type s = scoped[MessageFilter]
	specs := []filterSpec[s]{
		{name: "subject", present: func(x *s) bool { return isSet(x.f.Subject) },
			apply: func(b *selectBuilder, x *s) { b.and("m.subject = ?", *x.f.Subject) }},
		{name: "unread", present: func(x *s) bool { return isSet(x.f.Unread) },
			apply: func(b *selectBuilder, x *s) { b.and("m.is_read = ?", !*x.f.Unread) }},
		{name: "starred", present: func(x *s) bool { return isSet(x.f.Starred) },
			apply: func(b *selectBuilder, x *s) { b.and("m.is_starred = ?", *x.f.Starred) }},
		{name: "thread_public_id", present: func(x *s) bool { return isSet(x.f.ThreadPublicID) },
			apply: func(b *selectBuilder, x *s) { b.and("t.public_id = ?", *x.f.ThreadPublicID) }},
		{name: "started_before", present: func(x *s) bool { return isSet(x.f.StartedBefore) },
			apply: func(b *selectBuilder, x *s) { b.and("t.subjectdate < ?", x.f.StartedBefore.UTC()) }},
		{name: "started_after", present: func(x *s) bool { return isSet(x.f.StartedAfter) },
			apply: func(b *selectBuilder, x *s) { b.and("t.subjectdate > ?", x.f.StartedAfter.UTC()) }},
		{name: "last_message_before", present: func(x *s) bool { return isSet(x.f.LastMessageBefore) },
			apply: func(b *selectBuilder, x *s) { b.and("t.recentdate < ?", x.f.LastMessageBefore.UTC()) }},
		{name: "last_message_after", present: func(x *s) bool { return isSet(x.f.LastMessageAfter) },
			apply: func(b *selectBuilder, x *s) { b.and("t.recentdate > ?", x.f.LastMessageAfter.UTC()) }},
		{name: "received_before", present: func(x *s) bool { return isSet(x.f.ReceivedBefore) },
			apply: func(b *selectBuilder, x *s) { b.and("m.received_date <= ?", x.f.ReceivedBefore.UTC()) }},
		{name: "received_after", present: func(x *s) bool { return isSet(x.f.ReceivedAfter) },
			apply: func(b *selectBuilder, x *s) { b.and("m.received_date > ?", x.f.ReceivedAfter.UTC()) }},
	}
	for _, role := range contactRoles {
		get := messageRoleField(role)
		specs = append(specs, filterSpec[s]{
			name:       role,
			present:    func(x *s) bool { return isSet(get(&x.f)) },
			apply:      func(b *selectBuilder, x *s) { restrictRole(b, "m.id", roleMessageIDs, role, *get(&x.f), x.ns) },
			correlated: true,
		})
	}
	specs = append(specs,
		filterSpec[s]{name: "any_email", present: func(x *s) bool { return len(x.f.AnyEmail) > 0 },
			apply:      func(b *selectBuilder, x *s) { restrictAnyEmail(b, "m.id", "message_id", x.f.AnyEmail, x.ns) },
			correlated: true},
		filterSpec[s]{name: "filename", present: func(x *s) bool { return isSet(x.f.Filename) },
			apply: func(b *selectBuilder, x *s) {
				b.and(`m.id IN (SELECT p.message_id
	FROM parts p
	JOIN blocks bl ON bl.id = p.block_id
	WHERE bl.filename = ? AND bl.namespace_id = ?)`, *x.f.Filename, x.ns)
			}},
		filterSpec[s]{name: "in", present: func(x *s) bool { return isSet(x.f.In) },
			apply:      func(b *selectBuilder, x *s) { restrictMessageCategory(b, *x.f.In, x.ns) },
			correlated: true},
	)
	return specs
}

func messageRoleField(role string) func(*MessageFilter) *string {
	switch role {
	case store.RoleFrom:
		return func(f *MessageFilter) *string { return f.From }
	case store.RoleTo:
		return func(f *MessageFilter) *string { return f.To }
	case store.RoleCc:
		return func(f *MessageFilter) *string { return f.Cc }
	default:
		return func(f *MessageFilter) *string { return f.Bcc }
	}
}

func fileFilters() []filterSpec[scoped[FileFilter]] {
	type s = scoped[FileFilter]
	return []filterSpec[s]{
		{name: "content_type", present: func(x *s) bool { return isSet(x.f.ContentType) },
			apply: func(b *selectBuilder, x *s) { b.and("b.content_type = ?", *x.f.ContentType) }},
		{name: "filename", present: func(x *s) bool { return isSet(x.f.Filename) },
			apply: func(b *selectBuilder, x *s) { b.and("b.filename = ?", *x.f.Filename) }},
		// Same part that makes the block an attachment must link it to
		// the message.
		{name: "message_public_id", present: func(x *s) bool { return isSet(x.f.MessagePublicID) },
			apply: func(b *selectBuilder, x *s) {
				b.and(`EXISTS (SELECT 1
	FROM parts p
	JOIN messages m ON m.id = p.message_id
	WHERE p.block_id = b.id AND p.content_disposition IS NOT NULL
	  AND m.public_id = ? AND m.namespace_id = ?)`, *x.f.MessagePublicID, x.ns)
			}},
	}
}

// eventFilters are the attribute filters shared by plain event listings,
// recurring templates and the non-recurring half of an expansion.
func eventFilters() []filterSpec[scoped[EventFilter]] {
	type s = scoped[EventFilter]
	return []filterSpec[s]{
		{name: "event_public_id", present: func(x *s) bool { return x.f.EventPublicID != nil && *x.f.EventPublicID != "" },
			apply: func(b *selectBuilder, x *s) { b.and("e.public_id = ?", *x.f.EventPublicID) }},
		{name: "calendar_public_id", present: func(x *s) bool { return isSet(x.f.CalendarPublicID) },
			apply: func(b *selectBuilder, x *s) {
				b.and("e.calendar_id IN (SELECT id FROM calendars WHERE public_id = ? AND namespace_id = ?)",
					*x.f.CalendarPublicID, x.ns)
			}},
		{name: "title", present: func(x *s) bool { return isSet(x.f.Title) },
			apply: func(b *selectBuilder, x *s) { b.and("e.title LIKE ?", "%"+*x.f.Title+"%") }},
		{name: "description", present: func(x *s) bool { return isSet(x.f.Description) },
			apply: func(b *selectBuilder, x *s) { b.and("e.description LIKE ?", "%"+*x.f.Description+"%") }},
		{name: "location", present: func(x *s) bool { return isSet(x.f.Location) },
			apply: func(b *selectBuilder, x *s) { b.and("e.location LIKE ?", "%"+*x.f.Location+"%") }},
		{name: "busy", present: func(x *s) bool { return isSet(x.f.Busy) },
			apply: func(b *selectBuilder, x *s) { b.and("e.busy = ?", *x.f.Busy) }},
	}
}

// eventWindowFilters restrict concrete events by their own start and end.
func eventWindowFilters() []filterSpec[scoped[EventFilter]] {
	type s = scoped[EventFilter]
	return []filterSpec[s]{
		{name: "starts_before", present: func(x *s) bool { return isSet(x.f.StartsBefore) },
			apply: func(b *selectBuilder, x *s) { b.and("e.start_time < ?", x.f.StartsBefore.UTC()) }},
		{name: "starts_after", present: func(x *s) bool { return isSet(x.f.StartsAfter) },
			apply: func(b *selectBuilder, x *s) { b.and("e.start_time > ?", x.f.StartsAfter.UTC()) }},
		{name: "ends_before", present: func(x *s) bool { return isSet(x.f.EndsBefore) },
			apply: func(b *selectBuilder, x *s) { b.and("e.end_time < ?", x.f.EndsBefore.UTC()) }},
		{name: "ends_after", present: func(x *s) bool { return isSet(x.f.EndsAfter) },
			apply: func(b *selectBuilder, x *s) { b.and("e.end_time > ?", x.f.EndsAfter.UTC()) }},
	}
}

// templateWindowFilters select recurring templates that can have an
// instance in the window. A template starting after a before-bound has no
// instance before it. An until at or before an after-bound has no
// instance after it, and a NULL until never ends.
func templateWindowFilters() []filterSpec[scoped[EventFilter]] {
	type s = scoped[EventFilter]
	return []filterSpec[s]{
		{name: "starts_before", present: func(x *s) bool { return isSet(x.f.StartsBefore) },
			apply: func(b *selectBuilder, x *s) { b.and("e.start_time < ?", x.f.StartsBefore.UTC()) }},
		{name: "ends_before", present: func(x *s) bool { return isSet(x.f.EndsBefore) },
			apply: func(b *selectBuilder, x *s) { b.and("e.start_time < ?", x.f.EndsBefore.UTC()) }},
		{name: "starts_after", present: func(x *s) bool { return isSet(x.f.StartsAfter) },
			apply: func(b *selectBuilder, x *s) {
				b.and("(e.until_time > ? OR e.until_time IS NULL)", x.f.StartsAfter.UTC())
			}},
		{name: "ends_after", present: func(x *s) bool { return isSet(x.f.EndsAfter) },
			apply: func(b *selectBuilder, x *s) {
				b.and("(e.until_time > ? OR e.until_time IS NULL)", x.f.EndsAfter.UTC())
			}},
	}
}
