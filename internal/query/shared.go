package query

import (
	"context"
	"database/sql"
	"time"

	"github.com/wesm/mailcore/internal/store"
)

// Related collections are fetched with IN queries over a whole page of
// rows, never per row. Id lists are split by store.QueryInChunks since a
// page of threads can hold any number of messages.

// participants groups a message's addresses by role.
type participants struct {
	From, To, Cc, Bcc []Address
}

func (e *Engine) inQuery(ctx context.Context, tmpl string, ids []int64, fn func(*sql.Rows) error) error {
	return store.QueryInChunks(ctx, e.db, e.dialect, ids, nil, tmpl, fn)
}

// fetchParticipants loads the contact associations of messages.
func (e *Engine) fetchParticipants(ctx context.Context, messageIDs []int64) (map[int64]*participants, error) {
	out := make(map[int64]*participants, len(messageIDs))
	err := e.inQuery(ctx, `
		SELECT a.message_id, a.field, COALESCE(c.name, ''), c.email_address
		FROM message_contact_associations a
		JOIN contacts c ON c.id = a.contact_id
		WHERE a.message_id IN (%s)
		ORDER BY a.id
	`, messageIDs, func(rows *sql.Rows) error {
		var msgID int64
		var field string
		var addr Address
		if err := rows.Scan(&msgID, &field, &addr.Name, &addr.Email); err != nil {
			return err
		}
		p := out[msgID]
		if p == nil {
			p = &participants{}
			out[msgID] = p
		}
		switch field {
		case store.RoleFrom:
			p.From = append(p.From, addr)
		case store.RoleTo:
			p.To = append(p.To, addr)
		case store.RoleCc:
			p.Cc = append(p.Cc, addr)
		case store.RoleBcc:
			p.Bcc = append(p.Bcc, addr)
		}
		return nil
	})
	return out, err
}

// fetchMessageCategories loads the categories of messages.
func (e *Engine) fetchMessageCategories(ctx context.Context, messageIDs []int64) (map[int64][]CategoryRef, error) {
	out := make(map[int64][]CategoryRef, len(messageIDs))
	err := e.inQuery(ctx, `
		SELECT mc.message_id, c.public_id, c.name, c.display_name, c.type
		FROM message_categories mc
		JOIN categories c ON c.id = mc.category_id
		WHERE mc.message_id IN (%s)
		ORDER BY c.id
	`, messageIDs, func(rows *sql.Rows) error {
		var msgID int64
		var c CategoryRef
		if err := rows.Scan(&msgID, &c.PublicID, &c.Name, &c.DisplayName, &c.Type); err != nil {
			return err
		}
		out[msgID] = append(out[msgID], c)
		return nil
	})
	return out, err
}

// fetchMessageFiles loads the attachments of messages. Parts without a
// content disposition are body parts and are skipped.
func (e *Engine) fetchMessageFiles(ctx context.Context, messageIDs []int64) (map[int64][]FileRef, error) {
	out := make(map[int64][]FileRef, len(messageIDs))
	err := e.inQuery(ctx, `
		SELECT p.message_id, b.public_id, COALESCE(b.filename, ''), COALESCE(b.content_type, ''),
		       COALESCE(p.content_id, ''), b.size
		FROM parts p
		JOIN blocks b ON b.id = p.block_id
		WHERE p.message_id IN (%s)
		  AND p.content_disposition IS NOT NULL
		ORDER BY p.id
	`, messageIDs, func(rows *sql.Rows) error {
		var msgID int64
		var f FileRef
		if err := rows.Scan(&msgID, &f.PublicID, &f.Filename, &f.ContentType, &f.ContentID, &f.Size); err != nil {
			return err
		}
		out[msgID] = append(out[msgID], f)
		return nil
	})
	return out, err
}

// fetchMessageEvents loads the public ids of events created from messages.
func (e *Engine) fetchMessageEvents(ctx context.Context, messageIDs []int64) (map[int64][]string, error) {
	out := make(map[int64][]string, len(messageIDs))
	err := e.inQuery(ctx, `
		SELECT message_id, public_id
		FROM events
		WHERE message_id IN (%s)
		ORDER BY id
	`, messageIDs, func(rows *sql.Rows) error {
		var msgID int64
		var pub string
		if err := rows.Scan(&msgID, &pub); err != nil {
			return err
		}
		out[msgID] = append(out[msgID], pub)
		return nil
	})
	return out, err
}

// threadMessage is one message row loaded for thread aggregation.
type threadMessage struct {
	id           int64
	threadID     int64
	publicID     string
	subject      string
	snippet      string
	receivedDate time.Time
	isDraft      bool
	isRead       bool
	isStarred    bool
}

// fetchThreadMessages loads the messages of threads, oldest first within
// each thread.
func (e *Engine) fetchThreadMessages(ctx context.Context, threadIDs []int64) ([]threadMessage, error) {
	var out []threadMessage
	err := e.inQuery(ctx, `
		SELECT id, thread_id, public_id, COALESCE(subject, ''), COALESCE(snippet, ''),
		       received_date, is_draft, is_read, is_starred
		FROM messages
		WHERE thread_id IN (%s)
		ORDER BY received_date ASC, id ASC
	`, threadIDs, func(rows *sql.Rows) error {
		var m threadMessage
		if err := rows.Scan(&m.id, &m.threadID, &m.publicID, &m.subject, &m.snippet,
			&m.receivedDate, &m.isDraft, &m.isRead, &m.isStarred); err != nil {
			return err
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

// fetchBlockMessages loads the public ids of messages each block is
// attached to. Parts without a disposition do not count.
func (e *Engine) fetchBlockMessages(ctx context.Context, blockIDs []int64) (map[int64][]string, error) {
	out := make(map[int64][]string, len(blockIDs))
	err := e.inQuery(ctx, `
		SELECT p.block_id, m.public_id
		FROM parts p
		JOIN messages m ON m.id = p.message_id
		WHERE p.block_id IN (%s)
		  AND p.content_disposition IS NOT NULL
		ORDER BY p.id
	`, blockIDs, func(rows *sql.Rows) error {
		var blockID int64
		var pub string
		if err := rows.Scan(&blockID, &pub); err != nil {
			return err
		}
		out[blockID] = append(out[blockID], pub)
		return nil
	})
	return out, err
}
