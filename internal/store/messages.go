package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wesm/mailcore/internal/mime"
	"github.com/wesm/mailcore/internal/publicid"
)

// Contact roles stored in message_contact_associations.field.
const (
	RoleFrom = "from_addr"
	RoleTo   = "to_addr"
	RoleCc   = "cc_addr"
	RoleBcc  = "bcc_addr"
)

// Thread groups messages of one conversation.
type Thread struct {
	ID          int64
	PublicID    string
	NamespaceID int64
	Subject     string
	SubjectDate time.Time
	RecentDate  time.Time
}

// Message represents a message in the database.
type Message struct {
	ID               int64
	PublicID         string
	NamespaceID      int64
	ThreadID         int64
	Subject          string
	Snippet          string
	ReceivedDate     time.Time
	IsDraft          bool
	IsRead           bool
	IsStarred        bool
	IsCreated        bool
	Version          int64
	InboxUID         sql.NullString
	MessageIDHeader  sql.NullString
	ReferencesHeader sql.NullString
	DataSHA256       sql.NullString

	From []mime.Address
	To   []mime.Address
	Cc   []mime.Address
	Bcc  []mime.Address
}

// Category is a folder or label.
type Category struct {
	ID          int64
	PublicID    string
	NamespaceID int64
	Name        string
	DisplayName string
	Type        string // "folder" or "label"
}

// Contact is an address book entry scoped to a namespace.
type Contact struct {
	ID           int64
	PublicID     string
	NamespaceID  int64
	Name         string
	EmailAddress string
}

// CreateThread inserts a thread. A zero RecentDate defaults to SubjectDate.
func (s *Store) CreateThread(ctx context.Context, t *Thread) error {
	if t.PublicID == "" {
		t.PublicID = publicid.New()
	}
	if t.RecentDate.IsZero() {
		t.RecentDate = t.SubjectDate
	}
	err := s.db.QueryRowContext(ctx, s.Rebind(`
		INSERT INTO threads (public_id, namespace_id, subject, subjectdate, recentdate)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`), t.PublicID, t.NamespaceID, t.Subject, t.SubjectDate.UTC(), t.RecentDate.UTC()).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("insert thread: %w", err)
	}
	return nil
}

// InsertMessage stores a message, its contact associations and bumps the
// thread's recentdate when the message is newer.
func (s *Store) InsertMessage(ctx context.Context, m *Message) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		return insertMessageTx(ctx, tx, m)
	})
}

func insertMessageTx(ctx context.Context, tx *Tx, m *Message) error {
	if m.PublicID == "" {
		m.PublicID = publicid.New()
	}
	err := tx.QueryRowContext(ctx, `
		INSERT INTO messages (
			public_id, namespace_id, thread_id, subject, snippet, received_date,
			is_draft, is_read, is_starred, is_created, version,
			inbox_uid, message_id_header, references_header, data_sha256,
			from_addr, to_addr, cc_addr, bcc_addr
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`,
		m.PublicID, m.NamespaceID, m.ThreadID, m.Subject, m.Snippet, m.ReceivedDate.UTC(),
		m.IsDraft, m.IsRead, m.IsStarred, m.IsCreated, m.Version,
		m.InboxUID, m.MessageIDHeader, m.ReferencesHeader, m.DataSHA256,
		formatAddresses(m.From), formatAddresses(m.To), formatAddresses(m.Cc), formatAddresses(m.Bcc),
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	roles := []struct {
		field string
		addrs []mime.Address
	}{
		{RoleFrom, m.From},
		{RoleTo, m.To},
		{RoleCc, m.Cc},
		{RoleBcc, m.Bcc},
	}
	for _, r := range roles {
		for _, addr := range r.addrs {
			contactID, err := ensureContactTx(ctx, tx, m.NamespaceID, addr)
			if err != nil {
				return err
			}
			if err := associateTx(ctx, tx, m.ID, contactID, r.field); err != nil {
				return err
			}
		}
	}

	if m.ThreadID != 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE threads SET recentdate = ? WHERE id = ? AND recentdate < ?`,
			m.ReceivedDate.UTC(), m.ThreadID, m.ReceivedDate.UTC(),
		); err != nil {
			return fmt.Errorf("update thread recentdate: %w", err)
		}
	}
	return nil
}

// formatAddresses renders the denormalized address column.
func formatAddresses(addrs []mime.Address) sql.NullString {
	if len(addrs) == 0 {
		return sql.NullString{}
	}
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		if a.Name != "" {
			parts[i] = fmt.Sprintf("%s <%s>", a.Name, a.Email)
		} else {
			parts[i] = a.Email
		}
	}
	return sql.NullString{String: strings.Join(parts, ", "), Valid: true}
}

// EnsureContact gets or creates a contact by email within a namespace.
func (s *Store) EnsureContact(ctx context.Context, namespaceID int64, addr mime.Address) (int64, error) {
	var id int64
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		id, err = ensureContactTx(ctx, tx, namespaceID, addr)
		return err
	})
	return id, err
}

func ensureContactTx(ctx context.Context, tx *Tx, namespaceID int64, addr mime.Address) (int64, error) {
	email := strings.ToLower(strings.TrimSpace(addr.Email))
	if email == "" {
		return 0, fmt.Errorf("ensure contact: empty email address")
	}

	var id int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM contacts WHERE namespace_id = ? AND email_address = ? ORDER BY id LIMIT 1`,
		namespaceID, email,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("lookup contact: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO contacts (public_id, namespace_id, name, email_address, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`, publicid.New(), namespaceID, addr.Name, email, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert contact: %w", err)
	}
	return id, nil
}

func associateTx(ctx context.Context, tx *Tx, messageID, contactID int64, field string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO message_contact_associations (message_id, contact_id, field)
		VALUES (?, ?, ?)
		ON CONFLICT (message_id, contact_id, field) DO NOTHING
	`, messageID, contactID, field)
	if err != nil {
		return fmt.Errorf("associate contact: %w", err)
	}
	return nil
}

// GetMessageByPublicID returns a message in a namespace by public id.
func (s *Store) GetMessageByPublicID(ctx context.Context, namespaceID int64, publicID string) (*Message, error) {
	var m Message
	var subject, snippet sql.NullString
	err := s.db.QueryRowContext(ctx, s.Rebind(`
		SELECT id, public_id, namespace_id, thread_id, subject, snippet, received_date,
		       is_draft, is_read, is_starred, is_created, version,
		       inbox_uid, message_id_header, references_header, data_sha256
		FROM messages
		WHERE namespace_id = ? AND public_id = ?
	`), namespaceID, publicID).Scan(
		&m.ID, &m.PublicID, &m.NamespaceID, &m.ThreadID, &subject, &snippet, &m.ReceivedDate,
		&m.IsDraft, &m.IsRead, &m.IsStarred, &m.IsCreated, &m.Version,
		&m.InboxUID, &m.MessageIDHeader, &m.ReferencesHeader, &m.DataSHA256,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %q: %w", publicID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	m.Subject = subject.String
	m.Snippet = snippet.String
	return &m, nil
}

// CreateCategory inserts a folder or label. Type defaults to "folder".
func (s *Store) CreateCategory(ctx context.Context, c *Category) error {
	if c.PublicID == "" {
		c.PublicID = publicid.New()
	}
	if c.Type == "" {
		c.Type = "folder"
	}
	err := s.db.QueryRowContext(ctx, s.Rebind(`
		INSERT INTO categories (public_id, namespace_id, name, display_name, type)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`), c.PublicID, c.NamespaceID, c.Name, c.DisplayName, c.Type).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

// AddMessageCategories attaches categories to a message, ignoring ones
// already attached.
func (s *Store) AddMessageCategories(ctx context.Context, messageID int64, categoryIDs []int64) error {
	if len(categoryIDs) == 0 {
		return nil
	}
	return s.WithTx(ctx, func(tx *Tx) error {
		for _, cid := range categoryIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO message_categories (message_id, category_id) VALUES (?, ?)
				ON CONFLICT (message_id, category_id) DO NOTHING
			`, messageID, cid); err != nil {
				return fmt.Errorf("add message category: %w", err)
			}
		}
		return nil
	})
}

// CountMessagesForNamespace returns the number of messages a namespace owns.
func (s *Store) CountMessagesForNamespace(ctx context.Context, namespaceID int64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, s.Rebind(
		`SELECT COUNT(*) FROM messages WHERE namespace_id = ?`,
	), namespaceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}
