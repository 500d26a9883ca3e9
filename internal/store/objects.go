package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/wesm/mailcore/internal/publicid"
)

// Block is stored file content: an attachment or an uploaded file.
type Block struct {
	ID          int64
	PublicID    string
	NamespaceID int64
	Filename    string
	Size        int64
	ContentType string
	DataSHA256  string
}

// Part links a block to the message it appears in.
type Part struct {
	ID                 int64
	MessageID          int64
	BlockID            int64
	ContentDisposition sql.NullString
	ContentID          sql.NullString
}

// Calendar holds events.
type Calendar struct {
	ID          int64
	PublicID    string
	NamespaceID int64
	Name        string
	ReadOnly    bool
}

// Event discriminators.
const (
	EventKindSingle    = "event"
	EventKindRecurring = "recurringevent"
	EventKindOverride  = "recurringeventoverride"
)

// Event is a calendar event, a recurring template or an override of one
// template instance.
type Event struct {
	ID                int64
	PublicID          string
	NamespaceID       int64
	CalendarID        int64
	Title             string
	Description       string
	Location          string
	Busy              bool
	Status            string // confirmed, tentative, cancelled
	StartTime         time.Time
	EndTime           time.Time
	AllDay            bool
	Source            string // local or remote
	Discriminator     string
	Recurrence        sql.NullString // RRULE/EXDATE lines
	UntilTime         sql.NullTime
	StartTimezone     sql.NullString
	MasterEventID     sql.NullInt64
	OriginalStartTime sql.NullTime
	MessageID         sql.NullInt64 // message the invite arrived in
}

// Metadata is an app-owned value attached to an object.
type Metadata struct {
	ID             int64
	PublicID       string
	NamespaceID    int64
	AppID          string
	ObjectPublicID string
	ObjectType     string
	Value          sql.NullString
	QueryableValue sql.NullInt64
	Version        int64
}

// CreateBlock inserts a block.
func (s *Store) CreateBlock(ctx context.Context, b *Block) error {
	if b.PublicID == "" {
		b.PublicID = publicid.New()
	}
	err := s.db.QueryRowContext(ctx, s.Rebind(`
		INSERT INTO blocks (public_id, namespace_id, filename, size, content_type, data_sha256)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`), b.PublicID, b.NamespaceID, nullString(b.Filename), b.Size, nullString(b.ContentType), nullString(b.DataSHA256)).Scan(&b.ID)
	if err != nil {
		return fmt.Errorf("insert block: %w", err)
	}
	return nil
}

// CreatePart attaches a block to a message.
func (s *Store) CreatePart(ctx context.Context, p *Part) error {
	err := s.db.QueryRowContext(ctx, s.Rebind(`
		INSERT INTO parts (message_id, block_id, content_disposition, content_id)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`), p.MessageID, p.BlockID, p.ContentDisposition, p.ContentID).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("insert part: %w", err)
	}
	return nil
}

// CreateCalendar inserts a calendar.
func (s *Store) CreateCalendar(ctx context.Context, c *Calendar) error {
	if c.PublicID == "" {
		c.PublicID = publicid.New()
	}
	err := s.db.QueryRowContext(ctx, s.Rebind(`
		INSERT INTO calendars (public_id, namespace_id, name, read_only)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`), c.PublicID, c.NamespaceID, c.Name, c.ReadOnly).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert calendar: %w", err)
	}
	return nil
}

// CreateEvent inserts an event. Zero-valued Status, Source and
// Discriminator take their column defaults.
func (s *Store) CreateEvent(ctx context.Context, e *Event) error {
	if e.PublicID == "" {
		e.PublicID = publicid.New()
	}
	if e.Status == "" {
		e.Status = "confirmed"
	}
	if e.Source == "" {
		e.Source = "local"
	}
	if e.Discriminator == "" {
		e.Discriminator = EventKindSingle
	}
	err := s.db.QueryRowContext(ctx, s.Rebind(`
		INSERT INTO events (
			public_id, namespace_id, calendar_id, title, description, location,
			busy, status, start_time, end_time, all_day, source, discriminator,
			recurrence, until_time, start_timezone, master_event_id, original_start_time, message_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`),
		e.PublicID, e.NamespaceID, e.CalendarID, e.Title, e.Description, e.Location,
		e.Busy, e.Status, e.StartTime.UTC(), e.EndTime.UTC(), e.AllDay, e.Source, e.Discriminator,
		e.Recurrence, utcNullTime(e.UntilTime), e.StartTimezone, e.MasterEventID, utcNullTime(e.OriginalStartTime), e.MessageID,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// CreateMetadata inserts an app metadata entry.
func (s *Store) CreateMetadata(ctx context.Context, m *Metadata) error {
	if m.PublicID == "" {
		m.PublicID = publicid.New()
	}
	err := s.db.QueryRowContext(ctx, s.Rebind(`
		INSERT INTO metadata (public_id, namespace_id, app_id, object_public_id, object_type, value, queryable_value, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`), m.PublicID, m.NamespaceID, m.AppID, m.ObjectPublicID, m.ObjectType, m.Value, m.QueryableValue, m.Version).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("insert metadata: %w", err)
	}
	return nil
}

// RecordTransaction appends a change-log entry.
func (s *Store) RecordTransaction(ctx context.Context, namespaceID int64, objectType string, recordID int64, objectPublicID, command string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.Rebind(`
		INSERT INTO transactions (namespace_id, object_type, record_id, object_public_id, command, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), namespaceID, objectType, recordID, objectPublicID, command, at.UTC())
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func utcNullTime(t sql.NullTime) sql.NullTime {
	if t.Valid {
		t.Time = t.Time.UTC()
	}
	return t
}
