// Package query builds and runs the filtered list queries behind the
// threads, messages, files, events and metadata resources.
//
// Every resource supports three views. ViewCount returns a Count,
// ViewIDs returns ordered public ids, and ViewFull returns materialized
// rows with their related collections batch-loaded.
package query

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidView is returned for a View outside the known set.
	ErrInvalidView = errors.New("invalid view")
	// ErrMissingAppID is returned by MetadataForApp without an app id.
	ErrMissingAppID = errors.New("must specify an app_id")
	// ErrInvalidOperator is returned for an unknown metadata comparison.
	ErrInvalidOperator = errors.New("invalid query operator")
)

// View selects both the projection and the result type of a query.
type View int

const (
	ViewFull View = iota
	ViewIDs
	ViewCount
	// ViewExpanded is ViewFull plus nested message headers on threads.
	ViewExpanded
)

func (v View) String() string {
	switch v {
	case ViewFull:
		return "full"
	case ViewIDs:
		return "ids"
	case ViewCount:
		return "count"
	case ViewExpanded:
		return "expanded"
	default:
		return fmt.Sprintf("View(%d)", int(v))
	}
}

func (v View) valid() bool {
	return v >= ViewFull && v <= ViewExpanded
}

// ParseView maps a view name to a View. The empty string is ViewFull.
func ParseView(s string) (View, error) {
	switch s {
	case "", "full":
		return ViewFull, nil
	case "ids":
		return ViewIDs, nil
	case "count":
		return ViewCount, nil
	case "expanded":
		return ViewExpanded, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidView, s)
}

// Page bounds a list query. A zero Limit uses the engine default.
// Offset 0 and an omitted Offset are the same query.
type Page struct {
	Limit  int
	Offset int
}

// Result is one of Count, IDs or Items.
type Result interface {
	result()
}

// Count is the ViewCount result.
type Count struct {
	N int64 `json:"count"`
}

// IDs is the ViewIDs result, in the resource's fixed order.
type IDs struct {
	IDs []string `json:"ids"`
}

// Items is the ViewFull and ViewExpanded result.
type Items[T any] struct {
	Items []T `json:"items"`
}

func (Count) result()    {}
func (IDs) result()      {}
func (Items[T]) result() {}

// Len is the number of ids.
func (r IDs) Len() int { return len(r.IDs) }

// Len is the number of items.
func (r Items[T]) Len() int { return len(r.Items) }

// Address represents an email address with optional display name.
type Address struct {
	Email string
	Name  string
}

// CategoryRef is a category as attached to a message or thread.
type CategoryRef struct {
	PublicID    string
	Name        string
	DisplayName string
	Type        string
}

// FileRef is an attachment as listed on a message.
type FileRef struct {
	PublicID    string
	Filename    string
	ContentType string
	ContentID   string
	Size        int64
}

// MessageHeader is the per-message summary nested in expanded threads.
type MessageHeader struct {
	PublicID     string
	Subject      string
	Snippet      string
	ReceivedDate time.Time
	IsDraft      bool
	IsRead       bool
	From         []Address
	To           []Address
}

// ThreadItem is a thread in the full view.
type ThreadItem struct {
	ID             int64
	PublicID       string
	Subject        string
	SubjectDate    time.Time
	RecentDate     time.Time
	Participants   []Address
	Categories     []CategoryRef
	MessageIDs     []string
	DraftIDs       []string
	Unread         bool
	Starred        bool
	HasAttachments bool

	// Messages is only populated for ViewExpanded.
	Messages []MessageHeader
}

// MessageItem is a message or draft in the full view.
type MessageItem struct {
	ID              int64
	PublicID        string
	ThreadPublicID  string
	Subject         string
	Snippet         string
	ReceivedDate    time.Time
	IsDraft         bool
	IsRead          bool
	IsStarred       bool
	MessageIDHeader string

	From []Address
	To   []Address
	Cc   []Address
	Bcc  []Address

	Categories []CategoryRef
	Files      []FileRef
	EventIDs   []string
}

// FileItem is a block in the full view.
type FileItem struct {
	ID          int64
	PublicID    string
	Filename    string
	ContentType string
	Size        int64
	MessageIDs  []string
}

// EventItem is an event, or one instance of an expanded recurring event.
type EventItem struct {
	ID               int64
	PublicID         string
	CalendarPublicID string
	Title            string
	Description      string
	Location         string
	Busy             bool
	Status           string
	Start            time.Time
	End              time.Time
	AllDay           bool
	Discriminator    string
	Recurrence       []string

	// Set on overrides and expanded instances.
	MasterPublicID string
	OriginalStart  *time.Time
}

// MetadataItem is an app metadata entry.
type MetadataItem struct {
	ID             int64
	PublicID       string
	AppID          string
	ObjectPublicID string
	ObjectType     string
	Value          string
	QueryableValue *int64
	Version        int64
}

// CategoryItem is a folder or label in the categories list.
type CategoryItem struct {
	PublicID    string
	Name        string
	DisplayName string
	Type        string
}

// ContactItem is an address book entry.
type ContactItem struct {
	PublicID string
	Name     string
	Email    string
}

// CalendarItem is a calendar.
type CalendarItem struct {
	PublicID string
	Name     string
	ReadOnly bool
}

// ScoredMessage is a sent message as seen by contact ranking.
type ScoredMessage struct {
	ID   int64
	Date time.Time
	To   []Address
	Cc   []Address
	Bcc  []Address
}
