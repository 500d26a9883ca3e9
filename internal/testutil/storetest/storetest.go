// Package storetest provides a Fixture and builders for tests that seed
// mailcore data through the Store's public API.
package storetest

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wesm/mailcore/internal/mime"
	"github.com/wesm/mailcore/internal/store"
	"github.com/wesm/mailcore/internal/testutil"
)

// BaseTime is the default date of seeded threads and messages.
var BaseTime = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

// Fixture holds one account and its namespace in a test database.
type Fixture struct {
	T         *testing.T
	Store     *store.Store
	Account   *store.Account
	Namespace *store.Namespace
	ThreadID  int64
	Ctx       context.Context

	counter atomic.Int64
}

// New creates a Fixture with a fresh test database, one IMAP account
// ("test@example.com") and one default thread.
func New(t *testing.T) *Fixture {
	t.Helper()
	return NewAccount(t, testutil.NewTestStore(t), "test@example.com", store.AccountTypeIMAP)
}

// NewAccount adds another account of the given type to an existing store.
func NewAccount(t *testing.T, st *store.Store, email, discriminator string) *Fixture {
	t.Helper()
	ctx := context.Background()
	acct, ns, err := st.CreateAccount(ctx, email, discriminator, []byte("hunter2"))
	testutil.MustNoErr(t, err, "setup: CreateAccount")

	f := &Fixture{T: t, Store: st, Account: acct, Namespace: ns, Ctx: ctx}
	f.ThreadID = f.CreateThread("Default Thread", BaseTime).ID
	return f
}

// NS returns the namespace id.
func (f *Fixture) NS() int64 { return f.Namespace.ID }

// CreateThread inserts a thread whose subject date is at.
func (f *Fixture) CreateThread(subject string, at time.Time) *store.Thread {
	f.T.Helper()
	th := &store.Thread{NamespaceID: f.NS(), Subject: subject, SubjectDate: at}
	testutil.MustNoErr(f.T, f.Store.CreateThread(f.Ctx, th), "CreateThread")
	return th
}

// CreateCategory inserts a folder. An empty displayName reuses name.
func (f *Fixture) CreateCategory(name, displayName string) *store.Category {
	f.T.Helper()
	if displayName == "" {
		displayName = name
	}
	c := &store.Category{NamespaceID: f.NS(), Name: name, DisplayName: displayName}
	testutil.MustNoErr(f.T, f.Store.CreateCategory(f.Ctx, c), "CreateCategory")
	return c
}

// Categorize puts a message into the given categories.
func (f *Fixture) Categorize(m *store.Message, cats ...*store.Category) {
	f.T.Helper()
	ids := make([]int64, len(cats))
	for i, c := range cats {
		ids[i] = c.ID
	}
	testutil.MustNoErr(f.T, f.Store.AddMessageCategories(f.Ctx, m.ID, ids), "AddMessageCategories")
}

// Attach stores a block and links it to m. A nil disposition leaves the
// part's content_disposition NULL.
func (f *Fixture) Attach(m *store.Message, filename, contentType string, disposition *string) *store.Block {
	f.T.Helper()
	b := f.CreateBlock(filename, contentType)
	p := &store.Part{MessageID: m.ID, BlockID: b.ID}
	if disposition != nil {
		p.ContentDisposition = sql.NullString{String: *disposition, Valid: true}
	}
	testutil.MustNoErr(f.T, f.Store.CreatePart(f.Ctx, p), "CreatePart")
	return b
}

// CreateBlock stores a block that no message references (an upload).
func (f *Fixture) CreateBlock(filename, contentType string) *store.Block {
	f.T.Helper()
	b := &store.Block{
		NamespaceID: f.NS(),
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(filename)) * 100,
		DataSHA256:  fmt.Sprintf("sha-%d", f.counter.Add(1)),
	}
	testutil.MustNoErr(f.T, f.Store.CreateBlock(f.Ctx, b), "CreateBlock")
	return b
}

// CreateCalendar inserts a calendar.
func (f *Fixture) CreateCalendar(name string) *store.Calendar {
	f.T.Helper()
	c := &store.Calendar{NamespaceID: f.NS(), Name: name}
	testutil.MustNoErr(f.T, f.Store.CreateCalendar(f.Ctx, c), "CreateCalendar")
	return c
}

// CreateEvent inserts e into cal after filling in the namespace.
func (f *Fixture) CreateEvent(cal *store.Calendar, e *store.Event) *store.Event {
	f.T.Helper()
	e.NamespaceID = f.NS()
	e.CalendarID = cal.ID
	testutil.MustNoErr(f.T, f.Store.CreateEvent(f.Ctx, e), "CreateEvent")
	return e
}

// CreateMetadata inserts a metadata entry for appID. A nil value stores NULL.
func (f *Fixture) CreateMetadata(appID string, value *string, queryable *int64) *store.Metadata {
	f.T.Helper()
	m := &store.Metadata{
		NamespaceID:    f.NS(),
		AppID:          appID,
		ObjectPublicID: fmt.Sprintf("obj%021d", f.counter.Add(1)),
		ObjectType:     "thread",
	}
	if value != nil {
		m.Value = sql.NullString{String: *value, Valid: true}
	}
	if queryable != nil {
		m.QueryableValue = sql.NullInt64{Int64: *queryable, Valid: true}
	}
	testutil.MustNoErr(f.T, f.Store.CreateMetadata(f.Ctx, m), "CreateMetadata")
	return m
}

// Count returns the number of rows in table matching where.
func (f *Fixture) Count(table, where string, args ...interface{}) int64 {
	f.T.Helper()
	q := "SELECT COUNT(*) FROM " + table
	if where != "" {
		q += " WHERE " + where
	}
	var n int64
	err := f.Store.DB().QueryRowContext(f.Ctx, f.Store.Rebind(q), args...).Scan(&n)
	testutil.MustNoErr(f.T, err, "count "+table)
	return n
}

// --- MessageBuilder ---

// MessageBuilder provides a fluent API for seeding messages.
type MessageBuilder struct {
	f   *Fixture
	msg store.Message
}

// NewMessage creates a builder for a message in the default thread.
func (f *Fixture) NewMessage() *MessageBuilder {
	n := f.counter.Add(1)
	return &MessageBuilder{
		f: f,
		msg: store.Message{
			NamespaceID:  f.NS(),
			ThreadID:     f.ThreadID,
			Subject:      fmt.Sprintf("Message %d", n),
			ReceivedDate: BaseTime.Add(time.Duration(n) * time.Minute),
			From:         []mime.Address{{Email: "sender@example.com"}},
		},
	}
}

func (b *MessageBuilder) InThread(th *store.Thread) *MessageBuilder { b.msg.ThreadID = th.ID; return b }
func (b *MessageBuilder) Subject(s string) *MessageBuilder         { b.msg.Subject = s; return b }
func (b *MessageBuilder) ReceivedAt(t time.Time) *MessageBuilder   { b.msg.ReceivedDate = t; return b }
func (b *MessageBuilder) Draft() *MessageBuilder                   { b.msg.IsDraft = true; return b }
func (b *MessageBuilder) Read() *MessageBuilder                    { b.msg.IsRead = true; return b }
func (b *MessageBuilder) Starred() *MessageBuilder                 { b.msg.IsStarred = true; return b }
func (b *MessageBuilder) SHA256(s string) *MessageBuilder {
	b.msg.DataSHA256 = sql.NullString{String: s, Valid: true}
	return b
}

// From replaces the sender list.
func (b *MessageBuilder) From(emails ...string) *MessageBuilder {
	b.msg.From = addrs(emails)
	return b
}

func (b *MessageBuilder) To(emails ...string) *MessageBuilder  { b.msg.To = addrs(emails); return b }
func (b *MessageBuilder) Cc(emails ...string) *MessageBuilder  { b.msg.Cc = addrs(emails); return b }
func (b *MessageBuilder) Bcc(emails ...string) *MessageBuilder { b.msg.Bcc = addrs(emails); return b }

// Created marks the message as sent through the API with the given
// public id and version.
func (b *MessageBuilder) Created(publicID string, version int64) *MessageBuilder {
	b.msg.IsCreated = true
	b.msg.PublicID = publicID
	b.msg.Version = version
	return b
}

// InboxUID sets a legacy inbox uid.
func (b *MessageBuilder) InboxUID(uid string) *MessageBuilder {
	b.msg.InboxUID = sql.NullString{String: uid, Valid: true}
	return b
}

// Create inserts the message.
func (b *MessageBuilder) Create() *store.Message {
	b.f.T.Helper()
	m := b.msg
	testutil.MustNoErr(b.f.T, b.f.Store.InsertMessage(b.f.Ctx, &m), "InsertMessage")
	return &m
}

func addrs(emails []string) []mime.Address {
	out := make([]mime.Address, len(emails))
	for i, e := range emails {
		out[i] = mime.Address{Email: e}
	}
	return out
}
