// Package dbtest seeds a standard mailcore data set on top of a storetest
// Fixture, plus raw rows for the per-account sync tables. It is designed to
// be importable from any test package without circular dependency issues
// (it does not import internal/query or internal/deletion).
package dbtest

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/wesm/mailcore/internal/store"
	"github.com/wesm/mailcore/internal/testutil/storetest"
)

// StrPtr returns a pointer to a string (useful for optional fields in test opts).
func StrPtr(s string) *string { return &s }

// At returns a UTC time in 2024.
func At(month time.Month, day, hour int) time.Time {
	return time.Date(2024, month, day, hour, 0, 0, 0, time.UTC)
}

// DataSet holds the rows SeedStandardDataSet created.
type DataSet struct {
	Inbox, Sent, Work, Important *store.Category

	Kickoff, Lunch, Invoice *store.Thread

	// Kickoff: M1 alice->bob,carol; M2 bob->alice cc carol; M3 alice->bob.
	// Lunch: M4 me->alice (sent) and draft D1 me->bob.
	// Invoice: M5 billing->me bcc audit.
	M1, M2, M3, M4, M5, D1 *store.Message

	// Doc is an attachment of M2. InvoicePDF and Logo are attachments of M5,
	// BodyPart is a part of M5 without disposition. Upload belongs to no
	// message.
	Doc, InvoicePDF, Logo, BodyPart, Upload *store.Block

	Calendar              *store.Calendar
	Standup, Offsite      *store.Event
	WeeklySync, SyncMoved *store.Event
	AppMetadata           []*store.Metadata
	OtherAppMetadata      *store.Metadata
	EmptyMetadata         *store.Metadata
}

// SeedStandardDataSet inserts the standard test data set into f's namespace:
// 4 categories, 3 threads, 5 messages and 1 draft from alice, bob, carol,
// billing and the account owner, 5 blocks, 1 calendar with 4 events and 5
// metadata entries.
func SeedStandardDataSet(f *storetest.Fixture) *DataSet {
	f.T.Helper()
	ds := &DataSet{}
	me := f.Account.EmailAddress

	ds.Inbox = f.CreateCategory("inbox", "Inbox")
	ds.Sent = f.CreateCategory("sent", "Sent Mail")
	ds.Work = f.CreateCategory("", "Work Projects")
	ds.Important = f.CreateCategory("important", "Important")

	ds.Kickoff = f.CreateThread("Project kickoff", At(time.January, 15, 10))
	ds.Lunch = f.CreateThread("Lunch", At(time.February, 1, 12))
	ds.Invoice = f.CreateThread("Invoice", At(time.March, 1, 8))

	ds.M1 = f.NewMessage().InThread(ds.Kickoff).Subject("Project kickoff").
		ReceivedAt(At(time.January, 15, 10)).Read().
		From("alice@example.com").To("bob@company.org", "carol@example.com").Create()
	ds.M2 = f.NewMessage().InThread(ds.Kickoff).Subject("Re: Project kickoff").
		ReceivedAt(At(time.January, 16, 11)).Starred().
		From("bob@company.org").To("alice@example.com").Cc("carol@example.com").Create()
	ds.M3 = f.NewMessage().InThread(ds.Kickoff).Subject("Re: Project kickoff").
		ReceivedAt(At(time.January, 17, 9)).Read().
		From("alice@example.com").To("bob@company.org").Create()
	ds.M4 = f.NewMessage().InThread(ds.Lunch).Subject("Lunch").
		ReceivedAt(At(time.February, 1, 12)).Read().
		From(me).To("alice@example.com").Create()
	ds.D1 = f.NewMessage().InThread(ds.Lunch).Subject("Lunch?").
		ReceivedAt(At(time.February, 2, 9)).Draft().Read().
		From(me).To("bob@company.org").Create()
	ds.M5 = f.NewMessage().InThread(ds.Invoice).Subject("Invoice").
		ReceivedAt(At(time.March, 1, 8)).
		From("billing@vendor.com").To(me).Bcc("audit@example.com").Create()

	f.Categorize(ds.M1, ds.Inbox, ds.Work)
	f.Categorize(ds.M2, ds.Inbox, ds.Work, ds.Important)
	f.Categorize(ds.M3, ds.Work)
	f.Categorize(ds.M4, ds.Sent)
	f.Categorize(ds.M5, ds.Inbox)

	ds.Doc = f.Attach(ds.M2, "doc.pdf", "application/pdf", StrPtr("attachment"))
	ds.InvoicePDF = f.Attach(ds.M5, "invoice.pdf", "application/pdf", StrPtr("attachment"))
	ds.Logo = f.Attach(ds.M5, "logo.png", "image/png", StrPtr("inline"))
	ds.BodyPart = f.Attach(ds.M5, "body.html", "text/html", nil)
	ds.Upload = f.CreateBlock("upload.txt", "text/plain")

	ds.Calendar = f.CreateCalendar("Work")
	ds.Standup = f.CreateEvent(ds.Calendar, &store.Event{
		Title: "Standup", Location: "Room 1", Busy: true,
		StartTime: At(time.January, 10, 9), EndTime: At(time.January, 10, 9).Add(30 * time.Minute),
		MessageID: sql.NullInt64{Int64: ds.M1.ID, Valid: true},
	})
	ds.Offsite = f.CreateEvent(ds.Calendar, &store.Event{
		Title: "Offsite", Status: "cancelled", Busy: true,
		StartTime: At(time.January, 20, 9), EndTime: At(time.January, 20, 17),
	})
	ds.WeeklySync = f.CreateEvent(ds.Calendar, &store.Event{
		Title: "Weekly sync", Busy: true, Discriminator: store.EventKindRecurring,
		StartTime: At(time.January, 1, 10), EndTime: At(time.January, 1, 11),
		Recurrence: sql.NullString{String: `["RRULE:FREQ=WEEKLY;COUNT=4"]`, Valid: true},
		UntilTime:  sql.NullTime{Time: At(time.January, 22, 11), Valid: true},
	})
	// The second instance moves from Jan 8 10:00 to 14:00.
	ds.SyncMoved = f.CreateEvent(ds.Calendar, &store.Event{
		Title: "Weekly sync (moved)", Busy: true, Discriminator: store.EventKindOverride,
		StartTime: At(time.January, 8, 14), EndTime: At(time.January, 8, 15),
		MasterEventID:     sql.NullInt64{Int64: ds.WeeklySync.ID, Valid: true},
		OriginalStartTime: sql.NullTime{Time: At(time.January, 8, 10), Valid: true},
	})

	for _, v := range []int64{1, 5, 10} {
		q := v
		ds.AppMetadata = append(ds.AppMetadata, f.CreateMetadata("app1", StrPtr(fmt.Sprintf(`{"n":%d}`, v)), &q))
	}
	ds.OtherAppMetadata = f.CreateMetadata("app2", StrPtr(`{"x":1}`), nil)
	ds.EmptyMetadata = f.CreateMetadata("app1", nil, nil)

	return ds
}

// SeedAccountState inserts the per-account rows a synced account owns:
// sync uids and folder state for its account type, folders and labels, a
// heartbeat, change-log and action records and a processing cache row.
// n controls how many uid, transaction and action rows are added.
func SeedAccountState(f *storetest.Fixture, n int) {
	f.T.Helper()
	acct := f.Account.ID
	ns := f.NS()
	at := storetest.BaseTime

	mustExec(f.T, f.Store, `INSERT INTO folders (account_id, name) VALUES (?, ?)`, acct, "INBOX")
	mustExec(f.T, f.Store, `INSERT INTO labels (account_id, name) VALUES (?, ?)`, acct, "Important")
	mustExec(f.T, f.Store, `INSERT INTO heartbeat_status (account_id, folder_name, updated_at) VALUES (?, ?, ?)`, acct, "INBOX", at)
	mustExec(f.T, f.Store, `INSERT INTO data_processing_cache (namespace_id, contact_rankings) VALUES (?, ?)`, ns, "{}")

	if f.Account.IsEAS() {
		mustExec(f.T, f.Store, `INSERT INTO eas_folder_sync_status (account_id, folder_id) VALUES (?, ?)`, acct, 1)
	} else {
		mustExec(f.T, f.Store, `INSERT INTO imap_folder_sync_status (account_id, folder_id) VALUES (?, ?)`, acct, 1)
		mustExec(f.T, f.Store, `INSERT INTO imap_folder_info (account_id, folder_id, uidvalidity) VALUES (?, ?, ?)`, acct, 1, 42)
	}

	for i := 0; i < n; i++ {
		if f.Account.IsEAS() {
			mustExec(f.T, f.Store, `INSERT INTO eas_uids (easaccount_id, message_id, server_id) VALUES (?, ?, ?)`,
				acct, i+1, fmt.Sprintf("1:%d", i+1))
		} else {
			mustExec(f.T, f.Store, `INSERT INTO imap_uids (account_id, message_id, folder_id, msg_uid) VALUES (?, ?, ?, ?)`,
				acct, i+1, 1, i+1)
		}
		if err := f.Store.RecordTransaction(f.Ctx, ns, "message", int64(i+1), fmt.Sprintf("obj%d", i), "insert",
			at.Add(time.Duration(i)*time.Minute)); err != nil {
			f.T.Fatalf("SeedAccountState: %v", err)
		}
		mustExec(f.T, f.Store, `INSERT INTO action_log (namespace_id, action, record_id, table_name) VALUES (?, ?, ?, ?)`,
			ns, "mark_unread", i+1, "message")
	}
}

// MustLookupContact returns the ID of the contact with the given email in
// f's namespace, failing the test if not found.
func MustLookupContact(t testing.TB, f *storetest.Fixture, email string) int64 {
	t.Helper()
	var id int64
	err := f.Store.DB().QueryRowContext(f.Ctx, f.Store.Rebind(
		`SELECT id FROM contacts WHERE namespace_id = ? AND email_address = ?`), f.NS(), email).Scan(&id)
	if err != nil {
		t.Fatalf("MustLookupContact(%q): %v", email, err)
	}
	return id
}

func mustExec(t testing.TB, st *store.Store, query string, args ...interface{}) {
	t.Helper()
	if _, err := st.DB().Exec(st.Rebind(query), args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}
