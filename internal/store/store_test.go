package store_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/wesm/mailcore/internal/mime"
	"github.com/wesm/mailcore/internal/store"
	"github.com/wesm/mailcore/internal/testutil"
	testemail "github.com/wesm/mailcore/internal/testutil/email"
	"github.com/wesm/mailcore/internal/testutil/storetest"
)

func TestStore_Open(t *testing.T) {
	st := testutil.NewTestStore(t)

	if st.DB() == nil {
		t.Error("DB() returned nil")
	}
	if st.Dialect() != store.DialectSQLite {
		t.Errorf("Dialect() = %v, want sqlite", st.Dialect())
	}
	// Schema creation is idempotent.
	testutil.MustNoErr(t, st.InitSchema(), "second InitSchema")
}

func TestStore_GetStats_WithData(t *testing.T) {
	f := storetest.New(t)
	f.NewMessage().Create()
	f.NewMessage().Create()
	f.CreateBlock("a.txt", "text/plain")

	stats, err := f.Store.GetStats(f.Ctx)
	testutil.MustNoErr(t, err, "GetStats")
	if stats.NamespaceCount != 1 || stats.ThreadCount != 1 || stats.MessageCount != 2 || stats.BlockCount != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestStore_CreateAccount(t *testing.T) {
	f := storetest.New(t)

	acct, err := f.Store.GetAccount(f.Ctx, f.Account.ID)
	testutil.MustNoErr(t, err, "GetAccount")
	if acct.EmailAddress != "test@example.com" || acct.Discriminator != store.AccountTypeIMAP {
		t.Errorf("account = %+v", acct)
	}
	if !acct.SyncShouldRun || acct.IsDeleted {
		t.Errorf("new account flags: sync=%v deleted=%v", acct.SyncShouldRun, acct.IsDeleted)
	}
	if !acct.SecretID.Valid {
		t.Error("account has no secret")
	}

	ns, err := f.Store.GetNamespaceByAccount(f.Ctx, acct.ID)
	testutil.MustNoErr(t, err, "GetNamespaceByAccount")
	if ns.ID != f.NS() || len(ns.PublicID) != 24 {
		t.Errorf("namespace = %+v", ns)
	}

	byPub, err := f.Store.GetNamespaceByPublicID(f.Ctx, ns.PublicID)
	testutil.MustNoErr(t, err, "GetNamespaceByPublicID")
	if byPub.ID != ns.ID {
		t.Errorf("GetNamespaceByPublicID id = %d, want %d", byPub.ID, ns.ID)
	}
}

func TestStore_GetAccount_NotFound(t *testing.T) {
	st := testutil.NewTestStore(t)
	_, err := st.GetAccount(context.Background(), 999)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_AccountsToDelete(t *testing.T) {
	f := storetest.New(t)
	ctx := f.Ctx
	deleted := storetest.NewAccount(t, f.Store, "gone@example.com", store.AccountTypeIMAP)
	stillSyncing := storetest.NewAccount(t, f.Store, "busy@example.com", store.AccountTypeEAS)

	testutil.MustNoErr(t, f.Store.MarkAccountDeleted(ctx, deleted.Account.ID), "MarkAccountDeleted")
	testutil.MustNoErr(t, f.Store.MarkAccountDeleted(ctx, stillSyncing.Account.ID), "MarkAccountDeleted")
	testutil.MustNoErr(t, f.Store.SetSyncShouldRun(ctx, stillSyncing.Account.ID, true), "SetSyncShouldRun")

	targets, err := f.Store.AccountsToDelete(ctx)
	testutil.MustNoErr(t, err, "AccountsToDelete")
	want := []store.DeletionTarget{{AccountID: deleted.Account.ID, NamespaceID: deleted.NS()}}
	testutil.AssertEqualSlices(t, targets, want...)
}

func TestStore_MarkAccountDeleted_NotFound(t *testing.T) {
	st := testutil.NewTestStore(t)
	err := st.MarkAccountDeleted(context.Background(), 42)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_DeleteAccount_RemovesSecret(t *testing.T) {
	f := storetest.New(t)
	secretID := f.Account.SecretID.Int64

	testutil.MustNoErr(t, f.Store.DeleteAccount(f.Ctx, f.Account.ID), "DeleteAccount")

	if n := f.Count("accounts", "id = ?", f.Account.ID); n != 0 {
		t.Errorf("accounts remaining = %d", n)
	}
	if n := f.Count("secrets", "id = ?", secretID); n != 0 {
		t.Errorf("secrets remaining = %d", n)
	}

	err := f.Store.DeleteAccount(f.Ctx, f.Account.ID)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestStore_InsertMessage_BumpsThreadRecentDate(t *testing.T) {
	f := storetest.New(t)
	th := f.CreateThread("Planning", storetest.BaseTime)
	later := storetest.BaseTime.Add(48 * time.Hour)
	f.NewMessage().InThread(th).ReceivedAt(later).Create()
	f.NewMessage().InThread(th).ReceivedAt(storetest.BaseTime.Add(time.Hour)).Create()

	var recent time.Time
	err := f.Store.DB().QueryRow(f.Store.Rebind(`SELECT recentdate FROM threads WHERE id = ?`), th.ID).Scan(&recent)
	testutil.MustNoErr(t, err, "read recentdate")
	if !recent.Equal(later) {
		t.Errorf("recentdate = %v, want %v", recent, later)
	}
}

func TestStore_InsertMessage_ContactRoles(t *testing.T) {
	f := storetest.New(t)
	m := f.NewMessage().
		From("alice@example.com").
		To("bob@example.com", "Alice@Example.com").
		Cc("bob@example.com").
		Create()

	// alice and bob are one contact each
	if n := f.Count("contacts", "namespace_id = ?", f.NS()); n != 2 {
		t.Errorf("contacts = %d, want 2", n)
	}
	// one row per (contact, role)
	if n := f.Count("message_contact_associations", "message_id = ?", m.ID); n != 4 {
		t.Errorf("associations = %d, want 4", n)
	}
}

func TestStore_EnsureContact_Idempotent(t *testing.T) {
	f := storetest.New(t)
	id1, err := f.Store.EnsureContact(f.Ctx, f.NS(), mime.Address{Name: "Carol", Email: "carol@example.com"})
	testutil.MustNoErr(t, err, "EnsureContact")
	id2, err := f.Store.EnsureContact(f.Ctx, f.NS(), mime.Address{Email: "CAROL@example.com"})
	testutil.MustNoErr(t, err, "EnsureContact again")
	if id1 != id2 {
		t.Errorf("EnsureContact ids differ: %d vs %d", id1, id2)
	}
}

func TestStore_Thread_RecentDateCheck(t *testing.T) {
	f := storetest.New(t)
	th := &store.Thread{
		NamespaceID: f.NS(),
		SubjectDate: storetest.BaseTime,
		RecentDate:  storetest.BaseTime.Add(-time.Hour),
	}
	if err := f.Store.CreateThread(f.Ctx, th); err == nil {
		t.Error("expected CHECK violation for recentdate < subjectdate")
	}
}

func TestStore_GetMessageByPublicID(t *testing.T) {
	f := storetest.New(t)
	m := f.NewMessage().Subject("find me").Create()

	got, err := f.Store.GetMessageByPublicID(f.Ctx, f.NS(), m.PublicID)
	testutil.MustNoErr(t, err, "GetMessageByPublicID")
	if got.ID != m.ID || got.Subject != "find me" {
		t.Errorf("got %+v", got)
	}

	_, err = f.Store.GetMessageByPublicID(f.Ctx, f.NS(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func reconcile(t *testing.T, f *storetest.Fixture, synced *mime.Message) (*store.Message, bool) {
	t.Helper()
	var got *store.Message
	var ok bool
	err := f.Store.WithTx(f.Ctx, func(tx *store.Tx) error {
		var err error
		got, ok, err = store.ReconcileMessage(f.Ctx, tx, f.NS(), synced)
		return err
	})
	testutil.MustNoErr(t, err, "ReconcileMessage")
	return got, ok
}

func TestReconcileMessage_VersionDirection(t *testing.T) {
	tests := []struct {
		syncedVersion string
		wantMerge     bool
	}{
		{"1", true},
		{"2", true},
		{"3", false},
	}
	for _, tc := range tests {
		t.Run("synced version "+tc.syncedVersion, func(t *testing.T) {
			f := storetest.New(t)
			created := f.NewMessage().Created("abc123", 2).Create()

			synced := &mime.Message{
				InboxUID:   "abc123-" + tc.syncedVersion,
				MessageID:  "synced@example.com",
				References: []string{"root@example.com"},
			}
			got, ok := reconcile(t, f, synced)
			if ok != tc.wantMerge {
				t.Fatalf("merged = %v, want %v", ok, tc.wantMerge)
			}

			stored, err := f.Store.GetMessageByPublicID(f.Ctx, f.NS(), created.PublicID)
			testutil.MustNoErr(t, err, "reload")
			if tc.wantMerge {
				if got.ID != created.ID {
					t.Errorf("matched id %d, want %d", got.ID, created.ID)
				}
				if stored.MessageIDHeader.String != "synced@example.com" {
					t.Errorf("message_id_header = %q", stored.MessageIDHeader.String)
				}
				if stored.ReferencesHeader.String != "<root@example.com>" {
					t.Errorf("references_header = %q", stored.ReferencesHeader.String)
				}
			} else if stored.MessageIDHeader.Valid {
				t.Errorf("unmerged message was updated: %q", stored.MessageIDHeader.String)
			}
		})
	}
}

func TestReconcileMessage_ByContentHash(t *testing.T) {
	f := storetest.New(t)
	existing := f.NewMessage().SHA256("deadbeef").Create()

	got, ok := reconcile(t, f, &mime.Message{SHA256: "deadbeef"})
	if !ok || got.ID != existing.ID {
		t.Fatalf("hash match = (%v, %+v), want existing message", ok, got)
	}

	if _, ok := reconcile(t, f, &mime.Message{SHA256: "cafef00d"}); ok {
		t.Error("unexpected match for unknown hash")
	}
}

func TestReconcileMessage_LegacyUID(t *testing.T) {
	f := storetest.New(t)
	created := f.NewMessage().Created("pub1", 0).InboxUID("legacyuid").Create()
	// A synced (not API-created) message with the same uid is ignored.
	f.NewMessage().InboxUID("otheruid").Create()

	got, ok := reconcile(t, f, &mime.Message{InboxUID: "legacyuid", MessageID: "x@y"})
	if !ok || got.ID != created.ID {
		t.Fatalf("legacy match = (%v, %+v)", ok, got)
	}
	if _, ok := reconcile(t, f, &mime.Message{InboxUID: "otheruid"}); ok {
		t.Error("matched a message that was not API-created")
	}
}

func TestReconcileMessage_OtherNamespace(t *testing.T) {
	f := storetest.New(t)
	other := storetest.NewAccount(t, f.Store, "other@example.com", "")
	other.NewMessage().Created("abc123", 5).Create()

	if _, ok := reconcile(t, f, &mime.Message{InboxUID: "abc123-1"}); ok {
		t.Error("reconciled across namespaces")
	}
}

func TestIngestSynced_NewThenDuplicate(t *testing.T) {
	f := storetest.New(t)
	raw := testemail.NewMessage().
		From("alice@example.com").
		To("test@example.com").
		Subject("Hello").
		MessageID("hello@example.com").
		WithAttachment("notes.txt", "text/plain", []byte("notes")).
		Bytes()

	res, err := f.Store.IngestSynced(f.Ctx, f.NS(), 0, raw, time.Now())
	testutil.MustNoErr(t, err, "IngestSynced")
	if res.Reconciled {
		t.Fatal("first ingest reconciled")
	}
	if res.Blocks != 1 {
		t.Errorf("blocks = %d, want 1", res.Blocks)
	}
	if res.Message.ThreadID == 0 || res.Message.ThreadID == f.ThreadID {
		t.Errorf("expected a new thread, got %d", res.Message.ThreadID)
	}
	if n := f.Count("parts", "message_id = ? AND content_disposition = ?", res.Message.ID, "attachment"); n != 1 {
		t.Errorf("attachment parts = %d, want 1", n)
	}

	again, err := f.Store.IngestSynced(f.Ctx, f.NS(), 0, raw, time.Now())
	testutil.MustNoErr(t, err, "IngestSynced again")
	if !again.Reconciled || again.Message.ID != res.Message.ID {
		t.Errorf("second ingest = %+v, want reconciled to %d", again, res.Message.ID)
	}
	if n := f.Count("messages", "namespace_id = ?", f.NS()); n != 1 {
		t.Errorf("messages = %d, want 1", n)
	}
}

func TestIngestSynced_ReconcilesAPIMessage(t *testing.T) {
	f := storetest.New(t)
	created := f.NewMessage().Created("apimsg", 1).Create()

	raw := testemail.NewMessage().InboxID("apimsg-1").MessageID("sent@example.com").Bytes()
	res, err := f.Store.IngestSynced(f.Ctx, f.NS(), f.ThreadID, raw, time.Now())
	testutil.MustNoErr(t, err, "IngestSynced")
	if !res.Reconciled || res.Message.ID != created.ID {
		t.Fatalf("ingest = %+v, want reconciled to %d", res, created.ID)
	}

	n, err := f.Store.CountMessagesForNamespace(f.Ctx, f.NS())
	testutil.MustNoErr(t, err, "CountMessagesForNamespace")
	if n != 1 {
		t.Errorf("messages = %d, want 1", n)
	}
}

type countingQuerier struct {
	q       store.Querier
	calls   int
	maxArgs int
}

func (c *countingQuerier) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	c.calls++
	c.maxArgs = max(c.maxArgs, len(args))
	return c.q.QueryContext(ctx, query, args...)
}

// paddedIDs returns n ids that match nothing, with seeded placed at the
// start, middle and end.
func paddedIDs(n int, seeded []int64) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(1_000_000 + i)
	}
	ids[0], ids[n/2], ids[n-1] = seeded[0], seeded[1], seeded[2]
	return ids
}

func TestQueryInChunks_SplitsLongIDLists(t *testing.T) {
	f := storetest.New(t)
	var seeded []int64
	for i := 0; i < 3; i++ {
		seeded = append(seeded, f.NewMessage().Create().ID)
	}
	ids := paddedIDs(2*store.InChunkSize+1, seeded)

	q := &countingQuerier{q: f.Store.DB()}
	var found []int64
	err := store.QueryInChunks(f.Ctx, q, f.Store.Dialect(), ids, []interface{}{f.NS()},
		"SELECT id FROM messages WHERE namespace_id = ? AND id IN (%s) ORDER BY id",
		func(rows *sql.Rows) error {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			found = append(found, id)
			return nil
		})
	testutil.MustNoErr(t, err, "QueryInChunks")

	testutil.AssertEqualSlices(t, found, seeded...)
	if q.calls != 3 {
		t.Errorf("calls = %d, want 3", q.calls)
	}
	if q.maxArgs != store.InChunkSize+1 {
		t.Errorf("max args = %d, want %d", q.maxArgs, store.InChunkSize+1)
	}
}

func TestQueryInChunks_NoIDs(t *testing.T) {
	f := storetest.New(t)
	q := &countingQuerier{q: f.Store.DB()}
	err := store.QueryInChunks(f.Ctx, q, f.Store.Dialect(), []int64(nil), nil,
		"SELECT id FROM messages WHERE id IN (%s)",
		func(*sql.Rows) error { return errors.New("unexpected row") })
	testutil.MustNoErr(t, err, "QueryInChunks")
	if q.calls != 0 {
		t.Errorf("calls = %d, want 0", q.calls)
	}
}

func TestTx_ExecInChunks(t *testing.T) {
	f := storetest.New(t)
	var seeded []int64
	for i := 0; i < 3; i++ {
		seeded = append(seeded, f.NewMessage().Create().ID)
	}
	ids := paddedIDs(store.InChunkSize+10, seeded)

	var n int64
	err := f.Store.WithTx(f.Ctx, func(tx *store.Tx) error {
		var err error
		n, err = tx.ExecInChunks(f.Ctx, ids, "DELETE FROM message_contact_associations WHERE message_id IN (%s)")
		return err
	})
	testutil.MustNoErr(t, err, "ExecInChunks")
	if n != 3 {
		t.Errorf("rows affected = %d, want 3", n)
	}
	if left := f.Count("message_contact_associations", ""); left != 0 {
		t.Errorf("associations left = %d", left)
	}
}
