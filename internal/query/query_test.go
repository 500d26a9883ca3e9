package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/wesm/mailcore/internal/store"
	"github.com/wesm/mailcore/internal/testutil/dbtest"
	"github.com/wesm/mailcore/internal/testutil/ptr"
	"github.com/wesm/mailcore/internal/testutil/storetest"
)

// testClock is the engine's "now" in tests.
var testClock = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type env struct {
	t   *testing.T
	e   *Engine
	f   *storetest.Fixture
	ds  *dbtest.DataSet
	ctx context.Context
}

func newEnv(t *testing.T) *env {
	t.Helper()
	f := storetest.New(t)
	ds := dbtest.SeedStandardDataSet(f)
	e := NewEngine(f.Store).WithClock(func() time.Time { return testClock })
	t.Cleanup(func() { e.Close() })
	return &env{t: t, e: e, f: f, ds: ds, ctx: context.Background()}
}

func (v *env) ns() int64 { return v.f.NS() }

// mustIDs, mustCount and mustItems unwrap a query result of the expected
// view: mustIDs(t)(e.Threads(...)).
func mustIDs(t *testing.T) func(Result, error) []string {
	return func(r Result, err error) []string {
		t.Helper()
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		ids, ok := r.(IDs)
		if !ok {
			t.Fatalf("result is %T, want IDs", r)
		}
		return ids.IDs
	}
}

func mustCount(t *testing.T) func(Result, error) int64 {
	return func(r Result, err error) int64 {
		t.Helper()
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		c, ok := r.(Count)
		if !ok {
			t.Fatalf("result is %T, want Count", r)
		}
		return c.N
	}
}

func mustItems[T any](t *testing.T) func(Result, error) []T {
	return func(r Result, err error) []T {
		t.Helper()
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		items, ok := r.(Items[T])
		if !ok {
			t.Fatalf("result is %T, want Items", r)
		}
		return items.Items
	}
}

func pubIDs(msgs ...*store.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.PublicID
	}
	return out
}

func threadIDs(threads ...*store.Thread) []string {
	out := make([]string, len(threads))
	for i, th := range threads {
		out[i] = th.PublicID
	}
	return out
}

func assertIDs(t *testing.T, want, got []string) {
	t.Helper()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
}

func TestParseView(t *testing.T) {
	tests := []struct {
		in   string
		want View
	}{
		{"", ViewFull},
		{"full", ViewFull},
		{"ids", ViewIDs},
		{"count", ViewCount},
		{"expanded", ViewExpanded},
	}
	for _, tc := range tests {
		got, err := ParseView(tc.in)
		if err != nil || got != tc.want {
			t.Errorf("ParseView(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
	}
	if _, err := ParseView("summary"); !errors.Is(err, ErrInvalidView) {
		t.Errorf("ParseView(summary) err = %v, want ErrInvalidView", err)
	}
}

func TestInvalidView(t *testing.T) {
	v := newEnv(t)
	if _, err := v.e.Threads(v.ctx, v.ns(), ThreadFilter{}, View(99), Page{}); !errors.Is(err, ErrInvalidView) {
		t.Errorf("Threads err = %v, want ErrInvalidView", err)
	}
	if _, err := v.e.Events(v.ctx, v.ns(), EventFilter{}, View(-1), Page{}); !errors.Is(err, ErrInvalidView) {
		t.Errorf("Events err = %v, want ErrInvalidView", err)
	}
}

// --- Threads ---

func TestThreads_UnfilteredCountMatchesTable(t *testing.T) {
	v := newEnv(t)
	got := mustCount(t)(v.e.Threads(v.ctx, v.ns(), ThreadFilter{}, ViewCount, Page{}))
	if want := v.f.Count("threads", "namespace_id = ?", v.ns()); got != want {
		t.Errorf("count = %d, want %d", got, want)
	}
}

func TestThreads_OrderedByRecentDate(t *testing.T) {
	v := newEnv(t)
	got := mustIDs(t)(v.e.Threads(v.ctx, v.ns(), ThreadFilter{}, ViewIDs, Page{}))
	// Lunch's draft on Feb 2 is its most recent message.
	want := append(threadIDs(v.ds.Invoice, v.ds.Lunch, v.ds.Kickoff), threadPublicID(t, v, v.f.ThreadID))
	assertIDs(t, want, got)
}

func threadPublicID(t *testing.T, v *env, id int64) string {
	t.Helper()
	var pub string
	if err := v.f.Store.DB().QueryRow(`SELECT public_id FROM threads WHERE id = ?`, id).Scan(&pub); err != nil {
		t.Fatalf("thread public id: %v", err)
	}
	return pub
}

func TestThreads_DistinctCountWithCategory(t *testing.T) {
	v := newEnv(t)
	// M1, M2 and M3 of the kickoff thread are all in Work.
	f := ThreadFilter{In: ptr.String("Work Projects")}

	n := mustCount(t)(v.e.Threads(v.ctx, v.ns(), f, ViewCount, Page{}))
	items := mustItems[ThreadItem](t)(v.e.Threads(v.ctx, v.ns(), f, ViewFull, Page{}))
	if n != 1 || len(items) != 1 {
		t.Fatalf("count = %d, len(full) = %d, want 1 and 1", n, len(items))
	}
	if items[0].PublicID != v.ds.Kickoff.PublicID {
		t.Errorf("thread = %s, want kickoff", items[0].PublicID)
	}
}

func TestThreads_CountEqualsFullLength(t *testing.T) {
	v := newEnv(t)
	filters := []ThreadFilter{
		{},
		{In: ptr.String("inbox")},
		{From: ptr.String("alice@example.com")},
		{AnyEmail: []string{"carol@example.com", "billing@vendor.com"}},
		{Unread: ptr.Bool(true)},
		{Filename: ptr.String("invoice.pdf")},
	}
	for i, f := range filters {
		n := mustCount(t)(v.e.Threads(v.ctx, v.ns(), f, ViewCount, Page{}))
		items := mustItems[ThreadItem](t)(v.e.Threads(v.ctx, v.ns(), f, ViewFull, Page{}))
		if int(n) != len(items) {
			t.Errorf("filter %d: count = %d, len(full) = %d", i, n, len(items))
		}
	}
}

func TestThreads_Filters(t *testing.T) {
	v := newEnv(t)
	tests := []struct {
		name string
		f    ThreadFilter
		want []string
	}{
		{"from", ThreadFilter{From: ptr.String("bob@company.org")}, threadIDs(v.ds.Kickoff)},
		{"to me", ThreadFilter{To: ptr.String("test@example.com")}, threadIDs(v.ds.Invoice)},
		{"bcc", ThreadFilter{Bcc: ptr.String("audit@example.com")}, threadIDs(v.ds.Invoice)},
		{"filename", ThreadFilter{Filename: ptr.String("invoice.pdf")}, threadIDs(v.ds.Invoice)},
		{"unread", ThreadFilter{Unread: ptr.Bool(true)}, threadIDs(v.ds.Invoice, v.ds.Kickoff)},
		{"starred", ThreadFilter{Starred: ptr.Bool(true)}, threadIDs(v.ds.Kickoff)},
		{"subject", ThreadFilter{Subject: ptr.String("Lunch")}, threadIDs(v.ds.Lunch)},
		{"thread id", ThreadFilter{ThreadPublicID: ptr.String(v.ds.Lunch.PublicID)}, threadIDs(v.ds.Lunch)},
		{"started after", ThreadFilter{StartedAfter: ptr.Time(dbtest.At(time.February, 1, 12))}, threadIDs(v.ds.Invoice)},
		{"last message before", ThreadFilter{LastMessageBefore: ptr.Time(dbtest.At(time.February, 2, 9))}, append(threadIDs(v.ds.Kickoff), threadPublicID(t, v, v.f.ThreadID))},
		{"sent category", ThreadFilter{In: ptr.String("sent")}, threadIDs(v.ds.Lunch)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := mustIDs(t)(v.e.Threads(v.ctx, v.ns(), tc.f, ViewIDs, Page{}))
			assertIDs(t, tc.want, got)
		})
	}
}

func TestThreads_FullView(t *testing.T) {
	v := newEnv(t)
	items := mustItems[ThreadItem](t)(v.e.Threads(v.ctx, v.ns(), ThreadFilter{}, ViewFull, Page{Limit: 3}))
	if len(items) != 3 {
		t.Fatalf("got %d threads, want 3", len(items))
	}

	byID := map[string]ThreadItem{}
	for _, it := range items {
		byID[it.PublicID] = it
	}

	kick := byID[v.ds.Kickoff.PublicID]
	assertIDs(t, pubIDs(v.ds.M1, v.ds.M2, v.ds.M3), kick.MessageIDs)
	if !kick.Unread || !kick.Starred || !kick.HasAttachments {
		t.Errorf("kickoff flags unread=%v starred=%v attachments=%v, want all true", kick.Unread, kick.Starred, kick.HasAttachments)
	}
	var emails []string
	for _, p := range kick.Participants {
		emails = append(emails, p.Email)
	}
	if diff := cmp.Diff([]string{"alice@example.com", "bob@company.org", "carol@example.com"}, emails); diff != "" {
		t.Errorf("participants mismatch (-want +got):\n%s", diff)
	}
	if len(kick.Categories) != 3 {
		t.Errorf("kickoff categories = %+v, want inbox, work and important", kick.Categories)
	}
	if kick.Messages != nil {
		t.Errorf("full view should not nest messages")
	}

	lunch := byID[v.ds.Lunch.PublicID]
	assertIDs(t, pubIDs(v.ds.M4), lunch.MessageIDs)
	assertIDs(t, pubIDs(v.ds.D1), lunch.DraftIDs)
	if lunch.Unread {
		t.Error("lunch should be read")
	}
}

func TestThreads_ExpandedView(t *testing.T) {
	v := newEnv(t)
	f := ThreadFilter{ThreadPublicID: ptr.String(v.ds.Kickoff.PublicID)}
	items := mustItems[ThreadItem](t)(v.e.Threads(v.ctx, v.ns(), f, ViewExpanded, Page{}))
	if len(items) != 1 || len(items[0].Messages) != 3 {
		t.Fatalf("got %+v, want one thread with three messages", items)
	}
	first := items[0].Messages[0]
	if first.PublicID != v.ds.M1.PublicID || len(first.From) != 1 || first.From[0].Email != "alice@example.com" {
		t.Errorf("first message = %+v", first)
	}
}

func TestThreads_FullViewLargerThanOneChunk(t *testing.T) {
	v := newEnv(t)
	start := dbtest.At(time.April, 1, 9)
	th := v.f.CreateThread("Long thread", start)
	n := store.InChunkSize + 100
	for i := 0; i < n; i++ {
		b := v.f.NewMessage().InThread(th).ReceivedAt(start.Add(time.Duration(i) * time.Minute))
		if i == n-1 {
			b = b.From("last@example.com")
		}
		b.Create()
	}

	f := ThreadFilter{ThreadPublicID: ptr.String(th.PublicID)}
	items := mustItems[ThreadItem](t)(v.e.Threads(v.ctx, v.ns(), f, ViewExpanded, Page{Limit: 1}))
	if len(items) != 1 {
		t.Fatalf("got %d threads, want 1", len(items))
	}
	got := items[0]
	if len(got.MessageIDs) != n || len(got.Messages) != n {
		t.Fatalf("message ids = %d, headers = %d, want %d", len(got.MessageIDs), len(got.Messages), n)
	}
	emails := make([]string, len(got.Participants))
	for i, p := range got.Participants {
		emails[i] = p.Email
	}
	if diff := cmp.Diff([]string{"sender@example.com", "last@example.com"}, emails); diff != "" {
		t.Errorf("participants mismatch (-want +got):\n%s", diff)
	}
	last := got.Messages[n-1]
	if len(last.From) != 1 || last.From[0].Email != "last@example.com" {
		t.Errorf("last message from = %+v", last.From)
	}
}

// --- Messages ---

func TestMessages_UnfilteredCountMatchesTable(t *testing.T) {
	v := newEnv(t)
	got := mustCount(t)(v.e.Messages(v.ctx, v.ns(), MessageFilter{}, ViewCount, Page{}))
	if want := v.f.Count("messages", "namespace_id = ? AND is_draft = ?", v.ns(), false); got != want {
		t.Errorf("count = %d, want %d", got, want)
	}
}

func TestMessages_MonotonicNarrowing(t *testing.T) {
	v := newEnv(t)
	steps := []MessageFilter{
		{},
		{From: ptr.String("alice@example.com")},
		{From: ptr.String("alice@example.com"), To: ptr.String("bob@company.org")},
		{From: ptr.String("alice@example.com"), To: ptr.String("bob@company.org"), Subject: ptr.String("Re: Project kickoff")},
		{From: ptr.String("alice@example.com"), To: ptr.String("bob@company.org"), Subject: ptr.String("Re: Project kickoff"), Starred: ptr.Bool(true)},
	}
	var counts []int64
	for _, f := range steps {
		counts = append(counts, mustCount(t)(v.e.Messages(v.ctx, v.ns(), f, ViewCount, Page{})))
	}
	if diff := cmp.Diff([]int64{5, 2, 2, 1, 0}, counts); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}
	for i := 1; i < len(counts); i++ {
		if counts[i] > counts[i-1] {
			t.Errorf("step %d widened results: %d > %d", i, counts[i], counts[i-1])
		}
	}
}

func TestMessages_ContactRoles(t *testing.T) {
	v := newEnv(t)
	tests := []struct {
		name string
		f    MessageFilter
		want []string
	}{
		{"from and to match different rows", MessageFilter{From: ptr.String("alice@example.com"), To: ptr.String("carol@example.com")}, pubIDs(v.ds.M1)},
		{"cc", MessageFilter{Cc: ptr.String("carol@example.com")}, pubIDs(v.ds.M2)},
		{"bcc", MessageFilter{Bcc: ptr.String("audit@example.com")}, pubIDs(v.ds.M5)},
		{"role must match", MessageFilter{From: ptr.String("carol@example.com")}, []string{}},
		{"case insensitive", MessageFilter{From: ptr.String("ALICE@Example.com")}, pubIDs(v.ds.M3, v.ds.M1)},
		{"any email", MessageFilter{AnyEmail: []string{"carol@example.com", "billing@vendor.com"}}, pubIDs(v.ds.M5, v.ds.M2, v.ds.M1)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := mustIDs(t)(v.e.Messages(v.ctx, v.ns(), tc.f, ViewIDs, Page{}))
			assertIDs(t, tc.want, got)
		})
	}
}

func TestMessages_CategoryToken(t *testing.T) {
	v := newEnv(t)
	tests := []struct {
		name  string
		token string
		want  []string
	}{
		{"display name differs from name", "Work Projects", pubIDs(v.ds.M3, v.ds.M2, v.ds.M1)},
		{"name", "sent", pubIDs(v.ds.M4)},
		{"public id", v.ds.Work.PublicID, pubIDs(v.ds.M3, v.ds.M2, v.ds.M1)},
		{"unknown identifier-shaped token", "zzzzzzzzzzzzzzzzzzzzzzzz", []string{}},
		{"unknown non-identifier token", "no such folder!", []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := mustIDs(t)(v.e.Messages(v.ctx, v.ns(), MessageFilter{In: &tc.token}, ViewIDs, Page{}))
			assertIDs(t, tc.want, got)
		})
	}
}

func TestMessages_CategoryScopedToNamespace(t *testing.T) {
	v := newEnv(t)
	other := storetest.NewAccount(t, v.f.Store, "other@example.com", store.AccountTypeIMAP)
	otherWork := other.CreateCategory("work", "Work Projects")
	m := other.NewMessage().Create()
	other.Categorize(m, otherWork)

	got := mustIDs(t)(v.e.Messages(v.ctx, v.ns(), MessageFilter{In: ptr.String(otherWork.PublicID)}, ViewIDs, Page{}))
	assertIDs(t, []string{}, got)

	got = mustIDs(t)(v.e.Messages(v.ctx, other.NS(), MessageFilter{In: ptr.String("Work Projects")}, ViewIDs, Page{}))
	assertIDs(t, pubIDs(m), got)
}

func TestMessages_ReceivedBounds(t *testing.T) {
	v := newEnv(t)
	at := dbtest.At(time.January, 16, 11) // M2's received date

	got := mustIDs(t)(v.e.Messages(v.ctx, v.ns(), MessageFilter{ReceivedBefore: &at}, ViewIDs, Page{}))
	assertIDs(t, pubIDs(v.ds.M2, v.ds.M1), got)

	got = mustIDs(t)(v.e.Messages(v.ctx, v.ns(), MessageFilter{ReceivedAfter: &at}, ViewIDs, Page{}))
	assertIDs(t, pubIDs(v.ds.M5, v.ds.M4, v.ds.M3), got)
}

func TestMessages_Flags(t *testing.T) {
	v := newEnv(t)
	got := mustIDs(t)(v.e.Messages(v.ctx, v.ns(), MessageFilter{Unread: ptr.Bool(true)}, ViewIDs, Page{}))
	assertIDs(t, pubIDs(v.ds.M5, v.ds.M2), got)

	got = mustIDs(t)(v.e.Messages(v.ctx, v.ns(), MessageFilter{Unread: ptr.Bool(false), Starred: ptr.Bool(false)}, ViewIDs, Page{}))
	assertIDs(t, pubIDs(v.ds.M4, v.ds.M3, v.ds.M1), got)

	got = mustIDs(t)(v.e.Messages(v.ctx, v.ns(), MessageFilter{Filename: ptr.String("doc.pdf")}, ViewIDs, Page{}))
	assertIDs(t, pubIDs(v.ds.M2), got)

	got = mustIDs(t)(v.e.Messages(v.ctx, v.ns(), MessageFilter{ThreadPublicID: ptr.String(v.ds.Lunch.PublicID)}, ViewIDs, Page{}))
	assertIDs(t, pubIDs(v.ds.M4), got)
}

func TestDrafts(t *testing.T) {
	v := newEnv(t)
	got := mustIDs(t)(v.e.Drafts(v.ctx, v.ns(), MessageFilter{}, ViewIDs, Page{}))
	assertIDs(t, pubIDs(v.ds.D1), got)
}

func TestMessages_OffsetZeroSameAsAbsent(t *testing.T) {
	v := newEnv(t)
	var absent Page
	absent.Limit = 3
	zero := Page{Limit: 3, Offset: 0}

	a := mustIDs(t)(v.e.Messages(v.ctx, v.ns(), MessageFilter{}, ViewIDs, absent))
	b := mustIDs(t)(v.e.Messages(v.ctx, v.ns(), MessageFilter{}, ViewIDs, zero))
	assertIDs(t, a, b)
	assertIDs(t, pubIDs(v.ds.M5, v.ds.M4, v.ds.M3), a)

	next := mustIDs(t)(v.e.Messages(v.ctx, v.ns(), MessageFilter{}, ViewIDs, Page{Limit: 3, Offset: 3}))
	assertIDs(t, pubIDs(v.ds.M2, v.ds.M1), next)
}

func TestMessages_FullView(t *testing.T) {
	v := newEnv(t)
	items := mustItems[MessageItem](t)(v.e.Messages(v.ctx, v.ns(), MessageFilter{}, ViewFull, Page{}))
	byID := map[string]MessageItem{}
	for _, it := range items {
		byID[it.PublicID] = it
	}

	m2 := byID[v.ds.M2.PublicID]
	if m2.ThreadPublicID != v.ds.Kickoff.PublicID {
		t.Errorf("thread = %s, want kickoff", m2.ThreadPublicID)
	}
	want := MessageItem{
		From: []Address{{Email: "bob@company.org"}},
		To:   []Address{{Email: "alice@example.com"}},
		Cc:   []Address{{Email: "carol@example.com"}},
	}
	if diff := cmp.Diff(want.From, m2.From); diff != "" {
		t.Errorf("from mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.Cc, m2.Cc); diff != "" {
		t.Errorf("cc mismatch (-want +got):\n%s", diff)
	}
	if len(m2.Categories) != 3 {
		t.Errorf("categories = %+v, want 3", m2.Categories)
	}
	if len(m2.Files) != 1 || m2.Files[0].Filename != "doc.pdf" {
		t.Errorf("files = %+v, want doc.pdf", m2.Files)
	}
	if !m2.IsStarred || m2.IsRead {
		t.Errorf("flags starred=%v read=%v", m2.IsStarred, m2.IsRead)
	}

	m5 := byID[v.ds.M5.PublicID]
	if len(m5.Files) != 2 {
		t.Errorf("M5 files = %+v, want invoice.pdf and logo.png only", m5.Files)
	}

	m1 := byID[v.ds.M1.PublicID]
	assertIDs(t, []string{v.ds.Standup.PublicID}, m1.EventIDs)
}

// --- Lists ---

func TestCategoriesContactsCalendars(t *testing.T) {
	v := newEnv(t)

	if n := mustCount(t)(v.e.Categories(v.ctx, v.ns(), ViewCount, Page{})); n != 4 {
		t.Errorf("categories = %d, want 4", n)
	}
	cats := mustItems[CategoryItem](t)(v.e.Categories(v.ctx, v.ns(), ViewFull, Page{}))
	if len(cats) != 4 || cats[0].Name != "inbox" || cats[2].DisplayName != "Work Projects" {
		t.Errorf("categories = %+v", cats)
	}

	contacts := mustItems[ContactItem](t)(v.e.Contacts(v.ctx, v.ns(), ptr.String("Alice@example.com"), ViewFull, Page{}))
	if len(contacts) != 1 || contacts[0].Email != "alice@example.com" {
		t.Errorf("contacts = %+v", contacts)
	}
	all := mustCount(t)(v.e.Contacts(v.ctx, v.ns(), nil, ViewCount, Page{}))
	if want := v.f.Count("contacts", "namespace_id = ?", v.ns()); all != want {
		t.Errorf("contacts count = %d, want %d", all, want)
	}

	cals := mustIDs(t)(v.e.Calendars(v.ctx, v.ns(), ViewIDs, Page{}))
	assertIDs(t, []string{v.ds.Calendar.PublicID}, cals)
}

func TestMessagesForContactScores(t *testing.T) {
	v := newEnv(t)
	got, err := v.e.MessagesForContactScores(v.ctx, v.ns(), nil)
	if err != nil {
		t.Fatalf("MessagesForContactScores: %v", err)
	}
	if len(got) != 1 || got[0].ID != v.ds.M4.ID {
		t.Fatalf("got %+v, want only M4", got)
	}
	if diff := cmp.Diff([]Address{{Email: "alice@example.com"}}, got[0].To); diff != "" {
		t.Errorf("to mismatch (-want +got):\n%s", diff)
	}

	got, err = v.e.MessagesForContactScores(v.ctx, v.ns(), ptr.Time(dbtest.At(time.February, 2, 0)))
	if err != nil {
		t.Fatalf("MessagesForContactScores: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d messages after Feb 2, want 0", len(got))
	}
}
