package mime

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	testemail "github.com/wesm/mailcore/internal/testutil/email"
)

func mustParse(t *testing.T, raw []byte) *Message {
	t.Helper()
	msg, err := ParseSynced(raw)
	if err != nil {
		t.Fatalf("ParseSynced() failed: %v", err)
	}
	return msg
}

func TestParseSynced_Headers(t *testing.T) {
	raw := testemail.NewMessage().
		From(`"Alice Smith" <Alice@Example.com>`).
		To("bob@example.com, carol@example.com").
		Cc("dave@example.com").
		Subject("Quarterly numbers").
		MessageID("m1@example.com").
		References("r1@example.com", "r2@example.com").
		InboxID("abc123-2").
		Bytes()

	msg := mustParse(t, raw)

	if msg.Subject != "Quarterly numbers" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if msg.MessageID != "m1@example.com" {
		t.Errorf("MessageID = %q, want m1@example.com", msg.MessageID)
	}
	if msg.InboxUID != "abc123-2" {
		t.Errorf("InboxUID = %q, want abc123-2", msg.InboxUID)
	}
	testemail.AssertStringSliceEqual(t, msg.References, []string{"r1@example.com", "r2@example.com"}, "References")
	if got := msg.ReferencesHeader(); got != "<r1@example.com> <r2@example.com>" {
		t.Errorf("ReferencesHeader() = %q", got)
	}

	if len(msg.From) != 1 || msg.From[0].Email != "alice@example.com" || msg.From[0].Name != "Alice Smith" {
		t.Errorf("From = %+v", msg.From)
	}
	if len(msg.To) != 2 {
		t.Errorf("To = %+v, want 2 addresses", msg.To)
	}
	if len(msg.Cc) != 1 || msg.Cc[0].Email != "dave@example.com" {
		t.Errorf("Cc = %+v", msg.Cc)
	}

	want := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	if !msg.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", msg.Date, want)
	}
}

func TestParseSynced_SHA256IsOfRawBytes(t *testing.T) {
	raw := testemail.NewMessage().Body("same body").Bytes()
	sum := sha256.Sum256(raw)

	msg := mustParse(t, raw)
	if msg.SHA256 != hex.EncodeToString(sum[:]) {
		t.Errorf("SHA256 = %s, want digest of raw", msg.SHA256)
	}

	other := mustParse(t, testemail.NewMessage().Body("other body").Bytes())
	if other.SHA256 == msg.SHA256 {
		t.Error("different messages produced the same digest")
	}
}

func TestParseSynced_NoInboxID(t *testing.T) {
	msg := mustParse(t, testemail.NewMessage().Bytes())
	if msg.InboxUID != "" {
		t.Errorf("InboxUID = %q, want empty", msg.InboxUID)
	}
}

func TestParseSynced_Attachments(t *testing.T) {
	raw := testemail.NewMessage().
		Body("See attached.").
		WithAttachment("report.pdf", "application/pdf", []byte("%PDF-1.4")).
		WithInline("logo.png", "image/png", "logo@x", []byte("png")).
		Bytes()

	msg := mustParse(t, raw)
	if len(msg.Attachments) != 2 {
		t.Fatalf("Attachments = %d, want 2", len(msg.Attachments))
	}

	byName := map[string]Attachment{}
	for _, a := range msg.Attachments {
		byName[a.Filename] = a
	}
	pdf := byName["report.pdf"]
	if pdf.Disposition != "attachment" || pdf.ContentType != "application/pdf" || pdf.Size != len("%PDF-1.4") {
		t.Errorf("report.pdf = %+v", pdf)
	}
	logo := byName["logo.png"]
	if logo.Disposition != "inline" || logo.ContentID != "logo@x" {
		t.Errorf("logo.png = %+v", logo)
	}
	if msg.Snippet != "See attached." {
		t.Errorf("Snippet = %q", msg.Snippet)
	}
}

func TestParseSynced_SnippetTruncated(t *testing.T) {
	body := strings.Repeat("word ", 100)
	msg := mustParse(t, testemail.NewMessage().Body(body).Bytes())
	if n := len([]rune(msg.Snippet)); n != SnippetLength {
		t.Errorf("snippet length = %d, want %d", n, SnippetLength)
	}
}

func TestParseReferences(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"<abc@example.com>", []string{"abc@example.com"}},
		{"<a@x.com> <b@y.com>", []string{"a@x.com", "b@y.com"}},
		{"<a@x.com>\n\t<b@y.com>", []string{"a@x.com", "b@y.com"}},
		{"", nil},
		{"   ", nil},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got := parseReferences(tc.input)
			testemail.AssertStringSliceEqual(t, got, tc.want, "parseReferences("+tc.input+")")
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"RFC1123Z", "Mon, 02 Jan 2006 15:04:05 -0700",
			time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"single digit day", "Mon, 2 Jan 2006 15:04:05 -0700",
			time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"parenthesized zone", "Mon, 02 Jan 2006 15:04:05 -0700 (PST)",
			time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"extra whitespace", "Mon,  02 Jan  2006 15:04:05   -0700",
			time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"sql", "2024-03-01 16:00:00",
			time.Date(2024, 3, 1, 16, 0, 0, 0, time.UTC)},
		{"garbage", "not a date", time.Time{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := parseDate(tc.input)
			if !got.Equal(tc.want) {
				t.Errorf("parseDate(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"tags", "<b>bold</b> text", "bold text"},
		{"blocks", "<p>one</p><p>two</p>", "one\ntwo"},
		{"entities", "a &amp; b", "a & b"},
		{"script", "<script>alert(1)</script>ok", "ok"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripHTML(tc.in); got != tc.want {
				t.Errorf("StripHTML(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
